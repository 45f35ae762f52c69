package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/watzon/targethook/internal/targeting"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v as JSON or YAML, or calls table for the default format.
func render(w io.Writer, format string, v any, table func(w io.Writer) error) error {
	switch strings.ToLower(format) {
	case "", formatTable:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		if err := table(tw); err != nil {
			return err
		}
		return tw.Flush()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}
}

func hooksTable(hooks []*targeting.Hook) func(io.Writer) error {
	return func(w io.Writer) error {
		fmt.Fprintln(w, "ID\tOWNER\tSLOT\tFILTER\tUSES\tCALLBACK\tUPDATED")
		for _, h := range hooks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				h.ID,
				h.Owner,
				h.Slot,
				h.Filter,
				formatUses(h.Uses),
				orDash(h.Callback),
				h.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	}
}

func targetsTable(targets []targeting.Target) func(io.Writer) error {
	return func(w io.Writer) error {
		fmt.Fprintln(w, "ID\tOWNER\tSLOT\tENTITY\tREGION\tPOSITION\tCAPTURED")
		for _, t := range targets {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID,
				t.Owner,
				t.Slot,
				orDash(string(t.Entity)),
				orDash(string(t.Region)),
				t.Position,
				t.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return nil
	}
}

func formatUses(uses int) string {
	if uses == targeting.UsesUnlimited {
		return "unlimited"
	}
	return fmt.Sprint(uses)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// parseOwnerFlag parses an optional --owner value.
func parseOwnerFlag(s string) (targeting.OwnerID, error) {
	if s == "" {
		return "", nil
	}
	return targeting.ParseOwnerID(s)
}
