package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/watzon/targethook/internal/targeting"
)

var (
	targetsOwner  string
	targetsSlot   string
	targetsLimit  int
	targetsIndex  int
	targetsFormat string
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Inspect and edit captured selections",
	Long: `Inspect and edit captured selections.

Captured lists belong to (owner, slot) and outlive the hook that filled them.

Commands:
  list    List captured selections
  count   Count selections in one slot
  get     Show the selection at an index (0-based)
  delete  Remove one selection by id
  clear   Remove every selection in one slot`,
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured selections",
	Args:  cobra.NoArgs,
	RunE:  runTargetsList,
}

var targetsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count captured selections in a slot",
	Args:  cobra.NoArgs,
	RunE:  runTargetsCount,
}

var targetsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the selection at --index",
	Long: `Show the selection at --index in capture order.

Out of range indexes print an empty selection rather than failing.`,
	Args: cobra.NoArgs,
	RunE: runTargetsGet,
}

var targetsDeleteCmd = &cobra.Command{
	Use:   "delete <target-id>",
	Short: "Remove one captured selection",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetsDelete,
}

var targetsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every captured selection in a slot",
	Args:  cobra.NoArgs,
	RunE:  runTargetsClear,
}

func init() {
	targetsListCmd.Flags().StringVar(&targetsOwner, "owner", "", "owner reference (UUID)")
	targetsListCmd.Flags().StringVar(&targetsSlot, "slot", "", "slot glob pattern")
	targetsListCmd.Flags().IntVar(&targetsLimit, "limit", 0, "maximum rows (0 for all)")

	for _, c := range []*cobra.Command{targetsCountCmd, targetsGetCmd, targetsClearCmd} {
		c.Flags().StringVar(&targetsOwner, "owner", "", "owner reference (UUID)")
		c.Flags().StringVar(&targetsSlot, "slot", "", "slot name")
		_ = c.MarkFlagRequired("owner")
		_ = c.MarkFlagRequired("slot")
	}
	targetsGetCmd.Flags().IntVar(&targetsIndex, "index", 0, "0-based position in capture order")

	for _, c := range []*cobra.Command{targetsListCmd, targetsGetCmd} {
		c.Flags().StringVarP(&targetsFormat, "format", "f", formatTable, "output format (table, json, yaml)")
	}

	targetsCmd.AddCommand(targetsListCmd)
	targetsCmd.AddCommand(targetsCountCmd)
	targetsCmd.AddCommand(targetsGetCmd)
	targetsCmd.AddCommand(targetsDeleteCmd)
	targetsCmd.AddCommand(targetsClearCmd)

	rootCmd.AddCommand(targetsCmd)
}

func runTargetsList(cmd *cobra.Command, args []string) error {
	owner, err := parseOwnerFlag(targetsOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	targets, err := store.ListTargets(cmd.Context(), targeting.TargetFilter{
		Owner:       owner,
		SlotPattern: targetsSlot,
		Limit:       targetsLimit,
	})
	if err != nil {
		return fmt.Errorf("listing targets: %w", err)
	}

	if len(targets) == 0 && targetsFormat == formatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No captured selections found.")
		return nil
	}

	if targets == nil {
		targets = []targeting.Target{}
	}
	return render(cmd.OutOrStdout(), targetsFormat, targets, targetsTable(targets))
}

func runTargetsCount(cmd *cobra.Command, args []string) error {
	owner, err := targeting.ParseOwnerID(targetsOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := store.CountTargets(cmd.Context(), owner, targetsSlot)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func runTargetsGet(cmd *cobra.Command, args []string) error {
	owner, err := targeting.ParseOwnerID(targetsOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := store.TargetAt(cmd.Context(), owner, targetsSlot, targetsIndex)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), targetsFormat, t, func(w io.Writer) error {
		fmt.Fprintf(w, "Entity:\t%s\n", orDash(string(t.Entity)))
		fmt.Fprintf(w, "Region:\t%s\n", orDash(string(t.Region)))
		fmt.Fprintf(w, "Position:\t%s\n", t.Position)
		return nil
	})
}

func runTargetsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	removed, err := store.DeleteTarget(cmd.Context(), id)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("target %d not found", id)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Target %d removed.\n", id)
	return nil
}

func runTargetsClear(cmd *cobra.Command, args []string) error {
	owner, err := targeting.ParseOwnerID(targetsOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := store.ClearTargets(cmd.Context(), owner, targetsSlot)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d selection(s) from %s.\n", n, targetsSlot)
	return nil
}
