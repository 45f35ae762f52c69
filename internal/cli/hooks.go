package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/watzon/targethook/internal/targeting"
)

var (
	hooksOwner  string
	hooksSlot   string
	hooksFormat string
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect and delete targeting hooks",
	Long: `Inspect and delete targeting hooks.

Commands:
  list    List hooks, optionally filtered by owner and slot pattern
  show    Show one hook
  delete  Delete a hook and dispatch its callback`,
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hooks",
	Long: `List stored hooks ordered by id.

Examples:
  targethook hooks list
  targethook hooks list --owner 6f1c... --slot 'loot*'
  targethook hooks list --format json`,
	Args: cobra.NoArgs,
	RunE: runHooksList,
}

var hooksShowCmd = &cobra.Command{
	Use:   "show <hook-id>",
	Short: "Show a hook",
	Args:  cobra.ExactArgs(1),
	RunE:  runHooksShow,
}

var hooksDeleteCmd = &cobra.Command{
	Use:   "delete [hook-id]",
	Short: "Delete a hook",
	Long: `Delete a hook by id, or by --owner and --slot.

The owner's capture mode is cleared if it points at the hook. Captured
targets are kept. The hook's callback is dispatched; outside a game server
that only logs the callback name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHooksDelete,
}

func init() {
	for _, c := range []*cobra.Command{hooksListCmd, hooksDeleteCmd} {
		c.Flags().StringVar(&hooksOwner, "owner", "", "owner reference (UUID)")
		c.Flags().StringVar(&hooksSlot, "slot", "", "slot name (glob pattern for list)")
	}
	for _, c := range []*cobra.Command{hooksListCmd, hooksShowCmd} {
		c.Flags().StringVarP(&hooksFormat, "format", "f", formatTable, "output format (table, json, yaml)")
	}

	hooksCmd.AddCommand(hooksListCmd)
	hooksCmd.AddCommand(hooksShowCmd)
	hooksCmd.AddCommand(hooksDeleteCmd)

	rootCmd.AddCommand(hooksCmd)
}

func runHooksList(cmd *cobra.Command, args []string) error {
	owner, err := parseOwnerFlag(hooksOwner)
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	hooks, err := store.ListHooks(cmd.Context(), targeting.HookFilter{
		Owner:       owner,
		SlotPattern: hooksSlot,
	})
	if err != nil {
		return fmt.Errorf("listing hooks: %w", err)
	}

	if len(hooks) == 0 && hooksFormat == formatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No hooks found.")
		return nil
	}

	if hooks == nil {
		hooks = []*targeting.Hook{}
	}
	return render(cmd.OutOrStdout(), hooksFormat, hooks, hooksTable(hooks))
}

func runHooksShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	hook, err := store.GetHook(cmd.Context(), id)
	if err != nil {
		return err
	}
	if hook == nil {
		return fmt.Errorf("hook %d not found", id)
	}

	mode, err := store.GetMode(cmd.Context(), hook.Owner)
	if err != nil {
		return err
	}
	count, err := store.CountTargets(cmd.Context(), hook.Owner, hook.Slot)
	if err != nil {
		return err
	}

	view := struct {
		targeting.Hook `yaml:",inline"`
		Armed          string `json:"armed,omitempty" yaml:"armed,omitempty"`
		Targets        int    `json:"targets" yaml:"targets"`
	}{Hook: *hook, Targets: count}
	if mode != nil && mode.HookID == hook.ID {
		view.Armed = string(mode.Behavior)
	}

	return render(cmd.OutOrStdout(), hooksFormat, view, func(w io.Writer) error {
		fmt.Fprintf(w, "ID:\t%d\n", hook.ID)
		fmt.Fprintf(w, "Owner:\t%s\n", hook.Owner)
		fmt.Fprintf(w, "Slot:\t%s\n", hook.Slot)
		fmt.Fprintf(w, "Filter:\t%s\n", hook.Filter)
		fmt.Fprintf(w, "Uses:\t%s\n", formatUses(hook.Uses))
		fmt.Fprintf(w, "Callback:\t%s\n", orDash(hook.Callback))
		fmt.Fprintf(w, "Armed:\t%s\n", orDash(view.Armed))
		fmt.Fprintf(w, "Targets:\t%d\n", count)
		fmt.Fprintf(w, "Created:\t%s\n", hook.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Updated:\t%s\n", hook.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runHooksDelete(cmd *cobra.Command, args []string) error {
	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := adminEngine(store)
	if err != nil {
		return err
	}

	hook, err := findHook(cmd.Context(), store, args)
	if err != nil {
		return err
	}

	if err := engine.DeleteHook(cmd.Context(), hook.ID); err != nil {
		return fmt.Errorf("deleting hook: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Hook %d (%s) deleted.\n", hook.ID, hook.Slot)
	return nil
}

func findHook(ctx context.Context, store *targeting.Store, args []string) (*targeting.Hook, error) {
	var (
		hook *targeting.Hook
		err  error
	)

	switch {
	case len(args) == 1:
		id, perr := parseID(args[0])
		if perr != nil {
			return nil, perr
		}
		hook, err = store.GetHook(ctx, id)
	case hooksOwner != "" && hooksSlot != "":
		owner, perr := parseOwnerFlag(hooksOwner)
		if perr != nil {
			return nil, perr
		}
		hook, err = store.GetHookBySlot(ctx, owner, hooksSlot)
	default:
		return nil, fmt.Errorf("specify a hook id or both --owner and --slot")
	}

	if err != nil {
		return nil, err
	}
	if hook == nil {
		return nil, fmt.Errorf("hook not found")
	}
	return hook, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
