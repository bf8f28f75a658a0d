package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

var (
	attachInstalled bool
	attachAttached  bool
	attachAllUsers  bool
	attachedJSON    bool
	detachAll       bool
)

var attachCmd = &cobra.Command{
	Use:   "attach <clone> <engine> (<year> | --installed | --attached)",
	Short: "Attach a clone and engine to host versions",
	Long: `Attach a clone to one or more host versions.

<engine> is an engine id or version, "latest" for the newest engine, or
"dynamosafe" for the newest engine compatible with Dynamo.

With --installed every installed host version is attached; with --attached
every currently attached version is re-attached. --allusers writes the
machine-wide attachment, which requires elevation.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		years, err := attachYears(ctx, a, args[2:])
		if err != nil {
			return err
		}

		scope := attach.ParseScope(attachAllUsers)
		out := cmd.OutOrStdout()
		if len(years) == 1 {
			res, err := a.attach.Attach(ctx, years[0], args[0], args[1], scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Attached clone %q (engine %s) to %d\n", res.Clone, res.Engine, res.HostYear)
			return nil
		}

		var items []fault.ItemError
		for _, y := range years {
			res, err := a.attach.Attach(ctx, y, args[0], args[1], scope)
			if err != nil {
				items = append(items, fault.ItemError{Item: strconv.Itoa(y), Err: err})
				continue
			}
			fmt.Fprintf(out, "  [ OK ] %d: %s (engine %s)\n", y, res.Clone, res.Engine)
		}
		return reportItems(out, "attach", items)
	},
}

func attachYears(ctx context.Context, a *app, args []string) ([]int, error) {
	switch {
	case len(args) == 1:
		y, err := parseYear(args[0])
		if err != nil {
			return nil, err
		}
		return []int{y}, nil
	case attachInstalled:
		products, err := a.hosts.Installed(ctx)
		if err != nil {
			return nil, err
		}
		if len(products) == 0 {
			return nil, fault.New(fault.NotFound, "no installed host versions")
		}
		years := make([]int, 0, len(products))
		for _, p := range products {
			years = append(years, p.ProductYear)
		}
		return years, nil
	case attachAttached:
		seen := map[int]bool{}
		var years []int
		for _, at := range a.attach.Attached() {
			if !seen[at.HostYear] {
				seen[at.HostYear] = true
				years = append(years, at.HostYear)
			}
		}
		if len(years) == 0 {
			return nil, fault.New(fault.NotFound, "nothing is attached")
		}
		return years, nil
	}
	return nil, fault.New(fault.Validation, "a host year, --installed or --attached is required")
}

var attachedCmd = &cobra.Command{
	Use:   "attached [<year>]",
	Short: "List attachments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			res, err := a.attach.GetAttached(cmd.Context(), year)
			if err != nil {
				return err
			}
			if attachedJSON {
				return printJSON(out, res.Attachment)
			}
			fmt.Fprintf(out, "%d: %s (engine %s %s) [%s]\n", res.HostYear, res.Clone, res.EngineRef.ID, res.EngineRef.Version, res.Scope)
			fmt.Fprintf(out, "Clone path: %s\n", res.CloneRef.Path)
			return nil
		}

		list := a.attach.Attached()
		if attachedJSON {
			return printJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "Nothing is attached.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "YEAR\tCLONE\tENGINE\tSELECTOR\tSCOPE\tSTATUS")
		for _, at := range list {
			status := "ok"
			if res, err := a.attach.GetAttached(cmd.Context(), at.HostYear); err != nil {
				status = "dangling"
			} else if res.Scope != at.Scope {
				status = "shadowed"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", at.HostYear, at.Clone, at.Engine, at.Selector, at.Scope, status)
		}
		return w.Flush()
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch <clone> [<year>]",
	Short: "Point attachments at another clone",
	Long: `Point the attachment of <year>, or of every attached year, at another
clone. A "latest" or "dynamosafe" engine policy is re-applied to the new
clone; an explicit engine must exist in the new clone.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		if len(args) == 2 {
			year, err := parseYear(args[1])
			if err != nil {
				return err
			}
			res, err := a.attach.Switch(ctx, year, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Switched %d to clone %q (engine %s)\n", year, res.Clone, res.Engine)
			return nil
		}

		list := a.attach.Attached()
		if len(list) == 0 {
			return fault.New(fault.NotFound, "nothing is attached")
		}
		var items []fault.ItemError
		done := map[int]bool{}
		for _, at := range list {
			if done[at.HostYear] {
				continue
			}
			done[at.HostYear] = true
			res, err := a.attach.Switch(ctx, at.HostYear, args[0])
			if err != nil {
				items = append(items, fault.ItemError{Item: strconv.Itoa(at.HostYear), Err: err})
				continue
			}
			fmt.Fprintf(out, "  [ OK ] %d: %s (engine %s)\n", at.HostYear, res.Clone, res.Engine)
		}
		return reportItems(out, "switch", items)
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach (<year> | --all)",
	Short: "Remove attachments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		scope := attach.ParseScope(attachAllUsers)
		if detachAll {
			if err := a.attach.DetachAll(cmd.Context(), scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Detached all (%s)\n", scope)
			return nil
		}
		if len(args) != 1 {
			return fault.New(fault.Validation, "a host year or --all is required")
		}
		year, err := parseYear(args[0])
		if err != nil {
			return err
		}
		if err := a.attach.Detach(cmd.Context(), year, scope); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Detached %d (%s)\n", year, scope)
		return nil
	},
}

func init() {
	attachCmd.Flags().BoolVar(&attachInstalled, "installed", false, "Attach every installed host version")
	attachCmd.Flags().BoolVar(&attachAttached, "attached", false, "Re-attach every attached host version")
	attachCmd.Flags().BoolVar(&attachAllUsers, "allusers", false, "Attach for all users (requires elevation)")
	detachCmd.Flags().BoolVar(&attachAllUsers, "allusers", false, "Detach the all-users attachment")
	detachCmd.Flags().BoolVar(&detachAll, "all", false, "Detach every host version")
	attachedCmd.Flags().BoolVar(&attachedJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(attachCmd, attachedCmd, switchCmd, detachCmd)
}
