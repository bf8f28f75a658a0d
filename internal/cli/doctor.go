package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/config"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

var doctorFix bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Create missing directories")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Health check for the " + branding.DisplayName() + " installation",
	Long: `Run diagnostic checks on the user data directory, registered clones,
attachments, installed extensions and host versions.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		gitBinary := config.Get(config.KeyGitBinary)
		if err := userdata.CheckUserdata(out, gitBinary, doctorFix); err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			fmt.Fprintf(out, "[FAIL] Could not open registries: %v\n", err)
			return err
		}
		ctx := cmd.Context()
		checkHosts(ctx, out, a)
		checkClones(out, a)
		checkAttachments(ctx, out, a)
		checkExtensions(ctx, out, a)
		return nil
	},
}

func checkHosts(ctx context.Context, w io.Writer, a *app) {
	fmt.Fprintln(w, "Host check:")
	products, err := a.hosts.Installed(ctx)
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %v\n", err)
		return
	}
	if len(products) == 0 {
		fmt.Fprintf(w, "  [MISS] no host versions under %v\n", a.hosts.InstallRoots)
		return
	}
	for _, p := range products {
		fmt.Fprintf(w, "  [ OK ] %s at %s\n", p.Name, p.InstallPath)
	}
}

func checkClones(w io.Writer, a *app) {
	fmt.Fprintln(w, "Clones check:")
	list := a.clones.List()
	if len(list) == 0 {
		fmt.Fprintln(w, "  [SKIP] no clones registered")
		return
	}
	for _, c := range list {
		if !clone.IsLayout(c.Path) {
			fmt.Fprintf(w, "  [FAIL] %s: %s is not a valid clone\n", c.Name, c.Path)
			continue
		}
		fmt.Fprintf(w, "  [ OK ] %s: %s\n", c.Name, c.Path)
	}
}

func checkAttachments(ctx context.Context, w io.Writer, a *app) {
	fmt.Fprintln(w, "Attachments check:")
	list := a.attach.Attached()
	if len(list) == 0 {
		fmt.Fprintln(w, "  [SKIP] nothing is attached")
		return
	}
	for _, at := range list {
		res, err := a.attach.GetAttached(ctx, at.HostYear)
		switch {
		case err != nil:
			fmt.Fprintf(w, "  [FAIL] %d: %v\n", at.HostYear, err)
		case res.Scope != at.Scope:
			fmt.Fprintf(w, "  [WARN] %d (%s) is shadowed by the %s attachment\n", at.HostYear, at.Scope, res.Scope)
		default:
			fmt.Fprintf(w, "  [ OK ] %d: %s (engine %s)\n", at.HostYear, res.Clone, res.EngineRef.ID)
		}
	}
}

func checkExtensions(ctx context.Context, w io.Writer, a *app) {
	fmt.Fprintln(w, "Extensions check:")
	exts, items := a.extensions.Installed(ctx)
	for _, e := range exts {
		fmt.Fprintf(w, "  [ OK ] %s (%s)\n", e.Name, e.Type)
	}
	for _, it := range items {
		fmt.Fprintf(w, "  [WARN] %s\n", it.Error())
	}
	if len(exts) == 0 && len(items) == 0 {
		fmt.Fprintln(w, "  [SKIP] no extensions installed")
	}
}
