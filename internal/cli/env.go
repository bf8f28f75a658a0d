package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/platform"
	"github.com/rvtx-labs/rvtx/internal/store"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

var envJSON bool

func init() {
	envCmd.Flags().BoolVar(&envJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(envCmd)
}

type envReport struct {
	Version          string                 `json:"version"`
	Home             string                 `json:"home"`
	Registry         string                 `json:"registry"`
	AllUsersRegistry string                 `json:"allusers_registry"`
	ReadOnly         bool                   `json:"read_only"`
	Elevated         bool                   `json:"elevated"`
	Clones           []*clone.Clone         `json:"clones"`
	Attachments      []attach.Attachment    `json:"attachments"`
	Extensions       []*extension.Extension `json:"extensions"`
	SearchPaths      []string               `json:"search_paths"`
	Sources          []string               `json:"sources"`
	Installed        []host.Product         `json:"installed"`
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the " + branding.DisplayName() + " environment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		home, err := userdata.GetRoot()
		if err != nil {
			return err
		}
		exts, _ := a.extensions.Installed(cmd.Context())
		installed, err := a.hosts.Installed(cmd.Context())
		if err != nil {
			return err
		}
		rep := envReport{
			Version:          buildVersion,
			Home:             home,
			Registry:         a.user.Path(),
			AllUsersRegistry: a.machine.Path(),
			ReadOnly:         a.user.Mode() == store.ReadOnly,
			Elevated:         platform.IsElevated(),
			Clones:           a.clones.List(),
			Attachments:      a.attach.Attached(),
			Extensions:       exts,
			SearchPaths:      a.extensions.SearchPaths(),
			Sources:          a.extensions.Sources(),
			Installed:        installed,
		}

		out := cmd.OutOrStdout()
		if envJSON {
			return printJSON(out, rep)
		}
		fmt.Fprintf(out, "==> %s %s\n", branding.DisplayName(), orDash(rep.Version))
		fmt.Fprintf(out, "Home: %s\n", rep.Home)
		fmt.Fprintf(out, "Registry: %s (%s)\n", rep.Registry, a.user.Mode())
		fmt.Fprintf(out, "All-users Registry: %s\n", rep.AllUsersRegistry)
		fmt.Fprintf(out, "Elevated: %s\n", yesNo(rep.Elevated))

		fmt.Fprintln(out, "==> Registered Clones")
		for _, c := range rep.Clones {
			fmt.Fprintf(out, "%s | %s\n", c.Name, c.Path)
		}
		fmt.Fprintln(out, "==> Attachments")
		for _, at := range rep.Attachments {
			fmt.Fprintf(out, "%d | %s | engine %s | %s\n", at.HostYear, at.Clone, at.Engine, at.Scope)
		}
		fmt.Fprintln(out, "==> Installed Extensions")
		for _, e := range rep.Extensions {
			fmt.Fprintf(out, "%s | %s | %s\n", e.Name, e.Type, e.Path)
		}
		fmt.Fprintln(out, "==> Extension Search Paths")
		for _, p := range rep.SearchPaths {
			fmt.Fprintln(out, p)
		}
		fmt.Fprintln(out, "==> Extension Sources")
		for _, s := range rep.Sources {
			fmt.Fprintln(out, s)
		}
		fmt.Fprintln(out, "==> Installed Hosts")
		for _, p := range rep.Installed {
			fmt.Fprintf(out, "%s | %s | %s\n", p.Name, p.Version, p.InstallPath)
		}
		return nil
	},
}
