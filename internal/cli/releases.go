package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/releases"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

var (
	releasesPre   bool
	releasesNotes bool
	releasesJSON  bool
)

var releasesCmd = &cobra.Command{
	Use:   "releases [latest | <pattern>]",
	Short: "List published framework releases",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cacheDir, err := userdata.GetCacheRoot()
		if err != nil {
			return err
		}
		client := releases.New(releases.WithCache(cacheDir, releases.DefaultCacheMaxAge))
		ctx := cmd.Context()

		var list []releases.Release
		switch {
		case len(args) == 1 && strings.EqualFold(args[0], "latest"):
			r, err := client.Latest(ctx, releasesPre)
			if err != nil {
				return err
			}
			list = []releases.Release{*r}
		case len(args) == 1:
			if list, err = client.Find(ctx, args[0], releasesPre); err != nil {
				return err
			}
		default:
			if list, err = client.Find(ctx, "", releasesPre); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if releasesJSON {
			return printJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, "No matching releases.")
			return nil
		}
		for _, r := range list {
			label := r.Tag
			if r.IsPrerelease() {
				label += " (prerelease)"
			}
			fmt.Fprintf(out, "%s | %s | %s\n", label, r.Published.Format("2006-01-02"), r.HTMLURL)
			if releasesNotes && strings.TrimSpace(r.Notes) != "" {
				for _, line := range strings.Split(strings.TrimSpace(r.Notes), "\n") {
					fmt.Fprintf(out, "    %s\n", strings.TrimRight(line, "\r"))
				}
			}
		}
		return nil
	},
}

func init() {
	releasesCmd.Flags().BoolVar(&releasesPre, "pre", false, "Include prereleases")
	releasesCmd.Flags().BoolVar(&releasesNotes, "notes", false, "Print release notes")
	releasesCmd.Flags().BoolVar(&releasesJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(releasesCmd)
}
