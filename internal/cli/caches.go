package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/releases"
	"github.com/rvtx-labs/rvtx/internal/userdata"
)

var (
	cachesAll      bool
	cachesCatalogs bool
)

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Manage local caches",
}

var cachesClearCmd = &cobra.Command{
	Use:   "clear (<year> | --all | --catalogs)",
	Short: "Clear per host-version caches or downloaded catalogs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !cachesAll && !cachesCatalogs && len(args) == 0 {
			return fault.New(fault.Validation, "a host year, --all or --catalogs is required")
		}
		if cachesCatalogs {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.catalogs.ClearCache(); err != nil {
				return err
			}
			cacheRoot, err := userdata.GetCacheRoot()
			if err != nil {
				return err
			}
			if err := releases.ClearCache(cacheRoot); err != nil {
				return err
			}
			fmt.Fprintln(out, "Cleared catalog and release caches")
		}
		if cachesAll {
			years, err := userdata.ClearAllHostCaches()
			if err != nil {
				return err
			}
			for _, y := range years {
				fmt.Fprintf(out, "Cleared cache for %d\n", y)
			}
			return nil
		}
		if len(args) == 1 {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			if err := userdata.ClearHostCache(year); err != nil {
				return err
			}
			fmt.Fprintf(out, "Cleared cache for %d\n", year)
		}
		return nil
	},
}

func init() {
	cachesClearCmd.Flags().BoolVar(&cachesAll, "all", false, "Clear every host-version cache")
	cachesClearCmd.Flags().BoolVar(&cachesCatalogs, "catalogs", false, "Clear downloaded catalogs and release listings")
	cachesCmd.AddCommand(cachesClearCmd)
	rootCmd.AddCommand(cachesCmd)
}
