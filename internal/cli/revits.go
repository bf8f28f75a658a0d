package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/model"
)

var (
	revitsSupported bool
	revitsJSON      bool
	revitsCSV       string
	fileinfoRVT     bool
	fileinfoRTE     bool
	fileinfoRFA     bool
	fileinfoRFT     bool
)

var revitsCmd = &cobra.Command{
	Use:   "revits",
	Short: "List installed host versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if revitsSupported {
			products := host.Supported()
			if revitsJSON {
				return printJSON(out, products)
			}
			return printProducts(out, products)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		products, err := a.hosts.Installed(cmd.Context())
		if err != nil {
			return err
		}
		if revitsJSON {
			return printJSON(out, products)
		}
		if len(products) == 0 {
			fmt.Fprintln(out, "No host versions installed.")
			return nil
		}
		return printProducts(out, products)
	},
}

func printProducts(w io.Writer, products []host.Product) error {
	t := newTable(w)
	fmt.Fprintln(t, "NAME\tVERSION\tBUILD\tPATH")
	for _, p := range products {
		fmt.Fprintf(t, "%s\t%s\t%s(%s)\t%s\n", p.Name, p.Version, p.BuildNumber, p.BuildTarget, orDash(p.InstallPath))
	}
	return t.Flush()
}

var revitsRunningCmd = &cobra.Command{
	Use:   "running",
	Short: "List running host processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		running, err := a.hosts.Running(cmd.Context())
		if err != nil {
			return err
		}
		if revitsJSON {
			return printJSON(cmd.OutOrStdout(), running)
		}
		for _, r := range running {
			fmt.Fprintln(cmd.OutOrStdout(), r.String())
		}
		return nil
	},
}

var revitsKillallCmd = &cobra.Command{
	Use:   "killall [<year>]",
	Short: "Terminate running host processes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		year := 0
		if len(args) == 1 {
			var err error
			if year, err = parseYear(args[0]); err != nil {
				return err
			}
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		killed, err := a.hosts.Kill(cmd.Context(), year)
		for _, r := range killed {
			fmt.Fprintf(cmd.OutOrStdout(), "Killed %s\n", r.String())
		}
		return err
	},
}

var revitsFileinfoCmd = &cobra.Command{
	Use:   "fileinfo <file-or-dir>",
	Short: "Show the metadata of host documents",
	Long: `Read the header of a host document, or of every document under a
directory. Projects (.rvt) are scanned by default; use --rte, --rfa and --rft
to include templates and families. --csv writes the results to a file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kinds []model.Kind
		for _, k := range []struct {
			on   bool
			kind model.Kind
		}{
			{fileinfoRVT, model.Project},
			{fileinfoRTE, model.ProjectTemplate},
			{fileinfoRFA, model.Family},
			{fileinfoRFT, model.FamilyTemplate},
		} {
			if k.on {
				kinds = append(kinds, k.kind)
			}
		}

		files, items, err := model.Scan(args[0], kinds...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if revitsCSV != "" {
			f, err := os.Create(revitsCSV)
			if err != nil {
				return fmt.Errorf("creating %s: %w", revitsCSV, err)
			}
			if err := model.WriteCSV(f, files, items); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %d row(s) to %s\n", len(files)+len(items), revitsCSV)
			return fault.Partial("fileinfo", items)
		}
		if revitsJSON {
			if err := printJSON(out, files); err != nil {
				return err
			}
			return reportItems(cmd.ErrOrStderr(), "fileinfo", items)
		}
		for i, f := range files {
			if i > 0 {
				fmt.Fprintln(out)
			}
			printModel(out, f)
		}
		return reportItems(out, "fileinfo", items)
	},
}

func printModel(w io.Writer, f *model.File) {
	fmt.Fprintf(w, "%s\n", f.Path)
	if f.Product != nil {
		fmt.Fprintf(w, "Created in: %s %s(%s)\n", f.Product.Name, f.Product.BuildNumber, f.Product.BuildTarget)
	} else {
		fmt.Fprintf(w, "Created in: %s\n", f.BuildInfoLine)
	}
	fmt.Fprintf(w, "Workshared: %s\n", yesNo(f.IsWorkshared))
	if f.IsWorkshared {
		fmt.Fprintf(w, "Central Model Path: %s\n", f.CentralModelPath)
	}
	fmt.Fprintf(w, "Last Saved Path: %s\n", f.LastSavedPath)
	fmt.Fprintf(w, "Document Id: %s\n", f.UniqueID)
	fmt.Fprintf(w, "Open Workset Settings: %d\n", f.OpenWorksetConfig)
	fmt.Fprintf(w, "Document Increment: %d\n", f.DocumentIncrement)
	if len(f.ProjectInfo) > 0 {
		fmt.Fprintln(w, "Project Information (Properties):")
		keys := make([]string, 0, len(f.ProjectInfo))
		for k := range f.ProjectInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "    %s = %s\n", k, f.ProjectInfo[k])
		}
	}
	if f.IsFamily {
		fmt.Fprintf(w, "Family Category: %s\n", orDash(f.CategoryName))
		if f.HostCategoryName != "" {
			fmt.Fprintf(w, "Family Host Category: %s\n", f.HostCategoryName)
		}
	}
}

var revitsBuildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List supported host builds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		products := host.Supported()
		out := cmd.OutOrStdout()
		if revitsCSV != "" {
			f, err := os.Create(revitsCSV)
			if err != nil {
				return fmt.Errorf("creating %s: %w", revitsCSV, err)
			}
			if err := model.WriteBuildsCSV(f, products); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %d build(s) to %s\n", len(products), revitsCSV)
			return nil
		}
		if revitsJSON {
			return printJSON(out, products)
		}
		return printProducts(out, products)
	},
}

func init() {
	revitsCmd.Flags().BoolVar(&revitsSupported, "supported", false, "List every supported version instead")
	revitsCmd.PersistentFlags().BoolVar(&revitsJSON, "json", false, "Output in JSON format")
	revitsFileinfoCmd.Flags().StringVar(&revitsCSV, "csv", "", "Write results to a CSV `file`")
	revitsBuildsCmd.Flags().StringVar(&revitsCSV, "csv", "", "Write builds to a CSV `file`")
	revitsFileinfoCmd.Flags().BoolVar(&fileinfoRVT, "rvt", false, "Include projects (default when no kind is given)")
	revitsFileinfoCmd.Flags().BoolVar(&fileinfoRTE, "rte", false, "Include project templates")
	revitsFileinfoCmd.Flags().BoolVar(&fileinfoRFA, "rfa", false, "Include families")
	revitsFileinfoCmd.Flags().BoolVar(&fileinfoRFT, "rft", false, "Include family templates")

	revitsCmd.AddCommand(revitsRunningCmd, revitsKillallCmd, revitsFileinfoCmd, revitsBuildsCmd)
	rootCmd.AddCommand(revitsCmd)
}
