package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// reportItems prints per-item failures and folds them into one error.
func reportItems(w io.Writer, op string, items []fault.ItemError) error {
	for _, it := range items {
		fmt.Fprintf(w, "  [FAIL] %s\n", it.Error())
	}
	return fault.Partial(op, items)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// parseYear validates a host year argument.
func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || !host.IsSupportedYear(year) {
		return 0, fault.New(fault.Validation, "%q is not a supported host year", s)
	}
	return year, nil
}
