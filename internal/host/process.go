package host

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Process is one entry from the OS process table.
type Process struct {
	PID  int
	Name string
	Path string
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	List(ctx context.Context) ([]Process, error)
}

// OSProcessLister shells out to the platform's process tools.
type OSProcessLister struct{}

// List returns host-named processes on Windows (via PowerShell CSV output)
// and every process elsewhere (via ps).
func (OSProcessLister) List(ctx context.Context) ([]Process, error) {
	if runtime.GOOS == "windows" {
		out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command",
			"Get-Process -Name Revit -ErrorAction SilentlyContinue | Select-Object Id,ProcessName,Path | ConvertTo-Csv -NoTypeInformation").Output()
		if err != nil {
			return nil, fmt.Errorf("powershell Get-Process: %w", err)
		}
		return parseProcessCSV(out)
	}
	out, err := exec.CommandContext(ctx, "ps", "-eo", "pid=,args=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}
	return parsePS(out), nil
}

// parseProcessCSV reads "Id","ProcessName","Path" rows with a header.
func parseProcessCSV(data []byte) ([]Process, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing process list: %w", err)
	}
	var out []Process
	for i, row := range rows {
		if i == 0 || len(row) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		out = append(out, Process{PID: pid, Name: row[1], Path: row[2]})
	}
	return out, nil
}

// parsePS reads "<pid> <args>" lines.
func parsePS(data []byte) []Process {
	var out []Process
	for _, line := range strings.Split(string(data), "\n") {
		pidStr, args, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		args = strings.TrimSpace(args)
		out = append(out, Process{PID: pid, Name: processName(args), Path: executablePath(args)})
	}
	return out
}

// executablePath trims arguments after the executable; paths may contain
// spaces so it cuts at the first ".exe".
func executablePath(args string) string {
	if i := strings.Index(strings.ToLower(args), ".exe"); i >= 0 {
		return args[:i+len(".exe")]
	}
	first, _, _ := strings.Cut(args, " ")
	return first
}

func processName(args string) string {
	base := filepath.Base(strings.ReplaceAll(executablePath(args), `\`, "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isHostProcess(p Process) bool {
	if strings.EqualFold(p.Name, "Revit") {
		return true
	}
	base := filepath.Base(strings.ReplaceAll(p.Path, `\`, "/"))
	return strings.EqualFold(base, Executable)
}
