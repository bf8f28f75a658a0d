package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/fault"
)

// Executable is the host binary inside an install directory.
const Executable = "Revit.exe"

var (
	// ErrNotInstalled is returned when no install matches a year.
	ErrNotInstalled = errors.New("host not installed")

	yearDir = regexp.MustCompile(`(?i)\bRevit (\d{4})\b`)
)

// Inventory inspects installed and running host products.
type Inventory struct {
	InstallRoots []string
	Lister       ProcessLister
	// Terminate ends a process. Defaults to os.Process.Kill.
	Terminate func(pid int) error
}

// NewInventory returns an Inventory over the given install roots using the
// OS process lister.
func NewInventory(installRoots []string) *Inventory {
	return &Inventory{
		InstallRoots: installRoots,
		Lister:       OSProcessLister{},
		Terminate:    killPID,
	}
}

func killPID(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// YearFromPath extracts the product year from a path such as
// "C:\Program Files\Autodesk\Revit 2024\Revit.exe".
func YearFromPath(p string) (int, bool) {
	m := yearDir.FindStringSubmatch(p)
	if m == nil {
		return 0, false
	}
	y, err := strconv.Atoi(m[1])
	return y, err == nil
}

// Installed scans the install roots for "Revit <year>" directories holding
// the host executable. Results are newest first, one per year.
func (inv *Inventory) Installed(ctx context.Context) ([]Product, error) {
	log := ctxlog.FromContext(ctx)
	seen := map[int]bool{}
	var out []Product
	for _, root := range inv.InstallRoots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Debug("install root missing", "root", root)
				continue
			}
			return nil, fmt.Errorf("reading install root %s: %w", root, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			year, ok := YearFromPath(e.Name())
			if !ok || seen[year] {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if _, err := os.Stat(filepath.Join(dir, Executable)); err != nil {
				continue
			}
			seen[year] = true
			out = append(out, productForYear(year, dir))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func productForYear(year int, installPath string) Product {
	p := Product{Name: fmt.Sprintf("Autodesk Revit %d", year), ProductYear: year}
	if known, ok := ByYear(year); ok {
		p = *known
	}
	p.InstallPath = installPath
	return p
}

// InstalledYear returns the install for year.
func (inv *Inventory) InstalledYear(ctx context.Context, year int) (*Product, error) {
	ps, err := inv.Installed(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		if ps[i].ProductYear == year {
			return &ps[i], nil
		}
	}
	return nil, fault.Wrap(fault.NotFound, ErrNotInstalled, "Revit %d", year)
}

// Latest returns the newest installed product.
func (inv *Inventory) Latest(ctx context.Context) (*Product, error) {
	ps, err := inv.Installed(ctx)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, fault.Wrap(fault.NotFound, ErrNotInstalled, "no installs under %v", inv.InstallRoots)
	}
	return &ps[0], nil
}

// RunningHost is a live host process.
type RunningHost struct {
	PID     int     `json:"pid"`
	Path    string  `json:"path"`
	Product Product `json:"product"`
}

func (r RunningHost) String() string {
	return fmt.Sprintf("PID: %d | %s | Path: %s", r.PID, r.Product.Name, r.Path)
}

// Running lists host processes, newest product first.
func (inv *Inventory) Running(ctx context.Context) ([]RunningHost, error) {
	procs, err := inv.Lister.List(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Collaborator, err, "listing processes")
	}
	var out []RunningHost
	for _, p := range procs {
		if !isHostProcess(p) {
			continue
		}
		year, ok := YearFromPath(p.Path)
		if !ok {
			ctxlog.FromContext(ctx).Debug("host process with unknown year", "pid", p.PID, "path", p.Path)
		}
		out = append(out, RunningHost{PID: p.PID, Path: p.Path, Product: productForYear(year, filepath.Dir(p.Path))})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Product.ProductYear != out[j].Product.ProductYear {
			return out[i].Product.ProductYear > out[j].Product.ProductYear
		}
		return out[i].PID < out[j].PID
	})
	return out, nil
}

// Kill terminates running hosts of year, or all of them when year is 0. It
// returns the processes that were killed.
func (inv *Inventory) Kill(ctx context.Context, year int) ([]RunningHost, error) {
	running, err := inv.Running(ctx)
	if err != nil {
		return nil, err
	}
	var (
		killed []RunningHost
		failed []fault.ItemError
	)
	for _, r := range running {
		if year != 0 && r.Product.ProductYear != year {
			continue
		}
		if err := inv.Terminate(r.PID); err != nil {
			failed = append(failed, fault.ItemError{Item: strconv.Itoa(r.PID), Err: err})
			continue
		}
		ctxlog.FromContext(ctx).Info("killed host process", "pid", r.PID, "year", r.Product.ProductYear)
		killed = append(killed, r)
	}
	if len(failed) > 0 {
		return killed, fault.Partial("kill", failed)
	}
	return killed, nil
}
