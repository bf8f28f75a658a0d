package model

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
)

// Kind is a document file extension.
type Kind string

const (
	Project         Kind = ".rvt"
	ProjectTemplate Kind = ".rte"
	Family          Kind = ".rfa"
	FamilyTemplate  Kind = ".rft"
)

// DefaultKinds is what Scan looks for when no kinds are given.
var DefaultKinds = []Kind{Project}

// Scan inspects every document of the given kinds under root. A root that
// is a file is inspected directly. Files that fail to parse are returned as
// item errors alongside the successes.
func Scan(root string, kinds ...Kind) ([]*File, []fault.ItemError, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fault.Wrap(fault.NotFound, err, "%s", root)
		}
		return nil, nil, err
	}
	if !info.IsDir() {
		f, err := Inspect(root)
		if err != nil {
			return nil, []fault.ItemError{{Item: root, Err: err}}, nil
		}
		return []*File{f}, nil, nil
	}

	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	want := map[string]bool{}
	for _, k := range kinds {
		want[string(k)] = true
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && want[strings.ToLower(filepath.Ext(p))] {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	sort.Strings(paths)

	var (
		files []*File
		errs  []fault.ItemError
	)
	for _, p := range paths {
		f, err := Inspect(p)
		if err != nil {
			errs = append(errs, fault.ItemError{Item: p, Err: err})
			continue
		}
		files = append(files, f)
	}
	return files, errs, nil
}

var modelHeader = []string{
	"filepath", "productname", "buildnumber", "isworkshared",
	"centralmodelpath", "lastsavedpath", "uniqueid", "projectinfo", "error",
}

// WriteCSV writes one row per file and one row per item error. Error rows
// carry only the path and the message.
func WriteCSV(w io.Writer, files []*File, errs []fault.ItemError) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(modelHeader); err != nil {
		return err
	}
	for _, f := range files {
		var name, build string
		if f.Product != nil {
			name, build = f.Product.Name, f.Product.BuildNumber
		}
		info, err := json.Marshal(f.ProjectInfo)
		if err != nil {
			return fmt.Errorf("encoding project info of %s: %w", f.Path, err)
		}
		workshared := "False"
		if f.IsWorkshared {
			workshared = "True"
		}
		row := []string{f.Path, name, build, workshared, f.CentralModelPath, f.LastSavedPath, f.UniqueID.String(), string(info), ""}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	for _, e := range errs {
		row := make([]string, len(modelHeader))
		row[0] = e.Item
		row[len(row)-1] = e.Err.Error()
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteBuildsCSV writes the supported product catalog.
func WriteBuildsCSV(w io.Writer, products []host.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"buildnum", "buildversion", "productname"}); err != nil {
		return err
	}
	for _, p := range products {
		if err := cw.Write([]string{p.BuildNumber, p.Version, p.Name}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
