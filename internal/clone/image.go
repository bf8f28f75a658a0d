package clone

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/rvtx-labs/rvtx/internal/fault"
)

// ImageOptions describe a clone deployed from a local zip image.
type ImageOptions struct {
	Name       string
	Deployment string
	// Dest is the parent directory; the clone lands in Dest/Name.
	Dest      string
	ImagePath string
}

// InstallImage extracts a zip image into Dest/Name and registers it. When a
// deployment is named, only its paths (and the clonefile) are extracted.
// The extraction is atomic: it writes to a .tmp directory first, then
// renames on success.
func (r *Registry) InstallImage(ctx context.Context, opts ImageOptions) (*Clone, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return nil, fault.New(fault.Validation, "clone name is empty")
	}
	if _, err := r.lookup(opts.Name); err == nil {
		return nil, fault.Wrap(fault.Validation, ErrNameTaken, "%q", opts.Name)
	}
	target := filepath.Join(opts.Dest, opts.Name)
	if _, err := os.Stat(target); err == nil {
		return nil, fault.New(fault.Validation, "%s already exists", target)
	}

	tmpDir := target + ".tmp"
	_ = os.RemoveAll(tmpDir)
	if err := extractImage(opts.ImagePath, tmpDir, opts.Deployment); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}
	if err := finishTree(tmpDir, opts.Deployment); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, err
	}
	if err := os.Rename(tmpDir, target); err != nil {
		_ = os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("finalizing image clone: %w", err)
	}
	return r.Register(ctx, target, opts.Name)
}

func extractImage(archivePath, destDir, deployment string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fault.Wrap(fault.Validation, err, "opening image %s", archivePath)
	}
	defer zr.Close()

	prefix := commonRoot(zr.File)

	var allowed []string
	if deployment != "" {
		l, err := layoutFromZip(zr.File, prefix)
		if err != nil {
			return err
		}
		dep, ok := findDeployment(l, deployment)
		if !ok {
			return fault.Wrap(fault.Validation, ErrUnknownDeployment, "%q", deployment)
		}
		allowed = append([]string{LayoutFile}, dep.Paths...)
	}

	for _, f := range zr.File {
		rel := strings.TrimPrefix(f.Name, prefix)
		if rel == "" || !inDeployment(rel, allowed) {
			continue
		}
		dst := filepath.Join(destDir, filepath.FromSlash(rel))
		if !strings.HasPrefix(dst, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fault.New(fault.Validation, "image entry %q escapes the destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", dst, err)
			}
			continue
		}
		if err := extractFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}

// commonRoot returns the single top-level directory shared by every entry
// (as in GitHub source archives), or "".
func commonRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		first, _, found := strings.Cut(f.Name, "/")
		if !found {
			return ""
		}
		if root == "" {
			root = first
		} else if root != first {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}

func layoutFromZip(files []*zip.File, prefix string) (*layout, error) {
	for _, f := range files {
		if f.Name != prefix+LayoutFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", LayoutFile, err)
		}
		defer rc.Close()
		var l layout
		if err := yaml.NewDecoder(rc).Decode(&l); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", LayoutFile, err)
		}
		return &l, nil
	}
	return nil, fault.New(fault.Validation, "image has no %s", LayoutFile)
}

func inDeployment(rel string, allowed []string) bool {
	if allowed == nil {
		return true
	}
	rel = strings.TrimSuffix(rel, "/")
	for _, a := range allowed {
		a = strings.TrimSuffix(path.Clean(filepath.ToSlash(a)), "/")
		if rel == a || strings.HasPrefix(rel, a+"/") || strings.HasPrefix(a, rel+"/") {
			return true
		}
	}
	return false
}
