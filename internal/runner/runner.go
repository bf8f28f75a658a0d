package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/rvtx-labs/rvtx/internal/attach"
	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/ctxlog"
	"github.com/rvtx-labs/rvtx/internal/extension"
	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
	"github.com/rvtx-labs/rvtx/internal/model"
)

var (
	ErrEmptyCommand      = errors.New("command is empty")
	ErrMissingModel      = errors.New("model does not exist")
	ErrUndetectableModel = errors.New("cannot determine the host version of model")
	ErrModelTooNew       = errors.New("model is newer than the requested host")
	ErrNoHostYear        = errors.New("cannot determine a host version for this run")
)

// Attachments resolves the clone bound to a host year.
type Attachments interface {
	GetAttached(ctx context.Context, year int) (*attach.Resolved, error)
}

// Extensions lists the user's installed extensions.
type Extensions interface {
	Installed(ctx context.Context) ([]*extension.Extension, []fault.ItemError)
}

// Installs reports which host products are installed.
type Installs interface {
	Latest(ctx context.Context) (*host.Product, error)
	InstalledYear(ctx context.Context, year int) (*host.Product, error)
}

// Config wires a Runner to its collaborators.
type Config struct {
	Attachments Attachments
	Extensions  Extensions
	Installs    Installs
	Launcher    Launcher
	// RunsDir holds one working directory per execution.
	RunsDir string
	// JournalTemplate is a text/template file; empty uses the built-in one.
	JournalTemplate string
	AppVersion      string
	LoggingLevel    int
	FileLogging     bool
	// Inspect defaults to model.Inspect.
	Inspect func(path string) (*model.File, error)
	// NewID defaults to a random UUID.
	NewID func() string
}

// Runner runs commands in a host instance.
type Runner struct {
	cfg     Config
	journal *template.Template
}

// New returns a Runner over cfg, filling in the default Inspect, NewID and
// Launcher. An unreadable journal template is a validation error.
func New(cfg Config) (*Runner, error) {
	if cfg.Inspect == nil {
		cfg.Inspect = model.Inspect
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ProcessLauncher{}
	}
	tmpl, err := loadJournalTemplate(cfg.JournalTemplate)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "journal template")
	}
	return &Runner{cfg: cfg, journal: tmpl}, nil
}

// Request is one run.
type Request struct {
	// Command is a command bundle name or a path to a script file.
	Command string
	// Target is a model path, or a file listing model paths when
	// TargetIsList is set. Empty runs without models.
	Target       string
	TargetIsList bool
	// HostYear forces the host version; 0 derives it from the models.
	HostYear     int
	ImportPath   string
	Purge        bool
	AllowDialogs bool
}

// Run resolves and executes req. Resolution errors are returned before any
// file is written. When the host fails, the environment is returned along
// with a collaborator error.
func (r *Runner) Run(ctx context.Context, req Request) (*Environment, error) {
	log := ctxlog.FromContext(ctx)
	if strings.TrimSpace(req.Command) == "" {
		return nil, fault.Wrap(fault.Validation, ErrEmptyCommand, "run")
	}
	models, err := modelPaths(req)
	if err != nil {
		return nil, err
	}
	year, err := r.resolveYear(ctx, models, req.HostYear)
	if err != nil {
		return nil, err
	}
	log.Debug("resolved host year", "year", year, "models", len(models))

	att, err := r.cfg.Attachments.GetAttached(ctx, year)
	if err != nil {
		return nil, err
	}
	script, err := r.resolveScript(ctx, att, req.Command)
	if err != nil {
		return nil, err
	}

	product := r.product(ctx, year)
	env, err := r.prepare(req, att, product, script, models)
	if err != nil {
		return nil, err
	}
	log.Info("launching host", "product", product.Name, "execution", env.ExecutionID, "script", script)

	launchErr := r.cfg.Launcher.Launch(ctx, LaunchSpec{
		Product:          product,
		JournalFile:      env.JournalFile,
		ManifestFile:     env.ManifestFile,
		WorkingDirectory: env.WorkingDirectory,
	})
	if data, err := os.ReadFile(env.LogFile); err == nil {
		env.LogContents = string(data)
	}
	if req.Purge {
		if err := os.RemoveAll(env.WorkingDirectory); err != nil {
			log.Warn("could not purge working directory", "dir", env.WorkingDirectory, "err", err)
		} else {
			env.Purged = true
		}
	}
	if launchErr != nil {
		env.LaunchErr = launchErr
		return env, fault.Wrap(fault.Collaborator, launchErr, "running %s", product.Name)
	}
	return env, nil
}

// modelPaths expands the target into model paths and checks each exists.
func modelPaths(req Request) ([]string, error) {
	if req.Target == "" {
		return nil, nil
	}
	paths := []string{req.Target}
	if req.TargetIsList {
		var err error
		if paths, err = readModelList(req.Target); err != nil {
			return nil, err
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return nil, fault.Wrap(fault.Validation, ErrMissingModel, "%s", p)
		}
	}
	return paths, nil
}

func readModelList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "model list")
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fault.Wrap(fault.Validation, err, "reading model list %s", path)
	}
	return paths, nil
}

// resolveYear applies the explicit year after checking every model can be
// opened by it, or picks the newest model year, or the newest installed
// host when no model reports one.
func (r *Runner) resolveYear(ctx context.Context, models []string, explicit int) (int, error) {
	log := ctxlog.FromContext(ctx)
	if explicit != 0 {
		if !host.IsSupportedYear(explicit) {
			return 0, fault.New(fault.Validation, "unsupported host year %d", explicit)
		}
		for _, p := range models {
			f, err := r.cfg.Inspect(p)
			if err != nil {
				return 0, fault.Wrap(fault.Validation, err, "inspecting %s", p)
			}
			y := f.Year()
			if y == 0 {
				return 0, fault.Wrap(fault.Validation, ErrUndetectableModel, "%s", p)
			}
			if y > explicit {
				return 0, fault.Wrap(fault.Validation, ErrModelTooNew, "%s was saved by %d, requested %d", p, y, explicit)
			}
		}
		return explicit, nil
	}

	year := 0
	for _, p := range models {
		f, err := r.cfg.Inspect(p)
		if err != nil {
			log.Debug("skipping model in host detection", "path", p, "err", err)
			continue
		}
		year = max(year, f.Year())
	}
	if year != 0 {
		return year, nil
	}
	latest, err := r.cfg.Installs.Latest(ctx)
	if errors.Is(err, host.ErrNotInstalled) {
		return 0, fault.Wrap(fault.Ambiguous, ErrNoHostYear, "no model version detected and no host installed")
	}
	if err != nil {
		return 0, fault.Wrap(fault.Collaborator, err, "listing installed hosts")
	}
	return latest.ProductYear, nil
}

// product prefers the installed build so the launcher has an install path.
func (r *Runner) product(ctx context.Context, year int) host.Product {
	if p, err := r.cfg.Installs.InstalledYear(ctx, year); err == nil {
		return *p
	}
	if p, ok := host.ByYear(year); ok {
		return *p
	}
	return host.Product{Name: fmt.Sprintf("Autodesk Revit %d", year), ProductYear: year}
}

// resolveScript accepts a script file directly; otherwise the first command
// bundle with that name in the attached clone, then in installed extensions.
func (r *Runner) resolveScript(ctx context.Context, att *attach.Resolved, name string) (string, error) {
	if isScriptFile(name) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", name, err)
		}
		return abs, nil
	}
	for _, src := range r.sources(ctx, att.CloneRef) {
		for _, ext := range src.Extensions {
			cmd, err := ext.Provider().Command(name)
			if err != nil {
				continue
			}
			ctxlog.FromContext(ctx).Debug("resolved command", "name", name, "source", src.Name, "extension", ext.Name)
			return cmd.Script, nil
		}
	}
	return "", fault.Wrap(fault.NotFound, extension.ErrCommandNotFound, "%q", name)
}

func isScriptFile(p string) bool {
	if !strings.EqualFold(filepath.Ext(p), ".py") {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// prepare creates the working directory and writes manifest and journal.
func (r *Runner) prepare(req Request, att *attach.Resolved, product host.Product, script string, models []string) (*Environment, error) {
	id := r.cfg.NewID()
	wd := filepath.Join(r.cfg.RunsDir, id)
	if err := os.MkdirAll(wd, 0755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	env := &Environment{
		ExecutionID:      id,
		Product:          product,
		Clone:            att.CloneRef,
		Engine:           att.EngineRef,
		Script:           script,
		WorkingDirectory: wd,
		JournalFile:      filepath.Join(wd, id+journalExt),
		ManifestFile:     filepath.Join(wd, ManifestFile),
		LogFile:          filepath.Join(wd, id+logExt),
		ModelPaths:       models,
	}
	fail := func(err error) (*Environment, error) {
		_ = os.RemoveAll(wd)
		return nil, err
	}

	if req.ImportPath != "" {
		if err := importInto(req.ImportPath, wd); err != nil {
			return fail(fault.Wrap(fault.Validation, err, "importing %s", req.ImportPath))
		}
	}

	rc := RuntimeContext{
		SessionUUID:  id,
		AppVersion:   product.Version,
		Version:      r.cfg.AppVersion,
		Clone:        att.CloneRef.Name,
		Engine:       att.EngineRef.ID,
		LoggingLevel: r.cfg.LoggingLevel,
		FileLogging:  r.cfg.FileLogging,
	}
	m := &Manifest{
		ExecutionID:  id,
		Script:       script,
		Models:       models,
		HostYear:     product.ProductYear,
		Clone:        manifestClone{Name: att.CloneRef.Name, Path: att.CloneRef.Path},
		Engine:       manifestEngine{ID: att.EngineRef.ID, Kind: att.EngineRef.Kind, Version: att.EngineRef.Version, Path: att.EngineRef.Path},
		Purge:        req.Purge,
		AllowDialogs: req.AllowDialogs,
		LogFile:      env.LogFile,
		Runtime:      rc.Vars(),
	}
	if m.Models == nil {
		m.Models = []string{}
	}
	if err := writeManifest(env.ManifestFile, m); err != nil {
		return fail(err)
	}
	err := writeJournal(r.journal, env.JournalFile, journalData{
		Tool:         branding.CLIName(),
		ExecutionID:  id,
		ManifestFile: env.ManifestFile,
		LogFile:      env.LogFile,
		AllowDialogs: req.AllowDialogs,
		CommandID:    "CustomCtrl_%CustomCtrl_%" + branding.DisplayName() + "%Runner",
		CommandClass: branding.DisplayName() + "Runner.RunnerCommand",
	})
	if err != nil {
		return fail(err)
	}
	return env, nil
}

// importInto copies a file or a directory's contents into wd.
func importInto(src, wd string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, wd)
	}
	return copyFile(src, filepath.Join(wd, filepath.Base(src)))
}
