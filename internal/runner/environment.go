package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/rvtx-labs/rvtx/internal/branding"
	"github.com/rvtx-labs/rvtx/internal/clone"
	"github.com/rvtx-labs/rvtx/internal/host"
)

// File names inside a working directory.
const (
	ManifestFile = "manifest.json"
	journalExt   = ".txt"
	logExt       = ".log"
)

// Environment describes one run. Paths stay valid as metadata after the
// working directory is purged.
type Environment struct {
	ExecutionID      string       `json:"execution_id"`
	Product          host.Product `json:"product"`
	Clone            *clone.Clone `json:"clone"`
	Engine           clone.Engine `json:"engine"`
	Script           string       `json:"script"`
	WorkingDirectory string       `json:"working_directory"`
	JournalFile      string       `json:"journal_file"`
	ManifestFile     string       `json:"manifest_file"`
	LogFile          string       `json:"log_file"`
	ModelPaths       []string     `json:"models"`
	Purged           bool         `json:"purged"`
	LogContents      string       `json:"log,omitempty"`
	LaunchErr        error        `json:"-"`
}

// Runtime context keys, without the branding prefix.
const (
	KeySessionUUID  = "UUID"
	KeyAppVersion   = "APPVERSION"
	KeyVersion      = "VERSION"
	KeyClone        = "CLONE"
	KeyEngine       = "ENGINE"
	KeyLoggingLevel = "LOGGINGLEVEL"
	KeyFileLogging  = "FILELOGGING"
)

// RuntimeContext is the state handed to the in-host bootstrap for one run.
type RuntimeContext struct {
	SessionUUID  string
	AppVersion   string
	Version      string
	Clone        string
	Engine       string
	LoggingLevel int
	FileLogging  bool
}

// Vars renders the context with its documented key names, e.g. RVTX_UUID.
func (rc RuntimeContext) Vars() map[string]string {
	return map[string]string{
		branding.EnvVar(KeySessionUUID):  rc.SessionUUID,
		branding.EnvVar(KeyAppVersion):   rc.AppVersion,
		branding.EnvVar(KeyVersion):      rc.Version,
		branding.EnvVar(KeyClone):        rc.Clone,
		branding.EnvVar(KeyEngine):       rc.Engine,
		branding.EnvVar(KeyLoggingLevel): strconv.Itoa(rc.LoggingLevel),
		branding.EnvVar(KeyFileLogging):  strconv.FormatBool(rc.FileLogging),
	}
}

// Manifest is the run description read by the in-host bootstrap.
type Manifest struct {
	ExecutionID  string            `json:"execution_id"`
	Script       string            `json:"script"`
	Models       []string          `json:"models"`
	HostYear     int               `json:"host_year"`
	Clone        manifestClone     `json:"clone"`
	Engine       manifestEngine    `json:"engine"`
	Purge        bool              `json:"purge"`
	AllowDialogs bool              `json:"allow_dialogs"`
	LogFile      string            `json:"log_file"`
	Runtime      map[string]string `json:"runtime"`
}

type manifestClone struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type manifestEngine struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

func writeManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by a run.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

const defaultJournal = `' {{.Tool}} runner journal
' execution: {{.ExecutionID}}
Dim Jrn
Set Jrn = CrsJournalScript
Jrn.Directive "DebugMode", "PerformAutomaticActionInErrorDialog", {{if .AllowDialogs}}0{{else}}1{{end}}
Jrn.Directive "DebugMode", "PermissiveJournal", 1
Jrn.RibbonEvent "TabActivated:Add-Ins"
Jrn.RibbonEvent "Execute external command:{{.CommandID}}:{{.CommandClass}}"
Jrn.Data "APIStringStringMapJournalData", 1, "ManifestFile", "{{.ManifestFile}}"
Jrn.Command "SystemMenu", "Quit the application; prompts to save projects , ID_APP_EXIT"
`

type journalData struct {
	Tool         string
	ExecutionID  string
	ManifestFile string
	LogFile      string
	AllowDialogs bool
	CommandID    string
	CommandClass string
}

func loadJournalTemplate(path string) (*template.Template, error) {
	if path == "" {
		return template.New("journal").Parse(defaultJournal)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading journal template: %w", err)
	}
	return template.New(filepath.Base(path)).Parse(string(data))
}

func writeJournal(tmpl *template.Template, path string, d journalData) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating journal: %w", err)
	}
	if err := tmpl.Execute(f, d); err != nil {
		f.Close()
		return fmt.Errorf("rendering journal: %w", err)
	}
	return f.Close()
}
