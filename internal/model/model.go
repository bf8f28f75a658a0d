package model

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/unicode"

	"github.com/rvtx-labs/rvtx/internal/fault"
	"github.com/rvtx-labs/rvtx/internal/host"
)

const (
	basicInfoStream = "BasicFileInfo"
	partAtomStream  = "PartAtom"
)

// ErrNotModel is returned for files that are not compound documents or lack
// build information.
var ErrNotModel = errors.New("not a host document")

// File is the metadata read from one document.
type File struct {
	Path string `json:"path"`
	// Product is nil when the document predates structured build records.
	Product           *host.Product     `json:"product,omitempty"`
	BuildInfoLine     string            `json:"build_info,omitempty"`
	IsWorkshared      bool              `json:"workshared"`
	CentralModelPath  string            `json:"central_model_path,omitempty"`
	LastSavedPath     string            `json:"last_saved_path,omitempty"`
	UniqueID          uuid.UUID         `json:"unique_id"`
	DocumentIncrement int               `json:"document_increment"`
	OpenWorksetConfig int               `json:"open_workset_config"`
	ProjectInfo       map[string]string `json:"project_info,omitempty"`
	IsFamily          bool              `json:"is_family"`
	CategoryName      string            `json:"category,omitempty"`
	HostCategoryName  string            `json:"host_category,omitempty"`
}

// Year returns the product year, or 0 when it is unknown.
func (f *File) Year() int {
	if f.Product == nil {
		return 0
	}
	return f.Product.ProductYear
}

// Inspect reads the metadata of the document at path.
func Inspect(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fault.Wrap(fault.NotFound, err, "model %s", path)
		}
		return nil, fmt.Errorf("opening model %s: %w", path, err)
	}
	defer fh.Close()

	streams, err := readStreams(fh, basicInfoStream, partAtomStream)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, ErrNotModel, "%s: %v", path, err)
	}
	basic, ok := streams[basicInfoStream]
	if !ok {
		return nil, fault.Wrap(fault.Validation, ErrNotModel, "%s: no %s stream", path, basicInfoStream)
	}

	f := &File{Path: path, ProjectInfo: map[string]string{}}
	if err := f.parseBasicInfo(basic); err != nil {
		return nil, fault.Wrap(fault.Validation, err, "%s", path)
	}
	if atom, ok := streams[partAtomStream]; ok {
		if err := f.parsePartAtom(atom); err != nil {
			return nil, fault.Wrap(fault.Validation, err, "%s: part atom", path)
		}
	}
	return f, nil
}

func readStreams(r io.ReaderAt, names ...string) (map[string][]byte, error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	out := map[string][]byte{}
	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return nil, err
		}
		if !want[entry.Name] || len(entry.Path) > 0 {
			continue
		}
		data, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name, err)
		}
		out[entry.Name] = data
	}
	return out, nil
}

var (
	buildRe      = regexp.MustCompile(`^(\d{8}_\d{4})\((x64|x86)\)`)
	legacyYearRe = regexp.MustCompile(`Revit (?:Architecture |Structure |MEP )?(\d{4})`)
)

// decodeBasicInfo turns the UTF-16LE record block into key/value lines.
// The stream starts with binary fields, so NULs and control characters are
// dropped before splitting.
func decodeBasicInfo(data []byte) []string {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	text, err := dec.Bytes(data)
	if err != nil {
		text = data
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\r', r == '\uFFFD':
			return -1
		case r < 0x20:
			return '\n'
		}
		return r
	}, string(text))

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(clean))
	sc.Buffer(make([]byte, 0, 64*1024), len(clean)+1)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// basicInfoKeys are matched longest first so "Revit Build" is not read as
// "Build".
var basicInfoKeys = []string{
	"Unique Document Increments",
	"Unique Document GUID",
	"Open Workset Default",
	"Central Model Path",
	"Last Save Path",
	"Revit Build",
	"Worksharing",
	"Format",
	"Build",
}

func basicInfoFields(lines []string) map[string]string {
	fields := map[string]string{}
	for _, line := range lines {
		for _, key := range basicInfoKeys {
			i := strings.Index(line, key+":")
			if i < 0 {
				continue
			}
			if _, dup := fields[key]; !dup {
				fields[key] = strings.TrimSpace(line[i+len(key)+1:])
			}
			break
		}
	}
	return fields
}

func (f *File) parseBasicInfo(data []byte) error {
	fields := basicInfoFields(decodeBasicInfo(data))

	build, hasBuild := fields["Build"]
	format, hasFormat := fields["Format"]
	legacy, hasLegacy := fields["Revit Build"]
	switch {
	case hasBuild && hasFormat:
		f.BuildInfoLine = "Build: " + build
		f.Product = productFor(build, format)
	case hasLegacy:
		f.BuildInfoLine = "Revit Build: " + legacy
	case hasBuild:
		f.BuildInfoLine = "Build: " + build
	default:
		return fault.Wrap(fault.Validation, ErrNotModel, "no build record")
	}

	if ws, ok := fields["Worksharing"]; ok {
		f.IsWorkshared = !strings.EqualFold(ws, "Not enabled")
	}
	f.CentralModelPath = fields["Central Model Path"]
	f.LastSavedPath = fields["Last Save Path"]
	if id, ok := fields["Unique Document GUID"]; ok {
		if u, err := uuid.Parse(id); err == nil {
			f.UniqueID = u
		}
	}
	f.DocumentIncrement, _ = strconv.Atoi(fields["Unique Document Increments"])
	f.OpenWorksetConfig, _ = strconv.Atoi(fields["Open Workset Default"])
	return nil
}

// productFor maps a build record onto the product catalog, falling back to
// the Format year for builds the catalog does not list.
func productFor(build, format string) *host.Product {
	m := buildRe.FindStringSubmatch(build)
	if m != nil {
		if p, ok := host.LookupBuild(m[1]); ok {
			return p
		}
	}
	year, err := strconv.Atoi(strings.TrimSpace(format))
	if err != nil {
		if ym := legacyYearRe.FindStringSubmatch(format); ym != nil {
			year, _ = strconv.Atoi(ym[1])
		}
	}
	if year == 0 {
		return nil
	}
	p := &host.Product{Name: fmt.Sprintf("Autodesk Revit %d", year), ProductYear: year}
	if m != nil {
		p.BuildNumber, p.BuildTarget = m[1], m[2]
	}
	return p
}
