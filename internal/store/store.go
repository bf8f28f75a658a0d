package store

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/rvtx-labs/rvtx/internal/fault"
)

// Mode is the write capability a Store was opened with.
type Mode int

const (
	ReadWrite Mode = iota
	ReadOnly
)

func (m Mode) String() string {
	if m == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

var (
	ErrReadOnly  = errors.New("registry is read-only")
	ErrNotSet    = errors.New("key not set")
	ErrWrongType = errors.New("value has a different type")
)

// Store is a sectioned key/value registry persisted as TOML. Every value is
// a string, a list of strings, or a string map.
type Store struct {
	path     string
	mode     Mode
	sections map[string]map[string]any
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string, mode Mode) (*Store, error) {
	s := &Store{path: path, mode: mode, sections: map[string]map[string]any{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", path, err)
	}
	sections, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	s.sections = sections
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Mode returns the capability the store was opened with.
func (s *Store) Mode() Mode { return s.mode }

// Sections returns the section names in sorted order.
func (s *Store) Sections() []string {
	return slices.Sorted(maps.Keys(s.sections))
}

// Keys returns the keys of a section in sorted order.
func (s *Store) Keys(section string) []string {
	return slices.Sorted(maps.Keys(s.sections[section]))
}

// Has reports whether section/key holds a value.
func (s *Store) Has(section, key string) bool {
	_, ok := s.sections[section][key]
	return ok
}

// String returns a string value.
func (s *Store) String(section, key string) (string, error) {
	v, err := s.lookup(section, key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s.%s: %w", section, key, ErrWrongType)
	}
	return str, nil
}

// List returns a copy of a list value.
func (s *Store) List(section, key string) ([]string, error) {
	v, err := s.lookup(section, key)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", section, key, ErrWrongType)
	}
	return slices.Clone(l), nil
}

// Map returns a copy of a map value.
func (s *Store) Map(section, key string) (map[string]string, error) {
	v, err := s.lookup(section, key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]string)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", section, key, ErrWrongType)
	}
	return maps.Clone(m), nil
}

func (s *Store) lookup(section, key string) (any, error) {
	v, ok := s.sections[section][key]
	if !ok {
		return nil, fault.Wrap(fault.NotFound, ErrNotSet, "%s.%s", section, key)
	}
	return v, nil
}

// SetString stores a string value and saves.
func (s *Store) SetString(section, key, value string) error {
	return s.Update(func(w *Writer) error { w.SetString(section, key, value); return nil })
}

// SetList stores a list value and saves.
func (s *Store) SetList(section, key string, value []string) error {
	return s.Update(func(w *Writer) error { w.SetList(section, key, value); return nil })
}

// SetMap stores a map value and saves.
func (s *Store) SetMap(section, key string, value map[string]string) error {
	return s.Update(func(w *Writer) error { w.SetMap(section, key, value); return nil })
}

// Delete removes section/key and saves. It reports whether the key existed;
// deleting a missing key does not touch the file.
func (s *Store) Delete(section, key string) (bool, error) {
	if !s.Has(section, key) {
		return false, nil
	}
	err := s.Update(func(w *Writer) error { w.Delete(section, key); return nil })
	return err == nil, err
}

// Writer stages changes for Update.
type Writer struct {
	sections map[string]map[string]any
}

func (w *Writer) section(name string) map[string]any {
	sec, ok := w.sections[name]
	if !ok {
		sec = map[string]any{}
		w.sections[name] = sec
	}
	return sec
}

func (w *Writer) SetString(section, key, value string) { w.section(section)[key] = value }

func (w *Writer) SetList(section, key string, value []string) {
	if value == nil {
		value = []string{}
	}
	w.section(section)[key] = slices.Clone(value)
}

func (w *Writer) SetMap(section, key string, value map[string]string) {
	if value == nil {
		value = map[string]string{}
	}
	w.section(section)[key] = maps.Clone(value)
}

func (w *Writer) Delete(section, key string) {
	delete(w.sections[section], key)
}

// Update applies fn to a staged copy and saves it. Nothing changes, in
// memory or on disk, when fn or the save fails.
func (s *Store) Update(fn func(w *Writer) error) error {
	if s.mode == ReadOnly {
		return fault.Wrap(fault.PermissionDenied, ErrReadOnly, "%s", s.path)
	}
	w := &Writer{sections: cloneSections(s.sections)}
	if err := fn(w); err != nil {
		return err
	}
	if err := save(s.path, w.sections); err != nil {
		return err
	}
	s.sections = w.sections
	return nil
}

// Replace swaps the whole content for that of other and saves.
func (s *Store) Replace(other *Store) error {
	return s.Update(func(w *Writer) error {
		w.sections = cloneSections(other.sections)
		return nil
	})
}

// save writes the registry atomically (write temp + rename).
func save(path string, sections map[string]map[string]any) error {
	data, err := toml.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmp := f.Name()
	if err := writeSynced(f, data); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("setting registry file mode: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming registry file: %w", err)
	}
	return nil
}

// writeSynced writes data, flushes it to disk and closes f.
func writeSynced(f *os.File, data []byte) error {
	_, err := f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func decode(data []byte) (map[string]map[string]any, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(raw))
	for name, v := range raw {
		table, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("key %q is outside a section", name)
		}
		sec := make(map[string]any, len(table))
		for key, val := range table {
			typed, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, key, err)
			}
			sec[key] = typed
		}
		out[name] = sec
	}
	return out, nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []any:
		l := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("list item %v is not a string", item)
			}
			l = append(l, str)
		}
		return l, nil
	case map[string]any:
		m := make(map[string]string, len(val))
		for k, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("map entry %q is not a string", k)
			}
			m[k] = str
		}
		return m, nil
	case bool, int64, float64:
		return fmt.Sprint(val), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func cloneSections(src map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(src))
	for name, sec := range src {
		c := make(map[string]any, len(sec))
		for k, v := range sec {
			switch val := v.(type) {
			case []string:
				c[k] = slices.Clone(val)
			case map[string]string:
				c[k] = maps.Clone(val)
			default:
				c[k] = val
			}
		}
		out[name] = c
	}
	return out
}
