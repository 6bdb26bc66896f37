package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/qindb/qindb/internal/dberr"
)

// fileDocument is the sidecar file's on-disk shape: a deterministically
// ordered list of table definitions. YAML, not JSON, per spec's call
// for a "stable, readable serialized document" — and it exercises a
// dependency (gopkg.in/yaml.v3) the teacher only pulls in transitively
// and never uses for application data.
type fileDocument struct {
	Tables []TableDef `yaml:"tables"`
}

// FileBackend persists the catalog as a single YAML sidecar file,
// rewritten atomically (temp-then-rename) on every Save. New relative
// to the teacher, which only ever stores catalog metadata inside the
// database file itself.
type FileBackend struct {
	mu   sync.Mutex
	path string
	defs map[string]TableDef // key: lowercased name
}

// CreateFileBackend starts a brand new, empty file-backed catalog at path.
func CreateFileBackend(path string) *FileBackend {
	return &FileBackend{path: path, defs: make(map[string]TableDef)}
}

// OpenFileBackend loads an existing sidecar file at path.
func OpenFileBackend(path string) (*FileBackend, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CreateFileBackend(path), nil
		}
		return nil, dberr.Wrap(dberr.IOError, err, "reading catalog file")
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, dberr.Wrap(dberr.Corruption, err, "parsing catalog file")
	}
	fb := &FileBackend{path: path, defs: make(map[string]TableDef, len(doc.Tables))}
	for _, def := range doc.Tables {
		fb.defs[strings.ToLower(def.Name)] = def
	}
	return fb, nil
}

func (fb *FileBackend) Put(def TableDef) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.defs[strings.ToLower(def.Name)] = def
	return nil
}

func (fb *FileBackend) Get(name string) (TableDef, bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	def, ok := fb.defs[strings.ToLower(name)]
	return def, ok, nil
}

func (fb *FileBackend) Delete(name string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	delete(fb.defs, strings.ToLower(name))
	return nil
}

func (fb *FileBackend) List() ([]string, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	names := make([]string, 0, len(fb.defs))
	for _, def := range fb.defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Save rewrites the sidecar file atomically: write to a temp file in
// the same directory, fsync it, then rename over the original. A crash
// mid-write leaves the previous version intact, per spec's "half-saved
// catalog must either fail cleanly on reload or produce the previous
// version" requirement.
func (fb *FileBackend) Save() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	names := make([]string, 0, len(fb.defs))
	for k := range fb.defs {
		names = append(names, k)
	}
	sort.Strings(names)
	doc := fileDocument{Tables: make([]TableDef, 0, len(names))}
	for _, k := range names {
		doc.Tables = append(doc.Tables, fb.defs[k])
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return dberr.Wrap(dberr.IOError, err, "encoding catalog file")
	}

	dir := filepath.Dir(fb.path)
	tmp, err := os.CreateTemp(dir, ".catalog-*.yaml.tmp")
	if err != nil {
		return dberr.Wrap(dberr.IOError, err, "creating temp catalog file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.IOError, err, "writing temp catalog file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.IOError, err, "syncing temp catalog file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.IOError, err, "closing temp catalog file")
	}
	if err := os.Rename(tmpPath, fb.path); err != nil {
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.IOError, err, "renaming catalog file into place")
	}
	return nil
}
