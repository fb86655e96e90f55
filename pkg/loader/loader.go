// Package loader reads FHIR Connect mapping documents and web templates
// from a directory, an fs.FS or a gzipped tar archive into an in-memory
// store.
//
// Files are classified by name first: *.context.yml, *.model.yml and
// *.wt.json. Other .yml/.yaml files are sniffed for their kind, other .json
// files are taken as web templates when they carry a templateId.
package loader

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/buger/jsonparser"

	openfhir "github.com/vitagroupag/openFHIR-sub001"
	"github.com/vitagroupag/openFHIR-sub001/mapping"
	"github.com/vitagroupag/openFHIR-sub001/pkg/logger"
)

// Store holds parsed mapping documents and raw web templates. It implements
// service.MappingStore and service.TemplateStore.
type Store struct {
	mu        sync.RWMutex
	contexts  []*mapping.Context
	models    []*mapping.Model
	templates map[string][]byte // normalized template id -> web template JSON
}

// Stats counts what a load added.
type Stats struct {
	Contexts  int
	Models    int
	Templates int
	Skipped   int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{templates: make(map[string][]byte)}
}

// LoadDir loads every file below dir.
func LoadDir(dir string) (*Store, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", openfhir.ErrMappingLoad, err)
	}
	s := NewStore()
	if _, err := s.LoadFS(os.DirFS(dir)); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFS adds every file of fsys to s.
func (s *Store) LoadFS(fsys fs.FS) (Stats, error) {
	var st Stats
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		return s.add(p, data, &st)
	})
	if err != nil {
		return st, fmt.Errorf("%w: %v", openfhir.ErrMappingLoad, err)
	}
	return st, nil
}

// LoadTgz adds the files of a gzipped tar archive. A leading "package/"
// directory is ignored.
func (s *Store) LoadTgz(r io.Reader) (Stats, error) {
	var st Stats
	gz, err := gzip.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("%w: %v", openfhir.ErrMappingLoad, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("%w: read tar entry: %v", openfhir.ErrMappingLoad, err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return st, fmt.Errorf("%w: read %s: %v", openfhir.ErrMappingLoad, header.Name, err)
		}
		if err := s.add(strings.TrimPrefix(header.Name, "package/"), data, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *Store) add(name string, data []byte, st *Stats) error {
	base := path.Base(name)
	switch {
	case strings.HasSuffix(base, ".context.yml"), strings.HasSuffix(base, ".context.yaml"):
		return s.addContext(name, data, st)
	case strings.HasSuffix(base, ".model.yml"), strings.HasSuffix(base, ".model.yaml"):
		return s.addModel(name, data, st)
	case strings.HasSuffix(base, ".yml"), strings.HasSuffix(base, ".yaml"):
		kind, err := mapping.Sniff(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", openfhir.ErrMappingLoad, name, err)
		}
		switch kind {
		case mapping.KindContext:
			return s.addContext(name, data, st)
		case mapping.KindModel:
			return s.addModel(name, data, st)
		}
	case strings.HasSuffix(base, ".json"):
		if id, err := jsonparser.GetString(data, "templateId"); err == nil && id != "" {
			s.AddTemplate(id, data)
			st.Templates++
			return nil
		}
	}
	logger.Debug("loader: skipping %s", name)
	st.Skipped++
	return nil
}

func (s *Store) addContext(name string, data []byte, st *Stats) error {
	c, err := mapping.ParseContext(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", openfhir.ErrMappingLoad, name, err)
	}
	s.AddContext(c)
	st.Contexts++
	return nil
}

func (s *Store) addModel(name string, data []byte, st *Stats) error {
	m, err := mapping.ParseModel(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", openfhir.ErrMappingLoad, name, err)
	}
	s.AddModel(m)
	st.Models++
	return nil
}

// AddContext adds a parsed context mapping. A context for the same template
// replaces the earlier one.
func (s *Store) AddContext(c *mapping.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := openfhir.NormalizeTemplateID(c.TemplateID())
	for i, old := range s.contexts {
		if openfhir.NormalizeTemplateID(old.TemplateID()) == id {
			s.contexts[i] = c
			return
		}
	}
	s.contexts = append(s.contexts, c)
}

// AddModel adds a parsed model mapping.
func (s *Store) AddModel(m *mapping.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, m)
}

// AddTemplate adds a raw web template under templateID.
func (s *Store) AddTemplate(templateID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[openfhir.NormalizeTemplateID(templateID)] = data
}

// Context returns the context mapping of templateID.
func (s *Store) Context(_ context.Context, templateID string) (*mapping.Context, error) {
	id := openfhir.NormalizeTemplateID(templateID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contexts {
		if openfhir.NormalizeTemplateID(c.TemplateID()) == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w for template %q", openfhir.ErrNoContext, templateID)
}

// Contexts returns every context mapping ordered by template id.
func (s *Store) Contexts(context.Context) ([]*mapping.Context, error) {
	s.mu.RLock()
	out := make([]*mapping.Context, len(s.contexts))
	copy(out, s.contexts)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TemplateID() < out[j].TemplateID()
	})
	return out, nil
}

// Models returns every model mapping in load order.
func (s *Store) Models(context.Context) ([]*mapping.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mapping.Model, len(s.models))
	copy(out, s.models)
	return out, nil
}

// WebTemplate returns the raw web template of templateID.
func (s *Store) WebTemplate(_ context.Context, templateID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.templates[openfhir.NormalizeTemplateID(templateID)]
	if !ok {
		return nil, fmt.Errorf("%w %q", openfhir.ErrNoTemplate, templateID)
	}
	return data, nil
}

// TemplateIDs returns the normalized ids of the loaded web templates.
func (s *Store) TemplateIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.templates))
	for id := range s.templates {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
