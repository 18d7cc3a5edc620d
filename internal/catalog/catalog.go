// Package catalog is the configuration store: search servers, the indexes
// they host, each index's fields and its processor configuration. A Catalog
// is immutable once loaded; reloading produces a new value.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchapi/pkg/errors"
)

// Backend types a server can use.
const (
	BackendMemory = "memory"
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

// Capability a datasource can declare. Node-access processing is only
// available on datasources declaring CapabilityNodeAccess.
const CapabilityNodeAccess = "node_access"

type Server struct {
	ID      string        `yaml:"id" json:"id"`
	Name    string        `yaml:"name" json:"name"`
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Backend BackendConfig `yaml:"backend" json:"backend"`
}

type BackendConfig struct {
	Type    string         `yaml:"type" json:"type"`
	Path    string         `yaml:"path,omitempty" json:"path,omitempty"`
	Addr    string         `yaml:"addr,omitempty" json:"addr,omitempty"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

type Datasource struct {
	Type         string   `yaml:"type" json:"type"`
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// Has reports whether the datasource declares capability c.
func (d Datasource) Has(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

type FieldSpec struct {
	Type     item.FieldType `yaml:"type" json:"type"`
	Fulltext bool           `yaml:"fulltext,omitempty" json:"fulltext,omitempty"`
	Indexed  bool           `yaml:"indexed" json:"indexed"`
	Boost    float64        `yaml:"boost,omitempty" json:"boost,omitempty"`
}

// ProcessorConfig enables one processor on an index. A nil Weight means the
// processor's default weight.
type ProcessorConfig struct {
	ID      string         `yaml:"id" json:"id"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Weight  *int           `yaml:"weight,omitempty" json:"weight,omitempty"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

type Index struct {
	ID         string               `yaml:"id" json:"id"`
	Name       string               `yaml:"name" json:"name"`
	ServerID   string               `yaml:"server" json:"server"`
	Enabled    bool                 `yaml:"enabled" json:"enabled"`
	ReadOnly   bool                 `yaml:"readOnly" json:"read_only"`
	Datasource Datasource           `yaml:"datasource" json:"datasource"`
	Fields     map[string]FieldSpec `yaml:"fields" json:"fields"`
	Processors []ProcessorConfig    `yaml:"processors,omitempty" json:"processors,omitempty"`
}

// IndexedFields returns the names of indexed fields, sorted.
func (idx *Index) IndexedFields() []string {
	names := make([]string, 0, len(idx.Fields))
	for name, spec := range idx.Fields {
		if spec.Indexed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FulltextFields returns the indexed fulltext field names, sorted.
func (idx *Index) FulltextFields() []string {
	names := make([]string, 0, len(idx.Fields))
	for name, spec := range idx.Fields {
		if spec.Indexed && spec.Fulltext {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy, used to carry the previous state of an index
// into an UpdateIndex task.
func (idx *Index) Clone() *Index {
	c := *idx
	c.Datasource.Capabilities = append([]string(nil), idx.Datasource.Capabilities...)
	c.Fields = make(map[string]FieldSpec, len(idx.Fields))
	for k, v := range idx.Fields {
		c.Fields[k] = v
	}
	c.Processors = make([]ProcessorConfig, len(idx.Processors))
	for i, p := range idx.Processors {
		cp := p
		if p.Weight != nil {
			w := *p.Weight
			cp.Weight = &w
		}
		cp.Options = make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			cp.Options[k] = v
		}
		c.Processors[i] = cp
	}
	return &c
}

// Catalog is the loaded configuration.
type Catalog struct {
	Servers []*Server `yaml:"servers"`
	Indexes []*Index  `yaml:"indexes"`

	servers map[string]*Server
	indexes map[string]*Index
}

// New builds and validates a catalog from servers and indexes.
func New(servers []*Server, indexes []*Index) (*Catalog, error) {
	c := &Catalog{Servers: servers, Indexes: indexes}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a catalog YAML document.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a catalog YAML document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := c.build(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) build() error {
	c.servers = make(map[string]*Server, len(c.Servers))
	for _, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("%w: server without id", apperrors.ErrInvalidConfig)
		}
		if _, dup := c.servers[s.ID]; dup {
			return fmt.Errorf("%w: duplicate server %q", apperrors.ErrInvalidConfig, s.ID)
		}
		switch s.Backend.Type {
		case BackendMemory, BackendBleve, BackendSQLite:
		case BackendRemote:
			if s.Backend.Addr == "" {
				return fmt.Errorf("%w: remote server %q needs backend.addr", apperrors.ErrInvalidConfig, s.ID)
			}
		default:
			return fmt.Errorf("%w: server %q has unknown backend type %q", apperrors.ErrInvalidConfig, s.ID, s.Backend.Type)
		}
		c.servers[s.ID] = s
	}

	c.indexes = make(map[string]*Index, len(c.Indexes))
	for _, idx := range c.Indexes {
		if idx.ID == "" {
			return fmt.Errorf("%w: index without id", apperrors.ErrInvalidConfig)
		}
		if _, dup := c.indexes[idx.ID]; dup {
			return fmt.Errorf("%w: duplicate index %q", apperrors.ErrInvalidConfig, idx.ID)
		}
		if _, ok := c.servers[idx.ServerID]; !ok {
			return fmt.Errorf("%w: index %q references unknown server %q", apperrors.ErrInvalidConfig, idx.ID, idx.ServerID)
		}
		for name, spec := range idx.Fields {
			if !spec.Type.Valid() {
				return fmt.Errorf("%w: index %q field %q has unknown type %q", apperrors.ErrInvalidConfig, idx.ID, name, spec.Type)
			}
		}
		if idx.Fields == nil {
			idx.Fields = make(map[string]FieldSpec)
		}
		c.indexes[idx.ID] = idx
	}
	return nil
}

// Server returns the server with id.
func (c *Catalog) Server(id string) (*Server, bool) {
	s, ok := c.servers[id]
	return s, ok
}

// Index returns the index with id.
func (c *Catalog) Index(id string) (*Index, bool) {
	idx, ok := c.indexes[id]
	return idx, ok
}

// IndexesFor returns the indexes hosted on serverID in catalog order.
func (c *Catalog) IndexesFor(serverID string) []*Index {
	var out []*Index
	for _, idx := range c.Indexes {
		if idx.ServerID == serverID {
			out = append(out, idx)
		}
	}
	return out
}

// IndexesOn returns the indexes that list items of datasource.
func (c *Catalog) IndexesOn(datasource string) []*Index {
	var out []*Index
	for _, idx := range c.Indexes {
		if idx.Datasource.Type == datasource {
			out = append(out, idx)
		}
	}
	return out
}
