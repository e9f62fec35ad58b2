package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"lifeline/internal/transform"
)

const FileName = "lifeline.yml"

// Adapter names accepted in store.adapter.
const (
	AdapterMemory = "memory"
	AdapterSQLite = "sqlite"
	AdapterBadger = "badger"
)

// Config models lifeline.yml.
type Config struct {
	Store struct {
		Adapter string `yaml:"adapter"`
		// Path is the badger directory; empty means <workspace>/.lifeline/badger.
		Path string `yaml:"path,omitempty"`
	} `yaml:"store"`
	Types map[string]TypeConfig `yaml:"types"`
}

type TypeConfig struct {
	PrimaryKey string                     `yaml:"primary_key,omitempty"`
	Attributes map[string]AttributeConfig `yaml:"attributes,omitempty"`
	HasMany    map[string]HasManyConfig   `yaml:"has_many,omitempty"`
}

type AttributeConfig struct {
	Type string `yaml:"type"`
	Key  string `yaml:"key,omitempty"`
}

type HasManyConfig struct {
	Type     string `yaml:"type"`
	Key      string `yaml:"key,omitempty"`
	Embedded bool   `yaml:"embedded,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lifeline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Adapter {
	case AdapterMemory, AdapterSQLite, AdapterBadger:
	case "":
		return fmt.Errorf("config.store.adapter is required")
	default:
		return fmt.Errorf("config.store.adapter must be one of memory, sqlite, badger (got %q)", c.Store.Adapter)
	}
	if len(c.Types) == 0 {
		return fmt.Errorf("config.types must declare at least one type")
	}
	for _, name := range c.TypeNames() {
		tc := c.Types[name]
		if name == "" {
			return fmt.Errorf("config.types contains an empty type name")
		}
		for attr, ac := range tc.Attributes {
			if attr == "" {
				return fmt.Errorf("type %s has an empty attribute name", name)
			}
			if _, ok := transform.Lookup(ac.Type); !ok {
				return fmt.Errorf("type %s attribute %s: unknown type %q", name, attr, ac.Type)
			}
		}
		for assoc, hc := range tc.HasMany {
			if assoc == "" {
				return fmt.Errorf("type %s has an empty association name", name)
			}
			if _, ok := tc.Attributes[assoc]; ok {
				return fmt.Errorf("type %s declares %s as both attribute and association", name, assoc)
			}
			if _, ok := c.Types[hc.Type]; !ok {
				return fmt.Errorf("type %s association %s references unknown type %q", name, assoc, hc.Type)
			}
		}
	}
	return nil
}

// TypeNames returns the declared type names in sorted order.
func (c *Config) TypeNames() []string {
	return sortedKeys(c.Types)
}

// AttributeNames returns the attribute names of a type in sorted order.
func (tc TypeConfig) AttributeNames() []string {
	return sortedKeys(tc.Attributes)
}

// AssociationNames returns the has_many names of a type in sorted order.
func (tc TypeConfig) AssociationNames() []string {
	return sortedKeys(tc.HasMany)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(adapter string) string {
	if adapter == "" {
		adapter = AdapterSQLite
	}
	return fmt.Sprintf(defaultTemplate, adapter)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an adapter.
func Default(adapter string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(adapter)))
	if err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Marshal renders cfg back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `store:
  adapter: %s

types:
  note:
    attributes:
      title:
        type: string
      body:
        type: string
      pinned:
        type: boolean
      priority:
        type: integer
      created_at:
        type: date
        key: createdAt
    has_many:
      tags:
        type: tag
        key: tag_ids
      comments:
        type: comment
        embedded: true

  tag:
    attributes:
      label:
        type: string

  comment:
    attributes:
      text:
        type: string
`
