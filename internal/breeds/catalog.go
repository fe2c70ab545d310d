package breeds

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed breeds.yaml
var defaultCatalog []byte

// Info is the static reference metadata for one breed.
type Info struct {
	Name            string            `yaml:"-" json:"name"`
	Type            string            `yaml:"type" json:"type"`
	Origin          string            `yaml:"origin" json:"origin"`
	Characteristics map[string]string `yaml:"characteristics" json:"characteristics"`
	Description     string            `yaml:"description" json:"description"`
	Uses            []string          `yaml:"uses" json:"uses"`
	Temperament     string            `yaml:"temperament" json:"temperament"`
}

// Summary describes a supported breed for listings.
type Summary struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	Buffalo     bool   `json:"buffalo"`
	Detailed    bool   `json:"detailed"`
}

type catalogFile struct {
	Supported []string        `yaml:"supported"`
	Buffalo   []string        `yaml:"buffalo"`
	Dairy     []string        `yaml:"dairy"`
	Draught   []string        `yaml:"draught"`
	Details   map[string]Info `yaml:"details"`
}

// Catalog is the immutable breed table. It is safe for concurrent use.
type Catalog struct {
	supported []string
	buffalo   map[string]struct{}
	dairy     map[string]struct{}
	draught   map[string]struct{}
	details   map[string]Info
	detailed  []string
}

// ErrEmptyCatalog is returned when a catalog document has no detailed breeds.
var ErrEmptyCatalog = errors.New("breed catalog has no detailed entries")

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read breed catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode breed catalog: %w", err)
	}
	if len(file.Details) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		buffalo: toSet(file.Buffalo),
		dairy:   toSet(file.Dairy),
		draught: toSet(file.Draught),
		details: make(map[string]Info, len(file.Details)),
	}

	seen := make(map[string]struct{}, len(file.Supported))
	for _, name := range file.Supported {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		c.supported = append(c.supported, name)
	}

	for name, info := range file.Details {
		info.Name = name
		c.details[name] = info
		c.detailed = append(c.detailed, name)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			c.supported = append(c.supported, name)
		}
	}
	sort.Strings(c.detailed)

	return c, nil
}

// Lookup returns the detailed metadata for name.
func (c *Catalog) Lookup(name string) (Info, bool) {
	info, ok := c.details[name]
	if !ok {
		return Info{}, false
	}
	return info.clone(), true
}

// Detailed returns the names with full metadata, sorted. These form the
// candidate set for synthesized predictions.
func (c *Catalog) Detailed() []string {
	return append([]string(nil), c.detailed...)
}

// Supported returns every recognised breed name in catalog order.
func (c *Catalog) Supported() []string {
	return append([]string(nil), c.supported...)
}

// Contains reports whether name is a recognised breed.
func (c *Catalog) Contains(name string) bool {
	for _, n := range c.supported {
		if n == name {
			return true
		}
	}
	return false
}

// IsBuffalo reports whether name is a buffalo breed.
func (c *Catalog) IsBuffalo(name string) bool {
	_, ok := c.buffalo[name]
	return ok
}

// Kind returns the animal family label for name.
func (c *Catalog) Kind(name string) string {
	if c.IsBuffalo(name) {
		return "Water Buffalo"
	}
	return "Zebu Cattle"
}

// Category returns the production category for name.
func (c *Catalog) Category(name string) string {
	if _, ok := c.dairy[name]; ok {
		return "Dairy"
	}
	if _, ok := c.draught[name]; ok {
		return "Draught"
	}
	return "Dual Purpose"
}

// Summaries lists every supported breed with its classification.
func (c *Catalog) Summaries() []Summary {
	out := make([]Summary, 0, len(c.supported))
	for _, name := range c.supported {
		_, detailed := c.details[name]
		out = append(out, Summary{
			Name:        name,
			DisplayName: FormatName(name),
			Kind:        c.Kind(name),
			Category:    c.Category(name),
			Buffalo:     c.IsBuffalo(name),
			Detailed:    detailed,
		})
	}
	return out
}

// FormatName turns an identifier like "red_sindhi" into "Red Sindhi".
func FormatName(name string) string {
	runes := []rune(strings.ReplaceAll(name, "_", " "))
	start := true
	for i, r := range runes {
		isWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		if isWord && start {
			runes[i] = unicode.ToUpper(r)
		}
		start = !isWord
	}
	return string(runes)
}

func (i Info) clone() Info {
	out := i
	if i.Characteristics != nil {
		out.Characteristics = make(map[string]string, len(i.Characteristics))
		for k, v := range i.Characteristics {
			out.Characteristics[k] = v
		}
	}
	out.Uses = append([]string(nil), i.Uses...)
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
