// Package progress turns raw study-session rows into the derived views shown on
// progress screens: streaks, milestones, time distributions and report summaries.
//
// Everything in this package is pure. Callers fetch entries, supply "today" and the
// learner's time zone explicitly, and receive plain values that are never persisted.
package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Modality classifies an activity as input practice, output practice, or neither.
type Modality string

const (
	ModalityInput        Modality = "input"
	ModalityOutput       Modality = "output"
	ModalityUnclassified Modality = "unclassified"
)

// Activity is a single entry of the activity vocabulary.
type Activity struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Modality Modality `json:"modality" yaml:"modality"`
}

// ErrInvalidCatalog is returned when a catalog definition cannot be used.
var ErrInvalidCatalog = errors.New("invalid activity catalog")

// Catalog is the ordered activity vocabulary. Its order is the canonical label order
// for charts, independent of the order entries arrive in.
type Catalog struct {
	activities []Activity
	index      map[string]int
}

// NewCatalog validates the activity list and builds a Catalog.
func NewCatalog(activities []Activity) (*Catalog, error) {
	if len(activities) == 0 {
		return nil, fmt.Errorf("%w: no activities", ErrInvalidCatalog)
	}

	c := &Catalog{
		activities: make([]Activity, 0, len(activities)),
		index:      make(map[string]int, len(activities)),
	}
	for _, a := range activities {
		a.ID = strings.TrimSpace(a.ID)
		a.Name = strings.TrimSpace(a.Name)
		if a.ID == "" || a.Name == "" {
			return nil, fmt.Errorf("%w: activity id and name are required", ErrInvalidCatalog)
		}
		if _, dup := c.index[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate activity id %q", ErrInvalidCatalog, a.ID)
		}
		switch a.Modality {
		case "":
			a.Modality = ModalityUnclassified
		case ModalityInput, ModalityOutput, ModalityUnclassified:
		default:
			return nil, fmt.Errorf("%w: activity %q has unknown modality %q", ErrInvalidCatalog, a.ID, a.Modality)
		}
		c.index[a.ID] = len(c.activities)
		c.activities = append(c.activities, a)
	}
	return c, nil
}

// DefaultCatalog returns the built-in four-skill vocabulary.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Activity{
		{ID: "reading", Name: "Reading", Modality: ModalityInput},
		{ID: "writing", Name: "Writing", Modality: ModalityOutput},
		{ID: "speaking", Name: "Speaking", Modality: ModalityOutput},
		{ID: "listening", Name: "Listening", Modality: ModalityInput},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Activities []Activity `yaml:"activities"`
}

// ParseCatalog decodes a YAML catalog definition of the form
//
//	activities:
//	  - id: reading
//	    name: Reading
//	    modality: input
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(file.Activities)
}

// LoadCatalogFile reads a YAML catalog from disk. An empty path yields the default catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// Activities returns a copy of the catalog in canonical order.
func (c *Catalog) Activities() []Activity {
	if c == nil {
		return nil
	}
	out := make([]Activity, len(c.activities))
	copy(out, c.activities)
	return out
}

// Lookup finds an activity by id.
func (c *Catalog) Lookup(id string) (Activity, bool) {
	if c == nil {
		return Activity{}, false
	}
	i, ok := c.index[id]
	if !ok {
		return Activity{}, false
	}
	return c.activities[i], true
}

// Contains reports whether id belongs to the catalog.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.Lookup(id)
	return ok
}

// Len returns the number of activities.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.activities)
}

func (c *Catalog) position(id string) (int, bool) {
	if c == nil {
		return 0, false
	}
	i, ok := c.index[id]
	return i, ok
}
