// Package catalog loads the selectable targets from a GeoJSON file.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/shaunagostinho/pointdash/internal/overlay"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("catalog: target not found")

// Entry is a catalog target with its id.
type Entry struct {
	ID string `json:"id"`
	overlay.TargetPoint
}

// Catalog holds the targets of one GeoJSON FeatureCollection. Only Point
// features are used; "name" and "category" properties label them and an
// "id" property, when present, names them. Features without an id get
// their index in the collection.
type Catalog struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// New creates an empty catalog backed by path. Call Reload to load it.
func New(path string, log *zap.Logger) *Catalog {
	return &Catalog{path: path, log: log, entries: map[string]Entry{}}
}

// Load creates a catalog and loads it once.
func Load(path string, log *zap.Logger) (*Catalog, error) {
	c := New(path, log)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file.
func (c *Catalog) Path() string { return c.path }

// Reload re-reads the backing file. On error the previous entries stay.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", c.path, err)
	}
	entries, order, err := Parse(data)
	if err != nil {
		return fmt.Errorf("catalog: parse %s: %w", c.path, err)
	}

	c.mu.Lock()
	c.entries = entries
	c.order = order
	c.mu.Unlock()

	c.log.Info("loaded", zap.String("path", c.path), zap.Int("targets", len(order)))
	return nil
}

// Parse decodes a FeatureCollection into entries keyed by id, plus the ids
// in file order.
func Parse(data []byte) (map[string]Entry, []string, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, err
	}

	entries := make(map[string]Entry, len(fc.Features))
	order := make([]string, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		id := featureID(f, i)
		if _, dup := entries[id]; dup {
			return nil, nil, fmt.Errorf("duplicate id %q", id)
		}
		entries[id] = Entry{
			ID: id,
			TargetPoint: overlay.TargetPoint{
				Name:      f.Properties.MustString("name", ""),
				Category:  f.Properties.MustString("category", ""),
				Latitude:  pt.Lat(),
				Longitude: pt.Lon(),
			},
		}
		order = append(order, id)
	}
	return entries, order, nil
}

func featureID(f *geojson.Feature, idx int) string {
	if id := f.Properties.MustString("id", ""); id != "" {
		return id
	}
	switch v := f.ID.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.Itoa(idx)
}

// List returns all entries in file order.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, e := range c.entries {
		if e.Category != "" {
			seen[e.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// Get looks up an entry by id.
func (c *Catalog) Get(id string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}
