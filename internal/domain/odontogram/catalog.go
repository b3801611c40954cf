package odontogram

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Area tags the anatomical extent a diagnosis can cover.
type Area string

const (
	AreaCrown      Area = "crown"
	AreaRoot       Area = "root"
	AreaWholeTooth Area = "whole-tooth"
)

func (a Area) Valid() bool {
	switch a {
	case AreaCrown, AreaRoot, AreaWholeTooth:
		return true
	}
	return false
}

func hasArea(areas []Area, a Area) bool {
	for _, x := range areas {
		if x == a {
			return true
		}
	}
	return false
}

// Definition is one charted diagnosis of the catalog.
type Definition struct {
	ID           string           `yaml:"id" json:"id"`
	Name         string           `yaml:"name" json:"name"`
	Abbreviation string           `yaml:"abbreviation" json:"abbreviation"`
	CategoryID   string           `yaml:"-" json:"category_id"`
	Areas        []Area           `yaml:"areas" json:"areas"`
	Attributes   []AttributeGroup `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

func (d Definition) HasArea(a Area) bool { return hasArea(d.Areas, a) }

// Category groups definitions sharing a priority tier and color class.
type Category struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Tier        Tier         `yaml:"tier" json:"tier"`
	Color       ColorClass   `yaml:"color" json:"color"`
	Definitions []Definition `yaml:"definitions" json:"definitions"`
}

// Lookup is the memoized answer for one procedure id.
type Lookup struct {
	Definition   Definition
	CategoryID   string
	CategoryName string
	Tier         Tier
	Color        ColorClass
}

// Priority is the entry priority derived from the category tier.
func (l Lookup) Priority() int { return l.Tier.Priority() }

// LookupCache memoizes procedure lookups and remembers misses so each unknown
// id is reported only once.
type LookupCache struct {
	mu     sync.RWMutex
	hits   map[string]Lookup
	misses map[string]struct{}
}

func newLookupCache() *LookupCache {
	return &LookupCache{
		hits:   make(map[string]Lookup),
		misses: make(map[string]struct{}),
	}
}

func (c *LookupCache) get(id string) (Lookup, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l, ok := c.hits[id]; ok {
		return l, true, true
	}
	_, missed := c.misses[id]
	return Lookup{}, false, missed
}

// recordMiss returns true the first time id is recorded.
func (c *LookupCache) recordMiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.misses[id]; ok {
		return false
	}
	c.misses[id] = struct{}{}
	return true
}

func (c *LookupCache) put(id string, l Lookup) {
	c.mu.Lock()
	c.hits[id] = l
	c.mu.Unlock()
}

// Size returns the number of memoized hits and misses.
func (c *LookupCache) Size() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hits), len(c.misses)
}

// AreaFilter restricts Categories to definitions compatible with the
// anatomical area currently selected in the editor.
type AreaFilter int

const (
	FilterAny AreaFilter = iota
	FilterCrown
	FilterRoot
	FilterNone
)

// ParseAreaFilter maps the query-string form ("crown", "root", "none", "") to a filter.
func ParseAreaFilter(s string) (AreaFilter, error) {
	switch foldText(s) {
	case "", "any", "all":
		return FilterAny, nil
	case "crown", "corona":
		return FilterCrown, nil
	case "root", "raiz":
		return FilterRoot, nil
	case "none", "whole-tooth", "general":
		return FilterNone, nil
	}
	return FilterAny, fmt.Errorf("unknown area filter %q", s)
}

func (f AreaFilter) accepts(d Definition) bool {
	switch f {
	case FilterCrown:
		return d.HasArea(AreaCrown)
	case FilterRoot:
		return d.HasArea(AreaRoot)
	case FilterNone:
		return d.HasArea(AreaWholeTooth)
	default:
		return true
	}
}

// Catalog is the read-only registry of diagnosis definitions.
type Catalog struct {
	categories []Category
	cache      *LookupCache
	logger     zerolog.Logger
	onMiss     func(procedureID string)
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithMissObserver registers fn to be called once per unknown procedure id.
func WithMissObserver(fn func(procedureID string)) CatalogOption {
	return func(c *Catalog) { c.onMiss = fn }
}

// NewCatalog validates the category table and returns a catalog ordered by tier.
func NewCatalog(categories []Category, logger zerolog.Logger, opts ...CatalogOption) (*Catalog, error) {
	cats := make([]Category, len(categories))
	ids := make(map[string]string)
	catIDs := make(map[string]bool)
	for i, cat := range categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("category %d: id is required", i)
		}
		if catIDs[cat.ID] {
			return nil, fmt.Errorf("duplicate category id %q", cat.ID)
		}
		catIDs[cat.ID] = true
		if !cat.Tier.Valid() {
			return nil, fmt.Errorf("category %s: invalid tier", cat.ID)
		}
		if !cat.Color.Valid() {
			return nil, fmt.Errorf("category %s: invalid color class %q", cat.ID, cat.Color)
		}
		cp := cat
		cp.Definitions = make([]Definition, len(cat.Definitions))
		for j, def := range cat.Definitions {
			if def.ID == "" || def.Name == "" {
				return nil, fmt.Errorf("category %s: definition %d needs id and name", cat.ID, j)
			}
			if owner, dup := ids[def.ID]; dup {
				return nil, fmt.Errorf("definition %q declared in %s and %s", def.ID, owner, cat.ID)
			}
			ids[def.ID] = cat.ID
			if len(def.Areas) == 0 {
				return nil, fmt.Errorf("definition %s: areas are required", def.ID)
			}
			for _, a := range def.Areas {
				if !a.Valid() {
					return nil, fmt.Errorf("definition %s: unknown area %q", def.ID, a)
				}
			}
			for _, g := range def.Attributes {
				if err := g.check(); err != nil {
					return nil, fmt.Errorf("definition %s: %w", def.ID, err)
				}
			}
			def.CategoryID = cat.ID
			def.Areas = append([]Area(nil), def.Areas...)
			cp.Definitions[j] = def
		}
		cats[i] = cp
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Tier < cats[j].Tier })

	c := &Catalog{categories: cats, cache: newLookupCache(), logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Cache exposes the lookup cache owned by the catalog.
func (c *Catalog) Cache() *LookupCache { return c.cache }

// Find resolves a procedure id. Unknown ids are logged once and then
// reported silently as not found.
func (c *Catalog) Find(procedureID string) (Lookup, bool) {
	if l, ok, missed := c.cache.get(procedureID); ok || missed {
		return l, ok
	}
	for _, cat := range c.categories {
		for _, def := range cat.Definitions {
			if def.ID != procedureID {
				continue
			}
			l := Lookup{
				Definition:   def,
				CategoryID:   cat.ID,
				CategoryName: cat.Name,
				Tier:         cat.Tier,
				Color:        cat.Color,
			}
			c.cache.put(procedureID, l)
			return l, true
		}
	}
	if c.cache.recordMiss(procedureID) {
		c.logger.Warn().Str("procedure_id", procedureID).Msg("procedure not found in catalog")
		if c.onMiss != nil {
			c.onMiss(procedureID)
		}
	}
	return Lookup{}, false
}

// Categories returns the categories in tier order, restricted to the
// definitions the filter accepts. Categories left empty are omitted.
func (c *Catalog) Categories(filter AreaFilter) []Category {
	out := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		cp := cat
		cp.Definitions = nil
		for _, def := range cat.Definitions {
			if filter.accepts(def) {
				cp.Definitions = append(cp.Definitions, def)
			}
		}
		if len(cp.Definitions) > 0 {
			out = append(out, cp)
		}
	}
	return out
}

// FilterForSelection derives the area filter from the surfaces currently
// selected in the editor: none selected means whole-tooth diagnoses only.
func FilterForSelection(selection []string) AreaFilter {
	var crown, root bool
	for _, id := range NormalizeSurfaceIDs(selection) {
		switch {
		case IsCrownSurface(id):
			crown = true
		case IsRootSurface(id):
			root = true
		}
	}
	switch {
	case crown && !root:
		return FilterCrown
	case root && !crown:
		return FilterRoot
	case !crown && !root:
		return FilterNone
	}
	return FilterAny
}
