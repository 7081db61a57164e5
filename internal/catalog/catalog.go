// Package catalog holds the reference catalog: the features of every
// registered page and the page/image records they belong to.
package catalog

import (
	"fmt"

	"github.com/kozaktomas/pagefinder/internal/constants"
)

// Catalog is an ordered collection of reference features and pages.
// Every feature's PageID names a page in the catalog and every descriptor has
// length Dim. A catalog handed to a matcher must not be modified until the
// matcher is rebuilt.
type Catalog struct {
	dim      int
	features []Feature
	pages    []Page
	pageIdx  map[int]int // page ID -> position in pages
}

// New creates an empty catalog for descriptors of length dim.
func New(dim int) *Catalog {
	return &Catalog{
		dim:     dim,
		pageIdx: make(map[int]int),
	}
}

// Dim returns the descriptor length.
func (c *Catalog) Dim() int { return c.dim }

// Len returns the number of features.
func (c *Catalog) Len() int { return len(c.features) }

// NumPages returns the number of pages.
func (c *Catalog) NumPages() int { return len(c.pages) }

// Feature returns the i-th feature. The descriptor is shared and must not be modified.
func (c *Catalog) Feature(i int) Feature { return c.features[i] }

// Features returns the feature slice. Callers must treat it as read-only.
func (c *Catalog) Features() []Feature { return c.features }

// Pages returns a copy of the page records in catalog order.
func (c *Catalog) Pages() []Page {
	pages := make([]Page, len(c.pages))
	for i, p := range c.pages {
		pages[i] = p.clone()
	}
	return pages
}

// Page returns the page with the given ID.
func (c *Catalog) Page(id int) (Page, bool) {
	i, ok := c.pageIdx[id]
	if !ok {
		return Page{}, false
	}
	return c.pages[i].clone(), true
}

// PageIndex returns the position of page id in catalog order.
func (c *Catalog) PageIndex(id int) (int, bool) {
	i, ok := c.pageIdx[id]
	return i, ok
}

// PageIDs returns page IDs in catalog order.
func (c *Catalog) PageIDs() []int {
	ids := make([]int, len(c.pages))
	for i, p := range c.pages {
		ids[i] = p.ID
	}
	return ids
}

// AddPage registers a new page. Page IDs are unique and non-negative.
func (c *Catalog) AddPage(p Page) error {
	if p.ID < 0 {
		return fmt.Errorf("page id %d must not be negative", p.ID)
	}
	if _, ok := c.pageIdx[p.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePage, p.ID)
	}
	c.pageIdx[p.ID] = len(c.pages)
	c.pages = append(c.pages, p.clone())
	return nil
}

// AddImage appends an image record to a page, creating the page if needed.
func (c *Catalog) AddImage(pageID int, img Image) error {
	i, ok := c.pageIdx[pageID]
	if !ok {
		return c.AddPage(Page{ID: pageID, Images: []Image{img}})
	}
	c.pages[i].Images = append(c.pages[i].Images, img)
	return nil
}

// Add appends features. Descriptors are copied. Either all features are
// added or none are.
func (c *Catalog) Add(features ...Feature) error {
	for i, f := range features {
		if err := c.check(f); err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
	}
	for _, f := range features {
		f.Descriptor = append([]float32(nil), f.Descriptor...)
		c.features = append(c.features, f)
	}
	return nil
}

func (c *Catalog) check(f Feature) error {
	if len(f.Descriptor) != c.dim {
		return fmt.Errorf("%w: want %d, got %d", ErrDimMismatch, c.dim, len(f.Descriptor))
	}
	if !f.Polarity.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPolarity, f.Polarity)
	}
	if _, ok := c.pageIdx[f.PageID]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPage, f.PageID)
	}
	return nil
}

// Validate checks the catalog invariants.
func (c *Catalog) Validate() error {
	if c.dim <= 0 {
		return ErrInvalidDimension
	}
	for i, f := range c.features {
		if err := c.check(f); err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return nil
}

// Merge appends other's pages and features to c and leaves other empty.
// Pages with an ID already in c are coalesced by concatenating their image
// lists. An empty catalog adopts other's dimension.
func (c *Catalog) Merge(other *Catalog) error {
	if other == nil || other == c {
		return nil
	}
	if len(c.features) == 0 && len(c.pages) == 0 {
		c.dim = other.dim
	}
	if len(other.features) > 0 && other.dim != c.dim {
		return fmt.Errorf("%w: catalog has %d, merged catalog has %d", ErrDimMismatch, c.dim, other.dim)
	}

	for _, p := range other.pages {
		if err := c.mergePage(p); err != nil {
			return err
		}
	}
	c.features = append(c.features, other.features...)

	other.Reset()
	return nil
}

func (c *Catalog) mergePage(p Page) error {
	if i, ok := c.pageIdx[p.ID]; ok {
		c.pages[i].Images = append(c.pages[i].Images, p.Images...)
		return nil
	}
	return c.AddPage(p)
}

// ChangePageID renumbers page oldID to newID in both the page records and
// the features. With oldID == constants.AllPages every page and feature is
// moved to newID. Pages that end up sharing an ID are coalesced.
func (c *Catalog) ChangePageID(oldID, newID int) error {
	if newID < 0 {
		return fmt.Errorf("page id %d must not be negative", newID)
	}
	if oldID != constants.AllPages {
		if _, ok := c.pageIdx[oldID]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownPage, oldID)
		}
	}
	matches := func(id int) bool {
		return id == oldID || (oldID == constants.AllPages && id >= 0)
	}

	for i := range c.features {
		if matches(c.features[i].PageID) {
			c.features[i].PageID = newID
		}
	}

	pages := c.pages
	c.pages = nil
	c.pageIdx = make(map[int]int, len(pages))
	for _, p := range pages {
		if matches(p.ID) {
			p.ID = newID
		}
		if err := c.mergePage(p); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the catalog.
func (c *Catalog) Clone() *Catalog {
	out := New(c.dim)
	for _, p := range c.pages {
		// IDs are already unique
		_ = out.AddPage(p)
	}
	out.features = make([]Feature, len(c.features))
	for i, f := range c.features {
		f.Descriptor = append([]float32(nil), f.Descriptor...)
		out.features[i] = f
	}
	return out
}

// Reset removes all features and pages, keeping the dimension.
func (c *Catalog) Reset() {
	c.features = nil
	c.pages = nil
	c.pageIdx = make(map[int]int)
}

// Stats summarizes a catalog for reporting.
type Stats struct {
	Pages            int            `json:"pages"`
	Images           int            `json:"images"`
	Features         int            `json:"features"`
	Dim              int            `json:"dim"`
	ByPolarity       map[string]int `json:"by_polarity"`
	FeaturesByPageID map[int]int    `json:"features_by_page"`
}

// Stats counts pages, images and features.
func (c *Catalog) Stats() Stats {
	s := Stats{
		Pages:            len(c.pages),
		Features:         len(c.features),
		Dim:              c.dim,
		ByPolarity:       make(map[string]int),
		FeaturesByPageID: make(map[int]int, len(c.pages)),
	}
	for _, p := range c.pages {
		s.Images += len(p.Images)
		s.FeaturesByPageID[p.ID] = 0
	}
	for _, f := range c.features {
		s.ByPolarity[f.Polarity.String()]++
		s.FeaturesByPageID[f.PageID]++
	}
	return s
}
