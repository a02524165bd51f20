// Package docstore holds the drug document stores behind drugs.Store: an in-process
// Memory store for development and tests, and a Postgres store keeping each drug as a
// JSONB document keyed by slug.
package docstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Combine-Capital/drugfacts/pkg/drugs"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

var (
	_ drugs.Store = (*Memory)(nil)
	_ drugs.Store = (*Postgres)(nil)
)

// Memory is a map-backed store. Values are copied in and out.
type Memory struct {
	mu    sync.RWMutex
	drugs map[string]drugs.Drug
}

// NewMemory returns a store seeded with seed.
func NewMemory(seed ...drugs.Drug) *Memory {
	m := &Memory{drugs: make(map[string]drugs.Drug, len(seed))}
	for _, d := range seed {
		if d.Slug != "" {
			m.drugs[d.Slug] = clone(d)
		}
	}
	return m
}

// Find returns copies of the matching documents ordered by slug.
func (m *Memory) Find(ctx context.Context, filter drugs.Filter) ([]drugs.Drug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]drugs.Drug, 0, len(m.drugs))
	for _, d := range m.drugs {
		if containsFold(d.TherapeuticClass, filter.TherapeuticClass) && containsFold(d.Manufacturer, filter.Manufacturer) {
			out = append(out, clone(d))
		}
	}
	slices.SortFunc(out, func(a, b drugs.Drug) int { return strings.Compare(a.Slug, b.Slug) })
	return out, nil
}

// Count returns the number of stored documents.
func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.drugs), nil
}

// Distinct returns the sorted non-empty values of facet.
func (m *Memory) Distinct(ctx context.Context, facet drugs.Facet) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, d := range m.drugs {
		var v string
		switch facet {
		case drugs.FacetTherapeuticClass:
			v = d.TherapeuticClass
		case drugs.FacetManufacturer:
			v = d.Manufacturer
		default:
			return nil, errors.NewInvalidInput("facet", "unknown facet "+string(facet))
		}
		if v != "" {
			seen[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out, nil
}

// GetBySlug returns a copy of the document stored under slug, or NotFound.
func (m *Memory) GetBySlug(ctx context.Context, slug string) (drugs.Drug, error) {
	if err := ctx.Err(); err != nil {
		return drugs.Drug{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drugs[slug]
	if !ok {
		return drugs.Drug{}, errors.NewNotFound("drug", slug)
	}
	return clone(d), nil
}

// FindBySlugs returns copies of the documents for the slugs that exist, in the
// order of slugs.
func (m *Memory) FindBySlugs(ctx context.Context, slugs []string) ([]drugs.Drug, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]drugs.Drug, 0, len(slugs))
	for _, slug := range slugs {
		if d, ok := m.drugs[slug]; ok {
			out = append(out, clone(d))
		}
	}
	return out, nil
}

// Upsert stores copies of docs, replacing documents with the same slug. A document
// without a slug rejects the batch.
func (m *Memory) Upsert(ctx context.Context, docs ...drugs.Drug) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range docs {
		if d.Slug == "" {
			return errors.NewInvalidInput("slug", "is required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.drugs[d.Slug] = clone(d)
	}
	return nil
}

func clone(d drugs.Drug) drugs.Drug {
	if d.Label != nil {
		l := *d.Label
		d.Label = &l
	}
	if d.UpdatedAt != nil {
		t := *d.UpdatedAt
		d.UpdatedAt = &t
	}
	return d
}

func containsFold(v, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(v), strings.ToLower(needle))
}
