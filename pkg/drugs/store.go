package drugs

import (
	"context"
)

// Facet names a field whose distinct values are listed.
type Facet string

const (
	FacetTherapeuticClass Facet = "therapeuticClass"
	FacetManufacturer     Facet = "manufacturer"
)

// ParseFacet maps the public list names onto facets.
func ParseFacet(name string) (Facet, bool) {
	switch name {
	case ListTherapeuticClasses, string(FacetTherapeuticClass):
		return FacetTherapeuticClass, true
	case ListManufacturers, string(FacetManufacturer):
		return FacetManufacturer, true
	}
	return "", false
}

// listName is the cache list name of a facet.
func (f Facet) listName() string {
	if f == FacetManufacturer {
		return ListManufacturers
	}
	return ListTherapeuticClasses
}

// Filter narrows Find. Each non-empty field is a case-insensitive substring match.
type Filter struct {
	TherapeuticClass string
	Manufacturer     string
}

// Store is the document store the service reads from.
type Store interface {
	// Find returns every drug matching filter.
	Find(ctx context.Context, filter Filter) ([]Drug, error)
	// Count returns the number of drugs.
	Count(ctx context.Context) (int, error)
	// Distinct returns the sorted non-empty values of facet.
	Distinct(ctx context.Context, facet Facet) ([]string, error)
	// GetBySlug returns the drug with slug or a NotFound error.
	GetBySlug(ctx context.Context, slug string) (Drug, error)
	// FindBySlugs returns the drugs found for slugs, in no particular order.
	FindBySlugs(ctx context.Context, slugs []string) ([]Drug, error)
	// Upsert inserts or replaces drugs by slug.
	Upsert(ctx context.Context, drugs ...Drug) error
}
