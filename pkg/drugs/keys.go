package drugs

import (
	"github.com/Combine-Capital/drugfacts/pkg/cache"
	"github.com/Combine-Capital/drugfacts/pkg/search"
)

// List names used in meta keys and tags.
const (
	ListTherapeuticClasses = "therapeutic-classes"
	ListManufacturers      = "manufacturers"
	ListCount              = "count"
)

// DetailKey is the cache key of one drug document.
func DetailKey(slug string) string {
	return cache.Key("drug", "full", slug)
}

// SearchKey is the cache key of one normalized search request.
func SearchKey(q search.Query) string {
	return cache.Key("search", cache.Hash(firstNonEmpty(q.Text, "all")), cache.Hash(q))
}

// FacetKey is the cache key of a facet's value list.
func FacetKey(f Facet) string {
	return cache.Key(cache.TagMeta, f.listName())
}

// CountKey is the cache key of the drug count.
func CountKey() string {
	return cache.Key(cache.TagMeta, "drug-count")
}

// IndexKey is the cache key of the full drug index.
func IndexKey() string {
	return cache.Key(cache.TagIndex, cache.TagAllDrugs)
}
