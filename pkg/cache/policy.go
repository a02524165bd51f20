package cache

import (
	"time"

	"github.com/Combine-Capital/drugfacts/pkg/config"
)

// Category groups cache entries that share TTLs, compression and tagging.
type Category string

const (
	CategoryDetail Category = "detail"
	CategorySearch Category = "search"
	CategoryList   Category = "list"
	CategoryIndex  Category = "index"
)

// Tag names shared by the policy table and invalidation callers.
const (
	TagDrug     = "drug"
	TagSearch   = "search"
	TagDrugs    = "drugs"
	TagMeta     = "meta"
	TagIndex    = "index"
	TagAllDrugs = "all-drugs"
)

// TagParams carries the request parameters a category derives its tags from.
type TagParams struct {
	Slug             string
	TherapeuticClass string
	Manufacturer     string
	List             string
}

// Policy is the caching policy of one category.
type Policy struct {
	Category Category
	L2TTL    time.Duration
	L1TTL    time.Duration
	Compress bool
	Tags     func(TagParams) []string
}

// Options builds the SetOptions for a write under this policy.
func (p Policy) Options(params TagParams) SetOptions {
	opts := SetOptions{
		TTL:      p.L2TTL,
		L1TTL:    p.L1TTL,
		Compress: p.Compress,
		Category: p.Category,
	}
	if p.Tags != nil {
		opts.Tags = p.Tags(params)
	}
	return opts
}

// PolicyTable maps each category to its policy. It is built once at startup and
// never modified.
type PolicyTable struct {
	policies map[Category]Policy
}

// NewPolicyTable builds the table from the policies config section. Zero TTLs fall back
// to the built-in defaults.
func NewPolicyTable(cfg config.PoliciesConfig) *PolicyTable {
	return &PolicyTable{policies: map[Category]Policy{
		CategoryDetail: {
			Category: CategoryDetail,
			L2TTL:    orDefault(cfg.Detail.L2TTL, time.Hour),
			L1TTL:    orDefault(cfg.Detail.L1TTL, 5*time.Minute),
			Compress: true,
			Tags: func(p TagParams) []string {
				return []string{TagDrug, Key(TagDrug, p.Slug)}
			},
		},
		CategorySearch: {
			Category: CategorySearch,
			L2TTL:    orDefault(cfg.Search.L2TTL, 15*time.Minute),
			L1TTL:    orDefault(cfg.Search.L1TTL, time.Minute),
			Compress: true,
			Tags: func(p TagParams) []string {
				tags := []string{TagSearch, TagDrugs}
				if p.TherapeuticClass != "" {
					tags = append(tags, Key("tc", p.TherapeuticClass))
				}
				if p.Manufacturer != "" {
					tags = append(tags, Key("mfr", p.Manufacturer))
				}
				return tags
			},
		},
		CategoryList: {
			Category: CategoryList,
			L2TTL:    orDefault(cfg.List.L2TTL, 2*time.Hour),
			L1TTL:    orDefault(cfg.List.L1TTL, 5*time.Minute),
			Compress: false,
			Tags: func(p TagParams) []string {
				if p.List == "" {
					return []string{TagMeta}
				}
				return []string{TagMeta, p.List}
			},
		},
		CategoryIndex: {
			Category: CategoryIndex,
			L2TTL:    orDefault(cfg.Index.L2TTL, 30*time.Minute),
			L1TTL:    orDefault(cfg.Index.L1TTL, 5*time.Minute),
			Compress: true,
			Tags: func(TagParams) []string {
				return []string{TagIndex, TagAllDrugs}
			},
		},
	}}
}

// Get returns the policy of c. Unknown categories get a policy with no tags and
// zero TTLs, which the orchestrator replaces with its defaults.
func (t *PolicyTable) Get(c Category) Policy {
	if p, ok := t.policies[c]; ok {
		return p
	}
	return Policy{Category: c}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
