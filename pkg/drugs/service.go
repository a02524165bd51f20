// Package drugs is the cached drug API: search, detail and list lookups served through
// the two-tier cache, with the document store behind a circuit breaker.
//
// Each operation picks a cache category (detail, search, list or index) whose policy sets
// the TTLs, compression and invalidation tags of the entries it writes. Writes through
// Save invalidate every category that can contain the changed drugs.
package drugs

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/cache"
	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/search"
	"github.com/Combine-Capital/drugfacts/pkg/tracing"
	"github.com/Combine-Capital/drugfacts/pkg/warmer"
)

// StoreBreakerKey is the breaker guarding document store calls.
const StoreBreakerKey = "docstore"

// DefaultWarmupTopN is how many detail pages a warmup preloads.
const DefaultWarmupTopN = 20

// Option configures a Service.
type Option func(*Service)

// WithBreakers routes store calls through m.
func WithBreakers(m *breaker.Manager) Option {
	return func(s *Service) { s.breakers = m }
}

// WithPolicies replaces the default category policies.
func WithPolicies(t *cache.PolicyTable) Option {
	return func(s *Service) { s.policies = t }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithWarmupTopN sets how many drugs WarmupTasks preloads.
func WithWarmupTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = min(n, search.MaxLimit)
		}
	}
}

// Service serves drug lookups through the cache.
type Service struct {
	store    Store
	cache    *cache.Orchestrator
	policies *cache.PolicyTable
	breakers *breaker.Manager
	logger   *logging.Logger
	topN     int
}

// NewService creates a Service reading from store through c.
func NewService(store Store, c *cache.Orchestrator, opts ...Option) *Service {
	s := &Service{store: store, cache: c, topN: DefaultWarmupTopN}
	for _, opt := range opts {
		opt(s)
	}
	if s.policies == nil {
		s.policies = cache.NewPolicyTable(config.PoliciesConfig{})
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.WithComponent("drugs")
	return s
}

func guarded[T any](ctx context.Context, s *Service, fn func() (T, error)) (T, error) {
	return breaker.Do(ctx, s.breakers, StoreBreakerKey, fn)
}

func (s *Service) options(c cache.Category, params cache.TagParams) cache.SetOptions {
	return s.policies.Get(c).Options(params)
}

// FindAll validates q and returns one page of ranked results.
func (s *Service) FindAll(ctx context.Context, q search.Query) (Page, error) {
	q, err := q.Validate()
	if err != nil {
		return Page{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "drugs.find_all")
	defer span.End()

	opts := s.options(cache.CategorySearch, cache.TagParams{
		TherapeuticClass: q.Category,
		Manufacturer:     q.Source,
	})
	page, err := cache.Wrap(ctx, s.cache, SearchKey(q), opts, func(ctx context.Context) (Page, error) {
		docs, err := guarded(ctx, s, func() ([]Drug, error) {
			return s.store.Find(ctx, Filter{TherapeuticClass: q.Category, Manufacturer: q.Source})
		})
		if err != nil {
			return Page{}, err
		}
		return newPage(search.Rank(docs, q, SearchFields)), nil
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Page{}, err
	}

	span.SetAttributes(tracing.SearchAttributes(string(q.Mode), len(q.Text), q.Page, q.Limit, page.Pagination.Total)...)
	return page, nil
}

// GetBySlug returns one drug with its root sections filled from the label.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Drug, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Drug{}, errors.NewInvalidInput("slug", "is required")
	}

	opts := s.options(cache.CategoryDetail, cache.TagParams{Slug: slug})
	return cache.Wrap(ctx, s.cache, DetailKey(slug), opts, func(ctx context.Context) (Drug, error) {
		d, err := guarded(ctx, s, func() (Drug, error) {
			return s.store.GetBySlug(ctx, slug)
		})
		if err != nil {
			return Drug{}, err
		}
		return d.WithLabelFallback(), nil
	})
}

// FindBySlugs returns the drugs for slugs in the same order, with nil where a drug does
// not exist. Cached drugs are read in one batch and the rest in one store query.
func (s *Service) FindBySlugs(ctx context.Context, slugs []string) ([]*Drug, error) {
	out := make([]*Drug, len(slugs))
	if len(slugs) == 0 {
		return out, nil
	}

	keys := make([]string, len(slugs))
	for i, slug := range slugs {
		keys[i] = DetailKey(slug)
	}

	var missing []string
	for i, r := range cache.MGet[Drug](ctx, s.cache, keys) {
		if r.Found {
			d := r.Value
			out[i] = &d
			continue
		}
		if !slices.Contains(missing, slugs[i]) {
			missing = append(missing, slugs[i])
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := guarded(ctx, s, func() ([]Drug, error) {
		return s.store.FindBySlugs(ctx, missing)
	})
	if err != nil {
		return nil, err
	}

	bySlug := make(map[string]Drug, len(found))
	items := make([]cache.Item, 0, len(found))
	for _, d := range found {
		d = d.WithLabelFallback()
		bySlug[d.Slug] = d
		items = append(items, cache.Item{
			Key:     DetailKey(d.Slug),
			Value:   d,
			Options: s.options(cache.CategoryDetail, cache.TagParams{Slug: d.Slug}),
		})
	}
	for i, slug := range slugs {
		if out[i] != nil {
			continue
		}
		if d, ok := bySlug[slug]; ok {
			out[i] = &d
		}
	}

	if err := s.cache.MSet(ctx, items); err != nil {
		s.logger.Warn().Err(err).Int("count", len(items)).Msg("caching drugs failed")
	}
	return out, nil
}

// FacetValues returns the sorted distinct values of a facet.
func (s *Service) FacetValues(ctx context.Context, facet Facet) ([]string, error) {
	if _, ok := ParseFacet(string(facet)); !ok {
		return nil, errors.NewInvalidInput("facet", "unknown facet "+string(facet))
	}

	opts := s.options(cache.CategoryList, cache.TagParams{List: facet.listName()})
	return cache.Wrap(ctx, s.cache, FacetKey(facet), opts, func(ctx context.Context) ([]string, error) {
		return guarded(ctx, s, func() ([]string, error) {
			return s.store.Distinct(ctx, facet)
		})
	})
}

// Count returns the number of drugs.
func (s *Service) Count(ctx context.Context) (int, error) {
	opts := s.options(cache.CategoryList, cache.TagParams{List: ListCount})
	return cache.Wrap(ctx, s.cache, CountKey(), opts, func(ctx context.Context) (int, error) {
		return guarded(ctx, s, func() (int, error) {
			return s.store.Count(ctx)
		})
	})
}

// Index returns every drug as an index entry, ordered by name.
func (s *Service) Index(ctx context.Context) ([]IndexEntry, error) {
	opts := s.options(cache.CategoryIndex, cache.TagParams{})
	return cache.Wrap(ctx, s.cache, IndexKey(), opts, func(ctx context.Context) ([]IndexEntry, error) {
		docs, err := guarded(ctx, s, func() ([]Drug, error) {
			return s.store.Find(ctx, Filter{})
		})
		if err != nil {
			return nil, err
		}

		entries := make([]IndexEntry, len(docs))
		for i, d := range docs {
			entries[i] = d.IndexEntry()
		}
		slices.SortStableFunc(entries, func(a, b IndexEntry) int {
			return strings.Compare(a.DrugName, b.DrugName)
		})
		return entries, nil
	})
}

// Invalidate drops the cached detail of slug and every entry tagged with it.
func (s *Service) Invalidate(ctx context.Context, slug string) error {
	if slug == "" {
		return errors.NewInvalidInput("slug", "is required")
	}
	if err := s.cache.Delete(ctx, DetailKey(slug)); err != nil {
		return err
	}
	if err := s.cache.InvalidateTag(ctx, cache.Key(cache.TagDrug, slug)); err != nil {
		return err
	}
	s.logger.Info().Str(logging.Slug, slug).Msg("drug cache invalidated")
	return nil
}

// InvalidateSearch drops every cached search page.
func (s *Service) InvalidateSearch(ctx context.Context) error {
	return s.cache.InvalidateTag(ctx, cache.TagSearch)
}

// InvalidateMeta drops the cached facet lists, the count and the index.
func (s *Service) InvalidateMeta(ctx context.Context) error {
	if err := s.cache.InvalidateTag(ctx, cache.TagMeta); err != nil {
		return err
	}
	return s.cache.InvalidateTag(ctx, cache.TagIndex)
}

// Save writes docs to the store and invalidates everything they can appear in.
func (s *Service) Save(ctx context.Context, docs ...Drug) error {
	if len(docs) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "drugs.save")
	defer span.End()
	span.SetAttributes(attribute.Int("drugs.count", len(docs)))

	if _, err := guarded(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.store.Upsert(ctx, docs...)
	}); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}

	for _, d := range docs {
		if err := s.Invalidate(ctx, d.Slug); err != nil {
			return err
		}
	}
	if err := s.InvalidateSearch(ctx); err != nil {
		return err
	}
	return s.InvalidateMeta(ctx)
}

// CacheStats reports cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// WarmupTasks lists the warmup work: the first page of drugs, then each of their detail
// entries, the facet lists, the count and the index.
func (s *Service) WarmupTasks(ctx context.Context) ([]warmer.Task, error) {
	start := time.Now()
	top, err := s.FindAll(ctx, search.Query{Page: 1, Limit: s.topN})
	if err != nil {
		return nil, errors.Wrap(err, "loading warmup candidates")
	}

	tasks := make([]warmer.Task, 0, len(top.Data)+4)
	for _, d := range top.Data {
		slug := d.Slug
		tasks = append(tasks, warmer.Task{
			Name: DetailKey(slug),
			Run: func(ctx context.Context) error {
				_, err := s.GetBySlug(ctx, slug)
				return err
			},
		})
	}
	for _, f := range []Facet{FacetTherapeuticClass, FacetManufacturer} {
		tasks = append(tasks, warmer.Task{
			Name: FacetKey(f),
			Run: func(ctx context.Context) error {
				_, err := s.FacetValues(ctx, f)
				return err
			},
		})
	}
	tasks = append(tasks,
		warmer.Task{Name: CountKey(), Run: func(ctx context.Context) error {
			_, err := s.Count(ctx)
			return err
		}},
		warmer.Task{Name: IndexKey(), Run: func(ctx context.Context) error {
			_, err := s.Index(ctx)
			return err
		}},
	)

	s.logger.Debug().
		Int("tasks", len(tasks)).
		Int64(logging.Duration, time.Since(start).Milliseconds()).
		Msg("warmup tasks collected")
	return tasks, nil
}
