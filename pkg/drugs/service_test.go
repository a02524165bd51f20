package drugs

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/cache"
	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/search"
)

type fakeStore struct {
	mu    sync.Mutex
	drugs map[string]Drug
	calls map[string]int
	err   error
}

func newFakeStore(docs ...Drug) *fakeStore {
	s := &fakeStore{drugs: map[string]Drug{}, calls: map[string]int{}}
	for _, d := range docs {
		s.drugs[d.Slug] = d
	}
	return s
}

func (s *fakeStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.err
}

func (s *fakeStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) Find(_ context.Context, f Filter) ([]Drug, error) {
	if err := s.record("find"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Drug
	for _, d := range s.drugs {
		if contains(d.TherapeuticClass, f.TherapeuticClass) && contains(d.Manufacturer, f.Manufacturer) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Drug) int { return strings.Compare(a.Slug, b.Slug) })
	return out, nil
}

func contains(v, needle string) bool {
	return strings.Contains(strings.ToLower(v), strings.ToLower(needle))
}

func (s *fakeStore) Count(context.Context) (int, error) {
	if err := s.record("count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drugs), nil
}

func (s *fakeStore) Distinct(_ context.Context, f Facet) ([]string, error) {
	if err := s.record("distinct"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.drugs {
		v := d.TherapeuticClass
		if f == FacetManufacturer {
			v = d.Manufacturer
		}
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *fakeStore) GetBySlug(_ context.Context, slug string) (Drug, error) {
	if err := s.record("get"); err != nil {
		return Drug{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drugs[slug]
	if !ok {
		return Drug{}, errors.NewNotFound("drug", slug)
	}
	return d, nil
}

func (s *fakeStore) FindBySlugs(_ context.Context, slugs []string) ([]Drug, error) {
	if err := s.record("find_by_slugs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Drug
	for _, slug := range slugs {
		if d, ok := s.drugs[slug]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Upsert(_ context.Context, docs ...Drug) error {
	if err := s.record("upsert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.drugs[d.Slug] = d
	}
	return nil
}

func corpus() []Drug {
	return []Drug{
		{DrugName: "Ozempic", Slug: "ozempic", SetID: "o1", ActiveIngredient: "semaglutide",
			TherapeuticClass: "GLP-1 Receptor Agonist", Manufacturer: "Novo Nordisk",
			Label: &Label{GenericName: "semaglutide", IndicationsAndUsage: "type 2 diabetes", BoxedWarning: "thyroid tumors"}},
		{DrugName: "Mounjaro", Slug: "mounjaro", SetID: "m1", ActiveIngredient: "tirzepatide",
			TherapeuticClass: "GIP/GLP-1 Receptor Agonist", Manufacturer: "Eli Lilly",
			IndicationsAndUsage: "type 2 diabetes"},
		{DrugName: "Lantus", Slug: "lantus", SetID: "l1", GenericName: "insulin glargine",
			TherapeuticClass: "Insulin", Manufacturer: "Sanofi"},
		{DrugName: "Lipitor", Slug: "lipitor", SetID: "p1", GenericName: "atorvastatin",
			TherapeuticClass: "Statin", Labeler: "Viatris", Manufacturer: "Pfizer"},
	}
}

type serviceFixture struct {
	svc      *Service
	store    *fakeStore
	cache    *cache.Orchestrator
	breakers *breaker.Manager
	mr       *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	l2, err := cache.NewRedis(context.Background(), config.CacheConfig{
		Host:       mr.Host(),
		Port:       mr.Server().Addr().Port,
		MaxRetries: -1,
		Namespace:  "drugfacts-test",
	})
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = l2.Close() })

	l1, err := cache.NewMemory(config.MemoryConfig{MaxEntries: 100, DefaultTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}

	breakers := breaker.NewManager(breaker.Settings{FailureThreshold: 2, ResetTimeout: time.Minute}, nil, nil)
	o, err := cache.New(cache.Options{L1: l1, L2: l2, Namespace: "drugfacts-test", Breakers: breakers})
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}

	store := newFakeStore(corpus()...)
	svc := NewService(store, o, WithBreakers(breakers), WithWarmupTopN(10))
	return serviceFixture{svc: svc, store: store, cache: o, breakers: breakers, mr: mr}
}

func TestFindAll(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	page, err := f.svc.FindAll(ctx, search.Query{Text: "ozempic"})
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Slug != "ozempic" {
		t.Fatalf("FindAll() = %+v", page.Data)
	}
	if page.Data[0].GenericName != "semaglutide" || page.Data[0].IndicationsAndUsage != "type 2 diabetes" {
		t.Errorf("search view not applied: %+v", page.Data[0])
	}
	if page.Data[0].BoxedWarning != "" {
		t.Error("search view should not map detail sections")
	}
	if page.Pagination.Total != 1 || page.Pagination.Limit != search.DefaultLimit {
		t.Errorf("pagination = %+v", page.Pagination)
	}

	if _, err := f.svc.FindAll(ctx, search.Query{Text: "  ozempic "}); err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	if n := f.store.count("find"); n != 1 {
		t.Errorf("store.Find called %d times, want 1", n)
	}
}

func TestFindAllFiltersAndValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	page, err := f.svc.FindAll(ctx, search.Query{Category: "glp-1"})
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	var names []string
	for _, d := range page.Data {
		names = append(names, d.DrugName)
	}
	if !slices.Equal(names, []string{"Mounjaro", "Ozempic"}) {
		t.Errorf("FindAll(class) = %v", names)
	}

	tags := f.cache.TagMembers(ctx, cache.Key("tc", "glp-1"))
	if len(tags) != 1 {
		t.Errorf("filter tag members = %v", tags)
	}

	if _, err := f.svc.FindAll(ctx, search.Query{Text: "ozempic; drop"}); !errors.IsInvalidInput(err) {
		t.Errorf("FindAll(bad query) error = %v, want InvalidInput", err)
	}
	if f.store.count("find") != 1 {
		t.Error("invalid query reached the store")
	}
}

func TestGetBySlug(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	d, err := f.svc.GetBySlug(ctx, "ozempic")
	if err != nil {
		t.Fatalf("GetBySlug() error = %v", err)
	}
	if d.BoxedWarning != "thyroid tumors" || d.GenericName != "semaglutide" {
		t.Errorf("label fallback not applied: %+v", d)
	}

	if _, err := f.svc.GetBySlug(ctx, "ozempic"); err != nil {
		t.Fatalf("GetBySlug() error = %v", err)
	}
	if n := f.store.count("get"); n != 1 {
		t.Errorf("store.GetBySlug called %d times, want 1", n)
	}

	for range 2 {
		if _, err := f.svc.GetBySlug(ctx, "missing"); !errors.IsNotFound(err) {
			t.Fatalf("GetBySlug(missing) error = %v, want NotFound", err)
		}
	}
	if n := f.store.count("get"); n != 3 {
		t.Errorf("not-found results must not be cached: %d store calls, want 3", n)
	}
	if f.breakers.State(StoreBreakerKey) != breaker.StateClosed {
		t.Error("not-found results must not trip the breaker")
	}

	if _, err := f.svc.GetBySlug(ctx, " "); !errors.IsInvalidInput(err) {
		t.Errorf("GetBySlug(blank) error = %v, want InvalidInput", err)
	}
}

func TestAbandonedRequestsKeepBreakersClosed(t *testing.T) {
	f := newServiceFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.store.fail(errors.NewTemporary("query interrupted", context.Canceled))

	for range 5 {
		if _, err := f.svc.GetBySlug(ctx, "ozempic"); err == nil {
			t.Fatal("GetBySlug() with a cancelled context succeeded")
		}
	}
	for _, key := range []string{StoreBreakerKey, cache.L2BreakerKey} {
		if got := f.breakers.State(key); got != breaker.StateClosed {
			t.Errorf("%s breaker = %q after abandoned requests, want closed", key, got)
		}
	}

	f.store.fail(nil)
	d, err := f.svc.GetBySlug(context.Background(), "ozempic")
	if err != nil {
		t.Fatalf("GetBySlug() for a live caller error = %v", err)
	}
	if d.Slug != "ozempic" {
		t.Errorf("slug = %q", d.Slug)
	}
}

func TestFindBySlugs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetBySlug(ctx, "lantus"); err != nil {
		t.Fatalf("GetBySlug() error = %v", err)
	}

	got, err := f.svc.FindBySlugs(ctx, []string{"ozempic", "missing", "lantus"})
	if err != nil {
		t.Fatalf("FindBySlugs() error = %v", err)
	}
	if len(got) != 3 || got[0] == nil || got[0].Slug != "ozempic" || got[1] != nil || got[2] == nil || got[2].Slug != "lantus" {
		t.Fatalf("FindBySlugs() = %v", got)
	}
	if got[0].BoxedWarning != "thyroid tumors" {
		t.Error("label fallback not applied to batch loads")
	}

	if _, err := f.svc.FindBySlugs(ctx, []string{"ozempic", "lantus"}); err != nil {
		t.Fatalf("FindBySlugs() error = %v", err)
	}
	if n := f.store.count("find_by_slugs"); n != 1 {
		t.Errorf("store.FindBySlugs called %d times, want 1", n)
	}

	empty, err := f.svc.FindBySlugs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("FindBySlugs(nil) = %v, %v", empty, err)
	}
}

func TestListsAreCached(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for range 2 {
		classes, err := f.svc.FacetValues(ctx, FacetTherapeuticClass)
		if err != nil || len(classes) != 4 {
			t.Fatalf("FacetValues() = %v, %v", classes, err)
		}
		n, err := f.svc.Count(ctx)
		if err != nil || n != 4 {
			t.Fatalf("Count() = %d, %v", n, err)
		}
		index, err := f.svc.Index(ctx)
		if err != nil || len(index) != 4 {
			t.Fatalf("Index() = %v, %v", index, err)
		}
		if index[0].DrugName != "Lantus" || index[1].Labeler != "Viatris" {
			t.Errorf("index order or labeler wrong: %+v", index[:2])
		}
	}

	if f.store.count("distinct") != 1 || f.store.count("count") != 1 || f.store.count("find") != 1 {
		t.Errorf("store calls = %v, want one each", f.store.calls)
	}

	if _, err := f.svc.FacetValues(ctx, Facet("dea")); !errors.IsInvalidInput(err) {
		t.Errorf("FacetValues(unknown) error = %v, want InvalidInput", err)
	}
}

func TestInvalidate(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetBySlug(ctx, "ozempic"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Invalidate(ctx, "ozempic"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if err := f.svc.Invalidate(ctx, "ozempic"); err != nil {
		t.Fatalf("second Invalidate() error = %v", err)
	}
	if _, ok := cache.Get[Drug](ctx, f.cache, DetailKey("ozempic")); ok {
		t.Error("detail entry survived invalidation")
	}
	if _, err := f.svc.GetBySlug(ctx, "ozempic"); err != nil {
		t.Fatal(err)
	}
	if n := f.store.count("get"); n != 2 {
		t.Errorf("store.GetBySlug called %d times, want 2", n)
	}
}

func TestSaveInvalidatesDependentEntries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.FindAll(ctx, search.Query{Text: "zep"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Count(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Index(ctx); err != nil {
		t.Fatal(err)
	}

	zepbound := Drug{DrugName: "Zepbound", Slug: "zepbound", ActiveIngredient: "tirzepatide", Manufacturer: "Eli Lilly"}
	if err := f.svc.Save(ctx, zepbound); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	page, err := f.svc.FindAll(ctx, search.Query{Text: "zep"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 1 || page.Data[0].Slug != "zepbound" {
		t.Errorf("search after save = %+v", page.Data)
	}
	if n, _ := f.svc.Count(ctx); n != 5 {
		t.Errorf("Count() after save = %d, want 5", n)
	}
	if index, _ := f.svc.Index(ctx); len(index) != 5 {
		t.Errorf("Index() after save has %d entries, want 5", len(index))
	}
}

func TestStoreBreaker(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.fail(errors.NewTemporary("connection refused", nil))

	for range 2 {
		if _, err := f.svc.Count(ctx); !errors.IsTemporary(err) {
			t.Fatalf("Count() error = %v, want temporary", err)
		}
	}

	calls := f.store.count("count")
	_, err := f.svc.Count(ctx)
	if !errors.IsDependencyUnavailable(err) {
		t.Errorf("Count() with open breaker error = %v, want DependencyUnavailable", err)
	}
	if f.store.count("count") != calls {
		t.Error("open breaker let a call through")
	}
}

func TestWarmupTasks(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tasks, err := f.svc.WarmupTasks(ctx)
	if err != nil {
		t.Fatalf("WarmupTasks() error = %v", err)
	}
	if len(tasks) != 8 {
		t.Fatalf("got %d tasks, want 4 details + 4 lists", len(tasks))
	}
	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			t.Errorf("task %s error = %v", task.Name, err)
		}
	}

	for _, key := range []string{DetailKey("lipitor"), CountKey(), IndexKey(), FacetKey(FacetManufacturer)} {
		if _, ok := cache.Get[any](ctx, f.cache, key); !ok {
			t.Errorf("%s not warmed", key)
		}
	}

	f.store.fail(errors.NewPermanent("boom", nil))
	if err := f.svc.InvalidateSearch(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.WarmupTasks(ctx); err == nil {
		t.Error("WarmupTasks() should fail when candidates cannot be loaded")
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DetailKey("ozempic"), "drug:full:ozempic"},
		{FacetKey(FacetTherapeuticClass), "meta:therapeutic-classes"},
		{FacetKey(FacetManufacturer), "meta:manufacturers"},
		{CountKey(), "meta:drug-count"},
		{IndexKey(), "index:all-drugs"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}

	a := SearchKey(search.Query{Text: "ozempic"}.Normalize())
	b := SearchKey(search.Query{Text: "ozempic", Page: 2}.Normalize())
	if a == b || !strings.HasPrefix(a, "search:") {
		t.Errorf("search keys %q and %q", a, b)
	}
	if SearchKey(search.Query{}.Normalize()) != SearchKey(search.Query{Page: 1}.Normalize()) {
		t.Error("equal normalized queries must share a key")
	}
}

func errTemporary() error {
	return errors.NewTemporary("connection refused", nil)
}
