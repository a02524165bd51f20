package cache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Combine-Capital/drugfacts/pkg/breaker"
	"github.com/Combine-Capital/drugfacts/pkg/bus"
	"github.com/Combine-Capital/drugfacts/pkg/config"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

const testNamespace = "test"

type label struct {
	Name        string            `json:"name"`
	Indications string            `json:"indications"`
	Sections    map[string]string `json:"sections,omitempty"`
}

func setupTestRedis(t *testing.T) (*RedisTier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := config.CacheConfig{
		Host:         mr.Host(),
		Port:         mr.Server().Addr().Port,
		MaxRetries:   -1,
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolSize:     5,
		Namespace:    testNamespace,
	}

	tier, err := NewRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier, mr
}

func newMemory(t *testing.T, entries int, ttl time.Duration) *MemoryTier {
	t.Helper()
	m, err := NewMemory(config.MemoryConfig{MaxEntries: entries, DefaultTTL: ttl})
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	return m
}

type fixture struct {
	o  *Orchestrator
	l1 *MemoryTier
	l2 *RedisTier
	mr *miniredis.Miniredis
}

func newFixture(t *testing.T, mutate ...func(*Options)) fixture {
	t.Helper()

	l2, mr := setupTestRedis(t)
	l1 := newMemory(t, 100, 5*time.Minute)
	opts := Options{L1: l1, L2: l2, Namespace: testNamespace, BackfillTTL: time.Minute}
	for _, fn := range mutate {
		fn(&opts)
	}

	o, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return fixture{o: o, l1: l1, l2: l2, mr: mr}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*structpb.Struct
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, message proto.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message.(*structpb.Struct))
	return nil
}

func stringList(t *testing.T, values ...string) *structpb.Value {
	t.Helper()
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	list, err := structpb.NewList(items)
	if err != nil {
		t.Fatalf("NewList() error = %v", err)
	}
	return structpb.NewListValue(list)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(1024, -1)

	tests := []struct {
		name           string
		value          label
		compress       bool
		wantCompressed bool
	}{
		{
			name:  "small value stays plain",
			value: label{Name: "Mounjaro", Indications: strings.Repeat("a", 400)},
		},
		{
			name:           "large value is compressed",
			value:          label{Name: "Ozempic", Indications: strings.Repeat("type 2 diabetes ", 125)},
			compress:       true,
			wantCompressed: true,
		},
		{
			name:     "large value without compress flag",
			value:    label{Name: "Ozempic", Indications: strings.Repeat("type 2 diabetes ", 125)},
			compress: false,
		},
		{
			name:     "small value with compress flag",
			value:    label{Name: "Advil", Indications: strings.Repeat("p", 480)},
			compress: true,
		},
		{
			name:     "nested map",
			value:    label{Name: "Humira", Sections: map[string]string{"warnings": "infection", "dosage": "40mg"}},
			compress: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, compressed, err := codec.Encode(tt.value, tt.compress)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if compressed != tt.wantCompressed {
				t.Errorf("compressed = %v, want %v", compressed, tt.wantCompressed)
			}

			var got label
			if err := codec.Decode(data, compressed, &got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Name != tt.value.Name || got.Indications != tt.value.Indications || len(got.Sections) != len(tt.value.Sections) {
				t.Errorf("round trip = %+v, want %+v", got, tt.value)
			}
		})
	}
}

func TestCodecThresholdScenario(t *testing.T) {
	codec := NewCodec(1024, -1)

	_, compressed, err := codec.Encode(strings.Repeat("x", 2000), true)
	if err != nil || !compressed {
		t.Errorf("2000 byte value: compressed=%v err=%v, want compressed", compressed, err)
	}

	_, compressed, err = codec.Encode(strings.Repeat("x", 500), true)
	if err != nil || compressed {
		t.Errorf("500 byte value: compressed=%v err=%v, want plain", compressed, err)
	}
}

func TestCodecKeepsGzipAboveThreshold(t *testing.T) {
	tests := []struct {
		name  string
		level int
	}{
		{"stored blocks", gzip.NoCompression},
		{"huffman only", gzip.HuffmanOnly},
		{"default", gzip.DefaultCompression},
	}

	value := label{Name: "Ozempic", Indications: strings.Repeat("semaglutide ", 200)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewCodec(1024, tt.level)
			data, compressed, err := codec.Encode(value, true)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if !compressed {
				t.Fatal("compressed = false, want true above the threshold")
			}

			var got label
			if err := codec.Decode(data, compressed, &got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Indications != value.Indications {
				t.Errorf("round trip lost the value")
			}
		})
	}
}

func TestCodecErrors(t *testing.T) {
	codec := NewCodec(0, 42)

	if codec.threshold != DefaultCompressionThreshold {
		t.Errorf("threshold = %d, want default", codec.threshold)
	}

	if _, _, err := codec.Encode(make(chan int), true); !errors.IsInvalidInput(err) {
		t.Errorf("Encode(chan) error = %v, want invalid input", err)
	}

	var dest label
	if err := codec.Decode([]byte("not gzip"), true, &dest); !errors.IsCorruptEntry(err) {
		t.Errorf("Decode(bad gzip) error = %v, want corrupt entry", err)
	}
	if err := codec.Decode([]byte("{broken"), false, &dest); !errors.IsCorruptEntry(err) {
		t.Errorf("Decode(bad json) error = %v, want corrupt entry", err)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"drug", []string{"full", "ozempic"}, "drug:full:ozempic"},
		{"meta", []string{"therapeutic-classes"}, "meta:therapeutic-classes"},
		{"tag", []string{"", "drug"}, "tag:drug"},
		{"", []string{"index", "all-drugs"}, "index:all-drugs"},
		{"search", nil, "search"},
	}

	for _, tt := range tests {
		if got := Key(tt.prefix, tt.parts...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestHash(t *testing.T) {
	a := Hash(map[string]interface{}{"page": 1, "limit": 20, "therapeuticClass": "GLP-1"})
	b := Hash(map[string]interface{}{"therapeuticClass": "GLP-1", "limit": 20, "page": 1})
	c := Hash(map[string]interface{}{"page": 2, "limit": 20, "therapeuticClass": "GLP-1"})

	if len(a) != 16 {
		t.Errorf("len(Hash) = %d, want 16", len(a))
	}
	if a != b {
		t.Errorf("equal parameter sets hashed differently: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different parameter sets hashed equally")
	}
}

func TestMemoryTier(t *testing.T) {
	ctx := context.Background()
	m := newMemory(t, 2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	t.Run("expiry", func(t *testing.T) {
		_ = m.Set(ctx, "a", []byte("1"), 10*time.Second)
		if _, ok, _ := m.Get(ctx, "a"); !ok {
			t.Fatal("expected hit before expiry")
		}
		if ttl, _ := m.TTL(ctx, "a"); ttl != 10*time.Second {
			t.Errorf("TTL = %v, want 10s", ttl)
		}
		now = now.Add(11 * time.Second)
		if _, ok, _ := m.Get(ctx, "a"); ok {
			t.Fatal("expected miss after expiry")
		}
	})

	t.Run("ttl capped at max", func(t *testing.T) {
		_ = m.Set(ctx, "b", []byte("2"), time.Hour)
		if ttl, _ := m.TTL(ctx, "b"); ttl != time.Minute {
			t.Errorf("TTL = %v, want capped 1m", ttl)
		}
	})

	t.Run("lru eviction", func(t *testing.T) {
		_ = m.Reset(ctx)
		_ = m.Set(ctx, "x", []byte("x"), time.Second)
		_ = m.Set(ctx, "y", []byte("y"), time.Second)
		_, _, _ = m.Get(ctx, "x")
		_ = m.Set(ctx, "z", []byte("z"), time.Second)

		if _, ok, _ := m.Get(ctx, "y"); ok {
			t.Error("least recently used entry should be evicted")
		}
		if m.Len() != 2 {
			t.Errorf("Len() = %d, want 2", m.Len())
		}
	})

	t.Run("copies data", func(t *testing.T) {
		buf := []byte("abc")
		_ = m.Set(ctx, "c", buf, time.Second)
		buf[0] = 'z'
		got, _, _ := m.Get(ctx, "c")
		if string(got) != "abc" {
			t.Errorf("stored = %q, want independent copy", got)
		}
	})
}

func TestRedisTier(t *testing.T) {
	ctx := context.Background()
	tier, mr := setupTestRedis(t)

	if err := tier.SetMany(ctx, []TierItem{
		{Key: "test:a", Data: []byte("1"), TTL: time.Minute},
		{Key: "test:b", Data: []byte("2"), TTL: time.Hour},
	}); err != nil {
		t.Fatalf("SetMany() error = %v", err)
	}

	got, err := tier.GetMany(ctx, []string{"test:b", "test:missing", "test:a"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if string(got[0]) != "2" || got[1] != nil || string(got[2]) != "1" {
		t.Errorf("GetMany() = %q", got)
	}

	if ttl, _ := tier.TTL(ctx, "test:b"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
	if ttl, _ := tier.TTL(ctx, "test:missing"); ttl != 0 {
		t.Errorf("TTL(missing) = %v, want 0", ttl)
	}

	if err := tier.Delete(ctx, "test:a", "test:never"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := tier.Get(ctx, "test:a"); ok {
		t.Error("deleted key still present")
	}

	t.Run("reset keeps foreign keys", func(t *testing.T) {
		_ = mr.Set("other:key", "keep")
		_ = mr.Set("test:c", "drop")

		if err := tier.Reset(ctx); err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
		if mr.Exists("test:b") || mr.Exists("test:c") {
			t.Error("namespaced keys survived reset")
		}
		if !mr.Exists("other:key") {
			t.Error("reset removed a key outside the namespace")
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		mr.Close()
		if err := tier.Ping(ctx); !errors.IsTierUnavailable(err) {
			t.Errorf("Ping() error = %v, want tier unavailable", err)
		}
		if _, _, err := tier.Get(ctx, "test:b"); !errors.IsTierUnavailable(err) {
			t.Errorf("Get() error = %v, want tier unavailable", err)
		}
	})
}

func TestNewRedisConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := NewRedis(ctx, config.CacheConfig{Host: "127.0.0.1", Port: 1, MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	if !errors.IsTierUnavailable(err) {
		t.Errorf("error = %v, want tier unavailable", err)
	}
}

func TestNewRequiresL1(t *testing.T) {
	if _, err := New(Options{}); !errors.IsInvalidInput(err) {
		t.Errorf("New() error = %v, want invalid input", err)
	}
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	want := label{Name: "Ozempic", Indications: strings.Repeat("glycemic control ", 100)}
	if err := f.o.Set(ctx, "drug:full:ozempic", want, SetOptions{TTL: time.Hour, L1TTL: time.Minute, Compress: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if ttl := f.mr.TTL("test:drug:full:ozempic"); ttl != time.Hour {
		t.Errorf("L2 TTL = %v, want 1h", ttl)
	}
	if ttl, _ := f.l1.TTL(ctx, "test:drug:full:ozempic"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("L1 TTL = %v, want <= 1m", ttl)
	}

	got, ok := Get[label](ctx, f.o, "drug:full:ozempic")
	if !ok || got.Name != want.Name || got.Indications != want.Indications {
		t.Fatalf("Get() = (%q, %v)", got.Name, ok)
	}

	stats := f.o.Stats()
	if stats.L1Hits != 1 || stats.Sets != 1 || stats.BytesSaved <= 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetBackfillsL1(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.o.Set(ctx, "meta:manufacturers", []string{"Lilly", "Novo Nordisk"}, SetOptions{TTL: time.Hour})
	_ = f.l1.Reset(ctx)

	got, ok := Get[[]string](ctx, f.o, "meta:manufacturers")
	if !ok || len(got) != 2 {
		t.Fatalf("Get() = (%v, %v)", got, ok)
	}
	if f.o.Stats().L2Hits != 1 {
		t.Errorf("L2Hits = %d, want 1", f.o.Stats().L2Hits)
	}

	ttl, _ := f.l1.TTL(ctx, "test:meta:manufacturers")
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("backfilled L1 TTL = %v, want <= backfill TTL", ttl)
	}

	if _, ok := Get[[]string](ctx, f.o, "meta:manufacturers"); !ok || f.o.Stats().L1Hits != 1 {
		t.Error("second read should be served by L1")
	}
}

func TestGetMiss(t *testing.T) {
	f := newFixture(t)

	if v, ok := Get[label](context.Background(), f.o, "drug:full:unknown"); ok || v.Name != "" {
		t.Errorf("Get() = (%+v, %v), want zero miss", v, ok)
	}
	if f.o.Stats().Misses != 1 {
		t.Errorf("Misses = %d, want 1", f.o.Stats().Misses)
	}
}

func TestInvalidateTag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.o.Set(ctx, "k", "v", SetOptions{TTL: 60 * time.Second, Tags: []string{"t"}})
	_ = f.o.Set(ctx, "other", "v", SetOptions{TTL: 60 * time.Second, Tags: []string{"u"}})

	if err := f.o.InvalidateTag(ctx, "t"); err != nil {
		t.Fatalf("InvalidateTag() error = %v", err)
	}
	if _, ok := Get[string](ctx, f.o, "k"); ok {
		t.Error("key survived invalidation of its tag")
	}
	if _, ok := Get[string](ctx, f.o, "other"); !ok {
		t.Error("key with a different tag was invalidated")
	}
	if f.mr.Exists("test:tag:t") {
		t.Error("tag entry survived invalidation")
	}

	keysBefore := f.mr.Keys()
	if err := f.o.InvalidateTag(ctx, "t"); err != nil {
		t.Fatalf("second InvalidateTag() error = %v", err)
	}
	if err := f.o.InvalidateTag(ctx, "never-used"); err != nil {
		t.Fatalf("InvalidateTag(unknown) error = %v", err)
	}
	if after := f.mr.Keys(); strings.Join(after, ",") != strings.Join(keysBefore, ",") {
		t.Errorf("repeat invalidation changed state: %v -> %v", keysBefore, after)
	}
}

func TestTagIndexTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.o.Set(ctx, "a", 1, SetOptions{TTL: time.Minute, Tags: []string{"drugs"}})
	if ttl := f.mr.TTL("test:tag:drugs"); ttl != time.Minute {
		t.Errorf("tag TTL = %v, want 1m", ttl)
	}

	_ = f.o.Set(ctx, "b", 2, SetOptions{TTL: time.Hour, Tags: []string{"drugs"}})
	if ttl := f.mr.TTL("test:tag:drugs"); ttl != time.Hour {
		t.Errorf("tag TTL = %v, want raised to 1h", ttl)
	}

	_ = f.o.Set(ctx, "c", 3, SetOptions{TTL: 10 * time.Second, Tags: []string{"drugs"}})
	if ttl := f.mr.TTL("test:tag:drugs"); ttl != time.Hour {
		t.Errorf("tag TTL = %v, want kept at 1h", ttl)
	}

	members := f.o.TagMembers(ctx, "drugs")
	if strings.Join(members, ",") != "a,b,c" {
		t.Errorf("TagMembers() = %v", members)
	}
}

func TestCorruptEntryIsEvicted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.mr.Set("test:drug:full:bad", "not an envelope")
	if _, ok := Get[label](ctx, f.o, "drug:full:bad"); ok {
		t.Fatal("corrupt envelope read as hit")
	}
	if f.mr.Exists("test:drug:full:bad") {
		t.Error("corrupt envelope not evicted from L2")
	}

	envelope, _ := marshalEntry(Entry{Value: []byte("garbage"), Compressed: true, StoredAt: time.Now()})
	_ = f.mr.Set("test:drug:full:worse", string(envelope))
	if _, ok := Get[label](ctx, f.o, "drug:full:worse"); ok {
		t.Fatal("undecodable value read as hit")
	}
	if f.mr.Exists("test:drug:full:worse") {
		t.Error("undecodable value not evicted from L2")
	}

	if f.o.Stats().CorruptEntries != 2 {
		t.Errorf("CorruptEntries = %d, want 2", f.o.Stats().CorruptEntries)
	}
}

func TestWrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	calls := 0
	loader := func(context.Context) (label, error) {
		calls++
		return label{Name: "Mounjaro"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Wrap(ctx, f.o, "drug:full:mounjaro", SetOptions{TTL: time.Hour}, loader)
		if err != nil || got.Name != "Mounjaro" {
			t.Fatalf("Wrap() = (%+v, %v)", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}
}

func TestWrapLoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	loadErr := errors.NewNotFound("drug", "nope")
	calls := 0
	for i := 0; i < 2; i++ {
		_, err := Wrap(ctx, f.o, "drug:full:nope", SetOptions{}, func(context.Context) (label, error) {
			calls++
			return label{}, loadErr
		})
		if err != loadErr {
			t.Fatalf("Wrap() error = %v, want loader error unchanged", err)
		}
	}
	if calls != 2 {
		t.Errorf("loader calls = %d, want 2", calls)
	}
	if f.mr.Exists("test:drug:full:nope") {
		t.Error("loader error was cached")
	}
}

func TestMGetAndMSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.o.MSet(ctx, []Item{
		{Key: "drug:full:a", Value: label{Name: "A"}, Options: SetOptions{TTL: time.Hour}},
		{Key: "drug:full:c", Value: label{Name: "C"}, Options: SetOptions{TTL: time.Hour}},
	})
	if err != nil {
		t.Fatalf("MSet() error = %v", err)
	}
	_ = f.l1.Delete(ctx, "test:drug:full:c")

	results := MGet[label](ctx, f.o, []string{"drug:full:c", "drug:full:b", "drug:full:a"})
	if len(results) != 3 {
		t.Fatalf("len(results) = %d", len(results))
	}
	if !results[0].Found || results[0].Value.Name != "C" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Found {
		t.Errorf("results[1] = %+v, want miss", results[1])
	}
	if !results[2].Found || results[2].Value.Name != "A" {
		t.Errorf("results[2] = %+v", results[2])
	}

	if _, ok, _ := f.l1.Get(ctx, "test:drug:full:c"); !ok {
		t.Error("MGet did not backfill L1")
	}

	if err := f.o.MSet(ctx, []Item{{Key: "x", Value: func() {}}}); !errors.IsInvalidInput(err) {
		t.Errorf("MSet(unserializable) error = %v, want invalid input", err)
	}
}

func TestDeleteAndReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.o.Set(ctx, "a", 1, SetOptions{})
	_ = f.o.Set(ctx, "b", 2, SetOptions{})
	_ = f.mr.Set("foreign", "x")

	if err := f.o.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := Get[int](ctx, f.o, "a"); ok {
		t.Error("deleted key still readable")
	}

	if err := f.o.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok := Get[int](ctx, f.o, "b"); ok {
		t.Error("key survived reset")
	}
	if !f.mr.Exists("foreign") {
		t.Error("reset removed a key outside the namespace")
	}
	if f.l1.Len() != 0 {
		t.Errorf("L1 size after reset = %d", f.l1.Len())
	}
}

func TestFailOpenWhenL2Down(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mr.Close()

	if err := f.o.Set(ctx, "k", "v", SetOptions{Tags: []string{"t"}}); err != nil {
		t.Fatalf("Set() with L2 down error = %v", err)
	}
	if v, ok := Get[string](ctx, f.o, "k"); !ok || v != "v" {
		t.Errorf("Get() = (%q, %v), want L1 hit", v, ok)
	}
	if _, ok := Get[string](ctx, f.o, "missing"); ok {
		t.Error("expected miss")
	}

	got, err := Wrap(ctx, f.o, "w", SetOptions{}, func(context.Context) (string, error) { return "loaded", nil })
	if err != nil || got != "loaded" {
		t.Errorf("Wrap() = (%q, %v)", got, err)
	}
	if err := f.o.InvalidateTag(ctx, "t"); err != nil {
		t.Errorf("InvalidateTag() error = %v", err)
	}
	if _, ok := Get[string](ctx, f.o, "k"); ok {
		t.Error("L1 tag index should still invalidate with L2 down")
	}
	if f.o.Stats().TierErrors == 0 {
		t.Error("tier errors were not counted")
	}
}

func TestBreakerStopsL2Calls(t *testing.T) {
	ctx := context.Background()
	breakers := breaker.NewManager(breaker.Settings{FailureThreshold: 2, ResetTimeout: time.Minute}, nil, nil)
	f := newFixture(t, func(o *Options) { o.Breakers = breakers })
	f.mr.Close()

	for i := 0; i < 3; i++ {
		_, _ = Get[string](ctx, f.o, "k")
	}
	if got := breakers.State(L2BreakerKey); got != breaker.StateOpen {
		t.Fatalf("breaker state = %q, want open", got)
	}

	err := f.o.Check(ctx)
	if !errors.IsTierUnavailable(err) {
		t.Errorf("Check() error = %v, want tier unavailable", err)
	}
	if f.o.Stats().Breakers[L2BreakerKey] != breaker.StateOpen {
		t.Errorf("stats breakers = %v", f.o.Stats().Breakers)
	}
}

func TestMonitor(t *testing.T) {
	f := newFixture(t)
	f.o.StartMonitor(context.Background(), 10*time.Millisecond)

	if err := f.o.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	f.mr.Close()
	eventually(t, func() bool { return !f.o.L2Healthy() }, "monitor never marked L2 unhealthy")

	calls := 0
	_, _ = Wrap(context.Background(), f.o, "k", SetOptions{}, func(context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if calls != 1 {
		t.Errorf("loader calls = %d, want 1", calls)
	}
	if f.o.Stats().TierErrors != 0 {
		t.Error("unhealthy L2 should be skipped, not called")
	}

	if err := f.mr.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	eventually(t, func() bool { return f.o.L2Healthy() }, "monitor never saw L2 recover")

	f.o.StopMonitor()
	f.o.StopMonitor()
}

func TestL1Only(t *testing.T) {
	ctx := context.Background()
	o, err := New(Options{L1: newMemory(t, 10, time.Minute)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_ = o.Set(ctx, "k", "v", SetOptions{Tags: []string{"t"}})
	if _, ok := Get[string](ctx, o, "k"); !ok {
		t.Error("expected L1 hit")
	}
	_ = o.InvalidateTag(ctx, "t")
	if _, ok := Get[string](ctx, o, "k"); ok {
		t.Error("expected miss after invalidation")
	}
	if err := o.Check(ctx); err != nil {
		t.Errorf("Check() without L2 error = %v", err)
	}
	if s := o.Stats(); s.L2Enabled || s.L2Healthy {
		t.Errorf("stats = %+v", s)
	}
}

func TestCrossInstanceInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := bus.NewMemory()
	defer events.Close()

	f := newFixture(t, func(o *Options) { o.Events = events })
	peerL1 := newMemory(t, 100, 5*time.Minute)
	peer, err := New(Options{L1: peerL1, L2: f.l2, Namespace: testNamespace, Events: events})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, o := range []*Orchestrator{f.o, peer} {
		if err := events.Subscribe(ctx, InvalidationTopic, o.HandleInvalidation); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	_ = f.o.Set(ctx, "drug:full:ozempic", label{Name: "Ozempic"}, SetOptions{Tags: []string{"drug:ozempic"}})
	if _, ok := Get[label](ctx, peer, "drug:full:ozempic"); !ok {
		t.Fatal("peer should read the shared entry")
	}
	if _, ok, _ := peerL1.Get(ctx, "test:drug:full:ozempic"); !ok {
		t.Fatal("peer did not backfill its L1")
	}

	if err := f.o.InvalidateTag(ctx, "drug:ozempic"); err != nil {
		t.Fatalf("InvalidateTag() error = %v", err)
	}
	eventually(t, func() bool {
		_, ok, _ := peerL1.Get(ctx, "test:drug:full:ozempic")
		return !ok
	}, "peer L1 kept the invalidated entry")

	_ = peer.Set(ctx, "meta:drug-count", 42, SetOptions{})
	if err := f.o.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	eventually(t, func() bool { return peerL1.Len() == 0 }, "peer L1 not reset")
}

func TestHandleInvalidationIgnoresOwnEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_ = f.o.Set(ctx, "k", "v", SetOptions{})

	events := &recordingPublisher{}
	f.o.events = events
	_ = f.o.Delete(ctx, "missing")
	if len(events.messages) != 1 {
		t.Fatalf("published %d events, want 1", len(events.messages))
	}

	own := events.messages[0]
	own.Fields["keys"] = stringList(t, "k")
	if err := f.o.HandleInvalidation(ctx, own); err != nil {
		t.Fatalf("HandleInvalidation() error = %v", err)
	}
	if _, ok, _ := f.l1.Get(ctx, "test:k"); !ok {
		t.Error("own event removed a local entry")
	}

	own.Fields["origin"] = structpb.NewStringValue("another-instance")
	if err := f.o.HandleInvalidation(ctx, own); err != nil {
		t.Fatalf("HandleInvalidation() error = %v", err)
	}
	if _, ok, _ := f.l1.Get(ctx, "test:k"); ok {
		t.Error("peer event did not remove the entry")
	}

	own.Fields["kind"] = structpb.NewStringValue("explode")
	if err := f.o.HandleInvalidation(ctx, own); !errors.IsPermanent(err) {
		t.Errorf("unknown kind error = %v, want permanent", err)
	}
	if err := f.o.HandleInvalidation(ctx, structpb.NewStringValue("k")); !errors.IsPermanent(err) {
		t.Errorf("wrong payload error = %v, want permanent", err)
	}
}

func TestPolicyTable(t *testing.T) {
	table := NewPolicyTable(config.PoliciesConfig{Search: config.PolicyTTL{L2TTL: 5 * time.Minute}})

	detail := table.Get(CategoryDetail).Options(TagParams{Slug: "ozempic"})
	if detail.TTL != time.Hour || detail.L1TTL != 5*time.Minute || !detail.Compress {
		t.Errorf("detail options = %+v", detail)
	}
	if strings.Join(detail.Tags, ",") != "drug,drug:ozempic" {
		t.Errorf("detail tags = %v", detail.Tags)
	}

	search := table.Get(CategorySearch).Options(TagParams{TherapeuticClass: "GLP-1", Manufacturer: "Lilly"})
	if search.TTL != 5*time.Minute {
		t.Errorf("search TTL = %v, want configured 5m", search.TTL)
	}
	if strings.Join(search.Tags, ",") != "search,drugs,tc:GLP-1,mfr:Lilly" {
		t.Errorf("search tags = %v", search.Tags)
	}

	list := table.Get(CategoryList).Options(TagParams{List: "manufacturers"})
	if list.TTL != 2*time.Hour || list.Compress || strings.Join(list.Tags, ",") != "meta,manufacturers" {
		t.Errorf("list options = %+v", list)
	}

	index := table.Get(CategoryIndex).Options(TagParams{})
	if index.TTL != 30*time.Minute || strings.Join(index.Tags, ",") != "index,all-drugs" {
		t.Errorf("index options = %+v", index)
	}

	if unknown := table.Get("bogus"); unknown.L2TTL != 0 || unknown.Tags != nil {
		t.Errorf("unknown policy = %+v", unknown)
	}
}
