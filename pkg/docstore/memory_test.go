package docstore

import (
	"context"
	"slices"
	"testing"

	"github.com/Combine-Capital/drugfacts/pkg/drugs"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

func fixtures() []drugs.Drug {
	return []drugs.Drug{
		{DrugName: "Ozempic", Slug: "ozempic", TherapeuticClass: "GLP-1 Receptor Agonist", Manufacturer: "Novo Nordisk",
			Label: &drugs.Label{GenericName: "semaglutide"}},
		{DrugName: "Mounjaro", Slug: "mounjaro", TherapeuticClass: "GIP/GLP-1 Receptor Agonist", Manufacturer: "Eli Lilly"},
		{DrugName: "Lantus", Slug: "lantus", TherapeuticClass: "Insulin", Manufacturer: "Sanofi"},
		{DrugName: "Lipitor", Slug: "lipitor", Manufacturer: "Pfizer"},
	}
}

func TestMemoryFind(t *testing.T) {
	store := NewMemory(fixtures()...)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter drugs.Filter
		want   []string
	}{
		{"no filter", drugs.Filter{}, []string{"lantus", "lipitor", "mounjaro", "ozempic"}},
		{"class substring", drugs.Filter{TherapeuticClass: "glp-1"}, []string{"mounjaro", "ozempic"}},
		{"manufacturer", drugs.Filter{Manufacturer: "lilly"}, []string{"mounjaro"}},
		{"both", drugs.Filter{TherapeuticClass: "glp", Manufacturer: "novo"}, []string{"ozempic"}},
		{"no match", drugs.Filter{Manufacturer: "bayer"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Find(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Find() error = %v", err)
			}
			slugs := make([]string, len(got))
			for i, d := range got {
				slugs[i] = d.Slug
			}
			if !slices.Equal(slugs, tt.want) {
				t.Errorf("Find() = %v, want %v", slugs, tt.want)
			}
		})
	}
}

func TestMemoryDistinct(t *testing.T) {
	store := NewMemory(fixtures()...)
	ctx := context.Background()

	classes, err := store.Distinct(ctx, drugs.FacetTherapeuticClass)
	if err != nil {
		t.Fatalf("Distinct() error = %v", err)
	}
	want := []string{"GIP/GLP-1 Receptor Agonist", "GLP-1 Receptor Agonist", "Insulin"}
	if !slices.Equal(classes, want) {
		t.Errorf("Distinct(class) = %v, want %v", classes, want)
	}

	mfrs, err := store.Distinct(ctx, drugs.FacetManufacturer)
	if err != nil {
		t.Fatalf("Distinct() error = %v", err)
	}
	if len(mfrs) != 4 || mfrs[0] != "Eli Lilly" {
		t.Errorf("Distinct(manufacturer) = %v", mfrs)
	}

	if _, err := store.Distinct(ctx, drugs.Facet("dea")); !errors.IsInvalidInput(err) {
		t.Errorf("Distinct(unknown) error = %v, want InvalidInput", err)
	}
}

func TestMemoryGetBySlug(t *testing.T) {
	store := NewMemory(fixtures()...)
	ctx := context.Background()

	d, err := store.GetBySlug(ctx, "ozempic")
	if err != nil {
		t.Fatalf("GetBySlug() error = %v", err)
	}
	if d.DrugName != "Ozempic" {
		t.Errorf("DrugName = %q", d.DrugName)
	}

	d.Label.GenericName = "mutated"
	again, _ := store.GetBySlug(ctx, "ozempic")
	if again.Label.GenericName != "semaglutide" {
		t.Error("GetBySlug() returned a shared label")
	}

	if _, err := store.GetBySlug(ctx, "missing"); !errors.IsNotFound(err) {
		t.Errorf("GetBySlug(missing) error = %v, want NotFound", err)
	}
}

func TestMemoryFindBySlugs(t *testing.T) {
	store := NewMemory(fixtures()...)

	got, err := store.FindBySlugs(context.Background(), []string{"lantus", "missing", "ozempic"})
	if err != nil {
		t.Fatalf("FindBySlugs() error = %v", err)
	}
	if len(got) != 2 || got[0].Slug != "lantus" || got[1].Slug != "ozempic" {
		t.Errorf("FindBySlugs() = %v", got)
	}
}

func TestMemoryUpsertAndCount(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.Upsert(ctx, fixtures()...); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := store.Upsert(ctx, drugs.Drug{DrugName: "Ozempic 2mg", Slug: "ozempic"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 4 {
		t.Errorf("Count() = %d, %v, want 4", n, err)
	}
	d, _ := store.GetBySlug(ctx, "ozempic")
	if d.DrugName != "Ozempic 2mg" {
		t.Errorf("upsert did not replace: %q", d.DrugName)
	}

	if err := store.Upsert(ctx, drugs.Drug{DrugName: "Nameless"}); !errors.IsInvalidInput(err) {
		t.Errorf("Upsert(no slug) error = %v, want InvalidInput", err)
	}
}

func TestMemoryCancelledContext(t *testing.T) {
	store := NewMemory(fixtures()...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Find(ctx, drugs.Filter{}); err == nil {
		t.Error("Find() on cancelled context should fail")
	}
}
