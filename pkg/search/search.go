// Package search ranks documents against a free-text query.
//
// Ranking works on any document type: callers supply a function that projects a
// document onto Fields. Filters narrow the candidates first, then each candidate is
// scored by a sum of independent weighted predicates, sorted by score and paged.
//
//	page := search.Rank(drugs, q, func(d drugs.Drug) search.Fields {
//		return search.Fields{PrimaryName: d.DrugName, ...}
//	})
package search

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Combine-Capital/drugfacts/pkg/errors"
)

// Mode selects the ranking strategy.
type Mode string

const (
	// ModeWeighted scores the whole query against each field.
	ModeWeighted Mode = "weighted"
	// ModeStandard returns every document matching any field, ordered by name.
	ModeStandard Mode = "standard"
	// ModeText scores each whitespace separated term independently.
	ModeText Mode = "text"
)

// Limits applied by Query.Validate.
const (
	DefaultLimit   = 50
	MaxLimit       = 100
	MaxQueryLength = 200
	MaxFilterLen   = 100
)

// Weighted mode predicate weights.
const (
	WeightExactPrimary   = 10
	WeightPrimary        = 8
	WeightSecondary      = 6
	WeightIngredient     = 5
	WeightBody           = 4
	WeightCategorySource = 2
)

var queryPattern = regexp.MustCompile(`^[a-zA-Z0-9\s\-\.]+$`)

// Fields is the searchable projection of a document.
type Fields struct {
	PrimaryName      string
	SecondaryName    string
	ActiveIngredient string
	Body             [2]string
	Category         string
	Source           string
}

// Query is one search request. Category and Source are substring filters.
type Query struct {
	Text     string
	Category string
	Source   string
	Page     int
	Limit    int
	Mode     Mode
}

// Normalize trims the text and filters and fills in defaults for page, limit and mode.
func (q Query) Normalize() Query {
	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	q.Source = strings.TrimSpace(q.Source)
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Mode == "" {
		q.Mode = ModeWeighted
	}
	return q
}

// Validate normalizes q and checks its bounds.
func (q Query) Validate() (Query, error) {
	q = q.Normalize()

	if utf8.RuneCountInString(q.Text) > MaxQueryLength {
		return q, errors.NewInvalidInput("q", "must be at most 200 characters")
	}
	if q.Text != "" && !queryPattern.MatchString(q.Text) {
		return q, errors.NewInvalidInput("q", "may only contain letters, digits, spaces, hyphens and dots")
	}
	if utf8.RuneCountInString(q.Category) > MaxFilterLen {
		return q, errors.NewInvalidInput("therapeuticClass", "must be at most 100 characters")
	}
	if utf8.RuneCountInString(q.Source) > MaxFilterLen {
		return q, errors.NewInvalidInput("manufacturer", "must be at most 100 characters")
	}
	if q.Page < 1 {
		return q, errors.NewInvalidInput("page", "must be at least 1")
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return q, errors.NewInvalidInput("limit", "must be between 1 and 100")
	}
	switch q.Mode {
	case ModeWeighted, ModeStandard, ModeText:
	default:
		return q, errors.NewInvalidInput("searchType", "must be one of weighted, standard, text")
	}
	return q, nil
}

// Page is one page of ranked documents. Total counts every match, not just this page.
type Page[T any] struct {
	Items []T
	Total int
	Page  int
	Limit int
}

// TotalPages returns the number of pages Total spans at Limit.
func (p Page[T]) TotalPages() int {
	return pages(p.Total, p.Limit)
}

func pages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	n := total / limit
	if total%limit != 0 {
		n++
	}
	return n
}

// HasNext reports whether a page follows this one.
func (p Page[T]) HasNext() bool { return p.Page < p.TotalPages() }

// HasPrev reports whether a page precedes this one.
func (p Page[T]) HasPrev() bool { return p.Page > 1 }

type scored[T any] struct {
	doc    T
	fields Fields
	score  int
}

// Rank filters, scores, orders and pages docs for q. q is normalized but not validated;
// a page below 1 reads as 1 and a limit below 1 as DefaultLimit.
// An empty query text skips scoring and returns every filtered document ordered by
// primary name.
func Rank[T any](docs []T, q Query, fieldsOf func(T) Fields) Page[T] {
	q = q.Normalize()
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	text := strings.ToLower(q.Text)
	category := strings.ToLower(q.Category)
	source := strings.ToLower(q.Source)

	candidates := make([]scored[T], 0, len(docs))
	for _, d := range docs {
		f := fieldsOf(d)
		if !containsFold(f.Category, category) || !containsFold(f.Source, source) {
			continue
		}
		candidates = append(candidates, scored[T]{doc: d, fields: f})
	}

	if text != "" {
		candidates = score(candidates, text, q.Mode)
	}

	slices.SortStableFunc(candidates, func(a, b scored[T]) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return strings.Compare(a.fields.PrimaryName, b.fields.PrimaryName)
	})

	return paginate(candidates, q.Page, q.Limit)
}

// Score returns the weighted-mode score of f for the query text.
func Score(f Fields, text string) int {
	return weighted(f, strings.ToLower(strings.TrimSpace(text)))
}

func score[T any](candidates []scored[T], text string, mode Mode) []scored[T] {
	var fn func(Fields, string) int
	switch mode {
	case ModeStandard:
		fn = standard
	case ModeText:
		fn = textScore
	default:
		fn = weighted
	}

	kept := candidates[:0]
	for _, c := range candidates {
		c.score = fn(c.fields, text)
		if c.score <= 0 {
			continue
		}
		// standard mode only filters; ordering stays by name
		if mode == ModeStandard {
			c.score = 0
		}
		kept = append(kept, c)
	}
	return kept
}

func weighted(f Fields, q string) int {
	if q == "" {
		return 0
	}
	s := 0
	if strings.ToLower(f.PrimaryName) == q {
		s += WeightExactPrimary
	}
	if matches(f.PrimaryName, q) {
		s += WeightPrimary
	}
	if matches(f.SecondaryName, q) {
		s += WeightSecondary
	}
	if matches(f.ActiveIngredient, q) {
		s += WeightIngredient
	}
	if matches(f.Body[0], q) || matches(f.Body[1], q) {
		s += WeightBody
	}
	if matches(f.Category, q) || matches(f.Source, q) {
		s += WeightCategorySource
	}
	return s
}

func standard(f Fields, q string) int {
	for _, v := range textFields(f) {
		if matches(v, q) {
			return 1
		}
	}
	return 0
}

// textWeights follow the field order of textFields.
var textWeights = [...]int{10, 8, 6, 4, 3, 2, 2}

func textFields(f Fields) [7]string {
	return [7]string{f.PrimaryName, f.SecondaryName, f.ActiveIngredient, f.Body[0], f.Body[1], f.Category, f.Source}
}

func textScore(f Fields, q string) int {
	values := textFields(f)
	s := 0
	for _, term := range strings.Fields(q) {
		for i, v := range values {
			if matches(v, term) {
				s += textWeights[i]
			}
		}
	}
	return s
}

func paginate[T any](candidates []scored[T], page, limit int) Page[T] {
	p := Page[T]{Total: len(candidates), Page: page, Limit: limit, Items: []T{}}
	if page < 1 || limit < 1 || page-1 >= pages(len(candidates), limit) {
		return p
	}
	skip := (page - 1) * limit
	end := skip + min(limit, len(candidates)-skip)
	p.Items = make([]T, 0, end-skip)
	for _, c := range candidates[skip:end] {
		p.Items = append(p.Items, c.doc)
	}
	return p
}

// matches reports whether the lowercase needle occurs in v. Empty values never match.
func matches(v, needle string) bool {
	return v != "" && strings.Contains(strings.ToLower(v), needle)
}

// containsFold is the filter predicate: an empty needle matches everything.
func containsFold(v, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(v), needle)
}
