package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/Combine-Capital/drugfacts/pkg/database"
	"github.com/Combine-Capital/drugfacts/pkg/drugs"
	"github.com/Combine-Capital/drugfacts/pkg/errors"
	"github.com/Combine-Capital/drugfacts/pkg/logging"
	"github.com/Combine-Capital/drugfacts/pkg/retry"
	"github.com/Combine-Capital/drugfacts/pkg/tracing"
)

// DefaultTable holds the drug documents when no table is configured.
const DefaultTable = "drugs"

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS %[1]s (
	slug       text PRIMARY KEY,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`
	findSQL = `SELECT doc FROM %[1]s
WHERE ($1 = '' OR strpos(lower(doc->>'therapeuticClass'), lower($1)) > 0)
  AND ($2 = '' OR strpos(lower(doc->>'manufacturer'), lower($2)) > 0)
ORDER BY slug`
	countSQL       = `SELECT count(*) FROM %[1]s`
	getBySlugSQL   = `SELECT doc FROM %[1]s WHERE slug = $1`
	findBySlugsSQL = `SELECT doc FROM %[1]s WHERE slug = ANY($1)`
	upsertSQL      = `INSERT INTO %[1]s (slug, doc, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`
	distinctSQL = `SELECT DISTINCT doc->>'%[2]s' AS v FROM %[1]s
WHERE coalesce(doc->>'%[2]s', '') <> '' ORDER BY v`
)

// DB is what Postgres needs from a connection pool. *database.Pool satisfies it.
type DB interface {
	database.Database
	WithTransaction(ctx context.Context, fn database.TransactionFunc) error
}

// PostgresOptions configures a Postgres store.
type PostgresOptions struct {
	// Table defaults to DefaultTable.
	Table string
	// QueryTimeout bounds each statement. Zero means no bound beyond ctx.
	QueryTimeout time.Duration
	// Retry applies to reads. A zero config retries temporary errors three times.
	Retry  retry.Config
	Logger *logging.Logger
}

type statements struct {
	schema, find, count, getBySlug, findBySlugs, upsert string
	distinct                                            map[drugs.Facet]string
}

func newStatements(table string) statements {
	t := pgx.Identifier{table}.Sanitize()
	return statements{
		schema:      fmt.Sprintf(schemaSQL, t),
		find:        fmt.Sprintf(findSQL, t),
		count:       fmt.Sprintf(countSQL, t),
		getBySlug:   fmt.Sprintf(getBySlugSQL, t),
		findBySlugs: fmt.Sprintf(findBySlugsSQL, t),
		upsert:      fmt.Sprintf(upsertSQL, t),
		// Keyed by facet so no caller input reaches the statement text.
		distinct: map[drugs.Facet]string{
			drugs.FacetTherapeuticClass: fmt.Sprintf(distinctSQL, t, drugs.FacetTherapeuticClass),
			drugs.FacetManufacturer:     fmt.Sprintf(distinctSQL, t, drugs.FacetManufacturer),
		},
	}
}

// Postgres stores drugs as JSONB documents. Reads retry transient failures.
type Postgres struct {
	db      DB
	table   string
	sql     statements
	timeout time.Duration
	retry   retry.Config
	logger  *logging.Logger
}

// NewPostgres wraps db.
func NewPostgres(db DB, opts PostgresOptions) *Postgres {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.WithComponent("docstore")
	opts.Retry.OnRetry = func(err error, delay time.Duration) {
		logger.Warn().Err(err).Dur("delay", delay).Msg("retrying document store query")
	}
	return &Postgres{
		db:      db,
		table:   opts.Table,
		sql:     newStatements(opts.Table),
		timeout: opts.QueryTimeout,
		retry:   opts.Retry,
		logger:  logger,
	}
}

func (p *Postgres) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// EnsureSchema creates the drugs table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, p.sql.schema); err != nil {
		return errors.Wrap(database.Classify(err), "failed to create drugs table")
	}
	return nil
}

// Find returns the documents whose therapeutic class and manufacturer contain the
// filter values, case-insensitively, ordered by slug. Empty filter fields match all.
func (p *Postgres) Find(ctx context.Context, filter drugs.Filter) ([]drugs.Drug, error) {
	ctx, span := p.startSpan(ctx, "docstore.find", "SELECT")
	defer span.End()

	out, err := retry.DoWithData(ctx, p.retry, func() ([]drugs.Drug, error) {
		return p.queryDocs(ctx, p.sql.find, filter.TherapeuticClass, filter.Manufacturer)
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored documents.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	ctx, span := p.startSpan(ctx, "docstore.count", "SELECT")
	defer span.End()

	n, err := retry.DoWithData(ctx, p.retry, func() (int64, error) {
		qctx, cancel := p.bound(ctx)
		defer cancel()

		var n int64
		if err := p.db.QueryRow(qctx, p.sql.count).Scan(&n); err != nil {
			return 0, database.Classify(err)
		}
		return n, nil
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}
	return int(n), nil
}

// Distinct returns the sorted non-empty values of facet. An unknown facet is
// InvalidInput.
func (p *Postgres) Distinct(ctx context.Context, facet drugs.Facet) ([]string, error) {
	query, ok := p.sql.distinct[facet]
	if !ok {
		return nil, errors.NewInvalidInput("facet", "unknown facet "+string(facet))
	}

	ctx, span := p.startSpan(ctx, "docstore.distinct", "SELECT")
	defer span.End()

	out, err := retry.DoWithData(ctx, p.retry, func() ([]string, error) {
		qctx, cancel := p.bound(ctx)
		defer cancel()

		rows, err := p.db.Query(qctx, query)
		if err != nil {
			return nil, database.Classify(err)
		}
		defer rows.Close()

		values := []string{}
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, database.Classify(rows.Err())
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return out, nil
}

// GetBySlug returns the document stored under slug, or NotFound.
func (p *Postgres) GetBySlug(ctx context.Context, slug string) (drugs.Drug, error) {
	ctx, span := p.startSpan(ctx, "docstore.get", "SELECT")
	defer span.End()

	d, err := retry.DoWithData(ctx, p.retry, func() (drugs.Drug, error) {
		qctx, cancel := p.bound(ctx)
		defer cancel()

		var raw []byte
		if err := p.db.QueryRow(qctx, p.sql.getBySlug, slug).Scan(&raw); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return drugs.Drug{}, errors.NewNotFoundWithCause("drug", slug, err)
			}
			return drugs.Drug{}, database.Classify(err)
		}
		return decodeDoc(raw)
	})
	if err != nil {
		if !errors.IsNotFound(err) {
			tracing.SetSpanError(ctx, err)
		}
		return drugs.Drug{}, err
	}
	return d, nil
}

// FindBySlugs returns the documents for the slugs that exist, in no particular order.
func (p *Postgres) FindBySlugs(ctx context.Context, slugs []string) ([]drugs.Drug, error) {
	if len(slugs) == 0 {
		return []drugs.Drug{}, nil
	}

	ctx, span := p.startSpan(ctx, "docstore.find_by_slugs", "SELECT")
	defer span.End()

	out, err := retry.DoWithData(ctx, p.retry, func() ([]drugs.Drug, error) {
		return p.queryDocs(ctx, p.sql.findBySlugs, slugs)
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, err
	}
	return out, nil
}

// Upsert writes docs in one transaction. A document without a slug rejects the batch.
func (p *Postgres) Upsert(ctx context.Context, docs ...drugs.Drug) error {
	if len(docs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	payloads := make([][]byte, len(docs))
	for i, d := range docs {
		if d.Slug == "" {
			return errors.NewInvalidInput("slug", "is required")
		}
		d.UpdatedAt = &now
		raw, err := json.Marshal(d)
		if err != nil {
			return errors.NewPermanent("failed to encode drug "+d.Slug, err)
		}
		payloads[i] = raw
	}

	ctx, span := p.startSpan(ctx, "docstore.upsert", "INSERT")
	defer span.End()

	err := p.db.WithTransaction(ctx, func(tx database.Transaction) error {
		for i, d := range docs {
			if _, err := tx.Exec(ctx, p.sql.upsert, d.Slug, payloads[i], now); err != nil {
				return database.Classify(err)
			}
		}
		return nil
	})
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return errors.Wrapf(err, "failed to upsert %d drugs", len(docs))
	}

	p.logger.Debug().Int("count", len(docs)).Msg("drugs upserted")
	return nil
}

func (p *Postgres) queryDocs(ctx context.Context, query string, args ...any) ([]drugs.Drug, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	out := []drugs.Drug{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, database.Classify(rows.Err())
}

func decodeDoc(raw []byte) (drugs.Drug, error) {
	var d drugs.Drug
	if err := json.Unmarshal(raw, &d); err != nil {
		return drugs.Drug{}, errors.NewPermanent("malformed drug document", err)
	}
	return d, nil
}

func (p *Postgres) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracing.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.DatabaseAttributes("postgresql", op, p.table)...))
}
