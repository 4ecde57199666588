package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const (
	jobDocument      = `coalesce(j.job_number, '') || ' ' || coalesce(j.name, '') || ' ' || coalesce(j.notes, '')`
	customerDocument = `coalesce(c.name, '') || ' ' || coalesce(c.email, '') || ' ' || coalesce(c.phone, '') || ' ' || coalesce(c.city, '')`
)

// Search runs a UNION ALL across jobs and customers using plainto_tsquery
// and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultJob {
		vector := "to_tsvector('simple', " + jobDocument + ")"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'job'::text AS type, j.id::text AS id, j.job_number || ' ' || j.name AS title,
				ts_headline('simple', coalesce(j.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				j.stage,
				ts_rank(%s, %s) AS rank
			FROM jobs j
			WHERE %s @@ %s`, tsQuery, vector, tsQuery, vector, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultCustomer {
		vector := "to_tsvector('simple', " + customerDocument + ")"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'customer'::text AS type, c.id::text AS id, c.name AS title,
				c.email AS snippet,
				''::text AS stage,
				ts_rank(%s, %s) AS rank
			FROM customers c
			WHERE %s @@ %s`, vector, tsQuery, vector, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, stage
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Stage); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every job and customer for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)

	jobRows, err := p.db.QueryContext(ctx, `
		SELECT j.id, j.job_number, j.name, j.stage, j.notes, c.name
		FROM jobs j
		JOIN customers c ON c.id = j.customer_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer jobRows.Close()

	for jobRows.Next() {
		var id, number, name, stage, notes, customerName string
		if err := jobRows.Scan(&id, &number, &name, &stage, &notes, &customerName); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, Record{
			ID:       string(ResultJob) + "_" + id,
			EntityID: id,
			Kind:     string(ResultJob),
			Title:    number + " " + name,
			Subtitle: customerName,
			Body:     notes,
			Stage:    stage,
		})
	}
	if err := jobRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	customerRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, coalesce(phone, ''), coalesce(city, '')
		FROM customers
	`)
	if err != nil {
		return nil, fmt.Errorf("load customers: %w", err)
	}
	defer customerRows.Close()

	for customerRows.Next() {
		var id, name, email, phone, city string
		if err := customerRows.Scan(&id, &name, &email, &phone, &city); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		records = append(records, Record{
			ID:       string(ResultCustomer) + "_" + id,
			EntityID: id,
			Kind:     string(ResultCustomer),
			Title:    name,
			Subtitle: email,
			Body:     strings.Join(nonEmpty(phone, city), " "),
		})
	}
	if err := customerRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}

	return records, nil
}
