package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"merchant-risk-engine/internal/stream"
)

const selectDocumentsSQL = `SELECT
    stream, merchant_id, observed_at, polarity, rating, flagged, volatility
FROM raw_documents
WHERE stream = $1 AND merchant_id = $2
  AND observed_at >= $3 AND observed_at < $4
ORDER BY observed_at;`

// DocumentAccessor serves raw documents from the raw_documents table, for
// deployments that ingest streams into postgres out of band.
type DocumentAccessor struct {
	store *Store
}

// NewDocumentAccessor wires a Store into a stream.Accessor.
func NewDocumentAccessor(store *Store) *DocumentAccessor {
	return &DocumentAccessor{store: store}
}

// Fetch returns documents for one stream, merchant, and half-open range.
// Failures are wrapped as *stream.FetchError so callers degrade the affected
// component instead of failing the window.
func (a *DocumentAccessor) Fetch(ctx context.Context, s stream.Stream, merchantID string, start, end time.Time) ([]stream.Document, error) {
	pool, err := a.store.getPool()
	if err != nil {
		return nil, &stream.FetchError{Stream: s, Err: err}
	}

	rows, queryErr := pool.Query(ctx, selectDocumentsSQL, string(s), merchantID, start, end)
	if queryErr != nil {
		return nil, &stream.FetchError{Stream: s, Err: fmt.Errorf("query raw documents: %w", queryErr)}
	}
	defer rows.Close()

	docs := make([]stream.Document, 0)
	for rows.Next() {
		var (
			doc        stream.Document
			streamName string
			polarity   sql.NullString
			rating     sql.NullString
			flagged    sql.NullBool
			volatility sql.NullString
		)
		if scanErr := rows.Scan(
			&streamName,
			&doc.MerchantID,
			&doc.ObservedAt,
			&polarity,
			&rating,
			&flagged,
			&volatility,
		); scanErr != nil {
			return nil, &stream.FetchError{Stream: s, Err: scanErr}
		}
		doc.Stream = stream.Stream(streamName)

		if doc.Polarity, err = nullableDecimal("polarity", polarity); err != nil {
			return nil, &stream.FetchError{Stream: s, Err: err}
		}
		if doc.Rating, err = nullableDecimal("rating", rating); err != nil {
			return nil, &stream.FetchError{Stream: s, Err: err}
		}
		if doc.Volatility, err = nullableDecimal("volatility", volatility); err != nil {
			return nil, &stream.FetchError{Stream: s, Err: err}
		}
		if flagged.Valid {
			v := flagged.Bool
			doc.Flagged = &v
		}
		docs = append(docs, doc)
	}
	if rows.Err() != nil {
		return nil, &stream.FetchError{Stream: s, Err: rows.Err()}
	}
	return docs, nil
}

func nullableDecimal(field string, value sql.NullString) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(value.String)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &d, nil
}

var _ stream.Accessor = (*DocumentAccessor)(nil)
