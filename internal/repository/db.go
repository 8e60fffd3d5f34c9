// Package repository persists resources and chunks in Postgres and their
// vector records in pgvector.
package repository

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cloo-solutions/taisearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// decodeStrict unmarshals stored JSON, rejecting fields the record type
// does not know about.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrDataCorruption.WithCause(err)
	}
	return nil
}

func usageJSON(event domain.UsageEvent) ([]byte, error) {
	return json.Marshal([]domain.UsageEvent{event})
}

func sendBatch(ctx context.Context, db dbtx, batch *pgx.Batch) error {
	br := db.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}
