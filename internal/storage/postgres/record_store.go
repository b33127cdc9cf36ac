package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/heritage-crawler/internal/crawler"
)

const recordColumns = `id, name, country, category, description_en, description_zh,
	content, metadata, created_at, updated_at`

// RecordStore persists catalog records in the heritage_site table.
type RecordStore struct {
	db dbtx
}

// NewRecordStore builds a RecordStore over an open pool.
func NewRecordStore(db dbtx) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RecordStore{db: db}, nil
}

// GetRecord fetches a record by id.
func (s *RecordStore) GetRecord(ctx context.Context, id int64) (crawler.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM heritage_site WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return crawler.Record{}, mapError(err, "record %d", id)
	}
	return rec, nil
}

// FindByName fetches a record by its unique name.
func (s *RecordStore) FindByName(ctx context.Context, name string) (crawler.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM heritage_site WHERE name = $1`, name)
	rec, err := scanRecord(row)
	if err != nil {
		return crawler.Record{}, mapError(err, "record %q", name)
	}
	return rec, nil
}

// InsertRecord stores a new record. A duplicate name yields ErrConflict.
func (s *RecordStore) InsertRecord(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	if rec.Name == "" {
		return crawler.Record{}, fmt.Errorf("%w: record name is required", crawler.ErrInvalidInput)
	}
	metadata, err := marshalAttributes(rec.Attributes)
	if err != nil {
		return crawler.Record{}, err
	}
	row := s.db.QueryRow(ctx, `
INSERT INTO heritage_site (name, country, category, description_en, description_zh,
	content, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+recordColumns,
		rec.Name,
		rec.Country,
		rec.Category,
		rec.DescriptionPrimary,
		rec.DescriptionSecondary,
		rec.Content,
		metadata,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	stored, err := scanRecord(row)
	if err != nil {
		return crawler.Record{}, mapError(err, "insert record %q", rec.Name)
	}
	return stored, nil
}

// UpdateRecord overwrites the mutable fields and updated_at of rec.ID.
func (s *RecordStore) UpdateRecord(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	metadata, err := marshalAttributes(rec.Attributes)
	if err != nil {
		return crawler.Record{}, err
	}
	row := s.db.QueryRow(ctx, `
UPDATE heritage_site SET
	country = $2,
	category = $3,
	description_en = $4,
	description_zh = $5,
	content = $6,
	metadata = $7,
	updated_at = $8
WHERE id = $1
RETURNING `+recordColumns,
		rec.ID,
		rec.Country,
		rec.Category,
		rec.DescriptionPrimary,
		rec.DescriptionSecondary,
		rec.Content,
		metadata,
		rec.UpdatedAt,
	)
	stored, err := scanRecord(row)
	if err != nil {
		return crawler.Record{}, mapError(err, "update record %d", rec.ID)
	}
	return stored, nil
}

func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal record metadata: %w", err)
	}
	return data, nil
}

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var (
		rec      crawler.Record
		metadata []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Country,
		&rec.Category,
		&rec.DescriptionPrimary,
		&rec.DescriptionSecondary,
		&rec.Content,
		&metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return crawler.Record{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Attributes); err != nil {
			return crawler.Record{}, fmt.Errorf("decode record metadata: %w", err)
		}
	}
	return rec, nil
}
