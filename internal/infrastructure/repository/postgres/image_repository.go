package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/carsnap/angle-review/internal/core/domain"
)

// ImageRepository is the authoritative vehicle image store. The write
// priority rule (user > model > heuristic > cache) is enforced inside the
// SQL predicates via a persisted source rank, so a stale automated write can
// never clobber a later user write regardless of in-process ordering.
type ImageRepository struct {
	db *sql.DB
}

func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ImageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS vehicle_images (
	document_id TEXT NOT NULL,
	url TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'exterior',
	angle TEXT NOT NULL DEFAULT 'unknown',
	is_closeup BOOLEAN NOT NULL DEFAULT FALSE,
	source TEXT NOT NULL DEFAULT '',
	source_rank SMALLINT NOT NULL DEFAULT 0,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, url)
);

CREATE INDEX IF NOT EXISTS idx_vehicle_images_document ON vehicle_images(document_id);
CREATE INDEX IF NOT EXISTS idx_vehicle_images_angle ON vehicle_images(document_id, category, angle);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// UpsertPatches applies field-level patches one row at a time. A patch whose
// source is outranked by the stored row leaves the row untouched and is not
// counted. Returns how many rows were accepted.
func (r *ImageRepository) UpsertPatches(ctx context.Context, documentID string, patches []domain.ImagePatch) (int, error) {
	const query = `
INSERT INTO vehicle_images (document_id, url, category, angle, is_closeup, source, source_rank, confidence, created_at, updated_at)
VALUES ($1, $2, COALESCE($3::text, 'exterior'), COALESCE($4::text, 'unknown'), COALESCE($5::boolean, FALSE), $6, $7, COALESCE($8::double precision, 0), $9, $9)
ON CONFLICT (document_id, url) DO UPDATE SET
	category    = COALESCE($3::text, vehicle_images.category),
	angle       = COALESCE($4::text, vehicle_images.angle),
	is_closeup  = COALESCE($5::boolean, vehicle_images.is_closeup),
	source      = $6,
	source_rank = $7,
	confidence  = COALESCE($8::double precision, vehicle_images.confidence),
	updated_at  = $9
WHERE vehicle_images.source_rank <= $7
`
	applied := 0
	now := time.Now().UTC()
	for _, p := range patches {
		res, err := r.db.ExecContext(ctx, query,
			documentID, p.URL,
			categoryArg(p.Category), angleArg(p.Angle), p.IsCloseup,
			string(p.Source), p.Source.Rank(), p.Confidence, now,
		)
		if err != nil {
			return applied, fmt.Errorf("upsert image %s: %w", p.URL, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("upsert image %s rows: %w", p.URL, err)
		}
		applied += int(rows)
	}
	return applied, nil
}

// ApplyResult merges one automated classification into the store. It is a
// conditional update keyed on image existence: a row deleted mid-flight means
// the result is discarded, and a stored source that outranks the result wins.
func (r *ImageRepository) ApplyResult(ctx context.Context, documentID string, result domain.ClassificationResult) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE vehicle_images
SET angle = $3, source = $4, source_rank = $5, confidence = $6, updated_at = $7
WHERE document_id = $1 AND url = $2 AND category = 'exterior' AND source_rank <= $5
`, documentID, result.URL, string(result.Angle), string(result.Source), result.Source.Rank(), result.Confidence, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("apply classification result: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("apply classification result rows: %w", err)
	}
	return rows > 0, nil
}

func (r *ImageRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Image, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, url, category, angle, is_closeup, source, confidence, created_at, updated_at
FROM vehicle_images
WHERE document_id = $1
ORDER BY created_at, url
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []domain.Image
	for rows.Next() {
		var img domain.Image
		var category, angle, source string
		if err := rows.Scan(
			&img.DocumentID, &img.URL, &category, &angle, &img.IsCloseup,
			&source, &img.Confidence, &img.CreatedAt, &img.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.Category = domain.Category(category)
		img.Angle = domain.Angle(angle)
		img.Source = domain.Source(source)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

// CountAngles computes the aggregate counts live from current data.
func (r *ImageRepository) CountAngles(ctx context.Context, documentID string) (domain.AngleCounts, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE category = 'exterior') AS total_exterior,
	COUNT(*) FILTER (WHERE category = 'exterior' AND angle = 'unknown') AS unknown_exterior
FROM vehicle_images
WHERE document_id = $1
`, documentID)

	var counts domain.AngleCounts
	if err := row.Scan(&counts.TotalExterior, &counts.UnknownExterior); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AngleCounts{}, nil
		}
		return domain.AngleCounts{}, fmt.Errorf("scan angle counts: %w", err)
	}
	return counts, nil
}

// DeleteImage removes one record; deleting an already-absent row is a no-op
// so racing sessions converge.
func (r *ImageRepository) DeleteImage(ctx context.Context, documentID, url string) error {
	if _, err := r.db.ExecContext(ctx, `
DELETE FROM vehicle_images WHERE document_id = $1 AND url = $2
`, documentID, url); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

func categoryArg(c *domain.Category) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func angleArg(a *domain.Angle) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}
