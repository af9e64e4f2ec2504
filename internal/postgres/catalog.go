package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scout-progress/internal/domain"
)

// Catalog reads curriculum reference data
type Catalog struct {
	repo *Repository
}

// NewCatalog creates a curriculum catalog on repo
func NewCatalog(repo *Repository) *Catalog {
	return &Catalog{repo: repo}
}

// ListAll returns every curriculum item
func (c *Catalog) ListAll(ctx context.Context) ([]domain.CurriculumItem, error) {
	rows, err := c.repo.pool.Query(ctx, `
		SELECT id, level, category, item_number, religious_subtype, title
		FROM curriculum_items
		ORDER BY level, category, item_number, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing curriculum items: %w", err)
	}
	defer rows.Close()

	var items []domain.CurriculumItem
	for rows.Next() {
		var it domain.CurriculumItem
		err := rows.Scan(
			&it.ID,
			&it.Level,
			&it.Category,
			&it.ItemNumber,
			&it.ReligiousSubtype,
			&it.Title,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning curriculum item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertItems inserts or updates curriculum items in one batch
func (c *Catalog) UpsertItems(ctx context.Context, items []domain.CurriculumItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO curriculum_items (id, level, category, item_number, religious_subtype, title, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id)
		DO UPDATE SET level = $2, category = $3, item_number = $4,
		              religious_subtype = $5, title = $6, updated_at = $7
	`
	now := time.Now()

	for _, it := range items {
		batch.Queue(query,
			it.ID,
			string(it.Level),
			string(it.Category),
			it.ItemNumber,
			it.ReligiousSubtype,
			it.Title,
			now,
		)
	}

	br := c.repo.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting curriculum items: %w", err)
		}
	}

	c.repo.logger.Info("curriculum items upserted", "count", len(items))
	return nil
}
