package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS food_items (
	id              TEXT PRIMARY KEY,
	shop            TEXT NOT NULL,
	category        TEXT NOT NULL,
	name            TEXT NOT NULL,
	price           REAL NOT NULL,
	portion_grams   REAL,
	kcal_100g       REAL,
	protein_100g    REAL,
	fat_100g        REAL,
	carb_100g       REAL,
	price_per_100g  REAL,
	tags            TEXT NOT NULL DEFAULT '[]',
	composition     TEXT NOT NULL DEFAULT '',
	nutrient_basis  TEXT NOT NULL DEFAULT '',
	basis_ambiguous INTEGER NOT NULL DEFAULT 0,
	photo_url       TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL,
	scraped_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS food_items_shop_category ON food_items (shop, category);
`

const sqliteUpsert = `
INSERT INTO food_items (
	id, shop, category, name, price, portion_grams,
	kcal_100g, protein_100g, fat_100g, carb_100g, price_per_100g,
	tags, composition, nutrient_basis, basis_ambiguous, photo_url, url, scraped_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	category = excluded.category,
	name = excluded.name,
	price = excluded.price,
	portion_grams = excluded.portion_grams,
	kcal_100g = excluded.kcal_100g,
	protein_100g = excluded.protein_100g,
	fat_100g = excluded.fat_100g,
	carb_100g = excluded.carb_100g,
	price_per_100g = excluded.price_per_100g,
	tags = excluded.tags,
	composition = excluded.composition,
	nutrient_basis = excluded.nutrient_basis,
	basis_ambiguous = excluded.basis_ambiguous,
	photo_url = excluded.photo_url,
	url = excluded.url,
	scraped_at = excluded.scraped_at
`

// SQLiteWriter upserts items into a food_items table keyed by stable ID, so
// repeated runs refresh rows instead of duplicating them.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if filename != ":memory:" {
		if err := ensureDir(filename); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteWriter{db: db}, nil
}

// Write upserts items in one transaction.
func (sw *SQLiteWriter) Write(items []*models.NormalizedFoodItem) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(sqliteUpsert)
	if err != nil {
		return fmt.Errorf("prepare sqlite upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		tags, err := json.Marshal(nonNil(item.Tags))
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		_, err = stmt.Exec(
			item.ID, item.Shop, item.Category, item.Name, item.Price,
			nullFloat(item.PortionGrams),
			nullFloat(item.Kcal100g),
			nullFloat(item.Protein100g),
			nullFloat(item.Fat100g),
			nullFloat(item.Carb100g),
			nullFloat(item.PricePer100g),
			string(tags), item.Composition, string(item.NutrientBasis), item.BasisAmbiguous,
			item.PhotoURL, item.URL, item.ScrapedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", item.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Close closes the database.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures at least one row was stored.
func (sw *SQLiteWriter) Validate() error {
	var n int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM food_items`).Scan(&n); err != nil {
		return fmt.Errorf("count sqlite rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite table food_items is empty")
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
