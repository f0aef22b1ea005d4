package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agrilink/internal/models"
)

const itemColumns = `id, supplier_id, name, category, purpose_rates, operator_rate,
       available, quantity_total, quantity_available, lat, lng, is_active, sort_order, created_at, updated_at`

func scanItem(scan func(dest ...any) error) (*models.Item, error) {
	var i models.Item
	var rates string
	var lat, lng sql.NullFloat64

	err := scan(
		&i.ID, &i.SupplierID, &i.Name, &i.Category, &rates, &i.OperatorRate,
		&i.Available, &i.QuantityTotal, &i.QuantityAvailable, &lat, &lng, &i.IsActive, &i.SortOrder,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rates), &i.PurposeRates); err != nil {
		return nil, fmt.Errorf("failed to decode purpose rates for item %s: %w", i.ID, err)
	}
	if lat.Valid || lng.Valid {
		i.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &i, nil
}

func (db *DB) CreateItem(ctx context.Context, item *models.Item) error {
	rates, err := json.Marshal(item.PurposeRates)
	if err != nil {
		return fmt.Errorf("failed to encode purpose rates: %w", err)
	}

	var lat, lng any
	if item.Location != nil {
		lat, lng = item.Location.Lat, item.Location.Lng
	}

	// A catalog entry that only sets quantity_available declares its pool.
	if item.QuantityTotal == 0 {
		item.QuantityTotal = item.QuantityAvailable
	}

	now := time.Now()
	query := `INSERT INTO items (id, supplier_id, name, category, purpose_rates, operator_rate,
                available, quantity_total, quantity_available, lat, lng, is_active, sort_order, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.db.ExecContext(ctx, query,
		item.ID, item.SupplierID, item.Name, item.Category, string(rates), item.OperatorRate,
		item.Available, item.QuantityTotal, item.QuantityAvailable, lat, lng, item.IsActive, item.SortOrder, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (db *DB) GetItem(ctx context.Context, id string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)
	item, err := scanItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (db *DB) GetActiveItems(ctx context.Context) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE is_active = 1 ORDER BY sort_order, name`
	return db.queryItems(ctx, query)
}

func (db *DB) GetItemsByCategory(ctx context.Context, category string) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE is_active = 1 AND category = ? ORDER BY sort_order, name`
	return db.queryItems(ctx, query, category)
}

// UpdateItem replaces the item's mutable fields. Availability arbitration is
// the matching engine's job; the store just writes what it is given.
func (db *DB) UpdateItem(ctx context.Context, item *models.Item) error {
	rates, err := json.Marshal(item.PurposeRates)
	if err != nil {
		return fmt.Errorf("failed to encode purpose rates: %w", err)
	}

	var lat, lng any
	if item.Location != nil {
		lat, lng = item.Location.Lat, item.Location.Lng
	}

	query := `UPDATE items SET supplier_id = ?, name = ?, category = ?, purpose_rates = ?,
                operator_rate = ?, available = ?, quantity_total = ?, quantity_available = ?,
                lat = ?, lng = ?, is_active = ?, sort_order = ?, updated_at = ?
              WHERE id = ?`
	result, err := db.db.ExecContext(ctx, query,
		item.SupplierID, item.Name, item.Category, string(rates),
		item.OperatorRate, item.Available, item.QuantityTotal, item.QuantityAvailable, lat, lng,
		item.IsActive, item.SortOrder, time.Now(), item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncItems upserts the startup catalog. Existing items keep their live
// availability; only the rate card and metadata are refreshed.
func (db *DB) SyncItems(ctx context.Context, items []models.Item) error {
	for i := range items {
		item := items[i]
		existing, err := db.GetItem(ctx, item.ID)
		if err == ErrNotFound {
			if item.QuantityAvailable > 0 {
				item.Available = true
			}
			if err := db.CreateItem(ctx, &item); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		if item.QuantityTotal == 0 {
			item.QuantityTotal = item.QuantityAvailable
		}
		item.Available = existing.Available
		item.QuantityAvailable = existing.QuantityAvailable
		if err := db.UpdateItem(ctx, &item); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) queryItems(ctx context.Context, query string, args ...any) ([]*models.Item, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
