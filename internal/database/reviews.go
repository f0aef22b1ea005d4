package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agrilink/internal/models"
)

func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	now := time.Now()
	query := `INSERT INTO reviews (id, booking_id, supplier_id, farmer_id, rating, comment, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		review.ID, review.BookingID, review.SupplierID, review.FarmerID,
		review.Rating, review.Comment, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	review.CreatedAt = now
	return nil
}

func (db *DB) GetReviewsBySupplier(ctx context.Context, supplierID string) ([]*models.Review, error) {
	query := `SELECT id, booking_id, supplier_id, farmer_id, rating, comment, created_at
              FROM reviews WHERE supplier_id = ? ORDER BY created_at DESC`
	rows, err := db.db.QueryContext(ctx, query, supplierID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		var r models.Review
		var comment sql.NullString
		if err := rows.Scan(&r.ID, &r.BookingID, &r.SupplierID, &r.FarmerID, &r.Rating, &comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.Comment = comment.String
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	now := time.Now()
	query := `INSERT INTO notifications (id, user_id, message, type, category, priority, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query, n.ID, n.UserID, n.Message, n.Type, n.Category, n.Priority, now)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	n.CreatedAt = now
	return nil
}

// GetNotificationsForUser returns the newest notifications first, capped at limit.
func (db *DB) GetNotificationsForUser(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	query := `SELECT id, user_id, message, type, category, priority, created_at
              FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := db.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Category, &n.Priority, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
