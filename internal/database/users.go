package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"agrilink/internal/models"
)

const userColumns = `id, name, phone, role, is_blocked, lat, lng,
       war_total_jobs, war_on_time_count, war_dispute_count_6m, war_cancellation_count_6m,
       war_final_rating, war_last_calculated, last_activity, created_at, updated_at`

// userFieldColumns whitelists the columns a partial update may touch. The
// war_* columns are written only by the reliability scorer.
var userFieldColumns = map[string]bool{
	"name": true, "phone": true, "is_blocked": true,
	"war_total_jobs": true, "war_on_time_count": true,
	"war_dispute_count_6m": true, "war_cancellation_count_6m": true,
	"war_final_rating": true, "war_last_calculated": true,
	"last_activity": true,
}

func scanUser(scan func(dest ...any) error) (*models.User, error) {
	var u models.User
	var phone sql.NullString
	var lat, lng sql.NullFloat64
	var warCalc, lastActivity sql.NullTime

	err := scan(
		&u.ID, &u.Name, &phone, &u.Role, &u.IsBlocked, &lat, &lng,
		&u.WARTotalJobs, &u.WAROnTimeCount, &u.WARDisputeCount6M, &u.WARCancellationCount6M,
		&u.WARFinalRating, &warCalc, &lastActivity, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Phone = phone.String
	if lat.Valid || lng.Valid {
		u.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if warCalc.Valid {
		u.WARLastCalculated = warCalc.Time
	}
	if lastActivity.Valid {
		u.LastActivity = lastActivity.Time
	}
	return &u, nil
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	var lat, lng any
	if user.Location != nil {
		lat, lng = user.Location.Lat, user.Location.Lng
	}

	now := time.Now()
	query := `INSERT INTO users (id, name, phone, role, is_blocked, lat, lng,
                war_total_jobs, war_on_time_count, war_dispute_count_6m, war_cancellation_count_6m,
                war_final_rating, last_activity, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.db.ExecContext(ctx, query,
		user.ID, user.Name, user.Phone, user.Role, user.IsBlocked, lat, lng,
		user.WARTotalJobs, user.WAROnTimeCount, user.WARDisputeCount6M, user.WARCancellationCount6M,
		user.WARFinalRating, now, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)
	user, err := scanUser(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (db *DB) GetUsersByRole(ctx context.Context, role string) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ? ORDER BY name`
	rows, err := db.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserFields applies a partial merge of whitelisted columns.
func (db *DB) UpdateUserFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !userFieldColumns[col] {
			return fmt.Errorf("user field %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(cols)+2)
	sb.WriteString("UPDATE users SET ")
	for _, col := range cols {
		sb.WriteString(col + " = ?, ")
		args = append(args, fields[col])
	}
	sb.WriteString("updated_at = ? WHERE id = ?")
	args = append(args, time.Now(), id)

	result, err := db.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to update user fields: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
