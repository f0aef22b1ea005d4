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

const bookingColumns = `id, farmer_id, supplier_id, operator_id, booked_by_agent_id, booked_for_farmer_id,
       item_category, item_id, work_purpose, quantity, operator_required,
       date(date), start_time, end_time, estimated_duration, lat, lng,
       estimated_price, final_price, distance_charge, advance_paid,
       pay_farmer_amount, pay_supplier_amount, pay_commission, pay_method, pay_reference, pay_paid_at,
       status, cancelled_by, otp_code, otp_verified, otp_attempts,
       dispute_raised, dispute_resolved, damage_reported,
       is_rebroadcast, allow_multiple_suppliers,
       search_timeout_notified, admin_alert_count, last_admin_alert_time, late_start,
       work_start_time, created_at, updated_at, version`

// bookingFieldColumns whitelists the columns a partial update may touch.
var bookingFieldColumns = map[string]bool{
	"supplier_id": true, "operator_id": true, "item_id": true,
	"quantity": true, "estimated_price": true, "final_price": true,
	"distance_charge": true, "advance_paid": true,
	"pay_farmer_amount": true, "pay_supplier_amount": true, "pay_commission": true,
	"pay_method": true, "pay_reference": true, "pay_paid_at": true,
	"cancelled_by": true, "otp_code": true, "otp_verified": true, "otp_attempts": true,
	"dispute_raised": true, "dispute_resolved": true, "damage_reported": true,
	"is_rebroadcast": true, "search_timeout_notified": true,
	"admin_alert_count": true, "last_admin_alert_time": true, "late_start": true,
	"work_start_time": true,
}

func scanBooking(scan func(dest ...any) error) (*models.Booking, error) {
	var b models.Booking
	var dateStr string
	var supplierID, operatorID, agentID, forFarmerID, itemID, endTime sql.NullString
	var payFarmer, paySupplier, payCommission sql.NullInt64
	var payMethod, payReference, cancelledBy, otpCode sql.NullString
	var payPaidAt, lastAlert, workStart sql.NullTime

	err := scan(
		&b.ID, &b.FarmerID, &supplierID, &operatorID, &agentID, &forFarmerID,
		&b.ItemCategory, &itemID, &b.WorkPurpose, &b.Quantity, &b.OperatorRequired,
		&dateStr, &b.StartTime, &endTime, &b.EstimatedDuration, &b.Location.Lat, &b.Location.Lng,
		&b.EstimatedPrice, &b.FinalPrice, &b.DistanceCharge, &b.AdvancePaid,
		&payFarmer, &paySupplier, &payCommission, &payMethod, &payReference, &payPaidAt,
		&b.Status, &cancelledBy, &otpCode, &b.OTPVerified, &b.OTPAttempts,
		&b.DisputeRaised, &b.DisputeResolved, &b.DamageReported,
		&b.IsRebroadcast, &b.AllowMultipleSuppliers,
		&b.SearchTimeoutNotified, &b.AdminAlertCount, &lastAlert, &b.LateStart,
		&workStart, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.SupplierID = supplierID.String
	b.OperatorID = operatorID.String
	b.BookedByAgentID = agentID.String
	b.BookedForFarmerID = forFarmerID.String
	b.ItemID = itemID.String
	b.EndTime = endTime.String
	b.CancelledBy = cancelledBy.String
	b.OTPCode = otpCode.String
	if lastAlert.Valid {
		b.LastAdminAlertTime = lastAlert.Time
	}
	if workStart.Valid {
		b.WorkStartTime = workStart.Time
	}
	if payFarmer.Valid || paySupplier.Valid {
		b.Payment = &models.PaymentDetails{
			FarmerAmount:   payFarmer.Int64,
			SupplierAmount: paySupplier.Int64,
			Commission:     payCommission.Int64,
			Method:         payMethod.String,
			Reference:      payReference.String,
		}
		if payPaidAt.Valid {
			b.Payment.PaidAt = payPaidAt.Time
		}
	}

	b.Date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", dateStr, err)
	}
	return &b, nil
}

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `INSERT INTO bookings (
                id, farmer_id, supplier_id, operator_id, booked_by_agent_id, booked_for_farmer_id,
                item_category, item_id, work_purpose, quantity, operator_required,
                date, start_time, end_time, estimated_duration, lat, lng,
                estimated_price, final_price, distance_charge, advance_paid,
                status, cancelled_by, otp_code, otp_verified, otp_attempts,
                dispute_raised, dispute_resolved, damage_reported,
                is_rebroadcast, allow_multiple_suppliers,
                search_timeout_notified, admin_alert_count, late_start,
                created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	_, err := db.db.ExecContext(ctx, query,
		b.ID, b.FarmerID, b.SupplierID, b.OperatorID, b.BookedByAgentID, b.BookedForFarmerID,
		b.ItemCategory, b.ItemID, b.WorkPurpose, b.Quantity, b.OperatorRequired,
		b.Date.Format("2006-01-02"), b.StartTime, b.EndTime, b.EstimatedDuration, b.Location.Lat, b.Location.Lng,
		b.EstimatedPrice, b.FinalPrice, b.DistanceCharge, b.AdvancePaid,
		string(b.Status), b.CancelledBy, b.OTPCode, b.OTPVerified, b.OTPAttempts,
		b.DisputeRaised, b.DisputeResolved, b.DamageReported,
		b.IsRebroadcast, b.AllowMultipleSuppliers,
		b.SearchTimeoutNotified, b.AdminAlertCount, b.LateStart,
		b.CreatedAt, now, 1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	b.UpdatedAt = now
	b.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	row := db.db.QueryRowContext(ctx, query, id)
	b, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// UpdateBookingFields applies a partial merge of whitelisted columns.
func (db *DB) UpdateBookingFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !bookingFieldColumns[col] {
			return fmt.Errorf("booking field %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(cols)+2)
	sb.WriteString("UPDATE bookings SET ")
	for _, col := range cols {
		sb.WriteString(col + " = ?, ")
		args = append(args, fields[col])
	}
	sb.WriteString("updated_at = ? WHERE id = ?")
	args = append(args, time.Now(), id)

	result, err := db.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to update booking fields: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBookingStatusWithVersion transitions status and applies extra fields
// in a single conditional write. The version predicate makes the staleness
// check and the mutation one atomic operation: the caller that read an
// outdated version loses with ErrConcurrentModification.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status models.BookingStatus, fields map[string]any) error {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !bookingFieldColumns[col] {
			return fmt.Errorf("booking field %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(cols)+4)
	sb.WriteString("UPDATE bookings SET status = ?, ")
	args = append(args, string(status))
	for _, col := range cols {
		sb.WriteString(col + " = ?, ")
		args = append(args, fields[col])
	}
	sb.WriteString("version = version + 1, updated_at = ? WHERE id = ? AND version = ?")
	args = append(args, time.Now(), id, fromVersion)

	result, err := db.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetBookingsByStatus(ctx context.Context, statuses ...models.BookingStatus) ([]*models.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status IN (` + placeholders + `) ORDER BY date, created_at`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return db.queryBookings(ctx, query, args...)
}

func (db *DB) GetSearchingByCategory(ctx context.Context, category string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? AND item_category = ?`
	return db.queryBookings(ctx, query, string(models.StatusSearching), category)
}

func (db *DB) GetBookingsBySupplier(ctx context.Context, supplierID string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE supplier_id = ? ORDER BY date DESC`
	return db.queryBookings(ctx, query, supplierID)
}

// SumActiveHours totals billable hours of the supplier+item pair on a date
// across every status that still occupies the machine.
func (db *DB) SumActiveHours(ctx context.Context, supplierID, itemID string, date time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(MAX(estimated_duration, 1.0)), 0)
              FROM bookings
              WHERE supplier_id = ? AND item_id = ? AND date(date) = date(?)
              AND status IN (?, ?, ?, ?, ?, ?)`
	var total float64
	err := db.db.QueryRowContext(ctx, query, supplierID, itemID, date.Format("2006-01-02"),
		string(models.StatusPendingConfirmation), string(models.StatusAwaitingOperator),
		string(models.StatusConfirmed), string(models.StatusArrived),
		string(models.StatusInProcess), string(models.StatusPendingPayment),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum active hours: %w", err)
	}
	return total, nil
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date(date) >= ? AND date(date) <= ? ORDER BY date, created_at`
	return db.queryBookings(ctx, query, startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
