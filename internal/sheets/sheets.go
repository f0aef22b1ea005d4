// Package sheets mirrors the booking ledger into a Google spreadsheet so
// operations staff can watch the marketplace without database access.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"agrilink/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound means the booking has no ledger row yet.
var ErrRowNotFound = errors.New("booking row not found")

const (
	bookingsSheet = "Bookings"
	timeFormat    = "2006-01-02 15:04:05"
)

// LedgerService writes booking rows keyed by booking ID in column A. A row
// cache avoids rescanning the ID column on every update.
type LedgerService struct {
	service       *sheets.Service
	spreadsheetID string

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

func NewLedgerService(ctx context.Context, credentialsFile, spreadsheetID string) (*LedgerService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	svc := &LedgerService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
	}

	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = svc.WarmUpCache(warmCtx)
	}()

	return svc, nil
}

// TestConnection reads the header cell to verify credentials and sharing.
func (s *LedgerService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WarmUpCache populates the row index cache by reading the entire ID column.
func (s *LedgerService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id != "" {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// AppendBooking adds a fresh ledger row.
func (s *LedgerService) AppendBooking(ctx context.Context, booking *models.Booking) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, bookingsSheet+"!A:A", valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// UpsertBooking updates the existing ledger row or appends one.
func (s *LedgerService) UpsertBooking(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return errors.New("booking is nil")
	}

	rowIdx, err := s.FindBookingRow(ctx, booking.ID)
	if err != nil {
		if errors.Is(err, ErrRowNotFound) {
			return s.AppendBooking(ctx, booking)
		}
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:N%d", bookingsSheet, rowIdx, rowIdx)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// UpdateBookingStatus rewrites only the status and updated-at cells.
func (s *LedgerService) UpdateBookingStatus(ctx context.Context, bookingID, status string) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!H%d:H%d", bookingsSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, statusRange, &sheets.ValueRange{
		Values: [][]interface{}{{status}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	updatedRange := fmt.Sprintf("%s!N%d:N%d", bookingsSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, updatedRange, &sheets.ValueRange{
		Values: [][]interface{}{{time.Now().Format(timeFormat)}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// DeleteBookingRow clears the row that corresponds to bookingID.
func (s *LedgerService) DeleteBookingRow(ctx context.Context, bookingID string) error {
	rowIdx, err := s.FindBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:N%d", bookingsSheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCacheRow(bookingID)
	}
	return err
}

// FindBookingRow locates the 1-based row index for a booking ID in column A.
func (s *LedgerService) FindBookingRow(ctx context.Context, bookingID string) (int, error) {
	if bookingID == "" {
		return 0, errors.New("booking id is required")
	}

	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, bookingsSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id == bookingID {
			rowIdx := i + 1
			s.setCachedRow(bookingID, rowIdx)
			return rowIdx, nil
		}
	}

	return 0, ErrRowNotFound
}

// ReplaceBookingsSheet rewrites the whole ledger below the header row.
func (s *LedgerService) ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error {
	clearRange := bookingsSheet + "!A2:Z"
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear bookings sheet: %w", err)
	}

	var values [][]interface{}
	for _, booking := range bookings {
		values = append(values, bookingRowValues(booking))
	}

	valueRange := &sheets.ValueRange{Values: values}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, bookingsSheet+"!A2", valueRange).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update bookings sheet: %w", err)
	}

	s.cacheMu.Lock()
	s.rowCache = make(map[string]int)
	for i, b := range bookings {
		s.rowCache[b.ID] = i + 2 // data starts at row 2
	}
	s.cacheMu.Unlock()

	return nil
}

func (s *LedgerService) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *LedgerService) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *LedgerService) deleteCacheRow(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.FarmerID,
		b.SupplierID,
		b.ItemCategory,
		b.WorkPurpose,
		b.Quantity,
		b.Date.Format("2006-01-02"),
		string(b.Status),
		b.StartTime,
		b.EstimatedDuration,
		b.EstimatedPrice,
		b.FinalPrice,
		b.CreatedAt.Format(timeFormat),
		b.UpdatedAt.Format(timeFormat),
	}
}
