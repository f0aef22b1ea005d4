// Package export writes the bookings and supplier-reliability workbooks that
// admins pull for offline review.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agrilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

type bookingSource interface {
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
}

type userSource interface {
	GetUsersByRole(ctx context.Context, role string) ([]*models.User, error)
}

// Exporter renders xlsx workbooks into the configured export directory.
type Exporter struct {
	bookings bookingSource
	users    userSource
	dir      string
	logger   *zerolog.Logger
}

func NewExporter(bookings bookingSource, users userSource, dir string, logger *zerolog.Logger) *Exporter {
	if dir == "" {
		dir = "exports"
	}
	return &Exporter{bookings: bookings, users: users, dir: dir, logger: logger}
}

// ExportBookings writes every booking in the date range to one sheet, one row
// per booking, and returns the file path.
func (e *Exporter) ExportBookings(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	bookings, err := e.bookings.GetBookingsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Bookings"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Farmer", "Supplier", "Category", "Purpose", "Quantity",
		"Date", "Start", "Hours", "Status", "Estimated", "Final", "Commission", "Cancelled By",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)

	for i, b := range bookings {
		row := i + 2
		var commission int64
		if b.Payment != nil {
			commission = b.Payment.Commission
		}
		values := []interface{}{
			b.ID,
			b.FarmerID,
			b.SupplierID,
			b.ItemCategory,
			b.WorkPurpose,
			b.Quantity,
			b.Date.Format("2006-01-02"),
			b.StartTime,
			b.EstimatedDuration,
			string(b.Status),
			b.EstimatedPrice,
			b.FinalPrice,
			commission,
			b.CancelledBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "E", 18)
	_ = f.SetColWidth(sheetName, "F", "N", 12)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("bookings export created")
	return filePath, nil
}

// ExportSupplierRatings writes the reliability sheet: one row per supplier
// with the score and its raw inputs.
func (e *Exporter) ExportSupplierRatings(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	suppliers, err := e.users.GetUsersByRole(ctx, models.RoleSupplier)
	if err != nil {
		return "", fmt.Errorf("error getting suppliers: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Suppliers"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Name", "Phone", "Rating", "Jobs", "On Time",
		"Disputes 6M", "Cancellations 6M", "Last Calculated",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)

	for i, u := range suppliers {
		row := i + 2
		lastCalc := ""
		if !u.WARLastCalculated.IsZero() {
			lastCalc = u.WARLastCalculated.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			u.ID,
			u.Name,
			u.Phone,
			u.WARFinalRating,
			u.WARTotalJobs,
			u.WAROnTimeCount,
			u.WARDisputeCount6M,
			u.WARCancellationCount6M,
			lastCalc,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "C", 20)
	_ = f.SetColWidth(sheetName, "D", "I", 14)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("supplier_ratings_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.dir, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("suppliers", len(suppliers)).Msg("supplier ratings export created")
	return filePath, nil
}
