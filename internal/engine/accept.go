package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"agrilink/internal/database"
	"agrilink/internal/events"
	"agrilink/internal/metrics"
	"agrilink/internal/models"

	"github.com/google/uuid"
)

// AcceptCommand is a supplier's answer to an open request.
type AcceptCommand struct {
	BookingID  string
	SupplierID string
	ItemID     string
	// Quantity is how many units the supplier commits; zero means "all that
	// the item can cover".
	Quantity int64
	// DeclineToOperate accepts the machine but not the driving, parking the
	// booking until an operator joins.
	DeclineToOperate bool
}

// AcceptBookingRequest moves an open booking towards Confirmed on behalf of
// the accepting supplier. Exactly one concurrent acceptor wins; losers get a
// conflict failure and should refresh their open-request list.
func (e *Engine) AcceptBookingRequest(ctx context.Context, cmd AcceptCommand) (*models.Booking, error) {
	if cmd.BookingID == "" || cmd.SupplierID == "" {
		return nil, failf(KindValidation, "booking id and supplier id are required")
	}

	b, err := e.bookings.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}

	switch b.Status {
	case models.StatusSearching:
		return e.acceptBroadcast(ctx, b, cmd)
	case models.StatusAwaitingOperator:
		return e.acceptAsOperator(ctx, b, cmd)
	case models.StatusPendingConfirmation:
		return e.acceptDirect(ctx, b, cmd)
	default:
		return nil, failf(KindConflict, "booking already taken or closed (status %s)", b.Status)
	}
}

// acceptDirect confirms a direct request. Only the supplier the request was
// addressed to may answer it.
func (e *Engine) acceptDirect(ctx context.Context, b *models.Booking, cmd AcceptCommand) (*models.Booking, error) {
	if cmd.SupplierID != b.SupplierID {
		return nil, failf(KindValidation, "booking %s is addressed to a different supplier", b.ID)
	}

	item, err := e.items.GetItem(ctx, b.ItemID)
	if err != nil {
		return nil, storeFailure(err, "item")
	}
	if err := e.checkItemUsable(item, b); err != nil {
		return nil, err
	}
	if err := e.checkDailyHourCap(ctx, b, item); err != nil {
		return nil, err
	}

	concurrent, err := e.countConcurrentSearching(ctx, b.ItemCategory, b.Location, b.ID)
	if err != nil {
		return nil, err
	}
	bd := e.priceForItem(item, b, concurrent)

	fields := map[string]any{
		"final_price":     bd.Total,
		"distance_charge": bd.TravelCharge,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusConfirmed, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusConfirmed
	b.FinalPrice = bd.Total
	b.DistanceCharge = bd.TravelCharge
	b.Version++
	metrics.IncBookingTransition(string(models.StatusConfirmed))

	if err := e.reserveItemQuantity(ctx, item, b.Quantity); err != nil {
		e.logger.Error().Err(err).Str("booking_id", b.ID).Str("item_id", item.ID).
			Msg("item reservation failed after confirmation")
		e.notify(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Booking %s confirmed but item %s reservation failed; reconcile manually.", b.ID, item.ID),
			"reconcile", "admin", models.PriorityHigh)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Your booking for %s on %s is confirmed. Total: Rs %d.", b.WorkPurpose, b.Date.Format("02 Jan"), b.FinalPrice),
		"booking_confirmed", "booking", models.PriorityHigh)
	e.notifyAgent(ctx, b, fmt.Sprintf("Booking %s confirmed at Rs %d.", b.ID, b.FinalPrice))

	e.publishEvent(events.EventBookingConfirmed, b, "supplier")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// acceptAsOperator attaches an operator to a machine-only acceptance and
// confirms the booking.
func (e *Engine) acceptAsOperator(ctx context.Context, b *models.Booking, cmd AcceptCommand) (*models.Booking, error) {
	if cmd.ItemID == "" {
		return nil, failf(KindValidation, "operator item id is required")
	}
	item, err := e.items.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, storeFailure(err, "item")
	}
	if item.Category != models.CategoryOperator {
		return nil, failf(KindValidation, "item %s is not an operator listing", item.ID)
	}
	if !item.IsActive || !item.Available {
		return nil, failf(KindCapacity, "operator %s is not available", item.ID)
	}

	operatorCharge := int64(math.Round(float64(item.OperatorRate) * b.BillableHours()))
	fields := map[string]any{
		"operator_id": cmd.SupplierID,
		"final_price": b.FinalPrice + operatorCharge,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusConfirmed, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusConfirmed
	b.OperatorID = cmd.SupplierID
	b.FinalPrice += operatorCharge
	b.Version++
	metrics.IncBookingTransition(string(models.StatusConfirmed))

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("An operator joined your booking for %s. Total: Rs %d.", b.WorkPurpose, b.FinalPrice),
		"booking_confirmed", "booking", models.PriorityHigh)
	e.notify(ctx, b.SupplierID,
		fmt.Sprintf("Operator found for booking %s; it is now confirmed.", b.ID),
		"booking_confirmed", "booking", models.PriorityNormal)

	e.publishEvent(events.EventBookingConfirmed, b, "operator")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// acceptBroadcast is the first-accept-wins path for Searching bookings,
// including the machine-without-operator park and partial-quantity splits.
func (e *Engine) acceptBroadcast(ctx context.Context, b *models.Booking, cmd AcceptCommand) (*models.Booking, error) {
	if cmd.ItemID == "" {
		return nil, failf(KindValidation, "item id is required")
	}
	item, err := e.items.GetItem(ctx, cmd.ItemID)
	if err != nil {
		return nil, storeFailure(err, "item")
	}
	if item.SupplierID != cmd.SupplierID {
		return nil, failf(KindValidation, "item %s belongs to a different supplier", item.ID)
	}
	if err := e.checkItemUsable(item, b); err != nil {
		return nil, err
	}
	if err := e.checkDailyHourCap(ctx, b, item); err != nil {
		return nil, err
	}

	// Machine accepted without its driver: park until an operator joins.
	if b.OperatorRequired && cmd.DeclineToOperate {
		return e.parkAwaitingOperator(ctx, b, item, cmd)
	}

	confirmQty := b.Quantity
	if cmd.Quantity > 0 && cmd.Quantity < confirmQty {
		confirmQty = cmd.Quantity
	}
	if item.Divisible() && item.QuantityAvailable < confirmQty {
		confirmQty = item.QuantityAvailable
	}
	if confirmQty < 1 {
		return nil, failf(KindCapacity, "item %s has no remaining units", item.ID)
	}

	if confirmQty < b.Quantity && !b.AllowMultipleSuppliers {
		return nil, failf(KindCapacity,
			"booking needs %d units but only %d offered and partial fulfilment is off", b.Quantity, confirmQty)
	}

	concurrent, err := e.countConcurrentSearching(ctx, b.ItemCategory, b.Location, b.ID)
	if err != nil {
		return nil, err
	}

	if confirmQty < b.Quantity {
		return e.splitAndConfirm(ctx, b, item, cmd, confirmQty, concurrent)
	}
	return e.confirmWhole(ctx, b, item, cmd, concurrent)
}

func (e *Engine) parkAwaitingOperator(ctx context.Context, b *models.Booking, item *models.Item, cmd AcceptCommand) (*models.Booking, error) {
	concurrent, err := e.countConcurrentSearching(ctx, b.ItemCategory, b.Location, b.ID)
	if err != nil {
		return nil, err
	}
	// Price the machine now; operator charge is added when one joins.
	machineOnly := *b
	machineOnly.OperatorRequired = false
	bd := e.priceForItem(item, &machineOnly, concurrent)

	fields := map[string]any{
		"supplier_id":     cmd.SupplierID,
		"item_id":         item.ID,
		"final_price":     bd.Total,
		"distance_charge": bd.TravelCharge,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusAwaitingOperator, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusAwaitingOperator
	b.SupplierID = cmd.SupplierID
	b.ItemID = item.ID
	b.FinalPrice = bd.Total
	b.DistanceCharge = bd.TravelCharge
	b.Version++
	metrics.IncBookingTransition(string(models.StatusAwaitingOperator))

	if err := e.reserveItemQuantity(ctx, item, b.Quantity); err != nil {
		e.logger.Error().Err(err).Str("booking_id", b.ID).Str("item_id", item.ID).
			Msg("item reservation failed after park")
		e.notify(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Booking %s parked but item %s reservation failed; reconcile manually.", b.ID, item.ID),
			"reconcile", "admin", models.PriorityHigh)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("A machine was found for your %s booking; searching for an operator now.", b.WorkPurpose),
		"awaiting_operator", "booking", models.PriorityNormal)
	e.notifyOperators(ctx, b)

	e.publishEvent(events.EventBookingConfirmed, b, "supplier")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

func (e *Engine) confirmWhole(ctx context.Context, b *models.Booking, item *models.Item, cmd AcceptCommand, concurrent int) (*models.Booking, error) {
	bd := e.priceForItem(item, b, concurrent)
	fields := map[string]any{
		"supplier_id":     cmd.SupplierID,
		"item_id":         item.ID,
		"final_price":     bd.Total,
		"distance_charge": bd.TravelCharge,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusConfirmed, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusConfirmed
	b.SupplierID = cmd.SupplierID
	b.ItemID = item.ID
	b.FinalPrice = bd.Total
	b.DistanceCharge = bd.TravelCharge
	b.Version++
	metrics.IncBookingTransition(string(models.StatusConfirmed))

	if err := e.reserveItemQuantity(ctx, item, b.Quantity); err != nil {
		e.logger.Error().Err(err).Str("booking_id", b.ID).Str("item_id", item.ID).
			Msg("item reservation failed after confirmation")
		e.notify(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Booking %s confirmed but item %s reservation failed; reconcile manually.", b.ID, item.ID),
			"reconcile", "admin", models.PriorityHigh)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Your booking for %s on %s is confirmed. Total: Rs %d.", b.WorkPurpose, b.Date.Format("02 Jan"), b.FinalPrice),
		"booking_confirmed", "booking", models.PriorityHigh)
	e.notifyAgent(ctx, b, fmt.Sprintf("Booking %s confirmed at Rs %d.", b.ID, b.FinalPrice))

	e.publishEvent(events.EventBookingConfirmed, b, "supplier")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// splitAndConfirm peels confirmQty units off the original request into a new
// confirmed booking. The original keeps its ID and stays Searching with the
// remainder, so suppliers already looking at it keep a valid reference.
func (e *Engine) splitAndConfirm(ctx context.Context, b *models.Booking, item *models.Item, cmd AcceptCommand, confirmQty int64, concurrent int) (*models.Booking, error) {
	remainder := b.Quantity - confirmQty

	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, b.Status, map[string]any{
		"quantity": remainder,
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Quantity = remainder
	b.Version++

	part := *b
	part.ID = uuid.NewString()
	part.Quantity = confirmQty
	part.SupplierID = cmd.SupplierID
	part.ItemID = item.ID
	part.Status = models.StatusConfirmed
	part.Version = 0
	bd := e.priceForItem(item, &part, concurrent)
	part.FinalPrice = bd.Total
	part.DistanceCharge = bd.TravelCharge

	if err := e.bookings.CreateBooking(ctx, &part); err != nil {
		// Roll the remainder back so no units go missing.
		if rbErr := e.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
			"quantity": remainder + confirmQty,
		}); rbErr != nil {
			e.logger.Error().Err(rbErr).Str("booking_id", b.ID).Msg("split rollback failed")
		}
		return nil, storeFailure(err, "booking")
	}
	metrics.IncBookingTransition(string(models.StatusConfirmed))

	if err := e.reserveItemQuantity(ctx, item, confirmQty); err != nil {
		e.logger.Error().Err(err).Str("booking_id", part.ID).Str("item_id", item.ID).
			Msg("item reservation failed after split confirmation")
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("%d of %d units confirmed for your %s booking; still searching for the remaining %d.",
			confirmQty, confirmQty+remainder, b.WorkPurpose, remainder),
		"booking_split", "booking", models.PriorityHigh)

	e.publishEvent(events.EventBookingSplit, &part, "supplier")
	e.enqueueSync(ctx, &part, "upsert")
	e.enqueueSync(ctx, b, "upsert")
	return &part, nil
}

func (e *Engine) checkItemUsable(item *models.Item, b *models.Booking) error {
	if !item.IsActive || !item.Available {
		return failf(KindCapacity, "item %s is not available", item.ID)
	}
	if !item.OffersPurpose(b.WorkPurpose) {
		return failf(KindValidation, "item %s does not offer %s", item.ID, b.WorkPurpose)
	}
	return nil
}

// checkDailyHourCap enforces the per-supplier per-item daily hour ceiling.
// Agent suppliers represent pools of machines and are exempt.
func (e *Engine) checkDailyHourCap(ctx context.Context, b *models.Booking, item *models.Item) error {
	supplier, err := e.users.GetUser(ctx, item.SupplierID)
	if err == nil && supplier.IsAgent() {
		return nil
	}
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return storeFailure(err, "supplier")
	}

	booked, err := e.bookings.SumActiveHours(ctx, item.SupplierID, item.ID, b.Date)
	if err != nil {
		return storeFailure(err, "booking")
	}
	cap := models.DailyHourCap(item.Category)
	if booked+b.BillableHours() > cap {
		return failf(KindCapacity,
			"accepting would put item %s at %.1fh on %s, above the %.0fh daily limit",
			item.ID, booked+b.BillableHours(), b.Date.Format("2006-01-02"), cap)
	}
	return nil
}

// reserveItemQuantity decrements a divisible item's pool and marks the item
// unavailable when it runs dry. Indivisible items simply flip unavailable.
func (e *Engine) reserveItemQuantity(ctx context.Context, item *models.Item, qty int64) error {
	if item.Divisible() {
		remaining := item.QuantityAvailable - qty
		if remaining < 0 {
			remaining = 0
		}
		item.QuantityAvailable = remaining
		item.Available = remaining > 0
	} else {
		item.Available = false
	}
	return e.items.UpdateItem(ctx, item)
}

// notifyOperators pings every registered operator about a parked booking.
func (e *Engine) notifyOperators(ctx context.Context, b *models.Booking) {
	operators, err := e.users.GetUsersByRole(ctx, models.RoleOperator)
	if err != nil {
		e.logger.Error().Err(err).Msg("operator lookup failed")
		return
	}
	for _, op := range operators {
		e.notify(ctx, op.ID,
			fmt.Sprintf("Operator needed: %s on %s at %s.", b.WorkPurpose, b.Date.Format("02 Jan"), b.StartTime),
			"operator_needed", "booking", models.PriorityNormal)
	}
}

// notifyAgent tells the booking agent, when one placed the request.
func (e *Engine) notifyAgent(ctx context.Context, b *models.Booking, message string) {
	if b.BookedByAgentID == "" {
		return
	}
	e.notify(ctx, b.BookedByAgentID, message, "agent_update", "booking", models.PriorityNormal)
}
