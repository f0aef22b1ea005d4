package engine

import (
	"context"
	"crypto/subtle"
	"fmt"

	"agrilink/internal/events"
	"agrilink/internal/metrics"
	"agrilink/internal/models"

	"github.com/google/uuid"
)

// RejectBooking sends a direct request back to broadcast. The farmer is told
// the price may now vary; repeated rejections within the window raise an
// admin alert.
func (e *Engine) RejectBooking(ctx context.Context, bookingID, supplierID string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusPendingConfirmation {
		return nil, failf(KindConflict, "booking %s is not awaiting confirmation (status %s)", b.ID, b.Status)
	}
	if supplierID != b.SupplierID {
		return nil, failf(KindValidation, "booking %s is addressed to a different supplier", b.ID)
	}

	fields := map[string]any{
		"supplier_id":    "",
		"item_id":        "",
		"is_rebroadcast": true,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusSearching, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusSearching
	b.SupplierID = ""
	b.ItemID = ""
	b.IsRebroadcast = true
	b.Version++
	metrics.IncBookingTransition(string(models.StatusSearching))

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("The supplier declined your %s request; we are broadcasting it to others. The price may vary.", b.WorkPurpose),
		"booking_rebroadcast", "booking", models.PriorityNormal)

	e.bumpRejectionCounter(ctx, supplierID)

	e.publishEvent(events.EventBookingRejected, b, "supplier")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

func (e *Engine) bumpRejectionCounter(ctx context.Context, supplierID string) {
	if e.counters == nil {
		return
	}
	count, err := e.counters.Bump(ctx, "supplier_rejections:"+supplierID, e.cfg.RejectionWindow)
	if err != nil {
		e.logger.Error().Err(err).Str("supplier_id", supplierID).Msg("rejection counter error")
		return
	}
	if count >= e.cfg.RejectionAlertThreshold {
		e.notify(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Supplier %s rejected %d bookings in the last %s.", supplierID, count, e.cfg.RejectionWindow),
			"supplier_rejections", "admin", models.PriorityHigh)
	}
}

// CancelBooking closes an active booking and restores any reserved item
// capacity. Work that has already started cannot be cancelled, only disputed.
func (e *Engine) CancelBooking(ctx context.Context, bookingID, cancelledBy string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if !CanTransition(b.Status, models.StatusCancelled) {
		return nil, failf(KindConflict, "booking %s cannot be cancelled from %s", b.ID, b.Status)
	}

	fields := map[string]any{"cancelled_by": cancelledBy}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusCancelled, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	prior := b.Status
	b.Status = models.StatusCancelled
	b.CancelledBy = cancelledBy
	b.Version++
	metrics.IncBookingTransition(string(models.StatusCancelled))

	if b.ItemID != "" && holdsItem(prior) {
		e.releaseItemQuantity(ctx, b)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Your booking for %s on %s was cancelled.", b.WorkPurpose, b.Date.Format("02 Jan")),
		"booking_cancelled", "booking", models.PriorityHigh)
	if b.SupplierID != "" {
		e.notify(ctx, b.SupplierID,
			fmt.Sprintf("Booking %s was cancelled by the %s.", b.ID, cancelledBy),
			"booking_cancelled", "booking", models.PriorityHigh)
	}
	e.notifyAgent(ctx, b, fmt.Sprintf("Booking %s was cancelled by the %s.", b.ID, cancelledBy))

	e.publishEvent(events.EventBookingCancelled, b, cancelledBy)
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// releaseItemQuantity returns the booking's units to the item, capped at the
// pool size so a double release cannot inflate capacity.
func (e *Engine) releaseItemQuantity(ctx context.Context, b *models.Booking) {
	item, err := e.items.GetItem(ctx, b.ItemID)
	if err != nil {
		e.logger.Error().Err(err).Str("item_id", b.ItemID).Msg("item release lookup failed")
		return
	}
	if item.Divisible() {
		restored := item.QuantityAvailable + b.Quantity
		if restored > item.QuantityTotal {
			restored = item.QuantityTotal
		}
		item.QuantityAvailable = restored
		item.Available = restored > 0
	} else {
		item.Available = true
	}
	if err := e.items.UpdateItem(ctx, item); err != nil {
		e.logger.Error().Err(err).Str("item_id", item.ID).Msg("item release failed")
	}
}

// holdsItem reports whether a booking in the given status holds a reservation
// on its item. Parked bookings hold the machine from the moment the supplier
// commits it.
func holdsItem(status models.BookingStatus) bool {
	switch status {
	case models.StatusAwaitingOperator, models.StatusConfirmed, models.StatusArrived:
		return true
	}
	return false
}

// MarkAsArrived records the supplier reaching the field and issues the
// arrival code the farmer must read back before work starts.
func (e *Engine) MarkAsArrived(ctx context.Context, bookingID, supplierID string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusConfirmed {
		return nil, failf(KindConflict, "booking %s is not confirmed (status %s)", b.ID, b.Status)
	}
	if supplierID != b.SupplierID && supplierID != b.OperatorID {
		return nil, failf(KindValidation, "booking %s belongs to a different supplier", b.ID)
	}

	code := generateOTP()
	fields := map[string]any{
		"otp_code":     code,
		"otp_attempts": int64(0),
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusArrived, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusArrived
	b.OTPCode = code
	b.OTPAttempts = 0
	b.Version++
	metrics.IncBookingTransition(string(models.StatusArrived))

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("The supplier has arrived. Share code %s to start the work.", code),
		"supplier_arrived", "booking", models.PriorityHigh)

	e.publishEvent(events.EventSupplierArrived, b, "supplier")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// VerifyOTPAndStartWork checks the farmer's arrival code and starts the job.
// After too many wrong attempts the code is voided and must be reissued.
func (e *Engine) VerifyOTPAndStartWork(ctx context.Context, bookingID, code string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusArrived {
		return nil, failf(KindConflict, "booking %s is not at the field (status %s)", b.ID, b.Status)
	}
	if b.OTPCode == "" {
		return nil, failf(KindValidation, "arrival code was voided; ask the supplier to reissue it")
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(b.OTPCode)) != 1 {
		attempts := b.OTPAttempts + 1
		fields := map[string]any{"otp_attempts": attempts}
		if attempts >= e.cfg.OTPMaxAttempts {
			fields["otp_code"] = ""
			e.notify(ctx, b.SupplierID,
				fmt.Sprintf("Arrival code for booking %s was locked after %d wrong attempts; reissue a new one.", b.ID, attempts),
				"otp_locked", "booking", models.PriorityHigh)
		}
		if err := e.bookings.UpdateBookingFields(ctx, b.ID, fields); err != nil {
			return nil, storeFailure(err, "booking")
		}
		b.OTPAttempts = attempts
		if attempts >= e.cfg.OTPMaxAttempts {
			b.OTPCode = ""
			return nil, failf(KindValidation, "wrong code; the code is now locked")
		}
		return nil, failf(KindValidation, "wrong code, %d attempts left", e.cfg.OTPMaxAttempts-attempts)
	}

	now := e.clock.Now()
	fields := map[string]any{
		"otp_verified":    true,
		"work_start_time": now,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusInProcess, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusInProcess
	b.OTPVerified = true
	b.WorkStartTime = now
	b.Version++
	metrics.IncBookingTransition(string(models.StatusInProcess))

	e.publishEvent(events.EventWorkStarted, b, "farmer")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// ReissueOTP replaces a locked or lost arrival code and resets the attempt
// counter.
func (e *Engine) ReissueOTP(ctx context.Context, bookingID, supplierID string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusArrived {
		return nil, failf(KindConflict, "booking %s is not at the field (status %s)", b.ID, b.Status)
	}
	if supplierID != b.SupplierID && supplierID != b.OperatorID {
		return nil, failf(KindValidation, "booking %s belongs to a different supplier", b.ID)
	}

	code := generateOTP()
	if err := e.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
		"otp_code":     code,
		"otp_attempts": int64(0),
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.OTPCode = code
	b.OTPAttempts = 0

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("A new arrival code was issued: %s.", code),
		"otp_reissued", "booking", models.PriorityHigh)
	return b, nil
}

// CompleteBooking ends the job. Fully prepaid bookings settle immediately;
// everything else waits in Pending Payment for the final payment record.
func (e *Engine) CompleteBooking(ctx context.Context, bookingID, completedBy string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusInProcess {
		return nil, failf(KindConflict, "booking %s is not in process (status %s)", b.ID, b.Status)
	}

	amountDue := b.FinalPrice
	if amountDue == 0 {
		amountDue = b.EstimatedPrice
	}

	if amountDue > 0 && b.AdvancePaid >= amountDue {
		return e.settle(ctx, b, amountDue, "advance", "", completedBy)
	}

	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusPendingPayment, nil); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusPendingPayment
	b.Version++
	metrics.IncBookingTransition(string(models.StatusPendingPayment))

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Work is done. Please settle Rs %d to close booking %s.", amountDue-b.AdvancePaid, b.ID),
		"payment_due", "payment", models.PriorityHigh)

	e.publishEvent(events.EventBookingCompleted, b, completedBy)
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// MakeFinalPayment records the settlement of a Pending Payment booking and
// closes it. A burst of payment records across the platform raises a fraud
// alert for admins.
func (e *Engine) MakeFinalPayment(ctx context.Context, bookingID, method string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusPendingPayment {
		return nil, failf(KindConflict, "booking %s is not awaiting payment (status %s)", b.ID, b.Status)
	}

	amountDue := b.FinalPrice
	if amountDue == 0 {
		amountDue = b.EstimatedPrice
	}

	out, err := e.settle(ctx, b, amountDue, method, uuid.NewString(), "farmer")
	if err != nil {
		return nil, err
	}
	e.bumpPaymentCounter(ctx)
	return out, nil
}

func (e *Engine) settle(ctx context.Context, b *models.Booking, amount int64, method, reference, changedBy string) (*models.Booking, error) {
	commission := e.pricer.CommissionFor(amount)
	now := e.clock.Now()
	fields := map[string]any{
		"pay_farmer_amount":   amount,
		"pay_supplier_amount": amount - commission,
		"pay_commission":      commission,
		"pay_method":          method,
		"pay_reference":       reference,
		"pay_paid_at":         now,
		"final_price":         amount,
	}
	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusCompleted, fields); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusCompleted
	b.FinalPrice = amount
	b.Payment = &models.PaymentDetails{
		FarmerAmount:   amount,
		SupplierAmount: amount - commission,
		Commission:     commission,
		Method:         method,
		Reference:      reference,
		PaidAt:         now,
	}
	b.Version++
	metrics.IncBookingTransition(string(models.StatusCompleted))

	if b.ItemID != "" {
		e.releaseItemQuantity(ctx, b)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Booking %s is complete. Thank you!", b.ID),
		"booking_completed", "booking", models.PriorityNormal)
	if b.SupplierID != "" {
		e.notify(ctx, b.SupplierID,
			fmt.Sprintf("Booking %s settled: Rs %d to you.", b.ID, amount-commission),
			"payment_recorded", "payment", models.PriorityHigh)
	}

	e.publishEvent(events.EventPaymentRecorded, b, changedBy)
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

func (e *Engine) bumpPaymentCounter(ctx context.Context) {
	if e.counters == nil {
		return
	}
	count, err := e.counters.Bump(ctx, "payments_platform", e.cfg.PaymentSpikeWindow)
	if err != nil {
		e.logger.Error().Err(err).Msg("payment counter error")
		return
	}
	if count >= e.cfg.PaymentSpikeThreshold {
		e.notify(ctx, models.AdminBroadcastID,
			fmt.Sprintf("%d payments recorded in the last %s; possible fraud, review recent settlements.", count, e.cfg.PaymentSpikeWindow),
			"payment_spike", "admin", models.PriorityCritical)
	}
}

// RaiseDispute flags a post-confirmation booking for admin review.
func (e *Engine) RaiseDispute(ctx context.Context, bookingID, raisedBy, reason string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	switch b.Status {
	case models.StatusConfirmed, models.StatusArrived, models.StatusInProcess, models.StatusPendingPayment, models.StatusCompleted:
	default:
		return nil, failf(KindConflict, "booking %s has no confirmed work to dispute (status %s)", b.ID, b.Status)
	}
	if b.DisputeRaised && !b.DisputeResolved {
		return nil, failf(KindConflict, "booking %s already has an open dispute", b.ID)
	}

	if err := e.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
		"dispute_raised":   true,
		"dispute_resolved": false,
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.DisputeRaised = true
	b.DisputeResolved = false

	e.notify(ctx, models.AdminBroadcastID,
		fmt.Sprintf("Dispute on booking %s raised by %s: %s", b.ID, raisedBy, reason),
		"dispute", "admin", models.PriorityHigh)

	e.publishEvent(events.EventDisputeRaised, b, raisedBy)
	return b, nil
}

// ResolveDispute closes an open dispute; only admins call this.
func (e *Engine) ResolveDispute(ctx context.Context, bookingID, resolution string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if !b.DisputeRaised || b.DisputeResolved {
		return nil, failf(KindConflict, "booking %s has no open dispute", b.ID)
	}

	if err := e.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
		"dispute_resolved": true,
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.DisputeResolved = true

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("The dispute on booking %s was resolved: %s", b.ID, resolution),
		"dispute_resolved", "booking", models.PriorityNormal)
	if b.SupplierID != "" {
		e.notify(ctx, b.SupplierID,
			fmt.Sprintf("The dispute on booking %s was resolved: %s", b.ID, resolution),
			"dispute_resolved", "booking", models.PriorityNormal)
	}
	return b, nil
}

// ReportDamage records equipment damage on a booking and alerts admins.
func (e *Engine) ReportDamage(ctx context.Context, bookingID, reportedBy, description string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	switch b.Status {
	case models.StatusArrived, models.StatusInProcess, models.StatusPendingPayment, models.StatusCompleted:
	default:
		return nil, failf(KindConflict, "booking %s has no on-site work to report damage for (status %s)", b.ID, b.Status)
	}

	if err := e.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
		"damage_reported": true,
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.DamageReported = true

	e.notify(ctx, models.AdminBroadcastID,
		fmt.Sprintf("Damage reported on booking %s by %s: %s", b.ID, reportedBy, description),
		"damage", "admin", models.PriorityHigh)
	return b, nil
}

// SubmitReview records the farmer's star rating of a completed booking.
func (e *Engine) SubmitReview(ctx context.Context, bookingID, farmerID string, stars int64, comment string) (*models.Review, error) {
	if stars < 1 || stars > 5 {
		return nil, failf(KindValidation, "rating must be between 1 and 5")
	}
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if b.Status != models.StatusCompleted {
		return nil, failf(KindConflict, "booking %s is not completed (status %s)", b.ID, b.Status)
	}
	if farmerID != b.FarmerID {
		return nil, failf(KindValidation, "only the booking farmer may leave a review")
	}

	review := &models.Review{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		SupplierID: b.SupplierID,
		FarmerID:   farmerID,
		Rating:     stars,
		Comment:    comment,
	}
	if err := e.reviews.CreateReview(ctx, review); err != nil {
		return nil, storeFailure(err, "review")
	}

	if b.SupplierID != "" {
		e.notify(ctx, b.SupplierID,
			fmt.Sprintf("You received a %d-star review for booking %s.", stars, b.ID),
			"review", "booking", models.PriorityLow)
	}
	return review, nil
}

// ForceComplete closes a stuck booking without payment details. The
// escalation scheduler uses it for jobs long past their end time.
func (e *Engine) ForceComplete(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if !CanTransition(b.Status, models.StatusCompleted) {
		return nil, failf(KindConflict, "booking %s cannot be completed from %s", b.ID, b.Status)
	}

	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusCompleted, nil); err != nil {
		return nil, storeFailure(err, "booking")
	}
	b.Status = models.StatusCompleted
	b.Version++
	metrics.IncBookingTransition(string(models.StatusCompleted))

	if b.ItemID != "" {
		e.releaseItemQuantity(ctx, b)
	}

	e.logger.Info().Str("booking_id", b.ID).Str("reason", reason).Msg("booking force-completed")
	e.publishEvent(events.EventBookingAutoCompleted, b, "system")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}

// ExpireBooking ends an unmatched request. The escalation scheduler uses it
// once the staged admin alerts are exhausted.
func (e *Engine) ExpireBooking(ctx context.Context, bookingID, reason string) (*models.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, storeFailure(err, "booking")
	}
	if !CanTransition(b.Status, models.StatusExpired) {
		return nil, failf(KindConflict, "booking %s cannot expire from %s", b.ID, b.Status)
	}

	if err := e.bookings.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusExpired, map[string]any{
		"cancelled_by": "system",
	}); err != nil {
		return nil, storeFailure(err, "booking")
	}
	prior := b.Status
	b.Status = models.StatusExpired
	b.CancelledBy = "system"
	b.Version++
	metrics.IncBookingTransition(string(models.StatusExpired))

	if b.ItemID != "" && holdsItem(prior) {
		e.releaseItemQuantity(ctx, b)
	}

	e.notify(ctx, b.FarmerID,
		fmt.Sprintf("Your booking for %s expired: %s", b.WorkPurpose, reason),
		"booking_expired", "booking", models.PriorityNormal)

	e.publishEvent(events.EventBookingAutoCancelled, b, "system")
	e.enqueueSync(ctx, b, "update_status")
	return b, nil
}
