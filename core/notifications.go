package core

import (
	"context"
	"fmt"
	"strings"
)

const (
	NotificationStepUpRequested     = "step_up_requested"
	NotificationDeviceAuthorization = "device_authorization"

	notificationStatusDelivered = "delivered"
	notificationStatusFailed    = "failed"
)

// IdempotentNotifier suppresses a notification whose idempotency key already
// produced a successful delivery.
type IdempotentNotifier struct {
	sender NotificationSender
	ledger NotificationDispatchLedger
}

func NewIdempotentNotifier(sender NotificationSender, ledger NotificationDispatchLedger) *IdempotentNotifier {
	return &IdempotentNotifier{sender: sender, ledger: ledger}
}

func (n *IdempotentNotifier) Notify(ctx context.Context, req NotificationRequest) (NotificationResult, error) {
	if n == nil || n.sender == nil {
		return NotificationResult{}, fmt.Errorf("core: notification sender is not configured")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.UserID == "" {
		return NotificationResult{}, fmt.Errorf("core: notification user id is required")
	}

	if req.IdempotencyKey != "" && n.ledger != nil {
		seen, err := n.ledger.Seen(ctx, req.IdempotencyKey)
		if err != nil {
			return NotificationResult{}, err
		}
		if seen {
			return NotificationResult{Delivered: true, Replayed: true}, nil
		}
	}

	result, sendErr := n.sender.Notify(ctx, req)
	if req.IdempotencyKey == "" || n.ledger == nil {
		return result, sendErr
	}

	record := NotificationDispatchRecord{
		IdempotencyKey: req.IdempotencyKey,
		UserID:         req.UserID,
		Type:           req.Type,
		Status:         notificationStatusDelivered,
		Metadata:       map[string]any{"message_id": result.MessageID},
	}
	if sendErr != nil {
		record.Status = notificationStatusFailed
		record.Error = sendErr.Error()
	}
	if err := n.ledger.Record(ctx, record); err != nil && sendErr == nil {
		return result, err
	}
	return result, sendErr
}

var _ NotificationSender = (*IdempotentNotifier)(nil)

// notifyOwner is best effort: the owner prompt is advisory and the caller's
// state change has already committed.
func (s *Service) notifyOwner(ctx context.Context, req NotificationRequest) {
	if s == nil || s.notifier == nil {
		return
	}
	result, err := s.notifier.Notify(ctx, req)
	fields := map[string]any{
		"owner_id":          req.UserID,
		"notification_type": req.Type,
		"idempotency_key":   req.IdempotencyKey,
	}
	if err != nil {
		fields["error"] = err.Error()
		s.recordCounter(ctx, metricPrefix+"notifications.failed.total", 1, map[string]string{"type": req.Type})
		s.logError(ctx, "owner notification failed", fields)
		return
	}
	if result.Replayed {
		s.logInfo(ctx, "owner notification replay suppressed", fields)
	}
}
