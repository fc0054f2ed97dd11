package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/dispatch/internal/domain"
	"github.com/carebridge/dispatch/internal/notify"
)

// Notification titles by event type. Bodies stay generic on purpose: a push
// notification surface may be visible on a locked screen, so it never
// carries more than the event category.
var pushTitles = map[domain.EventType]string{
	domain.EventAppointmentCreated:   "Appointment booked",
	domain.EventAppointmentCancelled: "Appointment cancelled",
	domain.EventAppointmentCompleted: "Appointment completed",
	domain.EventPaymentVerified:      "Payment confirmed",
	domain.EventPaymentRefunded:      "Payment refunded",
	domain.EventUserApproved:         "Account approved",
	domain.EventPrescriptionIssued:   "New prescription",
	domain.EventReviewSubmitted:      "New review",
}

// PushSender delivers notification messages through the configured sink.
type PushSender struct {
	sink    notify.Sink
	timeout time.Duration
}

func NewPushSender(sink notify.Sink, timeout time.Duration) *PushSender {
	return &PushSender{sink: sink, timeout: timeout}
}

// Send forwards to the sink with a hard deadline. Exceeding the deadline is
// a transient failure; sink-reported permanent errors end the retry chain.
func (s *PushSender) Send(ctx context.Context, msg *domain.DeliveryMessage) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	title, ok := pushTitles[msg.EventType]
	if !ok {
		title = "Update"
	}

	metadata := map[string]string{
		"event_type":   msg.EventType.String(),
		"reference_id": msg.ReferenceID,
	}
	for k, v := range msg.Payload {
		metadata[k] = v
	}

	err := s.sink.Send(ctx, msg.Target, title, "Open the app for details.", metadata)
	if err != nil {
		if errors.Is(err, notify.ErrPermanent) {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return fmt.Errorf("push send: %w", err)
	}
	return nil
}
