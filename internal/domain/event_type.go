package domain

// EventType is the closed set of domain events that can be published to
// external consumers. Reference ids are opaque pointers into the owning
// service's data; payloads never carry patient data.
type EventType string

const (
	EventAppointmentCreated   EventType = "APPOINTMENT_CREATED"
	EventAppointmentCancelled EventType = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted EventType = "APPOINTMENT_COMPLETED"
	EventPaymentVerified      EventType = "PAYMENT_VERIFIED"
	EventPaymentRefunded      EventType = "PAYMENT_REFUNDED"
	EventUserApproved         EventType = "USER_APPROVED"
	EventPrescriptionIssued   EventType = "PRESCRIPTION_ISSUED"
	EventReviewSubmitted      EventType = "REVIEW_SUBMITTED"
)

var eventTypes = map[EventType]struct{}{
	EventAppointmentCreated:   {},
	EventAppointmentCancelled: {},
	EventAppointmentCompleted: {},
	EventPaymentVerified:      {},
	EventPaymentRefunded:      {},
	EventUserApproved:         {},
	EventPrescriptionIssued:   {},
	EventReviewSubmitted:      {},
}

// Valid reports whether t is a member of the closed enumeration.
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

func (t EventType) String() string { return string(t) }
