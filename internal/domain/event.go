package domain

// Realtime event names.
const (
	// EventNewPayment is sent by a client after it records a payment.
	EventNewPayment = "new-payment"
	// EventUpdatePayments tells clients to refresh their payment list.
	EventUpdatePayments = "update-payments"
)
