// Package webhook implements the outbound notification dispatcher: it
// composes the JSON envelope for a payment status change and delivers
// it to the merchant's configured notification URL under retry.
package webhook

import "time"

// NotificationJob is handed off from the payment state manager to the
// dispatcher over a bounded channel after a transition commits. The
// dispatcher never touches payment.LockArena; this struct is the only
// coupling between the two packages.
type NotificationJob struct {
	PaymentID    string
	Status       string
	TeamSlug     string
	OccurredAt   time.Time
	Extras       map[string]interface{}
}

// Envelope is the JSON wire shape POSTed to the merchant's endpoint,
// matching spec.md §6 exactly.
type Envelope struct {
	PaymentID string                 `json:"paymentId"`
	Status    string                 `json:"status"`
	TeamSlug  string                 `json:"teamSlug"`
	Timestamp string                 `json:"timestamp"`
	Extras    map[string]interface{} `json:"extras,omitempty"`
}

// envelopeFrom composes the wire envelope for a job, formatting the
// timestamp as RFC3339 UTC per spec.md §6.
func envelopeFrom(job NotificationJob) Envelope {
	return Envelope{
		PaymentID: job.PaymentID,
		Status:    job.Status,
		TeamSlug:  job.TeamSlug,
		Timestamp: job.OccurredAt.UTC().Format(time.RFC3339),
		Extras:    job.Extras,
	}
}
