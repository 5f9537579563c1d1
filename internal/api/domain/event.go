package domain

import (
	"errors"
	"fmt"
)

// Document kinds accepted on the webhook endpoint. The kind is the tag that
// selects which template schema the payload is validated against.
const (
	KindOffer = "offer"
	KindPSA   = "psa"
)

// Document job statuses. Transitions are monotonic:
// PENDING → DISPATCHING → {SENT | FAILED}, never backwards.
const (
	JobStatusPending     = "PENDING"
	JobStatusDispatching = "DISPATCHING"
	JobStatusSent        = "SENT"
	JobStatusFailed      = "FAILED"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("document job not found")

	// ErrDuplicateEvent is returned when an event id has already produced a job
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrUnknownKind is returned for a document kind outside {offer, psa}
	ErrUnknownKind = errors.New("unknown document kind")
)

// offerFields are the template fields an offer-letter event must carry.
var offerFields = []string{
	"seller_name",
	"seller_email",
	"property_address",
	"apn",
	"county",
	"offer_amount",
}

// psaFields are the additional fields a purchase-and-sale event must carry.
var psaFields = []string{
	"earnest_money",
	"closing_date",
}

// ValidateKind checks the URL tag before any payload field is touched.
func ValidateKind(kind string) error {
	switch kind {
	case KindOffer, KindPSA:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// RequiredFields returns the field names an event of the given kind must
// provide. Unknown kinds return nil; callers validate the kind first.
func RequiredFields(kind string) []string {
	switch kind {
	case KindOffer:
		return offerFields
	case KindPSA:
		fields := make([]string, 0, len(offerFields)+len(psaFields))
		fields = append(fields, offerFields...)
		fields = append(fields, psaFields...)
		return fields
	default:
		return nil
	}
}

// ValidateFields checks an event payload against the kind's schema before any
// field access. Returns the first missing or empty field.
func ValidateFields(kind string, fields map[string]string) error {
	for _, name := range RequiredFields(kind) {
		if fields[name] == "" {
			return fmt.Errorf("missing required field %q for kind %q", name, kind)
		}
	}
	return nil
}
