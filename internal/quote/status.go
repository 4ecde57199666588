// Package quote holds the quote and change order lifecycle rules shared by
// the public link, the customer portal and staff tooling.
package quote

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusViewed   Status = "viewed"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

type ChangeOrderStatus string

const (
	ChangeOrderSent     ChangeOrderStatus = "sent"
	ChangeOrderViewed   ChangeOrderStatus = "viewed"
	ChangeOrderAccepted ChangeOrderStatus = "accepted"
	ChangeOrderDeclined ChangeOrderStatus = "declined"
)

type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

var (
	ErrInvalidState  = errors.New("invalid state")
	ErrExpired       = errors.New("quote expired")
	ErrInvalidAction = errors.New("invalid action")
)

// ParseAction accepts only "accept" and "decline".
func ParseAction(raw string) (Action, error) {
	switch Action(strings.TrimSpace(raw)) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionDecline:
		return ActionDecline, nil
	default:
		return "", ErrInvalidAction
	}
}

// IsOpen reports whether a customer may still act on a quote.
func IsOpen(status Status) bool {
	return status == StatusSent || status == StatusViewed
}

// IsChangeOrderOpen reports whether a change order can still be answered.
func IsChangeOrderOpen(status ChangeOrderStatus) bool {
	return status == ChangeOrderSent || status == ChangeOrderViewed
}

// CheckExpiry fails with ErrExpired once expiresAt has passed. A nil expiry
// never expires.
func CheckExpiry(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && expiresAt.Before(now) {
		return ErrExpired
	}
	return nil
}

// ShouldMarkViewed is true only for the first non-preview read of a sent quote.
func ShouldMarkViewed(status Status, preview bool) bool {
	return !preview && status == StatusSent
}

// SentTransition returns the status a quote takes after its email was
// accepted by the provider. Resending never moves a quote backwards.
func SentTransition(current Status) Status {
	switch current {
	case StatusDraft, StatusSent, StatusExpired, "":
		return StatusSent
	default:
		return current
	}
}

// Transition is the terminal change applied to a change order.
type Transition struct {
	Status     ChangeOrderStatus
	AcceptedAt *time.Time
	DeclinedAt *time.Time
}

// Message is the customer-facing confirmation for a transition.
func (t Transition) Message() string {
	if t.Status == ChangeOrderAccepted {
		return "Change order accepted"
	}
	return "Change order declined"
}

// RespondTransition computes the terminal state for an accept/decline
// response. Exactly one of AcceptedAt and DeclinedAt is set.
func RespondTransition(current ChangeOrderStatus, action Action, now time.Time) (Transition, error) {
	if !IsChangeOrderOpen(current) {
		return Transition{}, fmt.Errorf("%w: change order is %s", ErrInvalidState, current)
	}
	at := now.UTC()
	switch action {
	case ActionAccept:
		return Transition{Status: ChangeOrderAccepted, AcceptedAt: &at}, nil
	case ActionDecline:
		return Transition{Status: ChangeOrderDeclined, DeclinedAt: &at}, nil
	default:
		return Transition{}, ErrInvalidAction
	}
}

// TotalDisplay renders the customer-facing total. Ballpark quotes with a
// real range show "low - high".
func TotalDisplay(quoteType string, total, low, high float64) string {
	if quoteType == "ballpark" && low != high {
		return FormatCurrency(low) + " - " + FormatCurrency(high)
	}
	return FormatCurrency(total)
}

// FormatCurrency formats USD amounts as $1,234.50.
func FormatCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	cents := int64(math.Round(amount * 100))
	whole := cents / 100
	frac := cents % 100

	digits := fmt.Sprintf("%d", whole)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, grouped.String(), frac)
}
