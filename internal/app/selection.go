package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"opsdesk/api/internal/quote"
	"opsdesk/api/internal/store"
)

// SelectionChange is one customer edit of a quote. A package change, even a
// clear, takes precedence over an item toggle.
type SelectionChange struct {
	PackageSet bool
	PackageID  *string
	ItemID     string
	Selected   bool
}

// optionalString distinguishes an absent JSON key from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	if strings.TrimSpace(value) != "" {
		o.Value = &value
	}
	return nil
}

// PublicSelection applies a change authorized by the quote access token.
func (s *Service) PublicSelection(ctx context.Context, token string, change SelectionChange) (map[string]any, error) {
	if strings.TrimSpace(token) == "" {
		return nil, validationError("Access token required", nil)
	}
	if !change.PackageSet && strings.TrimSpace(change.ItemID) == "" {
		return nil, validationError("Missing item_id or package_id", nil)
	}
	q, err := s.resolveQuote(ctx, token, msgInvalidAccessToken)
	if err != nil {
		return nil, err
	}
	if err := s.applySelection(ctx, q, change); err != nil {
		return nil, err
	}

	response := map[string]any{"updated": true}
	if change.PackageSet {
		response["package_id"] = change.PackageID
	}
	return response, nil
}

// PortalSelection applies a change through a portal session. Any quote other
// than the one the session was opened for looks exactly like a missing one.
func (s *Service) PortalSelection(ctx context.Context, session store.PortalSession, quoteID string, change SelectionChange) (map[string]any, error) {
	if strings.TrimSpace(quoteID) == "" {
		return nil, validationError("Missing quote_id", nil)
	}
	if !change.PackageSet && strings.TrimSpace(change.ItemID) == "" {
		return nil, validationError("Missing item_id or package_id", nil)
	}
	if quoteID != session.QuoteID {
		return nil, notFound("Quote not found")
	}
	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Quote not found")
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if q.CustomerID != session.CustomerID {
		return nil, notFound("Quote not found")
	}
	if err := quote.CheckExpiry(q.ExpiresAt, s.clock()); err != nil {
		return nil, expired(msgQuoteExpired)
	}
	if err := s.applySelection(ctx, q, change); err != nil {
		return nil, err
	}

	response := map[string]any{"success": true}
	if change.PackageSet {
		response["package_id"] = change.PackageID
	}
	return response, nil
}

func (s *Service) applySelection(ctx context.Context, q store.Quote, change SelectionChange) error {
	if change.PackageSet {
		return s.SetPackage(ctx, q, change.PackageID)
	}
	return s.SetItemSelection(ctx, q, change.ItemID, change.Selected)
}

// SetPackage makes packageID the only selected package of q, or clears the
// selection when packageID is nil.
func (s *Service) SetPackage(ctx context.Context, q store.Quote, packageID *string) error {
	if !quote.IsOpen(quote.Status(q.Status)) {
		return invalidState(msgQuoteNotModifiable)
	}
	err := s.store.SelectQuotePackage(ctx, q.ID, packageID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStateChanged):
		return invalidState(msgQuoteNotModifiable)
	case store.IsNotFound(err):
		return notFound("Package not found")
	default:
		return err
	}
}

// SetItemSelection toggles an optional line item. Item membership and
// optionality are reported before the quote status.
func (s *Service) SetItemSelection(ctx context.Context, q store.Quote, itemID string, selected bool) error {
	item, err := s.store.GetQuoteLineItem(ctx, q.ID, itemID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Line item not found")
		}
		return fmt.Errorf("load line item: %w", err)
	}
	if !item.IsOptional {
		return invalidState("Only optional items can be toggled")
	}
	if !quote.IsOpen(quote.Status(q.Status)) {
		return invalidState(msgQuoteNotModifiable)
	}
	changed, err := s.store.SetLineItemSelected(ctx, q.ID, item.ID, selected)
	if err != nil {
		return err
	}
	if !changed {
		return invalidState(msgQuoteNotModifiable)
	}
	return nil
}
