package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/quote"
	"opsdesk/api/internal/store"
)

const (
	msgQuoteLinkNotFound   = "Quote not found or link expired"
	msgInvalidAccessToken  = "Invalid access token"
	msgQuoteExpired        = "This quote has expired"
	msgQuoteNotModifiable  = "Quote cannot be modified"
	msgChangeOrderConflict = "Change order cannot be modified"
)

// resolveQuote turns a public access token into its quote. Unknown tokens are
// indistinguishable from never-issued ones, and expiry is checked before any
// caller looks at status.
func (s *Service) resolveQuote(ctx context.Context, token, notFoundMessage string) (store.Quote, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.Quote{}, validationError("Access token required", nil)
	}
	q, err := s.store.GetQuoteByAccessToken(ctx, token)
	if err != nil {
		if store.IsNotFound(err) {
			log.Printf("quotes: no quote for token %s", auth.Preview(token))
			return store.Quote{}, notFound(notFoundMessage)
		}
		return store.Quote{}, fmt.Errorf("resolve quote: %w", err)
	}
	if err := quote.CheckExpiry(q.ExpiresAt, s.clock()); err != nil {
		return store.Quote{}, expired(msgQuoteExpired)
	}
	return q, nil
}

// ViewerInfo describes the client reading a public quote.
type ViewerInfo struct {
	IPAddress string
	UserAgent string
}

// PublicQuote returns the customer-facing projection of a quote. A preview
// read has no side effects; the caller is responsible for authorizing it.
func (s *Service) PublicQuote(ctx context.Context, token string, preview bool, viewer ViewerInfo) (map[string]any, error) {
	q, err := s.resolveQuote(ctx, token, msgQuoteLinkNotFound)
	if err != nil {
		return nil, err
	}

	lineItems, err := s.store.ListQuoteLineItems(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	attachments, err := s.store.ListQuoteAttachments(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	changeOrders, err := s.store.ListChangeOrders(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	packages, err := s.store.ListQuotePackages(ctx, q.ID)
	if err != nil {
		log.Printf("quotes: packages unavailable for %s: %v", q.QuoteNumber, err)
		packages = nil
	}

	if !preview {
		s.recordView(ctx, &q, viewer)
	}

	return map[string]any{
		"quote":         publicQuoteJSON(q),
		"line_items":    lineItemsJSON(lineItems),
		"attachments":   attachmentsJSON(attachments),
		"change_orders": changeOrdersJSON(changeOrders),
		"payments":      paymentsJSON(payments),
		"packages":      packagesJSON(packages),
	}, nil
}

// recordView applies the sent -> viewed transition and logs the read. None of
// it may fail the request.
func (s *Service) recordView(ctx context.Context, q *store.Quote, viewer ViewerInfo) {
	now := s.clock()
	if quote.ShouldMarkViewed(quote.Status(q.Status), false) {
		changed, err := s.store.MarkQuoteViewed(ctx, q.ID, now)
		if err != nil {
			log.Printf("quotes: mark viewed %s: %v", q.QuoteNumber, err)
		} else if changed {
			q.Status = string(quote.StatusViewed)
			if q.ViewedAt == nil {
				q.ViewedAt = &now
			}
		}
	}

	if err := s.store.InsertQuoteView(ctx, store.QuoteView{
		QuoteID:   q.ID,
		Source:    "public",
		IPAddress: viewer.IPAddress,
		UserAgent: viewer.UserAgent,
	}); err != nil {
		log.Printf("quotes: view logging error (non-fatal): %v", err)
		return
	}
	if err := s.store.IncrementQuoteViewCount(ctx, q.ID); err != nil {
		log.Printf("quotes: view count error (non-fatal): %v", err)
		return
	}
	q.ViewCount++
}

// RespondChangeOrder accepts or declines an open change order on behalf of
// the customer holding the quote link.
func (s *Service) RespondChangeOrder(ctx context.Context, token, changeOrderID, rawAction string) (map[string]any, error) {
	if strings.TrimSpace(token) == "" || strings.TrimSpace(changeOrderID) == "" || strings.TrimSpace(rawAction) == "" {
		return nil, validationError("Missing required fields", nil)
	}
	action, err := quote.ParseAction(rawAction)
	if err != nil {
		return nil, validationError("Invalid action", nil)
	}

	q, err := s.resolveQuote(ctx, token, msgInvalidAccessToken)
	if err != nil {
		return nil, err
	}

	co, err := s.store.GetChangeOrder(ctx, changeOrderID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Change order not found")
		}
		return nil, fmt.Errorf("load change order: %w", err)
	}
	if co.QuoteID != q.ID {
		return nil, forbidden("Change order does not belong to this quote", nil)
	}

	transition, err := quote.RespondTransition(quote.ChangeOrderStatus(co.Status), action, s.clock())
	if err != nil {
		return nil, invalidState(msgChangeOrderConflict)
	}
	changed, err := s.store.RespondChangeOrder(ctx, co.ID, string(transition.Status), transition.AcceptedAt, transition.DeclinedAt)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidState(msgChangeOrderConflict)
	}

	log.Printf("quotes: change order %s %s on %s", co.ID, transition.Status, q.QuoteNumber)
	return map[string]any{
		"message": transition.Message(),
		"status":  string(transition.Status),
	}, nil
}

func publicQuoteJSON(q store.Quote) map[string]any {
	return map[string]any{
		"id":                  q.ID,
		"quote_number":        q.QuoteNumber,
		"title":               q.Title,
		"customer_id":         q.CustomerID,
		"status":              q.Status,
		"quote_type":          q.QuoteType,
		"total":               q.Total,
		"total_low":           q.TotalLow,
		"total_high":          q.TotalHigh,
		"total_display":       quote.TotalDisplay(q.QuoteType, q.Total, q.TotalLow, q.TotalHigh),
		"expires_at":          q.ExpiresAt,
		"sent_at":             q.SentAt,
		"viewed_at":           q.ViewedAt,
		"view_count":          q.ViewCount,
		"selected_package_id": q.SelectedPackageID,
		"created_at":          q.CreatedAt,
		"updated_at":          q.UpdatedAt,
		"customers": map[string]any{
			"name":  q.CustomerName,
			"email": q.CustomerEmail,
			"phone": q.CustomerPhone,
		},
	}
}

func lineItemsJSON(items []store.LineItem) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, map[string]any{
			"id":          item.ID,
			"quote_id":    item.QuoteID,
			"description": item.Description,
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice,
			"total":       item.Total,
			"sort_order":  item.SortOrder,
			"is_optional": item.IsOptional,
			"is_selected": item.IsSelected,
		})
	}
	return out
}

func attachmentsJSON(attachments []store.QuoteAttachment) []map[string]any {
	out := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, map[string]any{
			"id":            a.ID,
			"quote_id":      a.QuoteID,
			"file_name":     a.FileName,
			"file_url":      a.FileURL,
			"content_type":  a.ContentType,
			"display_order": a.DisplayOrder,
			"created_at":    a.CreatedAt,
		})
	}
	return out
}

func changeOrdersJSON(changeOrders []store.ChangeOrder) []map[string]any {
	out := make([]map[string]any, 0, len(changeOrders))
	for _, co := range changeOrders {
		items := make([]map[string]any, 0, len(co.Items))
		for _, item := range co.Items {
			items = append(items, map[string]any{
				"id":              item.ID,
				"change_order_id": item.ChangeOrderID,
				"description":     item.Description,
				"quantity":        item.Quantity,
				"unit_price":      item.UnitPrice,
				"total":           item.Total,
				"sort_order":      item.SortOrder,
			})
		}
		out = append(out, map[string]any{
			"id":                 co.ID,
			"quote_id":           co.QuoteID,
			"title":              co.Title,
			"description":        co.Description,
			"amount":             co.Amount,
			"status":             co.Status,
			"accepted_at":        co.AcceptedAt,
			"declined_at":        co.DeclinedAt,
			"created_at":         co.CreatedAt,
			"updated_at":         co.UpdatedAt,
			"change_order_items": items,
		})
	}
	return out
}

func paymentsJSON(payments []store.Payment) []map[string]any {
	out := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		out = append(out, map[string]any{
			"id":         p.ID,
			"quote_id":   p.QuoteID,
			"amount":     p.Amount,
			"method":     p.Method,
			"status":     p.Status,
			"paid_at":    p.PaidAt,
			"created_at": p.CreatedAt,
		})
	}
	return out
}

func packagesJSON(packages []store.Package) []map[string]any {
	out := make([]map[string]any, 0, len(packages))
	for _, pkg := range packages {
		items := make([]map[string]any, 0, len(pkg.Items))
		for _, item := range pkg.Items {
			items = append(items, map[string]any{
				"id":          item.ID,
				"package_id":  item.PackageID,
				"description": item.Description,
				"quantity":    item.Quantity,
				"unit_price":  item.UnitPrice,
				"sort_order":  item.SortOrder,
			})
		}
		out = append(out, map[string]any{
			"id":          pkg.ID,
			"quote_id":    pkg.QuoteID,
			"name":        pkg.Name,
			"description": pkg.Description,
			"price":       pkg.Price,
			"sort_order":  pkg.SortOrder,
			"is_selected": pkg.IsSelected,
			"items":       items,
		})
	}
	return out
}
