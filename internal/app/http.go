package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/quote"
	"opsdesk/api/internal/rbac"
	"opsdesk/api/internal/store"
)

// maxSubmissionBytes bounds booking submissions, which carry attachments as
// data URIs.
const maxSubmissionBytes = 32 << 20

// routes lists the allowed methods per path so a known path with the wrong
// method answers 405 instead of 404.
var routes = map[string][]string{
	"/api/health":                       {http.MethodGet, http.MethodHead},
	"/api/ready":                        {http.MethodGet, http.MethodHead},
	"/api/public/quote":                 {http.MethodGet},
	"/api/public/change-order-response": {http.MethodPost},
	"/api/public/quote/selection":       {http.MethodPost},
	"/api/portal/sessions":              {http.MethodPost, http.MethodDelete},
	"/api/portal/quote/selection":       {http.MethodPost},
	"/api/booking-forms":                {http.MethodGet},
	"/api/booking-submissions":          {http.MethodPost},
	"/api/staff/signin":                 {http.MethodPost},
	"/api/staff/quotes/send-email":      {http.MethodPost},
	"/api/staff/invoices/send-email":    {http.MethodPost},
	"/api/staff/emails":                 {http.MethodPost},
	"/api/staff/search":                 {http.MethodGet},
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	allowed, known := routes[r.URL.Path]
	if !known {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !methodAllowed(allowed, r.Method) {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch r.URL.Path {
	case "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "/api/ready":
		s.handleReady(w, r)
	case "/api/public/quote":
		s.handlePublicQuote(w, r)
	case "/api/public/change-order-response":
		s.handleChangeOrderResponse(w, r)
	case "/api/public/quote/selection":
		s.handlePublicSelection(w, r)
	case "/api/portal/sessions":
		if r.Method == http.MethodDelete {
			s.handleRevokePortalSession(w, r)
			return
		}
		s.handleCreatePortalSession(w, r)
	case "/api/portal/quote/selection":
		s.handlePortalSelection(w, r)
	case "/api/booking-forms":
		s.handleBookingForm(w, r)
	case "/api/booking-submissions":
		s.handleBookingSubmission(w, r)
	case "/api/staff/signin":
		s.handleStaffSignIn(w, r)
	case "/api/staff/quotes/send-email":
		s.handleSendQuoteEmail(w, r)
	case "/api/staff/invoices/send-email":
		s.handleSendInvoiceEmail(w, r)
	case "/api/staff/emails":
		s.handleTemplateEmail(w, r)
	case "/api/staff/search":
		s.handleSearch(w, r)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	// Check database connectivity
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handlePublicQuote(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	preview := r.URL.Query().Get("preview") == "1"

	if preview {
		staff, ok := s.requireStaff(w, r)
		if !ok {
			return
		}
		if err := s.service.authorize(staff, rbac.CapabilityPreviewQuotes); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	result, err := s.service.PublicQuote(r.Context(), token, preview, ViewerInfo{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleChangeOrderResponse(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token         string `json:"token"`
		ChangeOrderID string `json:"change_order_id"`
		Action        string `json:"action"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.RespondChangeOrder(r.Context(), body.Token, body.ChangeOrderID, body.Action)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePublicSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token      string         `json:"token"`
		ItemID     string         `json:"item_id"`
		IsSelected bool           `json:"is_selected"`
		PackageID  optionalString `json:"package_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.PublicSelection(r.Context(), body.Token, SelectionChange{
		PackageSet: body.PackageID.Set,
		PackageID:  body.PackageID.Value,
		ItemID:     body.ItemID,
		Selected:   body.IsSelected,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePortalSelection(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.PortalSession(r.Context(), bearerToken(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	var body struct {
		QuoteID   string         `json:"quote_id"`
		ItemID    string         `json:"item_id"`
		Selected  bool           `json:"selected"`
		PackageID optionalString `json:"package_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.PortalSelection(r.Context(), session, body.QuoteID, SelectionChange{
		PackageSet: body.PackageID.Set,
		PackageID:  body.PackageID.Value,
		ItemID:     body.ItemID,
		Selected:   body.Selected,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCreatePortalSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.CreatePortalSession(r.Context(), body.Token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleRevokePortalSession(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.RevokePortalSession(r.Context(), bearerToken(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBookingForm(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.BookingForm(r.Context(), r.URL.Query().Get("slug"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBookingSubmission(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}
	result, err := s.service.SubmitBooking(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStaffSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.StaffSignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSendQuoteEmail(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	var body struct {
		QuoteID string `json:"quoteId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.SendQuoteEmail(r.Context(), staff, body.QuoteID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSendInvoiceEmail(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	var body struct {
		InvoiceID string `json:"invoiceId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.SendInvoiceEmail(r.Context(), staff, body.InvoiceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleTemplateEmail(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	var body TemplateEmail
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	result, err := s.service.SendTemplateEmail(r.Context(), staff, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	staff, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	result, err := s.service.Search(r.Context(), staff, r.URL.Query().Get("q"), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) requireStaff(w http.ResponseWriter, r *http.Request) (StaffSession, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return StaffSession{}, false
	}
	staff, err := s.service.StaffFromToken(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, err)
		return StaffSession{}, false
	}
	return staff, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("api: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func methodAllowed(allowed []string, method string) bool {
	for _, candidate := range allowed {
		if candidate == method {
			return true
		}
	}
	return false
}

// clientIP prefers the first X-Forwarded-For hop, then Client-IP.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	return strings.TrimSpace(r.Header.Get("Client-IP"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if store.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, quote.ErrExpired) {
		return http.StatusGone, "EXPIRED", msgQuoteExpired, nil
	}
	if errors.Is(err, quote.ErrInvalidState) || errors.Is(err, store.ErrStateChanged) {
		return http.StatusBadRequest, "INVALID_STATE", msgQuoteNotModifiable, nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
