package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"opsdesk/api/internal/attachments"
	"opsdesk/api/internal/auth"
	"opsdesk/api/internal/authpw"
	"opsdesk/api/internal/config"
	"opsdesk/api/internal/notify"
	"opsdesk/api/internal/rbac"
	"opsdesk/api/internal/search"
	"opsdesk/api/internal/store"
)

type dataStore interface {
	GetQuoteByAccessToken(context.Context, string) (store.Quote, error)
	GetQuote(context.Context, string) (store.Quote, error)
	EnsureQuoteAccessToken(context.Context, string, string) (string, error)
	MarkQuoteViewed(context.Context, string, time.Time) (bool, error)
	InsertQuoteView(context.Context, store.QuoteView) error
	IncrementQuoteViewCount(context.Context, string) error
	MarkQuoteSent(context.Context, string, time.Time) (string, error)
	GetChangeOrder(context.Context, string) (store.ChangeOrder, error)
	RespondChangeOrder(context.Context, string, string, *time.Time, *time.Time) (bool, error)
	SelectQuotePackage(context.Context, string, *string) error
	GetQuoteLineItem(context.Context, string, string) (store.LineItem, error)
	SetLineItemSelected(context.Context, string, string, bool) (bool, error)
	ListQuoteLineItems(context.Context, string) ([]store.LineItem, error)
	ListQuoteAttachments(context.Context, string) ([]store.QuoteAttachment, error)
	ListChangeOrders(context.Context, string) ([]store.ChangeOrder, error)
	ListPayments(context.Context, string) ([]store.Payment, error)
	ListQuotePackages(context.Context, string) ([]store.Package, error)
	GetBookingFormBySlug(context.Context, string) (store.BookingForm, error)
	GetBookingForm(context.Context, string) (store.BookingForm, error)
	ListBookingFormQuestions(context.Context, string) ([]store.Question, error)
	UpsertCustomerByEmail(context.Context, store.Customer) (string, error)
	CreateJobWithSubmission(context.Context, store.Job, store.BookingSubmission) (store.Job, error)
	IncrementBookingFormSubmissions(context.Context, string) error
	GetInvoice(context.Context, string) (store.Invoice, error)
	MarkInvoiceSent(context.Context, string, time.Time) (string, error)
	GetCompanySettings(context.Context) (store.CompanySettings, error)
	GetStaffUserByID(context.Context, string) (store.StaffUser, error)
	Ping(ctx context.Context) error
}

// PortalSessionStore is implemented by the Postgres store and by
// session.RedisStore.
type PortalSessionStore interface {
	SavePortalSession(ctx context.Context, tokenHash string, session store.PortalSession) error
	LookupPortalSession(ctx context.Context, tokenHash string) (store.PortalSession, error)
	RevokePortalSession(ctx context.Context, tokenHash string) error
}

type mailer interface {
	Send(ctx context.Context, msg notify.Message) (notify.Receipt, error)
}

type pipelineSearch interface {
	Search(q search.Query) search.Response
	IndexJob(job store.Job, customerName string)
	IndexCustomer(c store.Customer)
}

type staffAuthenticator interface {
	SignIn(ctx context.Context, email, password string) (store.StaffUser, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  PortalSessionStore
	mailer    mailer
	files     attachments.Store
	search    pipelineSearch
	staffAuth staffAuthenticator
	now       func() time.Time
}

// New keeps portal sessions in Postgres.
func New(cfg config.Config, dataStore *store.PostgresStore, dispatcher *notify.Dispatcher, files attachments.Store, searchService *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, dispatcher, files, searchService)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions PortalSessionStore, dispatcher *notify.Dispatcher, files attachments.Store, searchService *search.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		mailer:    dispatcher,
		files:     files,
		staffAuth: authpw.NewService(dataStore),
		now:       time.Now,
	}
	if searchService != nil {
		svc.search = searchService
	}
	return svc
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// StaffSession is the authenticated staff member behind a bearer token.
type StaffSession struct {
	UserID string
	Email  string
	Role   rbac.Role
}

func (s *Service) StaffSignIn(ctx context.Context, email, password string) (map[string]any, error) {
	user, err := s.staffAuth.SignIn(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrMissingCredentials):
			return nil, validationError("Email and password are required", nil)
		case errors.Is(err, authpw.ErrAccountDisabled):
			return nil, forbidden("Account is deactivated", nil)
		default:
			return nil, unauthorized("Invalid email or password")
		}
	}

	expiresAt := s.clock().Add(s.cfg.StaffTokenTTL)
	token, err := auth.IssueStaffToken([]byte(s.cfg.StaffTokenSecret), auth.StaffClaims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("issue staff token: %w", err)
	}
	return map[string]any{
		"token":      token,
		"expires_at": expiresAt,
		"role":       user.Role,
	}, nil
}

// StaffFromToken verifies the signature and re-reads the account so a
// deactivated user or a changed role takes effect before the token expires.
func (s *Service) StaffFromToken(ctx context.Context, token string) (StaffSession, error) {
	claims, err := auth.ParseStaffToken([]byte(s.cfg.StaffTokenSecret), token, s.clock())
	if err != nil {
		return StaffSession{}, err
	}
	user, err := s.store.GetStaffUserByID(ctx, claims.Sub)
	if err != nil {
		if store.IsNotFound(err) {
			return StaffSession{}, auth.ErrInvalidToken
		}
		return StaffSession{}, fmt.Errorf("load staff user: %w", err)
	}
	if user.DeactivatedAt != nil {
		return StaffSession{}, auth.ErrInvalidToken
	}
	return StaffSession{UserID: user.ID, Email: user.Email, Role: rbac.Normalize(user.Role)}, nil
}

// authorize is the single capability check made at each staff operation.
func (s *Service) authorize(staff StaffSession, capability rbac.Capability) error {
	decision := rbac.Decide(staff.Role, capability)
	if decision.Allowed {
		return nil
	}
	log.Printf("rbac: denied user=%s role=%s capability=%s", staff.UserID, decision.Role, decision.Capability)
	return forbidden("Forbidden", map[string]any{
		"capability": string(decision.Capability),
		"reason":     decision.Reason,
	})
}

func (s *Service) Search(ctx context.Context, staff StaffSession, text, filterType string, limit int) (search.Response, error) {
	if err := s.authorize(staff, rbac.CapabilitySearchPipeline); err != nil {
		return search.Response{}, err
	}
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := search.Query{Text: text, Limit: limit}
	switch search.ResultType(filterType) {
	case search.ResultJob, search.ResultCustomer:
		query.FilterType = search.ResultType(filterType)
	}
	return s.search.Search(query), nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
