package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStateChanged is returned by locked writes whose quote left the
// sent/viewed window between the caller's check and the write.
var ErrStateChanged = errors.New("quote is no longer open")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// IsUniqueViolation reports whether err is a Postgres 23505.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsInvalidTextRepresentation reports whether err is a Postgres 22P02, which
// is what a malformed uuid id produces.
func IsInvalidTextRepresentation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// IsNotFound reports a lookup miss. An id that cannot be a uuid never names a
// row, so it counts as a miss too.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || IsInvalidTextRepresentation(err)
}

func lookupErr(err error) error {
	if IsInvalidTextRepresentation(err) {
		return sql.ErrNoRows
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const quoteColumns = `
	q.id, q.quote_number, q.title, q.customer_id, c.name, c.email, COALESCE(c.phone, ''),
	q.status, q.quote_type, q.total, q.total_low, q.total_high, q.expires_at,
	COALESCE(q.access_token, ''), q.sent_at, q.viewed_at, q.view_count, q.internal_notes,
	q.selected_package_id, q.created_at, q.updated_at
`

func scanQuote(row rowScanner) (Quote, error) {
	var q Quote
	err := row.Scan(
		&q.ID, &q.QuoteNumber, &q.Title, &q.CustomerID, &q.CustomerName, &q.CustomerEmail, &q.CustomerPhone,
		&q.Status, &q.QuoteType, &q.Total, &q.TotalLow, &q.TotalHigh, &q.ExpiresAt,
		&q.AccessToken, &q.SentAt, &q.ViewedAt, &q.ViewCount, &q.InternalNotes,
		&q.SelectedPackageID, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}

func (s *PostgresStore) GetQuoteByAccessToken(ctx context.Context, token string) (Quote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes q
		JOIN customers c ON c.id = q.customer_id
		WHERE q.access_token = $1
	`, token)
	return scanQuote(row)
}

func (s *PostgresStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+quoteColumns+`
		FROM quotes q
		JOIN customers c ON c.id = q.customer_id
		WHERE q.id = $1
	`, quoteID)
	q, err := scanQuote(row)
	return q, lookupErr(err)
}

// EnsureQuoteAccessToken persists candidate only when the quote has no token
// yet and returns whichever token is stored afterwards.
func (s *PostgresStore) EnsureQuoteAccessToken(ctx context.Context, quoteID, candidate string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		UPDATE quotes
		SET access_token = COALESCE(access_token, $2)
		WHERE id = $1
		RETURNING access_token
	`, quoteID, candidate).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("ensure access token: %w", err)
	}
	return token, nil
}

// MarkQuoteViewed moves a sent quote to viewed. viewed_at is written once.
func (s *PostgresStore) MarkQuoteViewed(ctx context.Context, quoteID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes
		SET status = 'viewed', viewed_at = COALESCE(viewed_at, $2), updated_at = NOW()
		WHERE id = $1 AND status = 'sent'
	`, quoteID, at)
	if err != nil {
		return false, fmt.Errorf("mark quote viewed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark quote viewed rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertQuoteView(ctx context.Context, view QuoteView) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_views (quote_id, source, ip_address, user_agent)
		VALUES ($1, $2, $3, $4)
	`, view.QuoteID, view.Source, nullIfEmpty(view.IPAddress), nullIfEmpty(view.UserAgent))
	if err != nil {
		return fmt.Errorf("insert quote view: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementQuoteViewCount(ctx context.Context, quoteID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE quotes SET view_count = view_count + 1 WHERE id = $1`, quoteID)
	if err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}

// MarkQuoteSent records a confirmed send. The status rule matches
// quote.SentTransition so a resend never moves a quote backwards.
func (s *PostgresStore) MarkQuoteSent(ctx context.Context, quoteID string, sentAt time.Time) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE quotes
		SET sent_at = $2,
			status = CASE WHEN status IN ('draft', 'sent', 'expired') THEN 'sent' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`, quoteID, sentAt).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("mark quote sent: %w", err)
	}
	return status, nil
}

func (s *PostgresStore) GetChangeOrder(ctx context.Context, changeOrderID string) (ChangeOrder, error) {
	var co ChangeOrder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, quote_id, title, description, amount, status, accepted_at, declined_at, created_at, updated_at
		FROM change_orders
		WHERE id = $1
	`, changeOrderID).Scan(&co.ID, &co.QuoteID, &co.Title, &co.Description, &co.Amount, &co.Status,
		&co.AcceptedAt, &co.DeclinedAt, &co.CreatedAt, &co.UpdatedAt)
	if err != nil {
		return ChangeOrder{}, lookupErr(err)
	}
	return co, nil
}

// RespondChangeOrder applies a terminal transition only while the change
// order is still open. False means another response won.
func (s *PostgresStore) RespondChangeOrder(ctx context.Context, changeOrderID, status string, acceptedAt, declinedAt *time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE change_orders
		SET status = $2, accepted_at = $3, declined_at = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('sent', 'viewed')
	`, changeOrderID, status, acceptedAt, declinedAt)
	if err != nil {
		return false, fmt.Errorf("respond change order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("respond change order rows: %w", err)
	}
	return affected > 0, nil
}

// SelectQuotePackage switches the single selected package of a quote. A nil
// packageID clears the selection. The quote row is locked for the duration so
// concurrent selections serialize, and one UPDATE flips every sibling at once.
func (s *PostgresStore) SelectQuotePackage(ctx context.Context, quoteID string, packageID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin package selection: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM quotes WHERE id = $1 FOR UPDATE`, quoteID).Scan(&status); err != nil {
		return lookupErr(err)
	}
	if status != "sent" && status != "viewed" {
		return ErrStateChanged
	}

	if packageID != nil {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM quote_packages WHERE id = $1 AND quote_id = $2)
		`, *packageID, quoteID).Scan(&exists); err != nil {
			if IsInvalidTextRepresentation(err) {
				return sql.ErrNoRows
			}
			return fmt.Errorf("check package: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE quote_packages
		SET is_selected = (id = $2) IS TRUE
		WHERE quote_id = $1
	`, quoteID, packageID); err != nil {
		return fmt.Errorf("update package selection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE quotes SET selected_package_id = $2, updated_at = NOW() WHERE id = $1
	`, quoteID, packageID); err != nil {
		return fmt.Errorf("update selected package: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit package selection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQuoteLineItem(ctx context.Context, quoteID, itemID string) (LineItem, error) {
	var item LineItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, quote_id, description, quantity, unit_price, total, sort_order, is_optional, is_selected
		FROM quote_line_items
		WHERE id = $1 AND quote_id = $2
	`, itemID, quoteID).Scan(&item.ID, &item.QuoteID, &item.Description, &item.Quantity, &item.UnitPrice,
		&item.Total, &item.SortOrder, &item.IsOptional, &item.IsSelected)
	if err != nil {
		return LineItem{}, lookupErr(err)
	}
	return item, nil
}

// SetLineItemSelected toggles an optional item while its quote is open.
// False means one of those conditions no longer held at write time.
func (s *PostgresStore) SetLineItemSelected(ctx context.Context, quoteID, itemID string, selected bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quote_line_items li
		SET is_selected = $3
		FROM quotes q
		WHERE li.id = $2
			AND li.quote_id = $1
			AND q.id = li.quote_id
			AND li.is_optional
			AND q.status IN ('sent', 'viewed')
	`, quoteID, itemID, selected)
	if err != nil {
		return false, fmt.Errorf("set line item selection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set line item selection rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListQuoteLineItems(ctx context.Context, quoteID string) ([]LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, description, quantity, unit_price, total, sort_order, is_optional, is_selected
		FROM quote_line_items
		WHERE quote_id = $1
		ORDER BY sort_order ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	items := make([]LineItem, 0)
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ID, &item.QuoteID, &item.Description, &item.Quantity, &item.UnitPrice,
			&item.Total, &item.SortOrder, &item.IsOptional, &item.IsSelected); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListQuoteAttachments(ctx context.Context, quoteID string) ([]QuoteAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, file_name, file_url, content_type, display_order, created_at
		FROM quote_attachments
		WHERE quote_id = $1
		ORDER BY display_order ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]QuoteAttachment, 0)
	for rows.Next() {
		var item QuoteAttachment
		if err := rows.Scan(&item.ID, &item.QuoteID, &item.FileName, &item.FileURL, &item.ContentType,
			&item.DisplayOrder, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListChangeOrders(ctx context.Context, quoteID string) ([]ChangeOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, title, description, amount, status, accepted_at, declined_at, created_at, updated_at
		FROM change_orders
		WHERE quote_id = $1
		ORDER BY created_at ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list change orders: %w", err)
	}
	defer rows.Close()

	orders := make([]ChangeOrder, 0)
	index := map[string]int{}
	for rows.Next() {
		var co ChangeOrder
		if err := rows.Scan(&co.ID, &co.QuoteID, &co.Title, &co.Description, &co.Amount, &co.Status,
			&co.AcceptedAt, &co.DeclinedAt, &co.CreatedAt, &co.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan change order: %w", err)
		}
		co.Items = make([]ChangeOrderItem, 0)
		index[co.ID] = len(orders)
		orders = append(orders, co)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.change_order_id, i.description, i.quantity, i.unit_price, i.total, i.sort_order
		FROM change_order_items i
		JOIN change_orders co ON co.id = i.change_order_id
		WHERE co.quote_id = $1
		ORDER BY i.sort_order ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list change order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item ChangeOrderItem
		if err := itemRows.Scan(&item.ID, &item.ChangeOrderID, &item.Description, &item.Quantity,
			&item.UnitPrice, &item.Total, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan change order item: %w", err)
		}
		if i, ok := index[item.ChangeOrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change order items: %w", err)
	}
	return orders, nil
}

func (s *PostgresStore) ListPayments(ctx context.Context, quoteID string) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, amount, method, status, paid_at, created_at
		FROM payments
		WHERE quote_id = $1
		ORDER BY created_at DESC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	items := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.QuoteID, &p.Amount, &p.Method, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListQuotePackages(ctx context.Context, quoteID string) ([]Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, name, description, price, sort_order, is_selected
		FROM quote_packages
		WHERE quote_id = $1
		ORDER BY sort_order ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	packages := make([]Package, 0)
	index := map[string]int{}
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.QuoteID, &p.Name, &p.Description, &p.Price, &p.SortOrder, &p.IsSelected); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		p.Items = make([]PackageItem, 0)
		index[p.ID] = len(packages)
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	if len(packages) == 0 {
		return packages, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.package_id, i.description, i.quantity, i.unit_price, i.sort_order
		FROM quote_package_items i
		JOIN quote_packages p ON p.id = i.package_id
		WHERE p.quote_id = $1
		ORDER BY i.sort_order ASC
	`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("list package items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item PackageItem
		if err := itemRows.Scan(&item.ID, &item.PackageID, &item.Description, &item.Quantity, &item.UnitPrice, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan package item: %w", err)
		}
		if i, ok := index[item.PackageID]; ok {
			packages[i].Items = append(packages[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate package items: %w", err)
	}
	return packages, nil
}

const bookingFormColumns = `id, name, slug, description, is_active, default_stage, submission_count, created_at`

func scanBookingForm(row rowScanner) (BookingForm, error) {
	var f BookingForm
	err := row.Scan(&f.ID, &f.Name, &f.Slug, &f.Description, &f.IsActive, &f.DefaultStage, &f.SubmissionCount, &f.CreatedAt)
	return f, err
}

func (s *PostgresStore) GetBookingFormBySlug(ctx context.Context, slug string) (BookingForm, error) {
	return scanBookingForm(s.db.QueryRowContext(ctx, `
		SELECT `+bookingFormColumns+`
		FROM booking_forms
		WHERE slug = $1 AND is_active
	`, slug))
}

func (s *PostgresStore) GetBookingForm(ctx context.Context, formID string) (BookingForm, error) {
	return scanBookingForm(s.db.QueryRowContext(ctx, `
		SELECT `+bookingFormColumns+`
		FROM booking_forms
		WHERE id = $1
	`, formID))
}

func (s *PostgresStore) ListBookingFormQuestions(ctx context.Context, formID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, label, question_type, options::text, is_required, sort_order
		FROM booking_form_questions
		WHERE form_id = $1
		ORDER BY sort_order ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.FormID, &q.Label, &q.QuestionType, &q.Options, &q.IsRequired, &q.SortOrder); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

// UpsertCustomerByEmail returns the id of the customer keyed by the
// lower-cased email, creating it when absent. Concurrent callers with the
// same email converge on one row through the unique constraint.
func (s *PostgresStore) UpsertCustomerByEmail(ctx context.Context, customer Customer) (string, error) {
	email := strings.ToLower(strings.TrimSpace(customer.Email))

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, email, phone, address, city, state, zip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`, customer.Name, email, nullIfEmpty(customer.Phone), nullIfEmpty(customer.Address),
		nullIfEmpty(customer.City), nullIfEmpty(customer.State), nullIfEmpty(customer.Zip)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("insert customer: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT id FROM customers WHERE email = $1`, email).Scan(&id); err != nil {
		return "", fmt.Errorf("lookup customer: %w", err)
	}
	return id, nil
}

const jobNumberAttempts = 3

// CreateJobWithSubmission allocates a job number, creates the job and the
// booking submission in one transaction. Nothing persists on failure. A job
// number already taken by a manually numbered job is skipped by retrying.
func (s *PostgresStore) CreateJobWithSubmission(ctx context.Context, job Job, sub BookingSubmission) (Job, error) {
	var err error
	for attempt := 0; attempt < jobNumberAttempts; attempt++ {
		var created Job
		created, err = s.createJobWithSubmission(ctx, job, sub)
		if err == nil {
			return created, nil
		}
		if !IsUniqueViolation(err) {
			return Job{}, err
		}
	}
	return Job{}, err
}

func (s *PostgresStore) createJobWithSubmission(ctx context.Context, job Job, sub BookingSubmission) (Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, fmt.Errorf("begin intake: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `SELECT generate_job_number()`).Scan(&job.JobNumber); err != nil {
		return Job{}, fmt.Errorf("generate job number: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO jobs (job_number, name, customer_id, stage, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, job.JobNumber, job.Name, job.CustomerID, job.Stage, job.Notes).Scan(&job.ID, &job.CreatedAt); err != nil {
		return Job{}, fmt.Errorf("insert job: %w", err)
	}

	customAnswers := sub.CustomAnswers
	if customAnswers == "" {
		customAnswers = "{}"
	}
	attachments := sub.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return Job{}, fmt.Errorf("marshal attachments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO booking_submissions (
			form_id, customer_id, deal_id, first_name, last_name, email, phone, address, city, state, zip,
			service_details, how_heard, preferred_date, preferred_time, sms_consent, custom_answers, attachments
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18::jsonb)
	`, sub.FormID, job.CustomerID, job.ID, sub.FirstName, sub.LastName, sub.Email,
		nullIfEmpty(sub.Phone), nullIfEmpty(sub.Address), nullIfEmpty(sub.City), nullIfEmpty(sub.State), nullIfEmpty(sub.Zip),
		nullIfEmpty(sub.ServiceDetails), nullIfEmpty(sub.HowHeard), nullIfEmpty(sub.PreferredDate), nullIfEmpty(sub.PreferredTime),
		sub.SMSConsent, customAnswers, string(attachmentsJSON)); err != nil {
		return Job{}, fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("commit intake: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) IncrementBookingFormSubmissions(ctx context.Context, formID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE booking_forms SET submission_count = submission_count + 1 WHERE id = $1
	`, formID)
	if err != nil {
		return fmt.Errorf("increment submissions: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var inv Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.invoice_number, i.title, i.customer_id, c.name, c.email,
			i.status, i.total, i.amount_due, i.due_date, i.sent_at
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.id = $1
	`, invoiceID).Scan(&inv.ID, &inv.InvoiceNumber, &inv.Title, &inv.CustomerID, &inv.CustomerName, &inv.CustomerEmail,
		&inv.Status, &inv.Total, &inv.AmountDue, &inv.DueDate, &inv.SentAt)
	if err != nil {
		return Invoice{}, lookupErr(err)
	}
	return inv, nil
}

func (s *PostgresStore) MarkInvoiceSent(ctx context.Context, invoiceID string, sentAt time.Time) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		UPDATE invoices
		SET sent_at = $2,
			status = CASE WHEN status IN ('draft', 'sent') THEN 'sent' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`, invoiceID, sentAt).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("mark invoice sent: %w", err)
	}
	return status, nil
}

// GetCompanySettings reads settings.company. A missing row yields zero values.
func (s *PostgresStore) GetCompanySettings(ctx context.Context) (CompanySettings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value::text FROM settings WHERE key = 'company'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CompanySettings{}, nil
	}
	if err != nil {
		return CompanySettings{}, fmt.Errorf("read company settings: %w", err)
	}
	var settings CompanySettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return CompanySettings{}, fmt.Errorf("decode company settings: %w", err)
	}
	return settings, nil
}

func (s *PostgresStore) InsertEmailLog(ctx context.Context, entry EmailLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_logs (
			template_id, customer_id, deal_id, appointment_id, to_email, subject, body,
			provider, provider_message_id, status, error, sent_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, nullIfEmpty(entry.TemplateID), nullIfEmpty(entry.CustomerID), nullIfEmpty(entry.DealID), nullIfEmpty(entry.AppointmentID),
		entry.ToEmail, entry.Subject, entry.Body, entry.Provider, nullIfEmpty(entry.ProviderMessageID),
		entry.Status, nullIfEmpty(entry.Error), nullIfEmpty(entry.SentBy))
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

const staffColumns = `id, email, display_name, password_hash, role, deactivated_at, created_at`

func scanStaffUser(row rowScanner) (StaffUser, error) {
	var u StaffUser
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.Role, &u.DeactivatedAt, &u.CreatedAt)
	return u, err
}

func (s *PostgresStore) GetStaffUserByEmail(ctx context.Context, email string) (StaffUser, error) {
	return scanStaffUser(s.db.QueryRowContext(ctx, `
		SELECT `+staffColumns+` FROM staff_users WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PostgresStore) GetStaffUserByID(ctx context.Context, id string) (StaffUser, error) {
	return scanStaffUser(s.db.QueryRowContext(ctx, `
		SELECT `+staffColumns+` FROM staff_users WHERE id = $1
	`, id))
}

// CreateStaffUser inserts a staff account. An existing email is left untouched.
func (s *PostgresStore) CreateStaffUser(ctx context.Context, user StaffUser) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_users (email, display_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
	`, strings.ToLower(strings.TrimSpace(user.Email)), user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return false, fmt.Errorf("create staff user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create staff user rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SavePortalSession(ctx context.Context, tokenHash string, session PortalSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portal_sessions (token_hash, customer_id, quote_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			quote_id = EXCLUDED.quote_id,
			expires_at = EXCLUDED.expires_at,
			revoked_at = NULL
	`, tokenHash, session.CustomerID, session.QuoteID, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save portal session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupPortalSession(ctx context.Context, tokenHash string) (PortalSession, error) {
	var session PortalSession
	err := s.db.QueryRowContext(ctx, `
		SELECT customer_id, quote_id, expires_at
		FROM portal_sessions
		WHERE token_hash = $1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&session.CustomerID, &session.QuoteID, &session.ExpiresAt)
	if err != nil {
		return PortalSession{}, err
	}
	return session, nil
}

func (s *PostgresStore) RevokePortalSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE portal_sessions SET revoked_at = NOW() WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke portal session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
