package store

import "time"

type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Address   string
	City      string
	State     string
	Zip       string
	CreatedAt time.Time
}

// Quote carries the denormalized customer contact fields that every public
// read needs, so the token lookup is a single query.
type Quote struct {
	ID                string
	QuoteNumber       string
	Title             string
	CustomerID        string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	Status            string
	QuoteType         string
	Total             float64
	TotalLow          float64
	TotalHigh         float64
	ExpiresAt         *time.Time
	AccessToken       string
	SentAt            *time.Time
	ViewedAt          *time.Time
	ViewCount         int
	InternalNotes     string
	SelectedPackageID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type LineItem struct {
	ID          string
	QuoteID     string
	Description string
	Quantity    float64
	UnitPrice   float64
	Total       float64
	SortOrder   int
	IsOptional  bool
	IsSelected  bool
}

type Package struct {
	ID          string
	QuoteID     string
	Name        string
	Description string
	Price       float64
	SortOrder   int
	IsSelected  bool
	Items       []PackageItem
}

type PackageItem struct {
	ID          string
	PackageID   string
	Description string
	Quantity    float64
	UnitPrice   float64
	SortOrder   int
}

type QuoteAttachment struct {
	ID           string
	QuoteID      string
	FileName     string
	FileURL      string
	ContentType  string
	DisplayOrder int
	CreatedAt    time.Time
}

type ChangeOrder struct {
	ID          string
	QuoteID     string
	Title       string
	Description string
	Amount      float64
	Status      string
	AcceptedAt  *time.Time
	DeclinedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Items       []ChangeOrderItem
}

type ChangeOrderItem struct {
	ID            string
	ChangeOrderID string
	Description   string
	Quantity      float64
	UnitPrice     float64
	Total         float64
	SortOrder     int
}

type Payment struct {
	ID        string
	QuoteID   string
	Amount    float64
	Method    string
	Status    string
	PaidAt    *time.Time
	CreatedAt time.Time
}

type QuoteView struct {
	QuoteID   string
	Source    string
	IPAddress string
	UserAgent string
}

type Invoice struct {
	ID            string
	InvoiceNumber string
	Title         string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	Status        string
	Total         float64
	AmountDue     float64
	DueDate       *time.Time
	SentAt        *time.Time
}

type BookingForm struct {
	ID              string
	Name            string
	Slug            string
	Description     string
	IsActive        bool
	DefaultStage    string
	SubmissionCount int
	CreatedAt       time.Time
}

type Question struct {
	ID           string
	FormID       string
	Label        string
	QuestionType string
	Options      string
	IsRequired   bool
	SortOrder    int
}

// BookingSubmission is written once by the intake pipeline and never updated.
type BookingSubmission struct {
	ID             string
	FormID         *string
	CustomerID     string
	DealID         string
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Address        string
	City           string
	State          string
	Zip            string
	ServiceDetails string
	HowHeard       string
	PreferredDate  string
	PreferredTime  string
	SMSConsent     bool
	CustomAnswers  string
	Attachments    []string
	CreatedAt      time.Time
}

type Job struct {
	ID         string
	JobNumber  string
	Name       string
	CustomerID string
	Stage      string
	Notes      string
	CreatedAt  time.Time
}

type EmailLog struct {
	TemplateID        string
	CustomerID        string
	DealID            string
	AppointmentID     string
	ToEmail           string
	Subject           string
	Body              string
	Provider          string
	ProviderMessageID string
	Status            string
	Error             string
	SentBy            string
}

type CompanySettings struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type StaffUser struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
}

// PortalSession is scoped to the quote whose link opened it.
type PortalSession struct {
	CustomerID string
	QuoteID    string
	ExpiresAt  time.Time
}
