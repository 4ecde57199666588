package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"opsdesk/api/internal/attachments"
	"opsdesk/api/internal/store"
)

const (
	defaultFormSlug  = "default"
	defaultFormStage = "new-lead"
	defaultFormName  = "Web Request"
	attachmentPrefix = "booking"
)

const bookingSubmissionSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["first_name", "last_name", "email"],
	"properties": {
		"form_id": {"type": ["string", "null"]},
		"first_name": {"type": "string", "pattern": "\\S"},
		"last_name": {"type": "string", "pattern": "\\S"},
		"email": {"type": "string", "pattern": "\\S"},
		"phone": {"type": ["string", "null"]},
		"address": {"type": ["string", "null"]},
		"city": {"type": ["string", "null"]},
		"state": {"type": ["string", "null"]},
		"zip": {"type": ["string", "null"]},
		"service_details": {"type": ["string", "null"]},
		"how_heard": {"type": ["string", "null"]},
		"preferred_date": {"type": ["string", "null"]},
		"preferred_time": {"type": ["string", "null"]},
		"sms_consent": {"type": ["boolean", "null"]},
		"custom_answers": {"type": ["object", "null"]},
		"attachments": {
			"type": ["array", "null"],
			"items": {"type": "string"}
		}
	}
}`

var submissionSchema = mustCompileSchema("booking-submission.json", bookingSubmissionSchema)

func mustCompileSchema(url, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", url, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", url, err))
	}
	return compiler.MustCompile(url)
}

type bookingSubmission struct {
	FormID         string          `json:"form_id"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address"`
	City           string          `json:"city"`
	State          string          `json:"state"`
	Zip            string          `json:"zip"`
	ServiceDetails string          `json:"service_details"`
	HowHeard       string          `json:"how_heard"`
	PreferredDate  string          `json:"preferred_date"`
	PreferredTime  string          `json:"preferred_time"`
	SMSConsent     bool            `json:"sms_consent"`
	CustomAnswers  json.RawMessage `json:"custom_answers"`
	Attachments    []string        `json:"attachments"`
}

// BookingForm returns an active form by slug with its questions.
func (s *Service) BookingForm(ctx context.Context, slug string) (map[string]any, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = defaultFormSlug
	}
	form, err := s.store.GetBookingFormBySlug(ctx, slug)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Form not found")
		}
		return nil, fmt.Errorf("load booking form: %w", err)
	}
	questions, err := s.store.ListBookingFormQuestions(ctx, form.ID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(questions))
	for _, q := range questions {
		var options any
		if q.Options != "" {
			if err := json.Unmarshal([]byte(q.Options), &options); err != nil {
				options = nil
			}
		}
		items = append(items, map[string]any{
			"id":            q.ID,
			"form_id":       q.FormID,
			"label":         q.Label,
			"question_type": q.QuestionType,
			"options":       options,
			"is_required":   q.IsRequired,
			"sort_order":    q.SortOrder,
		})
	}
	return map[string]any{
		"form": map[string]any{
			"id":               form.ID,
			"name":             form.Name,
			"slug":             form.Slug,
			"description":      form.Description,
			"is_active":        form.IsActive,
			"default_stage":    form.DefaultStage,
			"submission_count": form.SubmissionCount,
			"created_at":       form.CreatedAt,
		},
		"questions": items,
	}, nil
}

// validateSubmission checks the raw payload before anything is persisted.
func validateSubmission(payload []byte) (bookingSubmission, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return bookingSubmission{}, validationError("invalid JSON body", nil)
	}
	fields, ok := doc.(map[string]any)
	if !ok {
		return bookingSubmission{}, validationError("Invalid submission", nil)
	}
	for _, key := range []string{"first_name", "last_name", "email"} {
		value, _ := fields[key].(string)
		if strings.TrimSpace(value) == "" {
			return bookingSubmission{}, validationError("Missing required fields", nil)
		}
	}
	if err := submissionSchema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return bookingSubmission{}, validationError("Invalid submission", schemaViolations(validationErr))
		}
		return bookingSubmission{}, validationError("Invalid submission", nil)
	}

	var sub bookingSubmission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return bookingSubmission{}, validationError("Invalid submission", nil)
	}
	return sub, nil
}

func schemaViolations(err *jsonschema.ValidationError) []map[string]string {
	output := err.BasicOutput()
	violations := make([]map[string]string, 0, len(output.Errors))
	for _, unit := range output.Errors {
		if unit.Error == nil {
			continue
		}
		violations = append(violations, map[string]string{
			"field":   strings.TrimPrefix(unit.InstanceLocation, "/"),
			"message": unit.Error.String(),
		})
	}
	return violations
}

// SubmitBooking turns a public booking submission into a customer, a job and
// the submission record.
func (s *Service) SubmitBooking(ctx context.Context, payload []byte) (map[string]any, error) {
	sub, err := validateSubmission(payload)
	if err != nil {
		return nil, err
	}

	form := store.BookingForm{Name: defaultFormName, DefaultStage: defaultFormStage}
	var formID *string
	if id := strings.TrimSpace(sub.FormID); id != "" {
		found, err := s.store.GetBookingForm(ctx, id)
		if err != nil {
			log.Printf("intake: form %s unavailable, using defaults: %v", id, err)
		} else {
			form = found
			formID = &found.ID
			if form.Name == "" {
				form.Name = defaultFormName
			}
			if form.DefaultStage == "" {
				form.DefaultStage = defaultFormStage
			}
		}
	}

	firstName := strings.TrimSpace(sub.FirstName)
	lastName := strings.TrimSpace(sub.LastName)
	customerID, err := s.store.UpsertCustomerByEmail(ctx, store.Customer{
		Name:    firstName + " " + lastName,
		Email:   sub.Email,
		Phone:   sub.Phone,
		Address: sub.Address,
		City:    sub.City,
		State:   sub.State,
		Zip:     sub.Zip,
	})
	if err != nil {
		log.Printf("intake: customer upsert failed: %v", err)
		return nil, serverError("Failed to submit form: " + err.Error())
	}

	urls := []string{}
	if len(sub.Attachments) > 0 {
		if s.files == nil {
			log.Printf("intake: no attachment store configured, dropping %d files", len(sub.Attachments))
		} else {
			urls = attachments.UploadDataURIs(ctx, s.files, attachmentPrefix, sub.Attachments, s.clock())
		}
	}

	customAnswers := "{}"
	if trimmed := bytes.TrimSpace(sub.CustomAnswers); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		customAnswers = string(trimmed)
	}

	job, err := s.store.CreateJobWithSubmission(ctx, store.Job{
		Name:       fmt.Sprintf("%s %s - %s", firstName, lastName, form.Name),
		CustomerID: customerID,
		Stage:      form.DefaultStage,
		Notes:      sub.ServiceDetails,
	}, store.BookingSubmission{
		FormID:         formID,
		CustomerID:     customerID,
		FirstName:      firstName,
		LastName:       lastName,
		Email:          strings.TrimSpace(sub.Email),
		Phone:          sub.Phone,
		Address:        sub.Address,
		City:           sub.City,
		State:          sub.State,
		Zip:            sub.Zip,
		ServiceDetails: sub.ServiceDetails,
		HowHeard:       sub.HowHeard,
		PreferredDate:  sub.PreferredDate,
		PreferredTime:  sub.PreferredTime,
		SMSConsent:     sub.SMSConsent,
		CustomAnswers:  customAnswers,
		Attachments:    urls,
	})
	if err != nil {
		log.Printf("intake: submission failed: %v", err)
		return nil, serverError("Failed to submit form: " + err.Error())
	}

	if formID != nil {
		if err := s.store.IncrementBookingFormSubmissions(ctx, *formID); err != nil {
			log.Printf("intake: submission count not updated: %v", err)
		}
	}

	if s.search != nil {
		s.search.IndexJob(job, firstName+" "+lastName)
		s.search.IndexCustomer(store.Customer{
			ID:      customerID,
			Name:    firstName + " " + lastName,
			Email:   strings.ToLower(strings.TrimSpace(sub.Email)),
			Phone:   sub.Phone,
			Address: sub.Address,
			City:    sub.City,
			State:   sub.State,
			Zip:     sub.Zip,
		})
	}

	log.Printf("intake: job %s created for customer %s with %d attachments", job.JobNumber, customerID, len(urls))
	return map[string]any{
		"success":     true,
		"customer_id": customerID,
		"deal_id":     job.ID,
	}, nil
}
