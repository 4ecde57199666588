package search

import (
	"strings"

	"opsdesk/api/internal/store"
)

// ResultType identifies the kind of pipeline entity in a search result.
type ResultType string

const (
	ResultJob      ResultType = "job"
	ResultCustomer ResultType = "customer"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Stage   string     `json:"stage,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = jobs and customers
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is one document in the pipeline index. ID is unique across kinds.
type Record struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Body     string `json:"body"`
	Stage    string `json:"stage"`
}

// JobRecord builds the index document for a pipeline job.
func JobRecord(job store.Job, customerName string) Record {
	return Record{
		ID:       string(ResultJob) + "_" + job.ID,
		EntityID: job.ID,
		Kind:     string(ResultJob),
		Title:    strings.TrimSpace(job.JobNumber + " " + job.Name),
		Subtitle: customerName,
		Body:     job.Notes,
		Stage:    job.Stage,
	}
}

// CustomerRecord builds the index document for a customer.
func CustomerRecord(c store.Customer) Record {
	return Record{
		ID:       string(ResultCustomer) + "_" + c.ID,
		EntityID: c.ID,
		Kind:     string(ResultCustomer),
		Title:    c.Name,
		Subtitle: c.Email,
		Body:     strings.Join(nonEmpty(c.Phone, c.Address, c.City, c.State, c.Zip), " "),
	}
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			out = append(out, value)
		}
	}
	return out
}
