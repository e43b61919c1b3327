package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/richfilter/internal/docservice"
	"github.com/starford/richfilter/internal/filter"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	Path    string `json:"path" example:"posts/hello.json"`
	Content string `json:"content"`
}

// Validate checks the request fields.
func (r CreateDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.Content, validation.Required),
	)
}

// UpdateDocumentRequest is the request body for replacing a document.
type UpdateDocumentRequest struct {
	Content string `json:"content"`
}

// Validate checks the request fields.
func (r UpdateDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Content, validation.Required),
	)
}

// MoveDocumentRequest is the request body for renaming a document.
type MoveDocumentRequest struct {
	Path string `json:"path" example:"archive/hello.json"`
}

// Validate checks the request fields.
func (r MoveDocumentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required),
	)
}

// listQuery holds the parsed query of GET /documents.
type listQuery struct {
	Limit  int
	Offset int
	Sort   string
}

// Validate checks the pagination bounds and sort key.
func (q listQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Limit, validation.Min(0), validation.Max(500)),
		validation.Field(&q.Offset, validation.Min(0)),
		validation.Field(&q.Sort, validation.In("path", "title", "recent")),
	)
}

// DocumentDetail is the full document response type (aliased from the domain layer).
type DocumentDetail = docservice.DocumentDetail

// DocumentListItem is a lightweight item in a list response (aliased from the domain layer).
type DocumentListItem = docservice.DocumentListItem

// FilterResult is the response of POST /filter (aliased from the domain layer).
type FilterResult = docservice.FilterResult

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents"`
	Total     int                `json:"total"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// RunsResponse wraps filter run history.
type RunsResponse struct {
	Runs []docservice.RunItem `json:"runs"`
}

// PolicyResponse is the effective filter allowlist.
type PolicyResponse = filter.Policy
