package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/richfilter/internal/checksum"
	"github.com/starford/richfilter/internal/docservice"
	"github.com/starford/richfilter/internal/parser"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// documentPath extracts the document path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. posts%2Fhello.json).
func documentPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decodeBody reads a size-limited JSON body into v and runs its validation.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

func setETag(w http.ResponseWriter, d *DocumentDetail) {
	w.Header().Set("ETag", checksum.ETag(d.Checksum))
}

// Filter handles POST /api/filter. The body is a raw document in JSON or
// YAML. With ?output=document the sanitized document itself is returned,
// with ?output=html its HTML rendering, otherwise a FilterResult.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if r.URL.Query().Get("output") == "html" {
		out, report, err := h.svc.FilterHTML(r.Context(), body)
		if err != nil {
			writeServiceError(w, "filter", "", err)
			return
		}
		w.Header().Set("X-Filter-Changes", strconv.Itoa(report.Total()))
		writeHTML(w, out)
		return
	}

	res, err := h.svc.Filter(r.Context(), body)
	if err != nil {
		writeServiceError(w, "filter", "", err)
		return
	}

	if r.URL.Query().Get("output") == "document" {
		ct := "application/json; charset=utf-8"
		if res.Format == string(parser.FormatYAML) {
			ct = "application/yaml; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("X-Filter-Changes", strconv.Itoa(res.Report.Total()))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, res.Content)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := listQuery{Sort: q.Get("sort")}
	lq.Limit, _ = strconv.Atoi(q.Get("limit"))
	lq.Offset, _ = strconv.Atoi(q.Get("offset"))
	if err := lq.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	items, total, err := h.svc.List(r.Context(), lq.Limit, lq.Offset, lq.Sort)
	if err != nil {
		writeServiceError(w, "list documents", "", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: total})
}

// GetDocument handles GET /api/documents/*.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	doc, err := h.svc.Get(r.Context(), path)
	if err != nil {
		writeServiceError(w, "get document", path, err)
		return
	}
	setETag(w, doc)
	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument handles POST /api/documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.svc.Create(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeServiceError(w, "create document", req.Path, err)
		return
	}
	setETag(w, doc)
	writeJSON(w, http.StatusCreated, doc)
}

// UpdateDocument handles PUT /api/documents/*. An If-Match header enables
// optimistic concurrency against the stored checksum.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ifMatch := checksum.FromIfMatch(r.Header.Get("If-Match"))
	doc, err := h.svc.Update(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		writeServiceError(w, "update document", path, err)
		return
	}
	setETag(w, doc)
	writeJSON(w, http.StatusOK, doc)
}

// MoveDocument handles PATCH /api/documents/* with a new path.
func (h *Handler) MoveDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req MoveDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := h.svc.Move(r.Context(), path, req.Path)
	if err != nil {
		writeServiceError(w, "move document", path, err)
		return
	}
	setETag(w, doc)
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/*.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Delete(r.Context(), path); err != nil {
		writeServiceError(w, "delete document", path, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderDocument handles GET /api/render/*.
func (h *Handler) RenderDocument(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	out, err := h.svc.Render(r.Context(), path)
	if err != nil {
		writeServiceError(w, "render document", path, err)
		return
	}
	writeHTML(w, out)
}

// Runs handles GET /api/runs and GET /api/runs/*.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	path := documentPath(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), path, limit)
	if err != nil {
		writeServiceError(w, "runs", path, err)
		return
	}
	if runs == nil {
		runs = []docservice.RunItem{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hits, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{Path: hit.Path, Title: hit.Title, Snippet: hit.Snippet}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Policy handles GET /api/policy.
func (h *Handler) Policy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Policy())
}
