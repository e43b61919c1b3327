// Package docservice coordinates storage, the filter pipeline and the index
// for the API and MCP layers.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/richfilter/internal/apperr"
	"github.com/starford/richfilter/internal/checksum"
	"github.com/starford/richfilter/internal/filter"
	"github.com/starford/richfilter/internal/index"
	"github.com/starford/richfilter/internal/parser"
	"github.com/starford/richfilter/internal/render"
	"github.com/starford/richfilter/internal/storage"
)

// DocumentDetail is the full representation of a document.
type DocumentDetail struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Format      string         `json:"format"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Blocks      int            `json:"blocks"`
	EntityTypes []string       `json:"entity_types"`
	Report      *filter.Report `json:"report,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Format      string    `json:"format"`
	Checksum    string    `json:"checksum"`
	Blocks      int       `json:"blocks"`
	EntityTypes []string  `json:"entity_types"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunItem is one recorded filter run.
type RunItem struct {
	ID        string        `json:"id"`
	Path      string        `json:"path"`
	Source    string        `json:"source"`
	Changed   bool          `json:"changed"`
	Report    filter.Report `json:"report"`
	CreatedAt time.Time     `json:"created_at"`
}

// FilterResult is the outcome of sanitizing a payload that is not stored.
type FilterResult struct {
	Content string        `json:"content"`
	Format  string        `json:"format"`
	Title   string        `json:"title"`
	Changed bool          `json:"changed"`
	Report  filter.Report `json:"report"`
}

// Service coordinates storage, filtering and index operations.
type Service struct {
	store    storage.Provider
	db       index.DocumentIndex
	pipeline *filter.Pipeline
	renderer *render.Renderer
	source   string
	notify   index.EventCallback
}

// Option configures a Service.
type Option func(*Service)

// WithSource sets the source label recorded with each filter run.
func WithSource(source string) Option {
	return func(s *Service) { s.source = source }
}

// WithNotifier registers fn to be called after each stored mutation with the
// same event kinds the vault watcher reports.
func WithNotifier(fn index.EventCallback) Option {
	return func(s *Service) { s.notify = fn }
}

// NewService creates a new document service.
func NewService(store storage.Provider, db index.DocumentIndex, p *filter.Pipeline, opts ...Option) *Service {
	s := &Service{store: store, db: db, pipeline: p, renderer: render.New(), source: index.SourceAPI}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the effective allowlists of the pipeline.
func (s *Service) Policy() filter.Policy {
	return s.pipeline.Config().Policy()
}

// Get reads a document from storage as stored. It does not filter.
func (s *Service) Get(_ context.Context, p string) (*DocumentDetail, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	data, err := s.read(p)
	if err != nil {
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	d := buildDetail(p, data, res)
	if row, err := s.db.GetDocument(p); err == nil {
		d.UpdatedAt = row.UpdatedAt
	}
	return d, nil
}

// Create sanitizes content, writes it and indexes it.
func (s *Service) Create(_ context.Context, p string, content []byte) (*DocumentDetail, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(p); err != nil {
		return nil, err
	}
	return s.save(p, content, index.EventCreated)
}

// Update replaces a document with sanitized content. A non-empty ifMatch must
// equal the checksum of the stored bytes.
func (s *Service) Update(_ context.Context, p string, content []byte, ifMatch string) (*DocumentDetail, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}
	existing, err := s.read(p)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	return s.save(p, content, index.EventUpdated)
}

// Move renames a document within the vault and re-indexes it under the new path.
func (s *Service) Move(_ context.Context, from, to string) (*DocumentDetail, error) {
	if err := validatePath(from); err != nil {
		return nil, err
	}
	if err := validatePath(to); err != nil {
		return nil, err
	}
	data, err := s.read(from)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAbsent(to); err != nil {
		return nil, err
	}
	prep, err := index.Prepare(s.pipeline, to, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.Move(from, to); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, apperr.ErrAlreadyExists
		}
		return nil, err
	}
	if prep.Reencoded {
		if err := s.store.Write(to, prep.Data); err != nil {
			return nil, err
		}
	}
	if err := s.db.DeleteDocument(from); err != nil {
		return nil, err
	}
	if err := s.db.Apply(to, s.source, prep); err != nil {
		return nil, err
	}
	s.emit(index.EventDeleted, from)
	s.emitSaved(index.EventCreated, to, prep)
	return s.detail(to, prep), nil
}

// Delete removes a document from storage and index.
func (s *Service) Delete(_ context.Context, p string) error {
	if err := validatePath(p); err != nil {
		return err
	}
	if err := s.store.Delete(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteDocument(p); err != nil {
		return err
	}
	s.emit(index.EventDeleted, p)
	return nil
}

// List returns paginated documents. sort is one of "path", "title" or "recent".
func (s *Service) List(_ context.Context, limit, offset int, sort string) ([]DocumentListItem, int, error) {
	rows, total, err := s.db.ListDocuments(limit, offset, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]DocumentListItem, len(rows))
	for i, r := range rows {
		items[i] = DocumentListItem{
			Path:        r.Path,
			Title:       r.Title,
			Format:      r.Format,
			Checksum:    r.Checksum,
			Blocks:      r.Blocks,
			EntityTypes: nonNilSlice(r.EntityTypes),
			UpdatedAt:   r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	return s.db.Search(query, limit)
}

// Runs returns the filter history of a document, newest first. An empty path
// lists runs across the vault.
func (s *Service) Runs(_ context.Context, p string, limit int) ([]RunItem, error) {
	rows, err := s.db.Runs(p, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, len(rows))
	for i, r := range rows {
		out[i] = RunItem{
			ID:        r.ID,
			Path:      r.Path,
			Source:    r.Source,
			Changed:   r.Changed,
			Report:    r.Report,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Filter sanitizes content without storing it. The output keeps the input
// format.
func (s *Service) Filter(_ context.Context, content []byte) (*FilterResult, error) {
	prep, err := index.Prepare(s.pipeline, "", content)
	if err != nil {
		return nil, err
	}
	return &FilterResult{
		Content: string(prep.Data),
		Format:  string(prep.Result.Format),
		Title:   prep.Result.Title,
		Changed: prep.Changed,
		Report:  prep.Report,
	}, nil
}

// Render returns the stored document at p as sanitized HTML. The content is
// filtered again so files not yet picked up by the watcher render safely.
func (s *Service) Render(_ context.Context, p string) (string, error) {
	if err := validatePath(p); err != nil {
		return "", err
	}
	data, err := s.read(p)
	if err != nil {
		return "", err
	}
	prep, err := index.Prepare(s.pipeline, "", data)
	if err != nil {
		return "", err
	}
	return s.renderer.HTML(prep.Result.Snapshot), nil
}

// FilterHTML sanitizes content without storing it and renders the result.
func (s *Service) FilterHTML(_ context.Context, content []byte) (string, filter.Report, error) {
	prep, err := index.Prepare(s.pipeline, "", content)
	if err != nil {
		return "", filter.Report{}, err
	}
	return s.renderer.HTML(prep.Result.Snapshot), prep.Report, nil
}

func (s *Service) save(p string, content []byte, kind string) (*DocumentDetail, error) {
	prep, err := index.Prepare(s.pipeline, p, content)
	if err != nil {
		return nil, err
	}
	if err := s.store.Write(p, prep.Data); err != nil {
		return nil, err
	}
	if err := s.db.Apply(p, s.source, prep); err != nil {
		return nil, err
	}
	s.emitSaved(kind, p, prep)
	return s.detail(p, prep), nil
}

func (s *Service) emit(kind, p string) {
	if s.notify != nil {
		s.notify(kind, p)
	}
}

func (s *Service) emitSaved(kind, p string, prep *index.Prepared) {
	s.emit(kind, p)
	if prep.Changed {
		s.emit(index.EventFiltered, p)
	}
}

func (s *Service) ensureAbsent(p string) error {
	exists, err := s.store.Exists(p)
	if err != nil {
		return err
	}
	if exists {
		return apperr.ErrAlreadyExists
	}
	return nil
}

func (s *Service) read(p string) ([]byte, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Service) detail(p string, prep *index.Prepared) *DocumentDetail {
	d := buildDetail(p, prep.Data, prep.Result)
	report := prep.Report
	d.Report = &report
	return d
}

func buildDetail(p string, data []byte, res *parser.Result) *DocumentDetail {
	return &DocumentDetail{
		Path:        p,
		Title:       res.Title,
		Format:      string(res.Format),
		Content:     string(data),
		Checksum:    checksum.Sum(data),
		Blocks:      res.Snapshot.Len(),
		EntityTypes: nonNilSlice(res.EntityTypes),
		UpdatedAt:   time.Now().UTC(),
	}
}

// validatePath accepts relative, slash-separated document paths that stay
// inside the vault.
func validatePath(p string) error {
	err := validation.Validate(p,
		validation.Required,
		validation.By(func(value any) error {
			v, _ := value.(string)
			if strings.HasPrefix(v, "/") || strings.Contains(v, `\`) {
				return errors.New("must be a relative slash-separated path")
			}
			for _, seg := range strings.Split(v, "/") {
				if seg == ".." || seg == "." || seg == "" || strings.HasPrefix(seg, ".") {
					return errors.New("must not contain empty, dot or hidden segments")
				}
			}
			if !storage.IsDocument(path.Base(v)) {
				return errors.New("must end in .json, .yaml or .yml")
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %q %v", apperr.ErrInvalidPath, p, err)
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
