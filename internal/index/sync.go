package index

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/richfilter/internal/checksum"
	"github.com/starford/richfilter/internal/filter"
	"github.com/starford/richfilter/internal/parser"
	"github.com/starford/richfilter/internal/storage"
)

// Sources recorded with each filter run.
const (
	SourceSync  = "sync"
	SourceWatch = "watch"
	SourceAPI   = "api"
	SourceMCP   = "mcp"
)

// Prepared is a parsed document after it went through the pipeline.
type Prepared struct {
	// Result describes the sanitized snapshot.
	Result *parser.Result
	Report filter.Report
	// Data holds the bytes to persist: the input itself when neither the
	// pipeline nor the target format required a rewrite.
	Data []byte
	// Changed reports whether the pipeline rewrote any block.
	Changed bool
	// Reencoded reports whether Data differs from the input bytes.
	Reencoded bool
}

// Prepare parses data and runs it through p. The result is re-encoded when
// the pipeline changed it or when path names a different format than the
// input's. An empty path keeps the input format.
func Prepare(p *filter.Pipeline, path string, data []byte) (*Prepared, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	out, report := p.FilterWithReport(res.Snapshot)

	format := res.Format
	if path != "" {
		format = parser.FormatForPath(path)
	}
	changed := out != res.Snapshot
	if !changed && format == res.Format {
		return &Prepared{Result: res, Report: report, Data: data}, nil
	}

	encoded, err := parser.Encode(out, format)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Result:    parser.Summarize(out, format),
		Report:    report,
		Data:      encoded,
		Changed:   changed,
		Reencoded: true,
	}, nil
}

// Apply stores the catalog row for a prepared document and records the run
// in a single transaction.
func (db *DB) Apply(path, source string, prep *Prepared) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res := prep.Result
	row := DocumentRow{
		Path:        path,
		Title:       res.Title,
		Checksum:    checksum.Sum(prep.Data),
		Format:      string(res.Format),
		Blocks:      res.Snapshot.Len(),
		EntityTypes: res.EntityTypes,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := upsertDocument(tx, row, res.Text); err != nil {
		return err
	}
	if err := recordRun(tx, RunRow{
		Path:    path,
		Source:  source,
		Report:  prep.Report,
		Changed: prep.Changed,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Sync walks the vault and brings the index up to date:
//   - new/changed files are sanitized, written back when needed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, p *filter.Pipeline, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		prep, err := ingestFile(db, store, p, m.Path, data, SourceSync)
		if err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed",
			slog.String("path", m.Path),
			slog.Bool("filtered", prep.Changed),
			slog.Int("rewrites", prep.Report.Total()))
	}

	// Remove stale entries.
	for path := range checksums {
		if _, ok := disk[path]; !ok {
			if err := db.DeleteDocument(path); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", path), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", path))
			}
		}
	}

	return nil
}

// ingestFile sanitizes data, writes the result back to the vault when it
// was re-encoded, and upserts the catalog row.
func ingestFile(db *DB, store storage.Provider, p *filter.Pipeline, path string, data []byte, source string) (*Prepared, error) {
	prep, err := Prepare(p, path, data)
	if err != nil {
		return nil, err
	}
	if prep.Reencoded {
		if err := store.Write(path, prep.Data); err != nil {
			return nil, fmt.Errorf("write back: %w", err)
		}
	}
	if err := db.Apply(path, source, prep); err != nil {
		return nil, err
	}
	return prep, nil
}
