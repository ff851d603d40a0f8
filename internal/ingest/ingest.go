// Package ingest loads a document into the segment store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/glossary"
	"github.com/MimeLyc/lexitra/internal/langdetect"
	"github.com/MimeLyc/lexitra/internal/segmenter"
	"github.com/MimeLyc/lexitra/pkg/log"
	"github.com/google/uuid"
)

var (
	ErrAlreadyIngested = errors.New("file already has segments")
	ErrNoText          = errors.New("no translatable text found")
	ErrInvalidLanguage = errors.New("invalid language")
)

// Extensions are the file types ingestion understands.
var Extensions = []string{".txt", ".md", ".srt"}

type Store interface {
	UpsertFile(ctx context.Context, file domain.FileSummary) error
	InsertSegments(ctx context.Context, fileID string, sources []string) (int, error)
	LoadSegments(ctx context.Context, fileID string) ([]domain.Segment, error)
}

type Request struct {
	// FileID defaults to an id derived from the absolute path, so ingesting
	// the same path twice is detected.
	FileID string
	Name   string
	// Source may be empty or "auto" to detect it from the text.
	Source    string
	Target    string
	Sentences bool
}

type Result struct {
	FileID    string              `json:"file_id"`
	Name      string              `json:"name"`
	Segments  int                 `json:"segments"`
	Languages domain.LanguagePair `json:"languages"`
}

// FileID derives the stable id of a document path.
func FileID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+path)).String()
}

// File ingests the document at path. When store also keeps glossaries, a
// glossary file of the pair found in the document's directory or above is
// imported with it.
func File(ctx context.Context, store Store, path string, req Request) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if req.FileID == "" {
		req.FileID = FileID(path)
	}
	if req.Name == "" {
		req.Name = filepath.Base(path)
	}
	res, err := Reader(ctx, store, f, req)
	if err != nil {
		return res, err
	}

	if putter, ok := store.(glossary.Putter); ok && !res.Languages.AutoSource() {
		if gpath := glossary.FindInAncestors(filepath.Dir(path), res.Languages.Source, res.Languages.Target); gpath != "" {
			importGlossary(ctx, putter, gpath, res.Languages)
		}
	}
	return res, nil
}

// importGlossary failures are logged; the document itself is already stored.
func importGlossary(ctx context.Context, store glossary.Putter, path string, pair domain.LanguagePair) {
	terms, err := glossary.Load(path)
	if err != nil {
		log.Warn("Skipping glossary %s: %v", path, err)
		return
	}
	n, err := glossary.Import(ctx, store, pair, terms.Entries())
	if err != nil {
		log.Warn("Glossary %s imported partially (%d terms): %v", path, n, err)
		return
	}
	log.Info("Imported %d glossary terms from %s", n, path)
}

// Reader segments r and stores the file row and its segments. A file that
// already has segments is left alone.
func Reader(ctx context.Context, store Store, r io.Reader, req Request) (Result, error) {
	if strings.TrimSpace(req.FileID) == "" {
		return Result{}, fmt.Errorf("file id is required")
	}
	target, err := langdetect.Normalize(req.Target)
	if err != nil {
		return Result{}, fmt.Errorf("%w: target %q: %w", ErrInvalidLanguage, req.Target, err)
	}

	existing, err := store.LoadSegments(ctx, req.FileID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check file %s: %w", req.FileID, err)
	}
	if len(existing) > 0 {
		return Result{}, fmt.Errorf("%w: %s (%d segments)", ErrAlreadyIngested, req.FileID, len(existing))
	}

	sources, err := segmenter.Segment(req.Name, r, segmenter.Options{Sentences: req.Sentences})
	if err != nil {
		return Result{}, err
	}
	if len(sources) == 0 {
		return Result{}, fmt.Errorf("%w in %s", ErrNoText, req.Name)
	}

	pair, err := languages(req.Source, target, sources)
	if err != nil {
		return Result{}, err
	}

	if err := store.UpsertFile(ctx, domain.FileSummary{ID: req.FileID, Name: req.Name, Languages: pair}); err != nil {
		return Result{}, fmt.Errorf("failed to store file %s: %w", req.FileID, err)
	}
	n, err := store.InsertSegments(ctx, req.FileID, sources)
	if err != nil {
		return Result{}, fmt.Errorf("failed to store segments of %s: %w", req.FileID, err)
	}

	log.Info("Ingested %s as %s: %d segments, %s -> %s", req.Name, req.FileID, n, pair.Source, pair.Target)
	return Result{FileID: req.FileID, Name: req.Name, Segments: n, Languages: pair}, nil
}

func languages(source, target string, sources []string) (domain.LanguagePair, error) {
	pair := domain.LanguagePair{Source: strings.TrimSpace(source), Target: target}
	if pair.Source == "" || pair.AutoSource() {
		// left as auto when undetectable; the run retries detection
		pair.Source = domain.AutoLanguage
		if code, ok := langdetect.Detect(sources); ok {
			pair.Source = code
		}
		return pair, nil
	}
	normalized, err := langdetect.Normalize(pair.Source)
	if err != nil {
		return pair, fmt.Errorf("%w: source %q: %w", ErrInvalidLanguage, source, err)
	}
	pair.Source = normalized
	return pair, nil
}
