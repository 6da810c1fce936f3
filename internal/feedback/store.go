// Package feedback persists finished feedback records and publishes a
// notification for each one.
//
// [FileStore] appends records as JSON lines to a local file and is meant for
// development and single-node deployments; the postgres subpackage provides
// the production store. Both assign IDs themselves and satisfy [Store].
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// ErrInvalidRecord is returned when a record submitted directly lacks
// required fields or carries an invalid analysis.
var ErrInvalidRecord = errors.New("feedback: invalid record")

// Store persists a record and returns its identifier.
type Store interface {
	Save(ctx context.Context, rec types.FeedbackRecord) (string, error)
}

// Validate checks a record submitted without going through extraction.
func Validate(rec types.FeedbackRecord) error {
	if rec.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidRecord)
	}
	if rec.Name == "" && rec.Email == "" {
		return fmt.Errorf("%w: user details are required", ErrInvalidRecord)
	}
	if len(rec.Messages) == 0 {
		return fmt.Errorf("%w: transcript is required", ErrInvalidRecord)
	}
	if rec.Sentiment != "" && !rec.Sentiment.IsValid() {
		return fmt.Errorf("%w: sentiment %q", ErrInvalidRecord, rec.Sentiment)
	}
	if rec.Rating != nil && (*rec.Rating < 1 || *rec.Rating > 10) {
		return fmt.Errorf("%w: rating %d out of range 1..10", ErrInvalidRecord, *rec.Rating)
	}
	return nil
}

// FileStore persists records as JSON lines in a local file. Safe for
// concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
	ids  *IDGenerator
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore that appends to path. The file and its
// directory are created on first save.
func NewFileStore(path string, ids *IDGenerator) *FileStore {
	return &FileStore{path: path, ids: ids, now: time.Now}
}

// Save assigns an ID and creation time, then appends rec to the file.
func (fs *FileStore) Save(ctx context.Context, rec types.FeedbackRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec.ID = fs.ids.Next()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = fs.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("feedback: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("feedback: write: %w", err)
	}
	return rec.ID, nil
}

// Ping reports whether the store's directory is usable.
func (fs *FileStore) Ping(context.Context) error {
	dir := filepath.Dir(fs.path)
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return fmt.Errorf("feedback: stat dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("feedback: %s is not a directory", dir)
	}
	return nil
}
