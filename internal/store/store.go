package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/config"
)

// ErrSessionNotFound is returned when a session id has no file in the store.
var ErrSessionNotFound = errors.New("session not found")

// FileStore keeps recorded sessions as one file per session under a
// directory, optionally compressed, plus a JSONL run log per session.
type FileStore struct {
	dir         string
	compression string
	logger      *zap.Logger
}

var _ schemas.Archive = (*FileStore)(nil)

// NewFileStore creates the sessions directory if needed.
func NewFileStore(cfg config.StoreConfig, logger *zap.Logger) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store directory is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", cfg.Dir, err)
	}

	compression := cfg.Compression
	if compression == "" {
		compression = config.CompressionNone
	}

	return &FileStore{
		dir:         cfg.Dir,
		compression: compression,
		logger:      logger.Named("store"),
	}, nil
}

// SaveSession writes the session atomically: encode to a temp file in the
// same directory, then rename over any previous version.
func (s *FileStore) SaveSession(ctx context.Context, session *schemas.RecordedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session.SessionID == "" {
		return fmt.Errorf("cannot save a session without an id")
	}

	final := filepath.Join(s.dir, session.SessionID+ext(s.compression))

	tmp, err := os.CreateTemp(s.dir, session.SessionID+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w, closeCompressor, err := newCompressedWriter(tmp, s.compression)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := encodeSession(w, session); err != nil {
		tmp.Close()
		return err
	}
	if err := closeCompressor(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush compressor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("failed to move session into place: %w", err)
	}

	s.logger.Info("Session saved.",
		zap.String("session_id", session.SessionID),
		zap.String("path", final),
		zap.Int("actions", len(session.Actions)))
	return nil
}

// LoadSession reads a session by id, whatever codec it was saved with.
func (s *FileStore) LoadSession(ctx context.Context, sessionID string) (*schemas.RecordedSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.findSessionFile(sessionID)
	if err != nil {
		return nil, err
	}
	return s.loadFile(path)
}

// findSessionFile locates the session's file across the known codecs.
func (s *FileStore) findSessionFile(sessionID string) (string, error) {
	for _, suffix := range []string{".json", ".json.gz", ".json.br"} {
		path := filepath.Join(s.dir, sessionID+suffix)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
}

func (s *FileStore) loadFile(path string) (*schemas.RecordedSession, error) {
	return LoadSessionFile(path)
}

// LoadSessionFile reads one session file from an arbitrary path, inferring
// the codec from the file name.
func LoadSessionFile(path string) (*schemas.RecordedSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, closeReader, err := newCompressedReader(f, codecForPath(path))
	if err != nil {
		return nil, err
	}
	defer closeReader()

	session, err := decodeSession(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return session, nil
}

// SaveSessionFile writes one session to an arbitrary path, choosing the
// codec from the file name.
func SaveSessionFile(path string, session *schemas.RecordedSession) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w, closeCompressor, err := newCompressedWriter(f, codecForPath(path))
	if err != nil {
		return err
	}
	if err := encodeSession(w, session); err != nil {
		return err
	}
	if err := closeCompressor(); err != nil {
		return fmt.Errorf("failed to flush compressor: %w", err)
	}
	return f.Close()
}

// ListSessions scans the store directory and returns summaries newest first.
// Unreadable files are skipped with a warning, not fatal.
func (s *FileStore) ListSessions(ctx context.Context) ([]schemas.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	type row struct {
		summary    schemas.SessionSummary
		recordedAt time.Time
	}
	var rows []row

	for _, entry := range entries {
		if entry.IsDir() || !isSessionFile(entry.Name()) {
			continue
		}
		session, err := s.loadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable session file.",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		rows = append(rows, row{summary: summarize(session), recordedAt: session.RecordedAt})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].recordedAt.After(rows[j].recordedAt)
	})

	summaries := make([]schemas.SessionSummary, len(rows))
	for i, r := range rows {
		summaries[i] = r.summary
	}
	return summaries, nil
}

// SaveRun appends one replay outcome to the session's run log.
func (s *FileStore) SaveRun(ctx context.Context, sessionID string, result *schemas.ReplayResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.dir, sessionID+".runs.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log %s: %w", path, err)
	}
	defer f.Close()

	record := struct {
		ReplayedAt string                `json:"replayed_at"`
		Result     *schemas.ReplayResult `json:"result"`
	}{
		ReplayedAt: time.Now().UTC().Format(time.RFC3339),
		Result:     result,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append run record: %w", err)
	}
	return nil
}

// isSessionFile filters run logs and temp files out of directory listings.
func isSessionFile(name string) bool {
	if strings.HasSuffix(name, ".runs.jsonl") || strings.Contains(name, ".tmp-") {
		return false
	}
	return strings.HasSuffix(name, ".json") ||
		strings.HasSuffix(name, ".json.gz") ||
		strings.HasSuffix(name, ".json.br")
}
