// Package document stores supporting files uploaded for a loan application.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile     = errors.New("uploaded file is empty")
	ErrFileTooLarge  = errors.New("uploaded file is too large")
	ErrInvalidKind   = errors.New("invalid document kind")
	ErrInvalidTarget = errors.New("invalid session id")
)

// Known document kinds.
const (
	KindEmploymentCertificate = "employment_certificate"
	KindBankStatement         = "bank_statement"
	KindIdentity              = "identity"
	KindOther                 = "other"
)

// Document describes one stored upload.
type Document struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Kind       string    `json:"kind"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Path       string    `json:"-"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Store keeps uploads on local disk as <dir>/<session>/<id>__<kind>__<filename>.
type Store struct {
	dir      string
	maxBytes int64
}

const nameSeparator = "__"

var (
	sessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	unsafeChars    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// NewStore 创建本地文件存储，目录不存在时自动创建。
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// MaxBytes is the largest accepted upload.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Save writes r to disk. The file only becomes visible once fully written.
func (s *Store) Save(_ context.Context, sessionID, kind, filename string, r io.Reader) (Document, error) {
	if !sessionPattern.MatchString(sessionID) {
		return Document{}, ErrInvalidTarget
	}
	kind, err := normalizeKind(kind)
	if err != nil {
		return Document{}, err
	}
	filename = sanitizeFilename(filename)

	sessionDir := filepath.Join(s.dir, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return Document{}, fmt.Errorf("create session dir: %w", err)
	}

	tempFile, err := os.CreateTemp(sessionDir, ".upload-*")
	if err != nil {
		return Document{}, fmt.Errorf("create temp file: %w", err)
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()

	written, err := io.Copy(tempFile, io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("write upload: %w", err)
	}
	if written == 0 {
		return Document{}, ErrEmptyFile
	}
	if written > s.maxBytes {
		return Document{}, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxBytes)
	}
	if err := tempFile.Sync(); err != nil {
		return Document{}, err
	}
	if err := tempFile.Close(); err != nil {
		return Document{}, err
	}

	id := uuid.NewString()
	finalPath := filepath.Join(sessionDir, strings.Join([]string{id, kind, filename}, nameSeparator))
	if err := os.Rename(tempName, finalPath); err != nil {
		return Document{}, fmt.Errorf("store upload: %w", err)
	}

	doc := Document{
		ID:         id,
		SessionID:  sessionID,
		Kind:       kind,
		Filename:   filename,
		Size:       written,
		Path:       finalPath,
		UploadedAt: time.Now().UTC(),
	}
	log.Printf("[document] stored session=%s kind=%s file=%s size=%d", sessionID, kind, filename, written)
	return doc, nil
}

// List returns the session's documents, oldest first.
func (s *Store) List(_ context.Context, sessionID string) ([]Document, error) {
	if !sessionPattern.MatchString(sessionID) {
		return nil, ErrInvalidTarget
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		parts := strings.SplitN(entry.Name(), nameSeparator, 3)
		if len(parts) != 3 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		docs = append(docs, Document{
			ID:         parts[0],
			SessionID:  sessionID,
			Kind:       parts[1],
			Filename:   parts[2],
			Size:       info.Size(),
			Path:       filepath.Join(s.dir, sessionID, entry.Name()),
			UploadedAt: info.ModTime().UTC(),
		})
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.Before(docs[j].UploadedAt)
	})
	return docs, nil
}

func normalizeKind(kind string) (string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "":
		return KindOther, nil
	case KindEmploymentCertificate, KindBankStatement, KindIdentity, KindOther:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.ReplaceAll(name, nameSeparator, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}
