package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store handles persistence of sessions.
type Store struct {
	basePath string
}

// NewStore creates a store rooted at the sessions directory, typically
// <config>/sessions.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// WorkHash generates a consistent hash for a working directory, used to
// scope sessions to the project they belong to.
func (s *Store) WorkHash(workDir string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(workDir)))
	return hex.EncodeToString(hash[:])[:12]
}

// Save persists a session to disk, stamping UpdatedAt.
func (s *Store) Save(session *Session) error {
	if session.WorkHash == "" {
		session.WorkHash = s.WorkHash(session.WorkDir)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.UpdatedAt = time.Now().UTC()

	dir := filepath.Join(s.basePath, session.WorkHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	filename := filepath.Join(dir, fmt.Sprintf("%s.json", session.ID))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Load retrieves a specific session.
func (s *Store) Load(id, workDir string) (*Session, error) {
	filename := filepath.Join(s.basePath, s.WorkHash(workDir), fmt.Sprintf("%s.json", id))

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete removes one session file.
func (s *Store) Delete(id, workDir string) error {
	filename := filepath.Join(s.basePath, s.WorkHash(workDir), fmt.Sprintf("%s.json", id))
	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// List returns all sessions for a working directory, newest first.
func (s *Store) List(workDir string) ([]Meta, error) {
	dir := filepath.Join(s.basePath, s.WorkHash(workDir))

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list session directory: %w", err)
	}

	var sessions []Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			continue
		}
		sessions = append(sessions, Meta{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Summary:   sess.Summary,
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}
