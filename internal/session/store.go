package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shoptalk/shoptalk/internal/log"
)

// ErrNotFound indicates the requested session does not exist.
// Check with errors.Is.
var ErrNotFound = errors.New("session not found")

// record is the per-session state. Each record is owned exclusively by its
// map entry; turns are copied on the way in and out so no caller ever holds
// a reference into another session's history.
type record struct {
	session Session
	turns   []Turn
	renamed bool
}

// Store maps session identifiers to conversation state.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record
	logger  log.Logger
}

// NewStore creates an empty session store.
func NewStore(logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		records: make(map[uuid.UUID]*record),
		logger:  logger,
	}
}

// Create allocates a fresh session with an empty history.
// An empty title gets the default placeholder.
func (s *Store) Create(title string) *Session {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.records[sess.ID] = &record{session: sess, renamed: title != DefaultTitle}
	s.mu.Unlock()

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	cp := sess
	return &cp
}

// Get returns the session metadata for the given id.
func (s *Store) Get(id uuid.UUID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("getting session %s: %w", id, ErrNotFound)
	}
	cp := rec.session
	return &cp, nil
}

// History returns a copy of the session's turns in append order.
// Turns appended under a different session id are never visible here.
func (s *Store) History(id uuid.UUID) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("getting history for %s: %w", id, ErrNotFound)
	}
	turns := make([]Turn, len(rec.turns))
	copy(turns, rec.turns)
	return turns, nil
}

// AppendTurns appends turns to the session's history in order.
// Appends within one session are strictly ordered by arrival; the history
// is append-only.
func (s *Store) AppendTurns(id uuid.UUID, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("appending to session %s: %w", id, ErrNotFound)
	}
	rec.turns = append(rec.turns, turns...)
	rec.session.UpdatedAt = time.Now().UTC()
	return nil
}

// Rename updates the session title without touching its history.
func (s *Store) Rename(id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("renaming session %s: %w", id, ErrNotFound)
	}
	rec.session.Title = title
	rec.renamed = true
	rec.session.UpdatedAt = time.Now().UTC()

	s.logger.Debug("renamed session", "id", id, "title", title)
	return nil
}

// Delete removes a session and its history.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("deleting session %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// List returns summaries of all sessions ordered by most recently updated.
// Sessions still carrying the default title show a display title derived
// from their first user turn.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.records))
	for _, rec := range s.records {
		sum := Summary{
			ID:           rec.session.ID,
			Title:        rec.session.Title,
			CreatedAt:    rec.session.CreatedAt,
			UpdatedAt:    rec.session.UpdatedAt,
			MessageCount: len(rec.turns),
		}
		if !rec.renamed {
			if derived := deriveTitle(rec.turns); derived != "" {
				sum.Title = derived
			}
		}
		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		// Stable order for equal timestamps.
		return summaries[i].ID.String() < summaries[j].ID.String()
	})
	return summaries
}

// deriveTitle builds a display title from the first user turn,
// truncated to titleDeriveMaxRunes.
func deriveTitle(turns []Turn) string {
	for _, t := range turns {
		if t.Role != RoleUser {
			continue
		}
		runes := []rune(t.Content)
		if len(runes) > titleDeriveMaxRunes {
			return string(runes[:titleDeriveMaxRunes]) + "..."
		}
		return t.Content
	}
	return ""
}
