// Package store persists completed utterances and extracted forms.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/scribe-gateway/internal/extraction"
)

// SessionRecord describes one transcription session
type SessionRecord struct {
	ID          string
	Language    string
	Transport   string
	PatientName string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// UtteranceRecord is one completed turn attributed to a speaker
type UtteranceRecord struct {
	SessionID string
	Seq       int
	Speaker   string
	Role      string
	Text      string
	StartTime float64
	EndTime   float64
	CreatedAt time.Time
}

// Store is the persistence boundary of a session
type Store interface {
	// SaveSession inserts or updates the session row
	SaveSession(ctx context.Context, session SessionRecord) error

	// SaveUtterance appends a completed utterance
	SaveUtterance(ctx context.Context, utterance UtteranceRecord) error

	// SaveForm replaces the latest form for a session
	SaveForm(ctx context.Context, sessionID string, form *extraction.FormData) error

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the backend
	Close()
}

// NopStore discards everything. It is used when no database is configured.
type NopStore struct{}

var _ Store = NopStore{}

func (NopStore) SaveSession(ctx context.Context, session SessionRecord) error { return nil }
func (NopStore) SaveUtterance(ctx context.Context, utterance UtteranceRecord) error {
	return nil
}
func (NopStore) SaveForm(ctx context.Context, sessionID string, form *extraction.FormData) error {
	return nil
}
func (NopStore) Ping(ctx context.Context) error { return nil }
func (NopStore) Close()                         {}

// MemoryStore keeps records in memory, for tests and the transcribe CLI
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]SessionRecord
	utterances []UtteranceRecord
	forms      map[string]*extraction.FormData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]SessionRecord),
		forms:    make(map[string]*extraction.FormData),
	}
}

func (m *MemoryStore) SaveSession(ctx context.Context, session SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) SaveUtterance(ctx context.Context, utterance UtteranceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances = append(m.utterances, utterance)
	return nil
}

func (m *MemoryStore) SaveForm(ctx context.Context, sessionID string, form *extraction.FormData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forms[sessionID] = form
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

// Session returns the stored session row
func (m *MemoryStore) Session(id string) (SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Utterances returns the utterances stored for a session, in insertion order
func (m *MemoryStore) Utterances(sessionID string) []UtteranceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UtteranceRecord
	for _, u := range m.utterances {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	return out
}

// Form returns the latest form stored for a session
func (m *MemoryStore) Form(sessionID string) *extraction.FormData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forms[sessionID]
}
