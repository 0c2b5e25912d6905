package session

import (
	"sync"
	"time"
)

// Transcript is the ordered (role, message) history for one user.
// Mutated only by that user's own chat turns.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	touched  time.Time
}

// Append records one turn and returns it with its assigned id.
func (t *Transcript) Append(role, content string) Message {
	msg := NewMessage(role, content)
	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.touched = time.Now()
	t.mu.Unlock()
	return msg
}

// History returns a copy of the transcript in order.
func (t *Transcript) History() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// InMemoryStore keeps transcripts in a process-wide map keyed by user
// id. Transcripts idle past the TTL are swept on access rather than
// growing for the process lifetime.
type InMemoryStore struct {
	mu          sync.RWMutex
	transcripts map[string]*Transcript
	ttl         time.Duration
}

// NewInMemoryStore builds a store. ttl <= 0 disables expiry.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		transcripts: make(map[string]*Transcript),
		ttl:         ttl,
	}
}

func (s *InMemoryStore) Ensure(userID string) *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	t, ok := s.transcripts[userID]
	if !ok {
		t = &Transcript{touched: time.Now()}
		s.transcripts[userID] = t
	}
	return t
}

func (s *InMemoryStore) Get(userID string) (*Transcript, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[userID]
	return t, ok
}

func (s *InMemoryStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for id, t := range s.transcripts {
		t.mu.Lock()
		idle := t.touched.Before(cutoff)
		t.mu.Unlock()
		if idle {
			delete(s.transcripts, id)
		}
	}
}
