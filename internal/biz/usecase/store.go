package usecase

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/pipeboard/contact-sync/internal/biz/domain"
)

// ChangeKind classifies store notifications
type ChangeKind string

const (
	ChangeContact ChangeKind = "contact"
	ChangeMessage ChangeKind = "message"
	ChangeDelete  ChangeKind = "delete"
	ChangeReload  ChangeKind = "reload"
)

// Change describes one committed store mutation
type Change struct {
	Kind      ChangeKind
	ContactID string
	Seq       uint64
}

// DefaultHistoryLimit bounds the messages kept per contact
const DefaultHistoryLimit = 200

// ContactStore is the single in-memory copy of the working set. Every view
// reads from it; only the reconciliation and optimistic use cases write.
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[string]*domain.Contact
	messages map[string][]*domain.Message
	deleted  map[string]uint64
	seq      uint64
	limit    int

	watchMu  sync.Mutex
	watchers map[int]func(Change)
	nextID   int
}

// NewContactStore creates an empty store. historyLimit <= 0 uses DefaultHistoryLimit.
func NewContactStore(historyLimit int) *ContactStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ContactStore{
		contacts: make(map[string]*domain.Contact),
		messages: make(map[string][]*domain.Message),
		deleted:  make(map[string]uint64),
		limit:    historyLimit,
		watchers: make(map[int]func(Change)),
	}
}

// Load merges a bulk fetch into the store. Fetched contacts replace their
// stored copies; contacts missing from the fetch are kept, since removal only
// happens on an explicit deletion.
func (s *ContactStore) Load(contacts []*domain.Contact) int {
	n, _ := s.LoadSince(contacts, math.MaxUint64)
	return n
}

// LoadSince merges a bulk fetch that started when Seq returned since. A
// contact changed or deleted after that point is newer than the fetched copy
// and is skipped.
func (s *ContactStore) LoadSince(contacts []*domain.Contact, since uint64) (loaded, skipped int) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	for _, c := range contacts {
		if c == nil || c.ID == "" {
			continue
		}
		if cur, ok := s.contacts[c.ID]; ok && cur.LastUpdate > since {
			skipped++
			continue
		}
		if at, ok := s.deleted[c.ID]; ok {
			if at > since {
				skipped++
				continue
			}
			delete(s.deleted, c.ID)
		}
		cp := c.Clone()
		if cp.Tags == nil {
			cp.Tags = []string{}
		}
		cp.Derive()
		cp.LastUpdate = seq
		s.contacts[cp.ID] = cp
		loaded++
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReload, Seq: seq})
	return loaded, skipped
}

// Get returns a copy of the contact, or nil
func (s *ContactStore) Get(id string) *domain.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contacts[id].Clone()
}

// Len returns the number of contacts
func (s *ContactStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

// List returns copies of all contacts, most recently active first
func (s *ContactStore) List() []*domain.Contact {
	s.mu.RLock()
	out := make([]*domain.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, _ := domain.ParseInstant(out[i].LastActivityAt)
		tj, _ := domain.ParseInstant(out[j].LastActivityAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve finds the stored id for an identity, falling back to an exact
// phone match. It returns "" when neither matches.
func (s *ContactStore) Resolve(id, phone string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id != "" {
		if _, ok := s.contacts[id]; ok {
			return id
		}
	}
	if phone == "" {
		return ""
	}
	// lowest id wins if the remote side ever shares a phone between contacts
	var match string
	for cid, c := range s.contacts {
		if c.Phone == phone && (match == "" || cid < match) {
			match = cid
		}
	}
	return match
}

// Update runs fn on the stored contact under the write lock and records a
// new change marker. It reports false when the contact does not exist.
func (s *ContactStore) Update(id string, fn func(c *domain.Contact)) bool {
	s.mu.Lock()
	c, ok := s.contacts[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(c)
	c.Derive()
	s.seq++
	c.LastUpdate = s.seq
	seq := s.seq
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeContact, ContactID: id, Seq: seq})
	return true
}

// Delete removes a contact and its history
func (s *ContactStore) Delete(id string) bool {
	s.mu.Lock()
	if _, ok := s.contacts[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.contacts, id)
	delete(s.messages, id)
	s.seq++
	seq := s.seq
	s.deleted[id] = seq
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDelete, ContactID: id, Seq: seq})
	return true
}

// Messages returns copies of a contact's history, oldest first
func (s *ContactStore) Messages(contactID string) []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.messages[contactID]
	out := make([]*domain.Message, len(hist))
	for i, m := range hist {
		cp := *m
		out[i] = &cp
	}
	return out
}

// AppendMessage stores msg unless it duplicates a stored message within
// window. When the message is newer than the contact's snapshot, the contact's
// last message and activity time follow it. It reports whether msg was stored.
func (s *ContactStore) AppendMessage(msg *domain.Message, window time.Duration) (bool, error) {
	s.mu.Lock()
	c, ok := s.contacts[msg.ContactID]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrReconciliationMiss
	}
	hist := s.messages[msg.ContactID]
	for _, existing := range hist {
		if msg.IsDuplicateOf(existing, window) {
			s.mu.Unlock()
			return false, nil
		}
	}

	cp := *msg
	hist = append(hist, &cp)
	if over := len(hist) - s.limit; over > 0 {
		hist = slices.Delete(hist, 0, over)
	}
	s.messages[msg.ContactID] = hist

	if isNewer(msg.Timestamp, c.LastActivityAt) {
		c.LastMessage = msg.Snapshot()
		c.LastActivityAt = msg.Timestamp
	}
	s.seq++
	c.LastUpdate = s.seq
	seq := s.seq
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessage, ContactID: msg.ContactID, Seq: seq})
	return true, nil
}

// UpdateMessage runs fn on a stored message found by id
func (s *ContactStore) UpdateMessage(contactID, messageID string, fn func(m *domain.Message)) bool {
	s.mu.Lock()
	var found bool
	for _, m := range s.messages[contactID] {
		if m.ID == messageID {
			fn(m)
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMessage, ContactID: contactID, Seq: seq})
	return true
}

// FindMessage locates a message by id across all contacts
func (s *ContactStore) FindMessage(messageID string) (contactID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cid, hist := range s.messages {
		for _, m := range hist {
			if m.ID == messageID {
				return cid, true
			}
		}
	}
	return "", false
}

// Seq returns the latest change marker
func (s *ContactStore) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Watch registers fn for change notifications. fn runs after the change is
// committed, outside the store lock.
func (s *ContactStore) Watch(fn func(Change)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

func (s *ContactStore) notify(ch Change) {
	s.watchMu.Lock()
	ids := make([]int, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

// isNewer reports whether ts should replace current as the latest activity.
// Values that are not instants never displace an instant.
func isNewer(ts, current string) bool {
	t, ok := domain.ParseInstant(ts)
	if !ok {
		return current == ""
	}
	cur, ok := domain.ParseInstant(current)
	if !ok {
		return true
	}
	return !t.Before(cur)
}
