package apyserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a unique per-connection identity (spec.md §3 "Session").
// Sessions are equal iff their identifiers are equal.
type Session struct {
	ID        uuid.UUID
	Client    *Client
	CreatedAt time.Time

	// SeqNo is a monotonic counter assigned by the registry in open order
	// (SPEC_FULL.md §3 expansion); it plays no role in equality or
	// session-limit accounting.
	SeqNo uint64
}

// Equal reports whether two sessions share an identifier.
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ID == other.ID
}

// sessionRegistry tracks concurrent sessions per client address and the
// process-wide ban list (spec.md §4.5). It is the sole owner of both maps
// and is safe for concurrent use by many connection goroutines
// (spec.md §5, §9 "Process-wide ban and session state").
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string][]*Session
	banned   map[string]struct{}
	limit    int
	seq      uint64
}

func newSessionRegistry(limit int) *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string][]*Session),
		banned:   make(map[string]struct{}),
		limit:    limit,
	}
}

// open appends a new Session for c.Address and assigns it to c.Session. If
// the per-address limit is exceeded, the just-appended session is removed
// and open returns false; the caller is responsible for sending
// ERR_SESSION_LIMIT_REACHED and closing the connection (spec.md §4.5).
func (r *sessionRegistry) open(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	sess := &Session{ID: uuid.New(), Client: c, CreatedAt: time.Now(), SeqNo: r.seq}
	c.Session = sess
	r.sessions[c.Address] = append(r.sessions[c.Address], sess)

	if r.limit > 0 && len(r.sessions[c.Address]) > r.limit {
		list := r.sessions[c.Address]
		r.sessions[c.Address] = list[:len(list)-1]
		c.Session = nil
		return false
	}
	return true
}

// close removes c's session from the registry, if any. It is idempotent:
// calling it again for the same client is a no-op (spec.md §8 "Close
// idempotence").
func (r *sessionRegistry) close(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Session == nil {
		return
	}
	list := r.sessions[c.Address]
	for i, s := range list {
		if s.ID == c.Session.ID {
			r.sessions[c.Address] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	c.Session = nil
}

// sessionsOf returns a snapshot of the sessions currently open for addr.
func (r *sessionRegistry) sessionsOf(addr string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, len(r.sessions[addr]))
	copy(out, r.sessions[addr])
	return out
}

// ban adds addr to the ban list. Existing connections from addr are not
// closed by ban itself; the dispatcher skips them on their next message
// (spec.md §3 "Ban list").
func (r *sessionRegistry) ban(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned[addr] = struct{}{}
}

// unban removes addr from the ban list.
func (r *sessionRegistry) unban(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, addr)
}

// isBanned reports whether addr is on the ban list.
func (r *sessionRegistry) isBanned(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banned[addr]
	return ok
}
