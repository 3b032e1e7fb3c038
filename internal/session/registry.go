package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

type entry struct {
	session Session
	conns   map[string]struct{}
	grace   *time.Timer
}

// Registry binds verified identities to nicknames and tracks their live
// connections. Nickname uniqueness holds across all non-expired sessions; a
// session whose last connection closed survives for a grace period to
// tolerate reconnects, then is destroyed and its nickname freed.
type Registry struct {
	grace  time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	sessions  map[string]*entry // nickname -> session
	byConn    map[string]string // connection id -> nickname
	onDestroy func(nickname string)
}

// NewRegistry constructs a session registry with the given teardown grace.
func NewRegistry(grace time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		grace:    grace,
		logger:   logger,
		sessions: make(map[string]*entry),
		byConn:   make(map[string]string),
	}
}

// OnDestroy registers fn to run after a session is torn down and its
// nickname freed. The relay uses this to discard the nickname's mailbox.
func (r *Registry) OnDestroy(fn func(nickname string)) {
	r.mu.Lock()
	r.onDestroy = fn
	r.mu.Unlock()
}

// CreateSession registers a nickname for a verified identity. The nickname is
// stored lowercase and is immutable once set.
func (r *Registry) CreateSession(identity, nickname, displayName string) (Session, error) {
	nick, err := NormalizeNickname(nickname)
	if err != nil {
		return Session{}, err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = nick
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[nick]; exists {
		return Session{}, ErrNicknameTaken
	}
	s := Session{
		Identity:    identity,
		Nickname:    nick,
		DisplayName: strings.TrimSpace(displayName),
		CreatedAt:   time.Now().UTC(),
	}
	r.sessions[nick] = &entry{session: s, conns: make(map[string]struct{})}
	r.logger.Info("session created", "nickname", nick, "identity", identity)
	return s, nil
}

// BindConnection attaches a live connection to the session holding nickname.
// Binding cancels any pending teardown from an earlier disconnect.
func (r *Registry) BindConnection(nickname, connectionID string) error {
	nick := strings.ToLower(strings.TrimSpace(nickname))

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[nick]
	if !ok {
		return ErrUnknownNickname
	}
	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
	}
	e.conns[connectionID] = struct{}{}
	r.byConn[connectionID] = nick
	return nil
}

// UnbindConnection detaches a connection from whichever session holds it and
// reports the owning nickname and whether the session just went offline. When
// the connection set empties, the destruction grace timer starts.
func (r *Registry) UnbindConnection(connectionID string) (nickname string, offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nick, ok := r.byConn[connectionID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connectionID)

	e, ok := r.sessions[nick]
	if !ok {
		return nick, false
	}
	delete(e.conns, connectionID)
	if len(e.conns) > 0 {
		return nick, false
	}

	e.grace = time.AfterFunc(r.grace, func() { r.destroy(nick) })
	return nick, true
}

// Resolve returns the connection ids currently bound to nickname; empty when
// the session is offline or unknown.
func (r *Registry) Resolve(nickname string) []string {
	nick := strings.ToLower(strings.TrimSpace(nickname))

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[nick]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the session holding nickname, if any.
func (r *Registry) Get(nickname string) (Session, bool) {
	nick := strings.ToLower(strings.TrimSpace(nickname))

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[nick]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

func (r *Registry) destroy(nickname string) {
	r.mu.Lock()
	e, ok := r.sessions[nickname]
	if !ok || len(e.conns) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, nickname)
	fn := r.onDestroy
	r.mu.Unlock()

	r.logger.Info("session destroyed", "nickname", nickname)
	if fn != nil {
		fn(nickname)
	}
}
