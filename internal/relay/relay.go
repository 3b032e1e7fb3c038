package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chat-me/chatme/internal/session"
)

// ErrNotJoined rejects a send from a connection that has not completed
// join_room.
var ErrNotJoined = errors.New("connection has not joined")

// Writer is one live transport channel the relay can push frames to.
// Implementations must be safe for concurrent writes.
type Writer interface {
	WriteFrame(Frame) error
	Close() error
}

type conn struct {
	id       string
	nickname string
	writer   Writer
}

// mailbox serializes deliveries to one recipient nickname and holds its
// bounded offline buffer. Per-pair send order is preserved because every
// delivery to the nickname, live or flushed, happens under this lock.
type mailbox struct {
	mu       sync.Mutex
	buffered []DirectedMessage
}

// Relay tracks live connections, presence, and routes directed messages
// between sessions. It has an explicit lifecycle: construct, admit
// connections via Join, then Shutdown to drain.
type Relay struct {
	registry   *session.Registry
	logger     *slog.Logger
	bufferSize int

	mu        sync.RWMutex
	conns     map[string]*conn
	mailboxes map[string]*mailbox
}

// New constructs a relay routing through the given session registry. The
// relay discards a nickname's mailbox when the registry destroys its session.
func New(registry *session.Registry, bufferSize int, logger *slog.Logger) *Relay {
	r := &Relay{
		registry:   registry,
		logger:     logger,
		bufferSize: bufferSize,
		conns:      make(map[string]*conn),
		mailboxes:  make(map[string]*mailbox),
	}
	registry.OnDestroy(r.dropMailbox)
	return r
}

// Join binds a connection to the session holding nickname, flushes any
// messages buffered while the recipient was offline in original order, then
// announces presence. Bind, connection registration and flush happen under
// the recipient's mailbox lock, so a concurrent Send cannot slip a live
// delivery ahead of the backlog.
func (r *Relay) Join(connectionID, nickname string, w Writer) error {
	nick, err := session.NormalizeNickname(nickname)
	if err != nil {
		return err
	}

	mb := r.mailbox(nick)
	mb.mu.Lock()
	if err := r.registry.BindConnection(nick, connectionID); err != nil {
		mb.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.conns[connectionID] = &conn{id: connectionID, nickname: nick, writer: w}
	r.mu.Unlock()

	pending := mb.buffered
	mb.buffered = nil
	for _, msg := range pending {
		r.deliver(nick, msg.frame())
	}
	mb.mu.Unlock()

	r.broadcastPresence(nick, true)

	if len(pending) > 0 {
		r.logger.Info("flushed offline buffer", "nickname", nick, "count", len(pending))
	}
	return nil
}

// Send routes one directed message. Online recipients get it on every live
// connection; offline recipients get it buffered up to the relay's capacity,
// oldest dropped first. A failed write to one connection never aborts
// delivery to the others. Nicknames with no session are rejected; nothing is
// buffered for them.
func (r *Relay) Send(fromConnectionID, toNickname, body string) (DirectedMessage, error) {
	r.mu.RLock()
	sender := r.conns[fromConnectionID]
	r.mu.RUnlock()
	if sender == nil {
		return DirectedMessage{}, ErrNotJoined
	}

	nick, err := session.NormalizeNickname(toNickname)
	if err != nil {
		return DirectedMessage{}, err
	}
	if _, ok := r.registry.Get(nick); !ok {
		return DirectedMessage{}, session.ErrUnknownNickname
	}

	msg := DirectedMessage{
		From:   sender.nickname,
		To:     nick,
		Body:   body,
		SentAt: time.Now().UTC(),
	}

	mb := r.mailbox(nick)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if len(r.registry.Resolve(nick)) == 0 {
		mb.buffered = append(mb.buffered, msg)
		if len(mb.buffered) > r.bufferSize {
			mb.buffered = mb.buffered[len(mb.buffered)-r.bufferSize:]
		}
		msg.Status = StatusBuffered
		return msg, nil
	}

	if r.deliver(nick, msg.frame()) > 0 {
		msg.Status = StatusDelivered
	} else {
		msg.Status = StatusUndeliverable
		r.logger.Warn("message undeliverable", "from", msg.From, "to", msg.To)
	}
	return msg, nil
}

// Leave detaches a connection. It is safe to call more than once per
// connection; only the first call has effect. Presence-offline is announced
// once the owning session has no connections left.
func (r *Relay) Leave(connectionID string) {
	r.mu.Lock()
	c := r.conns[connectionID]
	delete(r.conns, connectionID)
	r.mu.Unlock()
	if c == nil {
		return
	}

	nick, offline := r.registry.UnbindConnection(connectionID)
	if offline {
		r.broadcastPresence(nick, false)
	}
}

// Shutdown closes every live connection; their read loops then run Leave.
func (r *Relay) Shutdown(_ context.Context) error {
	r.mu.RLock()
	writers := make([]Writer, 0, len(r.conns))
	for _, c := range r.conns {
		writers = append(writers, c.writer)
	}
	r.mu.RUnlock()

	for _, w := range writers {
		if err := w.Close(); err != nil {
			r.logger.Warn("close connection", "error", err)
		}
	}
	return nil
}

// deliver writes the frame to every live connection of nickname, retrying
// each failed write once. It reports how many connections accepted the frame.
func (r *Relay) deliver(nickname string, f Frame) int {
	delivered := 0
	for _, id := range r.registry.Resolve(nickname) {
		r.mu.RLock()
		c := r.conns[id]
		r.mu.RUnlock()
		if c == nil {
			continue
		}
		if err := c.writer.WriteFrame(f); err != nil {
			if err := c.writer.WriteFrame(f); err != nil {
				r.logger.Warn("write failed", "connection_id", id, "error", err)
				continue
			}
		}
		delivered++
	}
	return delivered
}

// broadcastPresence is scoped to all active connections: the system has no
// contact-list concept, any nickname may message any other.
func (r *Relay) broadcastPresence(nickname string, online bool) {
	f := Frame{Event: EventPresence, Nickname: nickname, Online: &online}

	r.mu.RLock()
	targets := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		_ = c.writer.WriteFrame(f)
	}
}

// dropMailbox discards a nickname's buffered messages when its session is
// destroyed, so a later holder of the freed nickname never inherits them.
func (r *Relay) dropMailbox(nickname string) {
	r.mu.Lock()
	delete(r.mailboxes, nickname)
	r.mu.Unlock()
}

func (r *Relay) mailbox(nickname string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.mailboxes[nickname]
	if !ok {
		mb = &mailbox{}
		r.mailboxes[nickname] = mb
	}
	return mb
}
