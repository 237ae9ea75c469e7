package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/metrics"
	"github.com/rs/zerolog/log"
)

// State of a guild's connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Connection is the bot's voice presence in one guild.
type Connection struct {
	GuildID        string
	VoiceChannelID string
	// TextChannelID is the channel whose messages are read aloud.
	TextChannelID string

	queue       *Queue
	conn        Conn
	state       State
	ready       chan struct{}
	err         error
	unsubscribe func()
	// owned is true while this process holds the transport connection.
	owned atomic.Bool
}

// Enqueue adds srcs to the connection's queue as one contiguous run.
func (c *Connection) Enqueue(srcs ...audio.Source) error {
	if c.queue == nil {
		return ErrQueueClosed
	}
	return c.queue.Enqueue(srcs...)
}

// Skip stops the track currently playing.
func (c *Connection) Skip() bool {
	if c.queue == nil {
		return false
	}
	return c.queue.Skip()
}

// Pending returns the number of queued tracks.
func (c *Connection) Pending() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Len()
}

// Owned reports whether the transport connection is still held.
func (c *Connection) Owned() bool { return c.owned.Load() }

// Manager keeps at most one connection per guild.
type Manager struct {
	transport    Transport
	joinTimeout  time.Duration
	leaveTimeout time.Duration
	sendTimeout  time.Duration
	onConnect    func(*Connection)

	mu     sync.Mutex
	conns  map[string]*Connection
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithJoinTimeout bounds how long a transport join may take. Non-positive
// values keep the default.
func WithJoinTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.joinTimeout = d
		}
	}
}

// WithLeaveTimeout bounds how long a transport leave may take. Without it
// the join timeout is used.
func WithLeaveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.leaveTimeout = d
		}
	}
}

// WithSendTimeout bounds each frame send. Non-positive values keep the
// default.
func WithSendTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}

// OnConnect runs fn once for each new connection, after it is Connected.
func OnConnect(fn func(*Connection)) Option {
	return func(m *Manager) { m.onConnect = fn }
}

// NewManager creates a manager over t.
func NewManager(t Transport, opts ...Option) *Manager {
	m := &Manager{
		transport:   t,
		joinTimeout: 10 * time.Second,
		sendTimeout: time.Second,
		conns:       make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.leaveTimeout <= 0 {
		m.leaveTimeout = m.joinTimeout
	}
	return m
}

// leave asks the transport to drop guildID, bounded by the leave timeout.
func (m *Manager) leave(ctx context.Context, guildID string) error {
	ctx, cancel := context.WithTimeout(ctx, m.leaveTimeout)
	defer cancel()
	if err := m.transport.Leave(ctx, guildID); err != nil {
		return transportError("leave", guildID, err)
	}
	return nil
}

// Join connects to voiceChannelID in guildID and routes textChannelID to it.
// If the guild is already connected or connecting, the existing connection is
// returned once ready and no new transport join is made.
func (m *Manager) Join(ctx context.Context, guildID, voiceChannelID, textChannelID string) (*Connection, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if c, ok := m.conns[guildID]; ok {
		m.mu.Unlock()
		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if c.err != nil {
			return nil, c.err
		}
		return c, nil
	}
	c := &Connection{
		GuildID:        guildID,
		VoiceChannelID: voiceChannelID,
		TextChannelID:  textChannelID,
		state:          Connecting,
		ready:          make(chan struct{}),
	}
	m.conns[guildID] = c
	m.mu.Unlock()

	jctx, cancel := context.WithTimeout(ctx, m.joinTimeout)
	conn, err := m.transport.Join(jctx, guildID, voiceChannelID)
	cancel()
	if err != nil {
		err = transportError("join", guildID, err)
		m.mu.Lock()
		if m.conns[guildID] == c {
			delete(m.conns, guildID)
		}
		c.state = Disconnected
		c.err = err
		m.mu.Unlock()
		close(c.ready)
		metrics.RecordVoiceEvent("join_failed")
		log.Warn().Err(err).Str("component", "voice").Str("guild", guildID).Msg("Voice join failed")
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		// Shutdown started while the transport was joining.
		if m.conns[guildID] == c {
			delete(m.conns, guildID)
		}
		c.state = Disconnected
		c.err = ErrManagerClosed
		m.mu.Unlock()
		if err := m.leave(context.Background(), guildID); err != nil {
			log.Warn().Err(err).Str("component", "voice").Str("guild", guildID).Msg("Could not leave after shutdown")
		}
		close(c.ready)
		return nil, ErrManagerClosed
	}
	c.conn = conn
	c.queue = NewQueue(conn, m.sendTimeout)
	c.state = Connected
	c.owned.Store(true)
	c.unsubscribe = m.transport.Subscribe(guildID, func() { m.handleDisconnect(c) })
	m.mu.Unlock()
	close(c.ready)

	metrics.RecordVoiceEvent("join")
	log.Info().Str("component", "voice").Str("guild", guildID).Str("channel", voiceChannelID).Msg("Joined voice channel")

	if m.onConnect != nil {
		m.onConnect(c)
	}
	return c, nil
}

// Leave disconnects the guild. It does nothing unless the guild is Connected.
func (m *Manager) Leave(ctx context.Context, guildID string) error {
	m.mu.Lock()
	c, ok := m.conns[guildID]
	if !ok || c.state != Connected {
		m.mu.Unlock()
		return nil
	}
	m.detachLocked(c)
	m.mu.Unlock()

	c.queue.Stop()
	metrics.RecordVoiceEvent("leave")
	if c.owned.CompareAndSwap(true, false) {
		if err := m.leave(ctx, guildID); err != nil {
			return err
		}
	}
	log.Info().Str("component", "voice").Str("guild", guildID).Msg("Left voice channel")
	return nil
}

// detachLocked removes c from the manager. Callers hold m.mu.
func (m *Manager) detachLocked(c *Connection) {
	delete(m.conns, c.GuildID)
	c.state = Disconnected
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// handleDisconnect runs when the transport reports that c dropped. It is a
// no-op if c was already left or replaced.
func (m *Manager) handleDisconnect(c *Connection) {
	m.mu.Lock()
	if m.conns[c.GuildID] != c || c.state != Connected {
		m.mu.Unlock()
		return
	}
	m.detachLocked(c)
	m.mu.Unlock()

	c.queue.Stop()
	metrics.RecordVoiceEvent("disconnect")
	log.Warn().Str("component", "voice").Str("guild", c.GuildID).Msg("Voice connection dropped")

	if !c.owned.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	_, rejoined := m.conns[c.GuildID]
	m.mu.Unlock()
	if rejoined || !m.transport.Present(c.GuildID) {
		return
	}
	if err := m.leave(context.Background(), c.GuildID); err != nil {
		log.Warn().Err(err).Str("component", "voice").Str("guild", c.GuildID).Msg("Could not remove dropped connection")
	}
}

// Watch polls the transport every interval and treats connections it no
// longer lists as dropped. It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *Manager) check() {
	m.mu.Lock()
	var live []*Connection
	for _, c := range m.conns {
		if c.state == Connected {
			live = append(live, c)
		}
	}
	m.mu.Unlock()

	for _, c := range live {
		if !m.transport.Present(c.GuildID) {
			log.Warn().Str("component", "voice").Str("guild", c.GuildID).Msg("Voice watchdog found a stale connection")
			m.handleDisconnect(c)
		}
	}
}

// Get returns the guild's connection if it is Connected.
func (m *Manager) Get(guildID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[guildID]
	if !ok || c.state != Connected {
		return nil, false
	}
	return c, true
}

// State returns the guild's connection state.
func (m *Manager) State(guildID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[guildID]; ok {
		return c.state
	}
	return Disconnected
}

// Guilds lists connected guilds in sorted order.
func (m *Manager) Guilds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, c := range m.conns {
		if c.state == Connected {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Shutdown leaves every connected guild. Joins still in flight are waited
// for and undone, and later joins fail with ErrManagerClosed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var pending []*Connection
	for _, c := range m.conns {
		if c.state == Connecting {
			pending = append(pending, c)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range pending {
		select {
		case <-c.ready:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for join in guild %s: %w", c.GuildID, ctx.Err()))
		}
	}
	for _, guildID := range m.Guilds() {
		if err := m.Leave(ctx, guildID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
