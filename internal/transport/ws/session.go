// Package ws connects the bot to a match gateway over websocket and exposes
// the connection as a platform.Platform.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	// ErrKicked ends Run: the server removed us from the match.
	ErrKicked = errors.New("kicked by server")
)

type Config struct {
	URL   string
	Name  string
	Token string

	HandshakeTimeout time.Duration
	// MoveWait bounds MoveToward; past it the move keeps going server side
	// and MoveToward reports MoveUnderway.
	MoveWait    time.Duration
	ReadTimeout time.Duration
}

type taskResult struct {
	end protocol.TaskEndMsg
	err error
}

type Session struct {
	cfg Config
	log *zap.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	lastErr   string
	welcome   protocol.WelcomeMsg
	obs       protocol.ObsMsg
	blocks    map[[3]int]platform.Block
	kicked    string

	// obsReady is closed and replaced on every stored observation.
	obsReady chan struct{}

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan taskResult

	events chan platform.Event
}

func NewSession(cfg Config, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.MoveWait <= 0 {
		cfg.MoveWait = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Session{
		cfg:      cfg,
		log:      log,
		blocks:   map[[3]int]platform.Block{},
		obsReady: make(chan struct{}),
		pending:  map[string]chan taskResult{},
		events:   make(chan platform.Event, 256),
	}
}

type Status struct {
	Connected   bool
	Username    string
	LastObsTick uint64
	LastError   string
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connected:   s.connected,
		Username:    s.welcome.Username,
		LastObsTick: s.obs.Tick,
		LastError:   s.lastErr,
	}
}

// Run connects and keeps reconnecting with capped backoff until ctx ends or
// the server kicks us. The event stream is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)
	stop := context.AfterFunc(ctx, s.disconnect)
	defer stop()

	backoff := 200 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := s.connectAndReadLoop(ctx)
		s.failPending(err)
		if ctx.Err() != nil {
			return nil
		}

		s.mu.Lock()
		s.connected = false
		if err != nil {
			s.lastErr = err.Error()
		}
		kicked := s.kicked
		s.mu.Unlock()

		if kicked != "" || errors.Is(err, ErrKicked) {
			s.emit(ctx, platform.Event{Kind: platform.EventKicked, Reason: kicked})
			return fmt.Errorf("%w: %s", ErrKicked, kicked)
		}
		s.emit(ctx, platform.Event{Kind: platform.EventDisconnected, Reason: errString(err)})
		s.log.Warn("connection lost, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *Session) disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Session) emit(ctx context.Context, ev platform.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Session) Events() <-chan platform.Event { return s.events }

func (s *Session) connectAndReadLoop(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, resp, err := d.DialContext(ctx, s.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		BotName:         s.cfg.Name,
		Capabilities:    protocol.HelloCapabilities{TaskEnd: true, Events: true},
	}
	if tok := strings.TrimSpace(s.cfg.Token); tok != "" {
		hello.Auth = &protocol.HelloAuth{Token: tok}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastErr = ""
	s.mu.Unlock()
	// Close may have raced with the dial.
	if ctx.Err() != nil {
		s.disconnect()
		return nil
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				s.mu.Lock()
				if s.kicked == "" {
					s.kicked = closeText(err)
				}
				s.mu.Unlock()
				return ErrKicked
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.ProtocolVersion != "" && !protocol.IsSupportedVersion(base.ProtocolVersion) {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			s.mu.Lock()
			s.welcome = w
			s.connected = true
			s.mu.Unlock()
			s.log.Info("connected", zap.String("username", w.Username), zap.String("team", w.Team), zap.String("match", w.MatchState))

		case protocol.TypeObs:
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				continue
			}
			s.storeObs(o)

		case protocol.TypeEvent:
			var e protocol.EventMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			if ev, ok := eventFromWire(e); ok {
				s.emit(ctx, ev)
			}

		case protocol.TypeTaskEnd:
			var te protocol.TaskEndMsg
			if err := json.Unmarshal(msg, &te); err != nil {
				continue
			}
			s.checkCode(te.Code)
			s.resolve(te.TaskID, taskResult{end: te})

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil {
				continue
			}
			if !a.Accepted {
				s.checkCode(a.Code)
				s.log.Debug("action rejected", zap.String("id", a.AckFor), zap.String("code", a.Code), zap.String("message", a.Message))
				s.resolve(a.AckFor, taskResult{end: protocol.TaskEndMsg{TaskID: a.AckFor, Status: protocol.TaskFailed, Code: a.Code, Message: a.Message}})
			}

		case protocol.TypeKick:
			var k protocol.KickMsg
			_ = json.Unmarshal(msg, &k)
			s.mu.Lock()
			s.kicked = k.Reason
			if s.kicked == "" {
				s.kicked = "kicked"
			}
			s.mu.Unlock()
		}
	}
}

// checkCode flags server codes this client has no classification for.
func (s *Session) checkCode(code string) {
	if !protocol.IsKnownCode(code) {
		s.log.Warn("unknown server error code", zap.String("code", code))
	}
}

func closeText(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Text != "" {
		return ce.Text
	}
	return "policy violation"
}

func (s *Session) storeObs(o protocol.ObsMsg) {
	blocks := make(map[[3]int]platform.Block, len(o.Blocks))
	for _, b := range o.Blocks {
		blocks[b.Pos] = platform.Block{Type: b.Type, Name: b.Name}
	}
	s.mu.Lock()
	s.obs = o
	s.blocks = blocks
	close(s.obsReady)
	s.obsReady = make(chan struct{})
	s.mu.Unlock()
}

// WaitForObs blocks until an observation newer than after arrives and
// returns its tick. Any number of callers may wait at once.
func (s *Session) WaitForObs(ctx context.Context, after uint64) (uint64, error) {
	for {
		s.mu.RLock()
		tick, ready := s.obs.Tick, s.obsReady
		s.mu.RUnlock()
		if tick > after {
			return tick, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ready:
		}
	}
}

func eventFromWire(e protocol.EventMsg) (platform.Event, bool) {
	kinds := map[string]platform.EventKind{
		protocol.EventSpawn:         platform.EventSpawn,
		protocol.EventDeath:         platform.EventDeath,
		protocol.EventMatchStarted:  platform.EventMatchStarted,
		protocol.EventMatchEnded:    platform.EventMatchEnded,
		protocol.EventPlayerLeft:    platform.EventPlayerLeft,
		protocol.EventFlagObtained:  platform.EventFlagObtained,
		protocol.EventFlagScored:    platform.EventFlagScored,
		protocol.EventFlagAvailable: platform.EventFlagAvailable,
	}
	k, ok := kinds[e.Kind]
	if !ok {
		return platform.Event{}, false
	}
	ev := platform.Event{Kind: k, Player: e.Player, Team: e.Team, Reason: e.Reason}
	if e.Pos != nil {
		p := geom.FromArray(*e.Pos)
		ev.Pos = &p
	}
	if e.Match != nil {
		mi := &platform.MatchInfo{Teams: e.Match.Teams}
		for _, p := range e.Match.Players {
			mi.Players = append(mi.Players, platform.PlayerScore{
				Username: p.Username, Team: p.Team, Score: p.Score, FlagCaptures: p.FlagCaptures,
			})
		}
		ev.Match = mi
	}
	return ev, true
}

func (s *Session) register(id string) chan taskResult {
	ch := make(chan taskResult, 1)
	s.pendMu.Lock()
	s.pending[id] = ch
	s.pendMu.Unlock()
	return ch
}

func (s *Session) unregister(id string) {
	s.pendMu.Lock()
	delete(s.pending, id)
	s.pendMu.Unlock()
}

func (s *Session) resolve(id string, r taskResult) {
	s.pendMu.Lock()
	ch, ok := s.pending[id]
	delete(s.pending, id)
	s.pendMu.Unlock()
	if ok {
		ch <- r
	}
}

// failPending ends every waiting task after the connection dropped.
func (s *Session) failPending(cause error) {
	if cause == nil {
		cause = ErrNotConnected
	}
	s.pendMu.Lock()
	pend := s.pending
	s.pending = map[string]chan taskResult{}
	s.pendMu.Unlock()
	for _, ch := range pend {
		ch <- taskResult{err: cause}
	}
}

func (s *Session) send(op string, act protocol.ActMsg) error {
	s.mu.RLock()
	conn := s.conn
	connected := s.connected
	act.Tick = s.obs.Tick
	s.mu.RUnlock()
	if conn == nil || !connected {
		return platform.NewError(platform.KindTransport, op, ErrNotConnected)
	}
	act.Type = protocol.TypeAct
	act.ProtocolVersion = protocol.Version

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(act); err != nil {
		return platform.NewError(platform.KindTransport, op, err)
	}
	return nil
}

func (s *Session) instant(op string, in protocol.InstantReq) error {
	in.ID = uuid.NewString()
	return s.send(op, protocol.ActMsg{Instants: []protocol.InstantReq{in}})
}

var _ platform.Platform = (*Session)(nil)
