// Package wstest runs a scripted match gateway for websocket session tests.
package wstest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ctfbot.ai/internal/protocol"
)

var ErrNoPeer = errors.New("wstest: no connected bot")

type frame struct {
	data  []byte
	close *websocket.CloseError
}

type peer struct {
	conn *websocket.Conn
	out  chan frame
	done chan struct{}
}

// Gateway accepts bot connections, answers HELLO with Welcome and records
// every ACT. Tasks are answered by OnTask when set.
type Gateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	Welcome protocol.WelcomeMsg
	// OnTask returns the TASK_END to send for a task, or ok=false to leave
	// it running.
	OnTask func(protocol.TaskReq) (end protocol.TaskEndMsg, ok bool)

	acts   chan protocol.ActMsg
	hellos chan protocol.HelloMsg

	mu    sync.Mutex
	cur   *peer
	conns int
	wg    sync.WaitGroup
}

// New starts a gateway. Options run before the listener opens so they may
// set Welcome and OnTask without racing connection handlers.
func New(opts ...func(*Gateway)) *Gateway {
	g := &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Welcome: protocol.WelcomeMsg{
			Username:     "bot",
			Team:         "BLUE",
			OpponentTeam: "RED",
			MatchState:   protocol.MatchInProgress,
			TickRateHz:   20,
		},
		acts:   make(chan protocol.ActMsg, 1024),
		hellos: make(chan protocol.HelloMsg, 16),
	}
	for _, o := range opts {
		o(g)
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	return g
}

// URL is the ws:// address bots should dial.
func (g *Gateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *Gateway) Acts() <-chan protocol.ActMsg { return g.acts }

func (g *Gateway) Hellos() <-chan protocol.HelloMsg { return g.hellos }

// Connections counts accepted handshakes.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns
}

func (g *Gateway) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	g.wg.Add(1)
	defer g.wg.Done()
	defer conn.Close()

	p, ok := g.handshake(conn)
	if !ok {
		return
	}
	defer func() {
		g.mu.Lock()
		if g.cur == p {
			g.cur = nil
		}
		g.mu.Unlock()
		close(p.done)
	}()

	// Writer goroutine.
	go func() {
		for {
			select {
			case <-p.done:
				return
			case f := <-p.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if f.close != nil {
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.close.Code, f.close.Text))
					_ = conn.Close()
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// Reader loop.
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeAct {
			continue
		}
		var act protocol.ActMsg
		if err := json.Unmarshal(msg, &act); err != nil {
			continue
		}
		select {
		case g.acts <- act:
		default:
		}
		if g.OnTask == nil {
			continue
		}
		for _, t := range act.Tasks {
			end, ok := g.OnTask(t)
			if !ok {
				continue
			}
			end.Type = protocol.TypeTaskEnd
			end.ProtocolVersion = protocol.Version
			end.TaskID = t.ID
			if end.Kind == "" {
				end.Kind = t.Type
			}
			b, _ := json.Marshal(end)
			select {
			case p.out <- frame{data: b}:
			case <-time.After(time.Second):
			}
		}
	}
}

func (g *Gateway) handshake(conn *websocket.Conn) (*peer, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, false
	}
	if !protocol.IsSupportedVersion(hello.ProtocolVersion) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, false
	}
	select {
	case g.hellos <- hello:
	default:
	}

	w := g.Welcome
	w.Type = protocol.TypeWelcome
	w.ProtocolVersion = protocol.Version
	if w.Username == "" {
		w.Username = hello.BotName
	}
	b, _ := json.Marshal(w)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return nil, false
	}

	p := &peer{conn: conn, out: make(chan frame, 64), done: make(chan struct{})}
	g.mu.Lock()
	g.cur = p
	g.conns++
	g.mu.Unlock()
	return p, true
}

func (g *Gateway) peer() (*peer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cur == nil {
		return nil, ErrNoPeer
	}
	return g.cur, nil
}

func (g *Gateway) push(f frame) error {
	p, err := g.peer()
	if err != nil {
		return err
	}
	select {
	case p.out <- f:
		return nil
	case <-p.done:
		return ErrNoPeer
	case <-time.After(time.Second):
		return errors.New("wstest: send queue full")
	}
}

// Send marshals v and writes it to the connected bot.
func (g *Gateway) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return g.push(frame{data: b})
}

// Kick sends KICK and closes the socket with a policy violation.
func (g *Gateway) Kick(reason string) error {
	if err := g.Send(protocol.KickMsg{Type: protocol.TypeKick, ProtocolVersion: protocol.Version, Reason: reason}); err != nil {
		return err
	}
	return g.push(frame{close: &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: reason}})
}

// Drop cuts the connection without a close handshake.
func (g *Gateway) Drop() error {
	p, err := g.peer()
	if err != nil {
		return err
	}
	return p.conn.Close()
}

// WaitConnected blocks until at least n handshakes completed.
func (g *Gateway) WaitConnected(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		ok := g.conns >= n && g.cur != nil
		g.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (g *Gateway) Close() {
	g.mu.Lock()
	p := g.cur
	g.mu.Unlock()
	if p != nil {
		_ = p.conn.Close()
	}
	g.srv.Close()
	g.wg.Wait()
}
