package ws_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ctfbot.ai/internal/geom"
	"ctfbot.ai/internal/platform"
	"ctfbot.ai/internal/protocol"
	"ctfbot.ai/internal/transport/ws"
	"ctfbot.ai/internal/transport/ws/wstest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	gw   *wstest.Gateway
	s    *ws.Session
	done chan error
	stop context.CancelFunc
}

func start(t *testing.T, cfg ws.Config, setup func(*wstest.Gateway)) *harness {
	t.Helper()
	return startLogged(t, cfg, nil, setup)
}

func startLogged(t *testing.T, cfg ws.Config, log *zap.Logger, setup func(*wstest.Gateway)) *harness {
	t.Helper()
	var opts []func(*wstest.Gateway)
	if setup != nil {
		opts = append(opts, setup)
	}
	gw := wstest.New(opts...)
	cfg.URL = gw.URL()
	if cfg.Name == "" {
		cfg.Name = "bot"
	}
	s := ws.NewSession(cfg, log)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{gw: gw, s: s, done: make(chan error, 1), stop: cancel}
	go func() { h.done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Errorf("Run did not return")
		}
		gw.Close()
	})
	require.True(t, gw.WaitConnected(1, 5*time.Second), "bot never connected")
	require.Eventually(t, func() bool { return s.Status().Connected }, 5*time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) obs(t *testing.T, o protocol.ObsMsg) {
	t.Helper()
	o.Type = protocol.TypeObs
	o.ProtocolVersion = protocol.Version
	require.NoError(t, h.gw.Send(o))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.s.WaitForObs(ctx, o.Tick-1)
	require.NoError(t, err)
}

func (h *harness) nextAct(t *testing.T) protocol.ActMsg {
	t.Helper()
	select {
	case a := <-h.gw.Acts():
		return a
	case <-time.After(5 * time.Second):
		t.Fatalf("no ACT received")
		return protocol.ActMsg{}
	}
}

func (h *harness) nextEvent(t *testing.T) platform.Event {
	t.Helper()
	select {
	case ev, ok := <-h.s.Events():
		if !ok {
			t.Fatalf("event stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event received")
		return platform.Event{}
	}
}

func TestSession_HandshakeAndSensors(t *testing.T) {
	h := start(t, ws.Config{Name: "scout", Token: "secret"}, func(gw *wstest.Gateway) {
		gw.Welcome.Username = "scout"
	})

	select {
	case hello := <-h.gw.Hellos():
		require.Equal(t, "scout", hello.BotName)
		require.True(t, hello.Capabilities.TaskEnd)
		require.NotNil(t, hello.Auth)
		require.Equal(t, "secret", hello.Auth.Token)
	case <-time.After(time.Second):
		t.Fatalf("no HELLO recorded")
	}

	flag := [3]float64{96, 63, -386}
	h.obs(t, protocol.ObsMsg{
		Tick: 7,
		Self: protocol.SelfObs{Name: "scout", Pos: [3]float64{0, 64, 0}, HP: 14, HeldItem: "stone_sword"},
		Team: "BLUE", OpponentTeam: "RED",
		Roster: []protocol.RosterObs{
			{Name: "scout", Team: "BLUE"}, {Name: "blue2", Team: "BLUE"},
			{Name: "red1", Team: "RED"},
		},
		Entities: []protocol.EntityObs{
			{ID: "e1", Name: "red1", Type: "PLAYER", Team: "RED", Pos: [3]float64{3, 64, 4}, Attackable: true},
			{ID: "e2", Name: "zombie", Type: "MOB", Pos: [3]float64{30, 64, 0}, Attackable: true},
		},
		GroundItems: []protocol.GroundItemObs{{ID: "g1", Item: "arrow", Pos: [3]float64{1, 64, 1}}},
		Inventory: []protocol.ItemStack{
			{Item: "gravel", Count: 16},
			{Item: "splash_potion", Count: 1, Category: protocol.CategoryHealth},
			{Item: "empty_bucket", Count: 0, Category: protocol.CategoryHealth},
		},
		Flag:   protocol.FlagObs{Pos: &flag},
		Blocks: []protocol.BlockObs{{Pos: [3]int{81, 65, -387}, Type: 0, Name: "air"}},
	})

	s := h.s
	require.Equal(t, "scout", s.Username())
	require.Equal(t, geom.V(0, 64, 0), s.Position())
	require.Equal(t, 14.0, s.Health())
	require.Equal(t, "BLUE", s.Team())
	require.Equal(t, "RED", s.OpponentTeam())
	require.Equal(t, []string{"red1"}, s.OpponentNames())
	require.Equal(t, []string{"scout", "blue2"}, s.TeammateNames())
	require.Equal(t, "stone_sword", s.HeldItem())

	near := s.FindEntities(platform.EntityQuery{Names: []string{"red1", "zombie"}, MaxDistance: 10})
	require.Len(t, near, 1)
	require.Equal(t, "red1", near[0].Name)
	require.Len(t, s.FindItemsOnGround(platform.ItemQuery{MaxDistance: 5}), 1)

	require.True(t, s.InventoryContains("gravel"))
	require.False(t, s.InventoryContains("empty_bucket"))
	potion, ok := s.FindConsumable(platform.CategoryHealth)
	require.True(t, ok)
	require.Equal(t, "splash_potion", potion.Name)

	b, ok := s.BlockAt(geom.V(81.4, 65.9, -386.2))
	require.True(t, ok)
	require.True(t, b.IsAir())
	_, ok = s.BlockAt(geom.V(0, 0, 0))
	require.False(t, ok)

	pos, ok := s.FlagLocation()
	require.True(t, ok)
	require.Equal(t, geom.FromArray(flag), pos)
	require.Equal(t, uint64(7), s.Status().LastObsTick)
}

func TestSession_FlagCarriedHasNoLocation(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	h.obs(t, protocol.ObsMsg{
		Tick: 1,
		Self: protocol.SelfObs{Name: "bot", HasFlag: true},
		Flag: protocol.FlagObs{Holder: "bot"},
	})
	_, ok := h.s.FlagLocation()
	require.False(t, ok)
	require.Equal(t, "bot", h.s.FlagHolder())
	require.True(t, h.s.HasFlag())
}

func TestSession_MoveOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		end    protocol.TaskEndMsg
		status platform.MoveStatus
		kind   platform.ErrorKind
	}{
		{"done", protocol.TaskEndMsg{Status: protocol.TaskDone}, platform.MoveCompleted, platform.KindUnknown},
		{"superseded", protocol.TaskEndMsg{Status: protocol.TaskSuperseded, Code: protocol.ErrGoalChanged}, platform.MoveSuperseded, platform.KindGoalChanged},
		{"stopped", protocol.TaskEndMsg{Status: protocol.TaskStopped}, platform.MoveSuperseded, platform.KindPathStopped},
		{"no path", protocol.TaskEndMsg{Status: protocol.TaskFailed, Code: protocol.ErrNoPath, Message: "unreachable"}, platform.MoveFailed, platform.KindNoPath},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			h := start(t, ws.Config{}, func(gw *wstest.Gateway) {
				gw.OnTask = func(protocol.TaskReq) (protocol.TaskEndMsg, bool) { return c.end, true }
			})
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := h.s.MoveToward(ctx, geom.V(10, 64, -3), 2)
			require.Equal(t, c.status, res.Status)
			if c.status == platform.MoveCompleted {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.Equal(t, c.kind, platform.KindOf(err))
				require.Equal(t, c.end.Code, res.Code)
			}

			act := h.nextAct(t)
			require.Len(t, act.Tasks, 1)
			task := act.Tasks[0]
			require.Equal(t, protocol.TaskMoveTo, task.Type)
			require.Equal(t, [3]float64{10, 64, -3}, task.Target)
			require.Equal(t, 2.0, task.Tolerance)
			require.NotEmpty(t, task.ID)
		})
	}
}

func TestSession_MoveWaitExpiresUnderway(t *testing.T) {
	h := start(t, ws.Config{MoveWait: 50 * time.Millisecond}, nil)
	res, err := h.s.MoveToward(context.Background(), geom.V(1, 2, 3), 1)
	require.NoError(t, err)
	require.Equal(t, platform.MoveUnderway, res.Status)
}

func TestSession_MoveRejectedByAck(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type out struct {
		res platform.MoveResult
		err error
	}
	got := make(chan out, 1)
	go func() {
		res, err := h.s.MoveToward(ctx, geom.V(1, 2, 3), 1)
		got <- out{res, err}
	}()
	act := h.nextAct(t)
	require.NoError(t, h.gw.Send(protocol.AckMsg{
		Type: protocol.TypeAck, ProtocolVersion: protocol.Version,
		AckFor: act.Tasks[0].ID, Accepted: false, Code: protocol.ErrRateLimit,
	}))
	o := <-got
	require.Equal(t, platform.MoveFailed, o.res.Status)
	require.Equal(t, platform.KindRejected, platform.KindOf(o.err))
}

func TestSession_MoveCancelledByContext(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := h.s.MoveToward(ctx, geom.V(1, 2, 3), 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, platform.MoveUnderway, res.Status)
}

func TestSession_ActuatorShapes(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	h.obs(t, protocol.ObsMsg{Tick: 3, Inventory: []protocol.ItemStack{{Item: "splash_potion", Count: 1}}})
	ctx := context.Background()
	s := h.s

	require.NoError(t, s.LookAt(ctx, geom.V(1, 2, 3)))
	a := h.nextAct(t)
	require.Len(t, a.Instants, 1)
	require.Equal(t, protocol.InstantLookAt, a.Instants[0].Type)
	require.Equal(t, [3]float64{1, 2, 3}, *a.Instants[0].Target)
	require.Equal(t, uint64(3), a.Tick)

	used, err := s.UseItem(ctx, platform.Item{Name: "splash_potion"})
	require.NoError(t, err)
	require.True(t, used)
	a = h.nextAct(t)
	require.Equal(t, protocol.InstantUseItem, a.Instants[0].Type)
	require.Equal(t, "splash_potion", a.Instants[0].Item)

	used, err = s.UseItem(ctx, platform.Item{Name: "ender_pearl"})
	require.NoError(t, err)
	require.False(t, used)

	require.NoError(t, s.Equip(ctx, platform.Item{Name: "gravel"}, platform.SlotHand))
	a = h.nextAct(t)
	require.Equal(t, protocol.InstantEquip, a.Instants[0].Type)
	require.Equal(t, "hand", a.Instants[0].Slot)

	require.NoError(t, s.PlaceBlock(ctx, geom.V(81, 64, -387), geom.Up))
	a = h.nextAct(t)
	require.Len(t, a.Tasks, 1)
	require.Equal(t, protocol.TaskPlace, a.Tasks[0].Type)
	require.Equal(t, [3]float64{0, 1, 0}, a.Tasks[0].Face)

	require.NoError(t, s.Attack(ctx, platform.Entity{ID: "e9", Pos: geom.V(4, 64, 4)}))
	a = h.nextAct(t)
	require.Equal(t, protocol.TaskAttack, a.Tasks[0].Type)
	require.Equal(t, "e9", a.Tasks[0].TargetID)

	require.NoError(t, s.StopMovement(ctx))
	a = h.nextAct(t)
	require.Equal(t, protocol.InstantCancel, a.Instants[0].Type)

	require.NoError(t, s.Chat(ctx, "gl hf"))
	a = h.nextAct(t)
	require.Equal(t, protocol.InstantSay, a.Instants[0].Type)
	require.Equal(t, "gl hf", a.Instants[0].Text)

	require.NoError(t, s.EquipArmor(ctx))
	a = h.nextAct(t)
	require.Equal(t, protocol.InstantEquipArmor, a.Instants[0].Type)
}

func TestSession_EventsTranslated(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	pos := [3]float64{5, 64, 5}
	send := func(e protocol.EventMsg) {
		e.Type = protocol.TypeEvent
		e.ProtocolVersion = protocol.Version
		require.NoError(t, h.gw.Send(e))
	}

	send(protocol.EventMsg{Kind: protocol.EventSpawn})
	require.Equal(t, platform.EventSpawn, h.nextEvent(t).Kind)

	// Unknown kinds are dropped.
	send(protocol.EventMsg{Kind: "WEATHER"})
	send(protocol.EventMsg{Kind: protocol.EventFlagAvailable, Pos: &pos})
	ev := h.nextEvent(t)
	require.Equal(t, platform.EventFlagAvailable, ev.Kind)
	require.NotNil(t, ev.Pos)
	require.Equal(t, geom.V(5, 64, 5), *ev.Pos)

	send(protocol.EventMsg{Kind: protocol.EventPlayerLeft, Player: "red1"})
	ev = h.nextEvent(t)
	require.Equal(t, platform.EventPlayerLeft, ev.Kind)
	require.Equal(t, "red1", ev.Player)

	send(protocol.EventMsg{Kind: protocol.EventMatchEnded, Match: &protocol.MatchResult{
		Teams:   []string{"BLUE", "RED"},
		Players: []protocol.PlayerScore{{Username: "bot", Team: "BLUE", Score: 30, FlagCaptures: 2}},
	}})
	ev = h.nextEvent(t)
	require.Equal(t, platform.EventMatchEnded, ev.Kind)
	me, ok := ev.Match.Player("bot")
	require.True(t, ok)
	require.Equal(t, 2, me.FlagCaptures)
	require.Equal(t, 30, me.Score)
}

func TestSession_KickEndsRun(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	require.NoError(t, h.gw.Kick("afk"))

	ev := h.nextEvent(t)
	require.Equal(t, platform.EventKicked, ev.Kind)
	require.Equal(t, "afk", ev.Reason)

	select {
	case err := <-h.done:
		require.True(t, errors.Is(err, ws.ErrKicked), "got %v", err)
		h.done <- err // let cleanup observe Run's return
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after kick")
	}
	_, open := <-h.s.Events()
	require.False(t, open)
}

func TestSession_DropReconnects(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	require.NoError(t, h.gw.Drop())

	ev := h.nextEvent(t)
	require.Equal(t, platform.EventDisconnected, ev.Kind)
	require.True(t, h.gw.WaitConnected(2, 5*time.Second), "no reconnect")
	require.Eventually(t, func() bool { return h.s.Status().Connected }, 5*time.Second, 5*time.Millisecond)
}

func TestSession_NotConnected(t *testing.T) {
	s := ws.NewSession(ws.Config{URL: "ws://127.0.0.1:1/none"}, nil)
	err := s.Chat(context.Background(), "hi")
	require.ErrorIs(t, err, ws.ErrNotConnected)
	require.Equal(t, platform.KindTransport, platform.KindOf(err))

	res, err := s.MoveToward(context.Background(), geom.V(0, 0, 0), 1)
	require.Equal(t, platform.MoveFailed, res.Status)
	require.Equal(t, platform.KindTransport, platform.KindOf(err))
}

func TestSession_WaitForObsWakesEveryWaiter(t *testing.T) {
	h := start(t, ws.Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticks := make(chan uint64, 2)
	for range 2 {
		go func() {
			tick, err := h.s.WaitForObs(ctx, 0)
			if err != nil {
				tick = 0
			}
			ticks <- tick
		}()
	}
	require.NoError(t, h.gw.Send(protocol.ObsMsg{Type: protocol.TypeObs, ProtocolVersion: protocol.Version, Tick: 3}))
	for range 2 {
		select {
		case tick := <-ticks:
			require.Equal(t, uint64(3), tick)
		case <-time.After(5 * time.Second):
			t.Fatalf("waiter not woken")
		}
	}
}

func TestSession_UnknownCodeIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := startLogged(t, ws.Config{}, zap.New(core), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan error, 1)
	go func() {
		_, err := h.s.MoveToward(ctx, geom.V(1, 2, 3), 1)
		got <- err
	}()
	act := h.nextAct(t)
	require.NoError(t, h.gw.Send(protocol.TaskEndMsg{
		Type: protocol.TypeTaskEnd, ProtocolVersion: protocol.Version,
		TaskID: act.Tasks[0].ID, Status: protocol.TaskFailed, Code: "E_MOON_PHASE",
	}))
	err := <-got
	// A failed move without a known code still reads as no path.
	require.Equal(t, platform.KindNoPath, platform.KindOf(err))

	entries := logs.FilterMessage("unknown server error code").All()
	require.Len(t, entries, 1)
	require.Equal(t, "E_MOON_PHASE", entries[0].ContextMap()["code"])
}
