// Package ws is the UI bridge: one websocket per shell at /v1/ws carrying HELLO/WELCOME,
// throttled STATE pushes, domain EVENTs and ACT/ACK command round trips.
package ws

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"idleempire.io/internal/persistence/snapshot"
	"idleempire.io/internal/protocol"
	"idleempire.io/internal/sim/driver"
	"idleempire.io/internal/sim/events"
	"idleempire.io/internal/sim/model"
)

const (
	defaultStateEveryMs = 250
	minStateEveryMs     = 50
	actTimeout          = 5 * time.Second
)

type Config struct {
	Driver *driver.Driver
	Bus    *events.Bus
	Logger *slog.Logger
	// StateEveryMs caps how often a session receives STATE; clients may ask for slower.
	StateEveryMs int
	// ActsPerSecond and ActBurst bound ACT traffic per session.
	ActsPerSecond float64
	ActBurst      int
}

type Server struct {
	drv *driver.Driver
	log *slog.Logger
	cfg Config

	upgrader websocket.Upgrader
	welcome  protocol.CatalogDigests

	mu       sync.Mutex
	sessions map[string]*session

	unsubscribe func()
}

type session struct {
	id         string
	out        chan []byte
	state      chan []byte
	stateEvery time.Duration
	lastState  time.Time
}

// NewServer subscribes to the bus and registers a driver observer, so it must be built
// before the driver's Run starts.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StateEveryMs <= 0 {
		cfg.StateEveryMs = defaultStateEveryMs
	}
	if cfg.ActsPerSecond <= 0 {
		cfg.ActsPerSecond = 30
	}
	if cfg.ActBurst <= 0 {
		cfg.ActBurst = 60
	}
	s := &Server{
		drv: cfg.Driver,
		log: cfg.Logger,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // local shell
		},
		welcome:  digests(cfg.Driver),
		sessions: map[string]*session{},
	}
	s.unsubscribe = cfg.Bus.Subscribe(events.KindAll, s.onEvent)
	cfg.Driver.Observe(s.onState)
	return s
}

// Close stops event fan-out. Open connections are left to their handlers.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func digests(d *driver.Driver) protocol.CatalogDigests {
	cat := d.Engine().Catalogs()
	out := protocol.CatalogDigests{
		DivisionsDigest:   cat.Divisions.Digest,
		BottlenecksDigest: cat.Bottlenecks.Digest,
		ResearchDigest:    cat.Research.Digest,
		UpgradesDigest:    cat.Upgrades.Digest,
		ContractsDigest:   cat.Contracts.Digest,
	}
	if b, err := yaml.Marshal(d.Engine().Tuning()); err == nil {
		h := sha256.Sum256(b)
		out.TuningDigest = hex.EncodeToString(h[:])
	}
	return out
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.leave(sess.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- s.writeLoop(ctx, conn, sess) }()

		// First STATE comes from the loop, where the state lives.
		s.drv.Post(func() {
			if b := s.encodeState(s.drv.State()); b != nil {
				sendLatest(sess.state, b)
			}
		})

		limiter := rate.NewLimiter(rate.Limit(s.cfg.ActsPerSecond), s.cfg.ActBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handleAct(ctx, msg, limiter)
			if ack == nil {
				continue
			}
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	every := hello.Capabilities.StateEveryMs
	if every < s.cfg.StateEveryMs {
		every = s.cfg.StateEveryMs
	}
	if every < minStateEveryMs {
		every = minStateEveryMs
	}
	sess := &session{
		id:         uuid.NewString(),
		out:        make(chan []byte, maxQ),
		state:      make(chan []byte, 1),
		stateEvery: time.Duration(every) * time.Millisecond,
	}

	// Registered before WELCOME goes out; anything published meanwhile waits in sess.out.
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		TickStepMs:      s.drv.Engine().Tuning().TickStepMs,
		Catalogs:        s.welcome,
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.leave(sess.id)
		return nil
	}
	if rep := s.drv.OfflineReport(); !rep.Empty() {
		msg := protocol.OfflineReportMsg{
			Type:             protocol.TypeOfflineReport,
			ProtocolVersion:  protocol.Version,
			GapMs:            rep.GapMs,
			CappedDurationMs: rep.CappedDurationMs,
			Mode:             rep.Mode,
			Efficiency:       rep.Efficiency,
			TotalCash:        rep.TotalCash,
			ResearchPoints:   rep.ResearchPoints,
			Divisions:        make([]protocol.DivisionEarnings, 0, len(rep.Divisions)),
		}
		for _, d := range rep.Divisions {
			msg.Divisions = append(msg.Divisions, protocol.DivisionEarnings(d))
		}
		if err := writeJSON(conn, msg); err != nil {
			s.leave(sess.id)
			return nil
		}
	}

	s.log.Info("session joined", "session", sess.id, "client", hello.ClientName, "state_every_ms", every)
	return sess
}

func (s *Server) leave(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.log.Info("session left", "session", id)
}

// handleAct returns the ACK to send, or nil for messages that are not ACTs.
func (s *Server) handleAct(ctx context.Context, msg []byte, limiter *rate.Limiter) *protocol.AckMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nack("", protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.Type != protocol.TypeAct {
		return nil
	}
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		return nack("", protocol.ErrProtoBadRequest, "malformed ACT")
	}
	if act.ProtocolVersion != protocol.Version {
		return nack(act.ID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if !protocol.IsKnownAction(act.Action) {
		return nack(act.ID, protocol.ErrBadRequest, "unknown action")
	}
	if !limiter.Allow() {
		return nack(act.ID, protocol.ErrRateLimit, "too many actions")
	}

	cctx, cancel := context.WithTimeout(ctx, actTimeout)
	defer cancel()
	r, err := s.drv.Submit(cctx, driver.Command{
		Action:   act.Action,
		Division: act.Division,
		Tier:     act.Tier,
		Count:    act.Count,
		Target:   act.Target,
		Track:    act.Track,
		Amount:   act.Amount,
	})
	if err != nil {
		return nack(act.ID, protocol.ErrInternal, err.Error())
	}
	return &protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          act.ID,
		Accepted:        r.Accepted,
		Code:            r.Code,
		Message:         r.Message,
		SimTimeMs:       r.SimTimeMs,
	}
}

func nack(id, code, message string) *protocol.AckMsg {
	return &protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Code:            code,
		Message:         message,
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session) error {
	for {
		var b []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b = <-sess.out:
		case b = <-sess.state:
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
}

// onEvent runs on the driver loop.
func (s *Server) onEvent(ev events.Event) {
	if ev.Kind == events.StateChanged {
		return
	}
	b, err := json.Marshal(protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Event: protocol.Event{
			Kind:      string(ev.Kind),
			Division:  ev.Division,
			Tier:      ev.Tier,
			Amount:    ev.Amount,
			ID:        ev.ID,
			SimTimeMs: ev.SimTimeMs,
		},
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		select {
		case sess.out <- b:
		default:
			s.log.Debug("event dropped, session queue full", "session", sess.id, "kind", ev.Kind)
		}
	}
}

// onState runs on the driver loop; the state is encoded at most once per call and only
// when some session is due.
func (s *Server) onState(st *model.GameState) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var b []byte
	for _, sess := range s.sessions {
		if now.Sub(sess.lastState) < sess.stateEvery {
			continue
		}
		if b == nil {
			if b = s.encodeState(st); b == nil {
				return
			}
		}
		sess.lastState = now
		sendLatest(sess.state, b)
	}
}

func (s *Server) encodeState(st *model.GameState) []byte {
	raw, err := snapshot.Encode(st)
	if err != nil {
		s.log.Error("state encode failed", "err", err)
		return nil
	}
	b, err := json.Marshal(protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		SimTimeMs:       st.SimTimeMs,
		Paused:          s.drv.Paused(),
		State:           raw,
	})
	if err != nil {
		return nil
	}
	return b
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
