package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"boxcraft.dev/internal/protocol"
)

// maxPendingResults caps results kept for an agent that never calls GetObs.
const maxPendingResults = 256

type SessionConfig struct {
	Key        string
	WorldWSURL string
	Validator  *protocol.Validator
}

type onWelcomeFn func(key string, w protocol.WelcomeMsg, at time.Time)

// Session is one world connection driven by MCP calls. It reconnects with
// backoff; each reconnect joins as a new agent.
type Session struct {
	cfg       SessionConfig
	onWelcome onWelcomeFn

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	connected bool
	lastErr   string

	conn    *websocket.Conn
	writeMu sync.Mutex

	welcome protocol.WelcomeMsg

	haveObs     bool
	lastObsTick uint64
	lastObsRaw  json.RawMessage
	obsSeq      uint64
	results     []protocol.ActionResult

	obsNotify chan struct{}

	actSeq     uint64
	lastUsedAt time.Time
}

func NewSession(cfg SessionConfig, onWelcome onWelcomeFn) *Session {
	if cfg.Key == "" {
		cfg.Key = "default"
	}
	return &Session{
		cfg:        cfg,
		onWelcome:  onWelcome,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		obsNotify:  make(chan struct{}, 1),
		lastUsedAt: time.Now(),
	}
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		// Wake a blocked ReadMessage.
		s.disconnect()
		<-s.done
	})
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

func (s *Session) LastUsedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) Status() Status {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Connected:   s.connected,
		AgentID:     s.welcome.AgentID,
		WorldID:     s.welcome.WorldID,
		WorldWSURL:  s.cfg.WorldWSURL,
		LastObsTick: s.lastObsTick,
		HaveObs:     s.haveObs,
		Params:      s.welcome.WorldParams,
		Palette:     append([]string(nil), s.welcome.Palette...),
		LastError:   s.lastErr,
	}
}

func (s *Session) GetObs(ctx context.Context, opts GetObsOpts) (ObsResult, error) {
	s.touch()
	if opts.Mode == "" {
		opts.Mode = ObsModeSummary
	}
	if opts.Mode != ObsModeFull && opts.Mode != ObsModeSummary {
		return ObsResult{}, fmt.Errorf("unknown mode: %s", opts.Mode)
	}
	timeout := time.Duration(opts.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	if opts.WaitNewTick {
		if err := s.waitObsAfter(ctx, s.currentObsSeq(), timeout); err != nil {
			return ObsResult{}, err
		}
	}

	s.mu.Lock()
	have := s.haveObs
	tick := s.lastObsTick
	raw := append(json.RawMessage(nil), s.lastObsRaw...)
	agentID := s.welcome.AgentID
	results := s.results
	s.results = nil
	s.mu.Unlock()

	if !have {
		return ObsResult{AgentID: agentID}, nil
	}
	out := ObsResult{Tick: tick, AgentID: agentID, Results: results}
	if opts.Mode == ObsModeFull {
		out.Obs = raw
		return out, nil
	}
	var o protocol.ObsMsg
	if err := json.Unmarshal(raw, &o); err != nil {
		return ObsResult{}, fmt.Errorf("parse obs: %w", err)
	}
	// Results are reported once, at the top level.
	o.Results = nil
	b, _ := json.Marshal(o)
	out.Obs = b
	return out, nil
}

func (s *Session) Act(ctx context.Context, args ActArgs) (ActResult, error) {
	s.touch()
	if len(args.Actions) == 0 {
		return ActResult{}, fmt.Errorf("no actions")
	}

	actions := append([]protocol.ActionReq(nil), args.Actions...)
	ids := make([]string, len(actions))
	s.mu.Lock()
	for i := range actions {
		actions[i].Type = strings.ToUpper(strings.TrimSpace(actions[i].Type))
		if strings.TrimSpace(actions[i].ID) == "" {
			s.actSeq++
			actions[i].ID = fmt.Sprintf("mcp_%d", s.actSeq)
		}
		ids[i] = actions[i].ID
	}
	s.mu.Unlock()

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Actions:         actions,
	}
	if b, err := json.Marshal(act); err != nil {
		return ActResult{}, err
	} else if err := s.cfg.Validator.Validate(protocol.TypeAct, b); err != nil {
		return ActResult{}, fmt.Errorf("invalid act: %w", err)
	}

	// An ACT needs the agent id and a tick from a real OBS.
	if err := s.waitForFirstObs(ctx, 2*time.Second); err != nil {
		return ActResult{}, err
	}
	s.mu.RLock()
	act.Tick = s.lastObsTick
	act.AgentID = s.welcome.AgentID
	s.mu.RUnlock()
	b, err := json.Marshal(act)
	if err != nil {
		return ActResult{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ActResult{}, fmt.Errorf("not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return ActResult{}, err
	}
	return ActResult{Sent: true, TickUsed: act.Tick, AgentID: act.AgentID, ActionIDs: ids}, nil
}

func (s *Session) currentObsSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obsSeq
}

func (s *Session) waitForFirstObs(ctx context.Context, timeout time.Duration) error {
	s.mu.RLock()
	have := s.haveObs
	s.mu.RUnlock()
	if have {
		return nil
	}
	return s.waitObsAfter(ctx, 0, timeout)
}

// waitObsAfter blocks until an OBS newer than seq arrives. The first OBS of a
// world can carry tick 0, so arrival is counted rather than compared by tick.
func (s *Session) waitObsAfter(ctx context.Context, seq uint64, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if s.currentObsSeq() > seq {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if s.currentObsSeq() > seq {
				return nil
			}
			return fmt.Errorf("timeout waiting for obs")
		case <-s.obsNotify:
		}
	}
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			s.disconnect()
			return
		default:
		}

		if err := s.connectAndReadLoop(); err != nil {
			s.mu.Lock()
			s.connected = false
			s.lastErr = err.Error()
			s.mu.Unlock()
			select {
			case <-s.stop:
				s.disconnect()
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			continue
		}
		return
	}
}

func (s *Session) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.WorldWSURL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       s.cfg.Key,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 64},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastErr = ""
	// A new connection is a new agent; the old observation no longer applies.
	s.haveObs = false
	s.lastObsRaw = nil
	s.mu.Unlock()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil || w.ProtocolVersion != protocol.Version {
				continue
			}
			now := time.Now()
			s.mu.Lock()
			s.welcome = w
			s.connected = true
			s.mu.Unlock()
			if s.onWelcome != nil {
				s.onWelcome(s.cfg.Key, w, now)
			}

		case protocol.TypeAck:
			var a protocol.AckMsg
			if err := json.Unmarshal(msg, &a); err != nil || a.Accepted {
				continue
			}
			s.mu.Lock()
			s.lastErr = fmt.Sprintf("%s: %s", a.Code, a.Message)
			s.mu.Unlock()
			if a.AckFor == protocol.TypeHello {
				_ = conn.Close()
				return fmt.Errorf("join refused: %s", a.Code)
			}

		case protocol.TypeObs:
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				continue
			}
			s.mu.Lock()
			s.haveObs = true
			s.lastObsTick = o.Tick
			s.lastObsRaw = append(json.RawMessage(nil), msg...)
			s.obsSeq++
			s.results = append(s.results, o.Results...)
			if n := len(s.results); n > maxPendingResults {
				s.results = s.results[n-maxPendingResults:]
			}
			s.mu.Unlock()
			select {
			case s.obsNotify <- struct{}{}:
			default:
			}
		}
	}
}
