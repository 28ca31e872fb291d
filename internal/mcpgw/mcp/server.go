// Package mcp exposes a boxcraft agent to tool-calling clients over a small
// JSON-RPC surface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"boxcraft.dev/internal/mcpgw/bridge"
)

const (
	ToolGetStatus  = "boxcraft.get_status"
	ToolGetObs     = "boxcraft.get_obs"
	ToolAct        = "boxcraft.act"
	ToolDisconnect = "boxcraft.disconnect"
)

type Bridge interface {
	GetStatus(ctx context.Context, sessionKey string) (bridge.Status, error)
	GetObs(ctx context.Context, sessionKey string, opts bridge.GetObsOpts) (bridge.ObsResult, error)
	Act(ctx context.Context, sessionKey string, args bridge.ActArgs) (bridge.ActResult, error)
	Disconnect(ctx context.Context, sessionKey string) error
}

type Config struct {
	Bridge     Bridge
	HMACSecret string
	Logger     *log.Logger
}

type Server struct {
	bridge     Bridge
	hmacSecret []byte
	replay     *replayGuard
	logger     *log.Logger
	now        func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("nil bridge")
	}
	s := &Server{
		bridge: cfg.Bridge,
		logger: cfg.Logger,
		now:    time.Now,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(0)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	sessionKey := strings.TrimSpace(r.Header.Get(headerAgentID))
	if len(s.hmacSecret) > 0 {
		now := s.now()
		vr := verifyHMAC(r, body, s.hmacSecret, now)
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.replay.allow(vr.SessionKey, vr.Nonce, now) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
		sessionKey = vr.SessionKey
	} else if err := requireLoopback(r); err != nil {
		http.Error(rw, err.Error(), http.StatusForbidden)
		return
	}
	if sessionKey == "" {
		sessionKey = "default"
	}

	req, perr := parseRPCRequest(body)
	var resp rpcResponse
	switch {
	case perr != nil:
		resp = rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: perr}
	case req.notification():
		rw.WriteHeader(http.StatusAccepted)
		return
	default:
		resp = s.dispatch(r.Context(), sessionKey, req)
	}
	if resp.Error != nil && s.logger != nil {
		s.logger.Printf("session=%s method=%s code=%d err=%s", sessionKey, req.Method, resp.Error.Code, resp.Error.Message)
	}
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sessionKey string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "list_tools", "tools/list":
		return rpcOK(req.ID, map[string]any{"tools": toolsList()})

	case "call_tool", "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		if !isKnownTool(p.Name) {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		out, err := s.callTool(ctx, sessionKey, p.Name, p.Arguments)
		if err != nil {
			return rpcErr(req.ID, codeToolFailed, err.Error(), nil)
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

func toolsList() []map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
	action := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"type":    map[string]any{"type": "string", "enum": []string{"PLACE", "BREAK", "MOVE", "JUMP", "LOOK"}},
			"kind":    map[string]any{"type": "string"},
			"forward": map[string]any{"type": "number"},
			"strafe":  map[string]any{"type": "number"},
			"yaw":     map[string]any{"type": "number"},
			"pitch":   map[string]any{"type": "number"},
		},
		"required": []string{"type"},
	}
	return []map[string]any{
		{
			"name":        ToolGetStatus,
			"description": "Connection state, agent id and world parameters of this session.",
			"inputSchema": empty,
		},
		{
			"name":        ToolGetObs,
			"description": "Latest OBS plus action results since the last call. Optionally waits for a newer tick.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode":          map[string]any{"type": "string", "enum": []string{"full", "summary"}},
					"wait_new_tick": map[string]any{"type": "boolean"},
					"timeout_ms":    map[string]any{"type": "integer"},
				},
			},
		},
		{
			"name":        ToolAct,
			"description": "Send actions for the next tick. Tick, agent id and missing action ids are filled in.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"actions": map[string]any{"type": "array", "items": action, "minItems": 1},
				},
				"required": []string{"actions"},
			},
		},
		{
			"name":        ToolDisconnect,
			"description": "Drop the world connection. The next call joins as a new agent.",
			"inputSchema": empty,
		},
	}
}

func (s *Server) callTool(ctx context.Context, sessionKey string, name string, args json.RawMessage) (any, error) {
	switch name {
	case ToolGetStatus:
		return s.bridge.GetStatus(ctx, sessionKey)

	case ToolGetObs:
		var o bridge.GetObsOpts
		if len(args) > 0 {
			if err := json.Unmarshal(args, &o); err != nil {
				return nil, fmt.Errorf("bad arguments: %w", err)
			}
		}
		return s.bridge.GetObs(ctx, sessionKey, o)

	case ToolAct:
		var a bridge.ActArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("bad arguments: %w", err)
			}
		}
		if len(a.Actions) == 0 {
			return nil, fmt.Errorf("missing actions")
		}
		return s.bridge.Act(ctx, sessionKey, a)

	case ToolDisconnect:
		if err := s.bridge.Disconnect(ctx, sessionKey); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func isKnownTool(name string) bool {
	switch name {
	case ToolGetStatus, ToolGetObs, ToolAct, ToolDisconnect:
		return true
	}
	return false
}
