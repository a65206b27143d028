package gatewayapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/starkrun/agentcore/internal/agentloop"
	"github.com/starkrun/agentcore/internal/broadcaster"
	"github.com/starkrun/agentcore/internal/chatsession"
	"github.com/starkrun/agentcore/internal/orchestrator"
	"github.com/starkrun/agentcore/internal/toolctx"
)

// chatRequest is the shared body shape for /chat and /chat/stream (spec.md
// §6).
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// resolveSession returns the gateway session for req, creating one when
// SessionID is blank (spec.md §3 create_gateway_session: a fresh row per new
// caller).
func (s *Server) resolveSession(ctx context.Context, channelID string, req chatRequest) (*chatsession.Session, error) {
	if req.SessionID != "" {
		// The store has no direct get-by-id, so only sessions this server
		// created for channelID (tracked in sessionsByCh) are accepted.
		s.mu.Lock()
		for _, sess := range s.sessionsByCh[channelID] {
			if sess.ID == req.SessionID {
				s.mu.Unlock()
				return sess, nil
			}
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("gatewayapi: unknown session_id %q for this channel", req.SessionID)
	}

	sess, err := s.cfg.Sessions.CreateGatewaySession(ctx, "gateway", channelID, "gateway")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessionsByCh[channelID] = append(s.sessionsByCh[channelID], sess)
	s.mu.Unlock()

	return sess, nil
}

// orchestratorFor returns this turn's Orchestrator. The gateway API has no
// separate planning UI, so every turn goes straight to assistant mode
// (spec.md §4.F's planner->assistant transition, skipped rather than
// exposed over HTTP).
func (s *Server) orchestratorFor(message string) *orchestrator.Orchestrator {
	orch := orchestrator.New(message, s.log)
	orch.TransitionToAssistant()
	return orch
}

func (s *Server) runTurn(ctx context.Context, channelID string, req chatRequest) (*chatsession.Session, *agentloop.TurnResult, error) {
	sess, err := s.resolveSession(ctx, channelID, req)
	if err != nil {
		return nil, nil, err
	}

	var tc *toolctx.Context
	if s.cfg.NewToolContext != nil {
		tc = s.cfg.NewToolContext(sess.ID, sess.ID)
	} else {
		tc = &toolctx.Context{ChannelID: sess.ID, ChannelType: "gateway", SessionID: sess.ID}
	}

	res, err := s.cfg.Driver.RunTurn(ctx, agentloop.TurnRequest{
		Session:      sess,
		Orchestrator: s.orchestratorFor(req.Message),
		ToolContext:  tc,
		UserText:     req.Message,
	})
	return sess, res, err
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, channelID string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Success: false, Error: "invalid request body"})
		return
	}

	sess, res, err := s.runTurn(r.Context(), channelID, req)
	if err != nil {
		writeJSON(w, http.StatusOK, chatResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Success: true, Response: res.FinalResponse, SessionID: sess.ID})
}

// sseEventNames translates the broadcaster's dotted internal event names to
// spec.md §6's underscore-separated SSE event taxonomy.
var sseEventNames = map[string]string{
	"tool.call":           "tool_call",
	"tool.result":         "tool_result",
	"subagent.spawned":    "subagent_spawned",
	"subagent.completed":  "subagent_completed",
	"subagent.failed":     "subagent_failed",
	"subtype.change":      "subtype_change",
	"thinking":            "thinking",
	"task.started":        "task_started",
	"task.completed":      "task_completed",
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, channelID string) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sess, err := s.resolveSession(r.Context(), channelID, req)
	if err != nil {
		writeSSE(w, flusher, "done", map[string]any{"success": false, "error": err.Error()})
		return
	}

	tc := &toolctx.Context{ChannelID: sess.ID, ChannelType: "gateway", SessionID: sess.ID}
	if s.cfg.NewToolContext != nil {
		tc = s.cfg.NewToolContext(sess.ID, sess.ID)
	}

	events := make(chan sseEvent, 64)
	if s.cfg.Broadcaster != nil {
		subID, raw := s.cfg.Broadcaster.Subscribe()
		defer s.cfg.Broadcaster.Unsubscribe(subID)
		go relayBroadcastEvents(r.Context(), raw, sess.ID, events)
	}

	done := make(chan *agentloop.TurnResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := s.cfg.Driver.RunTurn(r.Context(), agentloop.TurnRequest{
			Session:      sess,
			Orchestrator: s.orchestratorFor(req.Message),
			ToolContext:  tc,
			UserText:     req.Message,
		})
		if err != nil {
			errCh <- err
			return
		}
		done <- res
	}()

	for {
		select {
		case ev := <-events:
			writeSSE(w, flusher, ev.name, ev.data)
		case res := <-done:
			writeSSE(w, flusher, "text", map[string]any{"text": res.FinalResponse})
			writeSSE(w, flusher, "done", map[string]any{"success": true, "session_id": sess.ID})
			return
		case err := <-errCh:
			writeSSE(w, flusher, "done", map[string]any{"success": false, "error": err.Error()})
			return
		case <-r.Context().Done():
			return
		}
	}
}

type sseEvent struct {
	name string
	data map[string]any
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data map[string]any) {
	payload, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

// relayBroadcastEvents forwards broadcaster events scoped to sessionID (the
// toolctx channel id a gateway turn uses) onto events, translating event
// names per sseEventNames and dropping anything unmapped or out of scope.
func relayBroadcastEvents(ctx context.Context, raw <-chan broadcaster.Event, sessionID string, events chan<- sseEvent) {
	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				return
			}
			if chID, _ := ev.Data["channel_id"].(string); chID != "" && chID != sessionID {
				continue
			}
			name, ok := sseEventNames[ev.Event]
			if !ok {
				continue
			}
			select {
			case events <- sseEvent{name: name, data: ev.Data}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}
