package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/task"
)

// handleStream serves message/stream: the message is submitted and
// lifecycle events stream back as SSE, each data line a JSON-RPC
// response. The stream is finite; it ends after the final event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	p, text, err := parseSend(req.Params)
	if err != nil {
		s.writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, req.ID, codeInvalidRequest, "streaming not supported by transport")
		return
	}

	snap, err := s.mgr.Submit(p.ContextID, text)
	if err != nil {
		s.writeSubmitError(w, req.ID, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, err := s.mgr.Stream(ctx, snap.ID)
	if err != nil {
		s.writeError(w, req.ID, codeInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(result any) {
		s.writeSSE(w, flusher, req.ID, result)
	}

	send(statusUpdate{
		TaskID:    snap.ID,
		ContextID: snap.ContextID,
		Status: wireStatus{
			State:     string(snap.State),
			Timestamp: snap.UpdatedAt.UTC().Format(time.RFC3339),
		},
		Kind: "status-update",
	})

	ticker := time.NewTicker(quiescencePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := s.mgr.Get(snap.ID)
			if err != nil {
				return
			}
			if cur.State.Terminal() || cur.State == task.StateInputRequired {
				s.sendFinal(send, cur)
				return
			}
		case e, ok := <-ch:
			if !ok {
				if cur, err := s.mgr.Get(snap.ID); err == nil {
					s.sendFinal(send, cur)
				}
				return
			}
			if done := s.sendEvent(send, snap, e); done {
				return
			}
		}
	}
}

// sendEvent maps one bus event onto the wire. It returns true once the
// final event has been sent.
func (s *Server) sendEvent(send func(any), snap task.Snapshot, e events.Event) bool {
	working := wireStatus{State: string(task.StateWorking), Timestamp: e.Timestamp.UTC().Format(time.RFC3339)}

	switch e.Kind {
	case events.KindChunk:
		text, _ := e.Data["text"].(string)
		if text == "" {
			return false
		}
		st := working
		st.Message = &wireMessage{
			Role:  "agent",
			Parts: []Part{{Kind: "text", Text: text}},
		}
		send(statusUpdate{TaskID: snap.ID, ContextID: snap.ContextID, Status: st, Kind: "status-update"})

	case events.KindCapabilityInvoked:
		name, _ := e.Data["capability"].(string)
		st := working
		st.Message = &wireMessage{
			Role:  "agent",
			Parts: []Part{{Kind: "text", Text: fmt.Sprintf("Searching for information with %s...", name)}},
		}
		send(statusUpdate{TaskID: snap.ID, ContextID: snap.ContextID, Status: st, Kind: "status-update"})

	case events.KindCapabilityResult:
		st := working
		st.Message = &wireMessage{
			Role:  "agent",
			Parts: []Part{{Kind: "text", Text: "Processing the results..."}},
		}
		send(statusUpdate{TaskID: snap.ID, ContextID: snap.ContextID, Status: st, Kind: "status-update"})

	case events.KindFinalAnswer:
		answer, _ := e.Data["answer"].(string)
		send(artifactUpdate{
			TaskID:    snap.ID,
			ContextID: snap.ContextID,
			Artifact:  renderArtifact(snap.ID, answer),
			Kind:      "artifact-update",
		})

	case events.KindStateChanged:
		state, _ := e.Data["state"].(string)
		if task.State(state).Terminal() || task.State(state) == task.StateInputRequired {
			if cur, err := s.mgr.Get(snap.ID); err == nil {
				s.sendFinalStatus(send, cur)
				return true
			}
			return true
		}
		st := wireStatus{State: state, Timestamp: e.Timestamp.UTC().Format(time.RFC3339)}
		send(statusUpdate{TaskID: snap.ID, ContextID: snap.ContextID, Status: st, Kind: "status-update"})
	}
	return false
}

// sendFinal emits the artifact (when completed) plus the closing
// status event. Used on the fallback paths where the bus events were
// missed.
func (s *Server) sendFinal(send func(any), cur task.Snapshot) {
	if cur.State == task.StateCompleted && cur.Answer != "" {
		send(artifactUpdate{
			TaskID:    cur.ID,
			ContextID: cur.ContextID,
			Artifact:  renderArtifact(cur.ID, cur.Answer),
			Kind:      "artifact-update",
		})
	}
	s.sendFinalStatus(send, cur)
}

func (s *Server) sendFinalStatus(send func(any), cur task.Snapshot) {
	wt := wireSnapshot(cur, false)
	send(statusUpdate{
		TaskID:    cur.ID,
		ContextID: cur.ContextID,
		Status:    wt.Status,
		Final:     true,
		Kind:      "status-update",
	})
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, id json.RawMessage, result any) {
	data, err := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}
