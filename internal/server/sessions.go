package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/pkg/recite"
)

type startSessionRequest struct {
	PassageID string `json:"passage_id"`
}

type tokensRequest struct {
	Tokens []string `json:"tokens"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PassageID == "" {
		writeError(w, r, badRequest("passage_id is required"))
		return
	}
	info, err := s.sessions.Start(r.Context(), req.PassageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateTranscript(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.sessions.Update(r.Context(), r.PathValue("id"), req.Tokens)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAppendTokens(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.sessions.Append(r.Context(), r.PathValue("id"), req.Tokens...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSessionResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.Result(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stream frame types.
const (
	frameFinal    = "final"
	frameInterim  = "interim"
	frameReset    = "reset"
	frameProgress = "progress"
	frameError    = "error"
)

// clientFrame is a message sent by a stream client.
type clientFrame struct {
	Type   string   `json:"type"`
	Tokens []string `json:"tokens,omitempty"`
}

// progressFrame is the server reply after every accepted client frame.
type progressFrame struct {
	Type    string `json:"type"`
	Interim bool   `json:"interim,omitempty"`
	recite.Progress
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// handleStream upgrades to a WebSocket and feeds recognised tokens into the
// session. Final frames are committed, interim frames only previewed.
// Malformed frames get an error reply and the stream stays open.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	// Fail before the upgrade so plain HTTP clients see a 404.
	if _, err := s.sessions.Get(id); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		// Accept has already written an error response.
		observe.Logger(r.Context()).Warn("stream: websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := observe.Logger(ctx).With("session_id", id)
	log.Debug("stream opened")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Debug("stream closed by client")
			} else if !errors.Is(err, ctx.Err()) {
				log.Warn("stream read failed", "err", err)
			}
			return
		}

		reply := s.applyFrame(r, id, typ, data)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			log.Warn("stream write failed", "err", err)
			return
		}
		if e, ok := reply.(errorFrame); ok && e.Error == errSessionGone {
			_ = conn.Close(websocket.StatusPolicyViolation, errSessionGone)
			return
		}
	}
}

const errSessionGone = "session ended"

func (s *Server) applyFrame(r *http.Request, id string, typ websocket.MessageType, data []byte) any {
	if typ != websocket.MessageText {
		return errorFrame{Type: frameError, Error: "frames must be JSON text messages"}
	}
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return errorFrame{Type: frameError, Error: "malformed frame: " + err.Error()}
	}

	ctx := r.Context()
	var (
		p   recite.Progress
		err error
	)
	switch f.Type {
	case frameFinal:
		p, err = s.sessions.Append(ctx, id, f.Tokens...)
	case frameInterim:
		p, err = s.sessions.Preview(ctx, id, f.Tokens)
	case frameReset:
		p, err = s.sessions.Reset(ctx, id)
	default:
		return errorFrame{Type: frameError, Error: "unknown frame type " + quote(f.Type)}
	}
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			return errorFrame{Type: frameError, Error: errSessionGone}
		}
		return errorFrame{Type: frameError, Error: err.Error()}
	}
	return progressFrame{Type: frameProgress, Interim: f.Type == frameInterim, Progress: p}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
