package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tatianab/terranaut/internal/advisor"
	"github.com/tatianab/terranaut/internal/engine"
)

type chatReq struct {
	Message     string `json:"message"`
	IncludeData bool   `json:"includeData"`
	Location    string `json:"location"`
	SessionID   string `json:"game_session_id"`
}

type chatDelta struct {
	Content string `json:"content"`
}

type chatChoice struct {
	Delta chatDelta `json:"delta"`
	Index int       `json:"index"`
}

type chatChunk struct {
	Choices []chatChoice `json:"choices"`
}

func chunkJSON(text string) []byte {
	b, _ := json.Marshal(chatChunk{Choices: []chatChoice{{Delta: chatDelta{Content: text}}}})
	return b
}

// chatRequest adds the session's farm context when asked to and the
// caller owns the session.
func (s *Server) chatRequest(r *http.Request, req chatReq) advisor.ChatRequest {
	out := advisor.ChatRequest{Message: req.Message, Location: req.Location}
	if !req.IncludeData {
		return out
	}
	id := s.callerSession(r, req.SessionID)
	if id == "" {
		return out
	}
	if sess, err := s.session(r.Context(), id); err == nil {
		setup := sess.Setup
		out.Farm = &setup
		out.State = sess.State()
		out.History = sess.Messages(engine.MessageTail)
	}
	return out
}

// handleChat streams the advisor reply as server-sent events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatReq
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.Message == "" {
		s.fail(w, fmt.Errorf("%w: message is required", errBadRequest))
		return
	}
	stream, err := s.advisor.Chat(r.Context(), s.chatRequest(r, req))
	if err != nil {
		s.fail(w, err)
		return
	}
	// The first chunk is read before any header is written.
	first, err := stream.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, err)
		return
	}
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(payload []byte) {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}
	for chunk := first; err == nil; chunk, err = stream.Next() {
		send(chunkJSON(chunk))
	}
	if !errors.Is(err, io.EOF) {
		s.logf("chat stream: %v", err)
		msg := advisor.UserMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		b, _ := json.Marshal(map[string]string{"error": msg})
		send(b)
	}
	send([]byte("[DONE]"))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleChatWS answers each chat request frame with chunk frames and a final [DONE].
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		var req chatReq
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := s.streamWS(conn, r, req); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				s.logf("chat ws: %v", err)
			}
			return
		}
	}
}

func (s *Server) streamWS(conn *websocket.Conn, r *http.Request, req chatReq) error {
	write := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	writeErr := func(err error) error {
		msg := advisor.UserMessage(err)
		if msg == "" {
			msg = err.Error()
		}
		b, _ := json.Marshal(map[string]string{"error": msg})
		if werr := write(b); werr != nil {
			return werr
		}
		return write([]byte("[DONE]"))
	}

	stream, err := s.advisor.Chat(r.Context(), s.chatRequest(r, req))
	if err != nil {
		return writeErr(err)
	}
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return write([]byte("[DONE]"))
		}
		if err != nil {
			return writeErr(err)
		}
		if err := write(chunkJSON(chunk)); err != nil {
			return err
		}
	}
}
