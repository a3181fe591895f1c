package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xhad/docrag/internal/models"
	"github.com/xhad/docrag/pkg/apperr"
	"github.com/xhad/docrag/pkg/ingest"
	"github.com/xhad/docrag/pkg/query"
)

const maxBodyBytes = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Streamer produces a completion incrementally; *llm.ChatEngine satisfies it.
type Streamer interface {
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string) <-chan string
}

type Config struct {
	Streaming bool
}

type Server struct {
	config    Config
	responder *query.Responder
	ingestor  *ingest.Ingestor
	streamer  Streamer
	logger    *log.Logger
}

// New wires the HTTP front door. streamer may be nil, in which case
// websocket answers are sent in one message.
func New(config Config, responder *query.Responder, ingestor *ingest.Ingestor, streamer Streamer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		config:    config,
		responder: responder,
		ingestor:  ingestor,
		streamer:  streamer,
		logger:    logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

type queryResponse struct {
	Status  string                  `json:"status"`
	Answer  string                  `json:"answer"`
	Matches []models.RetrievalMatch `json:"matches"`
}

type errorResponse struct {
	Status  string      `json:"status"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := s.responder.Answer(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Status:  "ok",
		Answer:  resp.Answer,
		Matches: resp.Matches,
	})
}

type ingestRequest struct {
	Notifications []models.Notification `json:"notifications"`
}

type ingestResult struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	State   string `json:"state"`
	Records int    `json:"records"`
	NoOp    bool   `json:"noop,omitempty"`
	Warning string `json:"warning,omitempty"`
}

type ingestResponse struct {
	Status  string         `json:"status"`
	Results []ingestResult `json:"results"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	for _, n := range req.Notifications {
		if n.Bucket == "" || n.Key == "" {
			s.writeError(w, apperr.New(apperr.KindInvalidRequest, "ingest", "every notification needs a bucket and a key"))
			return
		}
	}

	results, err := s.ingestor.HandleNotifications(r.Context(), req.Notifications)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := ingestResponse{Status: "ok", Results: make([]ingestResult, len(results))}
	for i, res := range results {
		out.Results[i] = ingestResult{
			Bucket:  res.Bucket,
			Key:     res.Key,
			State:   res.State.String(),
			Records: res.Written,
			NoOp:    res.NoOp,
		}
		if res.CleanupErr != nil {
			out.Results[i].Warning = res.CleanupErr.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Status: "error", Kind: kind, Message: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindInvalidRequest, "decode", "request body is empty")
		}
		return apperr.Wrap(apperr.KindInvalidRequest, "decode", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msgType, content string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.WriteJSON(Message{Type: msgType, Content: content, Data: data})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := &wsConn{Conn: ws}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("Error reading message: %v", err)
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, conn, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *wsConn, msg Message) {
	s.sendMessage(conn, "status", "Searching documents...", nil)

	prompt, err := s.responder.Prepare(ctx, query.Request{Query: msg.Content})
	if err != nil {
		s.sendMessage(conn, "error", err.Error(), errorResponse{Status: "error", Kind: apperr.KindOf(err), Message: err.Error()})
		return
	}
	s.sendMessage(conn, "status", fmt.Sprintf("Found %d relevant passages", len(prompt.Matches)), prompt.Matches)

	if s.config.Streaming && s.streamer != nil {
		for chunk := range s.streamer.CompleteStream(ctx, prompt.System, prompt.User) {
			if strings.HasPrefix(chunk, "Error:") {
				s.sendMessage(conn, "error", chunk, nil)
				return
			}
			s.sendMessage(conn, "stream", chunk, nil)
		}
		s.sendMessage(conn, "done", "", nil)
		return
	}

	resp, err := s.responder.Complete(ctx, prompt)
	if err != nil {
		s.sendMessage(conn, "error", err.Error(), nil)
		return
	}
	s.sendMessage(conn, "response", resp.Answer, resp.Matches)
}

func (s *Server) sendMessage(conn *wsConn, msgType, content string, data interface{}) {
	if err := conn.send(msgType, content, data); err != nil {
		s.logger.Printf("Error sending message: %v", err)
	}
}
