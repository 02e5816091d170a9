// Package fakeagent provides a fake agent server for integration tests.
//
// It serves the WebSocket endpoint at /agent and the task upload endpoint at
// /task/submit, both routed with gorilla/mux. WebSocket sessions are handled
// by the gws library.
//
// Tests drive the client by pushing events to connected sessions, and assert
// on the frames and uploads the server received. DropConnections simulates
// a network failure so reconnect paths can be exercised.
package fakeagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/gorilla/mux"
	"github.com/lxzan/gws"

	"github.com/formcanvas/sheetsync/internal/codec"
	"github.com/formcanvas/sheetsync/pkg/protocol"
)

const clientIDKey = "client_id"

// Frame is a message received from a client.
type Frame struct {
	ClientID string
	Type     string
	Raw      []byte
}

// Data returns the raw data object of the frame.
func (f Frame) Data() []byte {
	data, _, _, err := jsonparser.Get(f.Raw, "data")
	if err != nil {
		return nil
	}
	return data
}

// Submission is a recorded POST /task/submit.
type Submission struct {
	TaskID   string
	TaskType string
	ClientID string
	TableID  string
	FileName string
	Content  []byte
}

// Server is a fake agent server.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	upgrader   *gws.Upgrader

	mu          sync.RWMutex
	conns       map[*gws.Conn]string
	received    []Frame
	submissions []Submission
	connects    int

	// AutoAck sends connection_ack as soon as a session opens.
	AutoAck bool

	// OnSubmit runs after an upload was recorded and answered. Tests use it to
	// stream the task's events.
	OnSubmit func(s *Server, sub Submission)
}

type handler struct {
	server *Server
}

// NewServer creates a new fake agent server.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:    addr,
		conns:   make(map[*gws.Conn]string),
		AutoAck: true,
	}

	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
		Authorize: func(r *http.Request, session gws.SessionStorage) bool {
			id := r.URL.Query().Get(clientIDKey)
			if id == "" {
				return false
			}
			session.Store(clientIDKey, id)
			return true
		},
	})

	r := mux.NewRouter()
	r.HandleFunc("/agent", s.handleAgent).Methods(http.MethodGet)
	r.HandleFunc("/task/submit", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	}).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start starts the server and begins accepting connections.
// Returns an error if the server cannot bind to the specified address.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakeagent: server error: %v", err)
		}
	}()

	return nil
}

// Stop closes the listener and every open session.
func (s *Server) Stop() error {
	s.DropConnections()
	return s.httpServer.Close()
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// BaseURL returns the http base URL, suitable as the task endpoint.
func (s *Server) BaseURL() string {
	return "http://" + s.Address()
}

// WebSocketURL returns the ws base URL without the /agent suffix.
func (s *Server) WebSocketURL() string {
	return "ws://" + s.Address()
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		return
	}
	go socket.ReadLoop()
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 4001, "message": err.Error()})
		return
	}

	sub := Submission{
		TaskType: r.FormValue("task_type"),
		ClientID: r.FormValue("client_id"),
		TableID:  r.FormValue("table_id"),
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 4001, "message": "missing file"})
		return
	}
	defer f.Close()
	sub.FileName = hdr.Filename
	if sub.Content, err = io.ReadAll(f); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 4001, "message": err.Error()})
		return
	}

	s.mu.Lock()
	sub.TaskID = fmt.Sprintf("task-%d", len(s.submissions)+1)
	s.submissions = append(s.submissions, sub)
	onSubmit := s.OnSubmit
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":  sub.TaskID,
		"table_id": sub.TableID,
		"status":   "accepted",
	})

	if onSubmit != nil {
		go onSubmit(s, sub)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := codec.New().Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// Push sends an event to every session of clientID. An empty clientID
// broadcasts. It returns the number of sessions written to.
func (s *Server) Push(clientID string, typ protocol.EventType, data any) (int, error) {
	frame, err := protocol.Encode(protocol.NewEnvelope(typ, clientID, data))
	if err != nil {
		return 0, err
	}
	return s.PushRaw(clientID, frame)
}

// PushRaw sends frame unchanged, so tests can send malformed input.
func (s *Server) PushRaw(clientID string, frame []byte) (int, error) {
	s.mu.RLock()
	targets := make([]*gws.Conn, 0, len(s.conns))
	for c, id := range s.conns {
		if clientID == "" || id == clientID {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	var errs []error
	n := 0
	for _, c := range targets {
		if err := c.WriteMessage(gws.OpcodeText, frame); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// DropConnections closes every session's socket without a close frame.
func (s *Server) DropConnections() {
	s.mu.RLock()
	targets := make([]*gws.Conn, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		_ = c.NetConn().Close()
	}
}

// Connections returns the number of open sessions.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Connects returns how many sessions were opened over the server's lifetime.
func (s *Server) Connects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connects
}

// Received returns every frame received so far.
func (s *Server) Received() []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Frame(nil), s.received...)
}

// ReceivedOfType returns the received frames with the given type.
func (s *Server) ReceivedOfType(typ protocol.EventType) []Frame {
	var out []Frame
	for _, f := range s.Received() {
		if f.Type == string(typ) {
			out = append(out, f)
		}
	}
	return out
}

// Submissions returns every recorded upload.
func (s *Server) Submissions() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Submission(nil), s.submissions...)
}

func (h *handler) OnOpen(socket *gws.Conn) {
	id := ""
	if v, ok := socket.Session().Load(clientIDKey); ok {
		id, _ = v.(string)
	}

	h.server.mu.Lock()
	h.server.conns[socket] = id
	h.server.connects++
	autoAck := h.server.AutoAck
	h.server.mu.Unlock()

	if autoAck {
		h.send(socket, id, protocol.ConnectionAck, map[string]any{"status": "connected"})
	}
}

func (h *handler) OnClose(socket *gws.Conn, _ error) {
	h.server.mu.Lock()
	delete(h.server.conns, socket)
	h.server.mu.Unlock()
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakeagent: error writing pong: %v", err)
	}
}

func (h *handler) OnPong(*gws.Conn, []byte) {}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	raw := append([]byte(nil), message.Bytes()...)
	typ, _ := jsonparser.GetString(raw, "type")

	h.server.mu.Lock()
	id := h.server.conns[socket]
	h.server.received = append(h.server.received, Frame{ClientID: id, Type: typ, Raw: raw})
	h.server.mu.Unlock()

	switch typ {
	case string(protocol.Ping):
		h.send(socket, id, protocol.Pong, nil)
	case string(protocol.Chat), string(protocol.SyncState):
	default:
		h.send(socket, id, protocol.Error, map[string]any{
			"code":    4001,
			"message": fmt.Sprintf("unknown message type: %s", typ),
		})
	}
}

func (h *handler) send(socket *gws.Conn, clientID string, typ protocol.EventType, data any) {
	frame, err := protocol.Encode(protocol.NewEnvelope(typ, clientID, data))
	if err != nil {
		log.Printf("fakeagent: encode %s: %v", typ, err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeText, frame); err != nil {
		log.Printf("fakeagent: write %s: %v", typ, err)
	}
}
