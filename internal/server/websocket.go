package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coedit/coedit/internal/core/collab"
	"github.com/coedit/coedit/internal/core/observability/log"
	"github.com/coedit/coedit/pkg/concurrent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const writeTimeout = 10 * time.Second

// clientMessage is a frame from an editing client.
type clientMessage struct {
	Action string `json:"action"` // operation | batch | undo | redo | cursor
	// operation fields
	Type  collab.OpType `json:"type,omitempty"`
	Field string        `json:"field,omitempty"`
	Value any           `json:"value,omitempty"`
	// batch
	Operations []collab.OperationRequest `json:"operations,omitempty"`
	// cursor
	Offset int `json:"offset,omitempty"`
}

// serverMessage is a frame to an editing client: a live notification, an ack
// for the client's own request, or an error.
type serverMessage struct {
	Type        string               `json:"type"` // change | presence | ack | error | sync-response
	SessionID   string               `json:"sessionId,omitempty"`
	Operation   *collab.Operation    `json:"operation,omitempty"`
	Batch       *collab.Batch        `json:"batch,omitempty"`
	Participant *collab.Participant  `json:"participant,omitempty"`
	Sync        *collab.SyncEnvelope `json:"sync,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// send serializes concurrent writers; gorilla allows only one at a time.
func (c *wsClient) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

type room struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type roomSet struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger log.Log
}

func newRoomSet(logger log.Log) *roomSet {
	return &roomSet{rooms: make(map[string]*room), logger: logger}
}

func (rs *roomSet) getOrCreate(sessionID string) *room {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.rooms[sessionID]; ok {
		return r
	}
	r := &room{clients: make(map[*wsClient]struct{})}
	rs.rooms[sessionID] = r
	return r
}

func (rs *roomSet) broadcast(sessionID string, msg serverMessage) {
	rs.mu.Lock()
	r, ok := rs.rooms[sessionID]
	rs.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	clients := make([]*wsClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	concurrent.ForEachMute(clients, func(c *wsClient) error {
		return c.send(msg)
	})
}

func (rs *roomSet) closeAll() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, r := range rs.rooms {
		r.mu.Lock()
		for c := range r.clients {
			_ = c.conn.Close()
		}
		r.mu.Unlock()
	}
	rs.rooms = make(map[string]*room)
}

// handleWebSocket upgrades /ws?session=<id>&user=<id>&name=<display> into a
// live editing connection: the client is joined to the session, seeded with
// a sync-response frame, then its frames drive the engine until it hangs up.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	userID := r.URL.Query().Get("user")
	name := r.URL.Query().Get("name")
	if sessionID == "" || userID == "" {
		http.Error(w, "session and user are required", http.StatusBadRequest)
		return
	}

	if _, err := s.manager.Join(sessionID, userID, name); err != nil {
		writeEngineError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	room := s.rooms.getOrCreate(sessionID)
	room.mu.Lock()
	room.clients[client] = struct{}{}
	room.mu.Unlock()

	env, err := s.manager.SyncState(sessionID)
	if err == nil {
		_ = client.send(serverMessage{Type: "sync-response", SessionID: sessionID, Sync: env})
	}

	s.logger.Debug("websocket client connected",
		log.String("session_id", sessionID),
		log.String("user", userID),
	)

	defer func() {
		room.mu.Lock()
		delete(room.clients, client)
		room.mu.Unlock()
		_ = conn.Close()
		if err := s.manager.Leave(sessionID, userID); err != nil && !errors.Is(err, collab.ErrSessionNotFound) {
			s.logger.Warn("leave on disconnect failed", log.Error(err))
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.dispatch(client, sessionID, userID, msg)
	}
}

func (s *Server) dispatch(client *wsClient, sessionID, userID string, msg clientMessage) {
	var reply serverMessage

	switch msg.Action {
	case "operation":
		op, err := s.manager.Apply(sessionID, collab.OperationRequest{
			Type:     msg.Type,
			Field:    msg.Field,
			Value:    msg.Value,
			AuthorID: userID,
		})
		reply = ackOrError(sessionID, err)
		reply.Operation = op
	case "batch":
		batch, err := s.manager.ApplyBatch(sessionID, userID, msg.Operations)
		reply = ackOrError(sessionID, err)
		reply.Batch = batch
	case "undo":
		batch, err := s.manager.Undo(sessionID, userID)
		reply = ackOrError(sessionID, err)
		reply.Batch = batch
	case "redo":
		batch, err := s.manager.Redo(sessionID, userID)
		reply = ackOrError(sessionID, err)
		reply.Batch = batch
	case "cursor":
		err := s.manager.UpdateCursor(sessionID, userID, msg.Field, msg.Offset)
		reply = ackOrError(sessionID, err)
	default:
		reply = serverMessage{Type: "error", SessionID: sessionID, Error: "unknown action"}
	}

	if err := client.send(reply); err != nil {
		s.logger.Debug("websocket reply failed", log.Error(err))
	}
}

func ackOrError(sessionID string, err error) serverMessage {
	if err != nil {
		return serverMessage{Type: "error", SessionID: sessionID, Error: err.Error()}
	}
	return serverMessage{Type: "ack", SessionID: sessionID}
}
