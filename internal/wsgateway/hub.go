package wsgateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write so one stuck socket cannot delay
// its session's writer indefinitely.
const writeWait = 10 * time.Second

// session wraps one WebSocket connection. Writes are serialized through
// the session mutex; the connection permits only one concurrent writer.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn}
}

func (s *session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// gameStatus is the single-valued broadcastable game state.
type gameStatus struct {
	State       string
	LastUpdated string
	UpdatedBy   string
}

// hub owns the forward and reverse session maps plus the game status. One
// mutex covers all three so the maps can never diverge and status updates
// serialize with broadcasts.
type hub struct {
	mu       sync.Mutex
	open     map[*session]struct{}
	byPlayer map[string]*session
	players  map[*session]string
	status   gameStatus
}

func newHub() *hub {
	return &hub{
		open:     make(map[*session]struct{}),
		byPlayer: make(map[string]*session),
		players:  make(map[*session]string),
		status: gameStatus{
			State:       "start",
			LastUpdated: time.Now().UTC().Format(time.RFC3339),
			UpdatedBy:   "system",
		},
	}
}

// register binds the player to the session. A prior session for the same
// player loses only its reverse mapping; it is left to close naturally.
func (h *hub) register(playerID string, sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prior, ok := h.byPlayer[playerID]; ok && prior != sess {
		delete(h.players, prior)
	}
	if oldPlayer, ok := h.players[sess]; ok && oldPlayer != playerID {
		if h.byPlayer[oldPlayer] == sess {
			delete(h.byPlayer, oldPlayer)
		}
	}
	h.byPlayer[playerID] = sess
	h.players[sess] = playerID
}

// track adds a newly opened session before it registers.
func (h *hub) track(sess *session) {
	h.mu.Lock()
	h.open[sess] = struct{}{}
	h.mu.Unlock()
}

// drop removes the session from all maps on close or error.
func (h *hub) drop(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.open, sess)
	if playerID, ok := h.players[sess]; ok {
		delete(h.players, sess)
		if h.byPlayer[playerID] == sess {
			delete(h.byPlayer, playerID)
		}
	}
}

// playerOf resolves the registered player for a session.
func (h *hub) playerOf(sess *session) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	playerID, ok := h.players[sess]
	return playerID, ok
}

// sessionOf resolves the live session for a player.
func (h *hub) sessionOf(playerID string) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.byPlayer[playerID]
	return sess, ok
}

// setStatus updates the game status and returns the new value.
func (h *hub) setStatus(state, updatedBy string) gameStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = gameStatus{
		State:       state,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		UpdatedBy:   updatedBy,
	}
	return h.status
}

// currentStatus returns the game status.
func (h *hub) currentStatus() gameStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// snapshot returns every open session. Callers write to the sockets
// outside the lock.
func (h *hub) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := make([]*session, 0, len(h.open))
	for sess := range h.open {
		sessions = append(sessions, sess)
	}
	return sessions
}
