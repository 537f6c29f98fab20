package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/describemusic/backend/internal/domain"
	"github.com/describemusic/backend/internal/service"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

const writeTimeout = 5 * time.Second

// FeedEvent is what the admin dashboard sees per applied billing event.
type FeedEvent struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	SubjectID string    `json:"subjectId"`
	UserID    string    `json:"userId,omitempty"`
	Outcome   string    `json:"outcome"`
	Credits   int64     `json:"creditsGranted,omitempty"`
	At        time.Time `json:"at"`
}

// FeedHandler streams applied billing events to connected admin clients. It
// implements service.EventPublisher. Clients that cannot keep up are dropped;
// the feed is a convenience view, the ledger is the record.
type FeedHandler struct {
	auth *service.AuthService

	mu      sync.Mutex
	clients map[*websocket.Conn]chan FeedEvent
}

// NewFeedHandler creates a new FeedHandler.
func NewFeedHandler(auth *service.AuthService) *FeedHandler {
	return &FeedHandler{
		auth:    auth,
		clients: make(map[*websocket.Conn]chan FeedEvent),
	}
}

// PublishApplied fans an applied event out to all connected clients without
// blocking the webhook path.
func (h *FeedHandler) PublishApplied(result *domain.ApplyResult) {
	ev := FeedEvent{
		EventID:   result.Event.EventID,
		EventType: string(result.Event.Type),
		SubjectID: result.Event.SubjectID,
		UserID:    result.Event.UserID,
		Outcome:   string(result.Outcome),
		At:        time.Now().UTC(),
	}
	if result.Balance != nil {
		ev.Credits = result.Balance.TotalGranted
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Slow consumer; disconnect rather than stall.
			delete(h.clients, conn)
			close(ch)
		}
	}
}

// Handle upgrades HTTP to WebSocket for the billing feed.
// URL: /api/admin/billing/feed?token=JWT_TOKEN (admin role required).
func (h *FeedHandler) Handle(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if claims.Role != "admin" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	ch := make(chan FeedEvent, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	log.Printf("🔌 Billing feed connected (user: %s)", claims.Email)

	// Reader: only there to observe disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.remove(conn)
			return
		}
	}
	conn.Close()
}

func (h *FeedHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}
