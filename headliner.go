// Headliner
//
// Each turn, every player in a room composes a title for an imaginary story
// from exactly two of the seven cards in their hand. Submissions are read to
// the room (without revealing which cards built them), players vote on their
// favorite, and once everyone signals readiness the turn advances: played
// cards are scored and recycled, hands are refilled from the room's deck,
// and a new round of titles begins.
//
// Features:
// - WebSockets per room ID: /play/:roomid and /play/:roomid/ws
// - Rooms created on first reference, reaped after a configurable idle period
// - Hands drawn from a per-room shuffled copy of the card catalog
// - Discarded and played cards recycled into the deck when it runs dry
// - One vote per player per turn; a repeat vote moves the earlier choice
// - Turn barrier: all players ready before the turn advances, exactly once
// - Optional turn limit ending the game with final standings
// - Random 8-char room IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current room, backed by go-qrcode

package main

import (
	_ "embed"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is every inbound event; Type selects which fields matter.
type ClientMessage struct {
	Type       string `json:"type"`                 // "join-room", "submit-title", "vote", "discard-card", "request-hand", "ready-for-next-turn"
	PlayerName string `json:"playerName,omitempty"` // all events
	Title      string `json:"title,omitempty"`      // submit-title
	UsedCards  []Card `json:"usedCards,omitempty"`  // submit-title (exactly two)
	Card       Card   `json:"card,omitempty"`       // discard-card
	TargetName string `json:"targetName,omitempty"` // vote
}

// HandMessage is sent to a single player whenever their hand changes.
type HandMessage struct {
	Type string `json:"type"` // "deal-hand"
	Hand []Card `json:"hand"`
	Turn int    `json:"turn"`
}

// RosterMessage announces the current roster to the whole room.
type RosterMessage struct {
	Type    string   `json:"type"` // "players-in-room"
	Players []string `json:"players"`
}

// TitleSubmittedMessage announces a submission without revealing its cards.
type TitleSubmittedMessage struct {
	Type       string `json:"type"` // "title-submitted"
	PlayerName string `json:"playerName"`
	Title      string `json:"title"`
}

// SignalMessage covers the bare room-wide signals ("all-voted").
type SignalMessage struct {
	Type string `json:"type"`
}

// PlayerReadyMessage announces a player's first readiness signal.
type PlayerReadyMessage struct {
	Type       string `json:"type"` // "player-ready-next"
	PlayerName string `json:"playerName"`
}

// NextTurnMessage announces an advanced turn to the whole room.
type NextTurnMessage struct {
	Type string `json:"type"` // "next-turn"
	Turn int    `json:"turn"`
}

// GameOverMessage carries final standings once the turn limit is reached.
type GameOverMessage struct {
	Type      string     `json:"type"` // "game-over"
	Standings []standing `json:"standings"`
}

// ErrorMessage is sent only to the offending connection.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func handMessage(hand []Card, turn int) HandMessage {
	out := make([]Card, len(hand))
	copy(out, hand)
	return HandMessage{Type: "deal-hand", Hand: out, Turn: turn}
}

func rosterMessage(players []string) RosterMessage {
	out := make([]string, len(players))
	copy(out, players)
	return RosterMessage{Type: "players-in-room", Players: out}
}

func titleSubmittedMessage(playerName, title string) TitleSubmittedMessage {
	return TitleSubmittedMessage{Type: "title-submitted", PlayerName: playerName, Title: title}
}

func allVotedMessage() SignalMessage {
	return SignalMessage{Type: "all-voted"}
}

func playerReadyMessage(playerName string) PlayerReadyMessage {
	return PlayerReadyMessage{Type: "player-ready-next", PlayerName: playerName}
}

func nextTurnMessage(turn int) NextTurnMessage {
	return NextTurnMessage{Type: "next-turn", Turn: turn}
}

func gameOverMessage(standings []standing) GameOverMessage {
	return GameOverMessage{Type: "game-over", Standings: standings}
}

func errorMessage(text string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: text}
}

type client struct {
	conn *websocket.Conn
	send chan any
	id   string // connection id, for logs
	name string // player name, set by the room loop on join
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForManager upgrades the connection and attaches it to the room
// named in the URL; the socket itself is the connection→room binding.
func serveWSForManager(cfg *Config, mgr *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		rm := mgr.getRoom(cfg, roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
		}

		logf(cfg, "ROOMS: Connection %s opened to %s from %s", c.id, roomID, realIP(r))

		rm.register <- c

		go c.writePump()
		c.readPump(rm)
	}
}

func (c *client) readPump(rm *room) {
	defer func() {
		rm.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join-room":
			rm.joins <- roomEvent{client: c, msg: msg}
		case "submit-title", "vote", "discard-card", "request-hand":
			rm.actions <- roomEvent{client: c, msg: msg}
		case "ready-for-next-turn":
			rm.readies <- roomEvent{client: c, msg: msg}
		default:
			// ignore unknown types
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// roomState is the read-only JSON summary served over plain HTTP.
type roomState struct {
	RoomID    string     `json:"roomId"`
	Players   []string   `json:"players"`
	Turn      int        `json:"turn"`
	Phase     string     `json:"phase"`
	DeckSize  int        `json:"deckSize"`
	Standings []standing `json:"standings"`
	CreatedAt time.Time  `json:"createdAt"`
}

// serveRoomState reports on a room without creating one: an unknown room id
// is a 404, never a fresh room.
func serveRoomState(cfg *Config, mgr *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		rm, ok := mgr.lookup(ps.ByName("roomid"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no such room"})
			return
		}

		rm.mu.RLock()
		state := roomState{
			RoomID:    rm.id,
			Players:   append([]string(nil), rm.roster...),
			Turn:      rm.turn,
			Phase:     rm.phase.String(),
			DeckSize:  len(rm.deck),
			Standings: rm.standingsLocked(),
			CreatedAt: rm.createdAt,
		}
		rm.mu.RUnlock()

		_ = json.NewEncoder(w).Encode(state)
	}
}

// qrHandler generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

//go:embed headliner/index.html
var indexHTML []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

// redirectNewRoom handles GET /play by generating a new random room ID
// (with server-side collision detection) and redirecting to /play/:roomid.
func redirectNewRoom(cfg *Config, path string, mgr *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := mgr.newRoomID()
		logf(cfg, "ROOMS: Redirecting to new room %s%s/%s", cfg.prefix, path, roomID)
		http.Redirect(w, r, cfg.prefix+path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerHeadlinerGame sets up routes so that:
//   - $path                  → redirects to new random room (8-char ID)
//   - $path/:roomid          → HTML client
//   - $path/:roomid/ws       → WebSocket for that room
//   - $path/:roomid/qr       → PNG QR code for that room URL
//   - $path/:roomid/state    → JSON room summary (read-only)
func registerHeadlinerGame(cfg *Config, catalog []Card, path string, mux *httprouter.Router) {
	mgr := newRoomManager(catalog, cfg.sessionTimeout)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, path, mgr))

	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	mux.GET(cfg.prefix+path+"/:roomid/ws", serveWSForManager(cfg, mgr))

	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	mux.GET(cfg.prefix+path+"/:roomid/state", serveRoomState(cfg, mgr))
}
