package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage represents a command from the client
type WSMessage struct {
	Action         string `json:"action"`
	PlayerID       int64  `json:"player_id,omitempty"`
	TargetPlayerID int64  `json:"target_player_id,omitempty"`
	Role           string `json:"role,omitempty"`
	Name           string `json:"name,omitempty"`
}

// WSReply is what the server pushes back: either a fresh snapshot, a
// deletion notice, or an error for the issuing client.
type WSReply struct {
	Type  string        `json:"type"` // game_update | game_deleted | error
	Kind  string        `json:"kind,omitempty"`
	Error string        `json:"error,omitempty"`
	Game  *GameSnapshot `json:"game,omitempty"`
}

// Client represents a websocket connection subscribed to one game
type Client struct {
	conn     *websocket.Conn
	gameID   int64
	identity string
	writeMu  sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// Hub tracks websocket subscribers per game and implements Notifier:
// every committed mutation fans out as a full (per-viewer redacted)
// snapshot to everyone watching that game.
type Hub struct {
	engine     *Engine
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub(engine *Engine) *Hub {
	return &Hub{
		engine:     engine,
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *Hub) run() {
	h.wg.Add(1)
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected to game %d. Total: %d", client.gameID, total)
			DebugLog("hub.register", "Client subscribed to game %d", client.gameID)
			// Initial state so the client does not wait for the next change
			h.sendSnapshot(client)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister", "Client left game %d", client.gameID)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", total)
		}
	}
}

// GameChanged implements Notifier. The snapshot is loaded once and
// redacted per viewer; a missing game becomes a deletion notice.
func (h *Hub) GameChanged(gameID int64) {
	snap, err := h.engine.Snapshot(gameID)
	deleted := err != nil && errKind(err) == KindNotFound
	if err != nil && !deleted {
		log.Printf("hub: snapshot for game %d: %v", gameID, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.gameID != gameID {
			continue
		}
		if deleted {
			h.send(client, WSReply{Type: "game_deleted"})
			continue
		}
		h.send(client, WSReply{Type: "game_update", Game: redactSnapshot(snap, client.identity)})
	}
}

// sendSnapshot pushes the current state to a single client.
func (h *Hub) sendSnapshot(client *Client) {
	snap, err := h.engine.Snapshot(client.gameID)
	if err != nil {
		if errKind(err) == KindNotFound {
			h.send(client, WSReply{Type: "game_deleted"})
		} else {
			log.Printf("hub: snapshot for game %d: %v", client.gameID, err)
		}
		return
	}
	h.send(client, WSReply{Type: "game_update", Game: redactSnapshot(snap, client.identity)})
}

func (h *Hub) sendError(client *Client, err error) {
	h.send(client, WSReply{Type: "error", Kind: string(errKind(err)), Error: err.Error()})
}

func (h *Hub) send(client *Client, reply WSReply) {
	message, err := json.Marshal(reply)
	if err != nil {
		log.Printf("hub: marshal reply: %v", err)
		return
	}
	LogWSMessage("OUT", client.identity, reply.Type)

	// Serialize writes to each connection
	client.writeMu.Lock()
	err = client.conn.WriteMessage(websocket.TextMessage, message)
	client.writeMu.Unlock()

	if err != nil {
		log.Printf("WebSocket write error for game %d: %v", client.gameID, err)
	}
}

// redactSnapshot strips everything the viewer is not supposed to know.
// The host sees all. Everyone else sees their own role, the roles of the
// dead, and (for werewolves) the rest of the pack; the night scratch pad
// is trimmed to the viewer's own action.
func redactSnapshot(snap *GameSnapshot, viewer string) *GameSnapshot {
	if snap.Game.HostIdentity == viewer {
		return snap
	}

	out := *snap

	var me *Player
	for i := range snap.Players {
		if snap.Players[i].ClientIdentity == viewer {
			me = &snap.Players[i]
			break
		}
	}
	meWolf := me != nil && me.Role != nil && *me.Role == RoleWerewolf

	players := make([]Player, len(snap.Players))
	copy(players, snap.Players)
	for i := range players {
		p := &players[i]
		if p.Role == nil {
			continue
		}
		visible := !p.Alive ||
			p.ClientIdentity == viewer ||
			(meWolf && *p.Role == RoleWerewolf)
		if !visible {
			p.Role = nil
		}
	}
	out.Players = players

	if snap.RoundState != nil {
		rs := RoundState{
			GameID:        snap.RoundState.GameID,
			PhaseStarted:  snap.RoundState.PhaseStarted,
			ResolvedDeath: snap.RoundState.ResolvedDeath,
		}
		if me != nil && me.Role != nil {
			switch *me.Role {
			case RoleWerewolf:
				rs.WolfTarget = snap.RoundState.WolfTarget
			case RolePolice:
				rs.PoliceInspectTarget = snap.RoundState.PoliceInspectTarget
				rs.PoliceInspectResult = snap.RoundState.PoliceInspectResult
			case RoleDoctor:
				rs.DoctorSaveTarget = snap.RoundState.DoctorSaveTarget
			}
		}
		out.RoundState = &rs
	}

	return &out
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Snapshot the wiring for this connection's lifetime
	currentEngine := engine
	currentHub := hub

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing game code", http.StatusBadRequest)
		return
	}

	game, err := currentEngine.GameByCode(code)
	if err != nil {
		DebugLog("handleWebSocket", "Rejected subscription for code %s: %v", code, err)
		http.Error(w, "Game not found", http.StatusNotFound)
		return
	}

	identity := clientIdentity(w, r)

	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for game %d: %v", game.ID, err)
		return
	}

	DebugLog("handleWebSocket", "WebSocket upgraded for game %d", game.ID)
	client := &Client{conn: conn, gameID: game.ID, identity: identity}
	currentHub.register <- client

	// Handle messages and disconnection
	go func() {
		defer func() {
			currentHub.unregister <- conn
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			handleWSMessage(currentEngine, currentHub, client, message)
		}
	}()
}
