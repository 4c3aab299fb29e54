package main

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const identityCookie = "werwolf_client"

// clientIdentity returns the caller's stable browser identity, minting a
// fresh uuid cookie on first contact. The identity is what ties a browser
// to its player row across reconnects.
func clientIdentity(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(identityCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 365,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// statusForKind maps engine error kinds onto HTTP status codes.
func statusForKind(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindCapacity, KindInvalidTransition:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errKind(err)
	if kind == KindUnavailable {
		log.Printf("ERROR: %v", err)
		LogDBState("after unavailable error")
	}
	writeJSON(w, statusForKind(kind), map[string]string{
		"kind":  string(kind),
		"error": err.Error(),
	})
}

// handleCreateGame creates a game with the caller as host.
// POST /api/game {"name": "..."}
func handleCreateGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, validationf("invalid request body"))
		return
	}

	identity := clientIdentity(w, r)
	game, host, err := engine.CreateGame(req.Name, identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"game":   game,
		"player": host,
	})
}

// handleJoinGame adds the caller to a lobby.
// POST /api/game/join {"code": "...", "name": "..."}
func handleJoinGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, validationf("invalid request body"))
		return
	}

	identity := clientIdentity(w, r)
	player, err := engine.JoinGame(req.Code, req.Name, identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": player})
}

// handleGetGame returns the caller's view of a game.
// GET /api/game?code=123456
func handleGetGame(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, validationf("code is required"))
		return
	}
	snap, err := engine.SnapshotByCode(code)
	if err != nil {
		writeError(w, err)
		return
	}
	identity := clientIdentity(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"game": redactSnapshot(snap, identity)})
}

// handleGameQR renders the join link for a game code as a QR png, for the
// host to put on the table.
// GET /api/game/qr?code=123456
func handleGameQR(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, validationf("code is required"))
		return
	}
	if _, err := engine.GameByCode(code); err != nil {
		writeError(w, err)
		return
	}

	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	joinURL := fmt.Sprintf("%s://%s/?code=%s", scheme, r.Host, code)

	png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
	if err != nil {
		writeError(w, unavailable("qr encode", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// handleWSMessage routes one websocket command to the engine. Errors go
// back to the issuing client only; successful commands answer everyone
// through the change notification.
func handleWSMessage(e *Engine, h *Hub, client *Client, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for game %d: %v", client.gameID, err)
		return
	}

	LogWSMessage("IN", client.identity, msg.Action)

	var err error
	switch msg.Action {
	case "assign_roles":
		err = e.AssignRoles(client.gameID, client.identity)
	case "change_role":
		role, ok := parseRole(msg.Role)
		if !ok {
			err = validationf("unknown role %q", msg.Role)
			break
		}
		err = e.ChangeRole(client.gameID, client.identity, msg.PlayerID, role)
	case "remove_player":
		err = e.RemovePlayer(client.gameID, client.identity, msg.PlayerID)
	case "request_leave":
		err = e.RequestLeave(client.gameID, client.identity)
	case "approve_leave":
		err = e.ApproveLeave(client.gameID, client.identity, msg.PlayerID)
	case "deny_leave":
		err = e.DenyLeave(client.gameID, client.identity, msg.PlayerID)
	case "wolf_select":
		err = e.WolfSelect(client.gameID, client.identity, msg.TargetPlayerID)
	case "police_inspect":
		err = e.PoliceInspect(client.gameID, client.identity, msg.TargetPlayerID)
	case "doctor_save":
		err = e.DoctorSave(client.gameID, client.identity, msg.TargetPlayerID)
	case "advance_phase", "next_phase":
		err = e.AdvancePhase(client.gameID, client.identity)
	case "reveal_dead":
		err = e.RevealDeath(client.gameID, client.identity)
	case "begin_voting":
		err = e.BeginVoting(client.gameID, client.identity)
	case "final_vote":
		err = e.FinalVote(client.gameID, client.identity)
	case "cast_vote":
		err = e.CastVote(client.gameID, client.identity, msg.TargetPlayerID)
	case "eliminate_player":
		err = e.EliminatePlayer(client.gameID, client.identity)
	case "end_game":
		err = e.EndGame(client.gameID, client.identity)
	default:
		log.Printf("Unknown action: %s for game %d", msg.Action, client.gameID)
		err = validationf("unknown action %q", msg.Action)
	}

	if err != nil {
		h.sendError(client, err)
	}
}

func disableCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Cache-Control", "no-cache")

		next.ServeHTTP(w, r)
	})
}

// gzipWriter wraps http.ResponseWriter to compress output
type gzipWriter struct {
	http.ResponseWriter
	Writer *gzip.Writer
}

func (w *gzipWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *gzipWriter) Flush() {
	w.Writer.Flush()
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// compress gzips responses for clients that accept it. Not applied to the
// websocket route; the hijacked connection must stay untouched.
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzip.NewWriter(w)
		defer gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")
		next.ServeHTTP(&gzipWriter{ResponseWriter: w, Writer: gz}, r)
	})
}
