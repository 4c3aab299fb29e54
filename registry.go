package main

import (
	"crypto/rand"
	"log"
	"math/big"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Roster bounds for non-host players. Below the floor a running game
// cannot continue; above the ceiling joins are refused.
const (
	minPlayers = 6
	maxPlayers = 20
)

// mintGameCode draws 6-digit codes until one is free among games created
// today. Codes are day-scoped purely to dodge collisions; yesterday's
// finished games never block today's codes.
func mintGameCode(tx *sqlx.Tx) (string, error) {
	for attempt := 0; attempt < 50; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", err
		}
		code := padCode(n.Int64())

		var taken int
		err = tx.Get(&taken, `
			SELECT COUNT(*) FROM games
			WHERE code = ? AND date(created_at) = date('now')`, code)
		if err != nil {
			return "", err
		}
		if taken == 0 {
			return code, nil
		}
	}
	return "", capacityf("could not find a free game code")
}

func padCode(n int64) string {
	digits := []byte("000000")
	for i := 5; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

// CreateGame mints a code and creates the game with its host player and
// empty round state. One identity hosts at most one running game.
func (e *Engine) CreateGame(hostName, clientIdentity string) (*Game, *Player, error) {
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, nil, validationf("host name is required")
	}
	if clientIdentity == "" {
		return nil, nil, validationf("client identity is required")
	}

	tx, err := e.db.Beginx()
	if err != nil {
		return nil, nil, unavailable("createGame: begin", err)
	}
	defer tx.Rollback()

	var hosting int
	err = tx.Get(&hosting, `
		SELECT COUNT(*) FROM games WHERE host_identity = ? AND phase != ?`,
		clientIdentity, PhaseEnded)
	if err != nil {
		return nil, nil, unavailable("createGame: check host", err)
	}
	if hosting > 0 {
		return nil, nil, conflictf("you already host a running game")
	}

	code, err := mintGameCode(tx)
	if err != nil {
		return nil, nil, classify("createGame: mint code", err)
	}

	res, err := tx.Exec(`
		INSERT INTO games (code, host_identity, phase, night_order)
		VALUES (?, ?, ?, ?)`,
		code, clientIdentity, PhaseLobby, nightOrderString(e.nightOrder))
	if err != nil {
		return nil, nil, unavailable("createGame: insert game", err)
	}
	gameID, _ := res.LastInsertId()

	if _, err = tx.Exec(`INSERT INTO round_state (game_id) VALUES (?)`, gameID); err != nil {
		return nil, nil, unavailable("createGame: insert round state", err)
	}

	res, err = tx.Exec(`
		INSERT INTO players (game_id, client_identity, name, is_host)
		VALUES (?, ?, ?, 1)`, gameID, clientIdentity, hostName)
	if err != nil {
		return nil, nil, unavailable("createGame: insert host", err)
	}
	hostID, _ := res.LastInsertId()

	if err = tx.Commit(); err != nil {
		return nil, nil, unavailable("createGame: commit", err)
	}

	log.Printf("Game %d created: code=%s host=%s", gameID, code, hostName)
	DebugLog("CreateGame", "Host '%s' created game %d with code %s", hostName, gameID, code)

	game := &Game{ID: gameID, Code: code, HostIdentity: clientIdentity, Phase: PhaseLobby, NightOrder: nightOrderString(e.nightOrder)}
	host := &Player{ID: hostID, GameID: gameID, ClientIdentity: clientIdentity, Name: hostName, Alive: true, IsHost: true}
	e.notifyChanged(gameID)
	return game, host, nil
}

// JoinGame adds a player to a lobby. The same browser identity can hold
// only one player row per game.
func (e *Engine) JoinGame(code, name, clientIdentity string) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationf("name is required")
	}
	if clientIdentity == "" {
		return nil, validationf("client identity is required")
	}

	g, err := e.GameByCode(code)
	if err != nil {
		return nil, err
	}

	var joined Player
	err = e.withGame(g.ID, func(tx *sqlx.Tx, g *Game) error {
		if g.Phase != PhaseLobby {
			return invalidTransitionf("game already started")
		}

		if _, err := getPlayerByIdentity(tx, g.ID, clientIdentity); err == nil {
			return conflictf("you already joined this game")
		} else if !isNoRows(err) {
			return err
		}

		n, err := nonHostCount(tx, g.ID)
		if err != nil {
			return err
		}
		if n >= maxPlayers {
			return capacityf("game is full (%d players)", maxPlayers)
		}

		res, err := tx.Exec(`
			INSERT INTO players (game_id, client_identity, name)
			VALUES (?, ?, ?)`, g.ID, clientIdentity, name)
		if err != nil {
			return err
		}
		id, _ := res.LastInsertId()
		joined = Player{ID: id, GameID: g.ID, ClientIdentity: clientIdentity, Name: name, Alive: true}

		log.Printf("Player %d (%s) joined game %d", id, name, g.ID)
		DebugLog("JoinGame", "Player '%s' joined game %d (code %s)", name, g.ID, g.Code)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &joined, nil
}

// GameByCode resolves a code to its current game. With day-scoped codes
// the newest game wins if an old row still lingers.
func (e *Engine) GameByCode(code string) (*Game, error) {
	var g Game
	err := e.db.Get(&g, `
		SELECT id, code, host_identity, phase, win_state, day_count, night_order, narration, created_at
		FROM games WHERE code = ? ORDER BY created_at DESC, id DESC LIMIT 1`, code)
	if isNoRows(err) {
		return nil, notFoundf("no game with code %s", code)
	}
	if err != nil {
		return nil, unavailable("gameByCode", err)
	}
	return &g, nil
}

// GameByID is the id-keyed twin of GameByCode.
func (e *Engine) GameByID(gameID int64) (*Game, error) {
	g, err := getGameByID(e.db, gameID)
	if isNoRows(err) {
		return nil, notFoundf("game not found")
	}
	if err != nil {
		return nil, unavailable("gameByID", err)
	}
	return &g, nil
}
