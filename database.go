package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// Phase is the round engine's state. Phases advance in a fixed cycle:
// lobby -> night phases (order per game policy) -> reveal -> day_vote ->
// day_final_vote -> back to the first night phase with day_count + 1.
// "ended" is terminal; the game row is deleted shortly after entering it.
type Phase string

const (
	PhaseLobby        Phase = "lobby"
	PhaseNightWolf    Phase = "night_wolf"
	PhaseNightPolice  Phase = "night_police"
	PhaseNightDoctor  Phase = "night_doctor"
	PhaseReveal       Phase = "reveal"
	PhaseDayVote      Phase = "day_vote"
	PhaseDayFinalVote Phase = "day_final_vote"
	PhaseEnded        Phase = "ended"
)

func (p Phase) isNight() bool {
	return p == PhaseNightWolf || p == PhaseNightPolice || p == PhaseNightDoctor
}

// Role is a closed set. Near-duplicate spellings coming in over the wire
// are rejected at the boundary, never stored.
type Role string

const (
	RoleVillager Role = "villager"
	RoleWerewolf Role = "werewolf"
	RoleDoctor   Role = "doctor"
	RolePolice   Role = "police"
)

func parseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleVillager, RoleWerewolf, RoleDoctor, RolePolice:
		return Role(s), true
	}
	return "", false
}

// WinState names the side that prevailed.
type WinState string

const (
	WinVillagers  WinState = "villagers"
	WinWerewolves WinState = "werewolves"
)

// Inspect results stored on round_state.
const (
	InspectWerewolf    = "werewolf"
	InspectNotWerewolf = "not_werewolf"
)

// Leave request lifecycle.
const (
	LeavePending  = "pending"
	LeaveApproved = "approved"
	LeaveDenied   = "denied"
)

type Game struct {
	ID           int64     `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	HostIdentity string    `db:"host_identity" json:"-"`
	Phase        Phase     `db:"phase" json:"phase"`
	WinState     *WinState `db:"win_state" json:"win_state"`
	DayCount     int       `db:"day_count" json:"day_count"`
	NightOrder   string    `db:"night_order" json:"night_order"`
	Narration    string    `db:"narration" json:"narration"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Player struct {
	ID             int64  `db:"id" json:"id"`
	GameID         int64  `db:"game_id" json:"game_id"`
	ClientIdentity string `db:"client_identity" json:"-"`
	Name           string `db:"name" json:"name"`
	Role           *Role  `db:"role" json:"role"`
	Alive          bool   `db:"alive" json:"alive"`
	IsHost         bool   `db:"is_host" json:"is_host"`
}

// RoundState is the current night's scratch pad, 1:1 with a game. All
// target fields are cleared when a new night begins.
type RoundState struct {
	GameID              int64   `db:"game_id" json:"game_id"`
	WolfTarget          *int64  `db:"wolf_target" json:"wolf_target"`
	PoliceInspectTarget *int64  `db:"police_inspect_target" json:"police_inspect_target"`
	PoliceInspectResult *string `db:"police_inspect_result" json:"police_inspect_result"`
	DoctorSaveTarget    *int64  `db:"doctor_save_target" json:"doctor_save_target"`
	ResolvedDeath       *int64  `db:"resolved_death" json:"resolved_death"`
	PhaseStarted        bool    `db:"phase_started" json:"phase_started"`
}

type Vote struct {
	ID             int64 `db:"id" json:"id"`
	GameID         int64 `db:"game_id" json:"game_id"`
	VoterPlayerID  int64 `db:"voter_player_id" json:"voter_player_id"`
	TargetPlayerID int64 `db:"target_player_id" json:"target_player_id"`
	Round          int   `db:"round" json:"round"`
	Phase          Phase `db:"phase" json:"phase"`
}

type LeaveRequest struct {
	ID          int64      `db:"id" json:"id"`
	GameID      int64      `db:"game_id" json:"game_id"`
	PlayerID    int64      `db:"player_id" json:"player_id"`
	Status      string     `db:"status" json:"status"`
	RequestedAt time.Time  `db:"requested_at" json:"requested_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at"`
	ProcessedBy *int64     `db:"processed_by" json:"processed_by"`
}

// GameSnapshot is the single read model the UI layer fetches; the hub
// pushes it whole after every committed command. Observers re-derive state
// from it rather than patching diffs.
type GameSnapshot struct {
	Game          Game           `json:"game"`
	Players       []Player       `json:"players"`
	RoundState    *RoundState    `json:"round_state"`
	Votes         []Vote         `json:"votes"`
	LeaveRequests []LeaveRequest `json:"leave_requests"`
}

func initDB(db *sqlx.DB) error {
	schema := `
	PRAGMA journal_mode=WAL;
	PRAGMA foreign_keys=ON;

	CREATE TABLE IF NOT EXISTS games (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		host_identity TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT 'lobby',
		win_state TEXT,
		day_count INTEGER NOT NULL DEFAULT 0,
		night_order TEXT NOT NULL DEFAULT 'wolf,police,doctor',
		narration TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS players (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		client_identity TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT,
		alive INTEGER NOT NULL DEFAULT 1,
		is_host INTEGER NOT NULL DEFAULT 0,
		UNIQUE(game_id, client_identity)
	);
	CREATE TABLE IF NOT EXISTS round_state (
		game_id INTEGER PRIMARY KEY REFERENCES games(id) ON DELETE CASCADE,
		wolf_target INTEGER,
		police_inspect_target INTEGER,
		police_inspect_result TEXT,
		doctor_save_target INTEGER,
		resolved_death INTEGER,
		phase_started INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS votes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		voter_player_id INTEGER NOT NULL,
		target_player_id INTEGER NOT NULL,
		round INTEGER NOT NULL,
		phase TEXT NOT NULL,
		UNIQUE(game_id, voter_player_id, round, phase)
	);
	CREATE TABLE IF NOT EXISTS leave_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		player_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP,
		processed_by INTEGER,
		UNIQUE(game_id, player_id)
	);
	CREATE TABLE IF NOT EXISTS eliminations (
		game_id INTEGER NOT NULL REFERENCES games(id) ON DELETE CASCADE,
		round INTEGER NOT NULL,
		player_id INTEGER NOT NULL,
		UNIQUE(game_id, round)
	);
	CREATE INDEX IF NOT EXISTS idx_games_code ON games(code, created_at);
	CREATE INDEX IF NOT EXISTS idx_votes_tally ON votes(game_id, round, phase);
	`
	if _, err := db.Exec(schema); err != nil {
		log.Printf("initDB error: %v", err)
		return err
	}
	log.Printf("Database initialized successfully")
	return nil
}

const playerColumns = "id, game_id, client_identity, name, role, alive, is_host"

func getPlayersByGameID(q sqlx.Queryer, gameID int64) ([]Player, error) {
	var players []Player
	err := sqlx.Select(q, &players, `
		SELECT `+playerColumns+` FROM players WHERE game_id = ? ORDER BY id`, gameID)
	return players, err
}

func getPlayerByID(q sqlx.Queryer, gameID, playerID int64) (Player, error) {
	var p Player
	err := sqlx.Get(q, &p, `
		SELECT `+playerColumns+` FROM players WHERE game_id = ? AND id = ?`, gameID, playerID)
	return p, err
}

func getPlayerByIdentity(q sqlx.Queryer, gameID int64, identity string) (Player, error) {
	var p Player
	err := sqlx.Get(q, &p, `
		SELECT `+playerColumns+` FROM players WHERE game_id = ? AND client_identity = ?`, gameID, identity)
	return p, err
}

func getGameByID(q sqlx.Queryer, gameID int64) (Game, error) {
	var g Game
	err := sqlx.Get(q, &g, `
		SELECT id, code, host_identity, phase, win_state, day_count, night_order, narration, created_at
		FROM games WHERE id = ?`, gameID)
	return g, err
}

func getRoundState(q sqlx.Queryer, gameID int64) (RoundState, error) {
	var rs RoundState
	err := sqlx.Get(q, &rs, `
		SELECT game_id, wolf_target, police_inspect_target, police_inspect_result,
			doctor_save_target, resolved_death, phase_started
		FROM round_state WHERE game_id = ?`, gameID)
	return rs, err
}

// nonHostCount counts participating players; the host drives phases but
// never appears in win, vote, or threshold arithmetic.
func nonHostCount(q sqlx.Queryer, gameID int64) (int, error) {
	var n int
	err := sqlx.Get(q, &n, `SELECT COUNT(*) FROM players WHERE game_id = ? AND is_host = 0`, gameID)
	return n, err
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
