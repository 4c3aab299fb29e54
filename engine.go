package main

import (
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Notifier receives a ping after every committed mutation so the transport
// layer can push fresh state to subscribed clients. Delivery is
// at-least-once and always full-snapshot; the engine never waits on it.
type Notifier interface {
	GameChanged(gameID int64)
}

// Engine owns every write to games, players, round_state, votes and
// leave_requests. All mutating operations for one game are serialized
// behind a per-game mutex: two clients racing on the same game always
// observe a consistent before/after state, and validation always reads
// the latest committed phase.
type Engine struct {
	db       *sqlx.DB
	notifier Notifier
	story    Storyteller

	// Default night ordering applied to newly created games. Existing
	// games keep the order frozen on their row.
	nightOrder []Phase

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(db *sqlx.DB) *Engine {
	return &Engine{
		db:         db,
		nightOrder: defaultNightOrder,
		locks:      make(map[int64]*sync.Mutex),
	}
}

// SetNotifier wires the change-notification channel. Safe to leave unset
// in tests; commits then go unannounced.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetStoryteller enables death narration. Nil disables the feature.
func (e *Engine) SetStoryteller(s Storyteller) {
	e.story = s
}

// SetNightOrder overrides the default night phase sequence for games
// created afterwards. Must contain exactly the three night phases.
func (e *Engine) SetNightOrder(order []Phase) error {
	if len(order) != 3 {
		return validationf("night order must list exactly three phases")
	}
	seen := map[Phase]bool{}
	for _, p := range order {
		if !p.isNight() || seen[p] {
			return validationf("invalid night order phase %q", p)
		}
		seen[p] = true
	}
	e.nightOrder = order
	return nil
}

func (e *Engine) gameLock(gameID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[gameID] = l
	}
	return l
}

// dropGameLock prunes the lock for a deleted game. Callers must not hold
// the lock when calling this.
func (e *Engine) dropGameLock(gameID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, gameID)
}

// withGame runs fn under the game's mutex inside one transaction. The game
// row is re-read after the lock is taken, so fn always validates against
// committed state. Either the whole mutation commits and observers are
// notified, or nothing is applied.
func (e *Engine) withGame(gameID int64, fn func(tx *sqlx.Tx, g *Game) error) error {
	lock := e.gameLock(gameID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := e.db.Beginx()
	if err != nil {
		return unavailable("withGame: begin", err)
	}

	g, err := getGameByID(tx, gameID)
	if err != nil {
		tx.Rollback()
		if isNoRows(err) {
			return notFoundf("game not found")
		}
		return unavailable("withGame: load game", err)
	}

	if err := fn(tx, &g); err != nil {
		tx.Rollback()
		return classify("withGame", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("withGame: commit", err)
	}

	e.notifyChanged(gameID)
	return nil
}

func (e *Engine) notifyChanged(gameID int64) {
	if e.notifier != nil {
		e.notifier.GameChanged(gameID)
	}
}

// classify keeps engine error kinds intact and folds everything else
// (driver failures, constraint surprises) into unavailable.
func classify(context string, err error) error {
	var ge *GameError
	if errors.As(err, &ge) {
		return err
	}
	return unavailable(context, err)
}

// Snapshot returns the full read model for one game. Reads are not
// serialized against writers; sqlite gives us a consistent point-in-time
// view per query and observers converge via notifications anyway.
func (e *Engine) Snapshot(gameID int64) (*GameSnapshot, error) {
	g, err := getGameByID(e.db, gameID)
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundf("game not found")
		}
		return nil, unavailable("snapshot: load game", err)
	}

	snap := &GameSnapshot{Game: g}

	if snap.Players, err = getPlayersByGameID(e.db, g.ID); err != nil {
		return nil, unavailable("snapshot: load players", err)
	}

	rs, err := getRoundState(e.db, g.ID)
	if err == nil {
		snap.RoundState = &rs
	} else if !isNoRows(err) {
		return nil, unavailable("snapshot: load round state", err)
	}

	if err = e.db.Select(&snap.Votes, `
		SELECT id, game_id, voter_player_id, target_player_id, round, phase
		FROM votes WHERE game_id = ? ORDER BY id`, g.ID); err != nil {
		return nil, unavailable("snapshot: load votes", err)
	}

	if err = e.db.Select(&snap.LeaveRequests, `
		SELECT id, game_id, player_id, status, requested_at, processed_at, processed_by
		FROM leave_requests WHERE game_id = ? ORDER BY id`, g.ID); err != nil {
		return nil, unavailable("snapshot: load leave requests", err)
	}

	return snap, nil
}

// SnapshotByCode is the lookup the UI uses on first load.
func (e *Engine) SnapshotByCode(code string) (*GameSnapshot, error) {
	g, err := e.GameByCode(code)
	if err != nil {
		return nil, err
	}
	return e.Snapshot(g.ID)
}
