package main

import (
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const testHostIdentity = "identity-host"

func testIdentity(i int) string {
	return fmt.Sprintf("identity-%d", i)
}

// newTestEngine gives every test its own in-memory database. One
// connection only, so transactions and reads cannot land on separate
// empty memory databases.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	tdb, err := sqlx.Connect("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	tdb.SetMaxOpenConns(1)
	t.Cleanup(func() { tdb.Close() })

	if err := initDB(tdb); err != nil {
		t.Fatalf("init database: %v", err)
	}
	return NewEngine(tdb)
}

// newLobby creates a hosted game with n joined players, identities
// identity-0 .. identity-(n-1).
func newLobby(t *testing.T, e *Engine, n int) *Game {
	t.Helper()
	g, _, err := e.CreateGame("Mod", testHostIdentity)
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := e.JoinGame(g.Code, fmt.Sprintf("Player%d", i), testIdentity(i)); err != nil {
			t.Fatalf("join player %d: %v", i, err)
		}
	}
	return g
}

// assignFixedRoles deals a deterministic layout instead of a shuffled
// one: player 0 is the werewolf, 1 the doctor, 2 the police, the rest
// villagers. Scenario tests need to know who is what.
func assignFixedRoles(t *testing.T, e *Engine, gameID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := RoleVillager
		switch i {
		case 0:
			role = RoleWerewolf
		case 1:
			role = RoleDoctor
		case 2:
			role = RolePolice
		}
		setRole(t, e, gameID, testIdentity(i), role)
	}
}

func setRole(t *testing.T, e *Engine, gameID int64, identity string, role Role) {
	t.Helper()
	if _, err := e.db.Exec(`
		UPDATE players SET role = ? WHERE game_id = ? AND client_identity = ?`,
		role, gameID, identity); err != nil {
		t.Fatalf("set role: %v", err)
	}
}

// startGame takes a fresh lobby of n players through fixed role
// assignment into the first night.
func startGame(t *testing.T, e *Engine, n int) *Game {
	t.Helper()
	g := newLobby(t, e, n)
	assignFixedRoles(t, e, g.ID, n)
	if err := e.AdvancePhase(g.ID, testHostIdentity); err != nil {
		t.Fatalf("advance out of lobby: %v", err)
	}
	return mustGame(t, e, g.ID)
}

func mustGame(t *testing.T, e *Engine, gameID int64) *Game {
	t.Helper()
	g, err := e.GameByID(gameID)
	if err != nil {
		t.Fatalf("load game %d: %v", gameID, err)
	}
	return g
}

func mustPlayer(t *testing.T, e *Engine, gameID int64, identity string) Player {
	t.Helper()
	p, err := getPlayerByIdentity(e.db, gameID, identity)
	if err != nil {
		t.Fatalf("load player %s: %v", identity, err)
	}
	return p
}

func killPlayer(t *testing.T, e *Engine, gameID int64, identity string) {
	t.Helper()
	if _, err := e.db.Exec(`
		UPDATE players SET alive = 0 WHERE game_id = ? AND client_identity = ?`,
		gameID, identity); err != nil {
		t.Fatalf("kill player %s: %v", identity, err)
	}
}

// wantKind fails unless err carries the expected kind.
func wantKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := errKind(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func wantPhase(t *testing.T, e *Engine, gameID int64, phase Phase) {
	t.Helper()
	g := mustGame(t, e, gameID)
	if g.Phase != phase {
		t.Fatalf("expected phase %s, got %s", phase, g.Phase)
	}
}

// wakeAndAdvance presses the host button twice: once to wake the phase's
// role, once to move on.
func wakeAndAdvance(t *testing.T, e *Engine, gameID int64) {
	t.Helper()
	if err := e.AdvancePhase(gameID, testHostIdentity); err != nil {
		t.Fatalf("wake press: %v", err)
	}
	if err := e.AdvancePhase(gameID, testHostIdentity); err != nil {
		t.Fatalf("advance press: %v", err)
	}
}
