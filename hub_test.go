package main

import (
	"context"
	"strings"
	"testing"
	"time"
)

func snapshotFor(t *testing.T, e *Engine, gameID int64) *GameSnapshot {
	t.Helper()
	snap, err := e.Snapshot(gameID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func roleOf(t *testing.T, snap *GameSnapshot, name string) *Role {
	t.Helper()
	for _, p := range snap.Players {
		if p.Name == name {
			return p.Role
		}
	}
	t.Fatalf("player %s not in snapshot", name)
	return nil
}

func TestRedactSnapshotForVillager(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 7)
	victim := mustPlayer(t, e, g.ID, testIdentity(4))
	if err := e.WolfSelect(g.ID, testIdentity(0), victim.ID); err != nil {
		t.Fatalf("wolf select: %v", err)
	}

	snap := snapshotFor(t, e, g.ID)
	view := redactSnapshot(snap, testIdentity(3))

	// Own card visible, the wolf's hidden
	if r := roleOf(t, view, "Player3"); r == nil || *r != RoleVillager {
		t.Errorf("viewer must see their own role, got %v", r)
	}
	if r := roleOf(t, view, "Player0"); r != nil {
		t.Errorf("a villager must not see the wolf's role, got %s", *r)
	}

	// The night scratch pad says nothing to a villager
	if view.RoundState == nil {
		t.Fatal("round state missing from view")
	}
	if view.RoundState.WolfTarget != nil {
		t.Error("villager view leaked the wolf target")
	}
}

func TestRedactSnapshotForWolf(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 10) // 10 players: two werewolves
	setRole(t, e, g.ID, testIdentity(4), RoleWerewolf)
	victim := mustPlayer(t, e, g.ID, testIdentity(5))
	if err := e.WolfSelect(g.ID, testIdentity(0), victim.ID); err != nil {
		t.Fatalf("wolf select: %v", err)
	}

	snap := snapshotFor(t, e, g.ID)
	view := redactSnapshot(snap, testIdentity(0))

	// The pack sees itself
	if r := roleOf(t, view, "Player4"); r == nil || *r != RoleWerewolf {
		t.Errorf("wolf must see a packmate, got %v", r)
	}
	// But not the specials
	if r := roleOf(t, view, "Player1"); r != nil {
		t.Errorf("wolf must not see the doctor, got %s", *r)
	}
	// And their own pick
	if view.RoundState.WolfTarget == nil || *view.RoundState.WolfTarget != victim.ID {
		t.Errorf("wolf view lost the wolf target: %v", view.RoundState.WolfTarget)
	}
	if view.RoundState.PoliceInspectResult != nil {
		t.Error("wolf view leaked the inspect result")
	}
}

func TestRedactSnapshotForHost(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 6)

	snap := snapshotFor(t, e, g.ID)
	view := redactSnapshot(snap, testHostIdentity)

	for _, p := range view.Players {
		if p.IsHost {
			continue
		}
		if p.Role == nil {
			t.Fatalf("host must see every role, %s is hidden", p.Name)
		}
	}
}

func TestRedactSnapshotRevealsDead(t *testing.T) {
	e := newTestEngine(t)
	g := runNightUntilReveal(t, e, 7, testIdentity(4))
	if err := e.RevealDeath(g.ID, testHostIdentity); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	snap := snapshotFor(t, e, g.ID)
	view := redactSnapshot(snap, testIdentity(3))

	if r := roleOf(t, view, "Player4"); r == nil {
		t.Error("a dead player's role is public")
	}
}

// fixedStoryteller returns canned text without any provider.
type fixedStoryteller struct {
	text string
}

func (s *fixedStoryteller) Tell(_ context.Context, _ []string, _ string, onChunk func(string)) (string, error) {
	if onChunk != nil {
		onChunk(s.text)
	}
	return s.text, nil
}

// chanNotifier records change pings for tests.
type chanNotifier struct {
	ch chan int64
}

func (n *chanNotifier) GameChanged(gameID int64) {
	select {
	case n.ch <- gameID:
	default:
	}
}

func TestMaybeNarrateAppendsNarration(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 6)

	e.SetStoryteller(&fixedStoryteller{text: "The fog swallowed the square."})
	notifier := &chanNotifier{ch: make(chan int64, 16)}
	e.SetNotifier(notifier)

	e.maybeNarrate(g.ID, "Player3 died")

	deadline := time.After(2 * time.Second)
	for {
		got := mustGame(t, e, g.ID)
		if strings.Contains(got.Narration, "The fog swallowed the square.") {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("narration never arrived, have %q", got.Narration)
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case id := <-notifier.ch:
		if id != g.ID {
			t.Errorf("notified about game %d, want %d", id, g.ID)
		}
	case <-time.After(time.Second):
		t.Error("no change notification for the narration")
	}
}

func TestMaybeNarrateDisabled(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 6)

	// No storyteller configured: a no-op, not a crash
	e.maybeNarrate(g.ID, "Player3 died")

	got := mustGame(t, e, g.ID)
	if got.Narration != "" {
		t.Errorf("narration must stay empty without a storyteller, got %q", got.Narration)
	}
}
