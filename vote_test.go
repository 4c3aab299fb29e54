package main

import (
	"testing"
)

// startDayVote drives a 7 player game to day_vote with nobody dead: the
// doctor protects the wolves' victim.
func startDayVote(t *testing.T, e *Engine) *Game {
	t.Helper()
	g := startGame(t, e, 7)
	victim := mustPlayer(t, e, g.ID, testIdentity(3))

	wakeAndAdvanceWithTarget(t, e, g.ID, victim.ID)
	if err := e.PoliceInspect(g.ID, testIdentity(2), victim.ID); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	wakeAndAdvance(t, e, g.ID)
	if err := e.DoctorSave(g.ID, testIdentity(1), victim.ID); err != nil {
		t.Fatalf("save: %v", err)
	}
	wakeAndAdvance(t, e, g.ID)
	if err := e.RevealDeath(g.ID, testHostIdentity); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if err := e.BeginVoting(g.ID, testHostIdentity); err != nil {
		t.Fatalf("begin voting: %v", err)
	}
	return mustGame(t, e, g.ID)
}

func TestCastVote(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	target := mustPlayer(t, e, g.ID, testIdentity(0))

	if err := e.CastVote(g.ID, testIdentity(3), target.ID); err != nil {
		t.Fatalf("cast vote: %v", err)
	}

	// Changing the vote updates the existing ballot
	other := mustPlayer(t, e, g.ID, testIdentity(4))
	if err := e.CastVote(g.ID, testIdentity(3), other.ID); err != nil {
		t.Fatalf("change vote: %v", err)
	}

	var ballots []Vote
	if err := e.db.Select(&ballots, `
		SELECT id, game_id, voter_player_id, target_player_id, round, phase
		FROM votes WHERE game_id = ?`, g.ID); err != nil {
		t.Fatalf("load votes: %v", err)
	}
	if len(ballots) != 1 {
		t.Fatalf("expected one ballot per voter, got %d", len(ballots))
	}
	if ballots[0].TargetPlayerID != other.ID {
		t.Errorf("ballot not updated, points at %d", ballots[0].TargetPlayerID)
	}
}

func TestCastVoteGuards(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	target := mustPlayer(t, e, g.ID, testIdentity(0))
	host := mustPlayer(t, e, g.ID, testHostIdentity)

	// The host neither votes nor is voted for
	wantKind(t, e.CastVote(g.ID, testHostIdentity, target.ID), KindForbidden)
	wantKind(t, e.CastVote(g.ID, testIdentity(3), host.ID), KindValidation)

	// Dead players are out of the vote, both ways
	killPlayer(t, e, g.ID, testIdentity(4))
	dead := mustPlayer(t, e, g.ID, testIdentity(4))
	wantKind(t, e.CastVote(g.ID, testIdentity(4), target.ID), KindForbidden)
	wantKind(t, e.CastVote(g.ID, testIdentity(3), dead.ID), KindValidation)
}

func TestCastVoteWrongPhase(t *testing.T) {
	e := newTestEngine(t)
	g := startGame(t, e, 6)
	target := mustPlayer(t, e, g.ID, testIdentity(0))

	wantKind(t, e.CastVote(g.ID, testIdentity(3), target.ID), KindInvalidTransition)
}

func TestFinalVoteCollectsFreshBallots(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	target := mustPlayer(t, e, g.ID, testIdentity(0))

	if err := e.CastVote(g.ID, testIdentity(3), target.ID); err != nil {
		t.Fatalf("open vote: %v", err)
	}
	if err := e.FinalVote(g.ID, testHostIdentity); err != nil {
		t.Fatalf("call final vote: %v", err)
	}
	wantPhase(t, e, g.ID, PhaseDayFinalVote)

	// The open round's ballot does not count towards the final tally
	wantKind(t, e.EliminatePlayer(g.ID, testHostIdentity), KindValidation)
}

func TestEliminateTie(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	a := mustPlayer(t, e, g.ID, testIdentity(4))
	b := mustPlayer(t, e, g.ID, testIdentity(5))

	if err := e.FinalVote(g.ID, testHostIdentity); err != nil {
		t.Fatalf("final vote: %v", err)
	}
	if err := e.CastVote(g.ID, testIdentity(0), a.ID); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := e.CastVote(g.ID, testIdentity(1), b.ID); err != nil {
		t.Fatalf("vote: %v", err)
	}

	wantKind(t, e.EliminatePlayer(g.ID, testHostIdentity), KindValidation)

	// Nobody died, the phase is unchanged, the host can rally new votes
	if p := mustPlayer(t, e, g.ID, testIdentity(4)); !p.Alive {
		t.Error("tied vote must not eliminate anyone")
	}
	wantPhase(t, e, g.ID, PhaseDayFinalVote)
}

func TestEliminateStartsNextNight(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	victim := mustPlayer(t, e, g.ID, testIdentity(4))

	if err := e.FinalVote(g.ID, testHostIdentity); err != nil {
		t.Fatalf("final vote: %v", err)
	}
	for _, voter := range []string{testIdentity(0), testIdentity(1), testIdentity(2)} {
		if err := e.CastVote(g.ID, voter, victim.ID); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	if err := e.EliminatePlayer(g.ID, testHostIdentity); err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	if p := mustPlayer(t, e, g.ID, testIdentity(4)); p.Alive {
		t.Error("eliminated player still alive")
	}

	got := mustGame(t, e, g.ID)
	if got.Phase != PhaseNightWolf {
		t.Errorf("expected next night, got %s", got.Phase)
	}
	if got.DayCount != 2 {
		t.Errorf("expected day_count 2, got %d", got.DayCount)
	}

	// Fresh night, wiped scratch pad
	rs, _ := getRoundState(e.db, g.ID)
	if rs.WolfTarget != nil || rs.DoctorSaveTarget != nil || rs.PoliceInspectTarget != nil || rs.ResolvedDeath != nil {
		t.Errorf("round state not cleared: %+v", rs)
	}
	if rs.PhaseStarted {
		t.Error("phase_started must reset for the new night")
	}
}

func TestEliminateWolfEndsGame(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	wolf := mustPlayer(t, e, g.ID, testIdentity(0))

	if err := e.FinalVote(g.ID, testHostIdentity); err != nil {
		t.Fatalf("final vote: %v", err)
	}
	for _, voter := range []string{testIdentity(1), testIdentity(2), testIdentity(3)} {
		if err := e.CastVote(g.ID, voter, wolf.ID); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	if err := e.EliminatePlayer(g.ID, testHostIdentity); err != nil {
		t.Fatalf("eliminate: %v", err)
	}

	got := mustGame(t, e, g.ID)
	if got.Phase != PhaseEnded {
		t.Errorf("expected ended, got %s", got.Phase)
	}
	if got.WinState == nil || *got.WinState != WinVillagers {
		t.Errorf("expected villagers win, got %v", got.WinState)
	}
}

func TestEliminateGuards(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)

	// Wrong phase: elimination follows the final vote
	wantKind(t, e.EliminatePlayer(g.ID, testHostIdentity), KindInvalidTransition)

	if err := e.FinalVote(g.ID, testHostIdentity); err != nil {
		t.Fatalf("final vote: %v", err)
	}
	// Host only
	wantKind(t, e.EliminatePlayer(g.ID, testIdentity(0)), KindForbidden)
	// No votes at all
	wantKind(t, e.EliminatePlayer(g.ID, testHostIdentity), KindValidation)
}

func TestTallyVotes(t *testing.T) {
	e := newTestEngine(t)
	g := startDayVote(t, e)
	a := mustPlayer(t, e, g.ID, testIdentity(4))
	b := mustPlayer(t, e, g.ID, testIdentity(5))

	for _, v := range []struct {
		voter  string
		target int64
	}{
		{testIdentity(0), a.ID},
		{testIdentity(1), a.ID},
		{testIdentity(2), b.ID},
	} {
		if err := e.CastVote(g.ID, v.voter, v.target); err != nil {
			t.Fatalf("vote: %v", err)
		}
	}

	tx, err := e.db.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	top, tied, total, err := tallyVotes(tx, g.ID, 1, PhaseDayVote)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tied {
		t.Error("2-1 is not a tie")
	}
	if top != a.ID {
		t.Errorf("expected %d on top, got %d", a.ID, top)
	}
	if total != 3 {
		t.Errorf("expected 3 ballots, got %d", total)
	}
}
