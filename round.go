package main

import (
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
)

var defaultNightOrder = []Phase{PhaseNightWolf, PhaseNightPolice, PhaseNightDoctor}

var nightPhaseNames = map[Phase]string{
	PhaseNightWolf:   "wolf",
	PhaseNightPolice: "police",
	PhaseNightDoctor: "doctor",
}

func nightOrderString(order []Phase) string {
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = nightPhaseNames[p]
	}
	return strings.Join(names, ",")
}

// parseNightOrder reads the order frozen on a game row. Unknown input
// falls back to the default rather than wedging a running game.
func parseNightOrder(s string) []Phase {
	var order []Phase
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "wolf":
			order = append(order, PhaseNightWolf)
		case "police":
			order = append(order, PhaseNightPolice)
		case "doctor":
			order = append(order, PhaseNightDoctor)
		}
	}
	if len(order) != 3 {
		return defaultNightOrder
	}
	return order
}

// nextNightPhase returns the phase after current in the game's night
// sequence, or reveal once the sequence is exhausted.
func nextNightPhase(g *Game, current Phase) Phase {
	order := parseNightOrder(g.NightOrder)
	for i, p := range order {
		if p == current {
			if i+1 < len(order) {
				return order[i+1]
			}
			return PhaseReveal
		}
	}
	return PhaseReveal
}

func firstNightPhase(g *Game) Phase {
	return parseNightOrder(g.NightOrder)[0]
}

// nightActionDone reports whether the role owning this night phase has
// locked in its target.
func nightActionDone(phase Phase, rs *RoundState) bool {
	switch phase {
	case PhaseNightWolf:
		return rs.WolfTarget != nil
	case PhaseNightPolice:
		return rs.PoliceInspectTarget != nil
	case PhaseNightDoctor:
		return rs.DoctorSaveTarget != nil
	}
	return false
}

// startNight moves a game into its first night phase with a wiped scratch
// pad. Called when leaving the lobby and again after every elimination
// that does not end the game.
func startNight(tx *sqlx.Tx, g *Game, dayCount int) error {
	first := firstNightPhase(g)
	if _, err := tx.Exec(`UPDATE games SET phase = ?, day_count = ? WHERE id = ?`, first, dayCount, g.ID); err != nil {
		return err
	}
	_, err := tx.Exec(`
		UPDATE round_state SET
			wolf_target = NULL,
			police_inspect_target = NULL,
			police_inspect_result = NULL,
			doctor_save_target = NULL,
			resolved_death = NULL,
			phase_started = 0
		WHERE game_id = ?`, g.ID)
	if err != nil {
		return err
	}
	log.Printf("Game %d: night %d begins (%s)", g.ID, dayCount, first)
	return nil
}

// AdvancePhase is the host's "next" button through the night. In the
// lobby it starts night 1 once roles are dealt. During a night phase the
// first press wakes the phase's role, the second press (valid only after
// the role acted) moves to the next night phase or to reveal. Day phases
// use their own commands (begin_voting, final_vote, eliminate_player) and
// reject this one.
func (e *Engine) AdvancePhase(gameID int64, hostIdentity string) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can advance the phase")
		}

		switch {
		case g.Phase == PhaseLobby:
			var unassigned int
			err := tx.Get(&unassigned, `
				SELECT COUNT(*) FROM players WHERE game_id = ? AND is_host = 0 AND role IS NULL`, g.ID)
			if err != nil {
				return err
			}
			n, err := nonHostCount(tx, g.ID)
			if err != nil {
				return err
			}
			if n == 0 || unassigned > 0 {
				return invalidTransitionf("assign roles before starting the game")
			}
			// Removals after the deal can shrink a roled-up lobby.
			if n < minPlayers || n > maxPlayers {
				return capacityf("need %d-%d players to start, have %d", minPlayers, maxPlayers, n)
			}
			return startNight(tx, g, 1)

		case g.Phase.isNight():
			rs, err := getRoundState(tx, g.ID)
			if err != nil {
				return err
			}
			if !rs.PhaseStarted {
				// Wake press: the role opens its eyes, nothing advances yet.
				_, err = tx.Exec(`UPDATE round_state SET phase_started = 1 WHERE game_id = ?`, g.ID)
				DebugLog("AdvancePhase", "Game %d: %s woken", g.ID, g.Phase)
				return err
			}
			if !nightActionDone(g.Phase, &rs) {
				// A phase whose role has no living holder completes empty;
				// the host still walks through it so the table cannot infer
				// who is dead from the pacing.
				var holders int
				err = tx.Get(&holders, `
					SELECT COUNT(*) FROM players
					WHERE game_id = ? AND is_host = 0 AND alive = 1 AND role = ?`,
					g.ID, roleForPhase(g.Phase))
				if err != nil {
					return err
				}
				if holders > 0 {
					return invalidTransitionf("waiting for the %s action", nightPhaseNames[g.Phase])
				}
			}
			next := nextNightPhase(g, g.Phase)
			if _, err = tx.Exec(`UPDATE games SET phase = ? WHERE id = ?`, next, g.ID); err != nil {
				return err
			}
			if _, err = tx.Exec(`UPDATE round_state SET phase_started = 0 WHERE game_id = ?`, g.ID); err != nil {
				return err
			}
			log.Printf("Game %d: %s -> %s", g.ID, g.Phase, next)
			return nil

		default:
			return invalidTransitionf("cannot advance from %s", g.Phase)
		}
	})
}

// BeginVoting moves reveal -> day_vote after the host has revealed the
// night's outcome.
func (e *Engine) BeginVoting(gameID int64, hostIdentity string) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can begin voting")
		}
		if g.Phase != PhaseReveal {
			return invalidTransitionf("voting begins from the reveal, not %s", g.Phase)
		}
		rs, err := getRoundState(tx, g.ID)
		if err != nil {
			return err
		}
		// phase_started doubles as the "death was revealed" marker here.
		if !rs.PhaseStarted {
			return invalidTransitionf("reveal the night's outcome first")
		}
		if _, err = tx.Exec(`UPDATE games SET phase = ? WHERE id = ?`, PhaseDayVote, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d: day %d voting begins", g.ID, g.DayCount)
		return nil
	})
}

// FinalVote moves day_vote -> day_final_vote. Votes from the open round
// stay recorded; the final round collects fresh ballots.
func (e *Engine) FinalVote(gameID int64, hostIdentity string) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can call the final vote")
		}
		if g.Phase != PhaseDayVote {
			return invalidTransitionf("final vote is called from day_vote, not %s", g.Phase)
		}
		if _, err := tx.Exec(`UPDATE games SET phase = ? WHERE id = ?`, PhaseDayFinalVote, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d: final vote called for day %d", g.ID, g.DayCount)
		return nil
	})
}

// EndGame is the host's explicit abort. The row is marked ended, observers
// get one last snapshot, then the game and all children are deleted.
func (e *Engine) EndGame(gameID int64, hostIdentity string) error {
	err := e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can end the game")
		}
		if _, err := tx.Exec(`UPDATE games SET phase = ? WHERE id = ?`, PhaseEnded, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d ended by host", g.ID)
		return nil
	})
	if err != nil {
		return err
	}
	return e.DeleteGame(gameID)
}

// DeleteGame removes the game row; sqlite cascades take the children.
func (e *Engine) DeleteGame(gameID int64) error {
	lock := e.gameLock(gameID)
	lock.Lock()
	_, err := e.db.Exec(`DELETE FROM games WHERE id = ?`, gameID)
	lock.Unlock()
	if err != nil {
		return unavailable("deleteGame", err)
	}
	e.dropGameLock(gameID)
	LogDBState("after game deleted")
	e.notifyChanged(gameID)
	return nil
}
