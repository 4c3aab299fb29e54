package main

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// roleForPhase maps a night phase to the role that acts during it.
func roleForPhase(phase Phase) Role {
	switch phase {
	case PhaseNightWolf:
		return RoleWerewolf
	case PhaseNightPolice:
		return RolePolice
	default:
		return RoleDoctor
	}
}

// nightActor validates the acting player for a night action: right phase,
// right role, still alive.
func nightActor(tx *sqlx.Tx, g *Game, identity string, role Role, phase Phase) (Player, error) {
	if g.Phase != phase {
		return Player{}, invalidTransitionf("that action belongs to %s, the game is in %s", phase, g.Phase)
	}
	actor, err := getPlayerByIdentity(tx, g.ID, identity)
	if err != nil {
		if isNoRows(err) {
			return Player{}, notFoundf("you are not in this game")
		}
		return Player{}, err
	}
	if actor.IsHost || actor.Role == nil || *actor.Role != role {
		return Player{}, forbiddenf("only the %s can do that", role)
	}
	if !actor.Alive {
		return Player{}, forbiddenf("dead players cannot act")
	}
	return actor, nil
}

// nightTarget validates the target of a night action: in the game, alive,
// and never the host.
func nightTarget(tx *sqlx.Tx, g *Game, targetID int64) (Player, error) {
	target, err := getPlayerByID(tx, g.ID, targetID)
	if err != nil {
		if isNoRows(err) {
			return Player{}, notFoundf("target not found")
		}
		return Player{}, err
	}
	if target.IsHost {
		return Player{}, validationf("the host cannot be targeted")
	}
	if !target.Alive {
		return Player{}, validationf("cannot target a dead player")
	}
	return target, nil
}

// WolfSelect records the werewolves' victim. Repeat calls within the same
// night overwrite the previous choice; the last committed write wins.
func (e *Engine) WolfSelect(gameID int64, actingIdentity string, targetID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		actor, err := nightActor(tx, g, actingIdentity, RoleWerewolf, PhaseNightWolf)
		if err != nil {
			return err
		}
		target, err := nightTarget(tx, g, targetID)
		if err != nil {
			return err
		}
		if target.Role != nil && *target.Role == RoleWerewolf {
			return validationf("werewolves cannot attack their own")
		}

		if _, err = tx.Exec(`UPDATE round_state SET wolf_target = ? WHERE game_id = ?`, target.ID, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d: werewolf '%s' targets '%s'", g.ID, actor.Name, target.Name)
		DebugLog("WolfSelect", "Werewolf '%s' selected '%s'", actor.Name, target.Name)
		return nil
	})
}

// PoliceInspect records the inspected player and the derived result. The
// result is werewolf/not_werewolf, computed from the target's role at
// inspection time. Overwritable until the phase advances.
func (e *Engine) PoliceInspect(gameID int64, actingIdentity string, targetID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		actor, err := nightActor(tx, g, actingIdentity, RolePolice, PhaseNightPolice)
		if err != nil {
			return err
		}
		target, err := nightTarget(tx, g, targetID)
		if err != nil {
			return err
		}

		result := InspectNotWerewolf
		if target.Role != nil && *target.Role == RoleWerewolf {
			result = InspectWerewolf
		}

		if _, err = tx.Exec(`
			UPDATE round_state SET police_inspect_target = ?, police_inspect_result = ?
			WHERE game_id = ?`, target.ID, result, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d: police '%s' inspected '%s' (%s)", g.ID, actor.Name, target.Name, result)
		DebugLog("PoliceInspect", "Police '%s' inspected '%s': %s", actor.Name, target.Name, result)
		return nil
	})
}

// DoctorSave records the protected player. The doctor may protect anyone
// alive, themself included. Overwritable until the phase advances.
func (e *Engine) DoctorSave(gameID int64, actingIdentity string, targetID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		actor, err := nightActor(tx, g, actingIdentity, RoleDoctor, PhaseNightDoctor)
		if err != nil {
			return err
		}
		target, err := nightTarget(tx, g, targetID)
		if err != nil {
			return err
		}

		if _, err = tx.Exec(`UPDATE round_state SET doctor_save_target = ? WHERE game_id = ?`, target.ID, g.ID); err != nil {
			return err
		}
		log.Printf("Game %d: doctor '%s' protects '%s'", g.ID, actor.Name, target.Name)
		DebugLog("DoctorSave", "Doctor '%s' protecting '%s'", actor.Name, target.Name)
		return nil
	})
}

// RevealDeath applies the night's outcome: the wolves' victim dies unless
// the doctor picked the same player. Host-only, once per reveal; always
// re-evaluates the win condition afterwards.
func (e *Engine) RevealDeath(gameID int64, hostIdentity string) error {
	var victimName string
	err := e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can reveal the night's outcome")
		}
		if g.Phase != PhaseReveal {
			return invalidTransitionf("nothing to reveal in %s", g.Phase)
		}
		rs, err := getRoundState(tx, g.ID)
		if err != nil {
			return err
		}
		// phase_started marks "reveal done" within this phase.
		if rs.PhaseStarted {
			return invalidTransitionf("the night's outcome was already revealed")
		}

		var resolved *int64
		if rs.WolfTarget != nil {
			saved := rs.DoctorSaveTarget != nil && *rs.DoctorSaveTarget == *rs.WolfTarget
			if !saved {
				resolved = rs.WolfTarget
			}
		}

		if resolved != nil {
			victim, err := getPlayerByID(tx, g.ID, *resolved)
			if err != nil && !isNoRows(err) {
				return err
			}
			if err == nil {
				victimName = victim.Name
				if _, err = tx.Exec(`UPDATE players SET alive = 0 WHERE id = ?`, victim.ID); err != nil {
					return err
				}
				log.Printf("Game %d: '%s' died in the night", g.ID, victim.Name)
			}
		} else {
			log.Printf("Game %d: nobody died this night", g.ID)
		}

		if _, err = tx.Exec(`
			UPDATE round_state SET resolved_death = ?, phase_started = 1 WHERE game_id = ?`,
			resolved, g.ID); err != nil {
			return err
		}
		LogDBState("after reveal")

		_, err = applyWinIfAny(tx, g)
		return err
	})
	if err != nil {
		return err
	}
	if victimName != "" {
		e.maybeNarrate(gameID, victimName+" was found dead at dawn, taken by the wolves.")
	}
	return nil
}
