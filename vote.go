package main

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// CastVote upserts the voter's ballot for the current vote phase. Voters
// can change their mind freely during day_vote and during day_final_vote
// right up until the elimination is applied; after that the round's
// ballots are a frozen historical record.
func (e *Engine) CastVote(gameID int64, voterIdentity string, targetID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.Phase != PhaseDayVote && g.Phase != PhaseDayFinalVote {
			return invalidTransitionf("voting is not open in %s", g.Phase)
		}

		voter, err := getPlayerByIdentity(tx, g.ID, voterIdentity)
		if err != nil {
			if isNoRows(err) {
				return notFoundf("you are not in this game")
			}
			return err
		}
		if voter.IsHost {
			return forbiddenf("the host does not vote")
		}
		if !voter.Alive {
			return forbiddenf("dead players cannot vote")
		}

		target, err := getPlayerByID(tx, g.ID, targetID)
		if err != nil {
			if isNoRows(err) {
				return notFoundf("target not found")
			}
			return err
		}
		if target.IsHost {
			return validationf("the host cannot be voted for")
		}
		if !target.Alive {
			return validationf("cannot vote for a dead player")
		}

		var eliminated int
		err = tx.Get(&eliminated, `
			SELECT COUNT(*) FROM eliminations WHERE game_id = ? AND round = ?`, g.ID, g.DayCount)
		if err != nil {
			return err
		}
		if eliminated > 0 {
			return invalidTransitionf("the round's elimination is already decided")
		}

		_, err = tx.Exec(`
			INSERT INTO votes (game_id, voter_player_id, target_player_id, round, phase)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(game_id, voter_player_id, round, phase)
			DO UPDATE SET target_player_id = ?`,
			g.ID, voter.ID, target.ID, g.DayCount, g.Phase, target.ID)
		if err != nil {
			return err
		}

		log.Printf("Game %d: '%s' voted for '%s' (%s)", g.ID, voter.Name, target.Name, g.Phase)
		DebugLog("CastVote", "'%s' voted for '%s' in %s", voter.Name, target.Name, g.Phase)
		LogDBState("after vote")
		return nil
	})
}

// tallyVotes finds the highest-voted player for a round/phase pair.
// tied is true when two or more players share the maximum.
func tallyVotes(tx *sqlx.Tx, gameID int64, round int, phase Phase) (top int64, tied bool, total int, err error) {
	var votes []Vote
	err = tx.Select(&votes, `
		SELECT id, game_id, voter_player_id, target_player_id, round, phase
		FROM votes WHERE game_id = ? AND round = ? AND phase = ?`, gameID, round, phase)
	if err != nil {
		return 0, false, 0, err
	}

	counts := make(map[int64]int)
	for _, v := range votes {
		counts[v.TargetPlayerID]++
	}

	var maxVotes int
	for targetID, count := range counts {
		if count > maxVotes {
			maxVotes = count
			top = targetID
			tied = false
		} else if count == maxVotes {
			tied = true
		}
	}
	return top, tied, len(votes), nil
}

// EliminatePlayer applies the final vote's outcome. A strict maximum is
// required: on a tie nobody is eliminated and the host gets a validation
// error rather than a silent no-op. On success the victim dies, the win
// condition is re-checked, and a surviving game rolls into the next night.
func (e *Engine) EliminatePlayer(gameID int64, hostIdentity string) error {
	var victimName string
	err := e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can apply the elimination")
		}
		if g.Phase != PhaseDayFinalVote {
			return invalidTransitionf("elimination happens after the final vote, not in %s", g.Phase)
		}

		top, tied, total, err := tallyVotes(tx, g.ID, g.DayCount, PhaseDayFinalVote)
		if err != nil {
			return err
		}
		if total == 0 {
			return validationf("no final votes have been cast")
		}
		if tied {
			return validationf("the vote is tied, nobody is eliminated")
		}

		victim, err := getPlayerByID(tx, g.ID, top)
		if err != nil {
			if isNoRows(err) {
				return validationf("the highest-voted player already left the game")
			}
			return err
		}
		victimName = victim.Name

		if _, err = tx.Exec(`UPDATE players SET alive = 0 WHERE id = ?`, victim.ID); err != nil {
			return err
		}
		if _, err = tx.Exec(`
			INSERT INTO eliminations (game_id, round, player_id) VALUES (?, ?, ?)`,
			g.ID, g.DayCount, victim.ID); err != nil {
			return err
		}

		log.Printf("Game %d: the village eliminated '%s'", g.ID, victim.Name)
		DebugLog("EliminatePlayer", "Village eliminated '%s'", victim.Name)
		LogDBState("after elimination")

		ended, err := applyWinIfAny(tx, g)
		if err != nil {
			return err
		}
		if ended {
			return nil
		}
		return startNight(tx, g, g.DayCount+1)
	})
	if err != nil {
		return err
	}
	if victimName != "" {
		e.maybeNarrate(gameID, victimName+" was cast out by the village's vote.")
	}
	return nil
}
