package main

import (
	"crypto/rand"
	"log"
	"math/big"

	"github.com/jmoiron/sqlx"
)

// werewolfCountFor scales the pack with the table size: 1 werewolf up to
// 8 players, 2 for 9-12, 3 beyond that.
func werewolfCountFor(playerCount int) int {
	switch {
	case playerCount <= 8:
		return 1
	case playerCount <= 12:
		return 2
	default:
		return 3
	}
}

// buildRolePool returns the deck for n non-host players: werewolves per
// table size, exactly one doctor, exactly one police, villagers fill up
// the rest.
func buildRolePool(n int) []Role {
	pool := make([]Role, 0, n)
	for i := 0; i < werewolfCountFor(n); i++ {
		pool = append(pool, RoleWerewolf)
	}
	pool = append(pool, RoleDoctor, RolePolice)
	for len(pool) < n {
		pool = append(pool, RoleVillager)
	}
	return pool
}

// shuffleRoles shuffles the role pool using crypto/rand
func shuffleRoles(roles []Role) {
	for i := len(roles) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// Fallback: just swap with previous element
			roles[i], roles[i-1] = roles[i-1], roles[i]
			continue
		}
		j := int(jBig.Int64())
		roles[i], roles[j] = roles[j], roles[i]
	}
}

// AssignRoles deals a shuffled role pool to the non-host roster, exactly
// once. It never changes the phase; the host advances out of the lobby
// separately, after everyone has seen their card. Repeat calls are
// rejected so assignments cannot be re-randomized once visible.
func (e *Engine) AssignRoles(gameID int64, hostIdentity string) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can assign roles")
		}
		if g.Phase != PhaseLobby {
			return invalidTransitionf("roles can only be assigned in the lobby")
		}

		players, err := getPlayersByGameID(tx, g.ID)
		if err != nil {
			return err
		}

		var roster []Player
		for _, p := range players {
			if p.IsHost {
				continue
			}
			if p.Role != nil {
				return conflictf("roles are already assigned")
			}
			roster = append(roster, p)
		}

		if len(roster) < minPlayers || len(roster) > maxPlayers {
			return capacityf("need %d-%d players to assign roles, have %d", minPlayers, maxPlayers, len(roster))
		}

		pool := buildRolePool(len(roster))
		shuffleRoles(pool)

		for i, p := range roster {
			if _, err := tx.Exec(`UPDATE players SET role = ? WHERE id = ?`, pool[i], p.ID); err != nil {
				return err
			}
		}

		log.Printf("Game %d: roles assigned to %d players (%d werewolves)",
			g.ID, len(roster), werewolfCountFor(len(roster)))
		DebugLog("AssignRoles", "Game %d dealt roles to %d players", g.ID, len(roster))
		return nil
	})
}
