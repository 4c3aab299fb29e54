package main

import (
	"log"

	"github.com/jmoiron/sqlx"
)

// removePlayerRow deletes one player and repairs everything that pointed
// at them: night targets referencing the player are cleared, and the
// usual post-death bookkeeping runs (win re-evaluation, and the
// below-floor abort for running games). Votes stay as historical record.
func removePlayerRow(tx *sqlx.Tx, g *Game, p Player) error {
	if _, err := tx.Exec(`DELETE FROM players WHERE id = ?`, p.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE round_state SET
			wolf_target = CASE WHEN wolf_target = ? THEN NULL ELSE wolf_target END,
			police_inspect_target = CASE WHEN police_inspect_target = ? THEN NULL ELSE police_inspect_target END,
			doctor_save_target = CASE WHEN doctor_save_target = ? THEN NULL ELSE doctor_save_target END,
			resolved_death = CASE WHEN resolved_death = ? THEN NULL ELSE resolved_death END
		WHERE game_id = ?`, p.ID, p.ID, p.ID, p.ID, g.ID); err != nil {
		return err
	}

	log.Printf("Game %d: player '%s' removed", g.ID, p.Name)
	DebugLog("removePlayerRow", "Player '%s' removed from game %d", p.Name, g.ID)

	if g.Phase == PhaseLobby || g.Phase == PhaseEnded {
		return nil
	}

	ended, err := applyWinIfAny(tx, g)
	if err != nil || ended {
		return err
	}

	n, err := nonHostCount(tx, g.ID)
	if err != nil {
		return err
	}
	if n < minPlayers {
		return endInconclusive(tx, g)
	}
	return nil
}

// RemovePlayer is the host kicking someone out. Removing the host is
// rejected; hosts end the game instead.
func (e *Engine) RemovePlayer(gameID int64, actingIdentity string, targetPlayerID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != actingIdentity {
			return forbiddenf("only the host can remove players")
		}
		target, err := getPlayerByID(tx, g.ID, targetPlayerID)
		if err != nil {
			if isNoRows(err) {
				return notFoundf("player not found")
			}
			return err
		}
		if target.IsHost {
			return forbiddenf("the host cannot be removed; end the game instead")
		}
		// A kick settles any pending leave request; the record stays.
		host, err := getPlayerByIdentity(tx, g.ID, actingIdentity)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			UPDATE leave_requests SET status = ?, processed_at = CURRENT_TIMESTAMP, processed_by = ?
			WHERE game_id = ? AND player_id = ? AND status = ?`,
			LeaveApproved, host.ID, g.ID, target.ID, LeavePending); err != nil {
			return err
		}
		return removePlayerRow(tx, g, target)
	})
}

// RequestLeave files a pending ask to exit mid-game. Idempotent while a
// request is pending; a previously denied player may ask again.
func (e *Engine) RequestLeave(gameID int64, clientIdentity string) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity == clientIdentity {
			return forbiddenf("the host cannot leave; end the game instead")
		}
		p, err := getPlayerByIdentity(tx, g.ID, clientIdentity)
		if err != nil {
			if isNoRows(err) {
				return notFoundf("you are not in this game")
			}
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO leave_requests (game_id, player_id, status)
			VALUES (?, ?, 'pending')
			ON CONFLICT(game_id, player_id) DO UPDATE SET
				status = 'pending',
				requested_at = CURRENT_TIMESTAMP,
				processed_at = NULL,
				processed_by = NULL
			WHERE leave_requests.status != 'pending'`, g.ID, p.ID)
		if err != nil {
			return err
		}

		log.Printf("Game %d: '%s' asked to leave", g.ID, p.Name)
		DebugLog("RequestLeave", "Player '%s' requested to leave game %d", p.Name, g.ID)
		return nil
	})
}

// resolveLeave loads the pending request and the host's own player row.
func resolveLeave(tx *sqlx.Tx, g *Game, hostIdentity string, playerID int64) (LeaveRequest, Player, error) {
	if g.HostIdentity != hostIdentity {
		return LeaveRequest{}, Player{}, forbiddenf("only the host can process leave requests")
	}
	var req LeaveRequest
	err := tx.Get(&req, `
		SELECT id, game_id, player_id, status, requested_at, processed_at, processed_by
		FROM leave_requests WHERE game_id = ? AND player_id = ?`, g.ID, playerID)
	if err != nil {
		if isNoRows(err) {
			return LeaveRequest{}, Player{}, notFoundf("no leave request for that player")
		}
		return LeaveRequest{}, Player{}, err
	}
	if req.Status != LeavePending {
		return LeaveRequest{}, Player{}, conflictf("the leave request was already %s", req.Status)
	}
	host, err := getPlayerByIdentity(tx, g.ID, hostIdentity)
	if err != nil {
		return LeaveRequest{}, Player{}, err
	}
	return req, host, nil
}

// ApproveLeave grants a pending request: the request is marked approved
// and the player is removed with full removal bookkeeping.
func (e *Engine) ApproveLeave(gameID int64, hostIdentity string, playerID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		req, host, err := resolveLeave(tx, g, hostIdentity, playerID)
		if err != nil {
			return err
		}
		if _, err = tx.Exec(`
			UPDATE leave_requests SET status = ?, processed_at = CURRENT_TIMESTAMP, processed_by = ?
			WHERE id = ?`, LeaveApproved, host.ID, req.ID); err != nil {
			return err
		}
		leaver, err := getPlayerByID(tx, g.ID, playerID)
		if err != nil {
			return err
		}
		return removePlayerRow(tx, g, leaver)
	})
}

// DenyLeave refuses a pending request; the player stays in the roster.
func (e *Engine) DenyLeave(gameID int64, hostIdentity string, playerID int64) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		req, host, err := resolveLeave(tx, g, hostIdentity, playerID)
		if err != nil {
			return err
		}
		if _, err = tx.Exec(`
			UPDATE leave_requests SET status = ?, processed_at = CURRENT_TIMESTAMP, processed_by = ?
			WHERE id = ?`, LeaveDenied, host.ID, req.ID); err != nil {
			return err
		}
		log.Printf("Game %d: leave request for player %d denied", g.ID, playerID)
		return nil
	})
}

// ChangeRole lets the host override a dealt role before the game starts.
// Only valid in the lobby, only after AssignRoles has run, never on the
// host themself.
func (e *Engine) ChangeRole(gameID int64, hostIdentity string, playerID int64, newRole Role) error {
	return e.withGame(gameID, func(tx *sqlx.Tx, g *Game) error {
		if g.HostIdentity != hostIdentity {
			return forbiddenf("only the host can change roles")
		}
		if g.Phase != PhaseLobby {
			return invalidTransitionf("roles can only be changed in the lobby")
		}
		target, err := getPlayerByID(tx, g.ID, playerID)
		if err != nil {
			if isNoRows(err) {
				return notFoundf("player not found")
			}
			return err
		}
		if target.IsHost {
			return forbiddenf("the host has no role")
		}
		if target.Role == nil {
			return validationf("assign roles before overriding them")
		}
		if _, err = tx.Exec(`UPDATE players SET role = ? WHERE id = ?`, newRole, target.ID); err != nil {
			return err
		}
		log.Printf("Game %d: host changed '%s' to %s", g.ID, target.Name, newRole)
		DebugLog("ChangeRole", "Host set '%s' to %s in game %d", target.Name, newRole, g.ID)
		return nil
	})
}
