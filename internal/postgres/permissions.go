package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/dbx"
	"github.com/MrEthical07/authcore/permission"
)

// PermissionRepository implements authcore.PermissionSource. Every
// snapshot is read inside one read-only repeatable-read transaction so
// roles and overwrites come from the same committed state.
type PermissionRepository struct {
	db *sql.DB
}

var _ authcore.PermissionSource = (*PermissionRepository)(nil)

func NewPermissionRepository(db *sql.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

func (r *PermissionRepository) PermissionSnapshot(ctx context.Context, serverID, channelID, userID string) (*authcore.PermissionSnapshot, error) {
	snap := &authcore.PermissionSnapshot{}
	if !validIDs(serverID, userID) || (channelID != "" && !validIDs(channelID)) {
		return snap, nil
	}

	err := dbx.WithTx(ctx, r.db, dbx.ReadSnapshot, func(ctx context.Context, tx dbx.DBTX) error {
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM servers WHERE id = $1`, serverID).Scan(&snap.OwnerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("db error: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT
			     EXISTS (SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2),
			     EXISTS (SELECT 1 FROM server_bans WHERE server_id = $1 AND user_id = $2)
			 `,
			serverID, userID).Scan(&snap.IsMember, &snap.Banned)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if snap.Banned || (!snap.IsMember && snap.OwnerID != userID) {
			return nil
		}

		if err := loadRoles(ctx, tx, snap, serverID, userID); err != nil {
			return err
		}
		if channelID == "" {
			return nil
		}
		return loadOverwrites(ctx, tx, snap, serverID, channelID)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func loadRoles(ctx context.Context, tx dbx.DBTX, snap *authcore.PermissionSnapshot, serverID, userID string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT r.id, r.permissions, r.position, r.is_everyone
		 FROM roles r
		 WHERE r.server_id = $1
		   AND (r.is_everyone OR r.id IN (
		       SELECT mr.role_id FROM member_roles mr
		       WHERE mr.server_id = $1 AND mr.user_id = $2))
		 `,
		serverID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role permission.Role
		if err := rows.Scan(&role.ID, &role.Permissions, &role.Position, &role.IsEveryone); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if role.IsEveryone {
			everyone := role
			snap.Everyone = &everyone
			continue
		}
		snap.Roles = append(snap.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func loadOverwrites(ctx context.Context, tx dbx.DBTX, snap *authcore.PermissionSnapshot, serverID, channelID string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT o.target_kind, o.target_id, o.allow_mask, o.deny_mask
		 FROM channel_overwrites o
		 JOIN channels c ON c.id = o.channel_id
		 WHERE o.channel_id = $1 AND c.server_id = $2
		 `,
		channelID, serverID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			ow   permission.Overwrite
		)
		if err := rows.Scan(&kind, &ow.TargetID, &ow.Allow, &ow.Deny); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		switch kind {
		case "role":
			ow.Kind = permission.TargetRole
		case "user":
			ow.Kind = permission.TargetUser
		default:
			continue
		}
		snap.Overwrites = append(snap.Overwrites, ow)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}
