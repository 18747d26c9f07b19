package permission

import (
	"context"
	"fmt"
	"log/slog"

	"guild-server/internal/apperr"
	"guild-server/internal/metrics"
	"guild-server/internal/models"
	"guild-server/internal/store"
)

// Engine resolves what a user may do in a server or channel. Missing data
// never produces an error: an absent server, role or permission row simply
// grants nothing. Errors are returned only when the store fails or ctx is
// done.
type Engine struct {
	store *store.Store
	cache *Cache
}

type Option func(*Engine)

// WithCache enables caching of role unions. A nil cache is ignored.
func WithCache(c *Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func NewEngine(s *store.Store, opts ...Option) *Engine {
	e := &Engine{store: s}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache != nil {
		e.cache.load = e.loadRoleUnion
	}
	return e
}

func (e *Engine) IsSiteAdmin(ctx context.Context, userID int64) (bool, error) {
	ok, err := e.store.SiteAdmins.Exists(ctx, store.Where("user_id = ?", userID))
	if err != nil {
		return false, fmt.Errorf("site admin lookup: %w", err)
	}
	return ok, nil
}

func (e *Engine) IsServerOwner(ctx context.Context, userID, serverID int64) (bool, error) {
	ok, err := e.store.Servers.Exists(ctx, store.Where("id = ? AND owner_id = ?", serverID, userID))
	if err != nil {
		return false, fmt.Errorf("server owner lookup: %w", err)
	}
	return ok, nil
}

func (e *Engine) bypass(ctx context.Context, userID, serverID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	admin, err := e.IsSiteAdmin(ctx, userID)
	if err != nil || admin {
		return admin, err
	}
	return e.IsServerOwner(ctx, userID, serverID)
}

// GetUserRoleIDsInServer returns the ids of every role userID holds in serverID.
func (e *Engine) GetUserRoleIDsInServer(ctx context.Context, userID, serverID int64) ([]int64, error) {
	var ids []int64
	err := e.store.UserRoles.Query(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID)).
		Order("role_id").
		Pluck("role_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("user roles lookup: %w", err)
	}
	return ids, nil
}

// GetUserRolesInServer returns the roles userID holds in serverID, highest
// position first.
func (e *Engine) GetUserRolesInServer(ctx context.Context, userID, serverID int64) ([]models.Role, error) {
	roles, err := e.store.Roles.Find(ctx,
		func(db *store.DB) *store.DB {
			return db.Joins("JOIN user_roles ON user_roles.role_id = roles.id").
				Where("user_roles.user_id = ? AND roles.server_id = ?", userID, serverID)
		},
		store.OrderBy("roles.position DESC, roles.id"),
	)
	if err != nil {
		return nil, fmt.Errorf("user roles lookup: %w", err)
	}
	return roles, nil
}

// GetEffectiveServerPermissions returns the capabilities userID holds in
// serverID. Site admins and the owner hold everything. Otherwise the result
// is the OR of every held role; nil means the user holds no roles at all.
func (e *Engine) GetEffectiveServerPermissions(ctx context.Context, userID, serverID int64) (*models.RolePermissions, error) {
	ok, err := e.bypass(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}
	if ok {
		return AllGranted(), nil
	}
	return e.roleUnion(ctx, userID, serverID)
}

// HasServerPermission reports whether userID may exercise c in serverID.
func (e *Engine) HasServerPermission(ctx context.Context, userID, serverID int64, c Capability) (bool, error) {
	if !c.Valid() {
		slog.Warn("unknown capability", "capability", string(c), "user_id", userID, "server_id", serverID)
		return false, nil
	}
	ok, err := e.bypass(ctx, userID, serverID)
	if err != nil {
		return false, err
	}
	if !ok {
		perms, err := e.roleUnion(ctx, userID, serverID)
		if err != nil {
			return false, err
		}
		ok = Granted(perms, c)
	}
	metrics.RecordPermissionCheck(ok)
	return ok, nil
}

// HasChannelPermission reports whether userID may exercise c in channelID.
// Among the user's roles an explicit channel allow wins over an explicit
// deny, a deny wins over inheritance, and inheritance falls back to the
// server-level result.
func (e *Engine) HasChannelPermission(ctx context.Context, userID, channelID, serverID int64, c Capability) (bool, error) {
	if !c.Valid() {
		slog.Warn("unknown capability", "capability", string(c), "user_id", userID, "channel_id", channelID)
		return false, nil
	}
	ok, err := e.bypass(ctx, userID, serverID)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.RecordPermissionCheck(true)
		return true, nil
	}

	roleIDs, err := e.GetUserRoleIDsInServer(ctx, userID, serverID)
	if err != nil {
		return false, err
	}
	if len(roleIDs) == 0 {
		metrics.RecordPermissionCheck(false)
		return false, nil
	}

	overrides, err := e.store.ChannelRolePermissions.Find(ctx,
		store.Where("channel_id = ? AND role_id IN ?", channelID, roleIDs))
	if err != nil {
		return false, fmt.Errorf("channel overrides lookup: %w", err)
	}

	ok, decided := resolveOverrides(overrides, c)
	if !decided {
		perms, err := e.roleUnion(ctx, userID, serverID)
		if err != nil {
			return false, err
		}
		ok = Granted(perms, c)
	}
	metrics.RecordPermissionCheck(ok)
	return ok, nil
}

// resolveOverrides reduces per-role tri-state overrides to a decision.
// decided is false when every override inherits.
func resolveOverrides(overrides []models.ChannelRolePermission, c Capability) (allowed, decided bool) {
	denied := false
	for i := range overrides {
		v := Override(&overrides[i], c)
		if v == nil {
			continue
		}
		if *v {
			return true, true
		}
		denied = true
	}
	if denied {
		return false, true
	}
	return false, false
}

func (e *Engine) roleUnion(ctx context.Context, userID, serverID int64) (*models.RolePermissions, error) {
	if e.cache != nil {
		return e.cache.Get(ctx, userID, serverID)
	}
	return e.loadRoleUnion(ctx, userID, serverID)
}

func (e *Engine) loadRoleUnion(ctx context.Context, userID, serverID int64) (*models.RolePermissions, error) {
	roleIDs, err := e.GetUserRoleIDsInServer(ctx, userID, serverID)
	if err != nil {
		return nil, err
	}
	if len(roleIDs) == 0 {
		return nil, nil
	}

	rows, err := e.store.RolePermissions.Find(ctx, store.Where("role_id IN ?", roleIDs))
	if err != nil {
		return nil, fmt.Errorf("role permissions lookup: %w", err)
	}

	out := &models.RolePermissions{}
	for i := range rows {
		union(out, &rows[i])
	}
	return out, nil
}

// RequireServer returns an apperr.ErrForbidden error unless userID holds c
// in serverID.
func (e *Engine) RequireServer(ctx context.Context, userID, serverID int64, c Capability) error {
	ok, err := e.HasServerPermission(ctx, userID, serverID, c)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("missing " + string(c))
	}
	return nil
}

// RequireChannel is RequireServer resolved in a channel.
func (e *Engine) RequireChannel(ctx context.Context, userID, channelID, serverID int64, c Capability) error {
	ok, err := e.HasChannelPermission(ctx, userID, channelID, serverID, c)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("missing " + string(c) + " in channel")
	}
	return nil
}

// RequireSiteAdmin returns an apperr.ErrForbidden error unless userID is a
// site administrator.
func (e *Engine) RequireSiteAdmin(ctx context.Context, userID int64) error {
	ok, err := e.IsSiteAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("site administrators only")
	}
	return nil
}
