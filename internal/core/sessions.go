package core

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"geoforge/internal/domain"
	"geoforge/internal/repo"
)

// Resolve returns the active session of a token.
func (c *Core) Resolve(ctx context.Context, token string) (domain.Session, error) {
	s, err := c.Repo.ActiveSessionByToken(ctx, token)
	if errors.Is(err, repo.ErrNotFound) {
		return s, ErrSessionNotFound
	}
	return s, err
}

// ResolveOrCreate returns the active session of a token, creating one on
// first use. Concurrent first requests race on the token uniqueness rule;
// the loser discards its provisional resources and adopts the winner.
func (c *Core) ResolveOrCreate(ctx context.Context, token string) (domain.Session, error) {
	s, err := c.Repo.ActiveSessionByToken(ctx, token)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}

	ns, err := c.Geo.CreateNamespace(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	id := uuid.NewString()
	working := filepath.Join(c.Config.Storage.Workspace, "session", fmt.Sprintf("%x", md5.Sum([]byte(id))))
	if err := os.MkdirAll(working, 0o755); err != nil {
		_ = c.Geo.DropNamespace(ctx, ns)
		return domain.Session{}, err
	}
	now := c.now()
	s = domain.Session{
		UUID:        id,
		Token:       token,
		Created:     now,
		LastRequest: now,
		Active:      true,
		SchemaName:  ns,
		WorkingPath: working,
	}
	err = c.Repo.InsertSession(ctx, s)
	if repo.IsUniqueViolation(err, "token") {
		_ = c.Geo.DropNamespace(ctx, ns)
		_ = os.RemoveAll(working)
		return c.Resolve(ctx, token)
	}
	if err != nil {
		return domain.Session{}, err
	}
	c.Log.Info("session created", "token", token, "session", id)
	return s, nil
}

// Touch records request activity on a session.
func (c *Core) Touch(ctx context.Context, session string) error {
	err := c.Repo.TouchSession(ctx, session, c.now())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// Info summarizes the active session of a token.
func (c *Core) Info(ctx context.Context, token string) (domain.SessionInfo, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	count, err := c.Repo.CountLiveDatasets(ctx, s.UUID)
	if err != nil {
		return domain.SessionInfo{}, err
	}
	info := domain.SessionInfo{LastRequest: s.LastRequest, DatasetCount: count}
	if s.ActiveDataset != nil {
		ds, err := c.Repo.GetDataset(ctx, *s.ActiveDataset)
		if err == nil {
			di, err := c.Repo.DatasetInfo(ctx, s.UUID, ds.Label)
			if err == nil {
				info.ActiveDataset = &di
			}
		}
	}
	return info, nil
}

// SetActiveDataset points the session at one of its live datasets.
func (c *Core) SetActiveDataset(ctx context.Context, token, label string) (domain.DatasetInfo, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	ds, err := c.Repo.DatasetByLabel(ctx, s.UUID, label)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.DatasetInfo{}, ErrDatasetNotFound
	}
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	defer tx.Rollback()
	if err := c.Repo.SetActiveDatasetTx(ctx, tx, s.UUID, &ds.UUID); err != nil {
		return domain.DatasetInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DatasetInfo{}, err
	}
	return c.Repo.DatasetInfo(ctx, s.UUID, label)
}

// Close terminates the active session of a token and cascades: datasets are
// soft deleted, the engine namespace is dropped and the working directory
// removed. Completed history rows are kept.
func (c *Core) Close(ctx context.Context, token string) error {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return err
	}
	return c.closeSession(ctx, s)
}

func (c *Core) closeSession(ctx context.Context, s domain.Session) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := c.Repo.DeactivateSessionTx(ctx, tx, s.UUID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := c.Repo.SoftDeleteSessionDatasetsTx(ctx, tx, s.UUID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := c.Geo.DropNamespace(ctx, s.SchemaName); err != nil {
		c.Log.Warn("drop namespace failed", "session", s.UUID, "error", err)
	}
	if err := os.RemoveAll(s.WorkingPath); err != nil && !os.IsNotExist(err) {
		c.Log.Warn("remove working path failed", "session", s.UUID, "error", err)
	}
	c.Log.Info("session closed", "token", s.Token, "session", s.UUID)
	return nil
}

// ExpireIdle closes every active session idle for longer than the
// configured TTL. Returns the number of sessions closed.
func (c *Core) ExpireIdle(ctx context.Context) (int, error) {
	cutoff := c.Now().Add(-c.Config.SessionTTL()).Format(time.RFC3339)
	idle, err := c.Repo.IdleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, s := range idle {
		if err := c.closeSession(ctx, s); err != nil {
			c.Log.Warn("expire session failed", "session", s.UUID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}
