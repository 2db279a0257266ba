package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/chandlergims/shillster/internal/config"
	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/internal/store"
	pkglog "github.com/chandlergims/shillster/pkg/log"
)

// Reconciler periodically recounts the most read users, repairs drifted
// counters in the database and refreshes their Redis entries. When no reads
// were tracked, as with Redis disabled, it sweeps through all users instead,
// one batch per cycle.
type Reconciler struct {
	store  store.CountStore
	repo   repository.GraphRepository
	cfg    config.ReconcilerConfig
	quit   chan struct{}
	doneCh chan struct{}

	// sweepCursor is the last user id recounted by the sweep. Only the run
	// goroutine touches it.
	sweepCursor string
}

// New creates a new Reconciler.
func New(store store.CountStore, repo repository.GraphRepository, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:  store,
		repo:   repo,
		cfg:    cfg,
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the reconciler in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the reconciler to stop and returns immediately.
// Call Done() to wait for it to exit.
func (r *Reconciler) Stop() {
	close(r.quit)
}

// Done returns a channel that is closed when the reconciler has fully stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) {
	l := pkglog.L()
	l.Debug().Msg("reconciler: starting hot-key reconciliation")

	topN := int64(r.cfg.TopN)
	if topN <= 0 {
		topN = 100
	}

	// 1. Fetch top-N hot keys
	userIDs, err := r.store.GetTopHotKeys(ctx, topN)
	if err != nil {
		l.Error().Err(err).Msg("reconciler: failed to get top hot keys")
		return
	}

	if len(userIDs) == 0 {
		r.sweep(ctx, int(topN))
		return
	}

	// 2. Recount each hot key from the edges, then refresh Redis
	drifted := r.recount(ctx, userIDs)

	// 3. Reset hot key scores for the next cycle
	if err := r.store.ResetHotKeyScores(ctx); err != nil {
		l.Error().Err(err).Msg("reconciler: failed to reset hot key scores")
	}

	l.Info().Int("count", len(userIDs)).Int("drifted", drifted).Msg("reconciler: hot-key reconciliation complete")
}

// sweep recounts the next batch of users after the cursor and wraps around
// once the last page comes back short.
func (r *Reconciler) sweep(ctx context.Context, batch int) {
	l := pkglog.L()

	userIDs, err := r.repo.UserIDsAfter(ctx, r.sweepCursor, batch)
	if err != nil {
		l.Error().Err(err).Msg("reconciler: failed to list users for sweep")
		return
	}

	if len(userIDs) < batch {
		r.sweepCursor = ""
	} else {
		r.sweepCursor = userIDs[len(userIDs)-1]
	}
	if len(userIDs) == 0 {
		l.Debug().Msg("reconciler: no users to sweep")
		return
	}

	drifted := r.recount(ctx, userIDs)
	l.Info().Int("count", len(userIDs)).Int("drifted", drifted).Msg("reconciler: sweep batch complete")
}

// recount repairs the counters of userIDs and returns how many had drifted.
func (r *Reconciler) recount(ctx context.Context, userIDs []string) int {
	l := pkglog.L()
	drifted := 0

	for _, userID := range userIDs {
		version, verErr := r.store.CountsVersion(ctx, userID)
		if verErr != nil {
			l.Warn().Err(verErr).Str(pkglog.FieldUserID, userID).Msg("reconciler: failed to read counts version")
		}

		drift, err := r.repo.RecountUser(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				if err := r.store.Invalidate(ctx, userID); err != nil {
					l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("reconciler: failed to drop counts of missing user")
				}
				continue
			}
			l.Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("reconciler: failed to recount user")
			continue
		}

		if drift.Drifted() {
			drifted++
			l.Warn().
				Str(pkglog.FieldUserID, userID).
				Int64("cached_followers", drift.CachedFollowers).
				Int64("cached_following", drift.CachedFollowing).
				Int64("followers", drift.Followers).
				Int64("following", drift.Following).
				Msg("reconciler: repaired drifted counters")
		}

		if verErr != nil {
			continue
		}
		if _, err := r.store.SetCountsIfVersion(ctx, userID, version, drift.Followers, drift.Following); err != nil {
			l.Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("reconciler: failed to set counts in redis")
		}
	}
	return drifted
}
