package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/internal/store"
	pkglog "github.com/chandlergims/shillster/pkg/log"
)

type discoveryService struct {
	users        repository.UserRepository
	graph        repository.GraphRepository
	counts       store.CountStore
	limits       Limits
	mediaBaseURL string
	sf           singleflight.Group
}

// NewDiscoveryService creates a new DiscoveryService. A nil counts store
// disables caching.
func NewDiscoveryService(users repository.UserRepository, graph repository.GraphRepository, counts store.CountStore, limits Limits, mediaBaseURL string) DiscoveryService {
	if counts == nil {
		counts = store.NopCountStore{}
	}
	return &discoveryService{
		users:        users,
		graph:        graph,
		counts:       counts,
		limits:       limits,
		mediaBaseURL: mediaBaseURL,
	}
}

// ListNewUsers returns the most recently registered users.
func (s *discoveryService) ListNewUsers(ctx context.Context, limit int) ([]domain.UserSummary, error) {
	users, err := s.users.ListNewest(ctx, s.limits.Clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("list new users: %w", err)
	}
	return summaries(users, s.mediaBaseURL), nil
}

// ListTopShillers ranks shillers by follower count, ties broken by handle.
func (s *discoveryService) ListTopShillers(ctx context.Context, limit int) ([]domain.UserSummary, error) {
	users, err := s.graph.TopByFollowers(ctx, domain.RoleShiller, s.limits.Clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("list top shillers: %w", err)
	}
	return summaries(users, s.mediaBaseURL), nil
}

// FollowerCount returns userID's follower count.
func (s *discoveryService) FollowerCount(ctx context.Context, userID string) (int64, error) {
	counts, err := s.Counts(ctx, userID)
	if err != nil {
		return 0, err
	}
	return counts.Followers, nil
}

// FollowingCount returns how many users userID follows.
func (s *discoveryService) FollowingCount(ctx context.Context, userID string) (int64, error) {
	counts, err := s.Counts(ctx, userID)
	if err != nil {
		return 0, err
	}
	return counts.Following, nil
}

// Counts returns both counters of userID. It checks Redis first; on a miss
// it reads the users row and populates Redis unless an edge change
// invalidated the entry in the meantime. Concurrent misses for one user
// share a single database read.
func (s *discoveryService) Counts(ctx context.Context, userID string) (*domain.FollowCounts, error) {
	l := pkglog.Ctx(ctx)

	if err := s.counts.RecordAccess(ctx, userID); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to record hot key access")
	}

	followers, following, found, err := s.counts.GetCounts(ctx, userID)
	if err != nil {
		l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("redis get counts failed, falling back to db")
	}
	if found {
		return &domain.FollowCounts{UserID: userID, Followers: followers, Following: following}, nil
	}

	result, err, _ := s.sf.Do(userID, func() (interface{}, error) {
		version, verErr := s.counts.CountsVersion(ctx, userID)
		if verErr != nil {
			l.Warn().Err(verErr).Str(pkglog.FieldUserID, userID).Msg("failed to read counts version, skipping cache fill")
		}

		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}

		if verErr == nil {
			stored, err := s.counts.SetCountsIfVersion(ctx, userID, version, user.FollowersCount, user.FollowingCount)
			switch {
			case err != nil:
				l.Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to set counts in redis")
			case !stored:
				l.Debug().Str(pkglog.FieldUserID, userID).Msg("counts not cached")
			}
		}

		return &domain.FollowCounts{
			UserID:    userID,
			Followers: user.FollowersCount,
			Following: user.FollowingCount,
		}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get counts: %w", err)
	}

	counts := *result.(*domain.FollowCounts)
	return &counts, nil
}

// Discover fetches the top shillers and the newest users in parallel.
func (s *discoveryService) Discover(ctx context.Context, limitTop, limitNew int) (*domain.Discover, error) {
	var out domain.Discover

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		out.TopShillers, err = s.ListTopShillers(gCtx, limitTop)
		return err
	})

	g.Go(func() error {
		var err error
		out.NewUsers, err = s.ListNewUsers(gCtx, limitNew)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ensure interface is satisfied at compile time.
var _ DiscoveryService = (*discoveryService)(nil)
