package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/chandlergims/shillster/internal/audit"
	"github.com/chandlergims/shillster/internal/consumer"
	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/events"
	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/internal/store"
	pkglog "github.com/chandlergims/shillster/pkg/log"
)

// followService implements FollowService.
type followService struct {
	users        repository.UserRepository
	graph        repository.GraphRepository
	counts       store.CountStore
	emitter      *events.Emitter
	limits       Limits
	mediaBaseURL string
}

// FollowServiceConfig carries the optional collaborators of a FollowService.
type FollowServiceConfig struct {
	Counts       store.CountStore
	Emitter      *events.Emitter
	Limits       Limits
	MediaBaseURL string
}

// NewFollowService creates a new FollowService instance.
func NewFollowService(users repository.UserRepository, graph repository.GraphRepository, cfg FollowServiceConfig) FollowService {
	if cfg.Counts == nil {
		cfg.Counts = store.NopCountStore{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewEmitter(nil)
	}
	return &followService{
		users:        users,
		graph:        graph,
		counts:       cfg.Counts,
		emitter:      cfg.Emitter,
		limits:       cfg.Limits,
		mediaBaseURL: cfg.MediaBaseURL,
	}
}

// InitiateFollow asks targetID to accept actorID as a follower. Every follow
// goes through a request; an existing edge or pending request is reported
// as a successful no-op.
func (s *followService) InitiateFollow(ctx context.Context, actorID, targetID string) (domain.Outcome, error) {
	if actorID == "" {
		return "", ErrUnauthorized
	}
	if actorID == targetID {
		return "", ErrSelfFollow
	}
	if err := s.ensureUsers(ctx, actorID, targetID); err != nil {
		return "", err
	}

	if outcome, ok, err := s.existingRelation(ctx, actorID, targetID); err != nil || ok {
		return outcome, err
	}

	req, err := s.graph.CreateRequest(ctx, actorID, targetID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return s.classifyRace(ctx, actorID, targetID)
		case errors.Is(err, repository.ErrAlreadyFollowing):
			return domain.OutcomeAlreadyFollowing, nil
		case errors.Is(err, repository.ErrUserNotFound):
			return "", ErrNotFound
		}
		return "", fmt.Errorf("create follow request: %w", err)
	}

	s.emit(ctx, events.EventFollowRequested, events.FollowPayload{
		RequestID:   req.ID,
		FollowerID:  actorID,
		FollowingID: targetID,
	})
	audit.LogTarget(ctx, audit.ActionFollowRequest, actorID, targetID, "follow requested")

	return domain.OutcomeRequested, nil
}

// existingRelation reports an edge or pending request that makes a new
// request unnecessary.
func (s *followService) existingRelation(ctx context.Context, actorID, targetID string) (domain.Outcome, bool, error) {
	following, err := s.graph.IsFollowing(ctx, actorID, targetID)
	if err != nil {
		return "", false, fmt.Errorf("check follow edge: %w", err)
	}
	if following {
		return domain.OutcomeAlreadyFollowing, true, nil
	}

	_, err = s.graph.FindPendingRequest(ctx, actorID, targetID)
	switch {
	case err == nil:
		return domain.OutcomeAlreadyRequested, true, nil
	case errors.Is(err, repository.ErrRequestNotFound):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("check pending request: %w", err)
	}
}

// classifyRace runs after losing the insert race on the pending key.
func (s *followService) classifyRace(ctx context.Context, actorID, targetID string) (domain.Outcome, error) {
	outcome, ok, err := s.existingRelation(ctx, actorID, targetID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrConflict
	}
	return outcome, nil
}

// ResolveFollowRequest applies the target's decision to a pending request.
func (s *followService) ResolveFollowRequest(ctx context.Context, requestID, resolverID string, decision domain.RequestStatus) (domain.Outcome, error) {
	if resolverID == "" {
		return "", ErrUnauthorized
	}
	if !decision.IsDecision() {
		return "", ErrInvalidDecision
	}

	req, err := s.graph.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get follow request: %w", err)
	}
	if req.TargetID != resolverID {
		return "", ErrUnauthorized
	}
	if req.Status.Terminal() {
		return "", ErrInvalidState
	}

	resolved, edgeCreated, err := s.graph.ResolveRequest(ctx, requestID, decision)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRequestNotPending):
			return "", ErrInvalidState
		case errors.Is(err, repository.ErrRequestNotFound), errors.Is(err, repository.ErrUserNotFound):
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve follow request: %w", err)
	}

	if edgeCreated {
		s.invalidate(ctx, resolved.RequesterID, resolved.TargetID)
	}

	payload := events.FollowPayload{
		RequestID:   resolved.ID,
		FollowerID:  resolved.RequesterID,
		FollowingID: resolved.TargetID,
	}
	if decision == domain.RequestAccepted {
		s.emit(ctx, events.EventFollowAccepted, payload)
		audit.LogTarget(ctx, audit.ActionFollowAccept, resolverID, resolved.RequesterID, "follow request accepted")
		return domain.OutcomeAccepted, nil
	}

	s.emit(ctx, events.EventFollowDeclined, payload)
	audit.LogTarget(ctx, audit.ActionFollowDecline, resolverID, resolved.RequesterID, "follow request declined")
	return domain.OutcomeDeclined, nil
}

// Unfollow removes the edge actorID -> targetID. Removing an absent edge
// succeeds; request history is left alone.
func (s *followService) Unfollow(ctx context.Context, actorID, targetID string) (domain.Outcome, error) {
	if actorID == "" {
		return "", ErrUnauthorized
	}
	if actorID == targetID {
		return "", ErrSelfFollow
	}

	removed, err := s.graph.DeleteEdge(ctx, actorID, targetID)
	if err != nil {
		return "", fmt.Errorf("delete follow edge: %w", err)
	}

	if removed {
		s.invalidate(ctx, actorID, targetID)
		s.emit(ctx, events.EventFollowRemoved, events.FollowPayload{FollowerID: actorID, FollowingID: targetID})
		audit.LogTarget(ctx, audit.ActionUnfollow, actorID, targetID, "unfollowed")
	}

	return domain.OutcomeUnfollowed, nil
}

// CancelFollowRequest withdraws actorID's pending request to targetID.
func (s *followService) CancelFollowRequest(ctx context.Context, actorID, targetID string) (domain.Outcome, error) {
	if actorID == "" {
		return "", ErrUnauthorized
	}
	if actorID == targetID {
		return "", ErrSelfFollow
	}

	req, err := s.graph.CancelPendingRequest(ctx, actorID, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrRequestNotFound) {
			return domain.OutcomeNothingPending, nil
		}
		return "", fmt.Errorf("cancel follow request: %w", err)
	}

	s.emit(ctx, events.EventFollowCancelled, events.FollowPayload{
		RequestID:   req.ID,
		FollowerID:  actorID,
		FollowingID: targetID,
	})
	audit.LogTarget(ctx, audit.ActionFollowCancel, actorID, targetID, "follow request cancelled")

	return domain.OutcomeCancelled, nil
}

// PendingRequests lists the requests waiting on userID, oldest first.
func (s *followService) PendingRequests(ctx context.Context, userID string) ([]domain.PendingRequest, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	pending, err := s.graph.ListPendingRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	for i := range pending {
		pending[i].RequesterProfilePicture = domain.ResolvePictureURL(pending[i].RequesterProfilePicture, s.mediaBaseURL)
	}
	return pending, nil
}

// RelationStatus describes how actorID and targetID are related.
func (s *followService) RelationStatus(ctx context.Context, actorID, targetID string) (*domain.RelationStatus, error) {
	if actorID == "" {
		return nil, ErrUnauthorized
	}
	if err := s.ensureUsers(ctx, targetID); err != nil {
		return nil, err
	}

	var status domain.RelationStatus
	var err error
	if status.Following, err = s.graph.IsFollowing(ctx, actorID, targetID); err != nil {
		return nil, err
	}
	if status.FollowedBy, err = s.graph.IsFollowing(ctx, targetID, actorID); err != nil {
		return nil, err
	}

	_, err = s.graph.FindPendingRequest(ctx, actorID, targetID)
	switch {
	case err == nil:
		status.Requested = true
	case !errors.Is(err, repository.ErrRequestNotFound):
		return nil, err
	}
	return &status, nil
}

// Followers lists the users following userID.
func (s *followService) Followers(ctx context.Context, userID string, limit int) ([]domain.UserSummary, error) {
	if err := s.ensureUsers(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.graph.ListFollowers(ctx, userID, s.limits.Clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return summaries(users, s.mediaBaseURL), nil
}

// Following lists the users userID follows.
func (s *followService) Following(ctx context.Context, userID string, limit int) ([]domain.UserSummary, error) {
	if err := s.ensureUsers(ctx, userID); err != nil {
		return nil, err
	}
	users, err := s.graph.ListFollowing(ctx, userID, s.limits.Clamp(limit))
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return summaries(users, s.mediaBaseURL), nil
}

// HandleCDCEvent drops the cached counters of both ends of a changed edge.
// Changes made by any writer, including other replicas, reach the cache
// this way.
func (s *followService) HandleCDCEvent(ctx context.Context, event *consumer.DebeziumMessage) error {
	l := pkglog.Ctx(ctx)
	op := event.Payload.Op

	switch op {
	case consumer.OpSnapshot:
		return nil

	case consumer.OpCreate, consumer.OpDelete, consumer.OpUpdate:
		ids := event.UserIDs()
		if len(ids) == 0 {
			l.Warn().Str("op", op).Msg("CDC event carries no row image")
			return nil
		}
		if err := s.counts.Invalidate(ctx, ids...); err != nil {
			return fmt.Errorf("invalidate counts: %w", err)
		}

	default:
		l.Warn().Str("op", op).Msg("unknown CDC operation, skipping")
	}

	return nil
}

// ensureUsers maps a missing user onto ErrNotFound.
func (s *followService) ensureUsers(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get user: %w", err)
		}
	}
	return nil
}

func (s *followService) invalidate(ctx context.Context, userIDs ...string) {
	if err := s.counts.Invalidate(ctx, userIDs...); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Strs("user_ids", userIDs).Msg("failed to invalidate cached counts")
	}
}

func (s *followService) emit(ctx context.Context, eventType string, payload events.FollowPayload) {
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str("event", eventType).Msg("failed to publish follow event")
	}
}

func summaries(users []domain.User, mediaBaseURL string) []domain.UserSummary {
	out := make([]domain.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToSummary(mediaBaseURL))
	}
	return out
}

// Ensure interface is satisfied at compile time.
var _ FollowService = (*followService)(nil)
var _ consumer.CDCEventHandler = (*followService)(nil)
