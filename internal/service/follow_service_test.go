package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chandlergims/shillster/internal/consumer"
	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/events"
	"github.com/chandlergims/shillster/internal/repository"
	pkglog "github.com/chandlergims/shillster/pkg/log"
)

func TestInitiateFollow_AliceFollowsBob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleShiller)

	outcome, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRequested, outcome)

	outcome, err = f.follow.ResolveFollowRequest(ctx, f.pendingID(t, "1", "2"), "2", domain.RequestAccepted)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAccepted, outcome)

	status, err := f.follow.RelationStatus(ctx, "1", "2")
	require.NoError(t, err)
	assert.True(t, status.Following)
	assert.False(t, status.Requested)

	count, err := f.discovery.FollowerCount(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	outcome, err = f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyFollowing, outcome)

	assert.Equal(t, []string{events.EventFollowRequested, events.EventFollowAccepted}, f.pub.types())
}

func TestInitiateFollow_ExactlyOneOfPendingOrEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)
	f.addUser(t, "3", "carol", domain.RoleUser)
	f.makeFollow(t, "3", "2")

	for _, pair := range [][2]string{{"1", "2"}, {"3", "2"}} {
		_, err := f.follow.InitiateFollow(ctx, pair[0], pair[1])
		require.NoError(t, err)

		status, err := f.follow.RelationStatus(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, status.Following != status.Requested, "pair %v: following=%v requested=%v",
			pair, status.Following, status.Requested)
	}
}

func TestInitiateFollow_RepeatIsAlreadyRequested(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)

	outcome, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyRequested, outcome)

	pending, err := f.follow.PendingRequests(ctx, "2")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestInitiateFollow_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "1")
	assert.ErrorIs(t, err, ErrSelfFollow)

	_, err = f.follow.InitiateFollow(ctx, "1", "404")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.follow.InitiateFollow(ctx, "404", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.follow.InitiateFollow(ctx, "", "1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInitiateFollow_ConcurrentCallsCreateOneRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	const callers = 10
	outcomes := make([]domain.Outcome, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = f.follow.InitiateFollow(ctx, "1", "2")
		}(i)
	}
	wg.Wait()

	requested := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		switch outcomes[i] {
		case domain.OutcomeRequested:
			requested++
		default:
			assert.Equal(t, domain.OutcomeAlreadyRequested, outcomes[i])
		}
	}
	assert.Equal(t, 1, requested)

	pending, err := f.follow.PendingRequests(ctx, "2")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResolveFollowRequest_SecondResolutionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	id := f.pendingID(t, "1", "2")

	_, err = f.follow.ResolveFollowRequest(ctx, id, "2", domain.RequestAccepted)
	require.NoError(t, err)

	for _, decision := range []domain.RequestStatus{domain.RequestAccepted, domain.RequestDeclined} {
		_, err = f.follow.ResolveFollowRequest(ctx, id, "2", decision)
		assert.ErrorIs(t, err, ErrInvalidState)
	}
}

func TestResolveFollowRequest_AcceptIncrementsCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleShiller)
	f.addUser(t, "3", "carol", domain.RoleUser)
	f.makeFollow(t, "3", "2")

	before, err := f.discovery.FollowerCount(ctx, "2")
	require.NoError(t, err)

	_, err = f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	_, err = f.follow.ResolveFollowRequest(ctx, f.pendingID(t, "1", "2"), "2", domain.RequestAccepted)
	require.NoError(t, err)

	after, err := f.discovery.FollowerCount(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, before+1, after, "cache was invalidated on accept")
	assert.Equal(t, f.edgeFollowers(t, "2"), after)

	following, err := f.discovery.FollowingCount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), following)
}

func TestResolveFollowRequest_DeclineLeavesGraphUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)

	outcome, err := f.follow.ResolveFollowRequest(ctx, f.pendingID(t, "1", "2"), "2", domain.RequestDeclined)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, outcome)

	status, err := f.follow.RelationStatus(ctx, "1", "2")
	require.NoError(t, err)
	assert.False(t, status.Following)
	assert.False(t, status.Requested)

	counts, err := f.discovery.Counts(ctx, "2")
	require.NoError(t, err)
	assert.Zero(t, counts.Followers)
	assert.Zero(t, f.edgeFollowers(t, "2"))
}

func TestResolveFollowRequest_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)
	f.addUser(t, "3", "mallory", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	id := f.pendingID(t, "1", "2")

	_, err = f.follow.ResolveFollowRequest(ctx, id, "3", domain.RequestAccepted)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.follow.ResolveFollowRequest(ctx, id, "1", domain.RequestAccepted)
	assert.ErrorIs(t, err, ErrUnauthorized, "the requester cannot accept their own request")

	_, err = f.follow.ResolveFollowRequest(ctx, "missing", "2", domain.RequestAccepted)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.follow.ResolveFollowRequest(ctx, id, "2", domain.RequestPending)
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = f.follow.ResolveFollowRequest(ctx, id, "2", "maybe")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestResolveFollowRequest_ConcurrentResolutionsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	id := f.pendingID(t, "1", "2")

	const resolvers = 10
	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.follow.ResolveFollowRequest(ctx, id, "2", domain.RequestAccepted)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, winners)

	count, err := f.discovery.FollowerCount(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), f.edgeFollowers(t, "2"))
}

func TestUnfollow_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)
	f.makeFollow(t, "1", "2")

	for i := 0; i < 2; i++ {
		outcome, err := f.follow.Unfollow(ctx, "1", "2")
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUnfollowed, outcome)

		status, err := f.follow.RelationStatus(ctx, "1", "2")
		require.NoError(t, err)
		assert.False(t, status.Following)

		count, err := f.discovery.FollowerCount(ctx, "2")
		require.NoError(t, err)
		assert.Zero(t, count)
	}

	removed := 0
	for _, typ := range f.pub.types() {
		if typ == events.EventFollowRemoved {
			removed++
		}
	}
	assert.Equal(t, 1, removed, "only the first call changed the graph")

	_, err := f.follow.Unfollow(ctx, "1", "1")
	assert.ErrorIs(t, err, ErrSelfFollow)
}

func TestCancelFollowRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleUser)

	outcome, err := f.follow.CancelFollowRequest(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNothingPending, outcome)

	_, err = f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	id := f.pendingID(t, "1", "2")

	outcome, err = f.follow.CancelFollowRequest(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCancelled, outcome)

	_, err = f.follow.ResolveFollowRequest(ctx, id, "2", domain.RequestAccepted)
	assert.ErrorIs(t, err, ErrInvalidState)

	outcome, err = f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRequested, outcome)
}

func TestPendingRequests_ResolvesPictures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.users.Create(ctx, &domain.User{ID: "1", Handle: "alice", ProfilePicture: "avatars/a.png"}))
	f.addUser(t, "2", "bob", domain.RoleUser)

	_, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)

	pending, err := f.follow.PendingRequests(ctx, "2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].RequesterHandle)
	assert.Equal(t, mediaBaseURL+"/avatars/a.png", pending[0].RequesterProfilePicture)

	mine, err := f.follow.PendingRequests(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, mine, "outbound requests are not listed")
}

func TestFollowersAndFollowing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleShiller)
	f.makeFollow(t, "1", "2")

	followers, err := f.follow.Followers(ctx, "2", 0)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].Handle)
	assert.Nil(t, followers[0].Shills)

	following, err := f.follow.Following(ctx, "1", 0)
	require.NoError(t, err)
	require.Len(t, following, 1)
	assert.Equal(t, "bob", following[0].Handle)
	require.NotNil(t, following[0].Shills)

	_, err = f.follow.Followers(ctx, "404", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleCDCEvent_InvalidatesBothEnds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.counts.SetCounts(ctx, "alice", 1, 1))
	require.NoError(t, f.counts.SetCounts(ctx, "bob", 1, 1))
	require.NoError(t, f.counts.SetCounts(ctx, "carol", 1, 1))

	err := f.follow.HandleCDCEvent(ctx, &consumer.DebeziumMessage{Payload: consumer.DebeziumPayload{
		Op:     consumer.OpDelete,
		Before: &consumer.DebeziumFollowRecord{FollowerID: "alice", FollowingID: "bob"},
	}})
	require.NoError(t, err)

	for _, id := range []string{"alice", "bob"} {
		_, _, found, err := f.counts.GetCounts(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, id)
	}
	_, _, found, err := f.counts.GetCounts(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, found)

	assert.NoError(t, f.follow.HandleCDCEvent(ctx, &consumer.DebeziumMessage{Payload: consumer.DebeziumPayload{Op: consumer.OpSnapshot}}))
	assert.NoError(t, f.follow.HandleCDCEvent(ctx, &consumer.DebeziumMessage{Payload: consumer.DebeziumPayload{Op: consumer.OpCreate}}))
	assert.NoError(t, f.follow.HandleCDCEvent(ctx, &consumer.DebeziumMessage{Payload: consumer.DebeziumPayload{Op: "t"}}))
}

func TestInitiateFollow_AcceptLandingBeforeInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleShiller)

	outcome, err := f.follow.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeRequested, outcome)
	requestID := f.pendingID(t, "1", "2")

	// Bob accepts after alice's retry has seen no edge but before it looks
	// for the pending request.
	graph := &interleavedGraph{GraphRepository: f.graph}
	graph.before = func() {
		outcome, err := f.follow.ResolveFollowRequest(ctx, requestID, "2", domain.RequestAccepted)
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeAccepted, outcome)
	}
	svc := NewFollowService(f.users, graph, FollowServiceConfig{
		Counts:  f.counts,
		Emitter: events.NewEmitter(f.pub),
		Limits:  DefaultLimits,
	})

	outcome, err = svc.InitiateFollow(ctx, "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadyFollowing, outcome)

	following, err := f.graph.IsFollowing(ctx, "1", "2")
	require.NoError(t, err)
	assert.True(t, following)

	_, err = f.graph.FindPendingRequest(ctx, "1", "2")
	assert.ErrorIs(t, err, repository.ErrRequestNotFound, "no pending request next to the edge")

	inbox, err := f.follow.PendingRequests(ctx, "2")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	assert.Equal(t, int64(1), f.edgeFollowers(t, "2"))
	assert.Equal(t, []string{events.EventFollowRequested, events.EventFollowAccepted}, f.pub.types())
}

func TestFollowService_ReturnsStorageErrorsWithoutLogging(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "1", "alice", domain.RoleUser)
	f.addUser(t, "2", "bob", domain.RoleShiller)

	var buf bytes.Buffer
	ctx := pkglog.WithLogger(context.Background(), pkglog.New(pkglog.Config{Level: "debug"}, &buf))

	dbDown := errors.New("database is down")
	svc := NewFollowService(f.users, &failingGraph{GraphRepository: f.graph, err: dbDown}, FollowServiceConfig{})

	_, err := svc.InitiateFollow(ctx, "1", "2")
	assert.ErrorIs(t, err, dbDown)

	_, err = svc.Unfollow(ctx, "1", "2")
	assert.ErrorIs(t, err, dbDown)

	assert.Empty(t, buf.String(), "errors are left to the caller to report")
}
