package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/events"
	"github.com/chandlergims/shillster/internal/repository"
	"github.com/chandlergims/shillster/internal/store"
	"github.com/chandlergims/shillster/internal/testutil"
	"github.com/chandlergims/shillster/pkg/pubsub"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	users     *repository.GormUserRepository
	graph     *repository.GormGraphRepository
	counts    *store.RedisCountStore
	redis     *miniredis.Miniredis
	pub       *recordingPublisher
	follow    FollowService
	discovery DiscoveryService
	user      UserService
}

const mediaBaseURL = "https://cdn.example.com"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	counts := store.NewRedisCountStoreFromClient(client, time.Minute)
	t.Cleanup(func() { _ = counts.Close() })

	f := &fixture{
		db:     db,
		users:  repository.NewGormUserRepository(db),
		counts: counts,
		redis:  mr,
		pub:    &recordingPublisher{},
	}
	f.graph = repository.NewGormGraphRepository(db, f.users)
	f.follow = NewFollowService(f.users, f.graph, FollowServiceConfig{
		Counts:       counts,
		Emitter:      events.NewEmitter(f.pub),
		Limits:       DefaultLimits,
		MediaBaseURL: mediaBaseURL,
	})
	f.discovery = NewDiscoveryService(f.users, f.graph, counts, DefaultLimits, mediaBaseURL)
	f.user = NewUserService(f.users, mediaBaseURL)
	return f
}

func (f *fixture) addUser(t *testing.T, id, handle string, role domain.Role) {
	t.Helper()
	require.NoError(t, f.users.Create(context.Background(), &domain.User{ID: id, Handle: handle, Role: role}))
}

// pendingID returns the id of the pending request requester -> target.
func (f *fixture) pendingID(t *testing.T, requesterID, targetID string) string {
	t.Helper()
	req, err := f.graph.FindPendingRequest(context.Background(), requesterID, targetID)
	require.NoError(t, err)
	return req.ID
}

// makeFollow runs the full request/accept cycle.
func (f *fixture) makeFollow(t *testing.T, followerID, followingID string) {
	t.Helper()
	ctx := context.Background()
	outcome, err := f.follow.InitiateFollow(ctx, followerID, followingID)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeRequested, outcome)

	outcome, err = f.follow.ResolveFollowRequest(ctx, f.pendingID(t, followerID, followingID), followingID, domain.RequestAccepted)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeAccepted, outcome)
}

// addFollowers registers n fresh users all following targetID.
func (f *fixture) addFollowers(t *testing.T, targetID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-fan-%d", targetID, i)
		f.addUser(t, id, id, domain.RoleUser)
		f.makeFollow(t, id, targetID)
	}
}

func (f *fixture) edgeFollowers(t *testing.T, userID string) int64 {
	t.Helper()
	followers, _, err := f.graph.EdgeCounts(context.Background(), userID)
	require.NoError(t, err)
	return followers
}

// interleavedGraph runs before once, just ahead of the first
// FindPendingRequest, to land a concurrent write between the service's
// reads and its insert.
type interleavedGraph struct {
	repository.GraphRepository
	once   sync.Once
	before func()
}

func (g *interleavedGraph) FindPendingRequest(ctx context.Context, requesterID, targetID string) (*domain.FollowRequest, error) {
	g.once.Do(g.before)
	return g.GraphRepository.FindPendingRequest(ctx, requesterID, targetID)
}

// interleavedUsers runs after once, right after the first GetByID has read
// the row and before the caller acts on it.
type interleavedUsers struct {
	repository.UserRepository
	once  sync.Once
	after func()
}

func (u *interleavedUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := u.UserRepository.GetByID(ctx, id)
	u.once.Do(u.after)
	return user, err
}

// failingGraph fails every write with err.
type failingGraph struct {
	repository.GraphRepository
	err error
}

func (g *failingGraph) CreateRequest(context.Context, string, string) (*domain.FollowRequest, error) {
	return nil, g.err
}

func (g *failingGraph) DeleteEdge(context.Context, string, string) (bool, error) {
	return false, g.err
}
