package account

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcollector/pkg/config"
	"igcollector/pkg/gateway"
)

// fakeGateway authenticates everything unless an error is registered for
// the username
type fakeGateway struct {
	mu       sync.Mutex
	authErrs map[string]error
	probes   []string
}

func (g *fakeGateway) Authenticate(ctx context.Context, creds gateway.Credentials) (gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probes = append(g.probes, creds.Username)
	if err, ok := g.authErrs[creds.Username]; ok && err != nil {
		return nil, err
	}
	return &fakeSession{username: creds.Username}, nil
}

func (g *fakeGateway) probeCount(username string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.probes {
		if p == username {
			n++
		}
	}
	return n
}

type fakeSession struct {
	username string
}

func (s *fakeSession) Username() string               { return s.username }
func (s *fakeSession) Ping(ctx context.Context) error { return nil }
func (s *fakeSession) ResolveUser(ctx context.Context, handle string) (*gateway.Profile, error) {
	return &gateway.Profile{ID: "1", Username: handle}, nil
}
func (s *fakeSession) ListStories(ctx context.Context, profileID string) ([]gateway.StoryRef, error) {
	return nil, nil
}
func (s *fakeSession) ListFeed(ctx context.Context, profileID string, limit int) ([]gateway.PostRef, error) {
	return nil, nil
}
func (s *fakeSession) Download(ctx context.Context, ref gateway.MediaRef) ([]byte, error) {
	return []byte("media"), nil
}

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		MaxAccounts:         5,
		Cooldown:            2 * time.Hour,
		DailyOperationLimit: 100,
		ReconcileInterval:   15 * time.Minute,
		RecoveryThreshold:   50,
	}
}

func newTestPool(t *testing.T, gw gateway.Gateway, cfg config.PoolConfig) *Pool {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(filepath.Join(dir, "pool.json"), nil)
	require.NoError(t, err)

	sessions, err := gateway.NewSessionStore(filepath.Join(dir, "sessions"), "test-passphrase")
	require.NoError(t, err)

	pool, err := NewPool(cfg, gw, store, sessions, nil)
	require.NoError(t, err)
	return pool
}

func TestPoolAddAndSelect(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.Add(ctx, "scout_2", "secret", ""))

	selected, err := pool.SelectAvailable()
	require.NoError(t, err)
	assert.Equal(t, "scout_1", selected.Username, "equal scores keep the first encountered")
}

func TestPoolAddDuplicate(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	assert.ErrorIs(t, pool.Add(ctx, "scout_1", "secret", ""), ErrAccountExists)
}

func TestPoolAddFull(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testPoolConfig()
	cfg.MaxAccounts = 1
	pool := newTestPool(t, gw, cfg)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	assert.ErrorIs(t, pool.Add(ctx, "scout_2", "secret", ""), ErrPoolFull)
}

func TestPoolAddFailedProbeNotAdmitted(t *testing.T) {
	gw := &fakeGateway{authErrs: map[string]error{
		"bad_creds": &gateway.Error{Kind: gateway.KindDead, Message: "credentials rejected"},
	}}
	pool := newTestPool(t, gw, testPoolConfig())

	err := pool.Add(context.Background(), "bad_creds", "wrong", "")
	assert.Error(t, err)
	assert.Equal(t, 0, pool.Size())
}

func TestPoolSelectEmptyPool(t *testing.T) {
	pool := newTestPool(t, &fakeGateway{}, testPoolConfig())

	_, err := pool.SelectAvailable()
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
}

func TestPoolSelectNoEligibleAccounts(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.MarkStatus("scout_1", StatusDead))

	// A dead account never comes back through selection
	_, err := pool.SelectAvailable()
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
}

func TestPoolSelectPrefersHigherScore(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "tired", "secret", ""))
	require.NoError(t, pool.Add(ctx, "rested", "secret", ""))

	threeHoursAgo := time.Now().Add(-3 * time.Hour)
	pool.mu.Lock()
	pool.find("tired").LastUsed = &threeHoursAgo
	pool.find("tired").OperationsToday = 40
	pool.find("tired").HealthScore = 80
	pool.mu.Unlock()

	selected, err := pool.SelectAvailable()
	require.NoError(t, err)
	assert.Equal(t, "rested", selected.Username)
}

func TestPoolSelectHonorsCooldownWindow(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.RecordOutcome("scout_1", true))

	// Just-used account sits out its cooldown window even while active
	_, err := pool.SelectAvailable()
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
	assert.Equal(t, 0, pool.Status().Available)

	threeHoursAgo := time.Now().Add(-3 * time.Hour)
	pool.mu.Lock()
	pool.find("scout_1").LastUsed = &threeHoursAgo
	pool.mu.Unlock()

	selected, err := pool.SelectAvailable()
	require.NoError(t, err)
	assert.Equal(t, "scout_1", selected.Username)
}

func TestPoolRecordOutcome(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))

	require.NoError(t, pool.RecordOutcome("scout_1", true))
	require.NoError(t, pool.RecordOutcome("scout_1", false))

	pool.mu.Lock()
	acct := pool.find("scout_1")
	pool.mu.Unlock()

	assert.Equal(t, 2, acct.OperationsToday)
	assert.Equal(t, 2, acct.TotalOperations)
	assert.Equal(t, 1, acct.TotalErrors)
	assert.Equal(t, 95.0, acct.HealthScore)
}

func TestPoolDailyLimitTriggersCooldown(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testPoolConfig()
	cfg.DailyOperationLimit = 2
	pool := newTestPool(t, gw, cfg)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.RecordOutcome("scout_1", true))
	require.NoError(t, pool.RecordOutcome("scout_1", true))

	pool.mu.Lock()
	status := pool.find("scout_1").Status
	pool.mu.Unlock()
	assert.Equal(t, StatusCooldown, status)

	_, err := pool.SelectAvailable()
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
}

func TestPoolCooldownLiftedAfterElapse(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.MarkStatus("scout_1", StatusCooldown))

	threeHoursAgo := time.Now().Add(-3 * time.Hour)
	pool.mu.Lock()
	pool.find("scout_1").LastUsed = &threeHoursAgo
	pool.mu.Unlock()

	selected, err := pool.SelectAvailable()
	require.NoError(t, err)
	assert.Equal(t, "scout_1", selected.Username)
}

func TestPoolDailyCounterResetAcrossDays(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testPoolConfig()
	cfg.DailyOperationLimit = 10
	pool := newTestPool(t, gw, cfg)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))

	yesterday := time.Now().Add(-26 * time.Hour)
	pool.mu.Lock()
	pool.find("scout_1").LastUsed = &yesterday
	pool.find("scout_1").OperationsToday = 10
	pool.mu.Unlock()

	selected, err := pool.SelectAvailable()
	require.NoError(t, err)
	assert.Equal(t, 0, selected.OperationsToday)
}

func TestPoolDailyResetLiftsCooldown(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testPoolConfig()
	cfg.Cooldown = 48 * time.Hour
	pool := newTestPool(t, gw, cfg)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))

	// Hit the daily limit just before midnight; the new day ends the
	// cooldown even though the window has not elapsed
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	lastNight := midnight.Add(-10 * time.Minute)
	pool.mu.Lock()
	pool.find("scout_1").Status = StatusCooldown
	pool.find("scout_1").LastUsed = &lastNight
	pool.find("scout_1").OperationsToday = 100
	pool.mu.Unlock()

	pool.Reconcile(ctx)

	pool.mu.Lock()
	acct := pool.find("scout_1")
	status := acct.Status
	ops := acct.OperationsToday
	pool.mu.Unlock()

	assert.Equal(t, StatusActive, status)
	assert.Equal(t, 0, ops)
}

func TestPoolAcquireSessionMarksFailureStatus(t *testing.T) {
	tests := []struct {
		name     string
		kind     gateway.ErrorKind
		expected Status
	}{
		{"challenge locks the account", gateway.KindChallenge, StatusChallenge},
		{"expired session needs login", gateway.KindExpiredSession, StatusLoginRequired},
		{"rejected credentials are dead", gateway.KindDead, StatusDead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			pool := newTestPool(t, gw, testPoolConfig())
			ctx := context.Background()

			require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))

			gw.mu.Lock()
			gw.authErrs = map[string]error{
				"scout_1": &gateway.Error{Kind: tt.kind, Message: "auth failed"},
			}
			gw.mu.Unlock()

			_, err := pool.AcquireSession(ctx, "scout_1")
			require.Error(t, err)

			pool.mu.Lock()
			status := pool.find("scout_1").Status
			pool.mu.Unlock()
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestPoolAcquireSessionReusesLiveSession(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.Equal(t, 1, gw.probeCount("scout_1"))

	first, err := pool.AcquireSession(ctx, "scout_1")
	require.NoError(t, err)
	require.Equal(t, 2, gw.probeCount("scout_1"))

	second, err := pool.AcquireSession(ctx, "scout_1")
	require.NoError(t, err)
	assert.Same(t, first, second, "a live session that still pings is reused")
	assert.Equal(t, 2, gw.probeCount("scout_1"), "no re-authentication for a cached session")
}

func TestPoolReconcileRecoversHealthyAccounts(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "healthy", "secret", ""))
	require.NoError(t, pool.Add(ctx, "unhealthy", "secret", ""))
	require.NoError(t, pool.Add(ctx, "borderline", "secret", ""))
	require.NoError(t, pool.MarkStatus("healthy", StatusChallenge))
	require.NoError(t, pool.MarkStatus("unhealthy", StatusChallenge))
	require.NoError(t, pool.MarkStatus("borderline", StatusChallenge))

	pool.mu.Lock()
	pool.find("healthy").HealthScore = 80
	pool.find("unhealthy").HealthScore = 20
	pool.find("borderline").HealthScore = 50
	pool.mu.Unlock()

	unhealthyProbes := gw.probeCount("unhealthy")
	borderlineProbes := gw.probeCount("borderline")
	pool.Reconcile(ctx)

	pool.mu.Lock()
	healthyStatus := pool.find("healthy").Status
	unhealthyStatus := pool.find("unhealthy").Status
	borderlineStatus := pool.find("borderline").Status
	pool.mu.Unlock()

	assert.Equal(t, StatusActive, healthyStatus)
	assert.Equal(t, StatusChallenge, unhealthyStatus)
	assert.Equal(t, StatusChallenge, borderlineStatus)
	assert.Equal(t, unhealthyProbes, gw.probeCount("unhealthy"), "low-health accounts are not probed")
	assert.Equal(t, borderlineProbes, gw.probeCount("borderline"), "recovery needs health above the threshold, not at it")
}

func TestPoolReconcileIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))

	pool.Reconcile(ctx)
	first := pool.Status()
	pool.Reconcile(ctx)
	second := pool.Status()

	assert.Equal(t, first.StatusCounts, second.StatusCounts)
	assert.Equal(t, first.OperationsToday, second.OperationsToday)
}

func TestPoolStatePersistsAcrossRestarts(t *testing.T) {
	gw := &fakeGateway{}
	dir := t.TempDir()
	poolPath := filepath.Join(dir, "pool.json")
	cfg := testPoolConfig()

	store, err := NewStore(poolPath, nil)
	require.NoError(t, err)
	sessions, err := gateway.NewSessionStore(filepath.Join(dir, "sessions"), "test-passphrase")
	require.NoError(t, err)

	pool, err := NewPool(cfg, gw, store, sessions, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", "http://proxy:8080"))
	require.NoError(t, pool.RecordOutcome("scout_1", false))

	// Simulate a restart from the same pool file
	store2, err := NewStore(poolPath, nil)
	require.NoError(t, err)
	pool2, err := NewPool(cfg, gw, store2, sessions, nil)
	require.NoError(t, err)

	pool2.mu.Lock()
	acct := pool2.find("scout_1")
	pool2.mu.Unlock()

	require.NotNil(t, acct)
	assert.Equal(t, 95.0, acct.HealthScore)
	assert.Equal(t, 1, acct.OperationsToday)
	assert.Equal(t, "http://proxy:8080", acct.Proxy)
}

func TestPoolRemove(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.Remove("scout_1"))
	assert.Equal(t, 0, pool.Size())

	assert.ErrorIs(t, pool.Remove("scout_1"), ErrAccountNotFound)
}

func TestPoolStatus(t *testing.T) {
	gw := &fakeGateway{}
	pool := newTestPool(t, gw, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, pool.Add(ctx, "scout_1", "secret", ""))
	require.NoError(t, pool.Add(ctx, "scout_2", "secret", ""))
	require.NoError(t, pool.MarkStatus("scout_2", StatusCooldown))

	snap := pool.Status()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Available)
	assert.Equal(t, 1, snap.StatusCounts[StatusActive])
	assert.Equal(t, 1, snap.StatusCounts[StatusCooldown])
	assert.Equal(t, 100.0, snap.AverageHealth)
}
