package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"igcollector/pkg/config"
	"igcollector/pkg/gateway"
	"igcollector/pkg/logger"
)

// Pool errors
var (
	ErrNoAccountAvailable = errors.New("no account available")
	ErrAccountExists      = errors.New("account already in pool")
	ErrAccountNotFound    = errors.New("account not found")
	ErrPoolFull           = errors.New("account pool is full")
)

// Pool is the rotating set of scraper identities. All state transitions
// happen under one mutex; every mutation is persisted before the lock is
// released so a restart picks up where the pool left off.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	live     map[string]gateway.Session
	store    *Store
	sessions *gateway.SessionStore
	gw       gateway.Gateway
	cfg      config.PoolConfig
	log      logger.Logger
}

// Snapshot is a point-in-time summary of the pool
type Snapshot struct {
	Total           int            `json:"total_accounts"`
	Available       int            `json:"available_accounts"`
	StatusCounts    map[Status]int `json:"status_breakdown"`
	AverageHealth   float64        `json:"average_health_score"`
	OperationsToday int            `json:"operations_today"`
	Timestamp       time.Time      `json:"timestamp"`
}

// NewPool creates a pool backed by the given store, session store and
// gateway, restoring any persisted accounts.
func NewPool(cfg config.PoolConfig, gw gateway.Gateway, store *Store, sessions *gateway.SessionStore, log logger.Logger) (*Pool, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	accounts, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load account pool: %w", err)
	}

	log.InfoWithFields("account pool loaded", map[string]interface{}{
		"accounts": len(accounts),
	})

	return &Pool{
		accounts: accounts,
		live:     make(map[string]gateway.Session),
		store:    store,
		sessions: sessions,
		gw:       gw,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Add verifies credentials against the gateway and admits the account.
// Accounts that fail the login probe are not admitted.
func (p *Pool) Add(ctx context.Context, username, password, proxy string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	p.mu.Lock()
	if p.find(username) != nil {
		p.mu.Unlock()
		return ErrAccountExists
	}
	if len(p.accounts) >= p.cfg.MaxAccounts {
		p.mu.Unlock()
		return ErrPoolFull
	}
	p.mu.Unlock()

	creds := gateway.Credentials{
		Username:    username,
		Password:    password,
		Proxy:       proxy,
		SessionFile: p.sessions.Path(username),
	}
	if _, err := p.gw.Authenticate(ctx, creds); err != nil {
		return fmt.Errorf("login probe failed for %s: %w", username, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under lock; another caller may have admitted it meanwhile
	if p.find(username) != nil {
		return ErrAccountExists
	}
	if len(p.accounts) >= p.cfg.MaxAccounts {
		return ErrPoolFull
	}

	acct := New(username, password, proxy)
	acct.SessionFile = p.sessions.Path(username)
	p.accounts = append(p.accounts, acct)

	if err := p.store.Save(p.accounts); err != nil {
		p.accounts = p.accounts[:len(p.accounts)-1]
		return fmt.Errorf("failed to persist pool: %w", err)
	}

	p.log.InfoWithFields("account added to pool", map[string]interface{}{
		"account":   username,
		"pool_size": len(p.accounts),
	})
	return nil
}

// Remove drops an account from the pool and deletes its session material
func (p *Pool) Remove(username string) error {
	p.mu.Lock()

	idx := -1
	for i, a := range p.accounts {
		if a.Username == username {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return ErrAccountNotFound
	}

	p.accounts = append(p.accounts[:idx], p.accounts[idx+1:]...)
	delete(p.live, username)
	if err := p.store.Save(p.accounts); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to persist pool: %w", err)
	}
	p.mu.Unlock()

	if err := p.sessions.Delete(username); err != nil {
		p.log.WithError(err).WithField("account", username).Warn("failed to delete session material")
	}

	p.log.InfoWithFields("account removed from pool", map[string]interface{}{
		"account": username,
	})
	return nil
}

// SelectAvailable picks the best eligible account and returns a snapshot
// copy of it. Cooldowns that have elapsed and stale daily counters are
// cleared along the way. Returns ErrNoAccountAvailable when the pool has
// no eligible account; there is no bypass path.
func (p *Pool) SelectAvailable() (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	dirty := p.refreshLocked(now)

	var best *Account
	var bestScore float64
	for _, a := range p.accounts {
		if !a.Eligible(now, p.cfg.DailyOperationLimit, p.cfg.Cooldown) {
			continue
		}
		score := a.Score(now, p.cfg.DailyOperationLimit)
		// Strict comparison keeps the first encountered on ties
		if best == nil || score > bestScore {
			best = a
			bestScore = score
		}
	}

	if dirty {
		if err := p.store.Save(p.accounts); err != nil {
			p.log.WithError(err).Error("failed to persist pool after refresh")
		}
	}

	if best == nil {
		return nil, ErrNoAccountAvailable
	}

	p.log.DebugWithFields("account selected", map[string]interface{}{
		"account": best.Username,
		"score":   bestScore,
		"health":  best.HealthScore,
	})
	return best.Clone(), nil
}

// AcquireSession returns a live session for the named account, reusing
// the cached one when it still pings. Authentication failures move the
// account out of rotation according to the failure kind.
func (p *Pool) AcquireSession(ctx context.Context, username string) (gateway.Session, error) {
	p.mu.Lock()
	acct := p.find(username)
	if acct == nil {
		p.mu.Unlock()
		return nil, ErrAccountNotFound
	}
	cached := p.live[username]
	creds := gateway.Credentials{
		Username:    acct.Username,
		Password:    acct.Password,
		Proxy:       acct.Proxy,
		SessionFile: acct.SessionFile,
	}
	p.mu.Unlock()

	if cached != nil {
		if err := cached.Ping(ctx); err == nil {
			return cached, nil
		}
		p.mu.Lock()
		delete(p.live, username)
		p.mu.Unlock()
		p.log.DebugWithFields("cached session went stale", map[string]interface{}{
			"account": username,
		})
	}

	sess, err := p.gw.Authenticate(ctx, creds)
	if err != nil {
		switch gateway.Kind(err) {
		case gateway.KindChallenge:
			p.MarkStatus(username, StatusChallenge)
		case gateway.KindExpiredSession:
			p.MarkStatus(username, StatusLoginRequired)
		case gateway.KindDead:
			p.MarkStatus(username, StatusDead)
		}
		return nil, err
	}

	p.mu.Lock()
	p.live[username] = sess
	p.mu.Unlock()
	return sess, nil
}

// RecordOutcome charges one operation against the account and adjusts its
// health. Hitting the daily limit moves the account into cooldown.
func (p *Pool) RecordOutcome(username string, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.find(username)
	if acct == nil {
		return ErrAccountNotFound
	}

	now := time.Now()
	acct.MarkUsed(now)
	acct.UpdateHealthScore(success)

	if acct.OperationsToday >= p.cfg.DailyOperationLimit && acct.Status == StatusActive {
		acct.Status = StatusCooldown
		p.log.InfoWithFields("account reached daily limit, entering cooldown", map[string]interface{}{
			"account":    username,
			"operations": acct.OperationsToday,
		})
	}

	if err := p.store.Save(p.accounts); err != nil {
		return fmt.Errorf("failed to persist pool: %w", err)
	}
	return nil
}

// MarkStatus forces an account into the given status
func (p *Pool) MarkStatus(username string, status Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct := p.find(username)
	if acct == nil {
		return ErrAccountNotFound
	}

	prev := acct.Status
	acct.Status = status
	if status == StatusCooldown && acct.LastUsed == nil {
		now := time.Now()
		acct.LastUsed = &now
	}
	if status != StatusActive {
		delete(p.live, username)
	}

	if err := p.store.Save(p.accounts); err != nil {
		return fmt.Errorf("failed to persist pool: %w", err)
	}

	p.log.InfoWithFields("account status changed", map[string]interface{}{
		"account": username,
		"from":    prev,
		"to":      status,
	})
	return nil
}

// Reconcile is the periodic maintenance pass: it clears stale daily
// counters, lifts elapsed cooldowns, and probes challenged or logged-out
// accounts that look healthy enough to recover. Running it twice in a row
// is a no-op.
func (p *Pool) Reconcile(ctx context.Context) {
	p.mu.Lock()
	now := time.Now()
	dirty := p.refreshLocked(now)

	var candidates []gateway.Credentials
	for _, a := range p.accounts {
		if (a.Status == StatusChallenge || a.Status == StatusLoginRequired) && a.HealthScore > p.cfg.RecoveryThreshold {
			candidates = append(candidates, gateway.Credentials{
				Username:    a.Username,
				Password:    a.Password,
				Proxy:       a.Proxy,
				SessionFile: a.SessionFile,
			})
		}
	}

	if dirty {
		if err := p.store.Save(p.accounts); err != nil {
			p.log.WithError(err).Error("failed to persist pool after reconcile")
		}
	}
	p.mu.Unlock()

	for _, creds := range candidates {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.gw.Authenticate(ctx, creds); err != nil {
			if gateway.IsKind(err, gateway.KindDead) {
				p.MarkStatus(creds.Username, StatusDead)
			}
			p.log.WithError(err).WithField("account", creds.Username).Debug("recovery probe failed")
			continue
		}
		if err := p.MarkStatus(creds.Username, StatusActive); err != nil {
			p.log.WithError(err).WithField("account", creds.Username).Warn("failed to reactivate account")
			continue
		}
		p.log.InfoWithFields("account recovered", map[string]interface{}{
			"account": creds.Username,
		})
	}
}

// Status returns a point-in-time summary of the pool
func (p *Pool) Status() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		Total:        len(p.accounts),
		StatusCounts: make(map[Status]int),
		Timestamp:    now,
	}

	var healthSum float64
	for _, a := range p.accounts {
		snap.StatusCounts[a.Status]++
		snap.OperationsToday += a.OperationsToday
		healthSum += a.HealthScore
		if a.Eligible(now, p.cfg.DailyOperationLimit, p.cfg.Cooldown) {
			snap.Available++
		}
	}
	if len(p.accounts) > 0 {
		snap.AverageHealth = healthSum / float64(len(p.accounts))
	}

	return snap
}

// Size returns the number of accounts in the pool
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// refreshLocked applies time-based transitions: daily counter resets and
// cooldown lifts. Caller must hold the pool lock.
func (p *Pool) refreshLocked(now time.Time) bool {
	dirty := false
	for _, a := range p.accounts {
		if a.ResetDailyIfStale(now) {
			dirty = true
			// A cooldown entered over the daily limit ends with the
			// new day, ahead of the elapsed-window check
			if a.Status == StatusCooldown {
				a.Status = StatusActive
				p.log.InfoWithFields("daily counter reset, cooldown lifted", map[string]interface{}{
					"account": a.Username,
				})
			}
		}
		if a.Status == StatusCooldown && a.CooldownElapsed(now, p.cfg.Cooldown) {
			a.Status = StatusActive
			dirty = true
			p.log.InfoWithFields("account cooldown lifted", map[string]interface{}{
				"account": a.Username,
			})
		}
	}
	return dirty
}

// find returns the account with the given username. Caller must hold the
// pool lock.
func (p *Pool) find(username string) *Account {
	for _, a := range p.accounts {
		if a.Username == username {
			return a
		}
	}
	return nil
}
