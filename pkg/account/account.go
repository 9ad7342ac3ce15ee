// Package account manages the pool of scraper identities: their lifecycle
// status, health scoring, daily budgets, and selection order.
package account

import (
	"math"
	"time"
)

// Status is an account's lifecycle state
type Status string

const (
	StatusActive        Status = "active"
	StatusCooldown      Status = "cooldown"
	StatusDead          Status = "dead"
	StatusChallenge     Status = "challenge"
	StatusLoginRequired Status = "login_required"
)

// Health score bounds and adjustments
const (
	maxHealthScore     = 100.0
	minHealthScore     = 0.0
	successHealthDelta = 1.0
	failureHealthDelta = -5.0
)

// Selection score weights. Recency saturates after a full day unused.
const (
	weightHealth      = 0.4
	weightRecency     = 0.4
	weightBudget      = 0.2
	recencySaturation = 24.0
)

// Account is one scraper identity in the pool
type Account struct {
	Username        string     `json:"username"`
	Password        string     `json:"password"`
	Proxy           string     `json:"proxy,omitempty"`
	SessionFile     string     `json:"session_file,omitempty"`
	Status          Status     `json:"status"`
	LastUsed        *time.Time `json:"last_used"`
	OperationsToday int        `json:"operations_today"`
	HealthScore     float64    `json:"health_score"`
	TotalOperations int        `json:"total_operations"`
	TotalErrors     int        `json:"total_errors"`
	CreatedAt       time.Time  `json:"created_at"`
}

// New creates a fresh active account with full health
func New(username, password, proxy string) *Account {
	return &Account{
		Username:    username,
		Password:    password,
		Proxy:       proxy,
		Status:      StatusActive,
		HealthScore: maxHealthScore,
		CreatedAt:   time.Now(),
	}
}

// UpdateHealthScore adjusts health for one operation outcome, clamped to
// [0, 100]. Failures also bump the error counter.
func (a *Account) UpdateHealthScore(success bool) {
	if success {
		a.HealthScore = math.Min(maxHealthScore, a.HealthScore+successHealthDelta)
	} else {
		a.HealthScore = math.Max(minHealthScore, a.HealthScore+failureHealthDelta)
		a.TotalErrors++
	}
}

// MarkUsed records one operation against the account's budgets
func (a *Account) MarkUsed(now time.Time) {
	t := now
	a.LastUsed = &t
	a.OperationsToday++
	a.TotalOperations++
}

// ResetDailyIfStale clears the daily operation counter when the last use
// fell on an earlier calendar day. Returns true if a reset happened.
func (a *Account) ResetDailyIfStale(now time.Time) bool {
	if a.OperationsToday == 0 {
		return false
	}
	if a.LastUsed == nil {
		a.OperationsToday = 0
		return true
	}
	ly, lm, ld := a.LastUsed.Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		a.OperationsToday = 0
		return true
	}
	return false
}

// CooldownElapsed reports whether enough time has passed since last use
// for a cooling account to return to rotation.
func (a *Account) CooldownElapsed(now time.Time, cooldown time.Duration) bool {
	if a.LastUsed == nil {
		return true
	}
	return now.Sub(*a.LastUsed) >= cooldown
}

// Eligible reports whether the account can be handed out right now: it
// must be active, have daily budget left, and be past its cooldown
// window since last use.
func (a *Account) Eligible(now time.Time, dailyLimit int, cooldown time.Duration) bool {
	return a.Status == StatusActive &&
		a.OperationsToday < dailyLimit &&
		a.CooldownElapsed(now, cooldown)
}

// Score ranks the account for selection. Higher is better: healthy,
// recently rested accounts with daily budget to spare come first.
// Never-used accounts get full recency credit.
func (a *Account) Score(now time.Time, dailyLimit int) float64 {
	health := a.HealthScore / maxHealthScore

	recency := 1.0
	if a.LastUsed != nil {
		hours := now.Sub(*a.LastUsed).Hours()
		recency = math.Min(1.0, hours/recencySaturation)
	}

	budget := 1.0 - float64(a.OperationsToday)/float64(dailyLimit)

	return weightHealth*health + weightRecency*recency + weightBudget*budget
}

// Clone returns a deep copy safe to hand outside the pool lock
func (a *Account) Clone() *Account {
	clone := *a
	if a.LastUsed != nil {
		t := *a.LastUsed
		clone.LastUsed = &t
	}
	return &clone
}
