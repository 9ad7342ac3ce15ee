// Package service is the application facade the HTTP layer talks to
package service

import (
	"context"
	"time"

	"igcollector/pkg/account"
	"igcollector/pkg/collector"
	"igcollector/pkg/logger"
)

// Health states reported by the service
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Health summarizes whether the service can take collection work
type Health struct {
	Status            string    `json:"status"`
	TotalAccounts     int       `json:"total_accounts"`
	AvailableAccounts int       `json:"available_accounts"`
	Timestamp         time.Time `json:"timestamp"`
}

// Statistics summarizes a collection payload
type Statistics struct {
	StoryCount    int `json:"story_count"`
	FeedPostCount int `json:"feed_post_count"`
	TotalBytes    int `json:"total_bytes"`
}

// CollectionResponse is a collection result with payload statistics
type CollectionResponse struct {
	*collector.Result
	Statistics Statistics `json:"statistics"`
}

// Service wires the collector and account pool behind one surface
type Service struct {
	collector *collector.Collector
	pool      *account.Pool
	log       logger.Logger
}

// New creates the service facade
func New(c *collector.Collector, pool *account.Pool, log logger.Logger) *Service {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Service{collector: c, pool: pool, log: log}
}

// CollectMedia runs one collection request
func (s *Service) CollectMedia(ctx context.Context, req collector.Request) *CollectionResponse {
	result := s.collector.Collect(ctx, req)

	stats := Statistics{
		StoryCount:    len(result.Stories),
		FeedPostCount: len(result.FeedPosts),
	}
	for _, f := range result.Stories {
		stats.TotalBytes += f.Size
	}
	for _, f := range result.FeedPosts {
		stats.TotalBytes += f.Size
	}

	return &CollectionResponse{Result: result, Statistics: stats}
}

// PoolStatus returns the current account pool summary
func (s *Service) PoolStatus() account.Snapshot {
	return s.pool.Status()
}

// AddAccount admits a new account into the pool after a login probe
func (s *Service) AddAccount(ctx context.Context, username, password, proxy string) error {
	return s.pool.Add(ctx, username, password, proxy)
}

// RemoveAccount drops an account and its session material
func (s *Service) RemoveAccount(username string) error {
	return s.pool.Remove(username)
}

// Cleanup sweeps expired temp downloads and returns the removed count
func (s *Service) Cleanup() (int, error) {
	return s.collector.Cleanup()
}

// CheckHealth reports whether the service can currently serve collection
// requests. An empty pool is unhealthy; a pool with no available account
// is degraded.
func (s *Service) CheckHealth() Health {
	snap := s.pool.Status()

	status := HealthHealthy
	switch {
	case snap.Total == 0:
		status = HealthUnhealthy
	case snap.Available == 0:
		status = HealthDegraded
	}

	return Health{
		Status:            status,
		TotalAccounts:     snap.Total,
		AvailableAccounts: snap.Available,
		Timestamp:         time.Now(),
	}
}
