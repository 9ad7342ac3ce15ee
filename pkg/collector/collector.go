// Package collector orchestrates a collection run: pick an account,
// acquire a session, resolve the target, list and download media, and
// settle the account's outcome.
package collector

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"igcollector/internal/downloader"
	"igcollector/pkg/account"
	"igcollector/pkg/config"
	"igcollector/pkg/errors"
	"igcollector/pkg/gateway"
	"igcollector/pkg/logger"
	"igcollector/pkg/retry"
)

// Feed collection only keeps posts from the last day. The listing window
// overfetches to survive pinned or out-of-order items, capped at the
// remote's page ceiling.
const (
	recencyWindow   = 24 * time.Hour
	feedOverfetch   = 5
	feedWindowCeil  = 50
	maxFeedPostsCap = 50
)

// Collector runs collection requests against the account pool
type Collector struct {
	pool *account.Pool
	dl   *downloader.Pool
	cfg  config.CollectorConfig
	log  logger.Logger
}

// New creates a collector
func New(pool *account.Pool, dl *downloader.Pool, cfg config.CollectorConfig, log logger.Logger) (*Collector, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &Collector{pool: pool, dl: dl, cfg: cfg, log: log}, nil
}

// Collect runs one collection request end to end. The returned result is
// never nil; run-level failures are reported through its Code field.
func (c *Collector) Collect(ctx context.Context, req Request) *Result {
	result := &Result{
		Target:    req.Username,
		Timestamp: time.Now(),
		Stories:   []MediaFile{},
		FeedPosts: []MediaFile{},
	}

	if req.Username == "" {
		result.Code = errors.CodeInternal
		result.Message = "empty target username"
		return result
	}
	if req.MaxFeedPosts < 1 {
		req.MaxFeedPosts = c.cfg.DefaultMaxFeedPosts
	}
	if req.MaxFeedPosts > maxFeedPostsCap {
		req.MaxFeedPosts = maxFeedPostsCap
	}

	acct, err := c.pool.SelectAvailable()
	if err != nil {
		result.Code = errors.CodeNoIdentityAvailable
		result.Message = "no account is available for collection"
		return result
	}
	result.AccountUsed = acct.Username

	log := c.log.WithFields(map[string]interface{}{
		"target":  req.Username,
		"account": acct.Username,
	})
	log.Info("collection run started")

	sess, err := c.pool.AcquireSession(ctx, acct.Username)
	if err != nil {
		log.WithError(err).Error("failed to acquire session")
		return c.fail(result, errors.CodeSessionUnavailable, account.Status(""),
			fmt.Sprintf("could not establish a session for %s", acct.Username))
	}

	profile, err := sess.ResolveUser(ctx, req.Username)
	if err != nil {
		code, status := mapRunFailure(err)
		log.WithError(err).Warn("target resolution failed")
		return c.fail(result, code, status, fmt.Sprintf("could not resolve target %s", req.Username))
	}
	if profile.IsPrivate {
		log.Info("target profile is private")
		return c.fail(result, errors.CodeTargetUnavailable, account.Status(""),
			fmt.Sprintf("target %s is not found or private", req.Username))
	}

	partialFailures := 0

	if req.IncludeStories {
		stories, failures, terminalErr := c.collectStories(ctx, sess, profile.ID, log)
		if terminalErr != nil {
			code, status := mapRunFailure(terminalErr)
			return c.fail(result, code, status, "collection aborted while listing stories")
		}
		result.Stories = stories
		partialFailures += failures
	}

	if req.IncludeFeed {
		feed, failures, err := c.collectFeed(ctx, sess, profile.ID, req.MaxFeedPosts, log)
		if err != nil {
			code, status := mapRunFailure(err)
			log.WithError(err).Error("feed collection failed")
			return c.fail(result, code, status, "collection aborted while listing recent posts")
		}
		result.FeedPosts = feed
		partialFailures += failures
	}

	if err := c.pool.RecordOutcome(acct.Username, true); err != nil {
		log.WithError(err).Warn("failed to record account outcome")
	}

	result.Success = true
	result.Message = fmt.Sprintf("collected %d stories and %d feed items", len(result.Stories), len(result.FeedPosts))
	if partialFailures > 0 {
		result.Message += fmt.Sprintf(" (%d items failed to download)", partialFailures)
	}

	log.InfoWithFields("collection run completed", map[string]interface{}{
		"stories":          len(result.Stories),
		"feed_items":       len(result.FeedPosts),
		"partial_failures": partialFailures,
	})
	return result
}

// fail settles a failed run: marks the account when the failure demands
// it and charges the outcome against the account unless the failure was
// target-side.
func (c *Collector) fail(result *Result, code errors.Code, status account.Status, message string) *Result {
	result.Code = code
	result.Message = message

	if result.AccountUsed != "" {
		if status != "" {
			if err := c.pool.MarkStatus(result.AccountUsed, status); err != nil {
				c.log.WithError(err).WithField("account", result.AccountUsed).Warn("failed to mark account status")
			}
		}
		if err := c.pool.RecordOutcome(result.AccountUsed, !errors.IdentityFault(code)); err != nil {
			c.log.WithError(err).WithField("account", result.AccountUsed).Warn("failed to record account outcome")
		}
	}
	return result
}

// collectStories lists and downloads the target's current stories.
// Story listing failures are non-fatal unless they implicate the session
// or the rate limit; per-item download failures only shrink the set.
func (c *Collector) collectStories(ctx context.Context, sess gateway.Session, profileID string, log logger.Logger) ([]MediaFile, int, error) {
	if err := c.pace(ctx); err != nil {
		return nil, 0, err
	}

	refs, err := sess.ListStories(ctx, profileID)
	if err != nil {
		switch gateway.Kind(err) {
		case gateway.KindRateLimited, gateway.KindExpiredSession, gateway.KindChallenge:
			return nil, 0, err
		}
		log.WithError(err).Warn("story listing failed, continuing without stories")
		return []MediaFile{}, 0, nil
	}

	jobs := make([]downloader.Job, 0, len(refs))
	for i, ref := range refs {
		jobs = append(jobs, downloader.Job{
			Seq: i,
			Ref: gateway.MediaRef{ID: ref.ID, Kind: ref.Kind, URL: ref.URL},
		})
	}

	results := c.dl.Run(ctx, sess, jobs)

	files := make([]MediaFile, 0, len(results))
	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
			continue
		}
		ref := refs[res.Seq]
		metadata := map[string]interface{}{
			"media_id": ref.ID,
			"taken_at": ref.TakenAt.Format(time.RFC3339),
		}
		if ref.Kind == gateway.MediaVideo {
			metadata["duration"] = ref.Duration
		}
		if caption := truncateCaption(ref.Caption); caption != "" {
			metadata["caption"] = caption
		}
		files = append(files, MediaFile{
			ID:       ref.ID,
			Type:     kindOf(ref.Kind),
			Filename: mediaFilename("story", ref.ID, ref.Kind),
			Size:     len(res.Data),
			Data:     res.Data,
			Metadata: metadata,
		})
	}
	return files, failures, nil
}

// feedJob ties a download job back to its source post
type feedJob struct {
	post          gateway.PostRef
	carouselIndex int
	carouselTotal int
}

// collectFeed lists the target's recent posts and downloads up to
// maxPosts of them. The feed arrives newest first; the first post older
// than the recency window ends the scan.
func (c *Collector) collectFeed(ctx context.Context, sess gateway.Session, profileID string, maxPosts int, log logger.Logger) ([]MediaFile, int, error) {
	if err := c.pace(ctx); err != nil {
		return nil, 0, err
	}

	window := maxPosts * feedOverfetch
	if window > feedWindowCeil {
		window = feedWindowCeil
	}

	posts, err := sess.ListFeed(ctx, profileID, window)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	var selected []gateway.PostRef
	for _, post := range posts {
		if now.Sub(post.TakenAt) > recencyWindow {
			break
		}
		selected = append(selected, post)
		if len(selected) >= maxPosts {
			break
		}
	}

	var jobs []downloader.Job
	var meta []feedJob
	for _, post := range selected {
		if post.IsCarousel() {
			total := len(post.Carousel)
			for i, child := range post.Carousel {
				jobs = append(jobs, downloader.Job{
					Seq: len(jobs),
					Ref: gateway.MediaRef{ID: child.ID, Kind: child.Kind, URL: child.URL},
				})
				meta = append(meta, feedJob{post: post, carouselIndex: i + 1, carouselTotal: total})
			}
		} else {
			jobs = append(jobs, downloader.Job{
				Seq: len(jobs),
				Ref: gateway.MediaRef{ID: post.ID, Kind: post.Kind, URL: post.URL},
			})
			meta = append(meta, feedJob{post: post})
		}
	}

	results := c.dl.Run(ctx, sess, jobs)

	files := make([]MediaFile, 0, len(results))
	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
			continue
		}
		fj := meta[res.Seq]
		hoursOld := now.Sub(fj.post.TakenAt).Hours()

		metadata := map[string]interface{}{
			"media_id":      fj.post.ID,
			"taken_at":      fj.post.TakenAt.Format(time.RFC3339),
			"hours_old":     hoursOld,
			"is_recent":     true,
			"like_count":    fj.post.LikeCount,
			"comment_count": fj.post.CommentCount,
		}
		if caption := truncateCaption(fj.post.Caption); caption != "" {
			metadata["caption"] = caption
		}

		kind := kindOf(res.Ref.Kind)
		filename := mediaFilename("post", fj.post.ID, res.Ref.Kind)
		if fj.carouselTotal > 0 {
			kind = KindCarouselItem
			metadata["carousel_index"] = fj.carouselIndex
			metadata["carousel_total"] = fj.carouselTotal
			filename = mediaFilename(fmt.Sprintf("post_%s", fj.post.ID), fmt.Sprintf("%d", fj.carouselIndex), res.Ref.Kind)
		}

		files = append(files, MediaFile{
			ID:       res.Ref.ID,
			Type:     kind,
			Filename: filename,
			Size:     len(res.Data),
			Data:     res.Data,
			Metadata: metadata,
		})
	}

	if len(selected) > 0 {
		log.DebugWithFields("recent posts selected", map[string]interface{}{
			"listed":   len(posts),
			"selected": len(selected),
		})
	}
	return files, failures, nil
}

// pace sleeps a random interval between remote calls, honoring
// cancellation.
func (c *Collector) pace(ctx context.Context) error {
	min := c.cfg.RequestDelayMin
	max := c.cfg.RequestDelayMax
	if max <= min {
		return retry.Wait(ctx, min)
	}
	delay := min + time.Duration(rand.Int63n(int64(max-min)))
	return retry.Wait(ctx, delay)
}

// Cleanup removes temp download files older than the retention window.
// Returns the number of files removed.
func (c *Collector) Cleanup() (int, error) {
	entries, err := os.ReadDir(c.cfg.TempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read temp directory: %w", err)
	}

	cutoff := time.Now().Add(-c.cfg.TempRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(c.cfg.TempDir, entry.Name())); err != nil {
				c.log.WithError(err).WithField("file", entry.Name()).Warn("failed to remove temp file")
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		c.log.InfoWithFields("temp downloads cleaned", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed, nil
}

// mapRunFailure maps a gateway error to the run failure code and the
// status the account should move to, if any.
func mapRunFailure(err error) (errors.Code, account.Status) {
	switch gateway.Kind(err) {
	case gateway.KindRateLimited:
		return errors.CodeRateLimited, account.StatusCooldown
	case gateway.KindExpiredSession:
		return errors.CodeReauthRequired, account.StatusLoginRequired
	case gateway.KindChallenge:
		return errors.CodeReauthRequired, account.StatusChallenge
	case gateway.KindNotFound, gateway.KindPrivate:
		return errors.CodeTargetUnavailable, account.Status("")
	default:
		return errors.CodeInternal, account.Status("")
	}
}
