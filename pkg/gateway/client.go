package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"igcollector/pkg/config"
	"igcollector/pkg/logger"
	"igcollector/pkg/ratelimit"
	"igcollector/pkg/retry"
)

// Client implements Gateway against the remote platform's private web API
type Client struct {
	cfg      *config.GatewayConfig
	baseURL  string
	sessions *SessionStore
	limiter  ratelimit.Limiter
	tempDir  string
	log      logger.Logger
}

// sessionState is the session material persisted between restarts
type sessionState struct {
	SessionToken string    `json:"session_token"`
	UserID       string    `json:"user_id"`
	SavedAt      time.Time `json:"saved_at"`
}

// NewClient creates a gateway client. Downloaded media is spooled through
// tempDir before being handed back as bytes.
func NewClient(cfg *config.GatewayConfig, sessions *SessionStore, tempDir string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Client{
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		sessions: sessions,
		limiter:  ratelimit.NewTokenBucket(cfg.RequestsPerMinute, time.Minute),
		tempDir:  tempDir,
		log:      log,
	}, nil
}

// Authenticate produces a session for the given credentials, restoring
// persisted session material when present and falling back to a fresh login.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	httpClient, dlClient, err := c.buildHTTPClients(creds)
	if err != nil {
		return nil, err
	}

	// Try the persisted session first
	if c.sessions.Exists(creds.Username) {
		blob, err := c.sessions.Load(creds.Username)
		if err == nil {
			var state sessionState
			if err := json.Unmarshal(blob, &state); err == nil && state.SessionToken != "" {
				sess := &clientSession{
					client:     c,
					creds:      creds,
					token:      state.SessionToken,
					httpClient: httpClient,
					dlClient:   dlClient,
				}
				if err := sess.Ping(ctx); err == nil {
					c.log.DebugWithFields("restored persisted session", map[string]interface{}{
						"account": creds.Username,
					})
					return sess, nil
				} else if !IsKind(err, KindExpiredSession) {
					return nil, err
				}
				c.log.InfoWithFields("persisted session expired, logging in again", map[string]interface{}{
					"account": creds.Username,
				})
			}
		} else {
			c.log.WithError(err).WithField("account", creds.Username).Warn("failed to load persisted session")
		}
	}

	return c.login(ctx, creds, httpClient, dlClient)
}

// login performs a fresh credential login and persists the session material
func (c *Client) login(ctx context.Context, creds Credentials, httpClient, dlClient *http.Client) (Session, error) {
	c.limiter.Wait()

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to create login request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("login request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to read login response: %v", err)}
	}

	var loginResp loginResponse
	if decodeErr := json.Unmarshal(body, &loginResp); decodeErr != nil && resp.StatusCode == http.StatusOK {
		return nil, &Error{Kind: KindServer, Message: "malformed login response", Code: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, loginResp.Message)
	}
	if !loginResp.Authenticated {
		return nil, &Error{Kind: KindDead, Message: "credentials rejected", Code: resp.StatusCode}
	}

	state := sessionState{
		SessionToken: loginResp.SessionToken,
		UserID:       loginResp.UserID,
		SavedAt:      time.Now(),
	}
	blob, _ := json.Marshal(state)
	if err := c.sessions.Save(creds.Username, blob); err != nil {
		c.log.WithError(err).WithField("account", creds.Username).Warn("failed to persist session material")
	}

	c.log.InfoWithFields("login succeeded", map[string]interface{}{
		"account": creds.Username,
	})

	return &clientSession{
		client:     c,
		creds:      creds,
		token:      loginResp.SessionToken,
		httpClient: httpClient,
		dlClient:   dlClient,
	}, nil
}

// buildHTTPClients returns the API and download clients, honoring the
// per-account proxy when one is configured.
func (c *Client) buildHTTPClients(creds Credentials) (*http.Client, *http.Client, error) {
	var transport http.RoundTripper
	if creds.Proxy != "" {
		proxyURL, err := url.Parse(creds.Proxy)
		if err != nil {
			return nil, nil, &Error{Kind: KindDead, Message: fmt.Sprintf("invalid proxy %q: %v", creds.Proxy, err)}
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	apiClient := &http.Client{Timeout: c.cfg.RequestTimeout, Transport: transport}
	dlClient := &http.Client{Timeout: c.cfg.DownloadTimeout, Transport: transport}
	return apiClient, dlClient, nil
}

// classify maps a wire status code and envelope message to an error kind
func classify(statusCode int, message string) *Error {
	kind := KindServer

	switch message {
	case msgChallengeRequired:
		kind = KindChallenge
	case msgLoginRequired:
		kind = KindExpiredSession
	case msgPrivateUser:
		kind = KindPrivate
	case msgPleaseWait:
		kind = KindRateLimited
	case msgUserNotFound:
		kind = KindNotFound
	default:
		switch {
		case statusCode == http.StatusUnauthorized:
			kind = KindExpiredSession
		case statusCode == http.StatusForbidden:
			kind = KindChallenge
		case statusCode == http.StatusNotFound:
			kind = KindNotFound
		case statusCode == http.StatusTooManyRequests:
			kind = KindRateLimited
		case statusCode >= 500:
			kind = KindServer
		}
	}

	msg := message
	if msg == "" {
		msg = fmt.Sprintf("remote returned status %d", statusCode)
	}
	return &Error{Kind: kind, Message: msg, Code: statusCode}
}

// retryableKind reports whether a gateway error kind is worth retrying
func retryableKind(err error) bool {
	switch Kind(err) {
	case KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// clientSession implements Session for one authenticated account
type clientSession struct {
	client     *Client
	creds      Credentials
	token      string
	httpClient *http.Client
	dlClient   *http.Client
}

func (s *clientSession) Username() string {
	return s.creds.Username
}

// Ping probes the session with the cheapest authenticated endpoint
func (s *clientSession) Ping(ctx context.Context) error {
	var resp apiEnvelope
	return s.getJSON(ctx, s.client.currentUserURL(), &resp)
}

// ResolveUser tries the primary profile endpoint, then the secondary
// lookup endpoint before giving up.
func (s *clientSession) ResolveUser(ctx context.Context, handle string) (*Profile, error) {
	var primary webProfileResponse
	err := s.getJSON(ctx, s.client.webProfileURL(handle), &primary)
	if err == nil && primary.Data.User != nil {
		return profileFromWire(primary.Data.User), nil
	}
	if err != nil && !IsKind(err, KindNotFound) && !IsKind(err, KindServer) {
		return nil, err
	}

	s.client.log.DebugWithFields("primary profile lookup failed, trying secondary endpoint", map[string]interface{}{
		"handle": handle,
	})

	var fallback usernameLookupResponse
	if err := s.getJSON(ctx, s.client.usernameLookupURL(handle), &fallback); err != nil {
		return nil, err
	}
	if fallback.User == nil {
		return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("user %q not found", handle)}
	}
	return profileFromWire(fallback.User), nil
}

func profileFromWire(w *wireProfile) *Profile {
	return &Profile{
		ID:         w.profileID(),
		Username:   w.Username,
		FullName:   w.FullName,
		IsPrivate:  w.IsPrivate,
		MediaCount: w.MediaCount,
	}
}

// ListStories returns the target's current stories, oldest first as the
// remote serves them.
func (s *clientSession) ListStories(ctx context.Context, profileID string) ([]StoryRef, error) {
	var resp storiesResponse
	if err := s.getJSON(ctx, s.client.storiesURL(profileID), &resp); err != nil {
		return nil, err
	}

	reel, ok := resp.Reels[profileID]
	if !ok {
		return nil, nil
	}

	stories := make([]StoryRef, 0, len(reel.Items))
	for _, item := range reel.Items {
		stories = append(stories, StoryRef{
			ID:       item.ID,
			Kind:     item.mediaKind(),
			URL:      item.mediaURL(),
			TakenAt:  time.Unix(item.TakenAt, 0),
			Duration: item.VideoDuration,
			Caption:  item.captionText(),
		})
	}
	return stories, nil
}

// ListFeed returns up to limit posts, newest first as the remote serves them
func (s *clientSession) ListFeed(ctx context.Context, profileID string, limit int) ([]PostRef, error) {
	var resp feedResponse
	if err := s.getJSON(ctx, s.client.userFeedURL(profileID, limit), &resp); err != nil {
		return nil, err
	}

	posts := make([]PostRef, 0, len(resp.Items))
	for _, item := range resp.Items {
		post := PostRef{
			ID:           item.ID,
			Kind:         item.mediaKind(),
			URL:          item.mediaURL(),
			TakenAt:      time.Unix(item.TakenAt, 0),
			Caption:      item.captionText(),
			LikeCount:    item.LikeCount,
			CommentCount: item.CommentCount,
		}
		if item.MediaType == wireMediaCarousel {
			for _, child := range item.CarouselMedia {
				post.Carousel = append(post.Carousel, CarouselItem{
					ID:   child.ID,
					Kind: child.mediaKind(),
					URL:  child.mediaURL(),
				})
			}
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// Download fetches media bytes, spooling through the temp directory so a
// partial transfer never surfaces as a truncated payload.
func (s *clientSession) Download(ctx context.Context, ref MediaRef) ([]byte, error) {
	s.client.limiter.Wait()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to create download request: %v", err)}
	}
	req.Header.Set("User-Agent", s.client.cfg.UserAgent)

	resp, err := s.dlClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("download failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, "")
	}

	tempFile, err := os.CreateTemp(s.client.tempDir, "dl_*.bin")
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to create temp file: %v", err)}
	}
	tempPath := tempFile.Name()

	_, copyErr := io.Copy(tempFile, resp.Body)
	closeErr := tempFile.Close()
	if copyErr != nil || closeErr != nil {
		// Leave the partial file behind; the periodic cleanup sweeps it
		return nil, &Error{Kind: KindNetwork, Message: "download interrupted"}
	}

	data, err := os.ReadFile(tempPath)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to read downloaded media: %v", err)}
	}
	os.Remove(tempPath)

	return data, nil
}

// getJSON performs an authenticated GET with rate limiting and retries on
// transient failures.
func (s *clientSession) getJSON(ctx context.Context, requestURL string, target interface{}) error {
	op := func() error {
		s.client.limiter.Wait()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to create request: %v", err)}
		}
		req.Header.Set("User-Agent", s.client.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cookie", "sessionid="+s.token)

		start := time.Now()
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return &Error{Kind: KindNetwork, Message: fmt.Sprintf("request failed: %v", err)}
		}
		defer resp.Body.Close()

		s.client.log.DebugWithFields("gateway request completed", map[string]interface{}{
			"url":      requestURL,
			"status":   resp.StatusCode,
			"duration": time.Since(start),
		})

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Kind: KindNetwork, Message: fmt.Sprintf("failed to read response: %v", err)}
		}

		if resp.StatusCode != http.StatusOK {
			var envelope apiEnvelope
			_ = json.Unmarshal(body, &envelope)
			return classify(resp.StatusCode, envelope.Message)
		}

		if err := json.Unmarshal(body, target); err != nil {
			return &Error{Kind: KindServer, Message: fmt.Sprintf("malformed response: %v", err), Code: resp.StatusCode}
		}
		return nil
	}

	return retry.Do(op, &retry.Config{
		MaxAttempts: s.client.cfg.MaxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     retryableKind,
		Context:     ctx,
		Logger:      s.client.log,
	})
}
