// Package gateway provides authenticated sessions against the remote media
// platform. All failures surface as a closed set of error kinds so callers
// can switch on kind instead of matching message text.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a gateway failure
type ErrorKind string

const (
	KindExpiredSession ErrorKind = "expired_session"
	KindChallenge      ErrorKind = "challenge"
	KindRateLimited    ErrorKind = "rate_limited"
	KindDead           ErrorKind = "dead"
	KindNotFound       ErrorKind = "not_found"
	KindPrivate        ErrorKind = "private"
	KindNetwork        ErrorKind = "network"
	KindServer         ErrorKind = "server"
)

// Error represents a gateway failure with kind information
type Error struct {
	Kind    ErrorKind
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s error (code %d): %s", e.Kind, e.Code, e.Message)
}

// Kind extracts the error kind from err, or "" if err is not a gateway error
func Kind(err error) ErrorKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// IsKind reports whether err is a gateway error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return Kind(err) == kind
}

// MediaKind is the kind of a remote media item
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Credentials identifies one account against the remote platform
type Credentials struct {
	Username    string
	Password    string
	Proxy       string
	SessionFile string
}

// Profile is the resolved identity of a target user
type Profile struct {
	ID         string
	Username   string
	FullName   string
	IsPrivate  bool
	MediaCount int
}

// StoryRef references one ephemeral story item
type StoryRef struct {
	ID       string
	Kind     MediaKind
	URL      string
	TakenAt  time.Time
	Duration float64
	Caption  string
}

// CarouselItem references one child of a carousel post
type CarouselItem struct {
	ID   string
	Kind MediaKind
	URL  string
}

// PostRef references one feed post. Carousel is non-empty for carousel posts.
type PostRef struct {
	ID           string
	Kind         MediaKind
	URL          string
	TakenAt      time.Time
	Caption      string
	LikeCount    int
	CommentCount int
	Carousel     []CarouselItem
}

// IsCarousel reports whether the post is composed of multiple child items
func (p PostRef) IsCarousel() bool {
	return len(p.Carousel) > 0
}

// MediaRef is a downloadable media pointer
type MediaRef struct {
	ID   string
	Kind MediaKind
	URL  string
}

// Session is an authenticated handle onto the remote platform
type Session interface {
	// Username returns the account the session belongs to
	Username() string
	// Ping performs a lightweight liveness probe
	Ping(ctx context.Context) error
	// ResolveUser looks up a target user, trying the primary profile
	// endpoint and then the secondary lookup endpoint
	ResolveUser(ctx context.Context, handle string) (*Profile, error)
	// ListStories returns the target's current ephemeral stories
	ListStories(ctx context.Context, profileID string) ([]StoryRef, error)
	// ListFeed returns up to limit recent feed posts, newest first
	ListFeed(ctx context.Context, profileID string, limit int) ([]PostRef, error)
	// Download fetches the raw bytes of a media item
	Download(ctx context.Context, ref MediaRef) ([]byte, error)
}

// Gateway produces authenticated sessions from credentials
type Gateway interface {
	Authenticate(ctx context.Context, creds Credentials) (Session, error)
}
