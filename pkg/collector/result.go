package collector

import (
	"fmt"
	"time"

	"igcollector/pkg/errors"
	"igcollector/pkg/gateway"
)

// Caption text is truncated to keep result payloads bounded
const maxCaptionLength = 500

// Media kinds reported in results. Children of a carousel post report as
// carousel items regardless of their media nature; the filename extension
// still tells images and videos apart.
const (
	KindImage        = "image"
	KindVideo        = "video"
	KindCarouselItem = "carousel-item"
)

func kindOf(kind gateway.MediaKind) string {
	if kind == gateway.MediaVideo {
		return KindVideo
	}
	return KindImage
}

// Request describes one collection run
type Request struct {
	Username       string
	IncludeStories bool
	IncludeFeed    bool
	MaxFeedPosts   int
}

// MediaFile is one collected media item with its bytes and metadata.
// Data marshals as base64 in JSON.
type MediaFile struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Filename string                 `json:"filename"`
	Size     int                    `json:"size"`
	Data     []byte                 `json:"data"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Result is the outcome of one collection run. Code is empty on success.
type Result struct {
	Target      string      `json:"target"`
	Timestamp   time.Time   `json:"timestamp"`
	AccountUsed string      `json:"account_used,omitempty"`
	Success     bool        `json:"success"`
	Code        errors.Code `json:"error_code,omitempty"`
	Message     string      `json:"message,omitempty"`
	Stories     []MediaFile `json:"stories"`
	FeedPosts   []MediaFile `json:"feed_posts"`
}

// truncateCaption bounds a caption to maxCaptionLength characters
func truncateCaption(caption string) string {
	runes := []rune(caption)
	if len(runes) <= maxCaptionLength {
		return caption
	}
	return string(runes[:maxCaptionLength])
}

// mediaFilename derives the on-the-wire filename for a media item
func mediaFilename(prefix, id string, kind gateway.MediaKind) string {
	ext := ".jpg"
	if kind == gateway.MediaVideo {
		ext = ".mp4"
	}
	return fmt.Sprintf("%s_%s%s", prefix, id, ext)
}
