package gateway

// Wire models for the remote platform's private web API responses.

// Remote media type discriminators
const (
	wireMediaImage    = 1
	wireMediaVideo    = 2
	wireMediaCarousel = 8
)

// Well-known values of apiEnvelope.Message used for error classification
const (
	msgChallengeRequired = "challenge_required"
	msgLoginRequired     = "login_required"
	msgPrivateUser       = "private_user"
	msgPleaseWait        = "please_wait_few_minutes"
	msgUserNotFound      = "user_not_found"
)

// apiEnvelope is the common status wrapper on every API response
type apiEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type loginResponse struct {
	apiEnvelope
	Authenticated bool   `json:"authenticated"`
	SessionToken  string `json:"session_token"`
	UserID        string `json:"user_id"`
}

type webProfileResponse struct {
	apiEnvelope
	Data struct {
		User *wireProfile `json:"user"`
	} `json:"data"`
}

type usernameLookupResponse struct {
	apiEnvelope
	User *wireProfile `json:"user"`
}

type wireProfile struct {
	ID         string `json:"id"`
	PK         string `json:"pk"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	MediaCount int    `json:"media_count"`
}

// profileID prefers the GraphQL id and falls back to the numeric pk,
// which is the only id the secondary lookup endpoint returns.
func (p *wireProfile) profileID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.PK
}

type storiesResponse struct {
	apiEnvelope
	Reels map[string]struct {
		Items []wireMedia `json:"items"`
	} `json:"reels"`
}

type feedResponse struct {
	apiEnvelope
	Items []wireMedia `json:"items"`
}

type wireMedia struct {
	ID            string      `json:"id"`
	MediaType     int         `json:"media_type"`
	TakenAt       int64       `json:"taken_at"`
	DisplayURL    string      `json:"display_url"`
	VideoURL      string      `json:"video_url"`
	VideoDuration float64     `json:"video_duration"`
	LikeCount     int         `json:"like_count"`
	CommentCount  int         `json:"comment_count"`
	Caption       *wireText   `json:"caption"`
	CarouselMedia []wireMedia `json:"carousel_media"`
}

type wireText struct {
	Text string `json:"text"`
}

func (m *wireMedia) captionText() string {
	if m.Caption == nil {
		return ""
	}
	return m.Caption.Text
}

func (m *wireMedia) mediaKind() MediaKind {
	if m.MediaType == wireMediaVideo {
		return MediaVideo
	}
	return MediaImage
}

func (m *wireMedia) mediaURL() string {
	if m.MediaType == wireMediaVideo && m.VideoURL != "" {
		return m.VideoURL
	}
	return m.DisplayURL
}
