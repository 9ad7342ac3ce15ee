package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcollector/pkg/config"
)

const testToken = "tok-abc123"

// fakeRemote is an httptest stand-in for the remote platform
type fakeRemote struct {
	mux        *http.ServeMux
	loginCalls int
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{mux: http.NewServeMux()}

	f.mux.HandleFunc("/accounts/login/ajax/", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++
		if err := r.ParseForm(); err != nil || r.PostFormValue("password") != "secret" {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"fail","authenticated":false}`)
			return
		}
		fmt.Fprintf(w, `{"status":"ok","authenticated":true,"session_token":%q,"user_id":"42"}`, testToken)
	})

	f.mux.HandleFunc("/api/v1/accounts/current_user/", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status":"fail","message":"login_required"}`)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	return f
}

func (f *fakeRemote) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("sessionid")
	return err == nil && cookie.Value == testToken
}

func (f *fakeRemote) handle(pattern string, handler http.HandlerFunc) {
	f.mux.Handle(pattern, handler)
}

func newTestClient(t *testing.T, remote *fakeRemote) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(remote.mux)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	sessions, err := NewSessionStore(filepath.Join(dir, "sessions"), "test-passphrase")
	require.NoError(t, err)

	cfg := &config.GatewayConfig{
		BaseURL:           server.URL,
		UserAgent:         "igcollector-test",
		RequestTimeout:    5 * time.Second,
		DownloadTimeout:   5 * time.Second,
		RequestsPerMinute: 1000,
		MaxRetries:        1,
	}

	client, err := NewClient(cfg, sessions, filepath.Join(dir, "temp"), nil)
	require.NoError(t, err)
	return client, server
}

func testCreds() Credentials {
	return Credentials{Username: "scout_1", Password: "secret"}
}

func TestAuthenticateFreshLogin(t *testing.T) {
	remote := newFakeRemote()
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, "scout_1", sess.Username())
	assert.Equal(t, 1, remote.loginCalls)

	assert.True(t, client.sessions.Exists("scout_1"), "session material persisted after login")
}

func TestAuthenticateRestoresPersistedSession(t *testing.T) {
	remote := newFakeRemote()
	client, _ := newTestClient(t, remote)

	_, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)
	require.Equal(t, 1, remote.loginCalls)

	// Second authentication rides the persisted session
	_, err = client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, 1, remote.loginCalls, "no second login when the session still pings")
}

func TestAuthenticateReloginAfterExpiredSession(t *testing.T) {
	remote := newFakeRemote()
	client, _ := newTestClient(t, remote)

	// Persist a blob with a token the remote no longer accepts
	state, _ := json.Marshal(sessionState{SessionToken: "stale-token", SavedAt: time.Now()})
	require.NoError(t, client.sessions.Save("scout_1", state))

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)
	assert.Equal(t, "scout_1", sess.Username())
	assert.Equal(t, 1, remote.loginCalls)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	remote := newFakeRemote()
	client, _ := newTestClient(t, remote)

	creds := testCreds()
	creds.Password = "wrong"
	_, err := client.Authenticate(context.Background(), creds)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDead))
}

func TestResolveUserPrimaryEndpoint(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/api/v1/users/web_profile_info/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "target_user", r.URL.Query().Get("username"))
		fmt.Fprint(w, `{"status":"ok","data":{"user":{"id":"9000","username":"target_user","full_name":"Target","is_private":false,"media_count":12}}}`)
	})
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	profile, err := sess.ResolveUser(context.Background(), "target_user")
	require.NoError(t, err)
	assert.Equal(t, "9000", profile.ID)
	assert.Equal(t, 12, profile.MediaCount)
	assert.False(t, profile.IsPrivate)
}

func TestResolveUserFallsBackToLookupEndpoint(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/api/v1/users/web_profile_info/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"fail","message":"user_not_found"}`)
	})
	remote.handle("/api/v1/users/target_user/usernameinfo/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","user":{"pk":"9000","username":"target_user","is_private":true}}`)
	})
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	profile, err := sess.ResolveUser(context.Background(), "target_user")
	require.NoError(t, err)
	assert.Equal(t, "9000", profile.ID, "pk serves as the id on the lookup endpoint")
	assert.True(t, profile.IsPrivate)
}

func TestResolveUserNotFoundOnBothEndpoints(t *testing.T) {
	remote := newFakeRemote()
	notFound := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"fail","message":"user_not_found"}`)
	}
	remote.handle("/api/v1/users/web_profile_info/", notFound)
	remote.handle("/api/v1/users/ghost/usernameinfo/", notFound)
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	_, err = sess.ResolveUser(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestListStories(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/api/v1/feed/reels_media/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9000", r.URL.Query().Get("reel_ids"))
		fmt.Fprint(w, `{"status":"ok","reels":{"9000":{"items":[
			{"id":"s1","media_type":1,"taken_at":1756600000,"display_url":"http://cdn/s1.jpg"},
			{"id":"s2","media_type":2,"taken_at":1756601000,"display_url":"http://cdn/s2.jpg","video_url":"http://cdn/s2.mp4","video_duration":14.2}
		]}}}`)
	})
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	stories, err := sess.ListStories(context.Background(), "9000")
	require.NoError(t, err)
	require.Len(t, stories, 2)

	assert.Equal(t, MediaImage, stories[0].Kind)
	assert.Equal(t, "http://cdn/s1.jpg", stories[0].URL)
	assert.Equal(t, MediaVideo, stories[1].Kind)
	assert.Equal(t, "http://cdn/s2.mp4", stories[1].URL, "videos download from the video url")
	assert.Equal(t, 14.2, stories[1].Duration)
}

func TestListStoriesNoReel(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/api/v1/feed/reels_media/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","reels":{}}`)
	})
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	stories, err := sess.ListStories(context.Background(), "9000")
	require.NoError(t, err)
	assert.Empty(t, stories)
}

func TestListFeedParsesCarousel(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/api/v1/feed/user/9000/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "33", r.URL.Query().Get("count"))
		fmt.Fprint(w, `{"status":"ok","items":[
			{"id":"p1","media_type":8,"taken_at":1756600000,"like_count":5,"comment_count":2,
			 "caption":{"text":"three of a kind"},
			 "carousel_media":[
				{"id":"c1","media_type":1,"display_url":"http://cdn/c1.jpg"},
				{"id":"c2","media_type":2,"display_url":"http://cdn/c2.jpg","video_url":"http://cdn/c2.mp4"}
			 ]}
		]}`)
	})
	client, _ := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	posts, err := sess.ListFeed(context.Background(), "9000", 33)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	post := posts[0]
	assert.True(t, post.IsCarousel())
	assert.Equal(t, "three of a kind", post.Caption)
	require.Len(t, post.Carousel, 2)
	assert.Equal(t, MediaImage, post.Carousel[0].Kind)
	assert.Equal(t, "http://cdn/c2.mp4", post.Carousel[1].URL)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   ErrorKind
	}{
		{"challenge message", http.StatusBadRequest, `{"message":"challenge_required"}`, KindChallenge},
		{"login required message", http.StatusUnauthorized, `{"message":"login_required"}`, KindExpiredSession},
		{"rate limit message", http.StatusTooManyRequests, `{"message":"please_wait_few_minutes"}`, KindRateLimited},
		{"private message", http.StatusForbidden, `{"message":"private_user"}`, KindPrivate},
		{"bare 404", http.StatusNotFound, `{}`, KindNotFound},
		{"bare 401", http.StatusUnauthorized, `{}`, KindExpiredSession},
		{"bare 429", http.StatusTooManyRequests, `{}`, KindRateLimited},
		{"server error", http.StatusBadGateway, `{}`, KindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.handle("/api/v1/feed/user/9000/", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			})
			client, _ := newTestClient(t, remote)

			sess, err := client.Authenticate(context.Background(), testCreds())
			require.NoError(t, err)

			_, err = sess.ListFeed(context.Background(), "9000", 10)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.expected), "got %v", err)
		})
	}
}

func TestDownload(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/media/m1.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	client, server := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	data, err := sess.Download(context.Background(), MediaRef{
		ID:   "m1",
		Kind: MediaImage,
		URL:  server.URL + "/media/m1.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}

func TestDownloadRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.handle("/media/m1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client, server := newTestClient(t, remote)

	sess, err := client.Authenticate(context.Background(), testCreds())
	require.NoError(t, err)

	_, err = sess.Download(context.Background(), MediaRef{ID: "m1", URL: server.URL + "/media/m1.jpg"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
}
