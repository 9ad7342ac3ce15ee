package integration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

const (
	mockToken     = "integration-token"
	mockPassword  = "secret"
	mockProfileID = "9000"
)

// mockServer stands in for the remote platform. It serves a login
// endpoint, the authenticated API surface for one public target, and
// the media bytes the listings point at.
type mockServer struct {
	server *httptest.Server

	mu         sync.Mutex
	loginCalls int
	apiCalls   int
	rateLimit  bool
}

func newMockServer() *mockServer {
	m := &mockServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/login/ajax/", m.handleLogin)
	mux.HandleFunc("/api/v1/accounts/current_user/", m.authenticated(m.handleCurrentUser))
	mux.HandleFunc("/api/v1/users/web_profile_info/", m.authenticated(m.limited(m.handleProfile)))
	mux.HandleFunc("/api/v1/feed/reels_media/", m.authenticated(m.limited(m.handleStories)))
	mux.HandleFunc("/api/v1/feed/user/"+mockProfileID+"/", m.authenticated(m.limited(m.handleFeed)))
	mux.HandleFunc("/media/", m.handleMedia)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *mockServer) Close()      { m.server.Close() }
func (m *mockServer) URL() string { return m.server.URL }

// SetRateLimited makes the data endpoints answer 429. Login and the
// session ping stay open so runs fail at the listing stage.
func (m *mockServer) SetRateLimited(limited bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimit = limited
}

func (m *mockServer) LoginCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls
}

func (m *mockServer) APICalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiCalls
}

func (m *mockServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.loginCalls++
	m.mu.Unlock()

	if err := r.ParseForm(); err != nil || r.PostFormValue("password") != mockPassword {
		fmt.Fprint(w, `{"status":"fail","authenticated":false}`)
		return
	}
	fmt.Fprintf(w, `{"status":"ok","authenticated":true,"session_token":%q,"user_id":"42"}`, mockToken)
}

func (m *mockServer) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("sessionid")
		if err != nil || cookie.Value != mockToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"status":"fail","message":"login_required"}`)
			return
		}

		m.mu.Lock()
		m.apiCalls++
		m.mu.Unlock()
		next(w, r)
	}
}

func (m *mockServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		limited := m.rateLimit
		m.mu.Unlock()

		if limited {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"status":"fail","message":"please_wait_few_minutes"}`)
			return
		}
		next(w, r)
	}
}

func (m *mockServer) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (m *mockServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("username") != "target_user" {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"status":"fail","message":"user_not_found"}`)
		return
	}
	fmt.Fprintf(w, `{"status":"ok","data":{"user":{"id":%q,"username":"target_user","full_name":"Target User","is_private":false,"media_count":3}}}`, mockProfileID)
}

// handleStories serves one image story taken an hour ago
func (m *mockServer) handleStories(w http.ResponseWriter, r *http.Request) {
	takenAt := time.Now().Add(-time.Hour).Unix()
	fmt.Fprintf(w, `{"status":"ok","reels":{%q:{"items":[
		{"id":"s1","media_type":1,"taken_at":%d,"display_url":%q}
	]}}}`, mockProfileID, takenAt, m.URL()+"/media/s1.jpg")
}

// handleFeed serves a fresh image post and a fresh two-item carousel,
// newest first.
func (m *mockServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	fresh := time.Now().Add(-2 * time.Hour).Unix()
	older := time.Now().Add(-6 * time.Hour).Unix()
	fmt.Fprintf(w, `{"status":"ok","items":[
		{"id":"p1","media_type":1,"taken_at":%d,"like_count":7,"comment_count":1,
		 "caption":{"text":"fresh post"},"display_url":%q},
		{"id":"p2","media_type":8,"taken_at":%d,"caption":{"text":"two of a kind"},
		 "carousel_media":[
			{"id":"c1","media_type":1,"display_url":%q},
			{"id":"c2","media_type":2,"display_url":%q,"video_url":%q}
		 ]}
	]}`, fresh, m.URL()+"/media/p1.jpg", older,
		m.URL()+"/media/c1.jpg", m.URL()+"/media/c2.jpg", m.URL()+"/media/c2.mp4")
}

func (m *mockServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("bytes-of-" + r.URL.Path[len("/media/"):]))
}
