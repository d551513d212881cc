package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	s := NewServer(Config{Backend: "memory://local"}, newTestStore(t, "connection"), newTestStore(t, "posts"))
	s.probes.SetReady(true)
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	} else if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPages(t *testing.T) {
	_, h := newTestServer(t)

	for path, want := range map[string]string{
		"/":              "Overview",
		"/configuration": "[connections.mongodb]",
		"/connection":    "find-1",
		"/wall":          "StreamY",
	} {
		rec := do(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("%s: expected the page to contain %q", path, want)
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s: unexpected content type %q", path, ct)
		}
	}

	if rec := do(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected the app to be ready, got %d", rec.Code)
	}
}

func TestTryEveryDemoCall(t *testing.T) {
	_, h := newTestServer(t)

	for _, call := range demoCalls {
		rec := do(t, h, http.MethodPost, "/connection/try/"+call.Key, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d: %s", call.Key, rec.Code, rec.Body.String())
			continue
		}
		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("%s: invalid json: %v", call.Key, err)
			continue
		}
		if resp["operation"] != call.Key {
			t.Errorf("%s: unexpected response %v", call.Key, resp)
		}
	}

	if rec := do(t, h, http.MethodPost, "/connection/try/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown call, got %d", rec.Code)
	}
}

func TestWallSession(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/wall", "")
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == userCookie {
			session = c
		}
	}
	if session == nil || !usernamePattern.MatchString(session.Value) {
		t.Fatalf("expected a session cookie, got %v", rec.Result().Cookies())
	}

	// posting through the form keeps the user of the session
	form := url.Values{"post": {"hello from the form"}, "ttl": {"0"}}
	rec = do(t, h, http.MethodPost, "/wall", form.Encode(), session)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/wall?ttl=0" {
		t.Errorf("expected a redirect to the wall, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = do(t, h, http.MethodGet, "/wall?ttl=0", "", session)
	body := rec.Body.String()
	if !strings.Contains(body, "hello from the form") || !strings.Contains(body, session.Value) {
		t.Errorf("expected the post of %s on the wall", session.Value)
	}

	// invalid posts are reported on the wall
	form = url.Values{"post": {strings.Repeat("x", MaxPostLength+1)}, "ttl": {"0"}}
	rec = do(t, h, http.MethodPost, "/wall", form.Encode(), session)
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "error=") {
		t.Errorf("expected an error in the redirect, got %q", loc)
	}
}

func TestWallAPI(t *testing.T) {
	_, h := newTestServer(t)
	user := &http.Cookie{Name: userCookie, Value: "UglyClown77"}

	rec := do(t, h, http.MethodPost, "/api/wall/posts", `{"post": "via api"}`, user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var post Post
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatal(err)
	}
	if post.User != "UglyClown77" || post.Avatar != "🤡" || post.Ref == "" {
		t.Errorf("unexpected post %+v", post)
	}

	rec = do(t, h, http.MethodPost, "/api/wall/posts", `{"post": ""}`, user)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty post, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/wall/posts?ttl=0", "")
	var posts []Post
	if err := json.Unmarshal(rec.Body.Bytes(), &posts); err != nil || len(posts) != 1 {
		t.Errorf("expected one post, got %s (%v)", rec.Body.String(), err)
	}

	rec = do(t, h, http.MethodGet, "/api/wall/stats?ttl=0", "")
	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Posts != 1 || stats.Users != 1 || stats.TotalChars != int64(len("via api")) {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func preflight(h http.Handler, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/api/wall/posts", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWallAPICredentials(t *testing.T) {
	// without configured origins any site may call the api, but never with cookies
	_, h := newTestServer(t)
	rec := preflight(h, "https://elsewhere.example")
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Errorf("expected anonymous cross origin access, got %v", rec.Header())
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("expected no credentials for wildcard origins, got %q", got)
	}

	s := NewServer(Config{AllowedOrigins: []string{"https://ddoc.example"}}, newTestStore(t, "connection"), newTestStore(t, "posts"))
	h = s.Handler()
	rec = preflight(h, "https://ddoc.example")
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("expected credentials for a configured origin, got %v", rec.Header())
	}
	rec = preflight(h, "https://elsewhere.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected other origins to be rejected, got %q", got)
	}

	// form encoded or plain text bodies do not reach the json api
	req := httptest.NewRequest(http.MethodPost, "/api/wall/posts", strings.NewReader(`{"post": "sneaky"}`))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415 for a text body, got %d", rec.Code)
	}
}
