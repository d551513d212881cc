package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/web/lifecycle"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

var logger = logging.GetLogger("web")

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"avatar": Avatar,
	"date": func(t time.Time) string {
		return t.Local().Format("02.01.2006 15:04")
	},
}).ParseFS(templatesFS, "templates/*.html"))

// userCookie holds the wall user name of a browser session
const userCookie = "ddoc_user"

// Config describes the backends shown on the pages
type Config struct {
	// Backend is a human readable description of where the stores live
	Backend string
	// AllowedOrigins of the json api. Only these origins may send the session
	// cookie. Without any, every http(s) origin may call it without cookies.
	AllowedOrigins []string
}

// Server serves the demo pages and the wall
type Server struct {
	config Config
	demo   store.IStore
	wall   *Wall
	probes *lifecycle.Probes
}

// NewServer creates the web app. demo is the collection used by the
// connection page, posts the collection of the wall.
func NewServer(config Config, demo, posts store.IStore) *Server {
	s := &Server{
		config: config,
		demo:   demo,
		wall:   NewWall(posts),
	}
	s.probes = lifecycle.NewProbes(s.check)
	return s
}

// Serve runs the app on addr until ctx is cancelled
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.probes.SetReady(true)
	defer s.probes.SetReady(false)
	return lifecycle.Serve(ctx, addr, s.Handler())
}

// Handler returns the router of the app
func (s *Server) Handler() http.Handler {
	// cookies are only accepted from configured origins, the wildcard
	// default allows anonymous reads and posts without the session
	origins := s.config.AllowedOrigins
	credentials := len(origins) > 0
	if !credentials {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(lifecycle.RequestLogger(logger))

	s.probes.Mount(r)

	r.Get("/", s.handleHome)
	r.Get("/configuration", s.handleConfiguration)
	r.Get("/connection", s.handleConnection)
	r.Post("/connection/try/{key}", s.handleTry)
	r.Get("/wall", s.handleWall)
	r.Post("/wall", s.handlePublishForm)

	r.Route("/api/wall", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Origin"},
			AllowCredentials: credentials,
			MaxAge:           300,
		}))
		r.Get("/posts", s.handlePosts)
		r.With(middleware.AllowContentType("application/json")).Post("/posts", s.handlePublishJSON)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// check is the readiness check, both stores must answer
func (s *Server) check(ctx context.Context) error {
	if _, err := s.demo.GetInfo(ctx); err != nil {
		return err
	}
	_, err := s.wall.store.GetInfo(ctx)
	return err
}

// --------------------------------------------------------------------------
// Pages
// --------------------------------------------------------------------------

type page struct {
	Title   string
	Backend string
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		logger.Errorf("failed to render %s: %v", name, err)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "home.html", page{Title: "dDoc", Backend: s.config.Backend})
}

func (s *Server) handleConfiguration(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "configuration.html", page{Title: "Configuration", Backend: s.config.Backend})
}

func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	s.render(w, "connection.html", struct {
		page
		Groups []string
		Calls  map[string][]DemoCall
	}{
		page:   page{Title: "Connection", Backend: s.config.Backend},
		Groups: demoGroups,
		Calls:  demoCallsByGroup(),
	})
}

func (s *Server) handleTry(w http.ResponseWriter, r *http.Request) {
	call, ok := findDemoCall(chi.URLParam(r, "key"))
	if !ok {
		renderError(w, r, http.StatusNotFound, errors.New("unknown demo call"))
		return
	}

	result, err := call.Run(r.Context(), s.demo)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"operation": call.Key, "result": result})
}

func (s *Server) handleWall(w http.ResponseWriter, r *http.Request) {
	user := s.session(w, r)
	ttl := ParseWallTTL(r.URL.Query().Get("ttl"))

	posts, err := s.wall.Posts(r.Context(), time.Duration(ttl)*time.Second)
	if err != nil {
		logger.Errorf("failed to load posts: %v", err)
		http.Error(w, "failed to load posts", http.StatusInternalServerError)
		return
	}
	stats, err := s.wall.Stats(r.Context(), time.Duration(ttl)*time.Second)
	if err != nil {
		logger.Errorf("failed to load stats: %v", err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	s.render(w, "wall.html", struct {
		page
		User          string
		TTL           int
		MaxTTL        int
		Step          int
		MaxPostLength int
		Posts         []Post
		Stats         Stats
		Error         string
	}{
		page:          page{Title: "StreamY", Backend: s.config.Backend},
		User:          user,
		TTL:           ttl,
		MaxTTL:        MaxWallTTL,
		Step:          WallTTLStep,
		MaxPostLength: MaxPostLength,
		Posts:         posts,
		Stats:         stats,
		Error:         r.URL.Query().Get("error"),
	})
}

func (s *Server) handlePublishForm(w http.ResponseWriter, r *http.Request) {
	user := s.session(w, r)
	ttl := ParseWallTTL(r.FormValue("ttl"))

	q := url.Values{"ttl": {strconv.Itoa(ttl)}}
	if _, err := s.wall.Publish(r.Context(), user, r.FormValue("post")); err != nil {
		if !store.IsValidationError(err) {
			logger.Errorf("failed to publish post: %v", err)
		}
		q.Set("error", err.Error())
	}
	http.Redirect(w, r, "/wall?"+q.Encode(), http.StatusSeeOther)
}

// --------------------------------------------------------------------------
// JSON api
// --------------------------------------------------------------------------

type publishRequest struct {
	Post string `json:"post"`
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	ttl := ParseWallTTL(r.URL.Query().Get("ttl"))
	posts, err := s.wall.Posts(r.Context(), time.Duration(ttl)*time.Second)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.JSON(w, r, posts)
}

func (s *Server) handlePublishJSON(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	post, err := s.wall.Publish(r.Context(), s.session(w, r), req.Post)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, post)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ttl := ParseWallTTL(r.URL.Query().Get("ttl"))
	stats, err := s.wall.Stats(r.Context(), time.Duration(ttl)*time.Second)
	if err != nil {
		renderStoreError(w, r, err)
		return
	}
	render.JSON(w, r, stats)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// session returns the user name of the request and creates one if needed
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(userCookie); err == nil && c.Value != "" {
		return c.Value
	}
	user := NewUsername()
	http.SetCookie(w, &http.Cookie{
		Name:     userCookie,
		Value:    user,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return user
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// renderStoreError maps store errors to http status codes
func renderStoreError(w http.ResponseWriter, r *http.Request, err error) {
	code := store.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case store.RetCValidationError:
		status = http.StatusBadRequest
	case store.RetCUnsupportedOperation:
		status = http.StatusNotImplemented
	case store.RetCConnectionError:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("store call failed: %v", err)
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Code: code.String()})
}
