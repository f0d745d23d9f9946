package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/newsreader/internal/browse"
	"github.com/TobiSchelling/newsreader/internal/catalog"
	"github.com/TobiSchelling/newsreader/internal/database"
	"github.com/TobiSchelling/newsreader/internal/pipeline"
	"github.com/TobiSchelling/newsreader/internal/playback"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const (
	indexLimit  = 50
	wsWriteWait = 10 * time.Second
	wsPingEvery = 30 * time.Second
)

// Store is the read side of the article store the pages need.
type Store interface {
	Get(id string) (*database.Article, error)
	ListRecent(limit int) ([]database.Article, error)
	GetStats() (*database.Stats, error)
}

// Player controls narration.
type Player interface {
	State() playback.State
	Subscribe() <-chan playback.State
	Unsubscribe(ch <-chan playback.State)
	PlayID(ctx context.Context, id string) error
	Resume(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
}

type Browser interface {
	Children(ctx context.Context, parentID string) ([]browse.Node, error)
}

type Refresher interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// Deps are the components the server exposes.
type Deps struct {
	Store     Store
	Player    Player
	Browser   Browser
	Refresher Refresher
}

// Server is the HTTP server for reading and narrating articles.
type Server struct {
	deps     Deps
	pages    map[string]*template.Template
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New creates a new Server.
func New(deps Deps) (*Server, error) {
	funcMap := template.FuncMap{
		"paragraphs": renderParagraphs,
		"date":       formatDate,
		"body": func(a *database.Article) string {
			if a.HasFullContent() {
				return *a.FullContent
			}
			return a.Content
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base with its own "content" block.
	pageNames := []string{"index.html", "article.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{deps: deps, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /article/{id}", s.handleArticle)

	// API
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/browse", s.handleBrowse)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/play/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		s.control(w, r, func(ctx context.Context) error { return s.deps.Player.PlayID(ctx, id) })
	})
	s.mux.HandleFunc("POST /api/resume", s.handleControl(func(p Player) func(context.Context) error { return p.Resume }))
	s.mux.HandleFunc("POST /api/pause", s.handleControl(func(p Player) func(context.Context) error { return p.Pause }))
	s.mux.HandleFunc("POST /api/stop", s.handleControl(func(p Player) func(context.Context) error { return p.Stop }))
	s.mux.HandleFunc("POST /api/next", s.handleControl(func(p Player) func(context.Context) error { return p.Next }))
	s.mux.HandleFunc("POST /api/previous", s.handleControl(func(p Player) func(context.Context) error { return p.Previous }))

	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	articles, err := s.deps.Store.ListRecent(indexLimit)
	if err != nil {
		log.Errorf("listing articles: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.deps.Store.GetStats()
	if err != nil {
		log.Errorf("reading stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Articles": articles,
		"Stats":    stats,
		"State":    s.deps.Player.State(),
	})
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		log.Errorf("getting article: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if article == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "article.html", map[string]any{
		"Article": article,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Player.State())
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		id = browse.RootID
	}
	nodes, err := s.deps.Browser.Children(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]browse.View, len(nodes))
	for i, n := range nodes {
		views[i] = browse.ViewOf(n)
	}
	writeJSON(w, http.StatusOK, views)
}

type stepView struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	req := pipeline.Request{
		Source:   strings.TrimSpace(r.FormValue("source")),
		Category: strings.TrimSpace(r.FormValue("category")),
	}
	if v := r.FormValue("prefetch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prefetch must be a non-negative integer"})
			return
		}
		req.Prefetch = n
	}

	result := s.deps.Refresher.Run(r.Context(), req)
	steps := make([]stepView, len(result.Steps))
	for i, st := range result.Steps {
		steps[i] = stepView{Name: st.Name, Summary: st.Summary}
		if st.Err != nil {
			steps[i].Error = st.Err.Error()
		}
	}

	status := http.StatusOK
	if err := result.Err(); err != nil {
		status = errorStatus(err)
	}
	writeJSON(w, status, map[string]any{"label": result.Label, "steps": steps})
}

func (s *Server) handleControl(pick func(Player) func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.control(w, r, pick(s.deps.Player))
	}
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, cmd func(context.Context) error) {
	if err := cmd(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Player.State())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	states := s.deps.Player.Subscribe()
	defer s.deps.Player.Unsubscribe(states)

	// The read side only watches for the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(state); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("websocket write: %v", err)
				}
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		log.Errorf("Error rendering template %s: %v", name, err)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoTarget):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, playback.ErrNoArticle):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusBadGateway {
		log.Warnf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("encoding response: %v", err)
	}
}

// markdownEscaper backslash-escapes ASCII punctuation, which CommonMark
// always reads as a literal character.
var markdownEscaper = func() *strings.Replacer {
	const punct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	pairs := make([]string, 0, 2*len(punct))
	for _, c := range punct {
		pairs = append(pairs, string(c), "\\"+string(c))
	}
	return strings.NewReplacer(pairs...)
}()

// escapeMarkdown makes scraped text inert so that goldmark only splits it
// into paragraphs: no lists, headings, emphasis, code blocks or raw HTML.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = markdownEscaper.Replace(strings.TrimSpace(l))
	}
	return strings.Join(lines, "\n")
}

// renderParagraphs renders article text, one paragraph per blank-line
// separated block, through goldmark.
func renderParagraphs(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(escapeMarkdown(text)), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatDate(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).Format("02/01/2006 15:04")
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, deps Deps, port int) error {
	srv, err := New(deps)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Infof("Server listening on http://%s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
