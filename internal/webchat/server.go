// ABOUTME: Web chat surface with a thread sidebar, live transcript and message input
// ABOUTME: Streams turns to the browser as Server-Sent Events and renders replies as markdown

package webchat

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/chatbot/internal/auth"
	"github.com/2389/chatbot/internal/session"
	"github.com/2389/chatbot/internal/store"
)

// Cookie names used by the web chat.
const (
	SessionCookieName = "chatbot_session"
	CSRFCookieName    = "chatbot_csrf"
)

// Config holds web chat settings.
type Config struct {
	// SessionIdle is how long a browser session may stay unused before it is dropped.
	SessionIdle time.Duration
	// Verifier, when set, requires a valid token on every route but /healthz.
	Verifier auth.TokenVerifier
}

// Server serves the web chat.
type Server struct {
	hub    *hub
	bus    *session.Bus
	cfg    Config
	md     goldmark.Markdown
	tmpl   *template.Template
	logger *slog.Logger

	// authLogger is untagged; the middleware adds its own component.
	authLogger *slog.Logger
}

// New creates a web chat server. bus may be nil, in which case open pages are
// not told about threads created elsewhere.
func New(factory SessionFactory, bus *session.Bus, cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 30 * time.Minute
	}
	authLogger := logger
	logger = logger.With("component", "webchat")

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"shortID": session.ShortID,
	}).ParseFS(templateFS, "templates/*.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	return &Server{
		hub:        newHub(factory, cfg.SessionIdle, logger),
		bus:        bus,
		cfg:        cfg,
		md:         goldmark.New(goldmark.WithExtensions(extension.GFM)),
		tmpl:       tmpl,
		logger:     logger,
		authLogger: authLogger,
	}, nil
}

// Close drops all browser sessions.
func (s *Server) Close() {
	s.hub.Close()
}

// Handler returns the HTTP handler for the web chat.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.Verifier != nil {
		root.Handle("/", auth.HTTPAuthMiddleware(s.cfg.Verifier, s.authLogger)(mux))
	} else {
		root.Handle("/", mux)
	}
	return root
}

// RegisterRoutes registers the chat routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("GET /chat/sidebar", s.handleSidebar)
	mux.HandleFunc("GET /chat/transcript", s.handleTranscript)
	mux.HandleFunc("GET /chat/events", s.handleEvents)
	mux.HandleFunc("POST /chat/new", s.handleNewChat)
	mux.HandleFunc("POST /chat/switch/{id}", s.handleSwitch)
	mux.HandleFunc("POST /chat/delete/{id}", s.handleDelete)
	mux.HandleFunc("POST /chat/send", s.handleSend)
}

// pageData holds data for the full chat page
type pageData struct {
	Title     string
	User      string
	CSRFToken string
	Sidebar   sidebarData
	Chat      transcriptData
}

// sidebarData holds data for the thread list
type sidebarData struct {
	CSRFToken string
	Threads   []threadItem
}

// threadItem is one thread in the sidebar
type threadItem struct {
	ID     string
	Label  string
	Active bool
}

// transcriptData holds data for the transcript partial
type transcriptData struct {
	ThreadID string
	Title    string
	Messages []messageView
}

// messageView is one rendered transcript entry
type messageView struct {
	Kind     string
	Content  string
	HTML     template.HTML
	ToolName string
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// handlePage renders the chat app shell
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		s.fail(w, "failed to list threads", err)
		return
	}
	csrf := s.ensureCSRFToken(w, r)

	data := pageData{
		Title:     "Chat",
		User:      auth.UserFromContext(r.Context()),
		CSRFToken: csrf,
		Sidebar:   s.sidebar(sess, csrf),
		Chat:      s.transcript(sess),
	}
	s.render(w, "page.html", data)
}

// handleSidebar returns the thread list partial
func (s *Server) handleSidebar(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		s.fail(w, "failed to list threads", err)
		return
	}
	s.render(w, "sidebar.html", s.sidebar(sess, s.ensureCSRFToken(w, r)))
}

// handleTranscript returns the transcript partial of the active thread
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	s.render(w, "transcript.html", s.transcript(sess))
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	if !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	sess.NewChat()
	s.done(w, r)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	if !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	if err := sess.Switch(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		s.fail(w, "failed to switch thread", err)
		return
	}
	s.done(w, r)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}
	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}
	if err := sess.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, "failed to delete thread", err)
		return
	}
	s.done(w, r)
}

// handleSend runs a turn and streams it as Server-Sent Events:
// title, delta, tool, tool_result, then done or error.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		http.Error(w, "Message required", http.StatusBadRequest)
		return
	}

	sess, err := s.session(w, r)
	if err != nil {
		s.fail(w, "failed to open session", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	threadID := sess.ActiveID()
	s.writeSSEEvent(w, "started", map[string]string{"thread_id": threadID})
	flusher.Flush()

	reply, err := sess.Send(r.Context(), message, func(c session.Chunk) {
		switch c.Type {
		case session.ChunkTitle:
			s.writeSSEEvent(w, "title", map[string]string{"title": c.Text, "thread_id": threadID})
		case session.ChunkText:
			s.writeSSEEvent(w, "delta", map[string]string{"text": c.Text})
		case session.ChunkToolCall:
			s.writeSSEEvent(w, "tool", map[string]string{"tool_name": c.ToolName, "arguments": c.Text})
		case session.ChunkToolResult:
			s.writeSSEEvent(w, "tool_result", map[string]string{"tool_name": c.ToolName, "content": c.Text})
		}
		flusher.Flush()
	})
	if err != nil {
		s.logger.Error("turn failed", "thread_id", threadID, "error", err)
		s.writeSSEEvent(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}

	s.writeSSEEvent(w, "done", map[string]string{
		"thread_id": threadID,
		"html":      string(s.markdown(reply.Content)),
	})
	flusher.Flush()
}

// handleEvents streams thread list changes so the page can refresh its sidebar.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	var updates <-chan session.Update
	if s.bus != nil {
		updates, _ = s.bus.Subscribe(r.Context())
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			s.writeSSEEvent(w, "threads", map[string]string{
				"type":      string(u.Type),
				"thread_id": u.ThreadID,
				"title":     u.Title,
			})
			flusher.Flush()
		}
	}
}

// session returns the browser's chat session, issuing a session cookie if needed.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	key := ""
	if c, err := r.Cookie(SessionCookieName); err == nil {
		key = c.Value
	}
	if key == "" {
		var err error
		key, err = generateSecureToken(32)
		if err != nil {
			return nil, err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    key,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}
	// The session outlives the request that created it.
	return s.hub.getOrCreate(context.WithoutCancel(r.Context()), key)
}

func (s *Server) sidebar(sess *session.Session, csrf string) sidebarData {
	active := sess.ActiveID()
	threads := sess.Threads()
	data := sidebarData{CSRFToken: csrf, Threads: make([]threadItem, 0, len(threads))}
	for _, t := range threads {
		data.Threads = append(data.Threads, threadItem{
			ID:     t.ID,
			Label:  session.Label(t),
			Active: t.ID == active,
		})
	}
	return data
}

func (s *Server) transcript(sess *session.Session) transcriptData {
	history := sess.History()
	data := transcriptData{
		ThreadID: sess.ActiveID(),
		Title:    sess.Title(),
		Messages: make([]messageView, 0, len(history)),
	}
	for _, m := range history {
		view := messageView{Kind: string(m.Kind), Content: m.Content, ToolName: m.ToolName}
		if m.Kind == session.KindAssistant {
			view.HTML = s.markdown(m.Content)
		}
		data.Messages = append(data.Messages, view)
	}
	return data
}

// markdown renders assistant text. Raw HTML in the source is escaped.
func (s *Server) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(src), &buf); err != nil {
		s.logger.Error("failed to convert markdown", "error", err)
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render template", "template", name, "error", err)
	}
}

// done finishes a form action: fetch callers get 204, plain forms go back to the page.
func (s *Server) done(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Requested-With") == "fetch" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// ensureCSRFToken returns the CSRF token from the cookie, issuing one if absent.
func (s *Server) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("failed to generate CSRF token", "error", err)
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// validateCSRF checks the CSRF token from the form or header against the cookie
func (s *Server) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	token := r.Header.Get("X-CSRF-Token")
	if token == "" {
		token = r.FormValue("csrf_token")
	}
	return token != "" && token == cookie.Value
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
