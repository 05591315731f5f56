package web

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/api"
	"github.com/ashureev/curriculum-designer/internal/assistant"
	"github.com/ashureev/curriculum-designer/internal/auth"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/ashureev/curriculum-designer/internal/identity"
	"github.com/ashureev/curriculum-designer/internal/middleware"
	"github.com/ashureev/curriculum-designer/internal/render"
	"github.com/ashureev/curriculum-designer/internal/session"
	"github.com/go-chi/chi/v5"
)

// Flash kinds.
const (
	flashError   = "error"
	flashSuccess = "success"
)

// Options configures Pages.
type Options struct {
	Auth      *auth.Authenticator
	Sessions  *session.Manager
	Assistant *assistant.Service
	Limiter   *api.RateLimiter
	Conns     *api.ConnRegistry
	Exporter  *render.Exporter
	Models    []string
	IsDev     bool
}

// Pages renders the HTML interface. Every form post redirects back to a GET
// page, carrying its outcome as a one-shot flash message.
type Pages struct {
	auth      *auth.Authenticator
	sessions  *session.Manager
	assistant *assistant.Service
	limiter   *api.RateLimiter
	conns     *api.ConnRegistry
	exporter  *render.Exporter
	models    []string
	isDev     bool
	tmpl      map[string]*template.Template
}

// New parses the embedded templates and returns Pages.
func New(opts Options) (*Pages, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	p := &Pages{
		auth:      opts.Auth,
		sessions:  opts.Sessions,
		assistant: opts.Assistant,
		limiter:   opts.Limiter,
		conns:     opts.Conns,
		exporter:  opts.Exporter,
		models:    opts.Models,
		isDev:     opts.IsDev,
		tmpl:      tmpl,
	}
	if p.conns == nil {
		p.conns = api.NewConnRegistry()
	}
	if p.exporter == nil {
		p.exporter = &render.Exporter{}
	}
	return p, nil
}

// RegisterRoutes mounts the pages on r.
func (p *Pages) RegisterRoutes(r chi.Router) {
	r.Handle("/static/*", StaticHandler())

	r.Get("/login", p.LoginPage)
	r.Post("/login", p.Login)
	r.Get("/register", p.RegisterPage)
	r.Post("/register", p.Register)
	r.Post("/logout", p.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequirePage)

		r.Get("/", p.Workspace)
		r.Post("/chat", p.Chat)
		r.Post("/generate", p.Generate)
		r.Post("/model", p.SetModel)
		r.Post("/conversation/new", p.NewConversation)
		r.Post("/notebook", p.SaveNotebook)
		r.Post("/notebook/summarize", p.Summarize)
		r.Post("/notebook/expand", p.Expand)
		r.Get("/export/{kind}", p.Export)
	})
}

type pageData struct {
	Title               string
	Username            string
	Flash               *session.Flash
	Error               string
	Next                string
	FormUsername        string
	RegistrationEnabled bool

	Models     []string
	Model      string
	Busy       bool
	Chat       []render.ChatBlock
	Notebook   string
	Curriculum *render.CurriculumView
	Form       domain.QuickForm
	Levels     []string
}

func (p *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	t, ok := p.tmpl[name]
	if !ok {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		slog.Error("Failed to render page", "page", name, "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("Failed to write page", "page", name, "error", err)
	}
}

// LoginPage shows the sign-in form, or the workspace when already signed in.
func (p *Pages) LoginPage(w http.ResponseWriter, r *http.Request) {
	if identity.SessionFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	p.render(w, http.StatusOK, "login", pageData{
		Title:               "Sign in",
		Next:                safeNext(r.URL.Query().Get("next")),
		RegistrationEnabled: p.auth.RegistrationEnabled(),
	})
}

// Login checks the submitted credentials. Failures are shown on the form.
func (p *Pages) Login(w http.ResponseWriter, r *http.Request) {
	username, password := r.PostFormValue("username"), r.PostFormValue("password")
	next := safeNext(r.PostFormValue("next"))

	err := p.allowSignIn(r)
	var canonical string
	if err == nil {
		canonical, err = p.auth.Authenticate(r.Context(), username, password)
	}
	if err != nil {
		prob := api.Classify(err)
		slog.Info("Login rejected", "ip", identity.IPFromRequest(r))
		p.render(w, prob.Status, "login", pageData{
			Title:               "Sign in",
			Error:               prob.Message,
			Next:                next,
			FormUsername:        username,
			RegistrationEnabled: p.auth.RegistrationEnabled(),
		})
		return
	}
	if err := p.startSession(w, r, canonical); err != nil {
		p.render(w, http.StatusInternalServerError, "login", pageData{Title: "Sign in", Error: api.Classify(err).Message})
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// RegisterPage shows the registration form.
func (p *Pages) RegisterPage(w http.ResponseWriter, r *http.Request) {
	if !p.auth.RegistrationEnabled() {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	p.render(w, http.StatusOK, "register", pageData{Title: "Create account", RegistrationEnabled: true})
}

// Register creates an account and signs it in.
func (p *Pages) Register(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	err := p.allowSignIn(r)
	var canonical string
	if err == nil {
		canonical, err = p.auth.Register(r.Context(), username, r.PostFormValue("password"), r.PostFormValue("confirm"))
	}
	if err != nil {
		prob := api.Classify(err)
		p.render(w, prob.Status, "register", pageData{
			Title:               "Create account",
			Error:               prob.Message,
			FormUsername:        username,
			RegistrationEnabled: p.auth.RegistrationEnabled(),
		})
		return
	}
	slog.Info("Account registered", "user", canonical)
	if err := p.startSession(w, r, canonical); err != nil {
		p.render(w, http.StatusInternalServerError, "register", pageData{Title: "Create account", Error: api.Classify(err).Message})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (p *Pages) startSession(w http.ResponseWriter, r *http.Request, username string) error {
	if prev := identity.SessionFromContext(r.Context()); prev != nil {
		p.endSession(r.Context(), prev)
	}
	sess, err := p.sessions.Create(r.Context(), username)
	if err != nil {
		return err
	}
	identity.SetSessionCookie(w, sess.ID, p.isDev)
	return nil
}

// Logout ends the session and returns to the sign-in page.
func (p *Pages) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := identity.SessionFromContext(r.Context()); sess != nil {
		p.endSession(r.Context(), sess)
	}
	identity.ClearSessionCookie(w, p.isDev)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (p *Pages) endSession(ctx context.Context, sess *session.Session) {
	p.conns.CloseSession(sess.Username, sess.ID)
	if err := p.sessions.Destroy(ctx, sess.ID); err != nil {
		slog.Error("Failed to destroy session", "user", sess.Username, "session_id", sess.ID, "error", err)
	}
}

// Workspace renders chat, quick generator, notebook and curriculum.
func (p *Pages) Workspace(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	data := pageData{
		Title:    "Curriculum Designer",
		Username: sess.Username,
		Flash:    sess.TakeFlash(),
		Models:   p.models,
		Model:    sess.Model(),
		Busy:     sess.Busy(),
		Chat:     render.RenderChat(sess.Conversation.Turns()),
		Notebook: sess.Notebook.Get(),
		Form:     domain.DefaultQuickForm(),
		Levels:   domain.Levels,
	}
	if c := sess.Curriculum(); c != nil {
		view := render.RenderCurriculum(*c)
		data.Curriculum = &view
	}
	p.render(w, http.StatusOK, "workspace", data)
}

// act runs one workspace action and redirects back to anchor with a flash
// describing the outcome.
func (p *Pages) act(w http.ResponseWriter, r *http.Request, anchor, success string, fn func(ctx context.Context, sess *session.Session) error) {
	sess := identity.SessionFromContext(r.Context())
	err := fn(r.Context(), sess)
	switch {
	case err == nil && success != "":
		sess.SetFlash(session.Flash{Kind: flashSuccess, Message: success})
	case err != nil:
		prob := api.Classify(err)
		sess.SetFlash(session.Flash{Kind: flashError, Message: prob.Message, Hint: prob.Hint})
	}
	http.Redirect(w, r, "/#"+anchor, http.StatusSeeOther)
}

// allowSignIn shares the per-IP budget of the JSON sign-in endpoints.
func (p *Pages) allowSignIn(r *http.Request) error {
	if p.limiter != nil && !p.limiter.Allow("ip:"+identity.IPFromRequest(r)) {
		return api.ErrRateLimited
	}
	return nil
}

func (p *Pages) allow(sess *session.Session) error {
	if p.limiter != nil && !p.limiter.Allow("user:"+sess.Username) {
		return api.ErrRateLimited
	}
	return nil
}

// Chat posts one message.
func (p *Pages) Chat(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "chat", "", func(ctx context.Context, sess *session.Session) error {
		if err := p.allow(sess); err != nil {
			return err
		}
		_, err := p.assistant.Chat(ctx, sess, r.PostFormValue("message"))
		return err
	})
}

// Generate runs the quick generator from the form fields.
func (p *Pages) Generate(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "curriculum", "Curriculum generated", func(ctx context.Context, sess *session.Session) error {
		if err := p.allow(sess); err != nil {
			return err
		}
		form, err := quickFormFrom(r)
		if err != nil {
			return err
		}
		_, err = p.assistant.QuickGenerate(ctx, sess, form)
		return err
	})
}

func quickFormFrom(r *http.Request) (domain.QuickForm, error) {
	form := domain.DefaultQuickForm()
	form.Skill = r.PostFormValue("skill")
	form.Level = r.PostFormValue("level")
	form.IndustryFocus = r.PostFormValue("industry_focus")

	var err error
	if form.Semesters, err = atoiField(r, "semesters", form.Semesters); err != nil {
		return form, err
	}
	if form.WeeklyHours, err = atoiField(r, "weekly_hours", form.WeeklyHours); err != nil {
		return form, err
	}
	return form, nil
}

func atoiField(r *http.Request, field string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.PostFormValue(field))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &assistant.InputError{Field: field, Reason: "must be a whole number"}
	}
	return n, nil
}

// SetModel changes the chat model.
func (p *Pages) SetModel(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "chat", "", func(ctx context.Context, sess *session.Session) error {
		return p.assistant.SetModel(ctx, sess, r.PostFormValue("model"))
	})
}

// NewConversation clears chat and notebook.
func (p *Pages) NewConversation(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "chat", "Started a new conversation", p.assistant.NewConversation)
}

// SaveNotebook stores a direct notebook edit.
func (p *Pages) SaveNotebook(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "notebook", "Notes saved", func(ctx context.Context, sess *session.Session) error {
		return p.assistant.SetNotebook(ctx, sess, r.PostFormValue("content"))
	})
}

// Summarize appends a chat summary to the notebook.
func (p *Pages) Summarize(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "notebook", "Summary added to notes", func(ctx context.Context, sess *session.Session) error {
		if err := p.allow(sess); err != nil {
			return err
		}
		_, err := p.assistant.Summarize(ctx, sess)
		return err
	})
}

// Expand appends notes on a topic to the notebook.
func (p *Pages) Expand(w http.ResponseWriter, r *http.Request) {
	p.act(w, r, "notebook", "Notes expanded", func(ctx context.Context, sess *session.Session) error {
		if err := p.allow(sess); err != nil {
			return err
		}
		_, err := p.assistant.Expand(ctx, sess, r.PostFormValue("topic"))
		return err
	})
}

// Export downloads one of the session's artifacts.
func (p *Pages) Export(w http.ResponseWriter, r *http.Request) {
	sess := identity.SessionFromContext(r.Context())
	desc, data, err := p.exporter.Build(chi.URLParam(r, "kind"), sess.Notebook.Get(), sess.Curriculum())
	if err != nil {
		sess.SetFlash(session.Flash{Kind: flashError, Message: api.Classify(err).Message})
		http.Redirect(w, r, "/#exports", http.StatusSeeOther)
		return
	}
	api.WriteDownload(w, desc, data)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
