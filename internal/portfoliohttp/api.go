// Package portfoliohttp serves the portfolio records as JSON: public reads
// for the site and token-guarded writes for the admin console.
package portfoliohttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/portfolio"
)

// Service is what the handlers need from portfolio.Service
type Service interface {
	Profile(ctx context.Context) (portfolio.Profile, error)
	SiteSettings(ctx context.Context) (portfolio.SiteSettings, error)
	Skills(ctx context.Context) ([]portfolio.Skill, error)
	Experience(ctx context.Context) ([]portfolio.Experience, error)
	Projects(ctx context.Context) ([]portfolio.Project, error)
	BlogPosts(ctx context.Context) ([]portfolio.BlogPost, error)
	Achievements(ctx context.Context) ([]portfolio.Achievement, error)
	Project(ctx context.Context, key string) (portfolio.Project, error)

	SaveProfile(ctx context.Context, p portfolio.Profile) error
	SaveSiteSettings(ctx context.Context, st portfolio.SiteSettings) error
	SaveSkill(ctx context.Context, sk portfolio.Skill) (portfolio.Skill, error)
	SaveExperience(ctx context.Context, e portfolio.Experience) (portfolio.Experience, error)
	SaveProject(ctx context.Context, p portfolio.Project) (portfolio.Project, error)
	SaveBlogPost(ctx context.Context, bp portfolio.BlogPost) (portfolio.BlogPost, error)
	SaveAchievement(ctx context.Context, a portfolio.Achievement) (portfolio.Achievement, error)
}

// Collection types accepted by GET /api/portfolio.
const (
	TypeSkills       = "skills"
	TypeExperience   = "experience"
	TypeProjects     = "projects"
	TypeAchievements = "achievements"

	// TypeBlog names the posts collection on the admin routes
	TypeBlog = "blog"
)

// Envelope wraps every response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// API implements the portfolio endpoints
type API struct {
	svc       Service
	logger    log.Logger
	adminAuth func(http.Handler) http.Handler
}

// NewAPI creates the portfolio handlers. adminAuth guards the write routes;
// nil leaves them unregistered.
func NewAPI(svc Service, logger log.Logger, adminAuth func(http.Handler) http.Handler) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{svc: svc, logger: logger, adminAuth: adminAuth}
}

// RegisterRoutes attaches portfolio endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("portfolio"))
		r.Get("/api/profile", api.HandleProfile)
		r.Get("/api/site-settings", api.HandleSiteSettings)
		r.Get("/api/portfolio", api.HandleCollection)
		r.Get("/api/portfolio/{type}", api.HandleCollection)
		r.Get("/api/portfolio/projects/{key}", api.HandleProject)
		r.Get("/api/blog", api.HandleBlog)
	})

	if api.adminAuth == nil {
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(httpmw.NoStore, api.adminAuth, httpmw.Scope("portfolio_admin"))
		r.Put("/api/admin/profile", api.HandleSaveProfile)
		r.Put("/api/admin/site-settings", api.HandleSaveSiteSettings)

		for _, c := range api.adminCollections() {
			r.Post("/api/admin/"+c.typ, c.create)
			r.Put("/api/admin/"+c.typ+"/{id}", c.update)
		}
	})
}

type adminCollection struct {
	typ            string
	create, update http.HandlerFunc
}

func (api *API) adminCollections() []adminCollection {
	return []adminCollection{
		saveRoutes(api, TypeSkills, "skill", api.svc.SaveSkill,
			func(v *portfolio.Skill, id string) { v.ID = id }),
		saveRoutes(api, TypeExperience, "experience", api.svc.SaveExperience,
			func(v *portfolio.Experience, id string) { v.ID = id }),
		saveRoutes(api, TypeProjects, "project", api.svc.SaveProject,
			func(v *portfolio.Project, id string) { v.ID = id }),
		saveRoutes(api, TypeBlog, "blog post", api.svc.SaveBlogPost,
			func(v *portfolio.BlogPost, id string) { v.ID = id }),
		saveRoutes(api, TypeAchievements, "achievement", api.svc.SaveAchievement,
			func(v *portfolio.Achievement, id string) { v.ID = id }),
	}
}

// saveRoutes builds the create and update handlers for one collection. The
// id always comes from the path, never from the body.
func saveRoutes[T any](api *API, typ, what string, save func(context.Context, T) (T, error), setID func(*T, string)) adminCollection {
	handle := func(w http.ResponseWriter, r *http.Request, id string, status int, verb string) {
		ctx := r.Context()
		var v T
		if !api.decode(w, r, &v) {
			return
		}
		setID(&v, id)
		saved, err := save(ctx, v)
		switch {
		case errors.Is(err, portfolio.ErrInvalid):
			api.writeJSON(ctx, w, http.StatusBadRequest, "no-store", Envelope{Error: err.Error()})
			return
		case errors.Is(err, portfolio.ErrNotFound):
			api.writeJSON(ctx, w, http.StatusNotFound, "no-store", Envelope{Error: what + " not found"})
			return
		case err != nil:
			api.writeFailed(ctx, w, what, err)
			return
		}
		api.logger.Info(ctx, what+" "+verb, "type", typ)
		api.writeJSON(ctx, w, status, "no-store", Envelope{
			Success: true,
			Data:    saved,
			Message: strings.ToUpper(what[:1]) + what[1:] + " " + verb,
		})
	}
	return adminCollection{
		typ: typ,
		create: func(w http.ResponseWriter, r *http.Request) {
			handle(w, r, "", http.StatusCreated, "created")
		},
		update: func(w http.ResponseWriter, r *http.Request) {
			handle(w, r, chi.URLParam(r, "id"), http.StatusOK, "updated")
		},
	}
}

// HandleProfile serves the cached profile.
func (api *API) HandleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := api.svc.Profile(ctx)
	if err != nil {
		api.readFailed(ctx, w, "profile", err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, maxAge(portfolio.ProfileTTL), Envelope{Success: true, Data: p})
}

// HandleSiteSettings serves the cached site settings.
func (api *API) HandleSiteSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := api.svc.SiteSettings(ctx)
	if err != nil {
		api.readFailed(ctx, w, "site settings", err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, maxAge(portfolio.SettingsTTL), Envelope{Success: true, Data: st})
}

// HandleCollection serves one list collection, chosen by ?type= or the path.
func (api *API) HandleCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	typ := chi.URLParam(r, "type")
	if typ == "" {
		typ = r.URL.Query().Get("type")
	}

	var (
		data any
		err  error
	)
	switch typ {
	case TypeSkills:
		data, err = api.svc.Skills(ctx)
	case TypeExperience:
		data, err = api.svc.Experience(ctx)
	case TypeProjects:
		data, err = api.svc.Projects(ctx)
	case TypeAchievements:
		data, err = api.svc.Achievements(ctx)
	default:
		api.writeJSON(ctx, w, http.StatusBadRequest, "no-store", Envelope{
			Error: fmt.Sprintf("unknown type %q (want skills|experience|projects|achievements)", typ),
		})
		return
	}
	if err != nil {
		api.readFailed(ctx, w, typ, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, "no-cache", Envelope{Success: true, Data: data})
}

// HandleProject serves one published project by id or slug.
func (api *API) HandleProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := api.svc.Project(ctx, chi.URLParam(r, "key"))
	if err != nil {
		api.readFailed(ctx, w, "project", err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, "no-cache", Envelope{Success: true, Data: p})
}

// HandleBlog serves published posts, newest first.
func (api *API) HandleBlog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	posts, err := api.svc.BlogPosts(ctx)
	if err != nil {
		api.readFailed(ctx, w, "blog posts", err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, "no-cache", Envelope{Success: true, Data: posts})
}

// HandleSaveProfile replaces the profile.
func (api *API) HandleSaveProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p portfolio.Profile
	if !api.decode(w, r, &p) {
		return
	}
	if err := api.svc.SaveProfile(ctx, p); err != nil {
		api.writeFailed(ctx, w, "profile", err)
		return
	}
	api.logger.Info(ctx, "profile updated")
	api.writeJSON(ctx, w, http.StatusOK, "no-store", Envelope{Success: true, Message: "Profile updated"})
}

// HandleSaveSiteSettings replaces the site settings.
func (api *API) HandleSaveSiteSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var st portfolio.SiteSettings
	if !api.decode(w, r, &st) {
		return
	}
	if err := api.svc.SaveSiteSettings(ctx, st); err != nil {
		api.writeFailed(ctx, w, "site settings", err)
		return
	}
	api.logger.Info(ctx, "site settings updated")
	api.writeJSON(ctx, w, http.StatusOK, "no-store", Envelope{Success: true, Message: "Site settings updated"})
}

func (api *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.logger.Debug(r.Context(), "admin request body rejected", "error", err)
		api.writeJSON(r.Context(), w, http.StatusBadRequest, "no-store", Envelope{Error: "Invalid request body"})
		return false
	}
	return true
}

func (api *API) readFailed(ctx context.Context, w http.ResponseWriter, what string, err error) {
	if errors.Is(err, portfolio.ErrNotFound) {
		api.writeJSON(ctx, w, http.StatusNotFound, "no-cache", Envelope{Error: what + " not found"})
		return
	}
	api.logger.Error(ctx, err, "portfolio read failed", "record", what)
	api.writeJSON(ctx, w, http.StatusInternalServerError, "no-store", Envelope{Error: "Failed to fetch " + what})
}

func (api *API) writeFailed(ctx context.Context, w http.ResponseWriter, what string, err error) {
	api.logger.Error(ctx, err, "portfolio write failed", "record", what)
	api.writeJSON(ctx, w, http.StatusInternalServerError, "no-store", Envelope{Error: "Failed to save " + what})
}

// maxAge lets browsers hold a record as long as the server cache does
func maxAge(ttl time.Duration) string {
	return fmt.Sprintf("public, max-age=%d", int(ttl.Seconds()))
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, cacheControl string, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
