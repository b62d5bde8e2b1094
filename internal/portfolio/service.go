// Package portfolio reads and writes the portfolio records behind the public
// site. The two records read on every page view, the profile and the site
// settings, are served from a short-lived cache; everything else goes to the
// store.
package portfolio

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ttlcache"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// Cache keys and lifetimes for the hot records.
const (
	ProfileCacheKey  = "profile:main"
	SettingsCacheKey = "settings:main"

	ProfileTTL  = 10 * time.Second
	SettingsTTL = 30 * time.Second
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = docstore.ErrNotFound

// ErrInvalid is returned when a record is missing a required field.
var ErrInvalid = errors.New("portfolio: invalid record")

// CacheObserver is told about every cache lookup, used for hit/miss counters.
type CacheObserver func(cache string, hit bool)

type Service struct {
	store    docstore.Store
	logger   log.Logger
	profile  *ttlcache.Cache[Profile]
	settings *ttlcache.Cache[SiteSettings]
	loads    singleflight.Group
	now      func() time.Time
	newID    func() string
}

type Option func(*serviceConfig)

type serviceConfig struct {
	logger   log.Logger
	now      func() time.Time
	observer CacheObserver
}

func WithLogger(l log.Logger) Option {
	return func(c *serviceConfig) { c.logger = l }
}

// WithClock sets the clock used by the caches and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *serviceConfig) { c.now = now }
}

func WithCacheObserver(fn CacheObserver) Option {
	return func(c *serviceConfig) { c.observer = fn }
}

func NewService(store docstore.Store, opts ...Option) *Service {
	cfg := serviceConfig{logger: log.Nop()}
	for _, o := range opts {
		o(&cfg)
	}
	observe := func(name string) (func(string), func(string)) {
		if cfg.observer == nil {
			return nil, nil
		}
		return func(string) { cfg.observer(name, true) }, func(string) { cfg.observer(name, false) }
	}
	profHit, profMiss := observe("profile")
	setHit, setMiss := observe("site_settings")

	now := cfg.now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  store,
		logger: cfg.logger,
		now:    now,
		newID:  uuid.NewString,
		profile: ttlcache.New[Profile](ttlcache.Options{
			Now: cfg.now, MaxEntries: 16, OnHit: profHit, OnMiss: profMiss,
		}),
		settings: ttlcache.New[SiteSettings](ttlcache.Options{
			Now: cfg.now, MaxEntries: 16, OnHit: setHit, OnMiss: setMiss,
		}),
	}
}

// Profile returns the owner's profile, at most ProfileTTL stale.
func (s *Service) Profile(ctx context.Context) (Profile, error) {
	if p, ok := s.profile.Get(ProfileCacheKey); ok {
		return p, nil
	}
	// the shared load outlives any one caller
	lctx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(ProfileCacheKey, func() (any, error) {
		var p Profile
		if err := s.getDoc(lctx, docstore.CollectionPersonalInfo, docstore.MainID, &p); err != nil {
			return Profile{}, err
		}
		s.profile.Set(ProfileCacheKey, p, ProfileTTL)
		return p, nil
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

// SiteSettings returns the site settings, at most SettingsTTL stale.
func (s *Service) SiteSettings(ctx context.Context) (SiteSettings, error) {
	if st, ok := s.settings.Get(SettingsCacheKey); ok {
		return st, nil
	}
	lctx := context.WithoutCancel(ctx)
	v, err, _ := s.loads.Do(SettingsCacheKey, func() (any, error) {
		var st SiteSettings
		if err := s.getDoc(lctx, docstore.CollectionSiteSettings, docstore.MainID, &st); err != nil {
			return SiteSettings{}, err
		}
		s.settings.Set(SettingsCacheKey, st, SettingsTTL)
		return st, nil
	})
	if err != nil {
		return SiteSettings{}, err
	}
	return v.(SiteSettings), nil
}

// SaveProfile writes p and drops the cached copy so the next read sees it.
func (s *Service) SaveProfile(ctx context.Context, p Profile) error {
	if err := s.putDoc(ctx, docstore.CollectionPersonalInfo, docstore.MainID, p); err != nil {
		return err
	}
	s.profile.Delete(ProfileCacheKey)
	return nil
}

// SaveSiteSettings writes st and drops the cached copy.
func (s *Service) SaveSiteSettings(ctx context.Context, st SiteSettings) error {
	if err := s.putDoc(ctx, docstore.CollectionSiteSettings, docstore.MainID, st); err != nil {
		return err
	}
	s.settings.Delete(SettingsCacheKey)
	return nil
}

// Skills returns all skills by order.
func (s *Service) Skills(ctx context.Context) ([]Skill, error) {
	items, err := listDocs[Skill](ctx, s, docstore.CollectionSkills, func(v *Skill, id string) { v.ID = id })
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b Skill) int { return cmp.Compare(a.Order, b.Order) })
	return items, nil
}

// Experience returns all experience entries by order.
func (s *Service) Experience(ctx context.Context) ([]Experience, error) {
	items, err := listDocs[Experience](ctx, s, docstore.CollectionExperience, func(v *Experience, id string) { v.ID = id })
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b Experience) int { return cmp.Compare(a.Order, b.Order) })
	return items, nil
}

// Projects returns published projects by order.
func (s *Service) Projects(ctx context.Context) ([]Project, error) {
	items, err := listDocs[Project](ctx, s, docstore.CollectionProjects, func(v *Project, id string) { v.ID = id })
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(p Project) bool { return p.Status != StatusPublished })
	slices.SortStableFunc(items, func(a, b Project) int { return cmp.Compare(a.Order, b.Order) })
	return items, nil
}

// BlogPosts returns published posts, newest first.
func (s *Service) BlogPosts(ctx context.Context) ([]BlogPost, error) {
	items, err := listDocs[BlogPost](ctx, s, docstore.CollectionBlogPosts, func(v *BlogPost, id string) { v.ID = id })
	if err != nil {
		return nil, err
	}
	items = slices.DeleteFunc(items, func(p BlogPost) bool { return p.Status != StatusPublished })
	slices.SortStableFunc(items, func(a, b BlogPost) int { return b.PublishedAt.Compare(a.PublishedAt) })
	return items, nil
}

// Achievements returns all achievements by order.
func (s *Service) Achievements(ctx context.Context) ([]Achievement, error) {
	items, err := listDocs[Achievement](ctx, s, docstore.CollectionAchievements, func(v *Achievement, id string) { v.ID = id })
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b Achievement) int { return cmp.Compare(a.Order, b.Order) })
	return items, nil
}

// Project returns the published project whose id or slug is key. Projects
// without a slug also answer to their title in slug form.
func (s *Service) Project(ctx context.Context, key string) (Project, error) {
	items, err := s.Projects(ctx)
	if err != nil {
		return Project{}, err
	}
	for _, p := range items {
		if p.ID == key || p.Slug == key {
			return p, nil
		}
	}
	for _, p := range items {
		if p.Slug == "" && Slugify(p.Title) == key {
			return p, nil
		}
	}
	return Project{}, ErrNotFound
}

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

// SaveSkill creates sk when its ID is empty and replaces the stored skill
// otherwise. The saved record is returned with its id and timestamps.
func (s *Service) SaveSkill(ctx context.Context, sk Skill) (Skill, error) {
	if strings.TrimSpace(sk.Name) == "" {
		return Skill{}, xerrors.Wrap(ErrInvalid, "skill name is required")
	}
	return saveRecord(ctx, s, docstore.CollectionSkills, &sk)
}

func (s *Service) SaveExperience(ctx context.Context, e Experience) (Experience, error) {
	if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Company) == "" {
		return Experience{}, xerrors.Wrap(ErrInvalid, "experience title and company are required")
	}
	return saveRecord(ctx, s, docstore.CollectionExperience, &e)
}

func (s *Service) SaveProject(ctx context.Context, p Project) (Project, error) {
	if strings.TrimSpace(p.Title) == "" {
		return Project{}, xerrors.Wrap(ErrInvalid, "project title is required")
	}
	if p.Slug == "" {
		p.Slug = Slugify(p.Title)
	}
	return saveRecord(ctx, s, docstore.CollectionProjects, &p)
}

// SaveBlogPost saves bp like SaveSkill. A post saved as published without a
// publish time is stamped with the current time.
func (s *Service) SaveBlogPost(ctx context.Context, bp BlogPost) (BlogPost, error) {
	if strings.TrimSpace(bp.Title) == "" {
		return BlogPost{}, xerrors.Wrap(ErrInvalid, "post title is required")
	}
	if bp.Slug == "" {
		bp.Slug = Slugify(bp.Title)
	}
	if bp.Status == StatusPublished && bp.PublishedAt.IsZero() {
		bp.PublishedAt = s.now().UTC()
	}
	return saveRecord(ctx, s, docstore.CollectionBlogPosts, &bp)
}

func (s *Service) SaveAchievement(ctx context.Context, a Achievement) (Achievement, error) {
	if strings.TrimSpace(a.Title) == "" {
		return Achievement{}, xerrors.Wrap(ErrInvalid, "achievement title is required")
	}
	return saveRecord(ctx, s, docstore.CollectionAchievements, &a)
}

// record is a collection entry that carries its id and timestamps.
type record[T any] interface {
	*T
	key() string
	stamp(id string, created, updated time.Time)
}

// saveRecord writes v to collection. An empty id creates a document under a
// fresh id; an existing id must already be stored and keeps its createdAt.
func saveRecord[T any, P record[T]](ctx context.Context, s *Service, collection string, v P) (T, error) {
	now := s.now().UTC()
	created := now
	id := v.key()
	if id == "" {
		id = s.newID()
	} else {
		var prev struct {
			CreatedAt time.Time `json:"createdAt"`
		}
		if err := s.getDoc(ctx, collection, id, &prev); err != nil {
			var zero T
			return zero, err
		}
		if !prev.CreatedAt.IsZero() {
			created = prev.CreatedAt
		}
	}
	v.stamp(id, created, now)
	if err := s.putDoc(ctx, collection, id, v); err != nil {
		var zero T
		return zero, err
	}
	return *v, nil
}

func (s *Service) getDoc(ctx context.Context, collection, id string, v any) error {
	doc, err := s.store.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		return xerrors.Wrapf(err, "read %s/%s", collection, id)
	}
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return xerrors.Wrapf(err, "decode %s/%s", collection, id)
	}
	return nil
}

func (s *Service) putDoc(ctx context.Context, collection, id string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrapf(err, "encode %s/%s", collection, id)
	}
	if err := s.store.Put(ctx, collection, id, b); err != nil {
		return xerrors.Wrapf(err, "write %s/%s", collection, id)
	}
	return nil
}

// listDocs decodes every document in collection. Documents that fail to
// decode are skipped with a warning so one bad record does not hide the rest.
func listDocs[T any](ctx context.Context, s *Service, collection string, setID func(*T, string)) ([]T, error) {
	docs, err := s.store.List(ctx, collection)
	if err != nil {
		return nil, xerrors.Wrapf(err, "list %s", collection)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Data, &v); err != nil {
			s.logger.Warn(ctx, "skipping malformed document",
				"collection", collection,
				"id", d.ID,
				"error", err.Error(),
			)
			continue
		}
		setID(&v, d.ID)
		out = append(out, v)
	}
	return out, nil
}
