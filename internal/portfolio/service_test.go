package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"
)

// countingStore counts Get calls per collection and can fail on demand.
type countingStore struct {
	docstore.Store
	gets    atomic.Int32
	failing map[string]bool
}

var errStoreDown = errors.New("store down")

func (c *countingStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	c.gets.Add(1)
	if c.failing[collection] {
		return docstore.Document{}, errStoreDown
	}
	return c.Store.Get(ctx, collection, id)
}

func (c *countingStore) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if c.failing[collection] {
		return nil, errStoreDown
	}
	return c.Store.List(ctx, collection)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func put(t *testing.T, s docstore.Store, collection, id, data string) {
	t.Helper()
	if err := s.Put(t.Context(), collection, id, json.RawMessage(data)); err != nil {
		t.Fatalf("put %s/%s: %v", collection, id, err)
	}
}

func newTestService(t *testing.T) (*Service, *countingStore, *clock) {
	t.Helper()
	mem := docstore.NewMemory()
	store := &countingStore{Store: mem, failing: map[string]bool{}}
	clk := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, WithClock(clk.Now)), store, clk
}

func TestProfile_CachedForTTL(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := t.Context()
	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Ada","title":"Engineer"}`)

	for i := 0; i < 3; i++ {
		p, err := svc.Profile(ctx)
		if err != nil || p.Name != "Ada" {
			t.Fatalf("Profile = %+v, %v", p, err)
		}
	}
	if got := store.gets.Load(); got != 1 {
		t.Fatalf("store reads = %d, want 1 within ttl", got)
	}

	// a write straight to the store is not visible until the entry expires
	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Grace"}`)
	clk.Advance(ProfileTTL - time.Millisecond)
	if p, _ := svc.Profile(ctx); p.Name != "Ada" {
		t.Fatalf("before ttl: %q, want cached value", p.Name)
	}
	clk.Advance(time.Millisecond)
	if p, _ := svc.Profile(ctx); p.Name != "Grace" {
		t.Fatalf("at ttl: %q, want fresh value", p.Name)
	}
}

func TestSiteSettings_LongerTTL(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := t.Context()
	put(t, store, docstore.CollectionSiteSettings, docstore.MainID, `{"siteTitle":"one","chatEnabled":true}`)

	st, err := svc.SiteSettings(ctx)
	if err != nil || st.SiteTitle != "one" || !st.ChatEnabled {
		t.Fatalf("SiteSettings = %+v, %v", st, err)
	}
	put(t, store, docstore.CollectionSiteSettings, docstore.MainID, `{"siteTitle":"two"}`)

	clk.Advance(20 * time.Second)
	if st, _ := svc.SiteSettings(ctx); st.SiteTitle != "one" {
		t.Fatalf("at 20s: %q, want cached", st.SiteTitle)
	}
	clk.Advance(10 * time.Second)
	if st, _ := svc.SiteSettings(ctx); st.SiteTitle != "two" {
		t.Fatalf("at 30s: %q, want fresh", st.SiteTitle)
	}
}

func TestSaveProfile_InvalidatesCache(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()
	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Ada"}`)

	if _, err := svc.Profile(ctx); err != nil {
		t.Fatal(err)
	}
	if err := svc.SaveProfile(ctx, Profile{Name: "Ada L."}); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	p, err := svc.Profile(ctx)
	if err != nil || p.Name != "Ada L." {
		t.Fatalf("after save: %+v, %v", p, err)
	}
}

func TestSaveSiteSettings_InvalidatesCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	if _, err := svc.SiteSettings(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := svc.SaveSiteSettings(ctx, SiteSettings{SiteTitle: "new"}); err != nil {
		t.Fatal(err)
	}
	if st, _ := svc.SiteSettings(ctx); st.SiteTitle != "new" {
		t.Fatalf("SiteTitle = %q", st.SiteTitle)
	}
}

func TestProfile_ErrorsNotCached(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()
	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Ada"}`)

	store.failing[docstore.CollectionPersonalInfo] = true
	if _, err := svc.Profile(ctx); !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
	store.failing[docstore.CollectionPersonalInfo] = false
	if p, err := svc.Profile(ctx); err != nil || p.Name != "Ada" {
		t.Fatalf("after recovery: %+v, %v", p, err)
	}
}

func TestCacheObserver(t *testing.T) {
	mem := docstore.NewMemory()
	put(t, mem, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Ada"}`)

	var hits, misses int
	svc := NewService(mem, WithCacheObserver(func(cache string, hit bool) {
		if cache != "profile" {
			t.Errorf("cache = %q", cache)
		}
		if hit {
			hits++
		} else {
			misses++
		}
	}))
	svc.Profile(t.Context())
	svc.Profile(t.Context())
	if hits != 1 || misses != 1 {
		t.Fatalf("hits=%d misses=%d", hits, misses)
	}
}

func TestLists_FilterAndOrder(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()

	put(t, store, docstore.CollectionProjects, "p1", `{"title":"Draft","status":"draft","order":0}`)
	put(t, store, docstore.CollectionProjects, "p2", `{"title":"Second","status":"published","order":2}`)
	put(t, store, docstore.CollectionProjects, "p3", `{"title":"First","status":"published","order":1}`)

	put(t, store, docstore.CollectionBlogPosts, "b1", `{"title":"Old","status":"published","publishedAt":"2024-01-01T00:00:00Z"}`)
	put(t, store, docstore.CollectionBlogPosts, "b2", `{"title":"New","status":"published","publishedAt":"2025-01-01T00:00:00Z"}`)
	put(t, store, docstore.CollectionBlogPosts, "b3", `{"title":"Hidden","status":"draft","publishedAt":"2026-01-01T00:00:00Z"}`)

	put(t, store, docstore.CollectionSkills, "go", `{"name":"Go","level":90,"order":2}`)
	put(t, store, docstore.CollectionSkills, "sql", `{"name":"SQL","level":"advanced","order":1}`)
	put(t, store, docstore.CollectionSkills, "bad", `{"name":["not","a","string"]}`)

	projects, err := svc.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 || projects[0].Title != "First" || projects[0].ID != "p3" {
		t.Fatalf("projects = %+v", projects)
	}

	posts, err := svc.BlogPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 || posts[0].Title != "New" {
		t.Fatalf("posts = %+v", posts)
	}

	skills, err := svc.Skills(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 || skills[0].Name != "SQL" || skills[1].Level != "90" {
		t.Fatalf("skills = %+v", skills)
	}
}

func TestChatContext(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()

	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID,
		`{"name":"ada","fullName":"Ada Lovelace","title":"Engineer","description":"Writes programs","location":"London","email":"ada@example.com"}`)
	put(t, store, docstore.CollectionSkills, "go", `{"name":"Go","level":"expert","order":1}`)
	put(t, store, docstore.CollectionSkills, "sql", `{"name":"SQL","order":2}`)
	put(t, store, docstore.CollectionProjects, "engine", `{"title":"Engine","description":"Analytical","status":"published"}`)
	put(t, store, docstore.CollectionExperience, "e1", `{"title":"Analyst","company":"Babbage","period":"1842-1843"}`)
	put(t, store, docstore.CollectionBlogPosts, "notes", `{"title":"Notes","status":"published"}`)

	got := svc.ChatContext(ctx)
	want := strings.Join([]string{
		"Name: Ada Lovelace",
		"Title: Engineer",
		"Bio: Writes programs",
		"Location: London",
		"Skills: Go (expert), SQL",
		`Projects: "Engine": Analytical`,
		"Experience: Analyst at Babbage (1842-1843)",
		"Recent blog posts: Notes",
	}, "\n")
	if got != want {
		t.Fatalf("ChatContext =\n%s\nwant\n%s", got, want)
	}
	if strings.Contains(got, "ada@example.com") {
		t.Fatal("email must not be included")
	}
}

func TestChatContext_Limits(t *testing.T) {
	svc, store, _ := newTestService(t)
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		put(t, store, docstore.CollectionSkills, id, `{"name":"`+id+`","order":`+string(rune('0'+i%10))+`}`)
	}
	got := svc.ChatContext(t.Context())
	skills := strings.TrimPrefix(got, "Skills: ")
	if n := len(strings.Split(skills, ", ")); n != chatSkillLimit {
		t.Fatalf("skills in context = %d, want %d", n, chatSkillLimit)
	}
}

func TestChatContext_PartialAndEmpty(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()

	if got := svc.ChatContext(ctx); got != "No portfolio data available yet." {
		t.Fatalf("empty store: %q", got)
	}

	put(t, store, docstore.CollectionSkills, "go", `{"name":"Go"}`)
	put(t, store, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Ada"}`)
	store.failing[docstore.CollectionPersonalInfo] = true

	if got := svc.ChatContext(ctx); got != "Skills: Go" {
		t.Fatalf("profile read failing: %q", got)
	}
}

func TestChatContext_Cancelled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if got := svc.ChatContext(ctx); got != "Portfolio data temporarily unavailable." {
		t.Fatalf("cancelled: %q", got)
	}
}

func TestLevel_Decode(t *testing.T) {
	var s Skill
	if err := json.Unmarshal([]byte(`{"name":"Go","level":null}`), &s); err != nil || s.Level != "" {
		t.Fatalf("null level: %q, %v", s.Level, err)
	}
	if err := json.Unmarshal([]byte(`{"name":"Go","level":85.5}`), &s); err != nil || s.Level != "85.5" {
		t.Fatalf("number level: %q, %v", s.Level, err)
	}
	if err := json.Unmarshal([]byte(`{"name":"Go","level":true}`), &s); err == nil {
		t.Fatal("bool level should fail")
	}
}

// gatedStore blocks Get until released, giving up if the caller's ctx ends
type gatedStore struct {
	docstore.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return docstore.Document{}, ctx.Err()
	}
	return g.Store.Get(ctx, collection, id)
}

func TestProfile_LoadSurvivesCallerCancel(t *testing.T) {
	mem := docstore.NewMemory()
	put(t, mem, docstore.CollectionPersonalInfo, docstore.MainID, `{"name":"Keith"}`)
	store := &gatedStore{Store: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewService(store)

	ctx, cancel := context.WithCancel(t.Context())
	type result struct {
		p   Profile
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := svc.Profile(ctx)
		done <- result{p, err}
	}()

	<-store.entered
	cancel()
	close(store.release)

	res := <-done
	if res.err != nil || res.p.Name != "Keith" {
		t.Fatalf("Profile = %+v, %v; shared load must not inherit the caller's cancel", res.p, res.err)
	}
	// the result was cached, so later callers do not reach the store
	if p, ok := svc.profile.Get(ProfileCacheKey); !ok || p.Name != "Keith" {
		t.Fatalf("cached profile = %+v, %v", p, ok)
	}
}

func TestSaveRecords_CreateAndUpdate(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := t.Context()
	ids := 0
	svc.newID = func() string { ids++; return "gen" + string(rune('0'+ids)) }
	created := clk.Now()

	sk, err := svc.SaveSkill(ctx, Skill{Name: "Go", Level: "expert", Order: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sk.ID != "gen1" || !sk.CreatedAt.Equal(created) || !sk.UpdatedAt.Equal(created) {
		t.Fatalf("created skill = %+v", sk)
	}

	clk.Advance(time.Hour)
	sk.Level = "advanced"
	sk.CreatedAt = time.Time{}
	upd, err := svc.SaveSkill(ctx, sk)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.ID != "gen1" || !upd.CreatedAt.Equal(created) || !upd.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("updated skill = %+v, createdAt must survive", upd)
	}

	skills, err := svc.Skills(ctx)
	if err != nil || len(skills) != 1 || skills[0].Level != "advanced" {
		t.Fatalf("Skills = %+v, %v", skills, err)
	}
	if ids != 1 {
		t.Fatalf("ids generated = %d, want 1", ids)
	}

	doc, err := store.Get(ctx, docstore.CollectionSkills, "gen1")
	if err != nil || !strings.Contains(string(doc.Data), `"createdAt":"2025-06-01T12:00:00Z"`) {
		t.Fatalf("stored doc = %s, %v", doc.Data, err)
	}
}

func TestSaveRecords_UpdateUnknownID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	if _, err := svc.SaveExperience(ctx, Experience{ID: "nope", Title: "SRE", Company: "Acme"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveExperience err = %v, want ErrNotFound", err)
	}
	if _, err := svc.SaveAchievement(ctx, Achievement{ID: "nope", Title: "Award"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SaveAchievement err = %v, want ErrNotFound", err)
	}
}

func TestSaveRecords_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	tests := []struct {
		name string
		save func() error
	}{
		{"skill without name", func() error { _, err := svc.SaveSkill(ctx, Skill{Name: "  "}); return err }},
		{"experience without company", func() error { _, err := svc.SaveExperience(ctx, Experience{Title: "SRE"}); return err }},
		{"project without title", func() error { _, err := svc.SaveProject(ctx, Project{Slug: "x"}); return err }},
		{"post without title", func() error { _, err := svc.SaveBlogPost(ctx, BlogPost{}); return err }},
		{"achievement without title", func() error { _, err := svc.SaveAchievement(ctx, Achievement{}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.save(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSaveBlogPost_StampsPublishTime(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := t.Context()

	draft, err := svc.SaveBlogPost(ctx, BlogPost{Title: "Rate Limits in Go", Status: "draft"})
	if err != nil {
		t.Fatal(err)
	}
	if !draft.PublishedAt.IsZero() || draft.Slug != "rate-limits-in-go" {
		t.Fatalf("draft = %+v", draft)
	}

	clk.Advance(24 * time.Hour)
	draft.Status = StatusPublished
	pub, err := svc.SaveBlogPost(ctx, draft)
	if err != nil {
		t.Fatal(err)
	}
	if !pub.PublishedAt.Equal(clk.Now()) {
		t.Fatalf("publishedAt = %v, want %v", pub.PublishedAt, clk.Now())
	}
	posts, _ := svc.BlogPosts(ctx)
	if len(posts) != 1 || posts[0].ID != pub.ID {
		t.Fatalf("BlogPosts = %+v", posts)
	}
}

func TestProject_Lookup(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := t.Context()
	put(t, store, docstore.CollectionProjects, "p1", `{"title":"Chat Gateway","slug":"chat-gateway","status":"published"}`)
	put(t, store, docstore.CollectionProjects, "p2", `{"title":"Rate Limiter v2","status":"published"}`)
	put(t, store, docstore.CollectionProjects, "p3", `{"title":"Secret","slug":"secret","status":"draft"}`)

	tests := []struct {
		key    string
		wantID string
	}{
		{"p1", "p1"},
		{"chat-gateway", "p1"},
		{"rate-limiter-v2", "p2"},
		{"secret", ""},
		{"p3", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			p, err := svc.Project(ctx, tt.key)
			if tt.wantID == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("Project(%q) = %+v, %v; want ErrNotFound", tt.key, p, err)
				}
				return
			}
			if err != nil || p.ID != tt.wantID {
				t.Fatalf("Project(%q) = %+v, %v; want %s", tt.key, p, err, tt.wantID)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Chat Gateway":       "chat-gateway",
		"  Rate Limiter v2 ": "rate-limiter-v2",
		"C++ & Go!":          "c-go",
		"already-slugged":    "already-slugged",
		"":                   "",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
