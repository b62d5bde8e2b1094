package webassets

import (
	"testing"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/portfolio"
)

func TestDefaultSeed_ReturnsCopy(t *testing.T) {
	a := DefaultSeed()
	if len(a) == 0 {
		t.Fatal("embedded seed is empty")
	}
	a[0] = 'x'
	if DefaultSeed()[0] == 'x' {
		t.Fatal("DefaultSeed exposed the embedded bytes")
	}
}

func TestDefaultSeed_LoadsIntoPortfolio(t *testing.T) {
	ctx := t.Context()
	mem := docstore.NewMemory()
	if err := mem.Load(ctx, SeedName, DefaultSeed()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	svc := portfolio.NewService(mem)

	p, err := svc.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.DisplayName() == "" {
		t.Fatal("seed profile has no name")
	}
	if _, err := svc.SiteSettings(ctx); err != nil {
		t.Fatalf("SiteSettings: %v", err)
	}

	projects, err := svc.Projects(ctx)
	if err != nil {
		t.Fatalf("Projects: %v", err)
	}
	for _, pr := range projects {
		if pr.Status != portfolio.StatusPublished {
			t.Fatalf("unpublished project %q served", pr.ID)
		}
	}

	skills, err := svc.Skills(ctx)
	if err != nil || len(skills) != 3 {
		t.Fatalf("Skills = %d, %v; want 3", len(skills), err)
	}

	if got := svc.ChatContext(ctx); got == "" {
		t.Fatal("empty chat context from seed")
	}
}
