package portfolio

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Limits on how much of each collection goes into the chat context.
const (
	chatSkillLimit      = 15
	chatExperienceLimit = 10
	chatProjectLimit    = 10
	chatPostLimit       = 5
)

const (
	noPortfolioData          = "No portfolio data available yet."
	portfolioDataUnavailable = "Portfolio data temporarily unavailable."
)

// ChatContext summarises the public portfolio for the visitor assistant.
// Each read is independent; a failed read leaves its section out. Contact
// details are never included.
func (s *Service) ChatContext(ctx context.Context) string {
	var (
		profile    Profile
		hasProfile bool
		skills     []Skill
		experience []Experience
		projects   []Project
		posts      []BlogPost
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.Profile(gctx)
		if err == nil {
			profile, hasProfile = p, true
		}
		return nil
	})
	g.Go(func() error {
		skills = chatRead(gctx, s, "skills", s.Skills, chatSkillLimit)
		return nil
	})
	g.Go(func() error {
		experience = chatRead(gctx, s, "experience", s.Experience, chatExperienceLimit)
		return nil
	})
	g.Go(func() error {
		projects = chatRead(gctx, s, "projects", s.Projects, chatProjectLimit)
		return nil
	})
	g.Go(func() error {
		posts = chatRead(gctx, s, "blog posts", s.BlogPosts, chatPostLimit)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return portfolioDataUnavailable
	}

	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	if hasProfile {
		add("Name", profile.DisplayName())
		add("Title", profile.Title)
		add("Bio", profile.Summary())
		add("Location", profile.Location)
	}
	add("Skills", joinLabels(skills, Skill.label, ", "))
	add("Projects", joinLabels(projects, Project.label, " | "))
	add("Experience", joinLabels(experience, Experience.label, " | "))
	add("Recent blog posts", joinLabels(posts, func(p BlogPost) string { return p.Title }, ", "))

	if len(lines) == 0 {
		return noPortfolioData
	}
	return strings.Join(lines, "\n")
}

func chatRead[T any](ctx context.Context, s *Service, what string, read func(context.Context) ([]T, error), limit int) []T {
	items, err := read(ctx)
	if err != nil {
		s.logger.Warn(ctx, "chat context read failed", "section", what, "error", err.Error())
		return nil
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func joinLabels[T any](items []T, label func(T) string, sep string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if l := label(it); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, sep)
}
