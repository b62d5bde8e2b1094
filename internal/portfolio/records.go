package portfolio

import (
	"bytes"
	"encoding/json"
	"time"
)

// Profile is the personalInfo/main document.
type Profile struct {
	Name             string     `json:"name,omitempty"`
	FullName         string     `json:"fullName,omitempty"`
	Nickname         string     `json:"nickname,omitempty"`
	Title            string     `json:"title,omitempty"`
	Specialization   string     `json:"specialization,omitempty"`
	Subtitle         string     `json:"subtitle,omitempty"`
	Bio              string     `json:"bio,omitempty"`
	Description      string     `json:"description,omitempty"`
	AboutDescription string     `json:"aboutDescription,omitempty"`
	Location         string     `json:"location,omitempty"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	GitHub           string     `json:"github,omitempty"`
	LinkedIn         string     `json:"linkedin,omitempty"`
	ProfileImage     string     `json:"profileImage,omitempty"`
	CVURL            string     `json:"cvUrl,omitempty"`
	Interests        []Interest `json:"interests,omitempty"`
}

type Interest struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// DisplayName prefers the full name.
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Name
}

// Summary prefers the bio over the short description.
func (p Profile) Summary() string {
	if p.Bio != "" {
		return p.Bio
	}
	return p.Description
}

// SiteSettings is the siteSettings/main document.
type SiteSettings struct {
	SiteTitle       string       `json:"siteTitle,omitempty"`
	Tagline         string       `json:"tagline,omitempty"`
	MetaDescription string       `json:"metaDescription,omitempty"`
	ChatEnabled     bool         `json:"chatEnabled"`
	ContactEnabled  bool         `json:"contactEnabled"`
	MaintenanceMode bool         `json:"maintenanceMode"`
	SocialLinks     []SocialLink `json:"socialLinks,omitempty"`
}

type SocialLink struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label"`
	URL   string `json:"url"`
	Icon  string `json:"icon,omitempty"`
}

// Level is a skill level. Older documents store a number (percent), newer
// ones a word, so both decode.
type Level string

func (l *Level) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = Level(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*l = Level(n.String())
	return nil
}

type Skill struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Level     Level     `json:"level,omitempty"`
	Category  string    `json:"category,omitempty"`
	Icon      string    `json:"icon,omitempty"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

type Experience struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Period      string    `json:"period,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// StatusPublished marks projects and posts visible to the public.
const StatusPublished = "published"

type Project struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug,omitempty"`
	Description     string    `json:"description,omitempty"`
	LongDescription string    `json:"longDescription,omitempty"`
	Category        string    `json:"category,omitempty"`
	Technologies    []string  `json:"technologies,omitempty"`
	Highlights      []string  `json:"highlights,omitempty"`
	Images          []string  `json:"images,omitempty"`
	GitHubURL       string    `json:"githubUrl,omitempty"`
	LiveURL         string    `json:"liveUrl,omitempty"`
	StartDate       string    `json:"startDate,omitempty"`
	EndDate         string    `json:"endDate,omitempty"`
	Featured        bool      `json:"featured,omitempty"`
	Status          string    `json:"status"`
	Order           int       `json:"order"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

type BlogPost struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug,omitempty"`
	Excerpt       string    `json:"excerpt,omitempty"`
	Content       string    `json:"content,omitempty"`
	Category      string    `json:"category,omitempty"`
	Author        string    `json:"author,omitempty"`
	FeaturedImage string    `json:"featuredImage,omitempty"`
	ReadTime      string    `json:"readTime,omitempty"`
	Status        string    `json:"status"`
	PublishedAt   time.Time `json:"publishedAt,omitzero"`
	CreatedAt     time.Time `json:"createdAt,omitzero"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero"`
}

type Achievement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	Date        string    `json:"date,omitempty"`
	Featured    bool      `json:"featured,omitempty"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

func (s Skill) label() string {
	if s.Level == "" {
		return s.Name
	}
	return s.Name + " (" + string(s.Level) + ")"
}

func (e Experience) label() string {
	l := e.Title + " at " + e.Company
	if e.Period != "" {
		l += " (" + e.Period + ")"
	}
	return l
}

func (p Project) label() string {
	l := `"` + p.Title + `"`
	if p.Description != "" {
		l += ": " + p.Description
	}
	return l
}

func (s *Skill) key() string       { return s.ID }
func (e *Experience) key() string  { return e.ID }
func (p *Project) key() string     { return p.ID }
func (b *BlogPost) key() string    { return b.ID }
func (a *Achievement) key() string { return a.ID }

func (s *Skill) stamp(id string, created, updated time.Time) {
	s.ID, s.CreatedAt, s.UpdatedAt = id, created, updated
}

func (e *Experience) stamp(id string, created, updated time.Time) {
	e.ID, e.CreatedAt, e.UpdatedAt = id, created, updated
}

func (p *Project) stamp(id string, created, updated time.Time) {
	p.ID, p.CreatedAt, p.UpdatedAt = id, created, updated
}

func (b *BlogPost) stamp(id string, created, updated time.Time) {
	b.ID, b.CreatedAt, b.UpdatedAt = id, created, updated
}

func (a *Achievement) stamp(id string, created, updated time.Time) {
	a.ID, a.CreatedAt, a.UpdatedAt = id, created, updated
}
