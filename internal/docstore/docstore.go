// Package docstore is the document database the portfolio records live in.
// Documents are JSON objects grouped into named collections and addressed by
// id, the same shape the admin UI writes.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

// Collection names used by the portfolio.
const (
	CollectionPersonalInfo = "personalInfo"
	CollectionSiteSettings = "siteSettings"
	CollectionSkills       = "skills"
	CollectionExperience   = "experience"
	CollectionProjects     = "projects"
	CollectionBlogPosts    = "blogPosts"
	CollectionAchievements = "achievements"

	// MainID is the id of the single document in personalInfo and siteSettings
	MainID = "main"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Document is one stored record.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// List returns every document in collection ordered by id. An empty or
	// unknown collection is not an error.
	List(ctx context.Context, collection string) ([]Document, error)
	Put(ctx context.Context, collection, id string, data json.RawMessage) error
	// Ping reports whether the backend is reachable, used by readiness
	Ping(ctx context.Context) error
}

// validName reports whether s can be used as a collection name or id. Names
// end up in object keys, so separators and dot segments are refused.
func validName(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
