package domain

import (
	"errors"
	"time"
)

var (
	ErrRepoNotFound     = errors.New("repo not found")
	ErrInstanceNotFound = errors.New("instance not found")
)

// Instance names an API endpoint for sources that can have several, such as
// github.com next to a GitHub Enterprise install. Seeded with the canonical
// GitHub and GitLab instances at migration time.
type Instance struct {
	ID       string
	Source   Source
	Name     string
	Endpoint string
}

type GitRepo struct {
	ID        string
	URL       string
	CreatedAt time.Time
}

// GitHubRepo is identified by the (owner, repo, instance) triple.
type GitHubRepo struct {
	ID         string
	Owner      string
	Repo       string
	InstanceID string
	CreatedAt  time.Time
}

// GitLabRepo is identified by the (owner, repo, instance) triple.
type GitLabRepo struct {
	ID         string
	Owner      string
	Repo       string
	InstanceID string
	CreatedAt  time.Time
}

type MeetupGroup struct {
	ID        string
	Name      string
	CreatedAt time.Time
}
