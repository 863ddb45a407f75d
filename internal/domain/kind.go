package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown intention kind")

// Source is the data source an intention targets.
type Source string

const (
	SourceGit    Source = "git"
	SourceGitHub Source = "github"
	SourceGitLab Source = "gitlab"
	SourceMeetup Source = "meetup"
)

// MaxJobsPerToken is the per-token concurrency cap for this source.
// Zero means the source has no tokens at all.
func (s Source) MaxJobsPerToken() int {
	switch s {
	case SourceGitHub, SourceGitLab:
		return 3
	case SourceMeetup:
		return 1
	default:
		return 0
	}
}

// Phase is the pipeline stage an intention represents.
type Phase string

const (
	PhaseRaw    Phase = "raw"
	PhaseEnrich Phase = "enrich"
)

// Kind identifies one of the eight intention kinds. The string value doubles
// as the registry key stored on ScheduledIntention rows and the discriminator
// column on intention rows.
type Kind string

const (
	KindGitRaw       Kind = "git_raw"
	KindGitEnrich    Kind = "git_enrich"
	KindGitHubRaw    Kind = "github_raw"
	KindGitHubEnrich Kind = "github_enrich"
	KindGitLabRaw    Kind = "gitlab_raw"
	KindGitLabEnrich Kind = "gitlab_enrich"
	KindMeetupRaw    Kind = "meetup_raw"
	KindMeetupEnrich Kind = "meetup_enrich"
)

// KindsByPriority is the order the dispatcher consults kinds for admission
// and resumption: enrich before raw so in-flight pipelines reach their final
// state first, fastest targets first within a phase.
var KindsByPriority = []Kind{
	KindGitHubEnrich, KindGitLabEnrich, KindGitEnrich, KindMeetupEnrich,
	KindGitHubRaw, KindGitLabRaw, KindGitRaw, KindMeetupRaw,
}

// ParseKind maps a registry key to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	switch k {
	case KindGitRaw, KindGitEnrich, KindGitHubRaw, KindGitHubEnrich,
		KindGitLabRaw, KindGitLabEnrich, KindMeetupRaw, KindMeetupEnrich:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Source() Source {
	switch k {
	case KindGitRaw, KindGitEnrich:
		return SourceGit
	case KindGitHubRaw, KindGitHubEnrich:
		return SourceGitHub
	case KindGitLabRaw, KindGitLabEnrich:
		return SourceGitLab
	default:
		return SourceMeetup
	}
}

func (k Kind) Phase() Phase {
	switch k {
	case KindGitRaw, KindGitHubRaw, KindGitLabRaw, KindMeetupRaw:
		return PhaseRaw
	default:
		return PhaseEnrich
	}
}

// NeedsToken reports whether admission and execution of this kind require an
// API token. Only the raw phase of token-backed sources does: enrich kinds
// read previously gathered data and never touch the upstream API.
func (k Kind) NeedsToken() bool {
	return k.Phase() == PhaseRaw && k.Source().MaxJobsPerToken() > 0
}

// RawKind returns the raw sibling of an enrich kind. For raw kinds it
// returns the kind itself.
func (k Kind) RawKind() Kind {
	switch k.Source() {
	case SourceGit:
		return KindGitRaw
	case SourceGitHub:
		return KindGitHubRaw
	case SourceGitLab:
		return KindGitLabRaw
	default:
		return KindMeetupRaw
	}
}

// EnrichKind returns the enrich sibling of a raw kind. For enrich kinds it
// returns the kind itself.
func (k Kind) EnrichKind() Kind {
	switch k.Source() {
	case SourceGit:
		return KindGitEnrich
	case SourceGitHub:
		return KindGitHubEnrich
	case SourceGitLab:
		return KindGitLabEnrich
	default:
		return KindMeetupEnrich
	}
}
