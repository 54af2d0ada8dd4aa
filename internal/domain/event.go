package domain

import "time"

type Visibility string

const (
	VisibilityPublic      Visibility = "PUBLIC"
	VisibilityPrivate     Visibility = "PRIVATE"
	VisibilityFriendsOnly Visibility = "FRIENDS_ONLY"
	VisibilityDraft       Visibility = "DRAFT"
	VisibilityArchived    Visibility = "ARCHIVED"
)

type Urgency string

const (
	UrgencyNormal Urgency = "NORMAL"
	UrgencyRescue Urgency = "RESCUE"
)

type MediaType string

const (
	MediaTypeNone  MediaType = "NONE"
	MediaTypeImage MediaType = "IMAGE"
	MediaTypeVideo MediaType = "VIDEO"
)

// PostCreatedEvent is the inbound queue payload produced by the post service.
// Immutable once emitted.
type PostCreatedEvent struct {
	PostID          int64      `json:"postId"`
	UserID          int64      `json:"userId"`
	Username        string     `json:"username"`
	ContentText     string     `json:"contentText"`
	MediaUrls       []string   `json:"mediaUrls"`
	MediaType       MediaType  `json:"mediaType"`
	Hashtags        []string   `json:"hashtags"`
	Mentions        []string   `json:"mentions"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	MediaVisibility Visibility `json:"mediaVisibility"`
	Urgency         Urgency    `json:"urgency"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// PostDeletedEvent marks a post as gone; the read path filters it out, feed
// stores are not rewritten.
type PostDeletedEvent struct {
	PostID int64 `json:"postId"`
}

// Distributable reports whether a post may be fanned out at all. The
// visibility set here mirrors the upstream post service policy verbatim,
// PUBLIC included.
func (e PostCreatedEvent) Distributable() bool {
	if e.PostID <= 0 || e.UserID <= 0 {
		return false
	}
	switch e.MediaVisibility {
	case VisibilityDraft, VisibilityArchived, VisibilityPrivate, VisibilityPublic:
		return false
	}
	return true
}

// maxFeedScore is the largest integer float64 can represent exactly, so the
// urgency subtraction below stays exact at millisecond granularity.
const maxFeedScore = float64(1 << 53)

// Score ranks a post inside a recipient's feed: creation epoch-millis, except
// rescue posts which sort ahead of everything regardless of age.
func (e PostCreatedEvent) Score() float64 {
	millis := float64(e.CreatedAt.UnixMilli())
	if e.Urgency == UrgencyRescue {
		return maxFeedScore - millis
	}
	return millis
}
