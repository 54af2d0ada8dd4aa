package domain

import "time"

// PostSnapshot is the denormalized, cached copy of a post's display fields.
// Populated by collaborators; this service only reads it.
type PostSnapshot struct {
	PostID      int64     `json:"postId"`
	AuthorID    int64     `json:"userId"`
	Username    string    `json:"username"`
	ContentText string    `json:"contentText"`
	MediaUrls   []string  `json:"mediaUrls"`
	MediaType   MediaType `json:"mediaType"`
	Deleted     bool      `json:"deleted,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LiveMetrics are the current engagement counters for a post.
type LiveMetrics struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// FeedPost is one enriched entry in a feed response.
type FeedPost struct {
	PostID       int64     `json:"postId"`
	AuthorID     int64     `json:"authorId"`
	Username     string    `json:"username"`
	ContentText  string    `json:"contentText"`
	MediaUrls    []string  `json:"mediaUrls"`
	MediaType    MediaType `json:"mediaType"`
	LikeCount    int64     `json:"likeCount"`
	CommentCount int64     `json:"commentCount"`
	ViewerLiked  bool      `json:"viewerLiked"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FeedPage is the paginated read result.
type FeedPage struct {
	Posts      []FeedPost `json:"posts"`
	NextCursor string     `json:"nextCursor,omitempty"`
	HasMore    bool       `json:"hasMore"`
}
