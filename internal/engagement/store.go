package engagement

import (
	"context"

	"github.com/boxingbuddies/engagement/internal/models"
)

// Store is the transactional source of truth for targets, like records
// and denormalized counters. Implementations translate driver errors
// into the sentinels in errors.go: InsertLike reports a violated
// uniqueness constraint as ErrDuplicateLike, aborted transactions as
// ErrSerialization, and connectivity failures as ErrTransientStore.
//
// Counter columns are mutated only through AdjustLikes, AdjustReplies
// and IncrementViews; nothing else writes them.
type Store interface {
	// Transaction runs fn against a store bound to a single database
	// transaction. fn returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	TargetExists(ctx context.Context, kind models.EntityType, id string) (bool, error)

	HasLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error)
	InsertLike(ctx context.Context, userID string, kind models.EntityType, id string) error
	DeleteLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error)

	// AdjustLikes applies delta to the target's likes counter and
	// returns the committed value. ErrNotFound when the target row is
	// missing.
	AdjustLikes(ctx context.Context, kind models.EntityType, id string, delta int64) (int64, error)

	// GetComment returns nil, nil when the comment does not exist.
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	InsertComment(ctx context.Context, c *models.Comment) error

	// DeleteCommentAndChildren removes the comment, its direct
	// children, and every like record referencing them. It returns the
	// number of comment rows removed.
	DeleteCommentAndChildren(ctx context.Context, id string) (int64, error)

	// AdjustReplies applies delta to the parent comment's replies
	// counter. ErrNotFound when the parent row is missing.
	AdjustReplies(ctx context.Context, parentID string, delta int64) error

	IncrementViews(ctx context.Context, postID string) error
}

// Invalidator is the slice of the cache bus the engagement services
// need: marking tagged entries stale after a committed mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, tag string) error
}

// Cache tags owned by the engagement domain. Every mutation that feeds
// a cached computation invalidates the matching tags after commit.
const TagHotPosts = "hot-posts"

// TagPost keys a single post's detail cache.
func TagPost(postID string) string {
	return "post:" + postID
}

// TagPostComments keys the cached comment listing of a post.
func TagPostComments(postID string) string {
	return "post-comments:" + postID
}
