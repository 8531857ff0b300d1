package engagement

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/models"
	"github.com/boxingbuddies/engagement/pkg/logging"
	"github.com/boxingbuddies/engagement/pkg/telemetry"
)

// CounterService keeps the denormalized reply counter on parent
// comments consistent with the live child rows, and owns the view
// counter. Counter adjustments always ride in the same transaction as
// the row mutation that causes them.
type CounterService struct {
	store  Store
	inv    Invalidator
	logger *zap.Logger
}

// NewCounterService creates a counter service.
func NewCounterService(store Store, inv Invalidator) *CounterService {
	return &CounterService{
		store:  store,
		inv:    inv,
		logger: logging.GetLogger().With(zap.String("component", "counter-service")),
	}
}

// OnChildCreated bumps parent.replies inside the caller's transaction.
// A missing parent is a programming error and fails loudly with
// ErrNotFound rather than no-opping.
func (s *CounterService) OnChildCreated(ctx context.Context, tx Store, parentID string) error {
	if parentID == "" {
		return fmt.Errorf("%w: empty parent id", ErrValidation)
	}
	return tx.AdjustReplies(ctx, parentID, 1)
}

// OnChildDeleted decrements parent.replies inside the caller's
// transaction. Same failure contract as OnChildCreated.
func (s *CounterService) OnChildDeleted(ctx context.Context, tx Store, parentID string) error {
	if parentID == "" {
		return fmt.Errorf("%w: empty parent id", ErrValidation)
	}
	return tx.AdjustReplies(ctx, parentID, -1)
}

// CreateComment inserts a comment and, when it is a reply, increments
// the parent's reply counter in the same transaction. One level of
// nesting is enforced here: replying to a reply is rejected.
func (s *CounterService) CreateComment(ctx context.Context, c *models.Comment) error {
	if c == nil || c.PostID == "" || c.UserID == "" || c.Content == "" {
		return fmt.Errorf("%w: missing comment fields", ErrValidation)
	}

	ctx, span := telemetry.StartSpan(ctx, "engagement.create_comment")
	defer span.End()

	err := s.store.Transaction(ctx, func(tx Store) error {
		exists, err := tx.TargetExists(ctx, models.EntityPost, c.PostID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: post %s", ErrNotFound, c.PostID)
		}

		if c.IsReply() {
			parent, err := tx.GetComment(ctx, *c.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("%w: parent comment %s", ErrNotFound, *c.ParentID)
			}
			if parent.PostID != c.PostID {
				return fmt.Errorf("%w: parent belongs to another post", ErrValidation)
			}
			if parent.IsReply() {
				return fmt.Errorf("%w: replies cannot be nested further", ErrValidation)
			}
		}

		if err := tx.InsertComment(ctx, c); err != nil {
			return err
		}
		if c.IsReply() {
			return s.OnChildCreated(ctx, tx, *c.ParentID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidatePost(ctx, c.PostID)
	return nil
}

// DeleteCommentSubtree deletes the comment, all of its direct children
// and their like records in one transaction. When the target itself is
// a reply, its parent's counter goes down by exactly one — never by
// the number of descendants removed.
func (s *CounterService) DeleteCommentSubtree(ctx context.Context, commentID string) error {
	if commentID == "" {
		return fmt.Errorf("%w: empty comment id", ErrValidation)
	}

	ctx, span := telemetry.StartSpan(ctx, "engagement.delete_comment_subtree")
	defer span.End()

	var postID string
	err := s.store.Transaction(ctx, func(tx Store) error {
		c, err := tx.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: comment %s", ErrNotFound, commentID)
		}
		postID = c.PostID

		removed, err := tx.DeleteCommentAndChildren(ctx, commentID)
		if err != nil {
			return err
		}
		s.logger.Debug("comment subtree removed",
			zap.String("comment_id", commentID),
			zap.Int64("rows", removed))

		if c.IsReply() {
			return s.OnChildDeleted(ctx, tx, *c.ParentID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidatePost(ctx, postID)
	return nil
}

// RecordView bumps a post's view counter. Views feed the hot score
// only through its periodic recompute; they do not invalidate the
// ranking cache on every page load.
func (s *CounterService) RecordView(ctx context.Context, postID string) error {
	if postID == "" {
		return fmt.Errorf("%w: empty post id", ErrValidation)
	}
	return s.store.IncrementViews(ctx, postID)
}

// invalidatePost purges every tag whose cached value depends on the
// post's comment set: the comment listing, the post detail, and the
// hot ranking (comment counts feed the score).
func (s *CounterService) invalidatePost(ctx context.Context, postID string) {
	for _, tag := range []string{TagHotPosts, TagPost(postID), TagPostComments(postID)} {
		if err := s.inv.Invalidate(ctx, tag); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("tag", tag), zap.Error(err))
		}
	}
}
