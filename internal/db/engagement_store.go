package db

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/boxingbuddies/engagement/internal/engagement"
	"github.com/boxingbuddies/engagement/internal/models"
)

// EngagementStore is the gorm/postgres implementation of
// engagement.Store. Driver errors are translated into the engagement
// sentinels so the services never see SQLSTATEs.
type EngagementStore struct {
	db *gorm.DB
}

// NewEngagementStore creates the store over an open connection.
func NewEngagementStore(database *DB) *EngagementStore {
	return &EngagementStore{db: database.DB}
}

// Transaction implements engagement.Store.
func (s *EngagementStore) Transaction(ctx context.Context, fn func(tx engagement.Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&EngagementStore{db: tx})
	})
	return translateErr(err)
}

// TargetExists implements engagement.Store.
func (s *EngagementStore) TargetExists(ctx context.Context, kind models.EntityType, id string) (bool, error) {
	var count int64
	q := s.db.WithContext(ctx)
	switch kind {
	case models.EntityPost:
		q = q.Model(&models.Post{}).Where("id = ?", id)
	case models.EntityComment:
		q = q.Model(&models.Comment{}).Where("id = ?", id)
	default:
		return false, fmt.Errorf("%w: unknown entity type %q", engagement.ErrValidation, kind)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, translateErr(err)
	}
	return count > 0, nil
}

// HasLike implements engagement.Store.
func (s *EngagementStore) HasLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	var count int64
	q := s.db.WithContext(ctx)
	switch kind {
	case models.EntityPost:
		q = q.Model(&models.PostLike{}).Where("user_id = ? AND post_id = ?", userID, id)
	case models.EntityComment:
		q = q.Model(&models.CommentLike{}).Where("user_id = ? AND comment_id = ?", userID, id)
	default:
		return false, fmt.Errorf("%w: unknown entity type %q", engagement.ErrValidation, kind)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, translateErr(err)
	}
	return count > 0, nil
}

// InsertLike implements engagement.Store. The unique index on
// (user_id, target_id) makes this the arbiter under concurrency.
func (s *EngagementStore) InsertLike(ctx context.Context, userID string, kind models.EntityType, id string) error {
	var err error
	switch kind {
	case models.EntityPost:
		err = s.db.WithContext(ctx).Create(&models.PostLike{UserID: userID, PostID: id}).Error
	case models.EntityComment:
		err = s.db.WithContext(ctx).Create(&models.CommentLike{UserID: userID, CommentID: id}).Error
	default:
		return fmt.Errorf("%w: unknown entity type %q", engagement.ErrValidation, kind)
	}
	return translateErr(err)
}

// DeleteLike implements engagement.Store.
func (s *EngagementStore) DeleteLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	var res *gorm.DB
	switch kind {
	case models.EntityPost:
		res = s.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, id).Delete(&models.PostLike{})
	case models.EntityComment:
		res = s.db.WithContext(ctx).Where("user_id = ? AND comment_id = ?", userID, id).Delete(&models.CommentLike{})
	default:
		return false, fmt.Errorf("%w: unknown entity type %q", engagement.ErrValidation, kind)
	}
	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AdjustLikes implements engagement.Store. The counter moves by a
// relative SQL expression, never an absolute assignment, so concurrent
// transactions cannot overwrite each other's deltas.
func (s *EngagementStore) AdjustLikes(ctx context.Context, kind models.EntityType, id string, delta int64) (int64, error) {
	var model interface{}
	switch kind {
	case models.EntityPost:
		model = &models.Post{}
	case models.EntityComment:
		model = &models.Comment{}
	default:
		return 0, fmt.Errorf("%w: unknown entity type %q", engagement.ErrValidation, kind)
	}

	res := s.db.WithContext(ctx).Model(model).Where("id = ?", id).
		UpdateColumn("likes", gorm.Expr("likes + ?", delta))
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: %s %s", engagement.ErrNotFound, kind, id)
	}

	var likes int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).
		Pluck("likes", &likes).Error; err != nil {
		return 0, translateErr(err)
	}
	return likes, nil
}

// GetComment implements engagement.Store.
func (s *EngagementStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateErr(err)
	}
	return &c, nil
}

// InsertComment implements engagement.Store.
func (s *EngagementStore) InsertComment(ctx context.Context, c *models.Comment) error {
	return translateErr(s.db.WithContext(ctx).Create(c).Error)
}

// DeleteCommentAndChildren implements engagement.Store. Like records
// of the removed comments go with them so no orphan rows survive.
func (s *EngagementStore) DeleteCommentAndChildren(ctx context.Context, id string) (int64, error) {
	if err := s.db.WithContext(ctx).
		Where("comment_id IN (?)", s.db.Model(&models.Comment{}).Select("id").
			Where("id = ? OR parent_id = ?", id, id)).
		Delete(&models.CommentLike{}).Error; err != nil {
		return 0, translateErr(err)
	}

	res := s.db.WithContext(ctx).
		Where("id = ? OR parent_id = ?", id, id).
		Delete(&models.Comment{})
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}
	return res.RowsAffected, nil
}

// AdjustReplies implements engagement.Store.
func (s *EngagementStore) AdjustReplies(ctx context.Context, parentID string, delta int64) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", parentID).
		UpdateColumn("replies", gorm.Expr("replies + ?", delta))
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: parent comment %s", engagement.ErrNotFound, parentID)
	}
	return nil
}

// IncrementViews implements engagement.Store.
func (s *EngagementStore) IncrementViews(ctx context.Context, postID string) error {
	res := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("views", gorm.Expr("views + 1"))
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: post %s", engagement.ErrNotFound, postID)
	}
	return nil
}

// Postgres SQLSTATEs the engagement layer cares about.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// translateErr maps driver and gorm errors onto the engagement
// sentinels. Unknown errors pass through wrapped as-is.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", engagement.ErrDuplicateLike, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", engagement.ErrDuplicateLike, err)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", engagement.ErrSerialization, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", engagement.ErrTransientStore, err)
	}

	return err
}
