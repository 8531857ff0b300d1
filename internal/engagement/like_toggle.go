package engagement

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/models"
	"github.com/boxingbuddies/engagement/pkg/logging"
	"github.com/boxingbuddies/engagement/pkg/telemetry"
)

// LikeService atomically flips a single user's like on a single target
// and returns the authoritative new count. Races between concurrent
// toggles on the same (user, target) pair are arbitrated by the
// uniqueness constraint on the like table, not by an application lock:
// the losing insert rolls back with ErrDuplicateLike and the next
// attempt observes the committed row and takes the unlike branch.
type LikeService struct {
	store      Store
	inv        Invalidator
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

// ToggleResult is the committed outcome of a toggle.
type ToggleResult struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}

// NewLikeService creates a like toggle service. maxRetries bounds how
// many times a transiently failed transaction is re-run before the
// call surfaces ErrConflict; backoff is the base delay between runs.
func NewLikeService(store Store, inv Invalidator, maxRetries int, backoff time.Duration) *LikeService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 25 * time.Millisecond
	}
	return &LikeService{
		store:      store,
		inv:        inv,
		logger:     logging.GetLogger().With(zap.String("component", "like-service")),
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Toggle flips userID's like on the given target. It returns the state
// it just committed, so the caller always reads its own write.
func (s *LikeService) Toggle(ctx context.Context, userID string, kind models.EntityType, entityID string) (ToggleResult, error) {
	if userID == "" {
		return ToggleResult{}, fmt.Errorf("%w: empty user id", ErrValidation)
	}
	if entityID == "" {
		return ToggleResult{}, fmt.Errorf("%w: empty entity id", ErrValidation)
	}
	if !kind.Valid() {
		return ToggleResult{}, fmt.Errorf("%w: unknown entity type %q", ErrValidation, kind)
	}

	ctx, span := telemetry.StartSpan(ctx, "engagement.toggle_like")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ToggleResult{}, ctx.Err()
			case <-time.After(jitter(s.backoff, attempt)):
			}
		}

		res, err := s.toggleOnce(ctx, userID, kind, entityID)
		if err == nil {
			// Invalidate only after the transaction committed; a
			// rolled-back toggle must not purge anything.
			s.invalidate(ctx, kind, entityID)
			return res, nil
		}
		if !Retryable(err) {
			return ToggleResult{}, err
		}
		s.logger.Debug("retrying like toggle",
			zap.String("user_id", userID),
			zap.String("entity_id", entityID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		lastErr = err
	}

	return ToggleResult{}, fmt.Errorf("%w: toggle retries exhausted: %v", ErrConflict, lastErr)
}

// toggleOnce runs one full toggle transaction: both the like record
// mutation and the counter mutation commit together or not at all.
func (s *LikeService) toggleOnce(ctx context.Context, userID string, kind models.EntityType, entityID string) (ToggleResult, error) {
	var res ToggleResult
	err := s.store.Transaction(ctx, func(tx Store) error {
		exists, err := tx.TargetExists(ctx, kind, entityID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s %s", ErrNotFound, kind, entityID)
		}

		liked, err := tx.HasLike(ctx, userID, kind, entityID)
		if err != nil {
			return err
		}

		if liked {
			removed, err := tx.DeleteLike(ctx, userID, kind, entityID)
			if err != nil {
				return err
			}
			if !removed {
				// The row vanished between the read and the delete:
				// a concurrent unlike won. Rerun and observe.
				return ErrSerialization
			}
			likes, err := tx.AdjustLikes(ctx, kind, entityID, -1)
			if err != nil {
				return err
			}
			res = ToggleResult{Liked: false, Likes: likes}
			return nil
		}

		// The insert is the arbiter: under a concurrent double-toggle
		// exactly one insert commits and the other returns
		// ErrDuplicateLike, rolling this transaction back.
		if err := tx.InsertLike(ctx, userID, kind, entityID); err != nil {
			return err
		}
		likes, err := tx.AdjustLikes(ctx, kind, entityID, 1)
		if err != nil {
			return err
		}
		res = ToggleResult{Liked: true, Likes: likes}
		return nil
	})
	return res, err
}

// IsLiked reports whether userID currently has a like on the target.
func (s *LikeService) IsLiked(ctx context.Context, userID string, kind models.EntityType, entityID string) (bool, error) {
	if userID == "" || entityID == "" || !kind.Valid() {
		return false, fmt.Errorf("%w: malformed like lookup", ErrValidation)
	}
	return s.store.HasLike(ctx, userID, kind, entityID)
}

func (s *LikeService) invalidate(ctx context.Context, kind models.EntityType, entityID string) {
	tags := []string{}
	switch kind {
	case models.EntityPost:
		tags = append(tags, TagHotPosts, TagPost(entityID))
	case models.EntityComment:
		// A comment's like count does not feed the hot score, but the
		// comment listing of its post is cached.
		if c, err := s.store.GetComment(ctx, entityID); err == nil && c != nil {
			tags = append(tags, TagPostComments(c.PostID))
		}
	}
	for _, tag := range tags {
		if err := s.inv.Invalidate(ctx, tag); err != nil {
			s.logger.Warn("cache invalidation failed", zap.String("tag", tag), zap.Error(err))
		}
	}
}

// jitter spreads retries of colliding transactions apart: the delay
// grows with the attempt number and carries a random half-width.
func jitter(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt)
	half := d / 2
	if half <= 0 {
		return d
	}
	return d - half + time.Duration(rand.Int63n(int64(2*half)))
}
