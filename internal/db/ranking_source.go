package db

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/boxingbuddies/engagement/internal/ranking"
)

// RankingSource feeds the hot ranking engine from the posts and
// comments tables.
type RankingSource struct {
	db *gorm.DB
}

// NewRankingSource creates a ranking source over an open connection.
func NewRankingSource(database *DB) *RankingSource {
	return &RankingSource{db: database.DB}
}

// HotCandidates implements ranking.Source: every post in the window
// with its live comment count, counted from the rows rather than read
// from a counter so a drifted denormalization cannot skew the score.
func (s *RankingSource) HotCandidates(ctx context.Context, since time.Time) ([]ranking.Candidate, error) {
	var rows []struct {
		ID        string
		Likes     int64
		Views     int64
		Comments  int64
		CreatedAt time.Time
	}

	err := s.db.WithContext(ctx).Raw(`
		SELECT p.id, p.likes, p.views, p.created_at, COUNT(c.id) AS comments
		FROM posts p
		LEFT JOIN comments c ON c.post_id = p.id
		WHERE p.created_at >= ?
		GROUP BY p.id, p.likes, p.views, p.created_at`, since).
		Scan(&rows).Error
	if err != nil {
		return nil, translateErr(err)
	}

	cands := make([]ranking.Candidate, len(rows))
	for i, r := range rows {
		cands[i] = ranking.Candidate{
			ID:        r.ID,
			Likes:     r.Likes,
			Views:     r.Views,
			Comments:  r.Comments,
			CreatedAt: r.CreatedAt,
		}
	}
	return cands, nil
}
