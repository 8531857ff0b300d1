package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/cache"
	"github.com/boxingbuddies/engagement/internal/engagement"
	"github.com/boxingbuddies/engagement/pkg/config"
	"github.com/boxingbuddies/engagement/pkg/logging"
	"github.com/boxingbuddies/engagement/pkg/telemetry"
)

// Candidate is one post inside the ranking window, with the counters
// feeding its score.
type Candidate struct {
	ID        string
	Likes     int64
	Comments  int64
	Views     int64
	CreatedAt time.Time
}

// Source supplies ranking candidates: every post created at or after
// the cutoff, with its live comment count.
type Source interface {
	HotCandidates(ctx context.Context, since time.Time) ([]Candidate, error)
}

// Entry is one scored slot of a computed ranking. Entries are derived
// state: rebuilt wholesale on every recompute, never patched.
type Entry struct {
	EntityID  string    `json:"entity_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// maxHotLimit caps how many entries one call may request.
const maxHotLimit = 100

// Engine computes the time-decayed hot ranking over a sliding window
// and caches the full ordered result under the hot-posts tag. Any
// mutation that feeds the score invalidates that tag, so a fresh call
// after a like toggle recomputes from current counters.
type Engine struct {
	src    Source
	bus    cache.Bus
	cfg    config.RankingConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a ranking engine with the given policy weights.
func NewEngine(src Source, bus cache.Bus, cfg config.RankingConfig) *Engine {
	return &Engine{
		src:    src,
		bus:    bus,
		cfg:    cfg,
		logger: logging.GetLogger().With(zap.String("component", "ranking-engine")),
		now:    time.Now,
	}
}

// GetHot returns the IDs of the top posts in the window, hottest
// first. limit <= 0 falls back to 20; windowHours <= 0 falls back to
// the configured window.
func (e *Engine) GetHot(ctx context.Context, limit, windowHours int) ([]string, error) {
	entries, err := e.hotEntries(ctx, windowHours)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	if limit > maxHotLimit {
		limit = maxHotLimit
	}
	if limit > len(entries) {
		limit = len(entries)
	}

	ids := make([]string, limit)
	for i := 0; i < limit; i++ {
		ids[i] = entries[i].EntityID
	}
	return ids, nil
}

// hotEntries returns the full cached ranking, recomputing on miss,
// expiry or after invalidation of the hot-posts tag.
func (e *Engine) hotEntries(ctx context.Context, windowHours int) ([]Entry, error) {
	if windowHours <= 0 {
		windowHours = e.cfg.WindowHours
	}

	ctx, span := telemetry.StartSpan(ctx, "ranking.get_hot")
	defer span.End()

	key := fmt.Sprintf("hot:%dh", windowHours)
	raw, err := e.bus.Get(ctx, engagement.TagHotPosts, key, e.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		entries, err := e.compute(ctx, windowHours)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	})
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("corrupt ranking cache entry: %w", err)
	}
	return entries, nil
}

// compute scores and sorts the whole candidate set. The result is a
// pure function of the windowed snapshot; there is no incremental
// adjustment of a previous ranking.
func (e *Engine) compute(ctx context.Context, windowHours int) ([]Entry, error) {
	now := e.now()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	cands, err := e.src.HotCandidates(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engagement.ErrTransientStore, err)
	}

	entries := make([]Entry, 0, len(cands))
	for _, c := range cands {
		entries = append(entries, Entry{
			EntityID:  c.ID,
			Score:     e.score(c, now, windowHours),
			CreatedAt: c.CreatedAt,
		})
	}

	// Descending score; ties go to the newer post, then to the lower
	// ID so the order is fully deterministic.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].EntityID < entries[j].EntityID
	})

	e.logger.Debug("hot ranking recomputed",
		zap.Int("candidates", len(entries)),
		zap.Int("window_hours", windowHours))
	return entries, nil
}

// score applies the weighted counter sum plus a linear time decay that
// runs from 1 at creation down to 0 at the window boundary.
func (e *Engine) score(c Candidate, now time.Time, windowHours int) float64 {
	ageHours := now.Sub(c.CreatedAt).Hours()
	decay := 1 - ageHours/float64(windowHours)
	if decay < 0 {
		decay = 0
	}
	return float64(c.Likes)*e.cfg.LikeWeight +
		float64(c.Comments)*e.cfg.CommentWeight +
		float64(c.Views)*e.cfg.ViewWeight +
		decay*e.cfg.DecayWeight
}

// StartRefresher warms the hot ranking on a fixed interval until ctx
// is cancelled. It is advisory: correctness never depends on it, since
// every read path recomputes on miss.
func (e *Engine) StartRefresher(ctx context.Context) {
	if e.cfg.RefreshInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(e.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.hotEntries(ctx, e.cfg.WindowHours); err != nil {
					e.logger.Warn("scheduled ranking refresh failed", zap.Error(err))
				}
			}
		}
	}()
}
