package engagement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boxingbuddies/engagement/internal/models"
)

func newLikeFixture() (*memStore, *recordingInvalidator, *LikeService) {
	store := newMemStore()
	inv := &recordingInvalidator{}
	svc := NewLikeService(store, inv, 3, time.Millisecond)
	return store, inv, svc
}

func TestToggleLikeThenUnlike(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	res, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if !res.Liked || res.Likes != 1 {
		t.Errorf("first toggle = %+v, want liked with 1 like", res)
	}

	res, err = svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if res.Liked || res.Likes != 0 {
		t.Errorf("second toggle = %+v, want unliked with 0 likes", res)
	}

	if n := store.postLikeCount("p1"); n != 0 {
		t.Errorf("like rows after toggle pair = %d, want 0", n)
	}
	if p := store.post("p1"); p.Likes != 0 {
		t.Errorf("post likes after toggle pair = %d, want 0", p.Likes)
	}
}

func TestToggleUnlikeWithoutRecordBecomesLike(t *testing.T) {
	store, _, svc := newLikeFixture()
	// Counter drifted high but the user holds no like row. The toggle
	// must read the row, not the counter, so this is a like.
	store.addPost(&models.Post{ID: "p1", Likes: 5})

	res, err := svc.Toggle(context.Background(), "bob", models.EntityPost, "p1")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !res.Liked || res.Likes != 6 {
		t.Errorf("toggle = %+v, want liked with 6 likes", res)
	}
}

func TestToggleCommentLike(t *testing.T) {
	store, inv, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})
	store.addComment(&models.Comment{ID: "c1", PostID: "p1", UserID: "carol", Content: "hi"})

	res, err := svc.Toggle(context.Background(), "dave", models.EntityComment, "c1")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !res.Liked || res.Likes != 1 {
		t.Errorf("toggle = %+v, want liked with 1 like", res)
	}
	if !inv.seen(TagPostComments("p1")) {
		t.Error("comment like did not invalidate the post comment listing")
	}
	if inv.seen(TagHotPosts) {
		t.Error("comment like must not invalidate the hot ranking")
	}
}

func TestToggleValidation(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	tests := []struct {
		name   string
		user   string
		kind   models.EntityType
		entity string
	}{
		{"empty user", "", models.EntityPost, "p1"},
		{"empty entity", "alice", models.EntityPost, ""},
		{"bad kind", "alice", models.EntityType("thread"), "p1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Toggle(context.Background(), tt.user, tt.kind, tt.entity)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Toggle() error = %v, want ErrValidation", err)
			}
		})
	}

	if store.txCount != 0 {
		t.Errorf("validation failures started %d transactions, want 0", store.txCount)
	}
}

func TestToggleMissingTarget(t *testing.T) {
	_, inv, svc := newLikeFixture()

	_, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Toggle() error = %v, want ErrNotFound", err)
	}
	if inv.count() != 0 {
		t.Errorf("failed toggle invalidated %d tags, want 0", inv.count())
	}
}

func TestToggleInvalidatesAfterCommit(t *testing.T) {
	store, inv, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	if _, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1"); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if !inv.seen(TagHotPosts) {
		t.Error("post like did not invalidate the hot ranking")
	}
	if !inv.seen(TagPost("p1")) {
		t.Error("post like did not invalidate the post tag")
	}
}

// TestToggleLostInsertRace drives the full race recovery: the first
// attempt's insert loses to a concurrently committed like, the
// transaction rolls back, and the retry observes the winner's row and
// flips it off.
func TestToggleLostInsertRace(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1", Likes: 1})
	store.insertLikeErrs = []error{ErrDuplicateLike}
	store.onTx = func(st *memState, n int) {
		if n == 2 {
			// The competing request committed between our attempts.
			st.postLikes[likeKey("alice", "p1")] = struct{}{}
		}
	}

	res, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if res.Liked {
		t.Error("retry after lost race should land in the unlike branch")
	}
	if res.Likes != 0 {
		t.Errorf("likes = %d, want 0", res.Likes)
	}
	if store.txCount != 2 {
		t.Errorf("transactions = %d, want 2 (one rollback, one commit)", store.txCount)
	}
}

func TestToggleRetriesExhausted(t *testing.T) {
	store, inv, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})
	store.insertLikeErrs = []error{ErrSerialization, ErrSerialization, ErrSerialization, ErrSerialization}

	_, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Toggle() error = %v, want ErrConflict", err)
	}
	if store.txCount != 4 {
		t.Errorf("transactions = %d, want 4 (initial + 3 retries)", store.txCount)
	}
	if inv.count() != 0 {
		t.Errorf("exhausted toggle invalidated %d tags, want 0", inv.count())
	}
	if p := store.post("p1"); p.Likes != 0 {
		t.Errorf("failed toggles leaked counter adjustments: likes = %d", p.Likes)
	}
}

func TestToggleNonRetryableErrorSurfaces(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})
	boom := errors.New("connection torn down")
	store.insertLikeErrs = []error{boom}

	_, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
	if !errors.Is(err, boom) {
		t.Fatalf("Toggle() error = %v, want the store error", err)
	}
	if store.txCount != 1 {
		t.Errorf("non-retryable error reran the transaction %d times", store.txCount)
	}
}

func TestToggleConcurrentDistinctUsers(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	const users = 32
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := "user-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
			res, err := svc.Toggle(context.Background(), userID, models.EntityPost, "p1")
			if err != nil {
				errs <- err
				return
			}
			if !res.Liked {
				errs <- errors.New("fresh user toggle reported unliked")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if p := store.post("p1"); p.Likes != users {
		t.Errorf("post likes = %d, want %d", p.Likes, users)
	}
	if n := store.postLikeCount("p1"); n != users {
		t.Errorf("like rows = %d, want %d", n, users)
	}
}

func TestToggleConcurrentSameUserPairCancelsOut(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	var wg sync.WaitGroup
	results := make([]ToggleResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1")
			if err != nil {
				t.Errorf("toggle %d failed: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if results[0].Liked == results[1].Liked {
		t.Errorf("both toggles reported liked=%v, want one like and one unlike", results[0].Liked)
	}
	if p := store.post("p1"); p.Likes != 0 {
		t.Errorf("post likes = %d, want 0 after a cancelling pair", p.Likes)
	}
	if n := store.postLikeCount("p1"); n != 0 {
		t.Errorf("like rows = %d, want 0 after a cancelling pair", n)
	}
}

func TestIsLiked(t *testing.T) {
	store, _, svc := newLikeFixture()
	store.addPost(&models.Post{ID: "p1"})

	liked, err := svc.IsLiked(context.Background(), "alice", models.EntityPost, "p1")
	if err != nil || liked {
		t.Fatalf("IsLiked before toggle = (%v, %v), want (false, nil)", liked, err)
	}

	if _, err := svc.Toggle(context.Background(), "alice", models.EntityPost, "p1"); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	liked, err = svc.IsLiked(context.Background(), "alice", models.EntityPost, "p1")
	if err != nil || !liked {
		t.Fatalf("IsLiked after toggle = (%v, %v), want (true, nil)", liked, err)
	}

	if _, err := svc.IsLiked(context.Background(), "", models.EntityPost, "p1"); !errors.Is(err, ErrValidation) {
		t.Errorf("IsLiked with empty user error = %v, want ErrValidation", err)
	}
}
