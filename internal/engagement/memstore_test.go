package engagement

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/boxingbuddies/engagement/internal/models"
)

// memState is the full mutable state of the in-memory store. A
// transaction clones it up front and the clone is thrown away on
// rollback, mirroring real transaction semantics.
type memState struct {
	posts        map[string]*models.Post
	comments     map[string]*models.Comment
	postLikes    map[string]struct{} // userID|postID
	commentLikes map[string]struct{} // userID|commentID
}

func newMemState() *memState {
	return &memState{
		posts:        make(map[string]*models.Post),
		comments:     make(map[string]*models.Comment),
		postLikes:    make(map[string]struct{}),
		commentLikes: make(map[string]struct{}),
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.posts {
		p := *v
		c.posts[k] = &p
	}
	for k, v := range st.comments {
		cm := *v
		c.comments[k] = &cm
	}
	for k := range st.postLikes {
		c.postLikes[k] = struct{}{}
	}
	for k := range st.commentLikes {
		c.commentLikes[k] = struct{}{}
	}
	return c
}

func likeKey(userID, id string) string {
	return userID + "|" + id
}

// memStore is an in-memory Store. Transactions serialize on the mutex
// and roll back by restoring a snapshot; the like maps enforce the
// same at-most-one-row rule the database uniqueness constraint does.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// txCount counts started transactions.
	txCount int
	// insertLikeErrs is a queue of errors forced onto InsertLike
	// calls, used to simulate lost races and store failures.
	insertLikeErrs []error
	// onTx, when set, runs at the start of each transaction with the
	// live state and the 1-based transaction number. It lets a test
	// commit a competing write "between" two attempts.
	onTx func(st *memState, n int)
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) addPost(p *models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.state.posts[p.ID] = &cp
}

func (m *memStore) addComment(c *models.Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.state.comments[c.ID] = &cp
}

func (m *memStore) post(id string) models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state.posts[id]
}

func (m *memStore) comment(id string) (models.Comment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.comments[id]
	if !ok {
		return models.Comment{}, false
	}
	return *c, true
}

func (m *memStore) commentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.comments)
}

func (m *memStore) postLikeCount(postID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.state.postLikes {
		if k[len(k)-len(postID):] == postID {
			n++
		}
	}
	return n
}

// Transaction implements Store.
func (m *memStore) Transaction(_ context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.txCount++
	if m.onTx != nil {
		m.onTx(m.state, m.txCount)
	}
	snap := m.state.clone()
	if err := fn(&memTx{store: m}); err != nil {
		m.state = snap
		return err
	}
	return nil
}

func (m *memStore) TargetExists(ctx context.Context, kind models.EntityType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).TargetExists(ctx, kind, id)
}

func (m *memStore) HasLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).HasLike(ctx, userID, kind, id)
}

func (m *memStore) InsertLike(ctx context.Context, userID string, kind models.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).InsertLike(ctx, userID, kind, id)
}

func (m *memStore) DeleteLike(ctx context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).DeleteLike(ctx, userID, kind, id)
}

func (m *memStore) AdjustLikes(ctx context.Context, kind models.EntityType, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).AdjustLikes(ctx, kind, id, delta)
}

func (m *memStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).GetComment(ctx, id)
}

func (m *memStore) InsertComment(ctx context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).InsertComment(ctx, c)
}

func (m *memStore) DeleteCommentAndChildren(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).DeleteCommentAndChildren(ctx, id)
}

func (m *memStore) AdjustReplies(ctx context.Context, parentID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).AdjustReplies(ctx, parentID, delta)
}

func (m *memStore) IncrementViews(ctx context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{store: m}).IncrementViews(ctx, postID)
}

// memTx runs against the store's current state without locking; the
// enclosing Transaction (or top-level method) holds the mutex.
type memTx struct {
	store *memStore
}

func (t *memTx) Transaction(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memTx) TargetExists(_ context.Context, kind models.EntityType, id string) (bool, error) {
	st := t.store.state
	switch kind {
	case models.EntityPost:
		_, ok := st.posts[id]
		return ok, nil
	case models.EntityComment:
		_, ok := st.comments[id]
		return ok, nil
	}
	return false, fmt.Errorf("%w: unknown entity type %q", ErrValidation, kind)
}

func (t *memTx) likes(kind models.EntityType) map[string]struct{} {
	if kind == models.EntityPost {
		return t.store.state.postLikes
	}
	return t.store.state.commentLikes
}

func (t *memTx) HasLike(_ context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	_, ok := t.likes(kind)[likeKey(userID, id)]
	return ok, nil
}

func (t *memTx) InsertLike(_ context.Context, userID string, kind models.EntityType, id string) error {
	if len(t.store.insertLikeErrs) > 0 {
		err := t.store.insertLikeErrs[0]
		t.store.insertLikeErrs = t.store.insertLikeErrs[1:]
		return err
	}
	k := likeKey(userID, id)
	if _, ok := t.likes(kind)[k]; ok {
		return ErrDuplicateLike
	}
	t.likes(kind)[k] = struct{}{}
	return nil
}

func (t *memTx) DeleteLike(_ context.Context, userID string, kind models.EntityType, id string) (bool, error) {
	k := likeKey(userID, id)
	if _, ok := t.likes(kind)[k]; !ok {
		return false, nil
	}
	delete(t.likes(kind), k)
	return true, nil
}

func (t *memTx) AdjustLikes(_ context.Context, kind models.EntityType, id string, delta int64) (int64, error) {
	st := t.store.state
	switch kind {
	case models.EntityPost:
		p, ok := st.posts[id]
		if !ok {
			return 0, fmt.Errorf("%w: post %s", ErrNotFound, id)
		}
		p.Likes += delta
		return p.Likes, nil
	case models.EntityComment:
		c, ok := st.comments[id]
		if !ok {
			return 0, fmt.Errorf("%w: comment %s", ErrNotFound, id)
		}
		c.Likes += delta
		return c.Likes, nil
	}
	return 0, fmt.Errorf("%w: unknown entity type %q", ErrValidation, kind)
}

func (t *memTx) GetComment(_ context.Context, id string) (*models.Comment, error) {
	c, ok := t.store.state.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) InsertComment(_ context.Context, c *models.Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	t.store.state.comments[c.ID] = &cp
	return nil
}

func (t *memTx) DeleteCommentAndChildren(_ context.Context, id string) (int64, error) {
	st := t.store.state
	var removed int64
	for cid, c := range st.comments {
		if cid == id || (c.ParentID != nil && *c.ParentID == id) {
			delete(st.comments, cid)
			for k := range st.commentLikes {
				if k[len(k)-len(cid):] == cid {
					delete(st.commentLikes, k)
				}
			}
			removed++
		}
	}
	return removed, nil
}

func (t *memTx) AdjustReplies(_ context.Context, parentID string, delta int64) error {
	c, ok := t.store.state.comments[parentID]
	if !ok {
		return fmt.Errorf("%w: parent comment %s", ErrNotFound, parentID)
	}
	c.Replies += delta
	return nil
}

func (t *memTx) IncrementViews(_ context.Context, postID string) error {
	p, ok := t.store.state.posts[postID]
	if !ok {
		return fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}
	p.Views++
	return nil
}

// recordingInvalidator captures invalidated tags for assertions.
type recordingInvalidator struct {
	mu   sync.Mutex
	tags []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return nil
}

func (r *recordingInvalidator) seen(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tags)
}
