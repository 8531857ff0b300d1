package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/boxingbuddies/engagement/internal/engagement"
	"github.com/boxingbuddies/engagement/internal/models"
)

// togglePostLike handles POST /api/posts/:id/like
func (r *Router) togglePostLike(c *gin.Context) {
	r.toggleLike(c, models.EntityPost)
}

// toggleCommentLike handles POST /api/comments/:id/like
func (r *Router) toggleCommentLike(c *gin.Context) {
	r.toggleLike(c, models.EntityComment)
}

func (r *Router) toggleLike(c *gin.Context, kind models.EntityType) {
	res, err := r.likes.Toggle(c.Request.Context(), currentUserID(c), kind, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"liked": res.Liked,
		"likes": res.Likes,
	})
}

// getPostLike handles GET /api/posts/:id/like
func (r *Router) getPostLike(c *gin.Context) {
	r.getLike(c, models.EntityPost)
}

// getCommentLike handles GET /api/comments/:id/like
func (r *Router) getCommentLike(c *gin.Context) {
	r.getLike(c, models.EntityComment)
}

// getLike reports whether the current user has liked the target.
// Anonymous callers always read liked=false.
func (r *Router) getLike(c *gin.Context, kind models.EntityType) {
	userID := currentUserID(c)
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"liked": false})
		return
	}
	liked, err := r.likes.IsLiked(c.Request.Context(), userID, kind, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

// createCommentRequest is the body of POST /api/comments.
type createCommentRequest struct {
	PostID   string  `json:"post_id" binding:"required"`
	ParentID *string `json:"parent_id"`
	Content  string  `json:"content" binding:"required"`
}

// createComment handles POST /api/comments
func (r *Router) createComment(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	comment := &models.Comment{
		PostID:   req.PostID,
		ParentID: req.ParentID,
		UserID:   currentUserID(c),
		Content:  req.Content,
	}
	if err := r.counters.CreateComment(c.Request.Context(), comment); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// deleteComment handles DELETE /api/comments/:id
func (r *Router) deleteComment(c *gin.Context) {
	if err := r.counters.DeleteCommentSubtree(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// recordView handles POST /api/posts/:id/view
func (r *Router) recordView(c *gin.Context) {
	if err := r.counters.RecordView(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getHot handles GET /api/posts/hot?limit=&window=
func (r *Router) getHot(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	window, _ := strconv.Atoi(c.DefaultQuery("window", "0"))

	ids, err := r.rank.GetHot(c.Request.Context(), limit, window)
	if err != nil {
		if errors.Is(err, engagement.ErrTransientStore) {
			// Degrade to an empty list rather than blocking the page;
			// the stale-grace window has already been exhausted.
			r.logger.Warn("hot ranking degraded", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"posts": []string{}, "degraded": true})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": ids})
}

// revalidate handles POST /api/revalidate?secret=&tag= — the operator
// purge endpoint for any tag the cache holds.
func (r *Router) revalidate(c *gin.Context) {
	if r.cfg.RevalidateSecret == "" || c.Query("secret") != r.cfg.RevalidateSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
		return
	}
	tag := c.Query("tag")
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'tag' parameter is required"})
		return
	}
	if err := r.bus.Invalidate(c.Request.Context(), tag); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"revalidated": true,
		"tag":         tag,
		"now":         time.Now().UnixMilli(),
	})
}
