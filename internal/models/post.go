package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntityType discriminates the two likeable target kinds.
type EntityType string

const (
	EntityPost    EntityType = "post"
	EntityComment EntityType = "comment"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityPost || t == EntityComment
}

// Post represents a forum post. The Likes and Views counters are
// denormalized; they are mutated exclusively through the engagement
// store so they stay in sync with the underlying rows.
type Post struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	Category  string    `gorm:"type:varchar(32);index" json:"category"`
	Likes     int64     `gorm:"not null;default:0" json:"likes"`
	Views     int64     `gorm:"not null;default:0" json:"views"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}

// BeforeCreate assigns an ID when the caller did not provide one.
func (p *Post) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
