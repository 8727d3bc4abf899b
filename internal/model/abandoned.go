package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// AbandonedFeedback is the record kept for an item that exhausted its retries.
// It is never re-delivered.
type AbandonedFeedback struct {
	ID            uint                        `gorm:"primaryKey"`
	CreatedAt     time.Time                   // Automatically set by GORM
	ItemID        string                      `gorm:"index;not null"`
	Action        Action                      `gorm:"not null"`
	SubjectID     int64                       `gorm:"index"`
	SubjectPath   string
	Query         string                      `gorm:"index"`
	Keywords      datatypes.JSONSlice[string]
	RetryCount    int                         // The final retry count (>= maxRetries unless rejected early)
	LastError     string                      `gorm:"type:text"`
	ItemCreatedAt int64                       // createdAt of the original item, ms since epoch
}

// TableName specifies the table name for the AbandonedFeedback model, respecting the Namer.
func (AbandonedFeedback) TableName(namer schema.Namer) string {
	return namer.TableName("abandoned_feedbacks")
}

// NewAbandonedFeedback builds the record for an abandoned item.
func NewAbandonedFeedback(item FeedbackItem) AbandonedFeedback {
	item = item.Clone()
	return AbandonedFeedback{
		ItemID:        item.ID,
		Action:        item.Action,
		SubjectID:     item.SubjectID,
		SubjectPath:   item.SubjectPath,
		Query:         item.Query,
		Keywords:      item.Keywords,
		RetryCount:    item.RetryCount,
		LastError:     item.LastError,
		ItemCreatedAt: item.CreatedAt,
	}
}
