package model

import (
	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Action is the kind of feedback a user gave on a media item.
type Action string

// Closed set of feedback actions.
const (
	ActionConfirm       Action = "confirm"
	ActionRemove        Action = "remove"
	ActionKeywordAdd    Action = "keyword_add"
	ActionKeywordRemove Action = "keyword_remove"
)

// Actions returns every supported action in a stable order.
func Actions() []Action {
	return []Action{ActionConfirm, ActionRemove, ActionKeywordAdd, ActionKeywordRemove}
}

// IsValid reports whether a belongs to the closed action set.
func (a Action) IsValid() bool {
	switch a {
	case ActionConfirm, ActionRemove, ActionKeywordAdd, ActionKeywordRemove:
		return true
	}
	return false
}

// IsSearchFeedback reports whether the action is delivered to the per-query search endpoint.
func (a Action) IsSearchFeedback() bool {
	return a == ActionConfirm || a == ActionRemove
}

// IsKeyword reports whether the action is delivered to the keyword assignment endpoint.
func (a Action) IsKeyword() bool {
	return a == ActionKeywordAdd || a == ActionKeywordRemove
}

// BackendVerb maps search feedback actions to the backend vocabulary.
// It returns false for keyword actions, which use a different endpoint shape.
func (a Action) BackendVerb() (string, bool) {
	switch a {
	case ActionConfirm:
		return "approve", true
	case ActionRemove:
		return "reject", true
	}
	return "", false
}

// FeedbackItem is the unit of durable work: one user action awaiting delivery.
type FeedbackItem struct {
	// ID is generated at creation and never changes. It is the store primary key.
	ID     string `json:"id" gorm:"column:id;primaryKey"`
	Action Action `json:"action" gorm:"column:action;not null"`
	// SubjectID identifies the media item the feedback applies to.
	SubjectID int64 `json:"subjectId" gorm:"column:subject_id"`
	// SubjectPath is the media's logical path, kept for logging only.
	SubjectPath string `json:"subjectPath" gorm:"column:subject_path"`
	// Query is the search query the feedback is attributed to.
	Query string `json:"query" gorm:"column:query"`
	// Keywords is the full keyword list for the subject. Only set for keyword actions.
	Keywords datatypes.JSONSlice[string] `json:"keywords,omitempty" gorm:"column:keywords"`
	// CreatedAt is milliseconds since the Unix epoch.
	CreatedAt  int64  `json:"createdAt" gorm:"column:created_at;autoCreateTime:milli"`
	Synced     bool   `json:"synced" gorm:"column:synced;default:false"`
	RetryCount int    `json:"retryCount" gorm:"column:retry_count;default:0"`
	LastError  string `json:"lastError,omitempty" gorm:"column:last_error"`
	// Seq records insertion order so a reload returns items in queue order.
	Seq int64 `json:"-" gorm:"column:seq;index"`
}

// TableName specifies the table name for GORM.
func (FeedbackItem) TableName(namer schema.Namer) string {
	return namer.TableName("feedback_items")
}

// Clone returns a copy that shares no slice memory with item.
func (item FeedbackItem) Clone() FeedbackItem {
	if item.Keywords != nil {
		kw := make(datatypes.JSONSlice[string], len(item.Keywords))
		copy(kw, item.Keywords)
		item.Keywords = kw
	}
	return item
}

// HasLastError matches items abandoned in a previous session.
func HasLastError(item FeedbackItem) bool {
	return item.LastError != ""
}

// AddRequest carries the fields a caller supplies when queueing feedback.
type AddRequest struct {
	Action      Action   `json:"action" validate:"required,oneof=confirm remove keyword_add keyword_remove"`
	SubjectID   int64    `json:"subjectId" validate:"gte=0"`
	SubjectPath string   `json:"subjectPath"`
	Query       string   `json:"query"`
	Keywords    []string `json:"keywords" validate:"omitempty,dive,required"`
}
