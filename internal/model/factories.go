package model

import (
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewFeedbackItem creates a FeedbackItem with fake data.
func NewFeedbackItem(overrideDefaults ...*FeedbackItem) *FeedbackItem {
	action := Actions()[gofakeit.Number(0, len(Actions())-1)]
	base := &FeedbackItem{
		ID:          strconv.FormatInt(utils.NowMillis(), 10) + "-" + gofakeit.LetterN(9),
		Action:      action,
		SubjectID:   int64(gofakeit.Number(1, 100000)),
		SubjectPath: "/" + gofakeit.Word() + "/" + gofakeit.Word() + ".jpg",
		Query:       gofakeit.Word(),
		CreatedAt:   utils.NowMillis(),
	}
	if action.IsKeyword() {
		base.Keywords = []string{gofakeit.Word(), gofakeit.Word()}
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Action != "" {
			base.Action = ovr.Action
			if !ovr.Action.IsKeyword() {
				base.Keywords = nil
			} else if base.Keywords == nil {
				base.Keywords = []string{gofakeit.Word()}
			}
		}
		if ovr.SubjectID != 0 {
			base.SubjectID = ovr.SubjectID
		}
		if ovr.SubjectPath != "" {
			base.SubjectPath = ovr.SubjectPath
		}
		if ovr.Query != "" {
			base.Query = ovr.Query
		}
		if ovr.Keywords != nil {
			base.Keywords = ovr.Keywords
		}
		if ovr.CreatedAt != 0 {
			base.CreatedAt = ovr.CreatedAt
		}
		base.Synced = ovr.Synced
		base.RetryCount = ovr.RetryCount
		base.LastError = ovr.LastError
		base.Seq = ovr.Seq
	}
	return base
}

// NewAddRequest creates a valid AddRequest for the given action with fake data.
func NewAddRequest(action Action) AddRequest {
	req := AddRequest{
		Action:      action,
		SubjectID:   int64(gofakeit.Number(1, 100000)),
		SubjectPath: "/" + gofakeit.Word() + "/" + gofakeit.Word() + ".jpg",
		Query:       gofakeit.Word(),
	}
	if action.IsKeyword() {
		req.Keywords = []string{gofakeit.Word(), gofakeit.Word()}
	}
	return req
}
