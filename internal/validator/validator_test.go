package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ilovespectra/solo-silo-sub000/internal/apperrors"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
)

func TestValidate_AddRequest(t *testing.T) {
	tests := []struct {
		name        string
		req         model.AddRequest
		wantErr     bool
		errContains string
	}{
		{
			name: "valid confirm",
			req:  model.AddRequest{Action: model.ActionConfirm, SubjectID: 42, SubjectPath: "/a.jpg", Query: "sunset"},
		},
		{
			name: "valid keyword add",
			req:  model.AddRequest{Action: model.ActionKeywordAdd, SubjectID: 3, Keywords: []string{"beach"}},
		},
		{
			name: "keyword remove with empty list",
			req:  model.AddRequest{Action: model.ActionKeywordRemove, SubjectID: 3, Keywords: []string{}},
		},
		{
			name: "subject zero is allowed",
			req:  model.AddRequest{Action: model.ActionRemove, SubjectID: 0, Query: "dog"},
		},
		{
			name:        "unknown action",
			req:         model.AddRequest{Action: "like", SubjectID: 1, Query: "cat"},
			wantErr:     true,
			errContains: "field 'action' failed validation: must be one of",
		},
		{
			name:        "missing action",
			req:         model.AddRequest{SubjectID: 1},
			wantErr:     true,
			errContains: "field 'action' failed validation: is required",
		},
		{
			name:        "negative subject",
			req:         model.AddRequest{Action: model.ActionConfirm, SubjectID: -1, Query: "cat"},
			wantErr:     true,
			errContains: "field 'subjectId' failed validation: must be greater than or equal to 0",
		},
		{
			name:        "confirm without query",
			req:         model.AddRequest{Action: model.ActionConfirm, SubjectID: 1, Query: "  "},
			wantErr:     true,
			errContains: "field 'query' failed validation: is required for action confirm",
		},
		{
			name:        "keyword add without keywords",
			req:         model.AddRequest{Action: model.ActionKeywordAdd, SubjectID: 1},
			wantErr:     true,
			errContains: "field 'keywords' failed validation: is required for action keyword_add",
		},
		{
			name:        "empty keyword string",
			req:         model.AddRequest{Action: model.ActionKeywordAdd, SubjectID: 1, Keywords: []string{"ok", ""}},
			wantErr:     true,
			errContains: "field 'keywords[1]' failed validation: is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}
