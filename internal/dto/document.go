package dto

import "github.com/noah-isme/archivia-api/internal/models"

// UploadDocumentInput is the file handed to the submission pipeline.
type UploadDocumentInput struct {
	OwnerID     string
	OwnerRole   models.Role
	OwnerEmail  string
	OwnerName   string
	Filename    string
	ContentType string
	Data        []byte
}

// ReasonRequest carries the justification archive and deletion actions
// require.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=2000"`
}

// DecisionRequest carries an optional note attached to approve/reject.
type DecisionRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// DocumentQuery mirrors the public search query string.
type DocumentQuery struct {
	Query    string `form:"q"`
	Keyword  string `form:"keyword"`
	Author   string `form:"author"`
	Journal  string `form:"journal"`
	Year     int    `form:"year" validate:"omitempty,min=1900,max=2100"`
	Sort     string `form:"sort" validate:"omitempty,oneof=newest oldest title views"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"page_size" validate:"omitempty,min=1,max=100"`
}

// Filter converts the query into a repository filter.
func (q DocumentQuery) Filter() models.DocumentFilter {
	return models.DocumentFilter{
		Query:    q.Query,
		Keyword:  q.Keyword,
		Author:   q.Author,
		Journal:  q.Journal,
		Year:     q.Year,
		Sort:     q.Sort,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}
