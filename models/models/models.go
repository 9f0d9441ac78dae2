package models

import "encoding/json"

type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

// JobView is the poll-friendly read model for a job. PartialReady flips once
// the completion percent crosses the early-unlock threshold, telling viewers
// they may start rendering pages and playing sentences before extraction
// finishes.
type JobView struct {
	Id           string `json:"id"`
	FileId       string `json:"file_id"`
	Kind         string `json:"kind"`
	Status       string `json:"status"`
	Completion   int    `json:"completion"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	ResultRef    string `json:"result_ref,omitempty"`
	PartialReady bool   `json:"partial_ready"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// UsageView mirrors the usage period row the quota ledger accounts against.
type UsageView struct {
	PeriodKind  string `json:"period_kind"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end,omitempty"`
	UnitsUsed   int64  `json:"units_used"`
	UnitLimit   int64  `json:"unit_limit"`
	Unlimited   bool   `json:"unlimited"`
}

// SentenceResult is one sentence as the extraction worker emits it. Seq is
// the worker-supplied global reading-order index; Bbox is a list of line
// polygons, each polygon a list of [x,y] points.
type SentenceResult struct {
	Seq  int64          `json:"sequence_number"`
	Text string         `json:"text"`
	Bbox [][][2]float64 `json:"bbox"`
}

// PageResult is the per-page callback payload from the extraction worker.
type PageResult struct {
	JobId      string           `json:"job_id"`
	PageNumber int              `json:"page_number"`
	Width      float64          `json:"width"`
	Height     float64          `json:"height"`
	Markdown   string           `json:"markdown"`
	Sentences  []SentenceResult `json:"sentences"`
	Percent    int              `json:"percent"`
}

// ProgressResult is the bare percent callback.
type ProgressResult struct {
	JobId   string `json:"job_id"`
	Percent int    `json:"percent"`
}

// CompletedResult closes out a job. For extractions the worker sends the
// cleaned full-document text plus raw markdown; for conversions ResultRef is
// the storage path of the rendered audio artifact.
type CompletedResult struct {
	JobId       string `json:"job_id"`
	Text        string `json:"text,omitempty"`
	RawMarkdown string `json:"raw_markdown,omitempty"`
	ResultRef   string `json:"result_ref,omitempty"`
}

type FailedResult struct {
	JobId       string `json:"job_id"`
	ErrorDetail string `json:"error_detail"`
}

// BillingEvent is the billing provider's webhook envelope. Id is globally
// unique per delivery attempt chain and drives idempotent intake.
type BillingEvent struct {
	Id   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PeriodRenewedData carries the provider's authoritative billing window.
type PeriodRenewedData struct {
	UserId      string `json:"user_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type TierChangedData struct {
	UserId string `json:"user_id"`
	Tier   string `json:"tier"`
}

// PositionRequest is the debounced playback-position write.
type PositionRequest struct {
	SentenceIndex int64 `json:"sentence_index"`
}
