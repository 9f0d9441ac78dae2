package tables

import "time"

// Period kinds for tier quota resets.
const (
	PeriodWeekly   = "weekly"
	PeriodMonthly  = "monthly"
	PeriodLifetime = "lifetime"
)

// Job kinds and statuses.
const (
	JobKindParse   = "parse"
	JobKindConvert = "convert"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type User struct {
	Id                 string     `xorm:"pk varchar(36) 'id'" json:"id"`
	Email              string     `xorm:"varchar(255)" json:"email"`
	Tier               string     `xorm:"varchar(32) notnull default 'free'" json:"tier"`
	Unlimited          bool       `xorm:"notnull default 0" json:"unlimited"`
	BillingPeriodStart *time.Time `xorm:"datetime null" json:"billing_period_start"`
	BillingPeriodEnd   *time.Time `xorm:"datetime null" json:"billing_period_end"`
	CreatedAt          time.Time  `xorm:"created" json:"created_at"`
}

func (User) TableName() string { return "users" }

// TierConfig is the quota plan definition. Exactly one row per tier name.
type TierConfig struct {
	Id         int64  `xorm:"pk autoincr 'id'" json:"id"`
	Name       string `xorm:"varchar(32) notnull unique" json:"name"`
	UnitLimit  int64  `xorm:"notnull" json:"unit_limit"`
	PeriodKind string `xorm:"varchar(16) notnull" json:"period_kind"`
}

func (TierConfig) TableName() string { return "tier_configs" }

// UsagePeriod is one user's consumption ledger row for one reset window.
// UnitLimit is a snapshot of the tier config, refreshed on access so config
// changes apply to future checks without rewriting history.
type UsagePeriod struct {
	Id          int64      `xorm:"pk autoincr 'id'" json:"id"`
	UserId      string     `xorm:"varchar(36) notnull unique(user_period)" json:"user_id"`
	PeriodKind  string     `xorm:"varchar(16) notnull unique(user_period)" json:"period_kind"`
	PeriodStart time.Time  `xorm:"datetime notnull unique(user_period)" json:"period_start"`
	PeriodEnd   *time.Time `xorm:"datetime null" json:"period_end"`
	UnitsUsed   int64      `xorm:"notnull default 0" json:"units_used"`
	UnitLimit   int64      `xorm:"notnull" json:"unit_limit"`
}

func (UsagePeriod) TableName() string { return "usage_periods" }

// File is an uploaded document. ParsedText/RawMarkdown are filled in when an
// extraction job completes.
type File struct {
	Id          string     `xorm:"pk varchar(36) 'id'" json:"id"`
	UserId      string     `xorm:"varchar(36) notnull index" json:"user_id"`
	FileName    string     `xorm:"varchar(255)" json:"file_name"`
	FilePath    string     `xorm:"varchar(512)" json:"file_path"`
	ParsedText  string     `xorm:"longtext" json:"-"`
	RawMarkdown string     `xorm:"longtext" json:"-"`
	ParsedAt    *time.Time `xorm:"datetime null" json:"parsed_at"`
	CreatedAt   time.Time  `xorm:"created" json:"created_at"`
}

func (File) TableName() string { return "files" }

// Job tracks one extraction or conversion through the pipeline. Terminal
// states are final; a retry is a new row pointing back via AttemptOf.
type Job struct {
	Id          string    `xorm:"pk varchar(36) 'id'" json:"id"`
	FileId      string    `xorm:"varchar(36) notnull index" json:"file_id"`
	Kind        string    `xorm:"varchar(16) notnull" json:"kind"`
	Status      string    `xorm:"varchar(16) notnull default 'pending'" json:"status"`
	Completion  int       `xorm:"notnull default 0" json:"completion"`
	ErrorDetail string    `xorm:"varchar(1024)" json:"error_detail,omitempty"`
	ResultRef   string    `xorm:"varchar(512)" json:"result_ref,omitempty"`
	AttemptOf   string    `xorm:"varchar(36)" json:"attempt_of,omitempty"`
	CreatedAt   time.Time `xorm:"created" json:"created_at"`
	UpdatedAt   time.Time `xorm:"updated" json:"updated_at"`
}

func (Job) TableName() string { return "jobs" }

// Page rows are appended as extraction produces them and never mutated.
type Page struct {
	Id           int64   `xorm:"pk autoincr 'id'" json:"id"`
	FileId       string  `xorm:"varchar(36) notnull unique(file_page)" json:"file_id"`
	PageNumber   int     `xorm:"notnull unique(file_page)" json:"page_number"`
	Width        float64 `xorm:"notnull" json:"width"`
	Height       float64 `xorm:"notnull" json:"height"`
	MarkdownText string  `xorm:"longtext" json:"markdown_text"`
}

func (Page) TableName() string { return "pages" }

// Sentence ordering by Seq is the document reading order; the playback engine
// relies on it for seek and highlight sync. Bbox holds the JSON-encoded list
// of line polygons covering the sentence.
type Sentence struct {
	Id     int64  `xorm:"pk autoincr 'id'" json:"id"`
	PageId int64  `xorm:"notnull index" json:"page_id"`
	FileId string `xorm:"varchar(36) notnull unique(file_seq)" json:"file_id"`
	Seq    int64  `xorm:"notnull unique(file_seq)" json:"sequence_number"`
	Text   string `xorm:"text notnull" json:"text"`
	Bbox   string `xorm:"mediumtext" json:"bbox"`
}

func (Sentence) TableName() string { return "sentences" }

// PlaybackPosition is advisory resume state, one row per file, overwritten
// on a debounce.
type PlaybackPosition struct {
	FileId        string    `xorm:"pk varchar(36) 'file_id'" json:"file_id"`
	SentenceIndex int64     `xorm:"notnull default 0" json:"sentence_index"`
	UpdatedAt     time.Time `xorm:"updated" json:"updated_at"`
}

func (PlaybackPosition) TableName() string { return "playback_positions" }

// BillingEvent records every billing-provider webhook delivery. The unique
// EventId is the idempotency key: a redelivered event never applies twice.
type BillingEvent struct {
	Id          int64     `xorm:"pk autoincr 'id'" json:"id"`
	EventId     string    `xorm:"varchar(64) notnull unique" json:"event_id"`
	Type        string    `xorm:"varchar(64) notnull" json:"type"`
	Payload     string    `xorm:"mediumtext" json:"payload"`
	Status      string    `xorm:"varchar(16) notnull default 'processed'" json:"status"`
	ErrorDetail string    `xorm:"varchar(1024)" json:"error_detail,omitempty"`
	CreatedAt   time.Time `xorm:"created" json:"created_at"`
}

func (BillingEvent) TableName() string { return "billing_events" }
