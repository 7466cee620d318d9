package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums

// JobStatus is the job lifecycle status (spec §3, §4.L).
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether status is write-once per spec §3.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// StageName identifies one entry in the orchestrator's stage table (spec §4.L).
type StageName string

const (
	StageValidateInput        StageName = "validate_input"
	StageTranscribe           StageName = "transcribe"
	StagePostProcessSubtitles StageName = "post_process_subtitles"
	StagePlanQueries          StageName = "plan_queries"
	StageAcquireClips         StageName = "acquire_clips"
	StageComposeBody          StageName = "compose_body"
	StageApplyIntroOutro      StageName = "apply_intro_outro"
	StagePersistArtifacts     StageName = "persist_artifacts"
	StageFinalize             StageName = "finalize"
)

// StageOrder is the fixed sequence the orchestrator drives a job through.
var StageOrder = []StageName{
	StageValidateInput,
	StageTranscribe,
	StagePostProcessSubtitles,
	StagePlanQueries,
	StageAcquireClips,
	StageComposeBody,
	StageApplyIntroOutro,
	StagePersistArtifacts,
	StageFinalize,
}

// ProgressBand is the inclusive [Low, High] progress range a stage may occupy.
type ProgressBand struct {
	Low  int
	High int
}

// StageBands maps each stage to its progress band (spec §4.L table).
var StageBands = map[StageName]ProgressBand{
	StageValidateInput:        {0, 5},
	StageTranscribe:           {5, 20},
	StagePostProcessSubtitles: {20, 25},
	StagePlanQueries:          {25, 30},
	StageAcquireClips:         {30, 55},
	StageComposeBody:          {55, 80},
	StageApplyIntroOutro:      {80, 90},
	StagePersistArtifacts:     {90, 98},
	StageFinalize:             {98, 100},
}

// ErrorKind is the stable machine-readable failure taxonomy (spec §7).
type ErrorKind string

const (
	ErrorQuotaExceeded       ErrorKind = "QuotaExceeded"
	ErrorBadInput            ErrorKind = "BadInput"
	ErrorUpstreamTimeout     ErrorKind = "UpstreamTimeout"
	ErrorUpstreamUnavailable ErrorKind = "UpstreamUnavailable"
	ErrorUpstreamRejected    ErrorKind = "UpstreamRejected"
	ErrorContentFiltered     ErrorKind = "ContentFiltered"
	ErrorInternalMedia       ErrorKind = "InternalMediaError"
	ErrorStorage             ErrorKind = "StorageError"
	ErrorCancelled           ErrorKind = "Cancelled"
)

// GenerationMode controls how clip slots are planned (spec §3).
type GenerationMode string

const (
	GenerationModeNatural  GenerationMode = "natural"
	GenerationModeTemplate GenerationMode = "template"
)

// ModerationVerdict is the Vision Moderator's classification (spec §4.H).
type ModerationVerdict string

const (
	ModerationAccept ModerationVerdict = "ACCEPT"
	ModerationReject ModerationVerdict = "REJECT"
)

// JSONB is a custom type for PostgreSQL JSONB columns, scanned to and from a
// string-keyed map. The job's clip override is stored as a JSON array and
// does not use this type.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Job is the unit of work — one end-to-end request to synthesize a video
// from an audio input (spec §3, GLOSSARY).
type Job struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	UserID   uuid.UUID `json:"user_id"`

	AudioBlobURL   string          `json:"audio_blob_url"`
	Title          string          `json:"title"`
	LayoutID       *uuid.UUID      `json:"layout_id,omitempty"`
	GenerationMode *GenerationMode `json:"generation_mode,omitempty"`
	ClipOverride   []string        `json:"clip_override,omitempty"` // explicit external_clip_ids, in order
	BGMBlobURL     *string         `json:"bgm_blob_url,omitempty"`
	BGMGain        float64         `json:"bgm_gain"` // 0.0–0.5

	Status      JobStatus  `json:"status"`
	Stage       StageName  `json:"stage"`
	Progress    int        `json:"progress"` // 0–100, monotonic non-decreasing
	ErrorKind   *ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail *string    `json:"error_detail,omitempty"`
	Attempts    int        `json:"attempts"`
	Cancelled   bool       `json:"cancelled"`

	VideoBlobURL     *string  `json:"video_blob_url,omitempty"`
	SubtitleBlobURL  *string  `json:"subtitle_blob_url,omitempty"`
	ThumbnailBlobURL *string  `json:"thumbnail_blob_url,omitempty"`
	DurationSeconds  *float64 `json:"duration_seconds,omitempty"`

	RegeneratedFromJobID *uuid.UUID `json:"regenerated_from_job_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
}

// SubtitleSegment is one time-coded phrase in a job's burned-in subtitle track
// (spec §3). Invariants: start < end; segments[i].end <= segments[i+1].start;
// text is non-empty.
type SubtitleSegment struct {
	JobID        uuid.UUID `json:"job_id"`
	Index        int       `json:"index"`
	StartSeconds float64   `json:"start_seconds"`
	EndSeconds   float64   `json:"end_seconds"`
	Text         string    `json:"text"`
}

// ReplacementEntry is a per-tenant text-substitution rule applied during
// subtitle post-processing (spec §3, §4.E). Case-sensitive, whole-token match.
type ReplacementEntry struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	OriginalToken    string    `json:"original_token"`
	ReplacementToken string    `json:"replacement_token"`
	UseCount         int       `json:"use_count"`
}

// UsedClip records that an external clip appeared in a successfully completed
// job's output — the basis of the per-tenant recency dedup window (spec §3, §4.G).
type UsedClip struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	JobID          uuid.UUID `json:"job_id"`
	ExternalClipID string    `json:"external_clip_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// BlacklistEntry is a globally forbidden clip id, curated manually to backstop
// the Vision Moderator (spec §3, §4.H).
type BlacklistEntry struct {
	ExternalClipID string    `json:"external_clip_id"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// TextBox is one piece of overlay text on a ThumbnailLayout's background image,
// positioned against a 1920x1080 canvas (spec §3).
type TextBox struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	XPercent   float64 `json:"x_percent"`
	YPercent   float64 `json:"y_percent"`
	FontSizePx int     `json:"font_size_px"`
	FontFamily string  `json:"font_family"`
	Color      string  `json:"color"`
	Visible    bool    `json:"visible"`
}

// IntroOutroSettings controls whether the still-image segment is spliced at
// the head/tail and for how long (spec §3). Duration must be in [2,5] seconds.
type IntroOutroSettings struct {
	Enabled         bool    `json:"enabled"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ThumbnailLayout is a saved background+text-box+intro/outro preset that a
// submission can reference (spec §3).
type ThumbnailLayout struct {
	ID                 uuid.UUID          `json:"id"`
	TenantID           uuid.UUID          `json:"tenant_id"`
	BackgroundImageURL string             `json:"background_image_url"`
	TextBoxes          []TextBox          `json:"text_boxes"`
	Intro              IntroOutroSettings `json:"intro"`
	Outro              IntroOutroSettings `json:"outro"`
}

// NormalizedClip contract constants (spec §3, GLOSSARY "NormalizedClip").
// Two clips meeting this contract may be concatenated by stream-copy.
const (
	NormalizedContainer  = "mp4"
	NormalizedVideoCodec = "h264"
	NormalizedWidth      = 1920
	NormalizedHeight     = 1080
	NormalizedFPS        = 30
	NormalizedPixFmt     = "yuv420p"
)

// ClipProbe is the subset of a media file's inspected properties the Composer
// uses to decide fast-path vs slow-path (spec §4.J "Decision rule").
type ClipProbe struct {
	Path       string
	VideoCodec string
	Width      int
	Height     int
	FPS        float64
	PixFmt     string
	HasAudio   bool
}

// ConformsToContract reports whether the probed clip satisfies the
// NormalizedClip contract exactly.
func (p ClipProbe) ConformsToContract() bool {
	return p.VideoCodec == NormalizedVideoCodec &&
		p.Width == NormalizedWidth &&
		p.Height == NormalizedHeight &&
		p.FPS == NormalizedFPS &&
		p.PixFmt == NormalizedPixFmt &&
		!p.HasAudio
}

// Slot is a contiguous time window in the output video filled by exactly one
// background clip (spec §4.F, GLOSSARY).
type Slot struct {
	Index           int      `json:"index"`
	StartSeconds    float64  `json:"start_seconds"`
	DurationSeconds float64  `json:"duration_seconds"`
	QueryString     string   `json:"query_string"`
	SemanticTags    []string `json:"semantic_tags,omitempty"`
}

// AcquiredClip is the result of resolving one Slot to a local normalized file
// (spec §4.G, §4.I).
type AcquiredClip struct {
	Slot           Slot
	LocalPath      string
	ExternalClipID string // empty for pool clips that have no external identity
	FromPool       bool
}
