package ingest

import (
	"time"

	"github.com/JonMunkholm/csvrefinery/internal/core"
)

// Stage is the last state an invocation reached.
type Stage string

const (
	StageStart                Stage = "start"
	StageDownloaded           Stage = "downloaded"
	StageValidated            Stage = "validated"
	StageConverted            Stage = "converted"
	StagePublished            Stage = "published"
	StageLogUpdated           Stage = "log_updated"
	StageQuarantining         Stage = "quarantining"
	StageQuarantineLogUpdated Stage = "quarantine_log_updated"
)

// Status is the final disposition of a raw file.
type Status string

const (
	StatusRefined     Status = "refined"     // Parquet published and logged
	StatusQuarantined Status = "quarantined" // Raw file copied to quarantine and logged
	StatusFailed      Status = "failed"      // Neither; the raw file was not moved
)

// Outcome describes one invocation.
type Outcome struct {
	InvocationID string        `json:"invocation_id"`
	Bucket       string        `json:"bucket"`
	RawKey       string        `json:"raw_key"`
	DestKey      string        `json:"dest_key,omitempty"`
	Status       Status        `json:"status"`
	Stage        Stage         `json:"stage"`
	Rows         int           `json:"rows"`
	Bytes        int64         `json:"bytes,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Err          error         `json:"-"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
}

// setErr records err and its classification.
func (o *Outcome) setErr(err error) {
	o.Err = err
	o.ErrorKind = core.KindOf(err).String()
	o.ErrorCode = core.Describe(err).Code
}
