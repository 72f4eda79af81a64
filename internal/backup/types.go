package backup

import (
	"time"
)

// Account is one hosting account as reported by the inventory.
type Account struct {
	ID        string `json:"id" yaml:"id"`
	UsedRaw   string `json:"used_raw,omitempty" yaml:"used_raw,omitempty"`
	HasUsage  bool   `json:"has_usage" yaml:"has_usage"`
	Suspended bool   `json:"suspended" yaml:"suspended"`
}

// CapacityReport is a point-in-time snapshot of one volume.
type CapacityReport struct {
	Path       string    `json:"path" yaml:"path"`
	TotalMB    float64   `json:"total_mb" yaml:"total_mb"`
	UsedMB     float64   `json:"used_mb" yaml:"used_mb"`
	FreeMB     float64   `json:"free_mb" yaml:"free_mb"`
	Unbounded  bool      `json:"unbounded,omitempty" yaml:"unbounded,omitempty"`
	CapturedAt time.Time `json:"captured_at" yaml:"captured_at"`
}

// Archive is a backup archive stored at the destination.
type Archive struct {
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	SizeBytes int64     `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
}

// ArchiveFile is a freshly created archive in the staging directory.
type ArchiveFile struct {
	Path      string
	Name      string
	SizeBytes int64
	CreatedAt time.Time
}

// RemoteRef identifies a transferred archive at the destination.
type RemoteRef struct {
	AccountID string    `json:"account_id" yaml:"account_id"`
	Name      string    `json:"name" yaml:"name"`
	Location  string    `json:"location" yaml:"location"`
	SizeBytes int64     `json:"size_bytes" yaml:"size_bytes"`
	Checksum  string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// State is a step of the per-account backup state machine.
type State string

const (
	StatePlanned         State = "planned"
	StateEstimating      State = "estimating"
	StateCapacityChecked State = "capacity-checked"
	StateArchiving       State = "archiving"
	StateTransferring    State = "transferring"
	StateVerifying       State = "verifying"
	StateRotating        State = "rotating"
	StateCleaning        State = "cleaning"
	StateDone            State = "done"
)

// Outcome is the terminal result of one account's backup.
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeFailedCapacity     Outcome = "failed-capacity"
	OutcomeFailedArchive      Outcome = "failed-archive"
	OutcomeFailedTransfer     Outcome = "failed-transfer"
	OutcomeFailedVerification Outcome = "failed-verification"
	OutcomeFailedRetention    Outcome = "failed-retention"
	OutcomeAborted            Outcome = "aborted"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeSucceeded,
	OutcomeFailedCapacity,
	OutcomeFailedArchive,
	OutcomeFailedTransfer,
	OutcomeFailedVerification,
	OutcomeFailedRetention,
	OutcomeAborted,
}

// Failed reports whether the outcome is anything but success.
func (o Outcome) Failed() bool {
	return o != OutcomeSucceeded
}
