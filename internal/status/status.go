// Package status turns sync engine bookkeeping into the small indicator
// shown to the user.
//
// Ordinary transient failures never escalate. Only sustained failure sets
// Warn, and local persistence running out of room sets BackupPrompt.
package status

import "time"

// Value is the user-visible sync status.
type Value string

const (
	Loading       Value = "loading"
	Syncing       Value = "syncing"
	PendingUpload Value = "pendingUpload"
	Offline       Value = "offline"
	Synced        Value = "synced"
)

// BackupMessage is shown when local persistence has run out of room.
const BackupMessage = "local storage is full; export a backup"

// DefaultWarnThreshold is how many consecutive failed syncs escalate to a
// visible warning.
const DefaultWarnThreshold = 3

// Snapshot is the engine state the indicator reads.
type Snapshot struct {
	Loaded     bool
	Configured bool
	Syncing    bool
	// Offline is set when the most recent attempt could not reach the
	// remote or had no identity.
	Offline bool

	Pending             int
	ConsecutiveFailures int
	LastError           string
	LastSuccess         time.Time
	QuotaExceeded       bool
}

// Source is implemented by the sync engine.
type Source interface {
	StatusSnapshot() Snapshot
}

// Report is what the user sees.
type Report struct {
	Status       Value     `json:"status"`
	Pending      int       `json:"pending"`
	Warn         bool      `json:"warn"`
	BackupPrompt bool      `json:"backup_prompt"`
	Message      string    `json:"message,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
}

// Indicator maps a Source onto a Report.
type Indicator struct {
	src       Source
	warnAfter int
}

// Option configures an Indicator.
type Option func(*Indicator)

// WithWarnThreshold overrides DefaultWarnThreshold.
func WithWarnThreshold(n int) Option {
	return func(i *Indicator) {
		if n > 0 {
			i.warnAfter = n
		}
	}
}

// NewIndicator creates an indicator over src.
func NewIndicator(src Source, opts ...Option) *Indicator {
	i := &Indicator{src: src, warnAfter: DefaultWarnThreshold}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Report reads the source once and derives the indicator.
func (i *Indicator) Report() Report {
	snap := i.src.StatusSnapshot()
	r := Report{
		Status:       Evaluate(snap),
		Pending:      snap.Pending,
		Warn:         snap.ConsecutiveFailures >= i.warnAfter,
		BackupPrompt: snap.QuotaExceeded,
		LastSuccess:  snap.LastSuccess,
	}
	switch {
	case r.BackupPrompt:
		r.Message = BackupMessage
	case r.Warn:
		r.Message = snap.LastError
	}
	return r
}

// Evaluate picks the status value for snap.
func Evaluate(snap Snapshot) Value {
	switch {
	case !snap.Loaded:
		return Loading
	case snap.Syncing:
		return Syncing
	case !snap.Configured || snap.Offline:
		return Offline
	case snap.Pending > 0:
		return PendingUpload
	default:
		return Synced
	}
}
