package backup

import (
	"fmt"
)

const (
	DefaultSafetyBufferMB = 1024
	DefaultWorkingFactor  = 2
)

// PlanEntry is the capacity decision for one account on one volume.
type PlanEntry struct {
	AccountID    string  `json:"account_id" yaml:"account_id"`
	Volume       string  `json:"volume" yaml:"volume"`
	EstimatedMB  float64 `json:"estimated_mb" yaml:"estimated_mb"`
	SizeKnown    bool    `json:"size_known" yaml:"size_known"`
	RequiredMB   float64 `json:"required_mb" yaml:"required_mb"`
	FreeMB       float64 `json:"free_mb" yaml:"free_mb"`
	Authorized   bool    `json:"authorized" yaml:"authorized"`
	ShortfallMB  float64 `json:"shortfall_mb,omitempty" yaml:"shortfall_mb,omitempty"`
	DenialReason string  `json:"denial_reason,omitempty" yaml:"denial_reason,omitempty"`
	VolumeErr    string  `json:"volume_error,omitempty" yaml:"volume_error,omitempty"`
}

// CapacityGuard authorizes backups against free volume space.
type CapacityGuard struct {
	BufferMB      float64
	WorkingFactor float64
	UnknownSizeMB float64
}

// NewCapacityGuard builds a guard from the run configuration.
func NewCapacityGuard(cfg Config) CapacityGuard {
	return CapacityGuard{
		BufferMB:      cfg.SafetyBufferMB,
		WorkingFactor: cfg.WorkingFactor,
		UnknownSizeMB: cfg.UnknownSizeMB,
	}
}

// RequiredSpace is the staging footprint of an account: the working factor
// times its size plus the safety buffer.
func (g CapacityGuard) RequiredSpace(estimatedMB float64) float64 {
	return g.WorkingFactor*estimatedMB + g.BufferMB
}

// DestinationSpace is what the destination must hold before any old archive
// of the account has been rotated away.
func (g CapacityGuard) DestinationSpace(estimatedMB float64) float64 {
	return estimatedMB + g.BufferMB
}

// SizeFor returns the size the guard plans with. Accounts of unknown size
// get the configured default or, failing that, the largest known account.
func (g CapacityGuard) SizeFor(ae AccountEstimate, est SizeEstimate) (float64, bool) {
	if ae.Usage.Known() {
		return ae.Usage.MB, true
	}
	if g.UnknownSizeMB > 0 {
		return g.UnknownSizeMB, false
	}
	return est.Biggest.MB, false
}

// Authorize approves the account iff requiredMB fits in the volume's free space.
func (g CapacityGuard) Authorize(accountID string, requiredMB float64, vol CapacityReport) PlanEntry {
	entry := PlanEntry{
		AccountID:  accountID,
		Volume:     vol.Path,
		RequiredMB: requiredMB,
		FreeMB:     vol.FreeMB,
	}

	if vol.Unbounded || requiredMB <= vol.FreeMB {
		entry.Authorized = true
		return entry
	}

	entry.ShortfallMB = requiredMB - vol.FreeMB
	entry.DenialReason = fmt.Sprintf("%s needs %.0f MB on %s but only %.0f MB is free (short %.0f MB)",
		accountID, requiredMB, vol.Path, vol.FreeMB, entry.ShortfallMB)
	return entry
}

// Unavailable denies the account because its volume could not be queried.
func (g CapacityGuard) Unavailable(accountID, volume string, requiredMB float64, err error) PlanEntry {
	return PlanEntry{
		AccountID:    accountID,
		Volume:       volume,
		RequiredMB:   requiredMB,
		DenialReason: fmt.Sprintf("cannot query %s: %v", volume, err),
		VolumeErr:    err.Error(),
	}
}
