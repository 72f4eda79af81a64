package backup

import (
	"fmt"
)

// AccountSize pairs an account with a size in megabytes.
type AccountSize struct {
	AccountID string  `json:"account_id" yaml:"account_id"`
	MB        float64 `json:"mb" yaml:"mb"`
}

// AccountEstimate is the projected footprint of one account.
type AccountEstimate struct {
	Account Account `json:"account" yaml:"account"`
	Usage   Usage   `json:"usage" yaml:"usage"`
}

// SizeEstimate aggregates the projected footprint of a selection.
// Accounts of unknown size are listed but excluded from TotalMB and Biggest.
type SizeEstimate struct {
	TotalMB  float64           `json:"total_mb" yaml:"total_mb"`
	Biggest  AccountSize       `json:"biggest" yaml:"biggest"`
	Accounts []AccountEstimate `json:"accounts" yaml:"accounts"`
	Warnings []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Estimate converts each account's reported usage and aggregates the result.
// The first account to reach the maximum keeps it on ties.
func Estimate(accounts []Account) SizeEstimate {
	est := SizeEstimate{Accounts: make([]AccountEstimate, 0, len(accounts))}
	haveBiggest := false

	for _, a := range accounts {
		var usage Usage
		if !a.HasUsage {
			usage = Usage{Provenance: ProvenanceMissing, Warning: "no usage reported"}
		} else {
			usage = ParseUsage(a.UsedRaw)
		}
		est.Accounts = append(est.Accounts, AccountEstimate{Account: a, Usage: usage})

		if !usage.Known() {
			est.Warnings = append(est.Warnings, fmt.Sprintf("%s: %s, size unknown", a.ID, usage.Warning))
			continue
		}

		est.TotalMB += usage.MB
		if !haveBiggest || usage.MB > est.Biggest.MB {
			est.Biggest = AccountSize{AccountID: a.ID, MB: usage.MB}
			haveBiggest = true
		}
	}

	return est
}

// Unknown returns the accounts whose size could not be determined.
func (e SizeEstimate) Unknown() []string {
	var ids []string
	for _, ae := range e.Accounts {
		if !ae.Usage.Known() {
			ids = append(ids, ae.Account.ID)
		}
	}
	return ids
}

// Lookup finds the estimate for one account.
func (e SizeEstimate) Lookup(accountID string) (AccountEstimate, bool) {
	for _, ae := range e.Accounts {
		if ae.Account.ID == accountID {
			return ae, true
		}
	}
	return AccountEstimate{}, false
}
