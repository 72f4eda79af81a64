package backup

import (
	"fmt"
	"sort"
)

// Rotation is the keep/delete decision for one account's archives.
type Rotation struct {
	AccountID string    `json:"account_id" yaml:"account_id"`
	Keep      []Archive `json:"keep" yaml:"keep"`
	Delete    []Archive `json:"delete,omitempty" yaml:"delete,omitempty"`
}

// Keeps reports whether the named archive survives the rotation.
func (r Rotation) Keeps(name string) bool {
	for _, a := range r.Keep {
		if a.Name == name {
			return true
		}
	}
	return false
}

// Rotate keeps the retention newest archives and plans the rest for deletion.
// Archives are ordered newest first; equal timestamps fall back to ascending
// name. Archives listed twice under one name are counted once.
func Rotate(accountID string, existing []Archive, retention int) (Rotation, error) {
	if retention <= 0 {
		return Rotation{}, fmt.Errorf("%w: %d for account %s, must be at least 1", ErrInvalidRetention, retention, accountID)
	}

	seen := make(map[string]struct{}, len(existing))
	sorted := make([]Archive, 0, len(existing))
	for _, a := range existing {
		if _, dup := seen[a.Name]; dup {
			continue
		}
		seen[a.Name] = struct{}{}
		sorted = append(sorted, a)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].Name < sorted[j].Name
	})

	rot := Rotation{AccountID: accountID}
	if len(sorted) <= retention {
		rot.Keep = sorted
		return rot, nil
	}
	rot.Keep = sorted[:retention]
	rot.Delete = sorted[retention:]
	return rot, nil
}
