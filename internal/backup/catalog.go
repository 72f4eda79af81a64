package backup

import (
	"fmt"
)

// AllAccounts selects every discovered account when it leads the requested list.
const AllAccounts = "all"

// Selection is the result of applying include and exclude lists.
type Selection struct {
	Accounts  []Account `json:"accounts" yaml:"accounts"`
	Requested []string  `json:"requested" yaml:"requested"`
	Unmatched []string  `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	Excluded  []string  `json:"excluded,omitempty" yaml:"excluded,omitempty"`
	Warnings  []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// IDs returns the selected account identifiers in discovery order.
func (s Selection) IDs() []string {
	ids := make([]string, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		ids = append(ids, a.ID)
	}
	return ids
}

// ValidateCatalog checks a discovered account list before any selection.
func ValidateCatalog(accounts []Account) error {
	seen := make(map[string]struct{}, len(accounts))
	for i, a := range accounts {
		if a.ID == "" {
			return fmt.Errorf("%w: account at position %d has no identifier", ErrInvalidCatalog, i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: account %q listed twice", ErrInvalidCatalog, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// Select filters all to the requested accounts. A requested list led by
// "all" keeps everything except excluded. Any other list keeps exact,
// case-sensitive matches and ignores excluded.
func Select(all []Account, requested, excluded []string) Selection {
	sel := Selection{Requested: append([]string(nil), requested...)}

	if len(requested) > 0 && requested[0] == AllAccounts {
		skip := toSet(excluded)
		for _, a := range all {
			if _, ok := skip[a.ID]; ok {
				sel.Excluded = append(sel.Excluded, a.ID)
				continue
			}
			sel.Accounts = append(sel.Accounts, a)
		}
		return sel
	}

	if len(excluded) > 0 {
		sel.Warnings = append(sel.Warnings, "exclude list ignored: accounts were named explicitly")
	}

	want := toSet(requested)
	found := make(map[string]struct{}, len(want))
	for _, a := range all {
		if _, ok := want[a.ID]; ok {
			sel.Accounts = append(sel.Accounts, a)
			found[a.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := found[name]; !ok {
			sel.Unmatched = append(sel.Unmatched, name)
			sel.Warnings = append(sel.Warnings, fmt.Sprintf("requested account %q not found", name))
		}
	}

	return sel
}

// DropSuspended removes suspended accounts from a selection.
func DropSuspended(sel Selection) Selection {
	kept := make([]Account, 0, len(sel.Accounts))
	for _, a := range sel.Accounts {
		if a.Suspended {
			sel.Warnings = append(sel.Warnings, fmt.Sprintf("skipping suspended account %q", a.ID))
			continue
		}
		kept = append(kept, a)
	}
	sel.Accounts = kept
	return sel
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
