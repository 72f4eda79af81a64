// Package whm talks to cPanel/WHM: account discovery through whmapi1 and
// account archives through pkgacct.
package whm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"whm-backup/internal/backup"
)

type listacctsResponse struct {
	Metadata struct {
		Result  int    `json:"result"`
		Reason  string `json:"reason"`
		Command string `json:"command"`
	} `json:"metadata"`
	Data *struct {
		Acct *[]listacctsAccount `json:"acct"`
	} `json:"data"`
}

type listacctsAccount struct {
	User      string   `json:"user"`
	DiskUsed  *string  `json:"diskused"`
	Suspended flexBool `json:"suspended"`
}

// flexBool accepts the 0/1, "0"/"1" and true/false forms WHM uses.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "", "null", "0", "false":
		*b = false
	case "1", "true":
		*b = true
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", s)
		}
		*b = n != 0
	}
	return nil
}

// ParseListAccts decodes a whmapi1 listaccts JSON payload. A payload that
// reports failure or lacks the account list is an invalid catalog.
func ParseListAccts(payload []byte) ([]backup.Account, error) {
	var resp listacctsResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: cannot decode listaccts output: %v", backup.ErrInvalidCatalog, err)
	}

	if resp.Metadata.Result == 0 {
		reason := resp.Metadata.Reason
		if reason == "" {
			reason = "no reason given"
		}
		return nil, fmt.Errorf("%w: listaccts failed: %s", backup.ErrInvalidCatalog, reason)
	}
	if resp.Data == nil || resp.Data.Acct == nil {
		return nil, fmt.Errorf("%w: listaccts output has no data.acct list", backup.ErrInvalidCatalog)
	}

	accounts := make([]backup.Account, 0, len(*resp.Data.Acct))
	for _, raw := range *resp.Data.Acct {
		a := backup.Account{
			ID:        raw.User,
			Suspended: bool(raw.Suspended),
		}
		if raw.DiskUsed != nil {
			a.UsedRaw = *raw.DiskUsed
			a.HasUsage = true
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}
