package backup

import (
	"fmt"
	"regexp"
	"strings"

	units "github.com/docker/go-units"
)

// Provenance tells where an account's megabyte figure came from.
type Provenance string

const (
	ProvenanceReported         Provenance = "reported"
	ProvenanceUnrecognizedUnit Provenance = "unrecognized-unit"
	ProvenanceMissing          Provenance = "missing"
)

// Usage is a normalized disk usage value in megabytes.
type Usage struct {
	MB         float64    `json:"mb" yaml:"mb"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`
	Warning    string     `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// Known reports whether MB reflects a real reported size.
func (u Usage) Known() bool {
	return u.Provenance == ProvenanceReported
}

var usagePattern = regexp.MustCompile(`^\d+[KMG]$`)

// ParseUsage converts a WHM style usage string such as "512K", "2M" or "3G"
// into megabytes. Anything else yields zero with an unrecognized-unit
// provenance and a warning.
func ParseUsage(raw string) Usage {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Usage{
			Provenance: ProvenanceUnrecognizedUnit,
			Warning:    "empty usage value",
		}
	}
	if !usagePattern.MatchString(value) {
		return Usage{
			Provenance: ProvenanceUnrecognizedUnit,
			Warning:    fmt.Sprintf("unrecognized unit in usage value %q", raw),
		}
	}

	bytes, err := units.RAMInBytes(value)
	if err != nil {
		return Usage{
			Provenance: ProvenanceUnrecognizedUnit,
			Warning:    fmt.Sprintf("cannot parse usage value %q: %v", raw, err),
		}
	}

	return Usage{
		MB:         float64(bytes) / units.MiB,
		Provenance: ProvenanceReported,
	}
}

// BytesToMB converts a byte count into megabytes.
func BytesToMB(n int64) float64 {
	return float64(n) / units.MiB
}

// MBToBytes converts megabytes into a byte count.
func MBToBytes(mb float64) int64 {
	return int64(mb * units.MiB)
}

// HumanMB renders megabytes the way operators read disk sizes.
func HumanMB(mb float64) string {
	return units.BytesSize(mb * units.MiB)
}
