package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	checksumSuffix = ".sha256"
	partialSuffix  = ".partial"
	// metadataChecksum is the user metadata key carrying the archive digest.
	metadataChecksum = "Sha256"
)

// SHA256File hashes a file and returns the hex digest and size.
func SHA256File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// ChecksumMismatchError reports a stored object that does not match the
// archive that was sent.
type ChecksumMismatchError struct {
	Location string
	Field    string
	Want     string
	Got      string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: want %s, got %s", e.Location, e.Field, e.Want, e.Got)
}

// metadataValue looks up a user metadata key case-insensitively, with or
// without the x-amz-meta- prefix.
func metadataValue(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == strings.ToLower(key) {
			return v
		}
	}
	return ""
}
