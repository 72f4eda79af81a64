package storage

import (
	"path"
	"regexp"
	"strings"
	"time"
)

var archiveStamp = regexp.MustCompile(`-(\d{8}-\d{6})\.tar\.(gz|zst)$`)

// ArchiveTime extracts the creation time encoded in an archive name.
func ArchiveTime(name string) (time.Time, bool) {
	m := archiveStamp.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102-150405", m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// createdAt prefers the time in the archive name over the storage
// modification time.
func createdAt(name string, modified time.Time) time.Time {
	if t, ok := ArchiveTime(name); ok {
		return t
	}
	return modified.UTC()
}

// isArchive filters out checksum sidecars and partial uploads.
func isArchive(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.HasSuffix(name, checksumSuffix) && !strings.HasSuffix(name, partialSuffix)
}

// accountPrefix is the object prefix holding one account's archives.
func accountPrefix(prefix, accountID string) string {
	return strings.TrimPrefix(path.Join(prefix, accountID), "/") + "/"
}

// objectKey is the object key of an archive.
func objectKey(prefix, accountID, name string) string {
	return accountPrefix(prefix, accountID) + name
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".tar.zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".tar.gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
