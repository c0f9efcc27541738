package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath lays out exports as
// tenant/session/date=YYYY-MM-DD/result-<unix nanos>.<ext>. The timestamp is
// zero padded so key order is export order.
func BuildExportPath(tenantID, sessionID string, exportedAt time.Time, ext string) (string, error) {
	prefix, err := BuildExportPrefix(tenantID, sessionID)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(ext, "file extension"); err != nil {
		return "", err
	}

	ts := exportedAt.UTC()
	return path.Join(
		prefix,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("result-%019d.%s", ts.UnixNano(), ext),
	), nil
}

// BuildExportPrefix returns the key prefix all exports of a session share.
func BuildExportPrefix(tenantID, sessionID string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join(tenantID, sessionID) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
