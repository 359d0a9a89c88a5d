package negotiation

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// VersionError is returned when a client is older than the service accepts.
type VersionError struct {
	Code          string
	Message       string
	ClientVersion string
	MinVersion    string
}

func (e *VersionError) Error() string {
	return e.Message
}

// CheckVersion rejects client versions below min. An empty min accepts
// everything. Versions must be semver, with or without the leading v.
func CheckVersion(client, min string) error {
	if min == "" {
		return nil
	}
	cv := normalizeVersion(client)
	if !semver.IsValid(cv) {
		return &VersionError{
			Code:          InvalidClientHeader,
			Message:       fmt.Sprintf("client version %q is not a semantic version", client),
			ClientVersion: client,
			MinVersion:    min,
		}
	}
	if semver.Compare(cv, normalizeVersion(min)) < 0 {
		return &VersionError{
			Code:          ClientVersionUnsupported,
			Message:       fmt.Sprintf("client version %s is below the minimum %s", client, min),
			ClientVersion: client,
			MinVersion:    min,
		}
	}
	return nil
}

// normalizeVersion adds the v prefix semver expects.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
