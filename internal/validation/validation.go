// Package validation provides the pure input validators and path helpers
// used by every layer above it.
package validation

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/HyphaGroup/iris/internal/iriserr"
)

const (
	// MaxTeamNameLength bounds configured team names.
	MaxTeamNameLength = 100

	// MaxTimeoutMs is the largest per-request timeout accepted (1 hour).
	MaxTimeoutMs = 3_600_000

	// TimeoutAsync selects asynchronous delivery instead of a bound.
	TimeoutAsync = -1

	// TimeoutNone waits without a bound.
	TimeoutNone = 0
)

var (
	// uuidV4Regex matches canonical UUID v4 only.
	uuidV4Regex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	// teamNameRegex matches safe team names.
	teamNameRegex = regexp.MustCompile(`^[A-Za-z0-9_\-@.]+$`)
)

// sensitivePrefixes are filesystem locations teams may never point at.
var sensitivePrefixes = []string{
	"/etc/",
	"/usr/bin/",
	"/usr/sbin/",
	"/bin/",
	"/sbin/",
	"/boot/",
	"/sys/",
	"/proc/",
}

// ValidateTeamName checks a team name against the naming rules.
func ValidateTeamName(name string) error {
	if name == "" {
		return iriserr.Validation("team", "team name cannot be empty")
	}
	if len(name) > MaxTeamNameLength {
		return iriserr.Validation("team", "team name exceeds %d characters", MaxTeamNameLength)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return iriserr.Validation("team", "team name contains path characters: %s", name)
	}
	if !teamNameRegex.MatchString(name) {
		return iriserr.Validation("team", "invalid team name: %s", name)
	}
	return nil
}

// ValidateSessionID checks that the string is a canonical UUID v4.
func ValidateSessionID(id string) error {
	if id == "" {
		return iriserr.Validation("sessionId", "session ID cannot be empty")
	}
	if !uuidV4Regex.MatchString(strings.ToLower(id)) {
		return iriserr.Validation("sessionId", "invalid session ID format: %s", id)
	}
	return nil
}

// ValidateUUID reports whether the string is a canonical UUID v4.
func ValidateUUID(id string) bool {
	return uuidV4Regex.MatchString(strings.ToLower(id))
}

// ValidateTimeout checks a tell timeout in milliseconds. The special values
// -1 (async) and 0 (no bound) are accepted.
func ValidateTimeout(ms int64) error {
	if ms == TimeoutAsync || ms == TimeoutNone {
		return nil
	}
	if ms < 0 || ms > MaxTimeoutMs {
		return iriserr.Validation("timeout", "timeout must be -1, 0, or 1..%d ms, got %d", MaxTimeoutMs, ms)
	}
	return nil
}

// ValidateProjectPath checks that a team directory is absolute, resolvable,
// readable, and not under a system-sensitive prefix.
func ValidateProjectPath(path string) error {
	if path == "" {
		return iriserr.Validation("path", "project path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return iriserr.Validation("path", "project path must be absolute: %s", path)
	}
	for _, seg := range strings.Split(path, string(filepath.Separator)) {
		if seg == ".." {
			return iriserr.Validation("path", "path traversal detected: %s", path)
		}
	}
	cleaned := filepath.Clean(path) + "/"
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(cleaned, prefix) {
			return iriserr.Validation("path", "path under protected prefix %s: %s", prefix, path)
		}
	}
	if strings.Contains(cleaned, "/.ssh/") {
		return iriserr.Validation("path", "path under protected prefix /.ssh/: %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return iriserr.Validation("path", "project path not resolvable: %s", path)
	}
	if !info.IsDir() {
		return iriserr.Validation("path", "project path is not a directory: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return iriserr.Validation("path", "project path not readable: %s", path)
	}
	_ = f.Close()
	return nil
}
