package validation

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/HyphaGroup/iris/internal/iriserr"
)

// EscapeProjectPath converts an absolute project path into the directory
// name the agent uses under its projects folder: every path separator
// becomes a dash, so "/a/b/c" escapes to "-a-b-c".
func EscapeProjectPath(path string) (string, error) {
	if path == "" {
		return "", iriserr.Validation("path", "project path cannot be empty")
	}
	if !filepath.IsAbs(path) {
		return "", iriserr.Validation("path", "project path must be absolute: %s", path)
	}
	return strings.ReplaceAll(filepath.Clean(path), string(filepath.Separator), "-"), nil
}

// AgentHome returns the agent's storage directory. CLAUDE_HOME overrides
// the default of ~/.claude.
func AgentHome() string {
	if home := os.Getenv("CLAUDE_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(userHome, ".claude")
}

// SessionFilePath returns the on-disk JSONL file the agent writes for a
// session in the given project directory.
func SessionFilePath(projectPath, sessionID string) (string, error) {
	escaped, err := EscapeProjectPath(projectPath)
	if err != nil {
		return "", err
	}
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(AgentHome(), "projects", escaped, sessionID+".jsonl"), nil
}
