package transport

import (
	"os"
	"strings"

	"github.com/HyphaGroup/iris/internal/config"
)

// AgentArgs builds the argument list for a long-lived agent invocation
// against an existing session.
func AgentArgs(team *config.Team, sessionID string) []string {
	var args []string
	// Tests run the agent without session files on disk.
	if sessionID != "" && os.Getenv("IRIS_TEST") == "" {
		args = append(args, "--resume", sessionID)
	}
	args = append(args,
		"--print",
		"--verbose",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
	)
	if team.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if len(team.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(team.AllowedTools, ","))
	}
	if len(team.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(team.DisallowedTools, ","))
	}
	return args
}

// LocalCommand returns the executable and arguments for a local team.
func LocalCommand(team *config.Team, sessionID string) (string, []string) {
	return team.ClaudePath, AgentArgs(team, sessionID)
}

// RemoteCommand returns the executable and arguments for a remote team:
// the team's remote prefix ("ssh [opts] host") followed by the agent
// command line, each agent token shell-quoted, prefixed with a cd into
// the team directory.
func RemoteCommand(team *config.Team, sessionID string) (string, []string) {
	prefix := strings.Fields(team.Remote)

	agentTokens := append([]string{team.ClaudePath}, AgentArgs(team, sessionID)...)
	quoted := make([]string, len(agentTokens))
	for i, tok := range agentTokens {
		quoted[i] = ShellQuote(tok)
	}
	remoteCmd := "cd " + ShellQuote(team.Path) + " && " + strings.Join(quoted, " ")

	args := append(prefix[1:], remoteCmd)
	return prefix[0], args
}

// ShellQuote single-quotes a token for a POSIX shell, escaping embedded
// single quotes.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$&|;<>(){}[]*?!\\~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
