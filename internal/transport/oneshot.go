package transport

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/iriserr"
)

// Runner executes a one-shot agent command in a team's directory and
// returns its combined output. The seam exists so session bootstrap and
// compact can be faked in tests.
type Runner func(ctx context.Context, team *config.Team, args []string) (string, error)

// BootstrapArgs is the one-shot invocation that forces the agent to
// create its session file on disk.
func BootstrapArgs(sessionID string) []string {
	args := []string{"--print", "ping"}
	if os.Getenv("IRIS_TEST") == "" {
		args = append(args, "--session-id", sessionID)
	}
	return args
}

// CompactArgs is the one-shot invocation that compacts an existing
// session's context.
func CompactArgs(sessionID string) []string {
	args := []string{"--print", "/compact"}
	if os.Getenv("IRIS_TEST") == "" {
		args = append(args, "--resume", sessionID)
	}
	return args
}

// RunOneShot runs the agent once with the given arguments, locally or
// over the team's ssh prefix, and returns its combined output.
func RunOneShot(ctx context.Context, team *config.Team, args []string) (string, error) {
	var cmd *exec.Cmd
	if team.IsRemote() {
		prefix := strings.Fields(team.Remote)
		tokens := append([]string{team.ClaudePath}, args...)
		quoted := make([]string, len(tokens))
		for i, tok := range tokens {
			quoted[i] = ShellQuote(tok)
		}
		remoteCmd := "cd " + ShellQuote(team.Path) + " && " + strings.Join(quoted, " ")
		cmd = exec.CommandContext(ctx, prefix[0], append(prefix[1:], remoteCmd)...)
	} else {
		cmd = exec.CommandContext(ctx, team.ClaudePath, args...)
		cmd.Dir = team.Path
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), iriserr.Wrap(iriserr.KindTransport, err,
			"one-shot agent call failed for %s", team.Name)
	}
	return string(out), nil
}
