package mcp

import (
	"errors"
	"strings"
	"testing"

	"github.com/HyphaGroup/iris/internal/iriserr"
)

func TestSanitizeErrorPassesUserFacingKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", iriserr.Validation("team", "bad name")},
		{"team not found", iriserr.New(iriserr.KindTeamNotFound, "no team backend")},
		{"session not found", iriserr.New(iriserr.KindSessionNotFound, "no session")},
		{"busy", iriserr.New(iriserr.KindProcessBusy, "agent is busy")},
		{"timeout", iriserr.New(iriserr.KindResponseTimeout, "no response in 5s")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(tt.err, "tell")
			if got != tt.err {
				t.Errorf("sanitizeError() = %v, want the original error", got)
			}
		})
	}
}

func TestSanitizeErrorHidesInternalDetail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"init timeout",
			iriserr.New(iriserr.KindInitTimeout, "no init frame from /home/alice/proj after 60s"),
			"did not start in time",
		},
		{
			"crash",
			iriserr.Wrap(iriserr.KindProcessCrashed, errors.New("exit status 137"), "agent died"),
			"agent process died",
		},
		{
			"transport",
			iriserr.New(iriserr.KindTransport, "ssh: connect to host backend-1 failed"),
			"internal error",
		},
		{
			"plain error",
			errors.New("sql: database is locked"),
			"internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(tt.err, "wake")
			if got == nil {
				t.Fatal("sanitizeError() = nil, want error")
			}
			if !strings.Contains(got.Error(), tt.want) {
				t.Errorf("sanitizeError() = %q, want substring %q", got.Error(), tt.want)
			}
			if !strings.HasPrefix(got.Error(), "wake failed") {
				t.Errorf("sanitizeError() = %q, want operation prefix", got.Error())
			}
			// The original message must not leak through.
			if strings.Contains(got.Error(), "alice") || strings.Contains(got.Error(), "backend-1") {
				t.Errorf("sanitizeError() leaked internal detail: %q", got.Error())
			}
		})
	}
}

func TestSanitizeErrorNil(t *testing.T) {
	if got := sanitizeError(nil, "tell"); got != nil {
		t.Errorf("sanitizeError(nil) = %v, want nil", got)
	}
}
