package mcp

import (
	"fmt"

	"github.com/HyphaGroup/iris/internal/iriserr"
	"github.com/HyphaGroup/iris/internal/logger"
)

// userFacingKinds are error kinds whose messages are already short and
// safe to hand to MCP clients verbatim.
var userFacingKinds = map[iriserr.Kind]bool{
	iriserr.KindValidation:      true,
	iriserr.KindTeamNotFound:    true,
	iriserr.KindSessionNotFound: true,
	iriserr.KindProcessBusy:     true,
	iriserr.KindResponseTimeout: true,
}

// sanitizeError returns a client-safe error. Internal details (spawn
// failures, paths, wrapped causes) are logged but not exposed.
func sanitizeError(err error, operation string) error {
	if err == nil {
		return nil
	}

	kind := iriserr.KindOf(err)
	if userFacingKinds[kind] {
		return err
	}

	logger.Error("tool call failed", "operation", operation, "err", err)
	switch kind {
	case iriserr.KindInitTimeout:
		return fmt.Errorf("%s failed: agent did not start in time", operation)
	case iriserr.KindProcessCrashed:
		return fmt.Errorf("%s failed: agent process died", operation)
	case iriserr.KindProcessPoolLimit:
		return fmt.Errorf("%s failed: process pool exhausted", operation)
	case iriserr.KindConfiguration:
		return fmt.Errorf("%s failed: configuration error", operation)
	default:
		return fmt.Errorf("%s failed: internal error", operation)
	}
}
