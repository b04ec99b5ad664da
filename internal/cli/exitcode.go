package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/GPT012/pyoz-orchestrator/internal/control"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/loader"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/synth"
)

// ErrControlUnreachable is returned when no orchestrator answers on the
// control port.
var ErrControlUnreachable = errors.New("control server unreachable")

// errUsage marks invalid flags or configuration.
var errUsage = errors.New("usage")

func usageError(err error) error {
	return fmt.Errorf("%w: %w", errUsage, err)
}

type exitKind struct {
	err  error
	kind string
	code int
}

// exitKinds is ordered by precedence: a run that stalled and then needed a
// kill reports the stall.
var exitKinds = []exitKind{
	{loader.ErrConnectivity, "load.connectivity", 10},
	{loader.ErrUnknownNetwork, "load.unknown_network", 11},
	{loader.ErrUnknownTrigger, "load.unknown_trigger", 12},
	{loader.ErrIncompleteTrigger, "load.incomplete_trigger", 13},
	{loader.ErrInvalidRecord, "load.invalid_record", 14},
	{loader.ErrNoNetworks, "load.no_networks", 15},
	{loader.ErrTenantMismatch, "load.tenant", 16},
	{loader.ErrInvalidTenant, "load.tenant", 16},
	{synth.ErrWriteFailure, "synthesis.write_failure", 20},
	{synth.ErrDuplicateArtifact, "synthesis.duplicate_artifact", 21},
	{supervisor.ErrSpawnFailure, "supervisor.spawn_failure", 30},
	{supervisor.ErrAlreadyRunning, "supervisor.already_running", 31},
	{supervisor.ErrCrashLoop, "supervisor.crash_loop", 34},
	{supervisor.ErrUnexpectedExit, "supervisor.unexpected_exit", 35},
	{control.ErrTrackerStalled, "tracker.stalled", 40},
	{supervisor.ErrNotRunning, "supervisor.not_running", 32},
	{supervisor.ErrStopTimeout, "supervisor.stop_timeout", 33},
	{ErrControlUnreachable, "control.unreachable", 50},
}

// classify maps an error to its machine-readable kind and exit code.
func classify(err error) (string, int) {
	if err == nil {
		return "ok", 0
	}
	for _, k := range exitKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.code
		}
	}
	return "usage", 1
}

// reportError logs err, prints its JSON summary to stderr and returns the
// exit code.
func reportError(err error) int {
	kind, code := classify(err)
	slog.Error("Command failed", "error", err, "kind", kind)

	_ = json.NewEncoder(os.Stderr).Encode(struct {
		ErrorKind string `json:"error_kind"`
		ExitCode  int    `json:"exit_code"`
		Message   string `json:"message"`
	}{kind, code, err.Error()})
	return code
}
