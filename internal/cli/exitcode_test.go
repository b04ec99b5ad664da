package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GPT012/pyoz-orchestrator/internal/control"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/loader"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/synth"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
		code int
	}{
		{"ok", nil, "ok", 0},
		{"usage", usageError(errors.New("bad flag")), "usage", 1},
		{"unknown", errors.New("boom"), "usage", 1},
		{"connectivity", &loader.LoadError{Kind: loader.ErrConnectivity, Err: errors.New("refused")}, "load.connectivity", 10},
		{"unknown network", &loader.LoadError{Kind: loader.ErrUnknownNetwork, Entity: "network", ID: "x"}, "load.unknown_network", 11},
		{"unknown trigger", &loader.LoadError{Kind: loader.ErrUnknownTrigger}, "load.unknown_trigger", 12},
		{"incomplete trigger", &loader.LoadError{Kind: loader.ErrIncompleteTrigger}, "load.incomplete_trigger", 13},
		{"invalid record", &loader.LoadError{Kind: loader.ErrInvalidRecord}, "load.invalid_record", 14},
		{"no networks", &loader.LoadError{Kind: loader.ErrNoNetworks}, "load.no_networks", 15},
		{"tenant mismatch", &loader.LoadError{Kind: loader.ErrTenantMismatch}, "load.tenant", 16},
		{"invalid tenant", &loader.LoadError{Kind: loader.ErrInvalidTenant}, "load.tenant", 16},
		{"write failure", &synth.SynthesisError{Kind: synth.ErrWriteFailure}, "synthesis.write_failure", 20},
		{"duplicate", &synth.SynthesisError{Kind: synth.ErrDuplicateArtifact}, "synthesis.duplicate_artifact", 21},
		{"spawn", &supervisor.SupervisorError{Kind: supervisor.ErrSpawnFailure}, "supervisor.spawn_failure", 30},
		{"already running", &supervisor.SupervisorError{Kind: supervisor.ErrAlreadyRunning}, "supervisor.already_running", 31},
		{"not running", &supervisor.SupervisorError{Kind: supervisor.ErrNotRunning}, "supervisor.not_running", 32},
		{"stop timeout", &supervisor.SupervisorError{Kind: supervisor.ErrStopTimeout}, "supervisor.stop_timeout", 33},
		{"crash loop", &supervisor.SupervisorError{Kind: supervisor.ErrCrashLoop}, "supervisor.crash_loop", 34},
		{"unexpected exit", &supervisor.SupervisorError{Kind: supervisor.ErrUnexpectedExit}, "supervisor.unexpected_exit", 35},
		{"stalled", fmt.Errorf("%w after 10 cycles", control.ErrTrackerStalled), "tracker.stalled", 40},
		{"unreachable", fmt.Errorf("%w: refused", ErrControlUnreachable), "control.unreachable", 50},
		{
			"stall wins over kill",
			errors.Join(
				fmt.Errorf("%w after 3 cycles", control.ErrTrackerStalled),
				&supervisor.SupervisorError{Kind: supervisor.ErrStopTimeout},
			),
			"tracker.stalled", 40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, code := classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.code, code)
		})
	}
}
