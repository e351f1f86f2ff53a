package router

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/mcpgateway/gateway/internal/gwerr"
	"github.com/mcpgateway/gateway/internal/protocol"
)

type subprocessConfig struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	TimeoutSeconds float64           `json:"timeout_seconds"`
}

// routeSubprocess spawns command with substituted args/env, captures
// stdout/stderr, and succeeds iff the process exits 0 (spec §4.D subprocess).
func (r *Router) routeSubprocess(ctx context.Context, call protocol.ToolCall, raw json.RawMessage) (*protocol.AgentResult, error) {
	var cfg subprocessConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, gwerr.Wrap(gwerr.KindRouting, err, "invalid subprocess routing config")
	}
	if cfg.Command == "" {
		return nil, gwerr.New(gwerr.KindRouting, "subprocess routing config missing command")
	}

	ctx, cancel := context.WithTimeout(ctx, armTimeout(raw))
	defer cancel()

	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		expanded, err := substituteString(a, call)
		if err != nil {
			return nil, err
		}
		args[i] = expanded
	}

	cmd := exec.CommandContext(ctx, cfg.Command, args...) //nolint:gosec // command/args are operator-configured routing, not raw user input
	for k, v := range cfg.Env {
		expanded, err := substituteString(v, call)
		if err != nil {
			return nil, err
		}
		cmd.Env = append(cmd.Env, k+"="+expanded)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	success := true
	if runErr != nil {
		success = false
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := &protocol.AgentResult{
		Success: success,
		Data: map[string]any{
			"stdout":    stdout.String(),
			"stderr":    stderr.String(),
			"exit_code": exitCode,
		},
	}
	if !success {
		result.Error = "subprocess exited with non-zero status"
	}
	return result, nil
}
