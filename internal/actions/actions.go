// Package actions runs an operator-supplied command for every dispatched
// alert. The command receives the alert as JSON on stdin and selected
// fields as environment variables, so shell scripts can react without a
// JSON parser.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/opsdrift/ecswatch/internal/nodefacts"
)

// Config holds configuration for the custom action runner.
type Config struct {
	// Command is the path to the executable to run per alert.
	Command string

	// Timeout bounds a single invocation.
	Timeout time.Duration
}

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Runner invokes the configured command for each alert.
type Runner struct {
	cfg Config
	log *slog.Logger
}

// NewRunner creates a Runner. The command path is converted to an
// absolute path so invocations work regardless of the working directory.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	absPath, err := filepath.Abs(cfg.Command)
	if err != nil {
		logger.Warn("failed to resolve action command path, using as-is",
			"command", cfg.Command,
			"error", err)
	} else {
		cfg.Command = absPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{cfg: cfg, log: logger}
}

// actionPayload is the JSON document written to the command's stdin.
type actionPayload struct {
	NodeID         string `json:"nodeId"`
	ClusterARN     string `json:"clusterArn"`
	ClusterName    string `json:"clusterName"`
	Running        bool   `json:"running"`
	AgentConnected bool   `json:"agentConnected"`
}

// Run executes the command for one alerted node. A non-zero exit code is
// logged but not returned as an error; alert dispatch must not depend on
// the action's outcome.
func (r *Runner) Run(ctx context.Context, state nodefacts.NodeState) error {
	payload, err := json.Marshal(actionPayload{
		NodeID:         state.NodeID,
		ClusterARN:     state.ClusterARN,
		ClusterName:    state.ClusterShortName(),
		Running:        state.Running,
		AgentConnected: state.AgentConnected,
	})
	if err != nil {
		return fmt.Errorf("failed to encode action payload: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.cfg.Command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("ECSWATCH_NODE_ID=%s", state.NodeID),
		fmt.Sprintf("ECSWATCH_CLUSTER_ARN=%s", state.ClusterARN),
		fmt.Sprintf("ECSWATCH_CLUSTER_NAME=%s", state.ClusterShortName()),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Info("running custom action",
		"command", r.cfg.Command,
		"node_id", state.NodeID)

	err = cmd.Run()
	if stdout.Len() > 0 {
		r.log.Info("action stdout", "output", stdout.String())
	}
	if stderr.Len() > 0 {
		r.log.Warn("action stderr", "output", stderr.String())
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			r.log.Warn("custom action exited with non-zero code",
				"exit_code", exitErr.ExitCode(),
				"node_id", state.NodeID)
			return nil
		}
		return fmt.Errorf("failed to run action command: %w", err)
	}
	return nil
}
