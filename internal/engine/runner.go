// Package engine runs the external FinDer binary for one event and parses
// its output files into a FinderSolution. The binary is a black box: we
// hand it a config file and a data_0 blob, it hands back three files under
// temp_data keyed by its own internal event id.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/types"
)

// eventIDMarker is the stdout line prefix carrying the engine's internal
// event id.
const eventIDMarker = "Event_ID="

// Options configures a runner.
type Options struct {
	BinaryPath  string
	OutputRoot  string
	ResourceDir string
	GMTDir      string
	Template    ConfigTemplate // nil selects the default template
	LiveMode    bool
}

// Runner executes FinDer runs.
type Runner struct {
	opts Options
	log  *zap.Logger
}

// EngineError reports a failed engine run: a bad binary, a non-zero exit,
// or missing output files.
type EngineError struct {
	EventID string
	Stage   string
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine run for %s failed at %s: %v", e.EventID, e.Stage, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// New builds a runner. The binary is validated at run time, not here, so
// a runner can be constructed before the engine is installed.
func New(opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Template == nil {
		opts.Template = DefaultConfigTemplate(opts.ResourceDir, opts.GMTDir)
	}
	return &Runner{opts: opts, log: log}
}

// Run executes one engine pass: materialize the working directory, write
// the config and data_0, spawn the binary, scan its stdout for the engine
// event id, and parse the output files.
func (r *Runner) Run(ctx context.Context, eventID string, data []byte) (*types.FinderSolution, error) {
	workDir, err := r.prepareWorkDir(eventID)
	if err != nil {
		return nil, &EngineError{EventID: eventID, Stage: "workdir", Err: err}
	}

	configPath, err := r.opts.Template.WriteConfig(workDir)
	if err != nil {
		return nil, &EngineError{EventID: eventID, Stage: "config", Err: err}
	}
	dataPath := filepath.Join(workDir, "data_0")
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return nil, &EngineError{EventID: eventID, Stage: "input", Err: fmt.Errorf("write data_0: %w", err)}
	}

	if err := validateBinary(r.opts.BinaryPath); err != nil {
		return nil, &EngineError{EventID: eventID, Stage: "binary", Err: err}
	}

	engineEventID, err := r.execute(ctx, eventID, configPath, workDir)
	if err != nil {
		return nil, err
	}

	outDir := filepath.Join(workDir, "temp_data", engineEventID)
	solution, err := ParseOutputDir(outDir)
	if err != nil {
		return nil, &EngineError{EventID: eventID, Stage: "output", Err: err}
	}
	solution.EventID = eventID
	solution.FinderEventID = engineEventID

	r.log.Info("engine run complete",
		zap.String("event_id", eventID),
		zap.String("summary", solution.Description()))
	return solution, nil
}

// WorkDir returns the per-event working directory path without creating it.
func (r *Runner) WorkDir(eventID string) string {
	return filepath.Join(r.opts.OutputRoot, eventID)
}

// TempDataDir returns the engine's output directory for a finished run.
func (r *Runner) TempDataDir(eventID string) string {
	return filepath.Join(r.WorkDir(eventID), "temp_data")
}

// prepareWorkDir creates the per-event directory under the configured
// root, falling back to ~/pyfinder-output when the root is not writable.
func (r *Runner) prepareWorkDir(eventID string) (string, error) {
	dir := filepath.Join(r.opts.OutputRoot, eventID)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		return dir, nil
	}

	home, herr := os.UserHomeDir()
	if herr != nil {
		return "", fmt.Errorf("output root %s not writable and no home directory: %v", r.opts.OutputRoot, herr)
	}
	fallback := filepath.Join(home, "pyfinder-output", eventID)
	r.log.Warn("output root not writable, using fallback",
		zap.String("root", r.opts.OutputRoot),
		zap.String("fallback", fallback))
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return "", fmt.Errorf("create fallback working dir: %w", err)
	}
	return fallback, nil
}

// execute spawns the binary and returns the engine's internal event id
// scanned from stdout. The child runs in its own process group so that a
// context cancellation kills the whole tree.
func (r *Runner) execute(ctx context.Context, eventID, configPath, workDir string) (string, error) {
	live := "no"
	if r.opts.LiveMode {
		live = "yes"
	}
	cmd := exec.Command(r.opts.BinaryPath, configPath, workDir, "0", "0", live)
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", &EngineError{EventID: eventID, Stage: "spawn", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Negative pid addresses the process group.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return "", &EngineError{EventID: eventID, Stage: "exec", Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			r.log.Error("engine exited with error",
				zap.String("event_id", eventID),
				zap.String("stderr", truncate(stderr.String(), 2048)),
				zap.Error(err))
			return "", &EngineError{EventID: eventID, Stage: "exec", Err: err}
		}
	}

	engineEventID := scanEventID(stdout.Bytes())
	if engineEventID == "" {
		return "", &EngineError{EventID: eventID, Stage: "exec",
			Err: fmt.Errorf("no %s line in engine output", eventIDMarker)}
	}
	return engineEventID, nil
}

func validateBinary(path string) error {
	if path == "" {
		return fmt.Errorf("engine binary path is not configured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("engine binary %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("engine binary %s is not a regular file", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("engine binary %s is not executable", path)
	}
	return nil
}

func scanEventID(stdout []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, eventIDMarker) {
			return strings.TrimSpace(strings.TrimPrefix(line, eventIDMarker))
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
