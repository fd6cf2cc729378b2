package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// TerraformGateway runs Terraform stages out-of-process against one
// deployment directory per deployment name. It records at most one run at a
// time; the run keeps executing in the background after StartCommand returns
// and its outcome is observed through Status.
type TerraformGateway struct {
	binary        string
	workspaceRoot string
	logger        zerolog.Logger

	mu  sync.Mutex
	run *terraformRun
	seq uint64
}

type terraformRun struct {
	seq     uint64
	stage   Stage
	dir     string
	cmd     *exec.Cmd
	running bool
	success *bool
	output  strings.Builder
}

// NewTerraformGateway creates a gateway backed by the terraform binary.
// workspaceRoot is the directory under which per-deployment configuration
// directories are generated.
func NewTerraformGateway(binary, workspaceRoot string, logger zerolog.Logger) (*TerraformGateway, error) {
	if binary == "" {
		binary = "terraform"
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("terraform binary not found: %w", err)
	}

	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	return &TerraformGateway{
		binary:        path,
		workspaceRoot: workspaceRoot,
		logger:        logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// ResetRunState drops the recorded run. It fails if a command is still
// executing; callers treat that as best-effort and ignore it.
func (g *TerraformGateway) ResetRunState(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run != nil && g.run.running {
		return fmt.Errorf("a provisioning command is still running")
	}

	g.run = nil
	return nil
}

// SaveConfiguration writes the template files and terraform.tfvars.json into
// the deployment's directory and returns the directory path. The directory is
// the unit of retry: re-running with the same name targets the same files.
func (g *TerraformGateway) SaveConfiguration(ctx context.Context, req SaveConfigRequest) (string, error) {
	if req.Name == "" {
		return "", fmt.Errorf("deployment name is required")
	}

	dir := filepath.Join(g.workspaceRoot, req.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create deployment directory: %w", err)
	}

	for name, content := range req.Files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}

	if len(req.Variables) > 0 {
		data, err := json.MarshalIndent(req.Variables, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal variables: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "terraform.tfvars.json"), data, 0o644); err != nil {
			return "", fmt.Errorf("write tfvars: %w", err)
		}
	}

	g.logger.Info().
		Str("deployment", req.Name).
		Str("path", dir).
		Int("files", len(req.Files)).
		Msg("Configuration generated")

	return dir, nil
}

// StartCommand spawns a terraform stage for the named deployment. It returns
// as soon as the process has started; the outcome is reported via Status.
func (g *TerraformGateway) StartCommand(ctx context.Context, name string, stage Stage, creds Credentials) (uint64, error) {
	args, err := stageArgs(stage)
	if err != nil {
		return 0, err
	}
	return g.start(name, stage, args, creds)
}

// StartDestroy spawns a destroy run for the named deployment.
func (g *TerraformGateway) StartDestroy(ctx context.Context, name string, creds Credentials) (uint64, error) {
	args, _ := stageArgs(StageDestroy)
	return g.start(name, StageDestroy, args, creds)
}

func (g *TerraformGateway) start(name string, stage Stage, args []string, creds Credentials) (uint64, error) {
	dir := filepath.Join(g.workspaceRoot, name)
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("deployment directory not found: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run != nil && g.run.running {
		return 0, fmt.Errorf("a provisioning command is already running")
	}

	cmd := exec.Command(g.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TF_INPUT=0", "TF_IN_AUTOMATION=1")
	for k, v := range creds.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start terraform %s: %w", stage, err)
	}

	g.seq++
	run := &terraformRun{
		seq:     g.seq,
		stage:   stage,
		dir:     dir,
		cmd:     cmd,
		running: true,
	}
	g.run = run

	g.logger.Info().
		Str("deployment", name).
		Str("stage", string(stage)).
		Uint64("seq", run.seq).
		Msg("Provisioning command started")

	var wg sync.WaitGroup
	wg.Add(2)
	go g.collect(run, stdout, &wg)
	go g.collect(run, stderr, &wg)

	go func() {
		wg.Wait()
		err := cmd.Wait()

		g.mu.Lock()
		defer g.mu.Unlock()

		ok := err == nil
		run.running = false
		run.success = &ok

		g.logger.Info().
			Str("stage", string(run.stage)).
			Uint64("seq", run.seq).
			Bool("success", ok).
			Msg("Provisioning command finished")
	}()

	return run.seq, nil
}

func (g *TerraformGateway) collect(run *terraformRun, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		g.mu.Lock()
		run.output.WriteString(scanner.Text())
		run.output.WriteString("\n")
		g.mu.Unlock()
	}
}

// Status returns a snapshot of the recorded run. With no recorded run it
// returns an empty non-running status with Seq zero.
func (g *TerraformGateway) Status(ctx context.Context) (*RunStatus, error) {
	g.mu.Lock()

	if g.run == nil {
		g.mu.Unlock()
		return &RunStatus{}, nil
	}

	st := &RunStatus{
		Running: g.run.running,
		Command: string(g.run.stage),
		Output:  g.run.output.String(),
		Seq:     g.run.seq,
	}
	if g.run.success != nil {
		v := *g.run.success
		st.Success = &v
	}
	stage := g.run.stage
	dir := g.run.dir
	g.mu.Unlock()

	// A destroy is meaningful once apply has started against the directory or
	// earlier runs left resources in the state file.
	st.CanRollback = stage == StageApply || stateHasResources(dir)

	return st, nil
}

// CancelRun kills the in-flight process. The terminal status is still set by
// the run's own completion path once the process exits.
func (g *TerraformGateway) CancelRun(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.run == nil || !g.run.running || g.run.cmd.Process == nil {
		return nil
	}

	g.logger.Info().
		Str("stage", string(g.run.stage)).
		Uint64("seq", g.run.seq).
		Msg("Cancelling provisioning command")

	if err := g.run.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill terraform process: %w", err)
	}

	return nil
}

// OpenFolder opens the path in the platform file browser. UI convenience
// only; it has no effect on orchestration state.
func (g *TerraformGateway) OpenFolder(ctx context.Context, path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open folder: %w", err)
	}
	return nil
}

func stageArgs(stage Stage) ([]string, error) {
	switch stage {
	case StageInit:
		return []string{"init", "-input=false", "-no-color"}, nil
	case StagePlan:
		return []string{"plan", "-input=false", "-no-color"}, nil
	case StageApply:
		return []string{"apply", "-auto-approve", "-input=false", "-no-color"}, nil
	case StageDestroy:
		return []string{"destroy", "-auto-approve", "-input=false", "-no-color"}, nil
	default:
		return nil, fmt.Errorf("unknown stage: %s", stage)
	}
}

// stateHasResources reports whether the directory's terraform.tfstate records
// any resources.
func stateHasResources(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "terraform.tfstate"))
	if err != nil {
		return false
	}

	var state struct {
		Resources []json.RawMessage `json:"resources"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return false
	}

	return len(state.Resources) > 0
}

var _ Gateway = (*TerraformGateway)(nil)
