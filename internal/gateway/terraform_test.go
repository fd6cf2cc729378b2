package gateway

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes an executable shell script standing in for the terraform
// binary and returns its path.
func fakeBinary(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake binary helper requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "terraform")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)
	require.NoError(t, err)
	return path
}

func newTestGateway(t *testing.T, script string) *TerraformGateway {
	t.Helper()

	gw, err := NewTerraformGateway(fakeBinary(t, script), t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return gw
}

func saveConfig(t *testing.T, gw *TerraformGateway, name string) string {
	t.Helper()

	path, err := gw.SaveConfiguration(context.Background(), SaveConfigRequest{
		Name:  name,
		Files: map[string]string{"main.tf": `resource "null_resource" "demo" {}`},
		Variables: map[string]interface{}{
			"region": "us-east-1",
		},
	})
	require.NoError(t, err)
	return path
}

func awaitTerminal(t *testing.T, gw *TerraformGateway, seq uint64) *RunStatus {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := gw.Status(context.Background())
		require.NoError(t, err)
		if st.Seq == seq && !st.Running {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("run did not reach terminal state")
	return nil
}

func TestSaveConfigurationWritesFilesAndVars(t *testing.T) {
	gw := newTestGateway(t, "exit 0")

	path := saveConfig(t, gw, "demo-stack")

	data, err := os.ReadFile(filepath.Join(path, "main.tf"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "null_resource")

	var vars map[string]interface{}
	data, err = os.ReadFile(filepath.Join(path, "terraform.tfvars.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &vars))
	assert.Equal(t, "us-east-1", vars["region"])
}

func TestSaveConfigurationReusesDirectory(t *testing.T) {
	gw := newTestGateway(t, "exit 0")

	first := saveConfig(t, gw, "demo-stack")
	second := saveConfig(t, gw, "demo-stack")

	assert.Equal(t, first, second)
}

func TestStartCommandReportsSuccess(t *testing.T) {
	gw := newTestGateway(t, "echo 'Initializing the backend...'\nexit 0")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StageInit, Credentials{Cloud: "aws"})
	require.NoError(t, err)

	st := awaitTerminal(t, gw, seq)
	require.NotNil(t, st.Success)
	assert.True(t, *st.Success)
	assert.Equal(t, "init", st.Command)
	assert.Contains(t, st.Output, "Initializing the backend")
}

func TestStartCommandReportsFailure(t *testing.T) {
	gw := newTestGateway(t, "echo 'Error: quota exceeded' >&2\nexit 1")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StagePlan, Credentials{Cloud: "gcp"})
	require.NoError(t, err)

	st := awaitTerminal(t, gw, seq)
	require.NotNil(t, st.Success)
	assert.False(t, *st.Success)
	assert.Contains(t, st.Output, "quota exceeded")
}

func TestStartCommandRejectsConcurrentRun(t *testing.T) {
	gw := newTestGateway(t, "sleep 2")
	saveConfig(t, gw, "demo-stack")

	_, err := gw.StartCommand(context.Background(), "demo-stack", StageApply, Credentials{})
	require.NoError(t, err)

	_, err = gw.StartCommand(context.Background(), "demo-stack", StageApply, Credentials{})
	assert.Error(t, err)

	require.NoError(t, gw.CancelRun(context.Background()))
}

func TestStartCommandUnknownDirectory(t *testing.T) {
	gw := newTestGateway(t, "exit 0")

	_, err := gw.StartCommand(context.Background(), "missing", StageInit, Credentials{})
	assert.Error(t, err)
}

func TestStatusIsIdempotent(t *testing.T) {
	gw := newTestGateway(t, "echo done\nexit 0")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StageInit, Credentials{})
	require.NoError(t, err)
	first := awaitTerminal(t, gw, seq)

	second, err := gw.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStatusWithoutRun(t *testing.T) {
	gw := newTestGateway(t, "exit 0")

	st, err := gw.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Nil(t, st.Success)
	assert.Zero(t, st.Seq)
}

func TestCancelRunKillsProcess(t *testing.T) {
	gw := newTestGateway(t, "sleep 30")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StageApply, Credentials{})
	require.NoError(t, err)

	require.NoError(t, gw.CancelRun(context.Background()))

	st := awaitTerminal(t, gw, seq)
	require.NotNil(t, st.Success)
	assert.False(t, *st.Success)
}

func TestResetRunStateWhileRunning(t *testing.T) {
	gw := newTestGateway(t, "sleep 2")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StageInit, Credentials{})
	require.NoError(t, err)

	assert.Error(t, gw.ResetRunState(context.Background()))

	require.NoError(t, gw.CancelRun(context.Background()))
	awaitTerminal(t, gw, seq)

	require.NoError(t, gw.ResetRunState(context.Background()))

	st, err := gw.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Seq)
}

func TestCanRollbackFromStateFile(t *testing.T) {
	gw := newTestGateway(t, "exit 0")
	path := saveConfig(t, gw, "demo-stack")

	state := `{"version":4,"resources":[{"type":"null_resource","name":"demo"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(path, "terraform.tfstate"), []byte(state), 0o644))

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StagePlan, Credentials{})
	require.NoError(t, err)

	st := awaitTerminal(t, gw, seq)
	assert.True(t, st.CanRollback)
}

func TestCanRollbackDuringApply(t *testing.T) {
	gw := newTestGateway(t, "exit 0")
	saveConfig(t, gw, "demo-stack")

	seq, err := gw.StartCommand(context.Background(), "demo-stack", StageApply, Credentials{})
	require.NoError(t, err)

	st := awaitTerminal(t, gw, seq)
	assert.True(t, st.CanRollback)
}

func TestStageArgs(t *testing.T) {
	args, err := stageArgs(StageApply)
	require.NoError(t, err)
	assert.Contains(t, args, "-auto-approve")

	_, err = stageArgs(Stage("validate"))
	assert.Error(t, err)
}
