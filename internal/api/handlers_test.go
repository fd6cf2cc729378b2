package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/state"
	"github.com/pcarvalho/stackwizard/internal/templates"
	"github.com/pcarvalho/stackwizard/internal/validation"
)

// stubGateway completes every started run immediately and successfully
type stubGateway struct {
	mu      sync.Mutex
	seq     uint64
	current *gateway.RunStatus
	opened  []string
}

func (g *stubGateway) ResetRunState(ctx context.Context) error { return nil }

func (g *stubGateway) SaveConfiguration(ctx context.Context, req gateway.SaveConfigRequest) (string, error) {
	return "/deployments/" + req.Name, nil
}

func (g *stubGateway) StartCommand(ctx context.Context, name string, stage gateway.Stage, creds gateway.Credentials) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ok := true
	g.current = &gateway.RunStatus{
		Command:     string(stage),
		Output:      string(stage) + " complete",
		Success:     &ok,
		CanRollback: stage == gateway.StageApply,
		Seq:         g.seq,
	}
	return g.seq, nil
}

func (g *stubGateway) StartDestroy(ctx context.Context, name string, creds gateway.Credentials) (uint64, error) {
	return g.StartCommand(ctx, name, gateway.StageDestroy, creds)
}

func (g *stubGateway) Status(ctx context.Context) (*gateway.RunStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return &gateway.RunStatus{}, nil
	}
	st := *g.current
	return &st, nil
}

func (g *stubGateway) CancelRun(ctx context.Context) error { return nil }

func (g *stubGateway) OpenFolder(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.opened = append(g.opened, path)
	return nil
}

const testTemplate = `
id: aws-vpc
name: AWS VPC
cloud: aws
files:
  main.tf: resource "aws_vpc" "main" {}
variables:
  - name: region
    type: string
    required: true
`

type testEnv struct {
	server *httptest.Server
	gw     *stubGateway
	orch   *orchestrator.Orchestrator
	repo   *state.Repository
}

func setupAPI(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, state.AutoMigrate(db))
	repo := state.NewRepository(db)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aws-vpc.yaml"), []byte(testTemplate), 0o644))
	catalog, err := templates.Load(dir, zerolog.Nop())
	require.NoError(t, err)

	gw := &stubGateway{}
	orch := orchestrator.New(gw, orchestrator.Options{
		Logger:           zerolog.Nop(),
		Sink:             state.NewSink(repo, zerolog.Nop()),
		WaitInterval:     time.Millisecond,
		ApplyInterval:    time.Millisecond,
		RollbackInterval: time.Millisecond,
	})
	t.Cleanup(orch.Dispose)

	validationSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validation.Result{Valid: true})
	}))
	t.Cleanup(validationSrv.Close)

	server := NewServer(Deps{
		DB:        db,
		Orch:      orch,
		Catalog:   catalog,
		Gateway:   gw,
		Repo:      repo,
		Validator: validation.NewClient(validationSrv.URL, time.Second, zerolog.Nop()),
	})

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, gw: gw, orch: orch, repo: repo}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()

	var reader bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reader).Encode(body))
	}

	resp, err := http.Post(e.server.URL+path, "application/json", &reader)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) getStatus(t *testing.T) DeploymentStatusResponse {
	t.Helper()

	resp, err := http.Get(e.server.URL + "/api/v1/deployment/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status DeploymentStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}

func (e *testEnv) awaitStep(t *testing.T, step string) DeploymentStatusResponse {
	t.Helper()

	var status DeploymentStatusResponse
	require.Eventually(t, func() bool {
		status = e.getStatus(t)
		return status.Step == step
	}, 2*time.Second, 5*time.Millisecond, "never reached step %s", step)
	return status
}

func preparePayload() PrepareDeploymentRequest {
	return PrepareDeploymentRequest{
		TemplateID: "aws-vpc",
		Variables:  map[string]interface{}{"region": "us-east-1"},
		Credentials: CredentialsRequest{
			Cloud: "aws",
			Env:   map[string]string{"AWS_ACCESS_KEY_ID": "AKIA"},
		},
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestListTemplates(t *testing.T) {
	env := setupAPI(t)

	resp, err := http.Get(env.server.URL + "/api/v1/templates")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []TemplateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "aws-vpc", list[0].ID)
	assert.Equal(t, "aws", list[0].Cloud)
}

func TestPrepareFlowReachesReview(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := env.awaitStep(t, "review")
	require.NotNil(t, status.Record)
	assert.NotEmpty(t, status.Record.Name)
	assert.False(t, status.CanCancel)
}

func TestPrepareRejectsUnknownTemplate(t *testing.T) {
	env := setupAPI(t)

	payload := preparePayload()
	payload.TemplateID = "azure-aks"

	resp := env.post(t, "/api/v1/deployment/prepare", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPrepareRejectsMissingVariables(t *testing.T) {
	env := setupAPI(t)

	payload := preparePayload()
	payload.Variables = nil

	resp := env.post(t, "/api/v1/deployment/prepare", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfirmOutsideReviewConflicts(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/confirm", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFullDeploymentFlow(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	env.awaitStep(t, "review")

	resp = env.post(t, "/api/v1/deployment/confirm", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	status := env.awaitStep(t, "complete")
	require.NotNil(t, status.RunStatus)
	assert.True(t, status.RunStatus.CanRollback)
}

func TestRollbackAfterDeployment(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	env.awaitStep(t, "review")
	resp = env.post(t, "/api/v1/deployment/confirm", nil)
	resp.Body.Close()
	env.awaitStep(t, "complete")

	resp = env.post(t, "/api/v1/deployment/rollback", RollbackRequest{KeepRollingBackOnSuccess: true})
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		status := env.getStatus(t)
		return status.Step == "complete" && status.Record != nil && status.Record.IsRollingBack
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRollbackWithoutDeploymentConflicts(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/rollback", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestResetClearsState(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	env.awaitStep(t, "review")

	resp = env.post(t, "/api/v1/deployment/reset", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status := env.getStatus(t)
	assert.Equal(t, "ready", status.Step)
	assert.Nil(t, status.Record)
}

func TestOpenFolder(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/open-folder", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no record yet")

	resp = env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	env.awaitStep(t, "review")

	resp = env.post(t, "/api/v1/deployment/open-folder", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, env.gw.opened, 1)
}

func TestValidateCredentialsProxy(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/validate-credentials", validation.Request{
		Cloud:       "aws",
		Credentials: map[string]string{"AWS_ACCESS_KEY_ID": "AKIA"},
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result validation.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Valid)
}

func TestListRecordsAfterDeployment(t *testing.T) {
	env := setupAPI(t)

	resp := env.post(t, "/api/v1/deployment/prepare", preparePayload())
	resp.Body.Close()
	env.awaitStep(t, "review")

	var list ListRecordsResponse
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.server.URL + "/api/v1/records")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
		return list.Total == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "review", list.Records[0].Step)
	assert.Equal(t, "aws-vpc", list.Records[0].TemplateID)
}
