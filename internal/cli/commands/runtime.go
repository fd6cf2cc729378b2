package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/pcarvalho/stackwizard/internal/gateway"
	"github.com/pcarvalho/stackwizard/internal/orchestrator"
	"github.com/pcarvalho/stackwizard/internal/templates"
	"github.com/pcarvalho/stackwizard/pkg/config"
)

// runtime bundles the in-process collaborators the CLI commands drive. The
// CLI uses the same orchestrator as the server, just without HTTP in between.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	gw      *gateway.TerraformGateway
	catalog *templates.Catalog
	orch    *orchestrator.Orchestrator
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	gw, err := gateway.NewTerraformGateway(cfg.Terraform.Binary, cfg.Terraform.WorkspaceRoot, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := templates.Load(cfg.Terraform.TemplateDir, logger)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(gw, orchestrator.Options{
		Logger:           logger,
		WaitInterval:     cfg.Poller.WaitInterval,
		ApplyInterval:    cfg.Poller.ApplyInterval,
		RollbackInterval: cfg.Poller.RollbackInterval,
	})

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		gw:      gw,
		catalog: catalog,
		orch:    orch,
	}, nil
}
