// Command backoffice-api serves the payment back-office API for every
// configured tenant.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/edu-backoffice/internal/app"
)

func main() {
	app.Run(run)
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
	cfg, err := appkg.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "config")
	}
	return appkg.Run(ctx, lg, m, cfg)
}
