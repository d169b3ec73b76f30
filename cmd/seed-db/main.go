// Command seed-db applies the schema to every configured tenant database and
// stores an operator API key in the first one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/edu-backoffice/internal/app"
	"github.com/xenking/edu-backoffice/internal/domain/auth"
	"github.com/xenking/edu-backoffice/internal/storage/postgres"
)

func main() {
	var (
		keyID  string
		name   string
		apiKey string
		scopes string
	)
	flag.StringVar(&keyID, "id", "default", "API key id")
	flag.StringVar(&name, "name", "Back office operator", "API key display name")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or BACKOFFICE_SEED_API_KEY env)")
	flag.StringVar(&scopes, "scopes", auth.ScopeAdmin, "comma separated scopes")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if apiKey == "" {
		apiKey = os.Getenv("BACKOFFICE_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or BACKOFFICE_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	info := auth.APIKeyInfo{ID: keyID, Name: name, Scopes: splitScopes(scopes)}
	if err := run(ctx, info, apiKey); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed", zap.String("id", keyID), zap.Strings("scopes", info.Scopes))
}

func run(ctx context.Context, info auth.APIKeyInfo, apiKey string) error {
	cfg, err := app.LoadTenantsConfig()
	if err != nil {
		return err
	}
	if cfg.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set BACKOFFICE_API_KEY_PEPPER")
	}

	// Opening tenants applies the schema to each database.
	tenants, err := app.OpenTenants(ctx, cfg.Tenants)
	if err != nil {
		return err
	}
	defer app.CloseTenants(tenants)

	first, err := tenants.Get(tenants.IDs()[0])
	if err != nil {
		return err
	}
	info.KeyHash = auth.Hash([]byte(cfg.APIKeyPepper), apiKey)
	zctx.From(ctx).Info("Storing API key", zap.String("tenant", string(first.ID)))
	return postgres.NewAPIKeyRepository(first.Pool).Upsert(ctx, info)
}

func splitScopes(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
