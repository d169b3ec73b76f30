package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/edu-backoffice/internal/tenant"
)

// Config holds the complete application configuration, loadable from
// environment variables (BACKOFFICE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	RedisURL     string        `usage:"Redis URL for the course cache; empty disables caching" flag:"redis-url"`
	CacheTTL     time.Duration `default:"10m" usage:"Lifetime of cached sales figures" flag:"cache-ttl"`
	Gateway      GatewayConfig
	Tenants      TenantsConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// GatewayConfig points at the payment gateway API.
type GatewayConfig struct {
	BaseURL string        `default:"https://api.tosspayments.com" usage:"Gateway API base URL" flag:"gateway-url"`
	Timeout time.Duration `default:"10s" usage:"Gateway request timeout" flag:"gateway-timeout"`
}

// TenantsConfig lists the brands. A tenant without a database URL is not
// served.
type TenantsConfig struct {
	Cojooboo TenantConfig
	Ivy      TenantConfig
}

// TenantConfig is one brand's database and merchant account.
// AmountIsNetOfCancel is set for databases whose payment amount already has
// cancellations subtracted.
type TenantConfig struct {
	DatabaseURL            string `usage:"PostgreSQL connection URL"`
	GatewaySecretKey       string `usage:"Gateway secret key for this merchant"`
	FreeOrderPrefix        string `default:"free_" usage:"Gateway order id prefix of free orders"`
	AmountIsNetOfCancel    bool   `default:"false" usage:"Payment amounts are stored net of cancellations"`
	ReconcileDryRunDefault bool   `default:"true" usage:"Batch endpoints preview unless dryRun=false"`
}

// RateLimitConfig controls the per-key sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Each calls fn for every configured tenant in a stable order.
func (t TenantsConfig) Each(fn func(id tenant.ID, c TenantConfig) error) error {
	for _, id := range tenant.All {
		c := t.get(id)
		if c.DatabaseURL == "" {
			continue
		}
		if err := fn(id, c); err != nil {
			return err
		}
	}
	return nil
}

func (t TenantsConfig) get(id tenant.ID) TenantConfig {
	switch id {
	case tenant.Cojooboo:
		return t.Cojooboo
	case tenant.Ivy:
		return t.Ivy
	}
	return TenantConfig{}
}

func (t *TenantsConfig) ptr(id tenant.ID) *TenantConfig {
	switch id {
	case tenant.Cojooboo:
		return &t.Cojooboo
	case tenant.Ivy:
		return &t.Ivy
	}
	return nil
}

// Count returns how many tenants have a database configured.
func (t TenantsConfig) Count() int {
	var n int
	_ = t.Each(func(tenant.ID, TenantConfig) error { n++; return nil })
	return n
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults.
func LoadConfig() (*Config, error) {
	cfg, err := load(false)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTenantsConfig loads the same sources without flags, for tools that
// define their own flag set and need only tenant databases.
func LoadTenantsConfig() (*Config, error) {
	cfg, err := load(true)
	if err != nil {
		return nil, err
	}
	if cfg.Tenants.Count() == 0 {
		return nil, errNoTenant
	}
	return cfg, nil
}

var errNoTenant = errors.New("no tenant configured: set BACKOFFICE_TENANTS_IVY_DATABASE_URL or DATABASE_URL")

func load(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BACKOFFICE",
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/backoffice/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Tenants.Count() == 0 {
		return errNoTenant
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set BACKOFFICE_API_KEY_PEPPER")
	}
	return nil
}

// applyPlatformDefaults maps DATABASE_URL to the first tenant and PORT to
// the listen address, as set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if v := os.Getenv("DATABASE_URL"); v != "" && c.Tenants.Count() == 0 {
		c.Tenants.ptr(tenant.All[0]).DatabaseURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
