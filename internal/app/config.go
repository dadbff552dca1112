package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Shop      ShopConfig
	Store     StoreConfig
	Cart      CartConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// ShopConfig points at the remote commerce backend's Storefront API.
type ShopConfig struct {
	Domain      string `usage:"Shop domain, e.g. my-shop.myshopify.com" flag:"shop-domain"`
	AccessToken string `usage:"Public storefront access token" flag:"shop-token"`
	APIVersion  string `default:"2024-01" usage:"Storefront API version" flag:"shop-api-version"`
}

// StoreConfig selects where identity-to-cart mappings persist.
type StoreConfig struct {
	Backend     string `default:"file" usage:"Cart id store backend: memory, file, or postgres"`
	Path        string `default:"cart-ids.json" usage:"File path for the file backend" flag:"store-path"`
	DatabaseURL string `usage:"PostgreSQL URL for the postgres backend (STORE_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// CartConfig tunes the synchronizer.
type CartConfig struct {
	DebounceDelay time.Duration `default:"500ms" usage:"Window coalescing quantity updates into one remote write" flag:"debounce-delay"`
}

// CatalogConfig tunes the product cache.
type CatalogConfig struct {
	Limit int `default:"100" usage:"Max products fetched into the catalog cache"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.Shop.Domain == "" {
		return nil, errors.New("shop domain is required: set STORE_SHOP_DOMAIN")
	}
	if cfg.Shop.AccessToken == "" {
		return nil, errors.New("storefront access token is required: set STORE_SHOP_ACCESSTOKEN")
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.DatabaseURL == "" {
		return nil, errors.New("database URL is required for the postgres backend")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) onto the application configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
