package cliparse

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        int
	DatabaseURL string
	LogLevel    string
	AppURL      string

	// Comma separated list; defaults to the origin of AppURL.
	AllowedOrigins []string

	// Proxies whose X-Forwarded-For hops are believed. Empty means the
	// socket address is the client.
	TrustedProxies []netip.Prefix

	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	StorageBucket      string

	ClientJWTSecret string
	ClientTokenTTL  time.Duration
	LoginRateLimit  int
	LoginRateWindow time.Duration

	StripeSecretKey      string
	StripeWebhookSecret  string
	StripePriceBasic     string
	StripePricePro       string
	StripePriceCredits10 string
	StripePriceCredits50 string

	OpenAIKey   string
	OpenAIModel string

	GDPRGracePeriod time.Duration
}

// StripeEnabled reports whether billing endpoints can talk to Stripe.
func (c Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// AIEnabled reports whether meal plan generation is configured.
func (c Config) AIEnabled() bool {
	return c.OpenAIKey != ""
}

// ParseFlags loads .env, then flags, then falls back to env for anything unset
func ParseFlags(args []string) (Config, error) {
	var cfg Config
	var envFile, origins, proxies string

	flags := flag.NewFlagSet("nutriflow", flag.ContinueOnError)

	flags.StringVar(&envFile, "env", ".env", "Path to .env file (optional)")

	// Network config (can be CLI args or env)
	flags.IntVar(&cfg.Port, "p", 0, "Server port")
	flags.StringVar(&cfg.DatabaseURL, "d", "", "Database URL")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.AppURL, "app-url", "", "Public URL of the web app")
	flags.StringVar(&origins, "origins", "", "Allowed CORS origins, comma separated")
	flags.StringVar(&proxies, "trust-proxy", "", "Trusted proxy IPs or CIDRs, comma separated")

	// Secrets (prefer env variables, but allow CLI for dev)
	flags.StringVar(&cfg.ClientJWTSecret, "client-secret", "", "Client portal token secret (prefer env)")
	flags.DurationVar(&cfg.ClientTokenTTL, "client-ttl", 0, "Client portal token lifetime")
	flags.IntVar(&cfg.LoginRateLimit, "login-limit", 0, "Client login attempts per window")
	flags.DurationVar(&cfg.LoginRateWindow, "login-window", 0, "Client login rate limit window")
	flags.DurationVar(&cfg.GDPRGracePeriod, "gdpr-grace", 0, "Delay before approved deletions run")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	// Fall back to environment variables
	if cfg.Port == 0 {
		if portStr := os.Getenv("PORT"); portStr != "" {
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return Config{}, errors.New("invalid PORT env variable")
			}
			cfg.Port = port
		} else {
			cfg.Port = 3318 // default
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("database URL required (use -d or DATABASE_URL env)")
	}

	cfg.LogLevel = firstNonEmpty(cfg.LogLevel, os.Getenv("LOG_LEVEL"), "info")
	cfg.AppURL = strings.TrimRight(firstNonEmpty(cfg.AppURL, os.Getenv("APP_URL"), "http://localhost:3000"), "/")
	cfg.AllowedOrigins = splitList(firstNonEmpty(origins, os.Getenv("ALLOWED_ORIGINS")))
	if len(cfg.AllowedOrigins) == 0 {
		origin, err := originOf(cfg.AppURL)
		if err != nil {
			return Config{}, err
		}
		cfg.AllowedOrigins = []string{origin}
	}

	var err error
	if cfg.TrustedProxies, err = parsePrefixes(firstNonEmpty(proxies, os.Getenv("TRUSTED_PROXIES"))); err != nil {
		return Config{}, err
	}

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	if cfg.SupabaseURL == "" {
		return Config{}, errors.New("SUPABASE_URL required")
	}
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	if cfg.SupabaseAnonKey == "" {
		return Config{}, errors.New("SUPABASE_ANON_KEY required")
	}
	cfg.SupabaseServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
	cfg.SupabaseJWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	cfg.StorageBucket = firstNonEmpty(os.Getenv("STORAGE_BUCKET"), "client-documents")

	// Secrets - MUST be provided
	if cfg.ClientJWTSecret == "" {
		cfg.ClientJWTSecret = os.Getenv("CLIENT_JWT_SECRET")
	}
	if cfg.ClientJWTSecret == "" {
		return Config{}, errors.New("CLIENT_JWT_SECRET required")
	}
	if len(cfg.ClientJWTSecret) < 32 {
		return Config{}, errors.New("CLIENT_JWT_SECRET must be at least 32 bytes")
	}

	if cfg.ClientTokenTTL, err = durationOr(cfg.ClientTokenTTL, "CLIENT_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateWindow, err = durationOr(cfg.LoginRateWindow, "LOGIN_RATE_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.GDPRGracePeriod, err = durationOr(cfg.GDPRGracePeriod, "GDPR_GRACE_PERIOD", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 5
		if v := os.Getenv("LOGIN_RATE_LIMIT"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return Config{}, errors.New("invalid LOGIN_RATE_LIMIT env variable")
			}
			cfg.LoginRateLimit = n
		}
	}

	// Optional integrations; the endpoints report 503 when unset
	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.StripePriceBasic = os.Getenv("STRIPE_PRICE_BASIC")
	cfg.StripePricePro = os.Getenv("STRIPE_PRICE_PRO")
	cfg.StripePriceCredits10 = os.Getenv("STRIPE_PRICE_CREDITS_10")
	cfg.StripePriceCredits50 = os.Getenv("STRIPE_PRICE_CREDITS_50")

	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = firstNonEmpty(os.Getenv("OPENAI_MODEL"), "gpt-4o-mini")

	return cfg, nil
}

func durationOr(current time.Duration, env string, def time.Duration) (time.Duration, error) {
	if current != 0 {
		return current, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s env variable", env)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// originOf reduces a URL to scheme://host[:port]
func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid APP_URL %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// parsePrefixes accepts CIDRs or bare addresses
func parsePrefixes(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(s) {
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", part)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", part)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
