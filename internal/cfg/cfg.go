package cfg

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// EnvPrefix is prepended to flag names to form environment variable names.
const EnvPrefix = "PORTFOLIO_"

const (
	StoreMemory = "memory"
	StoreS3     = "s3"

	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	DrainDelay        time.Duration

	// proxies in front of the public listener
	TrustedProxyHops int
	FloodRate        float64
	FloodBurst       int

	StoreBackend  string
	StoreS3Bucket string
	StoreS3Prefix string
	StoreSeedFile string

	RateLimitBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ChatMaxRequests  int
	ChatWindow       time.Duration

	GeminiAPIKey               string
	GeminiAPIKeySSMParam       string
	GeminiPublicAPIKey         string
	GeminiPublicAPIKeySSMParam string
	PublicModel                string
	AdminModel                 string
	AdminToken                 string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 60*time.Second, "how long to fail readiness before stopping listeners on shutdown")

	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "reverse proxies in front of the public port whose X-Forwarded-For entries are trusted (0..10)")
	fs.Float64Var(&c.FloodRate, "flood-rate", 10, "per-ip request refill rate per second on every route")
	fs.IntVar(&c.FloodBurst, "flood-burst", 30, "per-ip request burst on every route")

	fs.StringVar(&c.StoreBackend, "store-backend", StoreMemory, "portfolio document store: memory|s3")
	fs.StringVar(&c.StoreS3Bucket, "store-s3-bucket", "", "s3 bucket holding portfolio documents")
	fs.StringVar(&c.StoreS3Prefix, "store-s3-prefix", "portfolio", "s3 key prefix for portfolio documents")
	fs.StringVar(&c.StoreSeedFile, "store-seed-file", "", "json file to seed the memory store from")

	fs.StringVar(&c.RateLimitBackend, "ratelimit-backend", RateLimitMemory, "chat rate limit state: memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "localhost:6379", "redis host:port for the shared rate limit backend")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.IntVar(&c.ChatMaxRequests, "chat-max-requests", 10, "chat messages allowed per identity per window")
	fs.DurationVar(&c.ChatWindow, "chat-window", 24*time.Hour, "chat rate limit window")

	fs.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "Gemini API key for the admin chat")
	fs.StringVar(&c.GeminiAPIKeySSMParam, "gemini-api-key-ssm-param", "", "SSM parameter holding the admin Gemini API key")
	fs.StringVar(&c.GeminiPublicAPIKey, "gemini-public-api-key", "", "Gemini API key for the public chat")
	fs.StringVar(&c.GeminiPublicAPIKeySSMParam, "gemini-public-api-key-ssm-param", "", "SSM parameter holding the public Gemini API key")
	fs.StringVar(&c.PublicModel, "public-model", "gemini-2.0-flash", "model used by the public chat")
	fs.StringVar(&c.AdminModel, "admin-model", "gemini-2.5-flash", "model used by the admin chat")
	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for /api/admin routes (admin routes disabled when empty)")
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set win and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return xerrors.Wrapf(err, "load %s", path)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must not be negative (got %s)", c.DrainDelay))
	}

	// Proxy and burst guard
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..10 (got %d)", c.TrustedProxyHops))
	}
	if c.FloodRate <= 0 {
		errs = append(errs, fmt.Errorf("FLOOD_RATE must be positive (got %g)", c.FloodRate))
	}
	if c.FloodBurst < 1 {
		errs = append(errs, fmt.Errorf("FLOOD_BURST must be at least 1 (got %d)", c.FloodBurst))
	}

	// Document store
	switch c.StoreBackend {
	case StoreMemory:
	case StoreS3:
		if c.StoreS3Bucket == "" {
			errs = append(errs, fmt.Errorf("STORE_S3_BUCKET required when STORE_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q (must be memory|s3)", c.StoreBackend))
	}

	// Chat rate limiting
	switch c.RateLimitBackend {
	case RateLimitMemory:
	case RateLimitRedis:
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must not be negative (got %d)", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RATELIMIT_BACKEND %q (must be memory|redis)", c.RateLimitBackend))
	}
	if c.ChatMaxRequests < 1 {
		errs = append(errs, fmt.Errorf("CHAT_MAX_REQUESTS must be at least 1 (got %d)", c.ChatMaxRequests))
	}
	if c.ChatWindow < time.Second {
		errs = append(errs, fmt.Errorf("CHAT_WINDOW must be at least 1s (got %s)", c.ChatWindow))
	}

	// A key given both ways is ambiguous
	if c.GeminiAPIKey != "" && c.GeminiAPIKeySSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of GEMINI_API_KEY and GEMINI_API_KEY_SSM_PARAM"))
	}
	if c.GeminiPublicAPIKey != "" && c.GeminiPublicAPIKeySSMParam != "" {
		errs = append(errs, fmt.Errorf("set only one of GEMINI_PUBLIC_API_KEY and GEMINI_PUBLIC_API_KEY_SSM_PARAM"))
	}
	if c.PublicModel == "" || c.AdminModel == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_MODEL and ADMIN_MODEL must not be empty"))
	}
	if c.AdminToken != "" && len(c.AdminToken) < 16 {
		errs = append(errs, fmt.Errorf("ADMIN_TOKEN must be at least 16 characters"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c App) NeedsAWS() bool {
	return c.StoreBackend == StoreS3 || c.GeminiAPIKeySSMParam != "" || c.GeminiPublicAPIKeySSMParam != ""
}
