package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/chathttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/docstore"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/floodguard"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/portfolio"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/portfoliohttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/webassets"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// values already in the environment win over the file
	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "env file error:", err)
		os.Exit(1)
	}

	// Fill in config from environment variables with prefix PORTFOLIO_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = slog.LevelError
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"store_backend", conf.StoreBackend,
		"store_s3_bucket", conf.StoreS3Bucket,
		"ratelimit_backend", conf.RateLimitBackend,
		"chat_max_requests", conf.ChatMaxRequests,
		"chat_window", conf.ChatWindow,
		"public_model", conf.PublicModel,
		"admin_model", conf.AdminModel,
		"admin_enabled", conf.AdminToken != "",
	)

	// Setup metrics first so the profiler can report its state
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          prof.DefaultTags("server", vi),
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Attributes: map[string]string{
			"portfolio.store_backend":     conf.StoreBackend,
			"portfolio.ratelimit_backend": conf.RateLimitBackend,
		},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is only needed for the S3 store and SSM-held keys
	var s3Client *s3.Client
	var ssmClient *ssm.Client
	if conf.NeedsAWS() {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		s3Client = s3.NewFromConfig(awsCfg)
		ssmClient = ssm.NewFromConfig(awsCfg)
	}

	// document store behind the portfolio service
	store, err := newStore(ctx, L, conf, s3Client)
	if err != nil {
		L.Error(ctx, err, "failed to set up document store", "backend", conf.StoreBackend)
		os.Exit(1)
	}
	instrumented := docstore.Instrument(store, conf.StoreBackend, m.ObserveDocstore)

	portfolioSvc := portfolio.NewService(instrumented,
		portfolio.WithLogger(L.With("component", "portfolio")),
		portfolio.WithCacheObserver(m.ObserveCache),
	)

	// chat rate limiters, public and admin counted separately
	publicLimiter, adminLimiter, closeLimiters := newChatLimiters(ctx, L, m, conf)
	defer closeLimiters()

	// language model clients; a missing key leaves that endpoint answering 503
	var secretStore *secrets.SSM
	if ssmClient != nil {
		secretStore = secrets.NewSSM(ssmClient)
	}
	publicGen, adminGen := newGenerators(ctx, L, conf, secretStore)

	var adminAuth func(http.Handler) http.Handler
	if conf.AdminToken != "" {
		adminAuth = httpmw.AdminToken(conf.AdminToken)
	} else {
		L.Info(ctx, "no admin token configured, admin routes disabled")
	}

	chatAPI, err := chathttp.NewAPI(chathttp.Options{
		Logger:        L.With("component", "chat"),
		PublicLimiter: publicLimiter,
		AdminLimiter:  adminLimiter,
		Public:        publicGen,
		Admin:         adminGen,
		AdminModel:    conf.AdminModel,
		Portfolio:     portfolioSvc,
		Metrics:       m,
		AdminAuth:     adminAuth,
		MaxRequests:   conf.ChatMaxRequests,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create chat API")
		os.Exit(1)
	}
	portfolioAPI := portfoliohttp.NewAPI(portfolioSvc, L.With("component", "portfolio_api"), adminAuth)

	// per-address burst guard in front of every public route
	guard := floodguard.New(ctx,
		floodguard.WithRate(conf.FloodRate, conf.FloodBurst),
		floodguard.WithOnDenied(func(ip string) {
			m.IncFloodDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the table
		floodguard.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "flood guard triggered", "ip", ip)
		}),
		floodguard.WithOnCapacity(func(ip string) {
			m.IncFloodCapacity()
		}),
	)

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// ready while the gate is open and the document store answers
	readiness := health.All(
		gate.Probe(),
		health.WithTimeout(health.CheckFunc(instrumented.Ping), 2*time.Second),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  guard.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes: func(r chi.Router) {
			chatAPI.RegisterRoutes(r)
			portfolioAPI.RegisterRoutes(r)
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener port")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops listener serves metrics, health checks and pprof
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if the security group is ever misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "drain_delay", conf.DrainDelay)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// newStore returns the configured document store
func newStore(ctx context.Context, L log.Logger, conf cfg.App, s3Client *s3.Client) (docstore.Store, error) {
	switch conf.StoreBackend {
	case cfg.StoreS3:
		return docstore.NewS3(s3Client, docstore.S3Options{
			Bucket: conf.StoreS3Bucket,
			Prefix: conf.StoreS3Prefix,
		})
	default:
		mem := docstore.NewMemory()
		if conf.StoreSeedFile != "" {
			if err := mem.Seed(ctx, conf.StoreSeedFile); err != nil {
				return nil, err
			}
			L.Info(ctx, "seeded in-memory store", "path", conf.StoreSeedFile)
		} else {
			if err := mem.Load(ctx, webassets.SeedName, webassets.DefaultSeed()); err != nil {
				return nil, err
			}
			L.Warn(ctx, "no seed file configured, serving the embedded demo portfolio")
		}
		return mem, nil
	}
}

// newChatLimiters returns the public and admin chat limiters and a func
// releasing any backend connection.
func newChatLimiters(ctx context.Context, L log.Logger, m *metrics.ServerMetrics, conf cfg.App) (ratelimit.Limiter, ratelimit.Limiter, func()) {
	if conf.RateLimitBackend == cfg.RateLimitRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
			DB:       conf.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			// the limiter fails open, so keep serving
			L.Error(ctx, err, "redis unreachable at startup, chat limits not enforced until it recovers", "redis_addr", conf.RedisAddr)
		}
		cancel()

		onBackendError := func(err error) {
			m.IncRateLimitBackendError()
			L.Warn(ctx, "rate limit backend error, allowing request", "err", err)
		}
		opts := func(scope string) ratelimit.RedisOptions {
			return ratelimit.RedisOptions{
				Scope:          scope,
				Max:            conf.ChatMaxRequests,
				Window:         conf.ChatWindow,
				OnBackendError: onBackendError,
			}
		}
		public := ratelimit.NewRedis(client, opts(chathttp.EndpointPublic))
		admin := ratelimit.NewRedis(client, opts(chathttp.EndpointAdmin))
		return public, admin, func() { _ = client.Close() }
	}

	newMem := func(endpoint string) *ratelimit.FixedWindow {
		return ratelimit.New(ctx,
			ratelimit.WithLimit(conf.ChatMaxRequests, conf.ChatWindow),
			// log once per identity per window
			ratelimit.WithOnFirstDenied(func(identity string) {
				L.Info(ctx, "chat limit reached", "endpoint", endpoint, "identity", identity)
			}),
		)
	}
	return newMem(chathttp.EndpointPublic), newMem(chathttp.EndpointAdmin), func() {}
}

// newGenerators resolves the Gemini keys and builds the public and admin
// generators. The public endpoint uses its own key when one is set.
func newGenerators(ctx context.Context, L log.Logger, conf cfg.App, ss *secrets.SSM) (public, admin llm.Generator) {
	adminKey, err := ss.Resolve(ctx, conf.GeminiAPIKey, conf.GeminiAPIKeySSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve gemini api key")
	}
	publicKey, err := ss.Resolve(ctx, conf.GeminiPublicAPIKey, conf.GeminiPublicAPIKeySSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve public gemini api key")
	}
	if publicKey == "" {
		publicKey = adminKey
	}

	newGen := func(key, model, endpoint string) llm.Generator {
		if key == "" {
			L.Warn(ctx, "no gemini api key, chat endpoint disabled", "endpoint", endpoint)
			return nil
		}
		g, err := llm.NewGemini(ctx, llm.GeminiOptions{APIKey: key, Model: model})
		if err != nil {
			L.Error(ctx, err, "failed to create gemini client", "endpoint", endpoint, "model", model)
			return nil
		}
		return g
	}
	return newGen(publicKey, conf.PublicModel, chathttp.EndpointPublic),
		newGen(adminKey, conf.AdminModel, chathttp.EndpointAdmin)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
