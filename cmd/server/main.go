package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/cyberguard/internal/ai"
	"github.com/suPer8Hu/cyberguard/internal/auth"
	"github.com/suPer8Hu/cyberguard/internal/chat"
	"github.com/suPer8Hu/cyberguard/internal/config"
	"github.com/suPer8Hu/cyberguard/internal/db"
	"github.com/suPer8Hu/cyberguard/internal/httpapi"
	"github.com/suPer8Hu/cyberguard/internal/models"
	"github.com/suPer8Hu/cyberguard/internal/observability"
	"github.com/suPer8Hu/cyberguard/internal/realtime"
	"github.com/suPer8Hu/cyberguard/internal/report"
	"github.com/suPer8Hu/cyberguard/internal/store/rabbitmq"
	"github.com/suPer8Hu/cyberguard/internal/store/redisstore"
	"github.com/suPer8Hu/cyberguard/internal/throttle"
)

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb, &models.User{}, &chat.Session{}, &chat.Message{}); err != nil {
		return err
	}

	var closers []func() error
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	// report throttle
	var swapper throttle.Swapper
	switch cfg.ThrottleBackend {
	case "redis":
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ThrottleTTL)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		closers = append(closers, rds.Close)
		swapper = rds
	default:
		swapper = throttle.NewMemorySwapper()
	}

	// report transport
	var reporter report.Transport
	switch cfg.ReportTransport {
	case "smtp":
		reporter = report.EmailReporter{
			Mailer: report.NewSMTPMailer(report.SMTPConfig{
				Host: cfg.SMTPHost,
				Port: cfg.SMTPPort,
				User: cfg.SMTPUser,
				Pass: cfg.SMTPPass,
				From: cfg.SMTPFrom,
			}),
			Recipient: cfg.ReportRecipient,
		}
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		closers = append(closers, pub.Close)
		reporter = report.QueueReporter{Pub: pub}
	default:
		reporter = report.LogReporter{Log: log.With("component", "report")}
	}

	// Provider registry; model ids prefixed "ollama/" route to Ollama
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is not set")
		}
		return ai.NewOpenRouterProvider(ai.OpenRouterConfig{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
		}, model), nil
	})
	gateway := ai.NewGateway(reg, ai.GatewayConfig{
		DefaultProvider:   cfg.AIProvider,
		DefaultModel:      cfg.DefaultModel,
		FirstByteTimeout:  cfg.FirstByteTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	})
	if err := gateway.Validate(); err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	svc := chat.NewService(chat.Deps{
		Repo:     chat.NewRepo(gdb),
		Gateway:  gateway,
		Throttle: throttle.New(swapper),
		Reporter: reporter,
		Metrics:  metrics,
		Log:      log.With("component", "chat"),
	}, chat.Config{ContextWindowSize: cfg.ChatContextWindowSize})

	authn := auth.NewJWTAuthenticator(gdb, cfg.JWTSecret)
	rt := realtime.NewRegistry(realtime.Options{
		Authenticator:     authn,
		Pipeline:          svc,
		AuthMode:          cfg.AuthMode,
		AuthDeadline:      cfg.AuthDeadline,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		MessageBurst:      cfg.WSMessageBurst,
		Metrics:           metrics,
		Log:               log.With("component", "realtime"),
	})
	if cfg.AuthMode.AllowsPlaceholder() {
		log.Warn("AUTH_MODE=development: unauthenticated websocket clients are admitted")
	}

	r := httpapi.NewRouter(httpapi.Deps{
		DB:       gdb,
		Cfg:      cfg,
		Chat:     svc,
		Auth:     authn,
		Realtime: rt,
		Gateway:  gateway,
		Reports:  reporter,
		Gatherer: prometheus.DefaultGatherer,
		Log:      log.With("component", "http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr, "auth_mode", cfg.AuthMode, "provider", cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := rt.Shutdown(shutdownCtx); err != nil {
			log.Warn("realtime shutdown", "err", err)
		}
		err := srv.Shutdown(shutdownCtx)
		svc.WaitReports()
		return err
	})
	return g.Wait()
}
