package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lmittmann/tint"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"boss-battle-service/internal/app"
	"boss-battle-service/internal/config"
	"boss-battle-service/internal/domain"
	"boss-battle-service/internal/infra/memory"
	pgloader "boss-battle-service/internal/infra/postgres"
	redisinfra "boss-battle-service/internal/infra/redis"
	"boss-battle-service/internal/store"
	memstore "boss-battle-service/internal/store/memory"
	redisstore "boss-battle-service/internal/store/redis"
	transport "boss-battle-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the boss-battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no config file found, starting with defaults", "path", configPath)
		cfg.Battle = config.Defaults()
	} else if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.TemplateLoader = memory.NewStaticTemplateLoader(sampleTemplates())
	if pool != nil {
		loader = pgloader.NewTemplateLoader(pool)
	}

	templateTTL := config.TTLDuration(cfg.Template.TTL, 10*time.Minute)
	var templates app.TemplateRepository
	if redisClient != nil {
		templates = redisinfra.NewTemplateRepository(redisClient, loader, templateTTL)
	} else {
		templates = memory.NewTemplateRepository(loader, templateTTL)
	}

	var st store.Store
	if redisClient != nil {
		st = redisstore.New(redisClient)
	} else {
		st = memstore.New()
	}

	defaults := app.BattleDefaults{
		CountdownSeconds:         cfg.Battle.CountdownSeconds,
		QuestionSeconds:          cfg.Battle.QuestionSeconds,
		IntermissionSeconds:      cfg.Battle.IntermissionSeconds,
		AntiSpamMinIntervalMs:    cfg.Battle.AntiSpamMinIntervalMs,
		FreezeOnWrongSeconds:     cfg.Battle.FreezeOnWrongSeconds,
		FloorMultiplier:          cfg.Battle.FloorMultiplier,
		StudentHearts:            cfg.Battle.StudentHearts,
		GuildHearts:              cfg.Battle.GuildHearts,
		NextGuildFallbackSeconds: cfg.Battle.NextGuildFallbackSeconds,
	}
	service := app.NewBattleService(st, templates, nil, defaults, log, nil)
	handler := transport.NewHandler(service, log)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting boss-battle service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleTemplates seeds the static loader for running without Postgres.
func sampleTemplates() map[string]domain.BattleTemplate {
	return map[string]domain.BattleTemplate{
		"template-1": {
			ID:     "template-1",
			Name:   "Arithmetic Boss",
			BossHP: 100,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Order:  1,
					Prompt: "What is 2 + 2?",
					Format: domain.FormatMultipleChoice,
					Options: []domain.Option{
						{ID: "o1", Text: "3", Correct: false},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5", Correct: false},
					},
					DamageToBoss:      20,
					HeartsLostStudent: 1,
				},
				{
					ID:           "q2",
					Order:        2,
					Prompt:       "What is 7 * 6?",
					Format:       domain.FormatExactMatch,
					Answer:       "42",
					DamageToBoss: 30,
				},
			},
		},
	}
}
