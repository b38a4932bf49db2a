package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizlive-service/internal/app"
	"quizlive-service/internal/config"
	"quizlive-service/internal/domain"
	"quizlive-service/internal/infra/memory"
	"quizlive-service/internal/infra/postgres"
	redisinfra "quizlive-service/internal/infra/redis"
	transport "quizlive-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = postgres.NewQuizLoader(pool)
	}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	quizRepo := memory.NewQuizRepository(loader, quizTTL)

	var persistence app.Persistence = memory.NewPersistence()
	if pool != nil {
		persistence = postgres.NewPersistence(pool)
	}

	var store app.SessionStore
	if redisClient != nil {
		relay := redisinfra.NewRelay(redisClient, redisinfra.DefaultRelayChannel)
		store = redisinfra.NewSessionStore(redisClient, redisTTL, relay)
	} else {
		store = memory.NewSessionStore()
	}

	cleanupGrace := config.TTLDuration(cfg.Session.CleanupGrace, app.DefaultCleanupGrace)
	service := app.NewSessionService(store, quizRepo, persistence, app.WithCleanupGrace(cleanupGrace))

	timerInterval := config.TTLDuration(cfg.Timer.Interval, app.DefaultTimerInterval)
	broadcaster := app.NewTimerBroadcaster(store, timerInterval, cfg.Timer.AutoLock, func(sessionID string) error {
		return service.Lock(ctx, sessionID)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go broadcaster.Run(runCtx)

	identity := transport.HeaderIdentity{}
	wsHandler := transport.NewWSHandler(service, identity)
	restHandler := transport.NewRESTHandler(service, identity)

	mux := http.NewServeMux()
	restHandler.Register(mux)
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting session server on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes keeps the server usable without a database; swap the static
// loader for the Postgres one by configuring postgres.url.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:     "quiz-1",
			Title:  "Warm-up",
			Status: domain.QuizPublished,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   "multiple_choice",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points:    10,
					TimeLimit: 30,
				},
				{
					ID:            "q2",
					Type:          "free_text",
					Prompt:        "Name the smallest prime.",
					CorrectAnswer: "2",
					Points:        10,
					TimeLimit:     20,
				},
			},
		},
	}
}
