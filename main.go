package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/handlers"
	"ranked-queue-service/middleware"
	"ranked-queue-service/services"
	"ranked-queue-service/store"
	"ranked-queue-service/utils"
	"ranked-queue-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "ranked-queue-service",
		Usage:  "ranked tournament queue backend",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the queue sweeper",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create or update the postgres tables",
				Action: migrate,
			},
			{
				Name:      "seal-password",
				Usage:     "print the stored form of a player password",
				ArgsUsage: "[password]",
				Action:    sealPassword,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store: ", err)
	}

	verifier, err := services.NewCredentialVerifier(cfg.SecretKey)
	if err != nil {
		log.Fatal("failed to build credential verifier: ", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []services.Option{
		services.WithLogger(logger),
		services.WithMetrics(services.NewMetrics(reg)),
	}
	if cfg.Archive.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.Archive)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		opts = append(opts, services.WithArchiver(services.NewTournamentArchiver(r2)))
		log.Printf("✅ Tournament archive enabled (bucket %s)", cfg.Archive.Bucket)
	} else {
		log.Println("⚠️  R2_BUCKET_NAME not set, tournament archive disabled")
	}

	rankedService := services.NewRankedService(st, verifier, cfg.Rules, opts...)

	app := fiber.New(fiber.Config{
		AppName:   "ranked-queue-service",
		BodyLimit: 64 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-Service-Token",
		MaxAge:       86400,
	}))

	handlers.SetupOpsRoutes(app, reg)
	handlers.SetupRankedRoutes(app,
		&handlers.RankedHandler{Service: rankedService, Logger: logger},
		middleware.ServiceTokenMiddleware(cfg.ServiceToken),
	)

	sweeper := workers.NewQueueSweeper(rankedService, cfg.SweepEvery, logger)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("failed to start queue sweeper: ", err)
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()

	log.Printf("✅ Server running on %s (store: %s)", cfg.ListenAddr, cfg.StoreDriver)
	log.Printf("✅ Ranked rules: min players %d, max attempts %d, timeout %s",
		cfg.Rules.MinPlayers, cfg.Rules.MaxAttempts, cfg.Rules.QueueTimeout)

	<-ctx.Done()
	log.Println("Shutting down server...")
	sweeper.Stop()
	return app.ShutdownWithTimeout(10 * time.Second)
}

func migrate(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable not set")
	}
	db, err := store.OpenPostgres(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Println("✅ Database migrated")
	return nil
}

func sealPassword(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	verifier, err := services.NewCredentialVerifier(cfg.SecretKey)
	if err != nil {
		return err
	}

	password := c.Args().First()
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < cfg.Rules.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", cfg.Rules.MinPasswordLength)
	}

	blob, err := verifier.Seal(password)
	if err != nil {
		return err
	}
	fmt.Println(blob)
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return store.NewGormStore(db), nil
	case config.StoreDriverREST:
		return store.NewRESTStore(cfg.StoreURL, cfg.StoreKey, cfg.StoreRPS, utils.NewHTTPClient(10*time.Second)), nil
	case config.StoreDriverMemory:
		log.Println("⚠️  Using the in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
