package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"schoolops_backend/internals/configs"
	database "schoolops_backend/internals/databases"
	"schoolops_backend/internals/features/school/sessions/sessions/repository"
	"schoolops_backend/internals/features/school/sessions/sessions/scheduler"
	sessService "schoolops_backend/internals/features/school/sessions/sessions/service"
	helper "schoolops_backend/internals/helpers"
	"schoolops_backend/internals/helpers/cache"
	"schoolops_backend/internals/helpers/dbtime"
	"schoolops_backend/internals/helpers/logger"
	middlewares "schoolops_backend/internals/middlewares"
	routes "schoolops_backend/internals/route"
	"schoolops_backend/internals/seeds"
)

func main() {
	configs.LoadEnv()

	lg, err := logger.New(configs.LogLevel, configs.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := dbtime.SetDefaultTimezone(configs.DefaultTimezone); err != nil {
		lg.Warn("unknown DEFAULT_TIMEZONE, using UTC", zap.String("tz", configs.DefaultTimezone), zap.Error(err))
	}

	// 🔌 DB connect + pool + warm-up
	if err := database.ConnectDB(lg); err != nil {
		lg.Fatal("db", zap.Error(err))
	}
	database.TunePool(lg)

	// one-shot commands: `migrate`, `seed`
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			if err := database.Migrate(database.DB, lg); err != nil {
				lg.Fatal("migrate", zap.Error(err))
			}
			return
		case "seed":
			if err := seeds.RunAllSeeds(database.DB, lg); err != nil {
				lg.Fatal("seed", zap.Error(err))
			}
			return
		}
	}
	if configs.DBAutoMigrate {
		if err := database.Migrate(database.DB, lg); err != nil {
			lg.Fatal("migrate", zap.Error(err))
		}
	}
	database.WarmUpQueries(lg)

	// cache: Redis when configured, in-process otherwise
	var port cache.Port
	if configs.RedisURL != "" {
		rc, err := cache.NewRedisFromURL(configs.RedisURL, configs.CacheTTL, lg)
		if err != nil {
			lg.Fatal("redis", zap.Error(err))
		}
		defer func() { _ = rc.Close() }()
		port = rc
	} else {
		port = cache.NewMemoryCache(configs.CacheTTL)
	}

	svc := sessService.NewSessionService(repository.New(database.DB).Store(), port, sessService.Options{
		RowTimeout:             configs.RowTimeout,
		DefaultTimezone:        configs.DefaultTimezone,
		MaterializeHorizonDays: configs.MaterializeHorizonDays,
		Logger:                 lg,
	})

	app := fiber.New(fiber.Config{
		// 🚀 JSON
		JSONEncoder:             sonic.Marshal,
		JSONDecoder:             sonic.Unmarshal,
		ErrorHandler:            helper.FromFiberError,
		DisableStartupMessage:   true,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          []string{"0.0.0.0/0"},
	})
	middlewares.SetupMiddlewares(app, lg)

	routes.SetupRoutes(app, routes.Deps{
		JWTSecret: configs.JWTSecret,
		Sessions:  svc,
		Ping:      database.Ping,
		Log:       lg,
	})

	// ⏱ scheduler after DB is ready
	job, err := scheduler.StartMaterializeJob(svc, scheduler.Config{
		Schedule: configs.AutoMaterializeCron,
		Location: dbtime.GetAcademyLocation(nil),
	}, lg)
	if err != nil {
		lg.Fatal("scheduler", zap.Error(err))
	}

	// 🔒 keep-alive & timeouts
	app.Server().ReadTimeout = 15 * time.Second
	app.Server().WriteTimeout = 30 * time.Second
	app.Server().IdleTimeout = 90 * time.Second

	addr := "0.0.0.0:" + configs.GetEnv("PORT", "3000")
	go func() {
		lg.Info("listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			lg.Fatal("server", zap.Error(err))
		}
	}()

	// graceful shutdown: stop cron, drain HTTP, close pool
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if job != nil {
		select {
		case <-job.Stop().Done():
		case <-ctx.Done():
		}
	}
	_ = app.ShutdownWithContext(ctx)
	if err := database.Close(); err != nil {
		lg.Warn("db close", zap.Error(err))
	}
	lg.Info("bye")
}
