// server runs the live seat-hold and booking API.
//
// Usage:
//
//	server [--config config.yaml] [--migrate] [--seed 8x12]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"

	"github.com/iliyamo/cinema-seat-hold/internal/booking"
	"github.com/iliyamo/cinema-seat-hold/internal/broadcast"
	"github.com/iliyamo/cinema-seat-hold/internal/clock"
	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/holds"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/queue"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/router"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, seed string
	var migrate bool
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "optional YAML config file; environment variables override it")
	flagSet.BoolVar(&migrate, "migrate", true, "create missing tables on startup")
	flagSet.StringVar(&seed, "seed", "", "seed a demo auditorium of ROWSxSEATS (e.g. 8x12) and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := database.EnsureSchema(ctx, db, cfg.DB.Driver); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if seed != "" {
		var rows, perRow int
		if _, err := fmt.Sscanf(seed, "%dx%d", &rows, &perRow); err != nil {
			return fmt.Errorf("--seed wants ROWSxSEATS, got %q", seed)
		}
		res, err := database.Seed(ctx, db, rows, perRow, time.Now().Add(24*time.Hour))
		if err != nil {
			return err
		}
		logger.Info("seeded", "auditorium_id", res.AuditoriumID, "screening_id", res.ScreeningID, "ticket_types", res.TicketTypeIDs)
		return nil
	}

	clk := clock.Real()
	screenings := repository.NewScreeningRepo(db)
	bookings := repository.NewBookingRepo(db)

	store := holds.NewStore(clk, cfg.Hold.TTL, logger)
	defer store.Close()
	bc := broadcast.New(store, bookings, logger)
	defer bc.Close()
	store.SetEmitter(bc)

	var opts []booking.Option
	opts = append(opts, booking.WithLogger(logger), booking.WithClock(clk))
	if cfg.Queue.URL != "" {
		opts = append(opts, booking.WithNotifier(service.NewPublisher(cfg.Queue.URL, logger)))
		if cfg.Queue.ConsumerEnabled {
			consumer := queue.NewConsumer(cfg.Queue.URL, cfg.Queue.LogDir, logger)
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("booking consumer stopped", "err", err)
				}
			}()
		}
	}
	executor := booking.NewExecutor(db, store, bc, opts...)

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting and layout cache disabled")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(cfg.Cache, rdb, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(logger))

	router.RegisterRoutes(e, db)
	router.RegisterSessions(e, &handler.SessionHandler{
		Secret: cfg.JWTSecret, TTL: cfg.SessionTTL, Clock: clk, Log: logger,
	})
	router.RegisterScreenings(e, router.Screening{
		Seats: &handler.SeatHandler{
			Holds: store, Screenings: screenings, Bookings: bookings, TTL: cfg.Hold.TTL, Log: logger,
		},
		Stream: &handler.StreamHandler{
			Broadcaster: bc, Screenings: screenings, Clock: clk,
			Heartbeat: cfg.Hold.HeartbeatInterval, Buffer: cfg.Hold.SubscriberBuffer, Log: logger,
		},
		Bookings: &handler.BookingHandler{Executor: executor, Cache: cache, Log: logger},
		Identity: middleware.SessionIdentity(cfg.JWTSecret),
		Limit:    middleware.NewTokenBucket(cfg.RateLimit, rdb, logger),
		Cache:    cache.Middleware(),
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DB.Driver)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Streams only end when their clients go away, so close them first.
	bc.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			if sid := middleware.SessionID(c); sid != "" {
				attrs = append(attrs, slog.String("session_id", sid))
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}
