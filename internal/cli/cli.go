package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briangreenhill/mapty/internal/config"
	"github.com/briangreenhill/mapty/internal/render"
	"github.com/briangreenhill/mapty/internal/web"
	"github.com/briangreenhill/mapty/internal/workout"
)

type CLI struct {
	writer io.Writer
	logger *slog.Logger
	level  *slog.LevelVar
}

// New builds a CLI around logger. level must be the LevelVar logger's
// handler was created with; serve sets it from the loaded config.
func New(w io.Writer, logger *slog.Logger, level *slog.LevelVar) *CLI {
	return &CLI{
		writer: w,
		logger: logger,
		level:  level,
	}
}

func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		c.Usage()
		return nil
	}

	switch args[0] {
	case "serve":
		err := c.Serve(context.Background(), args[1:])
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	case "sample":
		return c.Sample()
	default:
		c.Usage()
	}
	return nil
}

func (c *CLI) Usage() {
	fmt.Fprintf(c.writer, "Usage: mapty [command] [flags]\n--help show this message\n\n\tserve --config --addr\n\tsample\n")
}

// Serve runs the web UI until interrupted.
func (c *CLI) Serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(c.writer)
	var configPath, addr string
	fs.StringVar(&configPath, "config", "", "path to yaml config file")
	fs.StringVar(&addr, "addr", "", "listen address, overrides config")
	fs.Usage = c.Usage

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.configure(configPath, addr)
	if err != nil {
		return err
	}
	logger := c.logger

	newStore, closeStore, err := storeFactory(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessions := web.NewRegistry(logger, cfg, newStore)
	go sessions.Run(ctx)
	defer sessions.Close()

	server := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      web.NewAPI(logger, cfg, sessions),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", slog.Any("error", err))
		}
	}()

	logger.Info("Starting server", slog.String("addr", cfg.HTTPAddress), slog.String("store", cfg.Store))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Error starting server", slog.Any("error", err))
		cancel()
		return err
	}

	return nil
}

// Sample prints the two reference workouts recorded at (39, -12).
func (c *CLI) Sample() error {
	at := workout.Location{Latitude: 39, Longitude: -12}

	run, err := workout.NewRunning(5.2, 24, at, 178)
	if err != nil {
		return err
	}
	ride, err := workout.NewCycling(27, 95, at, 523)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.writer, "%s: %.1f km in %.0f min, %.3f min/km at %.0f spm\n",
		render.Popup(run), run.Distance, run.Duration, run.Pace, run.Cadence)
	fmt.Fprintf(c.writer, "%s: %.1f km in %.0f min, %.2f km/h with %.0f m gain\n",
		render.Popup(ride), ride.Distance, ride.Duration, ride.Speed, ride.ElevationGain)
	return nil
}

// configure loads the config and applies its log level to the CLI logger.
func (c *CLI) configure(configPath, addr string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if addr != "" {
		cfg.HTTPAddress = addr
	}

	c.level.Set(cfg.Level())
	return cfg, nil
}

func storeFactory(ctx context.Context, backend string) (web.StoreFactory, func(), error) {
	if backend == config.StoreMemory {
		return func(string) workout.Store { return workout.NewMemoryStore() }, func() {}, nil
	}

	db, err := workout.OpenMemoryDB()
	if err != nil {
		return nil, nil, err
	}
	if err := workout.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}

	newStore := func(id string) workout.Store { return workout.NewSQLStore(db, id) }
	return newStore, func() { _ = db.Close() }, nil
}
