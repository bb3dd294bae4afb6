package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/briangreenhill/mapty/internal/cli"
)

func main() {
	w := os.Stdout
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))

	if err := run(w, os.Args[1:], logger, level); err != nil {
		logger.Error("Error running mapty", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(w io.Writer, args []string, logger *slog.Logger, level *slog.LevelVar) error {
	c := cli.New(w, logger, level)

	if err := c.Run(args); err != nil {
		return err
	}

	return nil
}
