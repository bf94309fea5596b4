package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datakiln/refinery/pkg/logging"
	"github.com/datakiln/refinery/pkg/pipeline"
	"github.com/datakiln/refinery/pkg/prompt"
	"github.com/datakiln/refinery/pkg/schema"
	"github.com/datakiln/refinery/pkg/settings"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultConfig = "config/config.yaml"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to the settings document")
	envFile := fs.String("env", ".env", "path to .env file (ignored if missing)")

	var formatted *bool
	switch cmd {
	case "preprocess", "run":
		formatted = fs.Bool("formatted", true, "input already carries record tags; pass -formatted=false to structure raw text first")
	case "postprocess", "check":
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: refinery %s [flags]\n\nFlags:\n", cmd)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cmd == "check" {
		if err := runCheck(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmtted := true
	if formatted != nil {
		fmtted = *formatted
	}

	if err := run(cmd, *configPath, fmtted); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: refinery <command> [flags]

Commands:
  preprocess   Clean input records and send them through the configured provider
  postprocess  Stamp processed records and write the final output
  run          Preprocess then postprocess in one pass
  check        Validate the settings document and schemas without calling a provider
`)
}

func run(cmd, configPath string, formatted bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := settings.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(s.Processing.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := pipeline.New(s, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	logger.Info("starting",
		zap.String("command", cmd),
		zap.String("provider", s.Provider),
		zap.String("config", configPath),
	)

	switch cmd {
	case "preprocess":
		_, err = p.Preprocess(ctx, formatted)
	case "postprocess":
		_, err = p.Postprocess(ctx)
	case "run":
		err = p.Run(ctx, formatted)
	}

	return err
}

// runCheck validates the settings document structurally, without expanding
// environment placeholders, and parses both schema documents.
func runCheck(configPath string) error {
	s, err := settings.LoadRaw(configPath)
	if err != nil {
		return err
	}

	if err := s.Validate(); err != nil {
		return err
	}

	for _, path := range []string{
		s.Processing.SchemaPaths.PreProcessingSchema,
		s.Processing.SchemaPaths.PostprocessingSchema,
	} {
		if _, err := schema.Load(path); err != nil {
			return err
		}
	}

	if _, err := prompt.Load(s.Processing.SchemaPaths.Prompts); err != nil {
		return err
	}

	fmt.Printf("%s: ok (provider %s)\n", configPath, s.Provider)

	return nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
