package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"lconvert/api"
	"lconvert/batch"
	"lconvert/config"
	"lconvert/ffmpeg"
	"lconvert/logging"
	"lconvert/progress"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 when the batch ran, even if some
// conversions failed; 1 on fatal errors; 130 when interrupted.
func run(args []string) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lconvert: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Println("lconvert", version)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "lconvert: %v\n", err)
		return 1
	}

	log, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lconvert: could not open log file: %v\n", err)
		return 1
	}
	defer log.Close()

	inputs, err := config.ExpandInputs(cfg.Inputs)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	runner, err := ffmpeg.NewRunner(cfg, log)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	fs := afero.NewOsFs()
	driver, err := batch.NewDriver(cfg, fs, runner, log)
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := driver.Plan(ctx, inputs)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	batch.PrintRejected(os.Stderr, plan)

	if cfg.DryRun {
		driver.PrintPlan(os.Stdout, plan)
		return 0
	}

	batch.PrintHeader(os.Stdout, plan)
	var display progress.Display
	if !cfg.NoProgress && !cfg.Verbose && logging.IsTerminal(os.Stderr) {
		display = progress.NewBarDisplay(os.Stderr)
	} else {
		display = progress.NewLogDisplay(log)
	}
	tracker := progress.NewTracker(plan.Jobs, display)

	if cfg.StatusAddr != "" {
		srv := api.NewServer(cfg, tracker, log)
		if err := srv.Start(); err != nil {
			log.Error("%v", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("status server forced to shut down: %v", err)
			}
		}()
	}

	summary, err := driver.Execute(ctx, plan, tracker)
	if err != nil {
		log.Error("%v", err)
		return 1
	}
	batch.PrintSummary(os.Stdout, os.Stderr, summary)

	if cfg.Report != "" {
		if err := batch.WriteReport(fs, cfg.Report, summary); err != nil {
			log.Error("%v", err)
			return 1
		}
		log.Info("Report written to %s", cfg.Report)
	}

	if ctx.Err() != nil {
		log.Warn("Interrupted, remaining conversions were stopped")
		return 130
	}
	return 0
}
