package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rumor-ml/bankstmt/internal/domain"
	"github.com/rumor-ml/bankstmt/internal/gcs"
	"github.com/rumor-ml/bankstmt/internal/gemini"
	"github.com/rumor-ml/bankstmt/internal/logger"
	"github.com/rumor-ml/bankstmt/internal/pipeline"
	"github.com/rumor-ml/bankstmt/internal/rulestore"
	"github.com/rumor-ml/bankstmt/internal/server"
	"github.com/rumor-ml/bankstmt/internal/store"
	"github.com/rumor-ml/bankstmt/internal/ui"
)

const version = "0.1.0"

var (
	versionFlag = flag.Bool("version", false, "Show version")

	project     = flag.String("project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project ID (required)")
	credentials = flag.String("credentials", "", "Service account credentials file (default: ambient credentials)")
	model       = flag.String("model", gemini.DefaultModel, "Gemini model for document extraction")

	statementID = flag.String("statement", "", "Extract a single statement by ID and exit")
	watch       = flag.Bool("watch", false, "Watch for statements entering pending_extraction")
	serve       = flag.Bool("serve", false, "Serve the rules and statements HTTP API")
	addr        = flag.String("addr", ":8080", "HTTP listen address for -serve")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bankstmt - Bank statement extraction service

Usage:
  bankstmt [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Extract one statement
  bankstmt -project my-project -statement abc123

  # Watch for uploads and serve the API
  bankstmt -project my-project -watch -serve

`)
	}

	// A .env file is optional; ambient environment wins.
	_ = godotenv.Load()
	flag.Parse()

	if *versionFlag {
		fmt.Printf("bankstmt version %s\n", version)
		os.Exit(0)
	}

	if *project == "" {
		fmt.Fprintf(os.Stderr, "Error: -project flag or GOOGLE_CLOUD_PROJECT is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *statementID == "" && !*watch && !*serve {
		fmt.Fprintf(os.Stderr, "Error: nothing to do; pass -statement, -watch, or -serve\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New()
	ctx = logger.WithContext(ctx, log)

	ui.Header("Bank Statement Extraction")
	ui.Step(1, 2, "Connecting to Firestore and Cloud Storage")

	st, err := store.NewClient(ctx, *project, *credentials)
	if err != nil {
		return fmt.Errorf("failed to create store client: %w", err)
	}
	defer st.Close()

	rules := rulestore.New(st.Firestore)

	blobs, err := gcs.NewFetcher(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage fetcher: %w", err)
	}
	defer blobs.Close()

	ui.Step(2, 2, "Initializing extraction model")
	invoker, err := gemini.NewClient(ctx, *model)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	orch := pipeline.New(st, rules, blobs, invoker)

	if *statementID != "" {
		ui.Info(fmt.Sprintf("Extracting statement %s", *statementID))
		if err := orch.Run(ctx, *statementID); err != nil {
			return err
		}
		ui.Success("Extraction finished")
		return nil
	}

	errc := make(chan error, 2)

	if *serve {
		srv := &http.Server{Addr: *addr, Handler: server.New(st, rules).Handler()}
		go func() {
			<-ctx.Done()
			srv.Shutdown(context.Background())
		}()
		go func() {
			ui.Info(fmt.Sprintf("API listening on %s", *addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http server failed: %w", err)
				return
			}
			errc <- nil
		}()
	}

	if *watch {
		go func() {
			ui.Info("Watching for statements pending extraction")
			err := st.WatchPendingStatements(ctx, func(rec *domain.StatementRecord) {
				orch.HandleStatusChange(ctx, rec)
			}, orch.HandleDeparture)
			if err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("statement watch failed: %w", err)
				return
			}
			errc <- nil
		}()
	}

	// First failure or clean shutdown of either mode ends the process.
	if err := <-errc; err != nil {
		return err
	}
	ui.Success("Shut down cleanly")
	return nil
}
