package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"idx-pipeline/config"
	"idx-pipeline/events"
	"idx-pipeline/models"
	"idx-pipeline/scraper/idx"
	"idx-pipeline/server"
	"idx-pipeline/services"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

const usage = `usage: idx-pipeline <command> [flags]

commands:
  extract    extract property data from a live page (-url) or a saved page (-file)
  import     load an extraction CSV log into the catalog
  reconcile  link favorites and showing requests to catalog entries
  resolve    look up the catalog entry for an address or mls id
  enrich     produce property data for addresses
  report     print catalog statistics
  serve      run the HTTP API`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "extract":
		err = runExtract(ctx, cfg, logger, args)
	case "import":
		err = runImport(ctx, cfg, logger, args)
	case "reconcile":
		err = runReconcile(ctx, cfg, logger, args)
	case "resolve":
		err = runResolve(ctx, cfg, logger, args)
	case "enrich":
		err = runEnrich(ctx, cfg, logger, args)
	case "report":
		err = runReport(ctx, cfg, logger)
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("%s: %v", cmd, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*storage.Store, error) {
	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), logger)
	if err != nil {
		if cfg.DatabaseDriver == "postgres" {
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
		}
		return nil, err
	}
	return store, nil
}

func runExtract(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	pageURL := fs.String("url", "", "page to open in headless Chrome")
	file := fs.String("file", "", "saved HTML page to extract from instead of -url")
	fileURL := fs.String("page-url", "", "URL reported for -file (query ids still apply)")
	watch := fs.Bool("watch", false, "with -file: re-attempt when the file changes")
	persist := fs.Bool("persist", true, "store the record in the catalog")
	maxImages := fs.Int("max-images", cfg.MaxImages, "image cap for this run")
	_ = fs.Parse(args)

	if (*pageURL == "") == (*file == "") {
		return errors.New("exactly one of -url or -file is required")
	}
	cfg.MaxImages = *maxImages

	var store storage.CatalogStore
	if *persist {
		s, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	x, err := newExtraction(cfg, logger, store, storage.NewSessionStore(cfg.SessionTTL(), nil), events.NewHub())
	if err != nil {
		return err
	}
	defer x.Close()

	var sched *idx.Scheduler
	if *file != "" {
		sched = x.runFile(ctx, *file, *fileURL, *watch, os.Stdout)
	} else {
		sched, err = x.runPage(ctx, *pageURL, os.Stdout)
		if err != nil {
			return err
		}
	}
	defer sched.Stop()

	if rec := sched.Wait(ctx); rec == nil {
		logger.Warn("[extract] no property data (%s after %d attempts)", sched.State(), sched.Attempts())
		return nil
	}
	logger.Info("[extract] session %s done", sched.ID())
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	path := fs.String("csv", cfg.ExtractCSVPath, "extraction log to load")
	_ = fs.Parse(args)
	if *path == "" {
		return errors.New("-csv or EXTRACT_CSV_PATH is required")
	}

	records, err := storage.ReadCSVLog(*path)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stored, err := services.NewCleaner(logger).Import(ctx, store, records)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"read": len(records), "stored": stored})
}

func runReconcile(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	owner := fs.String("owner", "", "owner id (empty: every owner)")
	collection := fs.String("collection", "", "favorites or showing_requests (empty: both)")
	_ = fs.Parse(args)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	rec := services.NewReconciler(store, services.NewResolver(store, logger), nil, logger)

	var results []any
	if *collection != "" {
		res, err := rec.ReconcileCollection(ctx, models.Collection(*collection), *owner)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		all, err := rec.ReconcileAll(ctx, *owner)
		for _, res := range all {
			results = append(results, res)
		}
		if err != nil {
			logger.Warn("[reconcile] %v", err)
		}
	}
	return printJSON(results)
}

func runResolve(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	address := fs.String("address", "", "address text")
	mlsID := fs.String("mls", "", "mls id")
	_ = fs.Parse(args)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := services.NewResolver(store, logger).Resolve(ctx, *address, *mlsID)
	if err != nil {
		return err
	}
	if res == nil {
		return printJSON(map[string]any{"found": false})
	}
	return printJSON(map[string]any{"found": true, "tier": res.Tier, "entry": res.Entry})
}

func runEnrich(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	_ = fs.Parse(args)
	addresses := fs.Args()
	if len(addresses) == 0 {
		return errors.New("at least one address is required")
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	enricher := newEnricher(cfg, logger, store)
	if len(addresses) == 1 {
		return printJSON(enricher.Enrich(ctx, addresses[0]))
	}
	return printJSON(enricher.EnrichBatch(ctx, addresses))
}

func runReport(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	insights := services.NewInsightService(logger)
	insights.Print(os.Stdout, insights.Generate(entries))
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	hub := events.NewHub()
	sessions := storage.NewSessionStore(cfg.SessionTTL(), nil)
	x, err := newExtraction(cfg, logger, store, sessions, hub)
	if err != nil {
		return err
	}
	defer x.Close()

	resolver := services.NewResolver(store, logger)
	handler := server.NewHandler(server.Deps{
		Ctx:                ctx,
		Catalog:            store,
		Resolver:           resolver,
		Reconciler:         services.NewReconciler(store, resolver, nil, logger),
		Enricher:           newEnricher(cfg, logger, store),
		Insights:           services.NewInsightService(logger),
		Sessions:           sessions,
		Hub:                hub,
		Logger:             logger,
		AutoReconcileDelay: cfg.AutoReconcileDelay(),
		StartExtraction:    x.StartExtraction,
	})

	go sweepSessions(ctx, sessions, logger)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("[http] api listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newEnricher(cfg *config.Config, logger *utils.Logger, store *storage.Store) *services.Enricher {
	opts := services.EnricherOptions{
		Concurrency: cfg.EnrichConcurrency,
		RateLimitMs: cfg.EnrichRateLimitMs,
	}
	if strings.TrimSpace(cfg.PlacesURL) != "" {
		opts.Places = services.NewPlacesClient(cfg.PlacesURL, cfg.PlacesAPIKey, cfg.PlacesRPS, cfg.MaxRetries, logger)
	}
	return services.NewEnricher(store, services.NewResolver(store, logger), opts, logger)
}

func sweepSessions(ctx context.Context, sessions *storage.SessionStore, logger *utils.Logger) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := sessions.Sweep(); n > 0 {
				logger.Debug("[session] swept %d expired entries", n)
			}
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func secondsOf(n int) time.Duration { return time.Duration(n) * time.Second }

func millisOf(n int) time.Duration { return time.Duration(n) * time.Millisecond }
