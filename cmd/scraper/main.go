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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/enrich"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
	"github.com/aluiziolira/go-scrape-catalog/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level := newLogger(cfg.Verbose)
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := run(cfg); err != nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.String("db_path", cfg.DBPath),
		slog.Int("max_attempts", cfg.MaxAttempts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, persisting collected records")
	}()

	metrics := scraper.NewMetrics()
	if server := startMetricsServer(cfg.MetricsAddr, metrics); server != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	fetcher, err := scraper.NewFetcher(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}
	enricher, err := enrich.NewEnricher(cfg, enrich.NewClient(cfg), metrics)
	if err != nil {
		return fmt.Errorf("initialising enricher: %w", err)
	}

	db := store.NewSQLiteStore(cfg.DBPath)
	if err := db.Open(ctx); err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	export, err := createExportWriter(cfg.ExportFormat, cfg.ExportFile)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating export writer: %w", err)
	}

	writers := []pipeline.OutputWriter{db}
	if export != nil {
		writers = append(writers, export)
	}
	writer := pipeline.NewMultiWriter(writers...)
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p, err := pipeline.NewPipeline(writer, cfg)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	crawler, err := scraper.NewCrawler(cfg, fetcher, enricher, metrics, scraper.WithProgress(func(rec *models.Record) {
		fmt.Printf("Scraped: %s | Authors: %s\n", rec.Title, strings.Join(rec.AuthorsOrSentinel(), ", "))
	}))
	if err != nil {
		return fmt.Errorf("initialising crawler: %w", err)
	}

	result, runErr := crawler.Run(ctx, p)
	result.EnrichOutcomes = enricher.Outcomes()

	// Collected records are written even when the crawl was interrupted.
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	counts, err := db.Counts(context.Background())
	if err != nil {
		return fmt.Errorf("count stored rows: %w", err)
	}
	printSummary(result, counts, cfg, p.GetMetrics())
	return nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func createExportWriter(format, filename string) (pipeline.OutputWriter, error) {
	if filename == "" {
		return nil, nil
	}
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.CrawlResult, counts store.Counts, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Interrupted {
		fmt.Println("Crawl interrupted")
	} else {
		fmt.Println("Crawl complete")
	}

	duration := result.EndTime.Sub(result.StartTime)
	booksPerSec := 0.0
	if duration.Seconds() > 0 {
		booksPerSec = float64(result.BookCount) / duration.Seconds()
	}

	fmt.Printf("  Categories:    %d\n", result.CategoryCount)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Books:         %d\n", result.BookCount)
	fmt.Printf("  Skipped:       %d\n", result.SkippedCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.EnrichOutcomes) > 0 {
		fmt.Printf("  Lookups:       %v\n", result.EnrichOutcomes)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Stored rows:   books=%d authors=%d links=%d\n", counts.Books, counts.Authors, counts.BookAuthors)
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Books/sec:     %.2f\n", booksPerSec)
	fmt.Printf("  Database:      %s\n", cfg.DBPath)
	if cfg.ExportFile != "" {
		fmt.Printf("  Export file:   %s\n", cfg.ExportFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
