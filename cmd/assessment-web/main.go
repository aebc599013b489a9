package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/verdantiq/facility-assessment/internal/boot"
	"github.com/verdantiq/facility-assessment/internal/engine"
	"github.com/verdantiq/facility-assessment/internal/logging"
	"github.com/verdantiq/facility-assessment/internal/schema"
	"github.com/verdantiq/facility-assessment/internal/upload"
	"github.com/verdantiq/facility-assessment/internal/visitor"
)

// CLI flags
var (
	portFlag     int
	recordIDFlag string
)

var rootCmd = &cobra.Command{
	Use:   "assessment-web",
	Short: "HTTP API for the facility assessment wizard",
	Long: `Assessment Web serves the facility assessment wizard as a JSON API.
Answers persist to DynamoDB with a local sqlite cache for crash recovery;
uploaded documents and the final report go to S3.

Examples:
  assessment-web
  assessment-web --port 9090
  assessment-web --record-id 2f1c0a9e-77b4-4af1-9a51-3f6f1a2b9c01`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVar(&recordIDFlag, "record-id", "", "Resume a specific assessment record")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()

	wiz, err := schema.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load wizard definition")
	}

	aws := boot.InitAWS()
	formStore := boot.InitStoreOptional(aws.Config, "ASSESSMENT_TABLE")
	kv := boot.OpenCache("ASSESSMENT_CACHE_PATH")
	buckets := boot.LoadBuckets(aws.SSM)
	uploader := upload.NewS3Uploader(boot.InitS3(aws.Config))
	collector := visitor.NewCollector(
		logging.EnvOrDefault("ASSESSMENT_GEO_ENDPOINT", visitor.DefaultGeoEndpoint),
		"facility-assessment/1.0",
	)

	newEngine := func() *engine.Engine {
		return engine.New(wiz, formStore, kv, collector)
	}

	srv := newServer(wiz, newEngine, uploader, buckets)

	boot.StartupLog("assessment-web", initStart).
		DynamoTable("forms", os.Getenv("ASSESSMENT_TABLE")).
		S3Bucket("facilityDocs", buckets.FacilityDocs).
		S3Bucket("financialDocs", buckets.FinancialDocs).
		S3Bucket("reports", buckets.Reports).
		Config("port", fmt.Sprintf("%d", portFlag)).
		Log()

	if err := srv.start(context.Background(), recordIDFlag); err != nil {
		log.Warn().Err(err).Msg("Assessment started degraded")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/assessment/start", srv.handleStart)
	mux.HandleFunc("/api/assessment/state", srv.handleState)
	mux.HandleFunc("/api/assessment/answer", srv.handleAnswer)
	mux.HandleFunc("/api/assessment/next", srv.handleNext)
	mux.HandleFunc("/api/assessment/prev", srv.handlePrev)
	mux.HandleFunc("/api/assessment/upload", srv.handleUpload)
	mux.HandleFunc("/api/assessment/review/confirm", srv.handleConfirm)
	mux.HandleFunc("/api/assessment/restart", srv.handleRestart)

	handler := withLogging(withCORS(mux))

	addr := fmt.Sprintf(":%d", portFlag)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	log.Info().Int("port", portFlag).Msg("Starting assessment server")
	fmt.Printf("\n  Facility Assessment API: http://localhost:%d\n\n", portFlag)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// --- Middleware ---

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("API request")
		}
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Local-only frontend for now
		origin := r.Header.Get("Origin")
		if origin != "" && (strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
