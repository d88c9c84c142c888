package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/db"
	"github.com/pressassoc/dateline/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve-ops",
	Short: "Serve read-only gazetteer health endpoints",
	Long: `Serves /healthz and /status for the ops dashboards and the sync daemon,
and runs the background alert checker. Read-only: resolution stays a library
concern, this process never touches article content.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		var pool db.Pool
		if cfg.Authority.DatabaseURL != "" {
			p, err := authorityPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			pool = p
		} else {
			zap.L().Info("no authority configured, serving snapshot metrics only")
		}

		collector := monitoring.NewCollector(pool, monitoring.DirStatter{Dir: cfg.Gazetteer.SnapshotDir})
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		router := newOpsRouter(collector, cfg.Monitoring.LookbackWindowHours)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting ops server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newOpsRouter builds the read-only ops surface: a liveness probe and a
// metrics snapshot. Dashboards are served from another origin, so CORS
// allows any origin for these GETs.
func newOpsRouter(collector *monitoring.Collector, lookbackHours int) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		metrics, err := collector.Collect(req.Context(), lookbackHours)
		if err != nil {
			zap.L().Error("status collection failed", zap.Error(err))
			http.Error(w, `{"error":"metrics collection failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(metrics)
	})

	return r
}
