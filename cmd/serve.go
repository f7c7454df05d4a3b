package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/internal/monitoring"
	"github.com/numisworks/coindex/internal/service"
	"github.com/numisworks/coindex/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(monitoring.NewCollector(st), 5*time.Minute)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(svc, checker),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
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

func newRouter(svc *service.Service, checker *monitoring.Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := checker.Healthy(req.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/audit", func(w http.ResponseWriter, req *http.Request) {
			batch, err := svc.RunAuditAll(req.Context())
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, http.StatusOK, batch)
		})

		r.Post("/audit/{coinID}", func(w http.ResponseWriter, req *http.Request) {
			res, err := svc.RunAudit(req.Context(), chi.URLParam(req, "coinID"))
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, res)
		})

		r.Get("/discrepancies", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			filter := store.DiscrepancyFilter{
				CoinID: q.Get("coin_id"),
				Status: model.DiscrepancyStatus(q.Get("status")),
				Source: q.Get("source"),
				Field:  model.FieldName(q.Get("field")),
				Limit:  queryInt(q.Get("limit"), 50),
				Offset: queryInt(q.Get("offset"), 0),
			}
			ds, err := svc.ListDiscrepancies(req.Context(), filter)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, http.StatusOK, ds)
		})

		r.Post("/discrepancies/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Decision string `json:"decision"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			decision, err := service.ParseDecision(body.Decision)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			res, err := svc.ResolveDiscrepancy(req.Context(), chi.URLParam(req, "id"), decision)
			if err != nil {
				respondStoreError(w, err)
				return
			}
			respondJSON(w, http.StatusOK, res)
		})

		r.Post("/enrich", func(w http.ResponseWriter, req *http.Request) {
			var app model.EnrichmentApplication
			if err := json.NewDecoder(req.Body).Decode(&app); err != nil {
				respondError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			res := svc.ApplyEnrichment(req.Context(), app)
			status := http.StatusOK
			if !res.Success {
				status = http.StatusUnprocessableEntity
			}
			respondJSON(w, status, res)
		})

		r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
			width := 0.1
			if s := req.URL.Query().Get("bucket_width"); s != "" {
				if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
					width = f
				}
			}
			sum, err := svc.Summary(req.Context(), width)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			respondJSON(w, http.StatusOK, sum)
		})

		r.Route("/coins", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				q := req.URL.Query()
				coins, err := svc.ListCoins(req.Context(), queryInt(q.Get("limit"), 50), queryInt(q.Get("offset"), 0))
				if err != nil {
					respondError(w, http.StatusInternalServerError, err.Error())
					return
				}
				respondJSON(w, http.StatusOK, coins)
			})

			r.Post("/", func(w http.ResponseWriter, req *http.Request) {
				var coin model.Coin
				if err := json.NewDecoder(req.Body).Decode(&coin); err != nil {
					respondError(w, http.StatusBadRequest, "invalid request body")
					return
				}
				created, err := svc.CreateCoin(req.Context(), &coin)
				if err != nil {
					respondError(w, http.StatusInternalServerError, err.Error())
					return
				}
				respondJSON(w, http.StatusCreated, created)
			})

			r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
				coin, err := svc.GetCoin(req.Context(), chi.URLParam(req, "id"))
				if err != nil {
					respondStoreError(w, err)
					return
				}
				respondJSON(w, http.StatusOK, coin)
			})

			r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
				if err := svc.DeleteCoin(req.Context(), chi.URLParam(req, "id")); err != nil {
					respondStoreError(w, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})

			r.Get("/{id}/events", func(w http.ResponseWriter, req *http.Request) {
				q := req.URL.Query()
				filter := store.EventFilter{
					EventType: model.EventType(q.Get("type")),
					Limit:     queryInt(q.Get("limit"), 100),
				}
				events, err := svc.ListEvents(req.Context(), chi.URLParam(req, "id"), filter)
				if err != nil {
					respondError(w, http.StatusInternalServerError, err.Error())
					return
				}
				respondJSON(w, http.StatusOK, events)
			})
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("serve: write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondStoreError maps not-found to 404 and everything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	if eris.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
