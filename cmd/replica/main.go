// Entry point for the replica HTTP service: chi router, headless browser
// pool, Gemini-backed generation pipeline, SQLite session store.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/replica/clone"
	"github.com/hazyhaar/replica/config"
	"github.com/hazyhaar/replica/dbopen"
	"github.com/hazyhaar/replica/llm"
	"github.com/hazyhaar/replica/observability"
	"github.com/hazyhaar/replica/render"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	cfg, err := config.LoadFile(env("CONFIG_FILE", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Session DB.
	db, err := dbopen.Open(cfg.Storage.SessionsPath,
		dbopen.WithMkdirAll(), dbopen.WithSchema(clone.Schema))
	if err != nil {
		slog.Error("sessions db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Observability DB (optional).
	var (
		events  *observability.EventLogger
		metrics *observability.MetricsManager
		obsMW   func(http.Handler) http.Handler
	)
	if cfg.Storage.ObservabilityPath != "" {
		obsDB, err := dbopen.Open(cfg.Storage.ObservabilityPath, dbopen.WithMkdirAll())
		if err != nil {
			slog.Error("observability db", "error", err)
			os.Exit(1)
		}
		defer obsDB.Close()
		if err := observability.Init(obsDB); err != nil {
			slog.Error("observability init", "error", err)
			os.Exit(1)
		}
		events = observability.NewEventLogger(obsDB)
		metrics = observability.NewMetricsManager(obsDB, 100, 5*time.Second)
		defer metrics.Close()
		obsMW = observability.HTTPLogMiddleware(obsDB)

		hb := observability.NewHeartbeatWriter(obsDB, "replica", 15*time.Second)
		hb.Start(ctx)
		defer hb.Stop()
	}

	// Browser.
	browser := render.NewManager(render.Config{
		RemoteURL:  cfg.Browser.Remote,
		NavTimeout: cfg.Browser.NavTimeout,
		Stealth:    cfg.Browser.Stealth,
		Logger:     logger,
	})
	if err := browser.Start(ctx); err != nil {
		slog.Error("browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	// Language model.
	client, err := llm.NewGemini(ctx, llm.GeminiConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: float32(cfg.LLM.Temperature),
	})
	if err != nil {
		slog.Error("llm client", "error", err)
		os.Exit(1)
	}
	generator := llm.NewGenerator(client, llm.RetryPolicy{
		MaxRetries: cfg.LLM.MaxRetries,
		Base:       cfg.LLM.RetryBase,
		MaxDelay:   cfg.LLM.RetryMaxDelay,
	}, logger)

	// Clone service.
	svc := clone.NewService(clone.NewStore(db), browser, generator, events, logger,
		clone.ServiceConfig{
			TokenCeiling:    cfg.LLM.TokenCeiling,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			AssetsDir:       cfg.Assets.Dir,
			MaxElements:     cfg.Browser.MaxElements,
			MaxDepth:        cfg.Browser.MaxDepth,
			AssetWorkers:    cfg.Assets.Workers,
			AssetTimeout:    cfg.Assets.Timeout,
			AssetMaxSize:    cfg.Assets.MaxSize,
		})

	// Router.
	r := chi.NewRouter()
	if obsMW != nil {
		r.Use(obsMW)
	}
	if cfg.Server.BasicAuthUser != "" && cfg.Server.BasicAuthHash != "" {
		r.Use(basicAuth(cfg.Server.BasicAuthUser, cfg.Server.BasicAuthHash))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/clone", func(w http.ResponseWriter, r *http.Request) {
			var req clone.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, err)
				return
			}
			sess, err := svc.CreateSession(r.Context(), req)
			if err != nil {
				writeCloneError(w, err)
				return
			}
			if metrics != nil {
				metrics.RecordSimple("clone_sessions_created", 1, "count")
			}
			writeJSON(w, 202, sess)
		})

		r.Get("/clone/{id}", func(w http.ResponseWriter, r *http.Request) {
			sess, err := svc.GetSession(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeCloneError(w, err)
				return
			}
			writeJSON(w, 200, sess)
		})

		r.Post("/clone/{id}/refine", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Feedback string `json:"feedback"`
			}
			if r.ContentLength > 0 {
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, 400, err)
					return
				}
			}
			sess, err := svc.RequestRefinement(r.Context(), chi.URLParam(r, "id"), req.Feedback)
			if err != nil {
				writeCloneError(w, err)
				return
			}
			writeJSON(w, 202, sess)
		})

		r.Delete("/clone/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := svc.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeCloneError(w, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})

		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			status := clone.Status(r.URL.Query().Get("status"))
			limit := queryInt(r, "limit", 20)
			offset := queryInt(r, "offset", 0)
			sessions, total, err := svc.ListSessions(r.Context(), status, limit, offset)
			if err != nil {
				writeCloneError(w, err)
				return
			}
			writeJSON(w, 200, map[string]any{
				"sessions": sessions,
				"total":    total,
				"limit":    limit,
				"offset":   offset,
			})
		})
	})

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	svc.Wait()
	slog.Info("server stopped")
}

// basicAuth enforces HTTP basic auth against a bcrypt password hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="replica"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeCloneError maps failure kinds and sentinels to HTTP status codes.
func writeCloneError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clone.ErrSessionNotFound):
		writeError(w, 404, err)
	case errors.Is(err, clone.ErrNotCompleted):
		writeError(w, 409, err)
	case errors.Is(err, clone.ErrRunInFlight):
		writeError(w, 409, err)
	default:
		switch clone.KindOf(err) {
		case clone.KindValidation:
			writeError(w, 400, err)
		case clone.KindSession:
			writeError(w, 404, err)
		default:
			writeError(w, 500, err)
		}
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
