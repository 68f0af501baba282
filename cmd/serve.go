package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supportlens/supportlens/internal/gate"
	"github.com/supportlens/supportlens/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		g := gate.New(
			gate.WithPaths(cfg.Server.LoginPath, cfg.Server.LogoutPath, cfg.Server.APIPrefix),
			gate.WithCookieName(cfg.Server.CookieName),
		)
		router := buildRouter(st, g, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown: the signal context is already cancelled here,
		// so the drain gets its own deadline.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the full route table: gated pages, the public auth
// endpoints, and the JSON read API.
func buildRouter(st store.Store, g *gate.Gate, corsOrigins []string) chi.Router {
	api := &apiServer{store: st, gate: g}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	// Public auth surface. Session issuance belongs to the upstream auth
	// service; these endpoints only consume or drop the cookie.
	r.Get(g.LoginPath(), api.loginPage)
	r.Get(g.LogoutPath(), api.logout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/check", g.CheckHandler())
		r.Get("/slugs", api.listSlugs)
		r.Get("/slugs/{slug}", api.getSlug)
		r.Get("/slugs/{slug}/recommendations", api.listRecommendations)
		r.Get("/slugs/{slug}/progress", api.listProgress)
		r.Get("/recommendations/{id}", api.getRecommendation)
		r.Get("/progress/{id}", api.getProgress)
	})

	// Everything else is a page request and goes through the gate.
	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)
		r.Get("/", api.dashboardPage)
		r.Get("/slugs/{slug}", api.slugPage)
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
