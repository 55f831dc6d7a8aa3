package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/lineagesink"
	"github.com/animus-labs/animus-datafabric/internal/openlineage"
	"github.com/animus-labs/animus-datafabric/internal/platform/auditlog"
	"github.com/animus-labs/animus-datafabric/internal/platform/auth"
	"github.com/animus-labs/animus-datafabric/internal/platform/httpserver"
	"github.com/animus-labs/animus-datafabric/internal/platform/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srvCfg, err := httpserver.ConfigFromEnv("lineage", "LINEAGE", ":8084")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	if !dbCfg.Enabled() {
		logger.Error("invalid database config", "error", "DATAFABRIC_DATABASE_URL is required")
		os.Exit(2)
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	schema := append(lineagesink.Schema(), auditlog.Schema()...)
	if err := postgres.EnsureSchema(ctx, db, schema...); err != nil {
		logger.Error("ensure schema failed", "error", err)
		os.Exit(1)
	}

	var authn auth.Authenticator = auth.Anonymous{}
	if authCfg.Mode == auth.ModeOIDC {
		bearer, err := auth.NewBearer(ctx, authCfg)
		if err != nil {
			logger.Error("oidc unavailable", "error", err)
			os.Exit(1)
		}
		authn = bearer
	} else {
		logger.Warn("authentication disabled", "mode", authCfg.Mode)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("lineage"))
	mux.HandleFunc("/readyz", httpserver.Readyz("lineage", httpserver.ReadinessCheck{
		Name:  "postgres",
		Check: db.PingContext,
	}))

	audit := func(ctx context.Context, identity auth.Identity, r *http.Request, ev openlineage.RunEvent, storedID int64, duplicate bool) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.LineageIngest(auditCtx, db, identity, requestID(r), r.RemoteAddr, ev, storedID, duplicate)
	}
	newLineageAPI(logger, lineagesink.NewPostgres(db), audit).register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.AuthDeny(auditCtx, db, "lineage", event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	if err := httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
