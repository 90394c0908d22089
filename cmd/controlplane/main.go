// cmd/controlplane/main.go
//
// Tenant control plane – process entry point.
//
// Boot sequence
// -------------
//
//  1. Load env vars (jail-wide file → .env fallback).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Load the typed configuration (yaml + env overlays).
//
//  4. Connect Vault and resolve the control-plane DSN if it carries a
//     `vault:` password reference.
//
//  5. Open the control-plane DB and log the active-tenant count.
//
//  6. Wire the credential router, the aggregate-root service, and the
//     lazy data-plane pool cache.
//
//  7. Expose /metrics and /healthz on the operational listener and wait
//     for SIGINT/SIGTERM; shut down gracefully.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloracloud/tenantctl/internal/config"
	"github.com/veloracloud/tenantctl/internal/controlplane"
	"github.com/veloracloud/tenantctl/internal/database"
	"github.com/veloracloud/tenantctl/internal/dbrouter"
	"github.com/veloracloud/tenantctl/internal/logger"
	"github.com/veloracloud/tenantctl/internal/pool"
	"github.com/veloracloud/tenantctl/internal/server"
	"github.com/veloracloud/tenantctl/internal/tenant"
	"github.com/veloracloud/tenantctl/internal/vault"
)

const serverEnvPath = "/usr/local/etc/tenantctl/global.env"

// loadEnv prefers the jail-wide env file; on dev it falls back to .env.
func loadEnv() {
	if _, err := os.Stat(serverEnvPath); err == nil {
		_ = godotenv.Load(serverEnvPath)
		return
	}
	_ = godotenv.Load()
}

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func init() { loadEnv() }

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Vault + control-plane DB  ───────────────────────────────────
	//
	vcli, err := vault.New(ctx, logOut.Infof)
	if err != nil {
		logOut.Fatalf("connect vault: %v", err)
	}

	dsn := cfg.Database.ControlPlaneDSN
	if ref := extractRef(dsn); ref != "" {
		pw, err := vcli.Resolve(ctx, ref, time.Hour)
		if err != nil {
			logOut.Fatalf("resolve control-plane password: %v", err)
		}
		dsn = strings.Replace(dsn, ref, pw, 1)
	}

	logOut.Infow("connecting to control-plane DB")
	controlDB, err := database.Open(ctx, dsn)
	if err != nil {
		logOut.Fatalf("connect control-plane DB: %v", err)
	}
	defer controlDB.Close()

	// Log active-tenant count as an early sanity check.
	var active int
	_ = controlDB.Get(&active, `SELECT COUNT(*) FROM tenant WHERE status IN ('trial', 'active')`)
	logOut.Infow("control-plane DB online", "active_tenants", active)

	//
	// ── 2.  Service graph  ──────────────────────────────────────────────
	//
	targets, err := parseTargets(cfg.Database.Targets)
	if err != nil {
		logOut.Fatalf("parse database targets: %v", err)
	}
	router, err := dbrouter.New(targets)
	if err != nil {
		logOut.Fatalf("build credential router: %v", err)
	}

	svc := controlplane.New(controlDB, router, vcli, cfg.Vault.TenantSecretBase, cfg.Defaults, logOut)

	pools := pool.New(controlDB, vcli,
		time.Duration(cfg.Pool.IdleTTLMinutes)*time.Minute,
		cfg.Pool.MaxEntries, logOut)
	defer pools.Close()

	//
	// ── 3.  Operational listener (/metrics, /healthz)  ──────────────────
	//
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, err := svc.ListTenants(r.Context(), tenant.Filter{}, tenant.Page{Limit: 1})
		if err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := server.New(cfg.Metrics.ListenAddr, mux)
	go func() {
		logOut.Infow("operational listener online", "addr", cfg.Metrics.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logOut.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logOut.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// extractRef finds a `vault:` reference embedded in the DSN, if any.
func extractRef(dsn string) string {
	i := strings.Index(dsn, vault.RefPrefix)
	if i == -1 {
		return ""
	}
	rest := dsn[i:]
	// The reference ends at the '@' separating credentials from the host.
	if j := strings.IndexByte(rest, '@'); j != -1 {
		return rest[:j]
	}
	return rest
}

// parseTargets splits "host:port" pairs into router targets.
func parseTargets(raw []string) ([]dbrouter.Target, error) {
	out := make([]dbrouter.Target, 0, len(raw))
	for _, s := range raw {
		host, portStr, err := net.SplitHostPort(s)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		out = append(out, dbrouter.Target{Host: host, Port: port})
	}
	return out, nil
}
