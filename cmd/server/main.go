/*
main.go - Till engine entry point

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, flags take precedence)
  2. Open the selected gateway (memory, sqlite, or firestore)
  3. Build the session manager and reconciliation engine
  4. Recover any open shift from the durable store
  5. Serve HTTP with graceful shutdown

FLAGS:
  -port   HTTP server port (default from TILL_PORT or 8080)
  -store  memory | sqlite | firestore (default from TILL_STORE or sqlite)
  -db     SQLite database path (default from TILL_SQLITE_PATH or till.db)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, drain for up to 30s,
  close the store, exit. The open shift (if any) survives in the store and
  is recovered on the next start.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beanline/till-engine/api"
	"github.com/beanline/till-engine/cashier"
	"github.com/beanline/till-engine/config"
	fsstore "github.com/beanline/till-engine/store/firestore"
	"github.com/beanline/till-engine/store/memory"
	"github.com/beanline/till-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	storeKind := flag.String("store", cfg.Store, "store backend: memory, sqlite, firestore")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()

	log := config.NewLogger(cfg.LogLevel)

	var gw cashier.Gateway
	var closeStore func() error
	switch *storeKind {
	case config.StoreMemory:
		gw = memory.New()
		closeStore = func() error { return nil }
	case config.StoreSQLite:
		store, err := sqlite.New(*dbPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite store")
		}
		gw = store
		closeStore = store.Close
	case config.StoreFirestore:
		store, err := fsstore.New(context.Background(), cfg.FirestoreProject)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to firestore")
		}
		gw = store
		closeStore = store.Close
	default:
		log.Fatalf("unknown store backend %q", *storeKind)
	}
	defer closeStore()

	sessions := cashier.NewSessionManager(gw, cashier.WithLogger(log))
	reports := cashier.NewEngine(gw, log)

	// Recover the open shift, if one survived a restart.
	if state, err := sessions.GetActiveSession(context.Background()); err != nil {
		log.WithError(err).Warn("failed to recover active session")
	} else if state.Open {
		log.WithField("shiftID", state.ShiftID).Info("recovered open shift")
	}

	handler := api.NewHandler(sessions, reports, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("till engine listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("forced shutdown")
	}
	log.Info("stopped")
}
