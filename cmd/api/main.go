package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"envds.org/internal/audit"
	"envds.org/internal/config"
	"envds.org/internal/dataset"
	"envds.org/internal/docstore"
	"envds.org/internal/docstore/pg"
	"envds.org/internal/fieldcrypt"
	"envds.org/internal/httpapi"
	"envds.org/internal/obs"
	"envds.org/internal/retention"
	"envds.org/internal/session"
	"envds.org/internal/users"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		store docstore.Store
		db    *sql.DB
	)
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Printf("no %s set, using in-memory store", config.EnvPGDSN)
		store = docstore.NewInMemory()
	}

	crypt, err := fieldcrypt.New(cfg.FieldKey)
	if err != nil {
		log.Fatalf("field encryption: %v", err)
	}
	sessions, err := session.New(cfg.SessionSecret)
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}

	rec := audit.NewRecorder(store)
	usersSvc := users.NewService(store, rec, cfg.BootstrapAdminEmails)
	datasets := dataset.NewService(store, crypt, rec)
	rules := retention.NewManager(store, rec, dataset.ValidDataType, dataset.ValidSensitivity)
	sweeper := retention.NewExecutor(store, rec)

	if cfg.SweepSchedule != "" {
		sched, err := retention.NewScheduler(sweeper, cfg.SweepSchedule)
		if err != nil {
			log.Fatalf("sweep schedule: %v", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, sessions, usersSvc, datasets, rules, sweeper, rec)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting envds-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
