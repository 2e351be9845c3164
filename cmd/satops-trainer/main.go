package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/meridianhq/satops-trainer/api"
	authsqlite "github.com/meridianhq/satops-trainer/auth/sqlite"
	"github.com/meridianhq/satops-trainer/condition"
	"github.com/meridianhq/satops-trainer/config"
	"github.com/meridianhq/satops-trainer/delivery"
	"github.com/meridianhq/satops-trainer/engine"
	"github.com/meridianhq/satops-trainer/observe"
	obsotel "github.com/meridianhq/satops-trainer/observe/otel"
	"github.com/meridianhq/satops-trainer/scenario"
	"github.com/meridianhq/satops-trainer/scoring"
	"github.com/meridianhq/satops-trainer/session"
	"github.com/meridianhq/satops-trainer/state/factory"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := factory.FromEnv(context.Background())
	if err != nil {
		log.Fatalf("state backend: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close state store: %v", err)
		}
	}()

	registry := condition.NewRegistry()
	validator := engine.NewValidator(engine.WithRegistry(registry))
	tracker := scoring.NewTracker(scoring.NewMemoryStore())
	hub := delivery.NewHub()
	defer hub.Close()

	sink := observe.NewAsyncSink(buildSink(cfg), 512)
	defer sink.Close()

	runner := session.NewRunner(
		session.WithValidator(validator),
		session.WithTracker(tracker),
		session.WithStore(store),
		session.WithBroadcaster(hub),
		session.WithSink(sink),
	)

	opts := []api.Option{api.WithStore(store), api.WithHub(hub)}
	if cfg.RequireAuth {
		keys, err := authsqlite.New(cfg.AuthDBPath)
		if err != nil {
			log.Fatalf("auth store: %v", err)
		}
		defer keys.Close()
		opts = append(opts, api.WithAuth(keys))
	}
	server := api.New(runner, opts...)

	loaded, err := loadScenarios(cfg.ScenarioDir, registry, server)
	if err != nil {
		log.Fatalf("scenarios: %v", err)
	}
	log.Printf("loaded %d scenario(s) from %s", loaded, cfg.ScenarioDir)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("listening on %s (state backend: %s)", cfg.Addr, cfg.StateBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildSink assembles the event pipeline. The OTel bridge runs against a
// noop tracer provider unless the host process installs a real one.
func buildSink(cfg config.Config) observe.Sink {
	sinks := []observe.Sink{obsotel.NewSink(nil)}
	if cfg.Verbose {
		sinks = append(sinks, observe.SinkFunc(func(_ context.Context, event observe.Event) error {
			log.Printf("event kind=%s name=%s session=%s step=%d status=%s",
				event.Kind, event.Name, event.SessionID, event.StepOrder, event.Status)
			return nil
		}))
	}
	return observe.NewMultiSink(sinks...)
}

func loadScenarios(dir string, registry *condition.Registry, server *api.Server) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("scenario dir %s does not exist, starting with none", dir)
			return 0, nil
		}
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		sc, err := scenario.Load(filepath.Join(dir, name), registry)
		if err != nil {
			return loaded, err
		}
		if err := server.AddScenario(sc); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
