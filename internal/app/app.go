// Package app assembles the configured store, bucket and change feed into
// the services, and runs the HTTP server next to the feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/backend/postgres"
	"github.com/refset/support-desk/internal/backend/sqlite"
	"github.com/refset/support-desk/internal/config"
	"github.com/refset/support-desk/internal/realtime"
	"github.com/refset/support-desk/internal/service"
	"github.com/refset/support-desk/internal/storage"
	"github.com/refset/support-desk/internal/web"
)

// feedRestartDelay is the pause before a failed change feed is started
// again.
const feedRestartDelay = 5 * time.Second

type App struct {
	cfg *config.Config

	Store    backend.Store
	Hub      *realtime.Hub
	Bucket   *storage.DiskBucket
	Tickets  *service.Tickets
	Messages *service.Messages
	Uploads  *service.Uploads

	source       realtime.Source
	restartDelay time.Duration
	closers      []io.Closer
}

// OpenStore connects the configured backend and brings its schema up to
// date.
func OpenStore(ctx context.Context, cfg config.BackendConfig) (backend.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Driver)
	}
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := OpenStore(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:          cfg,
		Store:        store,
		Hub:          realtime.NewHub(cfg.Realtime.Buffer),
		restartDelay: feedRestartDelay,
		closers:      []io.Closer{store},
	}

	notifier, err := a.wireFeed()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	bucket, err := storage.NewDiskBucket(cfg.Storage.Dir, cfg.Storage.PublicBaseURL)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Bucket = bucket
	a.Messages = service.NewMessages(store, notifier, a.Hub)
	a.Tickets = service.NewTickets(store, a.Messages)
	a.Uploads = service.NewUploads(bucket, cfg.Storage.MaxUploadBytes)
	return a, nil
}

// wireFeed picks who announces inserts and where the Hub hears about them.
func (a *App) wireFeed() (realtime.Notifier, error) {
	switch a.cfg.Realtime.Mode {
	case config.RealtimeLocal:
		return a.Hub, nil
	case config.RealtimeKafka:
		publisher := realtime.NewKafkaPublisher(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic)
		source := realtime.NewKafkaSource(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.cfg.Kafka.ConsumerGroup())
		a.closers = append(a.closers, publisher, source)
		a.source = source
		return publisher, nil
	case config.RealtimePostgres:
		pg, ok := a.Store.(*postgres.Store)
		if !ok {
			return nil, fmt.Errorf("realtime mode %q needs the postgres backend", a.cfg.Realtime.Mode)
		}
		a.source = realtime.NewPostgresSource(pg.Pool(), postgres.NotifyChannel)
		return realtime.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown realtime mode %q", a.cfg.Realtime.Mode)
	}
}

// RunFeed pumps the external change feed into the Hub until ctx is done.
// A failing feed is logged and restarted. With the local feed there is
// nothing to pump and RunFeed just waits.
func (a *App) RunFeed(ctx context.Context) error {
	if a.source == nil {
		<-ctx.Done()
		return nil
	}
	for {
		err := a.source.Run(ctx, a.Hub.Dispatch)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("Change feed error: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.restartDelay):
		}
	}
}

// Serve runs the HTTP server and the change feed until ctx is cancelled,
// then shuts the server down.
func (a *App) Serve(ctx context.Context) error {
	srv, err := web.New(web.Options{
		Tickets:   a.Tickets,
		Messages:  a.Messages,
		Uploads:   a.Uploads,
		Files:     a.Bucket,
		AdminName: a.cfg.Server.AdminName,
		Debug:     a.cfg.Debug(),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with the server context.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	log.Printf("Starting support desk")
	log.Printf("  Listen: %s", a.cfg.Server.Addr)
	log.Printf("  Backend: %s", a.cfg.Backend.Driver)
	log.Printf("  Realtime: %s", a.cfg.Realtime.Mode)
	log.Printf("  Storage: %s (%s)", a.cfg.Storage.Dir, a.cfg.Storage.PublicBaseURL)

	g.Go(func() error {
		return a.RunFeed(gctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down support desk")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the feed clients and the store, in reverse order of
// creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
