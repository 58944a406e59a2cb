package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"github.com/diwise/graph-broker/internal/pkg/application/authz"
	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	contextbroker "github.com/diwise/graph-broker/internal/pkg/application/context-broker"
	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/application/listeners"
	"github.com/diwise/graph-broker/internal/pkg/application/mutation"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/database"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/graph"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/metrics"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/router"
	ngsild "github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
)

const serviceName string = "graph-broker"

const shutdownTimeout time.Duration = 10 * time.Second

func main() {
	flags, err := parseExternalConfig(context.Background(), defaultFlags(), os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, buildinfo.SourceVersion(), flags[logFormat])
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgFile, err := os.Open(flags[configPath])
	if err != nil {
		fatal(ctx, "failed to open configuration file", err)
	}
	defer cfgFile.Close()

	policies, err := os.Open(flags[opaPath])
	if err != nil {
		fatal(ctx, "failed to open api access policies", err)
	}
	defer policies.Close()

	svc, err := initialize(ctx, flags, cfgFile, policies)
	if err != nil {
		fatal(ctx, "failed to initialize service", err)
	}

	if err = svc.run(ctx); err != nil {
		fatal(ctx, "service stopped with an error", err)
	}

	logger.Info("shutdown complete")
}

type service struct {
	flags FlagMap

	driver   neo4j.DriverWithContext
	pool     *pgxpool.Pool
	bus      *messaging.Client
	app      cim.ContextInformationManager
	metrics  *metrics.Metrics
	temporal *temporal.Service

	api     http.Handler
	control http.Handler

	observations *listeners.ObservationListener
	measures     *listeners.ObservationListener
	iam          *listeners.IAMListener
	projection   *listeners.TemporalListener
	history      *listeners.BatchMeasureConsumer
}

func initialize(ctx context.Context, flags FlagMap, cfgFile, policies io.Reader) (*service, error) {
	cfg, err := contextbroker.LoadConfiguration(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyEnvironment(ctx)

	opts := []jsonld.ExpanderOption{}
	for _, v := range cfg.Vocabularies {
		opts = append(opts, jsonld.WithVocabulary(v.Context, v.Vocab))
	}

	expander, err := jsonld.NewExpander(cfg.Cache.Size, opts...)
	if err != nil {
		return nil, err
	}

	svc := &service{
		flags:   flags,
		metrics: metrics.New(),
	}

	svc.driver, err = graph.Connect(ctx, cfg.Graph)
	if err != nil {
		return nil, err
	}

	store := graph.NewStore(graph.NewRunner(svc.driver, cfg.Graph.Database))

	svc.pool, err = database.Connect(ctx, cfg.Temporal.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal database: %w", err)
	}

	if err = database.Migrate(ctx, svc.pool); err != nil {
		return nil, err
	}

	svc.temporal = temporal.NewService(
		database.NewTemporalRepository(svc.pool), expander,
		temporal.WithStorePayloads(cfg.Temporal.StorePayloads),
		temporal.WithAllOrNothing(cfg.Temporal.AllOrNothing),
		temporal.WithInstanceCounter(svc.metrics),
	)

	svc.bus, err = messaging.Connect(ctx, serviceName, cfg.Messaging, messaging.WithCounter(svc.metrics))
	if err != nil {
		return nil, err
	}

	engine := mutation.NewEngine(store, mutation.WithOutcomeCounter(svc.metrics))
	emitter := events.NewEmitter(svc.bus, store, expander, events.WithCounter(svc.metrics))

	svc.app = contextbroker.New(engine, store, authz.New(store, cfg.Authorization.Enabled), emitter, svc.temporal)

	svc.observations = listeners.NewObservationListener(engine, emitter, expander)
	svc.measures = listeners.NewMeasureListener(engine, expander)
	svc.iam = listeners.NewIAMListener(engine, expander)
	svc.projection = listeners.NewTemporalListener(svc.temporal, expander)
	svc.history = listeners.NewBatchMeasureConsumer(svc.temporal, expander)

	r := router.New(serviceName)
	if err = ngsild.RegisterHandlers(ctx, r, policies, svc.app, expander); err != nil {
		return nil, err
	}
	svc.api = r

	svc.control = newControlRouter(svc.metrics.Handler(), svc.healthy)

	return svc, nil
}

// run starts the consumers and both http servers and blocks until ctx is done
// or one of them fails
func (svc *service) run(ctx context.Context) error {
	logger := logging.GetFromContext(ctx)

	defer svc.close(ctx)

	if err := svc.app.Start(); err != nil {
		return err
	}

	for _, s := range svc.subscriptions() {
		if err := svc.bus.Subscribe(ctx, s.name, s.subjects, s.handler); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.bus.ConsumeBatches(ctx, "temporal-measures", measureSubjects, svc.history.HandleBatch)
	})

	g.Go(func() error {
		return serve(ctx, net.JoinHostPort(svc.flags[listenAddress], svc.flags[servicePort]), svc.api)
	})

	if svc.flags[controlPort] != "" {
		g.Go(func() error {
			return serve(ctx, net.JoinHostPort(svc.flags[listenAddress], svc.flags[controlPort]), svc.control)
		})
	}

	logger.Info("service started", "port", svc.flags[servicePort], "control", svc.flags[controlPort])

	return g.Wait()
}

var measureSubjects = []string{listeners.MeasureSubject, listeners.AlarmSubject}

type subscription struct {
	name     string
	subjects []string
	handler  messaging.MessageHandler
}

// subscriptions lists the durable consumers that apply events to the graph.
// Measures and alarms also match the equipment subjects but are skipped by
// the observation listener, their history is written by the batch consumer.
func (svc *service) subscriptions() []subscription {
	return []subscription{
		{"observations", []string{listeners.ObservationSubjects, listeners.EquipmentSubjects}, svc.observations.Handle},
		{"measures", measureSubjects, svc.measures.Handle},
		{"iam", []string{listeners.IAMSubjects}, svc.iam.Handle},
		{"temporal-projection", []string{listeners.EntitySubjects}, svc.projection.Handle},
	}
}

func (svc *service) healthy(ctx context.Context) error {
	if err := svc.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph store unavailable: %w", err)
	}

	if err := svc.pool.Ping(ctx); err != nil {
		return fmt.Errorf("temporal store unavailable: %w", err)
	}

	return nil
}

func (svc *service) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	if err := svc.app.Stop(); err != nil {
		logging.GetFromContext(ctx).Warn("failed to stop event emitter", "err", err.Error())
	}

	svc.bus.Close()
	svc.pool.Close()

	if err := svc.driver.Close(ctx); err != nil {
		logging.GetFromContext(ctx).Warn("failed to close graph driver", "err", err.Error())
	}
}

func newControlRouter(metricsHandler http.Handler, healthy func(context.Context) error) http.Handler {
	r := router.NewControl()

	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := healthy(r.Context()); err != nil {
			logging.GetFromContext(r.Context()).Warn("health check failed", "err", err.Error())
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	logger := logging.GetFromContext(ctx).With(slog.String("addr", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return logging.NewContextWithLogger(context.Background(), logger)
		},
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down http server", "err", err.Error())
		}
	}()

	logger.Info("starting to listen for connections")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func fatal(ctx context.Context, msg string, err error) {
	logging.GetFromContext(ctx).Error(msg, "err", err.Error())
	os.Exit(1)
}
