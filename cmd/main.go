package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/fleetgate-sh/scheduler/internal/buildinfo"
	"github.com/fleetgate-sh/scheduler/internal/fleet"
	"github.com/fleetgate-sh/scheduler/internal/gates"
	"github.com/fleetgate-sh/scheduler/internal/hooks"
	"github.com/fleetgate-sh/scheduler/internal/hooks/pubsub"
	"github.com/fleetgate-sh/scheduler/internal/metrics"
	"github.com/fleetgate-sh/scheduler/internal/model"
	"github.com/fleetgate-sh/scheduler/internal/ocm"
	"github.com/fleetgate-sh/scheduler/internal/runner"
	"github.com/fleetgate-sh/scheduler/internal/state"
)

var setupLog = ctrl.Log.WithName("setup")

// config holds all command-line configuration
type config struct {
	fleetConfigPath string
	ocmURL          string
	stateDir        string
	interval        time.Duration
	dryRun          bool
	metricsAddr     string
	pubsubTopic     string
}

func main() {
	cfg := parseFlags()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zap.Options{Development: true})))
	schedulerVersion := buildinfo.SchedulerVersion()
	setupLog.Info("starting fleet upgrade scheduler", "version", schedulerVersion, "dryRun", cfg.dryRun)

	fleetConfig, err := fleet.Load(cfg.fleetConfigPath)
	if err != nil {
		setupLog.Error(err, "unable to load fleet configuration", "path", cfg.fleetConfigPath)
		os.Exit(1)
	}
	orgs := fleetConfig.Resolved()
	setupLog.Info("fleet configuration loaded", "organizations", len(orgs))

	store, err := state.OpenBadger(cfg.stateDir)
	if err != nil {
		setupLog.Error(err, "unable to open state store", "dir", cfg.stateDir)
		os.Exit(1)
	}
	defer store.Close()

	client := ocm.NewClient(ocm.DefaultConfig(cfg.ocmURL, os.Getenv("OCM_TOKEN")))
	defer client.Close()

	eventChan := make(chan model.DecisionEventPayload, 100)
	pubsubPublisher := setupPublishers(cfg, eventChan)

	metricsServer := startMetricsServer(cfg.metricsAddr)

	r := runner.New(client, store, gates.NewEngine(client, gates.Config{}), runner.Options{
		DryRun:           cfg.dryRun,
		SchedulerVersion: schedulerVersion,
		Events:           eventChan,
	})

	ctx := ctrl.SetupSignalHandler()
	runLoop(ctx, r, cfg.fleetConfigPath, orgs, cfg.interval)

	setupLog.Info("shutting down")
	if err := metricsServer.Shutdown(context.Background()); err != nil {
		setupLog.Error(err, "metrics server shutdown failed")
	}
	close(eventChan)
	if pubsubPublisher != nil {
		pubsubPublisher.Stop()
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.fleetConfigPath, "fleet-config", "fleet.yaml",
		"Path to the fleet configuration file (organizations, sectors, inheritance)")
	flag.StringVar(&cfg.ocmURL, "ocm-url", os.Getenv("OCM_URL"),
		"Base URL of the cluster-management service. The bearer token is read from OCM_TOKEN.")
	flag.StringVar(&cfg.stateDir, "state-dir", "/var/lib/fleetgate",
		"Directory for the persistent version history store")
	flag.DurationVar(&cfg.interval, "interval", 2*time.Minute,
		"Time between reconcile cycles")
	flag.BoolVar(&cfg.dryRun, "dry-run", false,
		"Log upgrade decisions without applying policies, agreeing gates or persisting soak time")
	flag.StringVar(&cfg.metricsAddr, "metrics-bind-address", ":8080",
		"The address the metrics endpoint binds to.")
	flag.StringVar(&cfg.pubsubTopic, "pubsub-topic", os.Getenv("PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>) for decision events")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	if cfg.ocmURL == "" {
		setupLog.Error(nil, "ocm-url is required")
		os.Exit(1)
	}

	return cfg
}

func setupPublishers(cfg config, eventChan chan model.DecisionEventPayload) *pubsub.Publisher {
	var publishers []hooks.EventPublisher
	var pubsubPublisher *pubsub.Publisher

	if cfg.pubsubTopic != "" {
		var err error
		pubsubPublisher, err = pubsub.NewPublisher(context.Background(), cfg.pubsubTopic)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
			os.Exit(1)
		}
		publishers = append(publishers, pubsubPublisher)
		setupLog.Info("Google Pub/Sub publisher enabled", "topic", cfg.pubsubTopic)
	}

	if len(publishers) == 0 {
		setupLog.Info("No event publishers configured, decisions will only be exported as metrics")
	}

	// The queue always runs so the event channel never backs up the
	// reconcile loop.
	queue := hooks.NewEventPublisherQueue(eventChan, publishers)
	go queue.Loop()

	return pubsubPublisher
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "metrics server failed")
			os.Exit(1)
		}
	}()

	return srv
}

// runLoop reconciles once immediately, then on every tick until the context
// is cancelled. The fleet configuration is re-read before each cycle; when
// the reload fails the last good configuration stays in effect.
func runLoop(ctx context.Context, r *runner.Runner, fleetConfigPath string, orgs []model.Organization, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.RunCycle(ctx, orgs, time.Now().UTC()); err != nil {
			setupLog.Error(err, "reconcile cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if fleetConfig, err := fleet.Load(fleetConfigPath); err != nil {
			setupLog.Error(err, "fleet configuration reload failed, keeping the previous one")
		} else {
			orgs = fleetConfig.Resolved()
		}
	}
}
