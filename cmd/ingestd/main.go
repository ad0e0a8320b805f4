// Command ingestd wires every internal/ package into one running engine:
// provider registry, bounded publisher, failover router, instance
// coordinator, storage sink, operational scheduler, and (optionally) the
// NATS republish tap.
//
// Grounded on the teacher's main.go: a flag for debug logging, a
// throwaway stdlib logger for the pre-structured-logger bootstrap phase,
// automaxprocs imported for its side effect, config.Load before anything
// else, and a signal channel driving a single graceful-shutdown path
// (simplified from the teacher's monolithic/sharded mode branch, which has
// no equivalent in this engine — there is one wiring path, not two).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"marketfeed/internal/backfill"
	"marketfeed/internal/composite"
	"marketfeed/internal/config"
	"marketfeed/internal/coordinator"
	"marketfeed/internal/failover"
	"marketfeed/internal/logging"
	"marketfeed/internal/progress"
	"marketfeed/internal/publish"
	"marketfeed/internal/ratelimit"
	"marketfeed/internal/registry"
	"marketfeed/internal/scheduler"
	"marketfeed/internal/storage"
	"marketfeed/internal/sysinfo"
)

func main() {
	var debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	boot := log.New(os.Stdout, "[ingestd] ", log.LstdFlags)

	maxProcs := runtime.GOMAXPROCS(0)
	boot.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	cfg, err := config.Load("")
	if err != nil {
		boot.Fatalf("load config: %v", err)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logLevel := logging.Level(cfg.LogLevel)
	logFormat := logging.Format(cfg.LogFormat)
	logger := logging.New(logging.Config{Level: logLevel, Format: logFormat, Service: "ingestd"})
	logger.Info().Str("instance", cfg.InstanceID).Msg("starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// C6/C7/C14: historical providers register into reg as the deployment
	// configures them; none are wired by default here since this engine
	// carries no concrete historical REST adapter (provider wire formats
	// are an external-collaborator concern, spec.md §1). A concrete
	// deployment builds its composite.Composite (backed by a
	// ratelimit.Tracker) from reg.Historical() at this point.
	reg := registry.New()

	// C2: bounded publisher every streaming provider and the republish
	// tap fan out through.
	pub := publish.New(cfg.PublisherQueueCapacity)
	defer pub.Close()

	// C9: failover router over whatever streaming providers were
	// registered. failover.New requires a non-empty provider list, so a
	// deployment with no streaming providers configured simply runs
	// without one — historical-only and storage/scheduler-only
	// deployments are valid.
	var router *failover.Router
	if streamingProviders := reg.Streaming(); len(streamingProviders) > 0 {
		router = failover.New(streamingProviders, nil, 1,
			failover.WithLogger(logger),
			failover.WithOnTriggered(func(ruleID, from, to string) {
				logger.Warn().Str("rule", ruleID).Str("from", from).Str("to", to).Msg("failover triggered")
			}),
			failover.WithOnRecovered(func(ruleID, from, to string) {
				logger.Info().Str("to", to).Msg("primary recovered")
			}),
		)
	}

	// C10: instance coordinator for backfill/symbol claim arbitration
	// across cooperating instances sharing cfg.ClaimDir.
	coord, err := coordinator.New(cfg.ClaimDir, cfg.InstanceID, cfg.HeartbeatTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("create coordinator")
	}

	// C11: backfill progress tracker, one per process run. A concrete
	// backfill runner (triggered out-of-band, e.g. by an operator command
	// or a scheduled job) calls tracker.StartSymbol/RecordDays/
	// MarkCompleted as it works through coord's claimed symbols.
	tracker := progress.New()
	logger.Info().Str("runId", tracker.Snapshot().RunID).Msg("backfill progress tracker ready")

	// Backfill runner: only constructed when both a historical source and
	// a job list exist. historicalProviders is empty by default (see the
	// reg comment above); BackfillSymbols is empty unless an operator sets
	// it, so a streaming-only deployment never starts one.
	var backfillRunner *backfill.Runner
	if historicalProviders := reg.Historical(); len(historicalProviders) > 0 && len(cfg.BackfillSymbols) > 0 && cfg.BackfillFrom != "" {
		from, err := time.Parse(time.RFC3339, cfg.BackfillFrom)
		if err != nil {
			logger.Error().Err(err).Str("backfillFrom", cfg.BackfillFrom).Msg("backfill disabled: invalid BACKFILL_FROM")
		} else {
			to := time.Now().UTC()
			if cfg.BackfillTo != "" {
				to, err = time.Parse(time.RFC3339, cfg.BackfillTo)
				if err != nil {
					logger.Error().Err(err).Str("backfillTo", cfg.BackfillTo).Msg("backfill disabled: invalid BACKFILL_TO")
				}
			}
			if err == nil {
				limiter := ratelimit.New()
				comp := composite.New(limiter,
					composite.WithLogger(logger),
					composite.WithFailureBackoff(cfg.FailureBackoffDuration),
					composite.WithRotation(cfg.EnableRateLimitRotation, cfg.RateLimitRotationThreshold),
					composite.WithCrossValidation(cfg.EnableCrossValidation),
				)
				for _, p := range historicalProviders {
					comp.AddProvider(p)
				}
				backfillRunner = backfill.New(comp, coord, tracker, pub,
					backfill.WithLogger(logger),
					backfill.WithWorkerCount(cfg.BackfillWorkerCount),
				)
				backfillRunner.Start(runCtx)
				for _, symbol := range cfg.BackfillSymbols {
					job := backfill.Job{Symbol: symbol, From: from, To: to, Adjusted: cfg.BackfillAdjusted}
					if err := backfillRunner.Submit(runCtx, job); err != nil {
						logger.Warn().Err(err).Str("symbol", symbol).Msg("backfill job submission aborted")
					}
				}
			}
		}
	}

	// C12: storage sink persisting every published event. An operator who
	// never overrode STORAGE_BUFFER_SIZE gets a capacity scaled to the
	// container's detected memory limit instead of the bare config
	// default, so a small container doesn't buffer more than it can hold
	// and a large one isn't stuck with a small constant.
	bufferCapacity := cfg.StorageBufferSize
	if bufferCapacity == sysinfo.DefaultStorageBufferCapacity {
		memLimit, err := sysinfo.MemoryLimitBytes()
		if err != nil {
			logger.Warn().Err(err).Msg("detect cgroup memory limit failed, using configured buffer size")
		} else {
			bufferCapacity = sysinfo.RecommendedStorageBufferCapacity(memLimit)
			logger.Info().Int64("memLimitBytes", memLimit).Int("storageBufferCapacity", bufferCapacity).Msg("sized storage buffer from container memory limit")
		}
	}

	sink := storage.New(cfg.StorageRoot,
		storage.WithLayout(storage.LayoutCanonical),
		storage.WithCodec(storage.CodecFor(storage.CodecName(cfg.StorageCodec))),
		storage.WithBufferCapacity(bufferCapacity),
		storage.WithFlushInterval(cfg.StorageFlushInterval),
		storage.WithLogger(logger),
		storage.WithIntegrityPublisher(pub),
	)
	sinkSub := pub.Subscribe("storage-sink", 0)
	go func() {
		for evt := range sinkSub.Events() {
			if err := sink.Append(evt); err != nil {
				logger.Error().Err(err).Msg("storage append failed")
			}
		}
	}()

	sink.StartFlusher(runCtx)

	// C13: operational scheduler gating maintenance-style work against
	// trading-session state and live resource pressure. A concrete
	// maintenance/backfill runner calls sched.CheckOperation before
	// starting; health checks below are always-allowed so they run
	// regardless of session state.
	sched := scheduler.New(time.UTC, cfg.TradingSessionStart, cfg.TradingSessionEnd,
		scheduler.WithCPUThreshold(cfg.SchedulerCPUThreshold))
	if d := sched.CheckOperation(scheduler.OpHealthCheck, scheduler.ProfileLight); !d.Allowed {
		logger.Warn().Str("reason", d.Reason).Msg("unexpected: health check denied at startup")
	}

	// C14: optional downstream republish tap. Absent NATS_URL, this
	// engine runs with no external republish — the publisher's other
	// subscribers (storage, this process's own consumers) are unaffected.
	var republisher *registry.Republisher
	if cfg.NATSURL != "" {
		republisher, err = registry.NewRepublisher(cfg.NATSURL, "nats-republish", pub,
			registry.WithSubjectPrefix(cfg.NATSSubjectPrefix),
			registry.WithLogger(logger))
		if err != nil {
			logger.Error().Err(err).Msg("nats republisher disabled: connect failed")
		} else {
			republisher.Start()
		}
	}

	heartbeatTicker := time.NewTicker(cfg.HeartbeatTimeout / 2)
	defer heartbeatTicker.Stop()
	go func() {
		for {
			select {
			case <-heartbeatTicker.C:
				if err := coord.RefreshHeartbeat(); err != nil {
					logger.Warn().Err(err).Msg("heartbeat refresh failed")
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	if router != nil {
		if err := router.Connect(runCtx); err != nil {
			logger.Error().Err(err).Msg("failover router: no streaming provider could connect")
		}
	}

	logger.Info().Msg("ingestd ready")
	<-sigCh
	logger.Info().Msg("shutting down")

	cancelRun()
	if backfillRunner != nil {
		backfillRunner.Stop()
	}
	sink.Stop()
	if republisher != nil {
		republisher.Stop()
	}
	pub.Unsubscribe(sinkSub.ID())
}
