package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelops/remedy-core/internal/action"
	"github.com/sentinelops/remedy-core/internal/analysis"
	"github.com/sentinelops/remedy-core/internal/api"
	"github.com/sentinelops/remedy-core/internal/blast"
	"github.com/sentinelops/remedy-core/internal/config"
	"github.com/sentinelops/remedy-core/internal/dedup"
	"github.com/sentinelops/remedy-core/internal/detect"
	"github.com/sentinelops/remedy-core/internal/executor"
	"github.com/sentinelops/remedy-core/internal/hypothesis"
	"github.com/sentinelops/remedy-core/internal/learning"
	"github.com/sentinelops/remedy-core/internal/llm"
	"github.com/sentinelops/remedy-core/internal/metrics"
	"github.com/sentinelops/remedy-core/internal/models"
	"github.com/sentinelops/remedy-core/internal/monitor"
	"github.com/sentinelops/remedy-core/internal/queue"
	"github.com/sentinelops/remedy-core/internal/remediate"
	"github.com/sentinelops/remedy-core/internal/runbook"
	"github.com/sentinelops/remedy-core/internal/store"
	"github.com/sentinelops/remedy-core/internal/topology"
	"github.com/sentinelops/remedy-core/internal/verify"
	"github.com/sentinelops/remedy-core/pkg/cache"
	"github.com/sentinelops/remedy-core/pkg/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)
	logg.Info("starting remedy-core", "version", version, "environment", cfg.Environment)

	// Shared cache. Unreachable at startup is not fatal: everything that
	// uses it carries a degraded path.
	var sharedCache cache.SharedCache
	sharedCache, err = cache.NewRedis(cfg.Cache.Addr, cfg.Cache.Password,
		cfg.Cache.DB, time.Duration(cfg.Cache.TTL)*time.Second, logg)
	if err != nil {
		logg.Warn("shared cache unavailable, running degraded", "error", err)
		sharedCache = cache.NewNoop()
	}

	st, err := store.New(cfg.Datastore, logg)
	if err != nil {
		logg.Fatal("datastore init failed", "error", err)
	}

	metricClient := metrics.NewHTTPClient(cfg.Metrics, logg)

	graph, err := topology.LoadFromFile(cfg.ServiceDependenciesFile)
	if err != nil {
		logg.Warn("topology file unavailable, starting with empty graph",
			"path", cfg.ServiceDependenciesFile, "error", err)
		graph = topology.NewGraph(nil)
	}

	runbooks, err := runbook.Load(cfg.RunbooksFile, logg)
	if err != nil {
		logg.Fatal("runbook load failed", "path", cfg.RunbooksFile, "error", err)
	}
	if err := runbooks.Watch(); err != nil {
		logg.Warn("runbook hot reload disabled", "error", err)
	}

	llmClient := llm.NewCachedClient(
		llm.NewOpenAIClient(cfg.LLM, logg),
		sharedCache,
		time.Duration(cfg.LLM.CacheTTLSeconds)*time.Second,
		logg)

	detector := detect.New(cfg.Detector.SigmaThreshold, logg)
	generator := hypothesis.New(llmClient, graph, logg)
	selector := action.NewSelector(runbooks, graph, cfg.Selector.ConfidenceApprovalThreshold, logg)
	assessor := blast.New(graph, metricClient, cfg.Blast, logg)
	deduplicator := dedup.New(st, cfg.Dedup.WindowOverrides, logg)

	learner := learning.New(st, logg)
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := learner.Warmup(warmCtx); err != nil {
		logg.Warn("pattern cache warmup failed", "error", err)
	}
	warmCancel()

	kubeClient, err := executor.NewKubernetesClient(cfg.Orchestrator)
	if err != nil {
		logg.Warn("orchestrator unavailable, executors will simulate", "error", err)
	}
	if kubeClient == nil {
		logg.Info("no orchestrator configured, executors in simulation mode")
	}
	executors := remediate.Executors(
		executor.NewPodRestartExecutor(kubeClient, cfg.DryRunMode, logg),
		executor.NewScaleExecutor(kubeClient, cfg.DryRunMode, logg),
		executor.NewDeploymentRollbackExecutor(kubeClient, cfg.DryRunMode, logg))

	verifier := verify.New(metricClient,
		time.Duration(cfg.Verification.StabilizationSeconds)*time.Second,
		cfg.Verification.ImprovementThreshold, logg)

	mode := models.ModeLive
	if cfg.DryRunMode {
		mode = models.ModeDryRun
	}

	q := queue.New(cfg.Queue, sharedCache, logg)
	analysisTask := analysis.New(st, metricClient, detector, generator,
		selector, learner, mode, cfg.Orchestrator.Namespace, logg)
	remediateTask := remediate.New(st, executors, verifier, learner,
		cfg.Orchestrator.Namespace, logg)
	q.Register(analysis.TaskName, analysisTask.Handle)
	q.Register(remediate.TaskName, remediateTask.Handle)

	mon := monitor.New(cfg.Monitor, metricClient, detector, deduplicator,
		st, sharedCache, q, logg)

	server := api.New(cfg, st, deduplicator, q, assessor, sharedCache, version, logg)

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	go mon.Run(ctx)
	go func() {
		if err := server.Start(); err != nil {
			logg.Fatal("http server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logg.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown failed", "error", err)
	}

	runbooks.Close()
	metricClient.Close()
	if err := st.Close(); err != nil {
		logg.Error("datastore close failed", "error", err)
	}
	if err := sharedCache.Close(); err != nil {
		logg.Error("cache close failed", "error", err)
	}
	logg.Info("shutdown complete")
}
