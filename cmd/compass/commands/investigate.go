package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/compass-investigate/compass/internal/backends"
	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/config"
	"github.com/compass-investigate/compass/internal/decision"
	"github.com/compass-investigate/compass/internal/disproof"
	"github.com/compass-investigate/compass/internal/investigation"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/metrics"
	"github.com/compass-investigate/compass/internal/observation"
	"github.com/compass-investigate/compass/internal/ooda"
	"github.com/compass-investigate/compass/internal/postmortem"
	"github.com/compass-investigate/compass/internal/ranker"
	"github.com/compass-investigate/compass/internal/tracing"
	"github.com/compass-investigate/compass/internal/workers"
)

var (
	invService         string
	invSymptom         string
	invSeverity        string
	invBudget          float64
	invBackendsConfig  string
	invTracingEnabled  bool
	invMetricsAddr     string
	invAutoDecide      bool
	invPostmortemPath  string
)

var investigateCmd = &cobra.Command{
	Use:   "investigate",
	Short: "Run an investigation against an incident",
	RunE:  runInvestigate,
}

func init() {
	investigateCmd.Flags().StringVar(&invService, "service", "", "Name of the affected service (required)")
	investigateCmd.Flags().StringVar(&invSymptom, "symptom", "", "Observed symptom, e.g. 'elevated 500 rate' (required)")
	investigateCmd.Flags().StringVar(&invSeverity, "severity", "routine", "Incident severity: routine, elevated, or critical")
	investigateCmd.Flags().Float64Var(&invBudget, "budget", 0, "Investigation budget limit in USD (0 uses the configured default)")
	investigateCmd.Flags().StringVar(&invBackendsConfig, "backends", "backends.yaml", "Path to the backend registry YAML file")
	investigateCmd.Flags().BoolVar(&invTracingEnabled, "tracing-enabled", false, "Emit one OpenTelemetry span per OODA phase")
	investigateCmd.Flags().StringVar(&invMetricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9095) for the run's duration")
	investigateCmd.Flags().BoolVar(&invAutoDecide, "auto-decide", false, "Skip the interactive prompt and automatically validate the top-ranked hypothesis")
	investigateCmd.Flags().StringVar(&invPostmortemPath, "postmortem-out", "", "If set, render a postmortem Markdown report to this path")

	_ = investigateCmd.MarkFlagRequired("service")
	_ = investigateCmd.MarkFlagRequired("symptom")
}

func runInvestigate(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger := logging.GetLogger("cmd.investigate")

	registry, err := config.LoadBackendRegistry(invBackendsConfig)
	if err != nil {
		return fmt.Errorf("load backend registry: %w", err)
	}

	metricBackend, traceBackend, logBackend := buildBackends(registry)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	defer m.Unregister()

	if invMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: invMetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped: %v", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics on %s/metrics", invMetricsAddr)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracingProvider, err := tracing.NewProvider(ctx, tracing.Config{Enabled: invTracingEnabled, ServiceName: "compass"})
	if err != nil {
		logger.Warn("failed to initialize tracing, continuing untraced: %v", err)
		tracingProvider, _ = tracing.NewProvider(ctx, tracing.Config{Enabled: false})
	}
	defer tracingProvider.Shutdown(ctx)

	cfg := config.Defaults()
	budget := invBudget
	if budget <= 0 {
		budget = cfg.DefaultBudgetLimit
	}

	inv := investigation.New(investigation.Context{
		Service:  invService,
		Symptom:  invSymptom,
		Severity: invSeverity,
	}, budget)
	m.TrackInvestigationStarted(inv.Context.Service, inv.Context.Severity)

	orch := ooda.New(buildWorkers(metricBackend, logBackend, traceBackend, m))
	orch.DisproofEngine = disproof.New()
	orch.StrategyNames = []string{"temporal_contradiction", "scope_verification", "metric_threshold_validation"}
	orch.StrategyExecutor = disproof.NewRegistry(
		&disproof.TemporalContradiction{Metrics: metricBackend},
		&disproof.ScopeVerification{Traces: traceBackend},
		&disproof.MetricThresholdValidation{Metrics: metricBackend},
	).Executor()
	orch.Tracer = tracingProvider.Tracer("compass/ooda")
	if invAutoDecide {
		orch.Decider = autoDecider{}
	} else {
		orch.Decider = decision.NewConsole()
	}

	start := time.Now()
	result, err := orch.Run(ctx, inv)
	if err != nil && result == nil {
		return fmt.Errorf("investigation failed: %w", err)
	}

	outcome := "inconclusive"
	switch inv.Status() {
	case investigation.StatusResolved:
		outcome = "resolved"
	case investigation.StatusInconclusive:
		outcome = "inconclusive"
	}
	m.TrackInvestigationCompleted(inv.Context.Service, inv.Context.Severity, time.Since(start).Seconds(), inv.TotalCost(), outcome)

	printSummary(inv, result)

	if invPostmortemPath != "" {
		if err := postmortem.Render(invPostmortemPath, inv, result); err != nil {
			logger.Warn("failed to render postmortem: %v", err)
		} else {
			fmt.Printf("postmortem written to %s\n", invPostmortemPath)
		}
	}

	if result != nil && result.Cancelled {
		return fmt.Errorf("investigation cancelled during phase %s", result.CancelledAtPhase)
	}
	return nil
}

func printSummary(inv *investigation.Investigation, result *ooda.Result) {
	fmt.Printf("investigation %s: status=%s cost=$%.4f\n", inv.ID, inv.Status(), inv.TotalCost())
	if result == nil || result.Decision.Hypothesis == nil {
		return
	}
	fmt.Printf("decided hypothesis: %s (confidence=%.2f)\n", result.Decision.Hypothesis.Statement, result.Decision.Hypothesis.CurrentConfidence)
	fmt.Printf("validation outcome: %s\n", result.Validation.Outcome)
}

// autoDecider always picks the top-ranked hypothesis, for unattended
// runs (CI, scripted reproduction).
type autoDecider struct{}

func (autoDecider) Decide(ctx context.Context, ranked []ranker.Ranked, inv *investigation.Investigation) (decision.Decision, error) {
	if len(ranked) == 0 {
		return decision.Decision{}, cerrors.New(cerrors.KindValidation, "no ranked hypotheses to decide among")
	}
	return decision.Decision{
		Hypothesis: ranked[0].Hypothesis,
		Reasoning:  "auto-decide: selected top-ranked hypothesis",
		Timestamp:  time.Now(),
	}, nil
}

func buildBackends(registry *config.BackendRegistryFile) (backends.MetricBackend, backends.TraceBackend, backends.LogBackend) {
	var metricBackend backends.MetricBackend
	var traceBackend backends.TraceBackend
	var logBackend backends.LogBackend

	for _, inst := range registry.EnabledByKind(config.BackendKindMetric) {
		if url, ok := inst.Config["url"].(string); ok && metricBackend == nil {
			metricBackend = backends.NewPrometheusClient(url, 30*time.Second)
		}
	}
	for _, inst := range registry.EnabledByKind(config.BackendKindLog) {
		if url, ok := inst.Config["url"].(string); ok && logBackend == nil {
			logBackend = backends.NewLokiClient(url, 30*time.Second)
		}
	}
	for _, inst := range registry.EnabledByKind(config.BackendKindTrace) {
		if url, ok := inst.Config["url"].(string); ok && traceBackend == nil {
			traceBackend = backends.NewTempoClient(url, 30*time.Second)
		}
	}
	return metricBackend, traceBackend, logBackend
}

func buildWorkers(metricBackend backends.MetricBackend, logBackend backends.LogBackend, traceBackend backends.TraceBackend, m *metrics.Metrics) []observation.Worker {
	return []observation.Worker{
		workers.NewDatabaseWorker(metricBackend, logBackend, traceBackend, m),
		workers.NewNetworkWorker(metricBackend, logBackend, traceBackend, m),
		workers.NewApplicationWorker(metricBackend, logBackend, traceBackend, m),
	}
}

