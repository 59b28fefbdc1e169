package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compass-investigate/compass/internal/llm"
	"github.com/compass-investigate/compass/internal/logging"
	"github.com/compass-investigate/compass/internal/querygen"
)

var (
	queryType   string
	queryIntent string
	queryBudget float64
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Generate an observability query from a natural-language intent",
	Long: `query asks the Anthropic-backed Query Generator to turn a plain-language
intent into a PromQL, LogQL, or TraceQL query, the same path a worker falls
back to when no canned query covers its hypothesis.`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryType, "type", "promql", "Query language to generate: promql, logql, or traceql")
	queryCmd.Flags().StringVar(&queryIntent, "intent", "", "Natural-language description of the query to generate (required)")
	queryCmd.Flags().Float64Var(&queryBudget, "budget", 0.05, "USD budget ceiling for this command's LLM calls (0 = unlimited)")
	_ = queryCmd.MarkFlagRequired("intent")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger := logging.GetLogger("cmd.query")

	qt := querygen.QueryType(queryType)
	switch qt {
	case querygen.PromQL, querygen.LogQL, querygen.TraceQL:
	default:
		return fmt.Errorf("invalid --type %q: must be promql, logql, or traceql", queryType)
	}

	client := llm.NewAnthropicClient(llm.DefaultConfig())
	generator, err := querygen.New(client, queryBudget, 0)
	if err != nil {
		return fmt.Errorf("build query generator: %w", err)
	}

	result, err := generator.Generate(context.Background(), querygen.Request{
		QueryType: qt,
		Intent:    queryIntent,
	})
	if err != nil {
		return fmt.Errorf("generate query: %w", err)
	}

	logger.InfoWithFields("query generated",
		logging.Field("query_type", string(result.QueryType)),
		logging.Field("tokens_used", result.TokensUsed),
		logging.Field("cost", result.Cost))
	fmt.Printf("query: %s\n", result.Query)
	if result.Explanation != "" {
		fmt.Printf("explanation: %s\n", result.Explanation)
	}
	fmt.Printf("tokens_used=%d cost=$%.4f from_cache=%v\n", result.TokensUsed, result.Cost, result.FromCache)
	return nil
}
