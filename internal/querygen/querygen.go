// Package querygen implements the Query Generator (§4.8): it turns a
// natural-language intent into a PromQL/LogQL/TraceQL string via
// templates, an LRU cache, or an LLM call, tracking cost against a
// running budget along the way.
package querygen

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/compass-investigate/compass/internal/cerrors"
	"github.com/compass-investigate/compass/internal/logging"
)

var log = logging.GetLogger("querygen")

// QueryType is one of the three observability query languages COMPASS
// generates.
type QueryType string

const (
	PromQL  QueryType = "promql"
	LogQL   QueryType = "logql"
	TraceQL QueryType = "traceql"
)

// DefaultEstimatedCostUSD seeds the budget pre-check before any
// non-cached query has actually run.
const DefaultEstimatedCostUSD = 0.0020

// Request is one query-generation ask.
type Request struct {
	QueryType   QueryType
	Intent      string
	Context     map[string]any
	UseTemplate string
}

// Generated is the result of one Generate call.
type Generated struct {
	QueryType        QueryType
	Query            string
	Explanation      string
	IsValid          bool
	ValidationErrors []string
	TokensUsed       int
	Cost             float64
	UsedTemplate     bool
	FromCache        bool
	Timestamp        time.Time
}

// LLMResult is what the LLM port returns for a query-generation call.
type LLMResult struct {
	Query       string
	Explanation string
	TokensUsed  int
	Cost        float64
}

// LLM is the §6 LLM port, scoped to query generation.
type LLM interface {
	Generate(ctx context.Context, queryType QueryType, intent string, context map[string]any) (LLMResult, error)
}

type queryTemplate struct {
	template   string
	parameters []string
}

// Generator implements the §4.8 pipeline.
type Generator struct {
	llm         LLM
	budgetLimit float64 // 0 means unlimited

	cache *lru.Cache[string, Generated]

	mu               sync.Mutex
	templates        map[string]queryTemplate
	totalQueries     int
	totalTokens      int
	totalCost        float64
	nonCachedQueries int
}

// New returns a Generator backed by llm, with an optional budgetLimit
// (0 = unlimited) and an LRU query cache bounded to cacheSize entries.
func New(llm LLM, budgetLimit float64, cacheSize int) (*Generator, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, Generated](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("querygen: failed to build cache: %w", err)
	}
	return &Generator{
		llm:         llm,
		budgetLimit: budgetLimit,
		cache:       cache,
		templates:   make(map[string]queryTemplate),
	}, nil
}

// RegisterTemplate registers a query template for common patterns,
// rendered by replacing each `{key}` placeholder with the request
// context's value for key.
func (g *Generator) RegisterTemplate(name, template string, parameters []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templates[name] = queryTemplate{template: template, parameters: parameters}
}

// Generate runs the §4.8 pipeline: budget pre-check, template path,
// cache path, LLM path, in that order.
func (g *Generator) Generate(ctx context.Context, req Request) (Generated, error) {
	if err := g.checkBudget(); err != nil {
		return Generated{}, err
	}

	if req.UseTemplate != "" {
		return g.generateFromTemplate(req)
	}

	key := cacheKey(req)
	if cached, ok := g.cache.Get(key); ok {
		g.mu.Lock()
		g.totalQueries++
		g.totalTokens += cached.TokensUsed
		g.totalCost += cached.Cost
		g.mu.Unlock()

		log.InfoWithFields("query cache hit", logging.Field("query_type", string(req.QueryType)))
		result := cached
		result.FromCache = true
		result.Timestamp = time.Now().UTC()
		return result, nil
	}

	return g.generateWithLLM(ctx, req, key)
}

func (g *Generator) checkBudget() error {
	if g.budgetLimit <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	avgCost := DefaultEstimatedCostUSD
	if g.nonCachedQueries > 0 {
		avgCost = g.totalCost / float64(g.nonCachedQueries)
	}
	estimated := g.totalCost + avgCost
	if estimated > g.budgetLimit {
		return cerrors.New(cerrors.KindBudgetExceeded,
			fmt.Sprintf("querygen: estimated cost $%.4f would exceed budget $%.4f", estimated, g.budgetLimit))
	}
	return nil
}

func (g *Generator) generateFromTemplate(req Request) (Generated, error) {
	g.mu.Lock()
	tmpl, ok := g.templates[req.UseTemplate]
	g.mu.Unlock()
	if !ok {
		return Generated{}, cerrors.New(cerrors.KindValidation, fmt.Sprintf("querygen: unknown template %q", req.UseTemplate))
	}

	query := renderTemplate(tmpl.template, req.Context)
	valid, errs := validate(req.QueryType, query)

	log.InfoWithFields("query generated from template",
		logging.Field("template", req.UseTemplate), logging.Field("is_valid", valid))

	return Generated{
		QueryType:        req.QueryType,
		Query:            query,
		Explanation:      fmt.Sprintf("generated from template: %s", req.UseTemplate),
		IsValid:          valid,
		ValidationErrors: errs,
		UsedTemplate:     true,
		Timestamp:        time.Now().UTC(),
	}, nil
}

func (g *Generator) generateWithLLM(ctx context.Context, req Request, key string) (Generated, error) {
	resp, err := g.llm.Generate(ctx, req.QueryType, req.Intent, req.Context)
	if err != nil {
		return Generated{}, cerrors.Wrap(cerrors.KindTransport, err, "querygen: llm query generation failed")
	}

	valid, errs := validate(req.QueryType, resp.Query)
	result := Generated{
		QueryType:        req.QueryType,
		Query:            resp.Query,
		Explanation:      resp.Explanation,
		IsValid:          valid,
		ValidationErrors: errs,
		TokensUsed:       resp.TokensUsed,
		Cost:             resp.Cost,
		Timestamp:        time.Now().UTC(),
	}

	g.cache.Add(key, result)

	g.mu.Lock()
	g.totalQueries++
	g.nonCachedQueries++
	g.totalTokens += resp.TokensUsed
	g.totalCost += resp.Cost
	g.mu.Unlock()

	log.InfoWithFields("query generated",
		logging.Field("query_type", string(req.QueryType)), logging.Field("tokens_used", resp.TokensUsed),
		logging.Field("cost", resp.Cost), logging.Field("is_valid", valid))
	return result, nil
}

// CostStats is the §4.8 cost-tracking snapshot.
type CostStats struct {
	TotalQueries          int
	TotalTokens           int
	TotalCost             float64
	AverageTokensPerQuery float64
	CacheSize             int
	TemplateCount         int
}

// CostStats returns a snapshot of the generator's running totals.
func (g *Generator) CostStats() CostStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	var avg float64
	if g.totalQueries > 0 {
		avg = float64(g.totalTokens) / float64(g.totalQueries)
	}
	return CostStats{
		TotalQueries:          g.totalQueries,
		TotalTokens:           g.totalTokens,
		TotalCost:             g.totalCost,
		AverageTokensPerQuery: avg,
		CacheSize:             g.cache.Len(),
		TemplateCount:         len(g.templates),
	}
}

func cacheKey(req Request) string {
	data := fmt.Sprintf("%s|%s|%v", req.QueryType, req.Intent, req.Context)
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

func renderTemplate(template string, context map[string]any) string {
	out := template
	for k, v := range context {
		out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
	}
	return out
}

var (
	promqlIdentifier  = regexp.MustCompile(`[a-zA-Z_:][a-zA-Z0-9_:]*`)
	streamSelectorRe  = regexp.MustCompile(`\{[^}]+\}`)
)

// validate performs the §4.8 syntactic-only checks: never raises, only
// reports diagnostics.
func validate(queryType QueryType, query string) (bool, []string) {
	var errs []string

	switch queryType {
	case PromQL:
		stripped := strings.TrimSpace(query)
		switch {
		case strings.HasPrefix(stripped, "{"):
			errs = append(errs, "PromQL query missing metric name (cannot start with '{')")
		case !promqlIdentifier.MatchString(query):
			errs = append(errs, "PromQL query missing metric name or function")
		}
		if strings.Count(query, "{") != strings.Count(query, "}") {
			errs = append(errs, "unbalanced curly braces in PromQL query")
		}
		if strings.Count(query, "[") != strings.Count(query, "]") {
			errs = append(errs, "unbalanced square brackets in PromQL query")
		}
		if strings.Count(query, "(") != strings.Count(query, ")") {
			errs = append(errs, "unbalanced parentheses in PromQL query")
		}
	case LogQL:
		if !streamSelectorRe.MatchString(query) {
			errs = append(errs, "LogQL query missing log stream selector")
		}
	case TraceQL:
		if !streamSelectorRe.MatchString(query) {
			errs = append(errs, "TraceQL query missing span selector")
		}
	}

	return len(errs) == 0, errs
}
