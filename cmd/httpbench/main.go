// Command httpbench runs a YAML-described request scenario through the
// client and reports per-request status, latency, and assertion outcomes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"httpbridge/core/pkg/assertion"
	"httpbridge/core/pkg/client"
	"httpbridge/core/pkg/engine"
	"httpbridge/core/pkg/model/mrequest"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// Scenario is the YAML file shape.
type Scenario struct {
	PoolSize         int            `yaml:"pool_size"`
	BatchConcurrency int            `yaml:"batch_concurrency"`
	Framing          string         `yaml:"framing"`
	TimeoutMs        uint64         `yaml:"timeout_ms"`
	Requests         []ScenarioItem `yaml:"requests"`
}

// ScenarioItem is one request plus its expectations.
type ScenarioItem struct {
	Name        string            `yaml:"name"`
	Method      string            `yaml:"method"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Query       map[string]string `yaml:"query"`
	Body        string            `yaml:"body"`
	TimeoutMs   uint64            `yaml:"timeout_ms"`
	Parse       bool              `yaml:"parse_response"`
	Priority    string            `yaml:"priority"`
	Assertions  []string          `yaml:"assertions"`
	NoRedirects bool              `yaml:"no_redirects"`
}

func main() {
	scenarioPath := flag.String("scenario", "scenario.yaml", "path to the YAML scenario file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(context.Background(), log, *scenarioPath); err != nil {
		log.Error("scenario failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, scenarioPath string) error {
	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("parsing scenario: %w", err)
	}
	if len(sc.Requests) == 0 {
		return fmt.Errorf("scenario has no requests")
	}

	framing := client.FramingEncoded
	if sc.Framing == "buffer" {
		framing = client.FramingBuffer
	}
	c, err := client.New(
		client.WithPoolSize(sc.PoolSize),
		client.WithEngineConfig(engine.Config{BatchConcurrency: sc.BatchConcurrency, Logger: log}),
		client.WithLogger(log),
		client.WithFraming(framing),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	runID := ulid.Make().String()
	log.Info("scenario start", "run_id", runID, "requests", len(sc.Requests), "framing", sc.Framing)

	reqs := make([]*mrequest.Request, len(sc.Requests))
	for i, item := range sc.Requests {
		reqs[i] = buildRequest(item, sc.TimeoutMs)
	}

	start := time.Now()
	results := c.Batch(ctx, reqs)
	elapsed := time.Since(start)

	failed := 0
	for i, res := range results {
		item := sc.Requests[i]
		name := item.Name
		if name == "" {
			name = fmt.Sprintf("request[%d]", i)
		}
		if res.Err != nil {
			failed++
			log.Error("request failed", "run_id", runID, "name", name,
				"code", res.Err.Code, "error", res.Err.Message)
			continue
		}
		resp := res.Response
		checks := assertion.Eval(ctx, item.Assertions, resp)
		passed := assertion.AllPassed(checks)
		if !passed {
			failed++
		}
		log.Info("request done", "run_id", runID, "name", name,
			"status", resp.StatusCode, "elapsed_ms", resp.ElapsedMs,
			"cache_hit", resp.CacheHit, "assertions_passed", passed)
		for _, check := range checks {
			if check.Err != nil {
				log.Error("assertion error", "name", name, "expr", check.Expr, "error", check.Err)
			} else if !check.Pass {
				log.Warn("assertion failed", "name", name, "expr", check.Expr)
			}
		}
	}

	log.Info("scenario done", "run_id", runID,
		"total", len(results), "failed", failed, "wall_ms", elapsed.Milliseconds())
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(results))
	}
	return nil
}

func buildRequest(item ScenarioItem, defaultTimeoutMs uint64) *mrequest.Request {
	req := mrequest.New(item.Method, item.URL)
	req.Headers = item.Headers
	req.QueryParams = item.Query
	req.Body = item.Body
	req.ParseResponse = item.Parse
	if item.TimeoutMs > 0 {
		req.TimeoutMs = item.TimeoutMs
	} else if defaultTimeoutMs > 0 {
		req.TimeoutMs = defaultTimeoutMs
	}
	if item.Priority != "" {
		req.Priority = mrequest.Priority(item.Priority)
	}
	if item.NoRedirects {
		req.FollowRedirects = false
	}
	return req
}
