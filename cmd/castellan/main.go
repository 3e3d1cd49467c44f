package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/castellan-ai/castellan"
	"github.com/castellan-ai/castellan/capability"
	"github.com/castellan-ai/castellan/internal/agents"
	"github.com/castellan-ai/castellan/internal/cache"
	"github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/internal/executor"
	"github.com/castellan-ai/castellan/internal/llm"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/planner"
	"github.com/castellan-ai/castellan/internal/synthesizer"
	"github.com/castellan-ai/castellan/internal/tracesink"
	"github.com/castellan-ai/castellan/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	task := flag.String("task", "", "natural-language task to run")
	taskContext := flag.String("context", "", "optional JSON object with task context")
	flag.Parse()

	if *task == "" {
		log.Fatal("a -task is required")
	}

	ctx := context.Background()
	if err := run(ctx, *configPath, *task, *taskContext); err != nil {
		log.Fatalf("task failed: %v", err)
	}
}

func run(ctx context.Context, configPath, task, rawContext string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var taskContext map[string]any
	if rawContext != "" {
		if err := json.Unmarshal([]byte(rawContext), &taskContext); err != nil {
			return fmt.Errorf("-context must be a JSON object: %w", err)
		}
	}

	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(cfg.LLM.Provider+"/"+cfg.LLM.Model),
	)
	if err != nil {
		return fmt.Errorf("genkit initialization failed: %w", err)
	}

	logger := &logging.StdLogger{}

	client, err := llm.NewGenkitClient(g)
	if err != nil {
		return err
	}
	gated, err := llm.NewGate(client, cfg.LLM.GateWidth)
	if err != nil {
		return err
	}

	agentSet, err := agents.Setup(ctx, cfg.Agents, logger)
	if err != nil {
		return err
	}
	registry := capability.Default()

	v, err := validator.New(registry)
	if err != nil {
		return err
	}
	exec, err := executor.New(agentSet)
	if err != nil {
		return err
	}
	sink, err := tracesink.NewFileSink(cfg.Traces.Dir)
	if err != nil {
		return err
	}

	planCache := cache.NewPlanCache(30 * time.Minute)
	defer planCache.Close()

	runtime, err := castellan.New(
		castellan.WithPlanner(planner.New(gated, registry, planner.WithCache(planCache))),
		castellan.WithValidator(v),
		castellan.WithExecutor(exec),
		castellan.WithSynthesizer(synthesizer.New(gated)),
		castellan.WithTraceSink(sink),
		castellan.WithLogger(logger),
		castellan.WithConfig(castellan.Config{
			EnableEventBus:      true,
			EventBusBufferSize:  cfg.Events.BufferSize,
			EventBusWorkerCount: cfg.Events.WorkerCount,
		}),
	)
	if err != nil {
		return err
	}
	defer runtime.Close()

	response, err := runtime.Execute(ctx, castellan.TaskRequest{Task: task, Context: taskContext})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
