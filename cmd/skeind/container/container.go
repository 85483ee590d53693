// Package container assembles the service's collaborators once at startup:
// stores, executor registry, metrics, event hub, and the execution manager.
package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skeinworks/skein/common/config"
	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine"
	"github.com/skeinworks/skein/engine/agentproc"
	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/evolution"
	"github.com/skeinworks/skein/engine/executor"
	"github.com/skeinworks/skein/engine/fanout"
	"github.com/skeinworks/skein/engine/journal"
	"github.com/skeinworks/skein/engine/metrics"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/store/fsstore"
	"github.com/skeinworks/skein/store/pgstore"
	"github.com/skeinworks/skein/workflow"
)

// Container holds the initialized service graph
type Container struct {
	Config     *config.Config
	Log        *logger.Logger
	Workflows  store.WorkflowStore
	Executions store.ExecutionStore
	Registry   *engine.Registry
	Hub        *fanout.Hub
	Manager    *engine.Manager
	Metrics    *metrics.Metrics
	Prometheus *prometheus.Registry

	pg     *pgstore.Store
	mirror *fanout.RedisMirror
}

// New builds the container. The filesystem store always carries workflow
// documents; the postgres backend replaces only the execution store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	fs, err := fsstore.New(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir %s: %w", cfg.Store.DataDir, err)
	}

	c := &Container{
		Config:    cfg,
		Log:       log,
		Workflows: fs,
		Hub:       fanout.NewHub(),
	}

	switch cfg.Store.Backend {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres store: %w", err)
		}
		c.pg = pg
		c.Executions = pg
	default:
		c.Executions = fs
	}

	c.Prometheus = prometheus.NewRegistry()
	c.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Prometheus)

	c.Registry = buildRegistry(cfg, c.Workflows, log)

	var mirror journal.Sink
	if cfg.Redis.Enabled {
		m, err := fanout.NewRedisMirror(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ChannelPrefix, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis mirror: %w", err)
		}
		c.mirror = m
		mirror = m
	}

	c.Manager = engine.NewManager(engine.ManagerParams{
		Workflows:   c.Workflows,
		Executions:  c.Executions,
		Registry:    c.Registry,
		Hub:         c.Hub,
		Coordinator: approval.NewCoordinator(log, c.Metrics),
		Mirror:      mirror,
		Logger:      log,
		Metrics:     c.Metrics,
		BaseDir:     cfg.Engine.WorkingDirectory,
	})

	return c, nil
}

// buildRegistry wires every node type to its executor
func buildRegistry(cfg *config.Config, workflows store.WorkflowStore, log *logger.Logger) *engine.Registry {
	reg := engine.NewRegistry()

	reg.MustRegister(workflow.NodeTypeInput, executor.Input{})
	reg.MustRegister(workflow.NodeTypeOutput, executor.Output{})
	reg.MustRegister(workflow.NodeTypeMerge, executor.Merge{})
	reg.MustRegister(workflow.NodeTypeCondition, executor.Condition{})
	reg.MustRegister(workflow.NodeTypeApproval, executor.Approval{})
	reg.MustRegister(workflow.NodeTypeScript, executor.NewScript(cfg.Engine.ScriptTimeout))
	reg.MustRegister(workflow.NodeTypeShell, executor.NewShell(cfg.Engine.ShellTimeout))
	reg.MustRegister(workflow.NodeTypeReflection, executor.NewReflection(evolution.NewApplier(workflows, log)))

	reg.MustRegister(workflow.NodeTypeHTTP, executor.NewHTTP(executor.HTTPConfig{
		Timeout:          cfg.HTTPNode.Timeout,
		MaxResponseBytes: cfg.HTTPNode.MaxResponseBytes,
		AllowPrivate:     cfg.HTTPNode.AllowPrivate,
		AllowedSchemes:   cfg.HTTPNode.AllowedSchemes,
	}))

	commands := map[string][]string{}
	if len(cfg.Agents.ClaudeCommand) > 0 {
		commands[workflow.NodeTypeClaudeAgent] = cfg.Agents.ClaudeCommand
	}
	if len(cfg.Agents.CodexCommand) > 0 {
		commands[workflow.NodeTypeCodexAgent] = cfg.Agents.CodexCommand
	}
	factory := agentproc.NewFactory(commands, log)
	agent := executor.NewAgent(factory.Transport, cfg.Engine.AgentTimeout, log)
	reg.MustRegister(workflow.NodeTypeClaudeAgent, agent)
	reg.MustRegister(workflow.NodeTypeCodexAgent, agent)

	return reg
}

// Shutdown drains running executions and releases connections
func (c *Container) Shutdown(ctx context.Context) {
	if err := c.Manager.Shutdown(ctx); err != nil {
		c.Log.Warn("executions still draining at shutdown", "error", err)
	}
	if c.mirror != nil {
		if err := c.mirror.Close(); err != nil {
			c.Log.Warn("redis mirror close failed", "error", err)
		}
	}
	if c.pg != nil {
		c.pg.Close()
	}
}
