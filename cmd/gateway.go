package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"zeroclaw/pkg/agent"
	"zeroclaw/pkg/bus"
	"zeroclaw/pkg/gateway"
	"zeroclaw/pkg/hooks"
	"zeroclaw/pkg/memory"
	"zeroclaw/pkg/provider"
	"zeroclaw/pkg/security"
	fstools "zeroclaw/pkg/tools/fs"
	"zeroclaw/pkg/workspace"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Runs ZeroClaw as a channel gateway with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		boot, err := loadBootstrap()
		if err != nil {
			fmt.Printf("%v\n", err)
			return
		}
		log := boot.log.With("component", "cmd.gateway")

		runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runGateway(runCtx, boot); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(ctx context.Context, boot *bootstrap) error {
	cfg, log := boot.cfg, boot.log
	workspaceDir := cfg.WorkspaceDir()

	channels, err := buildChannels(cfg, boot.plugins, log)
	if err != nil {
		return err
	}
	if channels.Len() == 0 {
		return errors.New("no channels are enabled")
	}

	mem, err := memory.New(cfg.Memory, workspaceDir, boot.plugins, log)
	if err != nil {
		return fmt.Errorf("initialize memory: %w", err)
	}
	if closer, ok := mem.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	policy := security.FromConfig(cfg.Security, workspaceDir)
	policy = security.ApplyPlugins(ctx, policy, boot.plugins, workspaceDir, log)

	tools, err := buildTools(mem, policy, workspaceDir)
	if err != nil {
		return err
	}

	mb := bus.New(bus.DefaultCapacity)

	opts := gateway.OptionsFromConfig(cfg)
	opts.Channels = channels
	opts.Bus = mb
	opts.Memory = mem
	opts.Tools = tools
	opts.Guard = security.NewGuard(policy)
	opts.Hooks = hooks.FromConfig(cfg.Hooks, log)
	opts.Log = log
	rc := gateway.NewRuntimeContext(opts)

	seedDefaultProvider(rc, cfg.Agents.Defaults.Provider, opts.ProviderFactory, log)

	svc, err := gateway.NewService(cfg, rc, channels, mb, log)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	log.Info("Gateway configured",
		"channels", channels.Len(),
		"plugins", boot.plugins.Total(),
		"memory", mem.Name(),
		"provider", rc.Defaults().Provider,
		"model", rc.Defaults().Model)
	return svc.Run(ctx)
}

// buildTools registers the memory tools and the file tools confined by policy.
func buildTools(mem memory.Memory, policy security.Policy, workspaceDir string) (*agent.Registry, error) {
	guard, err := workspace.NewGuard(workspace.Scope{
		Root:           workspaceDir,
		WorkspaceOnly:  policy.WorkspaceOnly,
		AllowedRoots:   policy.AllowedRoots,
		ForbiddenPaths: policy.ForbiddenPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize workspace guard: %w", err)
	}

	registry := agent.NewRegistry(agent.MemoryTools(mem)...)
	for _, tool := range agent.FileTools(fstools.NewService(guard)) {
		registry.Register(tool)
	}
	return registry, nil
}

// seedDefaultProvider builds the default provider up front so configuration
// errors show at startup. A failure is logged and the first message retries.
func seedDefaultProvider(rc *gateway.RuntimeContext, name string, factory gateway.ProviderFactory, log *slog.Logger) {
	if name == "" {
		name = provider.DefaultName
	}
	p, err := factory(name)
	if err != nil {
		log.Warn("Default provider could not be constructed", "provider", name, "error", err)
		return
	}
	rc.SeedProvider(p)
}
