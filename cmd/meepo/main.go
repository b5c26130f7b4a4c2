// Command meepo runs the personal AI agent daemon: the watcher scheduler,
// the autonomous loop, the multi-provider inference loop, the channel
// adapters (Telegram/Discord), the gateway WebSocket server, and the A2A
// peer server, all backed by one SQLite knowledge store.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kavyleancoder/meepo/internal/a2a"
	"github.com/kavyleancoder/meepo/internal/agent"
	"github.com/kavyleancoder/meepo/internal/audit"
	"github.com/kavyleancoder/meepo/internal/autonomy"
	"github.com/kavyleancoder/meepo/internal/channels"
	"github.com/kavyleancoder/meepo/internal/config"
	"github.com/kavyleancoder/meepo/internal/gateway"
	"github.com/kavyleancoder/meepo/internal/inference"
	"github.com/kavyleancoder/meepo/internal/knowledge"
	"github.com/kavyleancoder/meepo/internal/policy"
	"github.com/kavyleancoder/meepo/internal/providers"
	"github.com/kavyleancoder/meepo/internal/router"
	"github.com/kavyleancoder/meepo/internal/sandbox/wasm"
	"github.com/kavyleancoder/meepo/internal/scheduler"
	"github.com/kavyleancoder/meepo/internal/telemetry"
	"github.com/kavyleancoder/meepo/internal/tools"
)

// Version is set via -ldflags at build time.
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `meepo %s - personal AI agent daemon

USAGE:
  meepo [run]          Start the daemon (default if no subcommand given)
  meepo version         Print the version and exit
  meepo help            Show this message

FLAGS:
  -config <path>        Path to config.toml (default ~/.meepo/config.toml)
  -quiet                Suppress stdout logging, file log only

ENVIRONMENT VARIABLES:
  MEEPO_HOME             Override ~/.meepo as the home directory
  MEEPO_AUTH_TOKEN       Shared token required on gateway WebSocket upgrades
  GOOGLE_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY
                         LLM provider credentials
  TELEGRAM_TOKEN         Telegram bot token (overrides config.toml)
`, Version)
}

func main() {
	loadDotEnv(".env")

	var quiet bool
	fs := flag.NewFlagSet("meepo", flag.ExitOnError)
	fs.BoolVar(&quiet, "quiet", false, "suppress stdout logging")
	fs.String("config", "", "path to config.toml (unused override hook)")

	args := os.Args[1:]
	sub := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub = args[0]
		args = args[1:]
	}
	fs.Parse(args)

	switch sub {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Println(Version)
		return
	case "run":
		// falls through
	default:
		fmt.Fprintf(os.Stderr, "meepo: unknown subcommand %q\n\n", sub)
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run(ctx, quiet)
}

func run(ctx context.Context, quiet bool) {
	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer audit.Close()

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	otelProvider, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_TELEMETRY_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	store, err := knowledge.Open(knowledge.DefaultDBPath())
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())

	policyPath := filepath.Join(cfg.HomeDir, "policy.yaml")
	polData, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	livePolicy := policy.NewLivePolicy(polData, policyPath)
	logger.Info("policy loaded", "version", livePolicy.PolicyVersion())

	registry, watcherCmds, taskCmds := buildToolRegistry(cfg, store, livePolicy, logger)
	executor := tools.NewExecutor(registry, livePolicy, store, logger).WithTelemetry(otelProvider.Tracer, metrics)

	skillHost, skillWatcher := buildSkillHost(ctx, cfg, store, livePolicy, registry, logger)
	if skillHost != nil {
		defer skillHost.Close(context.Background())
	}

	provs, err := buildProviders(cfg)
	if err != nil {
		fatalStartup(logger, "E_PROVIDERS", err)
	}
	modelRouter, err := router.New(provs)
	if err != nil {
		fatalStartup(logger, "E_ROUTER_INIT", err)
	}
	logger.Info("router ready", "active_provider", modelRouter.ProviderName(), "provider_count", modelRouter.ProviderCount())

	infLoop := inference.New(modelRouter, registry, executor).WithLogger(logger).WithMaxIterations(12).WithTelemetry(otelProvider.Tracer, metrics)

	watcherEvents := make(chan scheduler.WatcherEvent, 128)
	sched := scheduler.New(scheduler.Config{
		Store:                       knowledge.NewSchedulerStore(store),
		Events:                      watcherEvents,
		Logger:                      logger,
		Metrics:                     metrics,
		MaxConcurrent:               8,
		MinPollIntervalSecs:         30,
		ActiveHoursStart:            "",
		ActiveHoursEnd:              "",
		ConsecutiveFailureThreshold: 5,
		GitHub:                      &scheduler.GitHubPoller{Client: http.DefaultClient},
	})

	incoming := make(chan autonomy.IncomingMessage, 64)
	outgoing := make(chan autonomy.OutgoingMessage, 64)
	prompts := autonomy.NewStaticPrompts(cfg.SOUL, cfg.AGENTS)
	profiles := buildProfileRegistry(logger)

	autoLoop := autonomy.New(autonomy.LoopConfig{
		Store:         store,
		Runner:        infLoop,
		Prompts:       prompts,
		Profiles:      profiles,
		UserMessages:  incoming,
		WatcherEvents: watcherEvents,
		Outgoing:      outgoing,
		Autonomy: autonomy.Config{
			Enabled:             true,
			TickInterval:        30 * time.Second,
			MaxGoals:            10,
			SendAcknowledgments: true,
		},
		Logger: logger,
	})

	hub, hubAdapters := buildChannelHub(cfg, incoming, logger)

	gatewayOutgoing := make(chan autonomy.OutgoingMessage, 64)
	go fanOutOutgoing(ctx, outgoing, hub, gatewayOutgoing, logger)

	gw := gateway.New(gateway.Config{
		Store:     store,
		Incoming:  incoming,
		Outgoing:  gatewayOutgoing,
		AuthToken: cfg.Gateway.AuthToken,
		APIKeys:   cfg.Gateway.APIKeys,
		CORS:      cfg.Gateway.CORS,
		RateLimit: cfg.Gateway.RateLimit,
		Metrics:   metrics,
		Catalog: func() []tools.SkillStatus {
			return tools.ResolveStatus(tools.FullCatalog(buildSearchProviders(cfg)), cfg.APIKeys, livePolicy, nil)
		},
		Logger: logger,
	})

	var a2aServer *a2a.Server
	if cfg.A2A.Enabled == nil || *cfg.A2A.Enabled {
		card := a2a.AgentCard{
			Name:         "meepo",
			Description:  "Personal AI agent: watchers, autonomous goals, tool-calling inference.",
			URL:          "http://" + cfg.A2A.BindAddr,
			Capabilities: []string{"chat", "tools", "autonomy"},
			Authentication: a2a.AuthScheme{
				Schemes: []string{"bearer"},
			},
		}
		a2aServer = a2a.NewServer(infLoop, card, prompts.Soul(), cfg.A2A.AuthToken, logger)
	}

	var wg sync.WaitGroup

	if skillWatcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwardSkillNotices(ctx, skillWatcher, gw)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		autoLoop.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runWatcherCommands(ctx, watcherCmds, sched)
	}()

	taskRunner := newBackgroundTaskRunner(infLoop, store, prompts, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		taskRunner.Run(ctx, taskCmds)
	}()

	if len(hubAdapters) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Start(ctx); err != nil {
				logger.Error("channel hub stopped", "error", err)
			}
		}()
	}

	gwSrv := &http.Server{Addr: cfg.Gateway.BindAddr, Handler: gw.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("gateway listening", "addr", cfg.Gateway.BindAddr)
		if err := gwSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server error", "error", err)
		}
	}()

	var a2aSrv *http.Server
	if a2aServer != nil {
		a2aSrv = &http.Server{Addr: cfg.A2A.BindAddr, Handler: a2aServer.Handler()}
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("a2a server listening", "addr", cfg.A2A.BindAddr)
			if err := a2aSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("a2a server error", "error", err)
			}
		}()
	}

	metrics.ActiveLoops.Add(ctx, 1)
	logger.Info("meepo started", "version", Version, "home", cfg.HomeDir)

	<-ctx.Done()
	logger.Info("shutting down")
	metrics.ActiveLoops.Add(ctx, -1)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gwSrv.Shutdown(shutdownCtx)
	if a2aSrv != nil {
		a2aSrv.Shutdown(shutdownCtx)
	}
	sched.Stop()

	wg.Wait()
}

// runWatcherCommands forwards stop_task's watcher-cancel requests onto the
// scheduler's own command channel, until ctx is canceled.
func runWatcherCommands(ctx context.Context, cmds <-chan tools.WatcherCommand, sched *scheduler.Scheduler) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			if cmd.Kind != "cancel" {
				continue
			}
			select {
			case sched.Commands() <- scheduler.Command{Kind: scheduler.CmdCancel, ID: cmd.ID}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// backgroundTaskRunner executes spawn_background_task requests as independent
// inference-loop turns, reporting completion back through the knowledge store
// so agent_status and stop_task can see and cancel them.
type backgroundTaskRunner struct {
	loop   *inference.Loop
	store  *knowledge.Store
	prompt *autonomy.StaticPrompts
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newBackgroundTaskRunner(loop *inference.Loop, store *knowledge.Store, prompt *autonomy.StaticPrompts, logger *slog.Logger) *backgroundTaskRunner {
	return &backgroundTaskRunner{loop: loop, store: store, prompt: prompt, logger: logger, cancels: make(map[string]context.CancelFunc)}
}

// Run consumes spawn/cancel commands until ctx is canceled.
func (r *backgroundTaskRunner) Run(ctx context.Context, cmds <-chan tools.BackgroundTaskCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			switch cmd.Kind {
			case "spawn":
				r.spawn(ctx, cmd)
			case "cancel":
				r.cancel(cmd.ID)
			}
		}
	}
}

func (r *backgroundTaskRunner) spawn(parent context.Context, cmd tools.BackgroundTaskCommand) {
	taskCtx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancels[cmd.ID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.cancels, cmd.ID)
			r.mu.Unlock()
			cancel()
		}()

		result, err := r.loop.Run(taskCtx, cmd.Description, r.prompt.Soul(), inference.Options{GoalID: cmd.ID, Autonomous: true})
		if err != nil {
			if taskCtx.Err() != nil {
				r.updateStatus(cmd.ID, "cancelled", "")
				return
			}
			r.logger.Error("background task failed", "task_id", cmd.ID, "error", err)
			r.updateStatus(cmd.ID, "failed", err.Error())
			return
		}
		r.updateStatus(cmd.ID, "done", result)
	}()
}

func (r *backgroundTaskRunner) cancel(id string) {
	r.mu.Lock()
	cancel, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func (r *backgroundTaskRunner) updateStatus(id, status, result string) {
	if err := r.store.UpdateBackgroundTask(context.Background(), id, status, result); err != nil {
		r.logger.Error("update background task failed", "task_id", id, "error", err)
	}
}

// buildToolRegistry wires every built-in tool against the knowledge store,
// live policy, and configured executor/search backends.
func buildToolRegistry(cfg config.Config, store *knowledge.Store, pol policy.Checker, logger *slog.Logger) (*tools.Registry, chan tools.WatcherCommand, chan tools.BackgroundTaskCommand) {
	registry := tools.NewRegistry()

	watcherCmds := make(chan tools.WatcherCommand, 16)
	taskCmds := make(chan tools.BackgroundTaskCommand, 16)

	var shellExec tools.ShellExecutor = &tools.HostExecutor{}
	if cfg.Tools.Shell.Sandbox {
		image := cfg.Tools.Shell.SandboxImage
		mem := cfg.Tools.Shell.SandboxMemory
		network := cfg.Tools.Shell.SandboxNetwork
		sandbox, err := tools.NewDockerSandbox(image, mem, network)
		if err != nil {
			logger.Warn("docker sandbox unavailable, falling back to host executor", "error", err)
		} else {
			shellExec = sandbox
		}
	}

	registry.Register(tools.RunCommandTool{Executor: shellExec})
	registry.Register(tools.ReadFileTool{Policy: pol})
	registry.Register(tools.WriteFileTool{Policy: pol})
	registry.Register(tools.ListDirectoryTool{Policy: pol})
	registry.Register(tools.ReadURLTool{Policy: pol})
	registry.Register(tools.WebSearchTool{Policy: pol, Providers: buildSearchProviders(cfg)})

	registry.Register(tools.RememberTool{Store: store})
	registry.Register(tools.RecallTool{Store: store})
	registry.Register(tools.LinkEntitiesTool{Store: store})
	registry.Register(tools.SearchKnowledgeTool{Store: store})

	registry.Register(tools.SpawnBackgroundTaskTool{Store: store, Commands: taskCmds})
	registry.Register(tools.AgentStatusTool{Store: store})
	registry.Register(tools.StopTaskTool{Store: store, WatcherCommands: watcherCmds, TaskCommands: taskCmds})

	return registry, watcherCmds, taskCmds
}

// buildSkillHost loads any .wasm skill modules from cfg.Skills.ProjectDir
// into a sandboxed wazero runtime and registers the invoke_skill tool. It
// also returns the hot-reload watcher (nil alongside a nil host) so the
// caller can forward its Notifications() once the gateway server exists.
// Returns a nil host if the directory has no skill modules to load; the
// agent works fine without any.
func buildSkillHost(ctx context.Context, cfg config.Config, store *knowledge.Store, pol policy.Checker, registry *tools.Registry, logger *slog.Logger) (*wasm.Host, *wasm.Watcher) {
	dir := cfg.Skills.ProjectDir
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var modules []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".wasm") {
			modules = append(modules, filepath.Join(dir, e.Name()))
		}
	}
	if len(modules) == 0 {
		return nil, nil
	}

	host, err := wasm.NewHost(ctx, wasm.Config{Store: store, Policy: pol, Logger: logger})
	if err != nil {
		logger.Error("skill host init failed", "error", err)
		return nil, nil
	}

	for _, path := range modules {
		if err := host.LoadModuleFromFile(ctx, path); err != nil {
			logger.Warn("skill module load failed", "path", path, "error", err)
		}
	}

	registry.Register(tools.InvokeSkillTool{Host: host})

	watcher := wasm.NewWatcher(dir, host, logger)
	watcher.OnToolLoaded(func(name string) {
		logger.Info("skill hot-reloaded", "skill", name)
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("skill hot-reload watcher unavailable", "error", err)
	}

	logger.Info("skill host ready", "dir", dir, "modules", len(modules))
	return host, watcher
}

// forwardSkillNotices relays hot-reload compile/load/quarantine status to
// every connected gateway client, until ctx is canceled.
func forwardSkillNotices(ctx context.Context, watcher *wasm.Watcher, gw *gateway.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-watcher.Notifications():
			if !ok {
				return
			}
			gw.PushSkillNotice(n.Level, n.Message)
		}
	}
}

func buildSearchProviders(cfg config.Config) []tools.SearchProvider {
	var provs []tools.SearchProvider
	if key := cfg.APIKey("brave_search"); key != "" {
		provs = append(provs, tools.NewBraveProvider(key))
	}
	if key := cfg.APIKey("perplexity_search"); key != "" {
		provs = append(provs, tools.NewPerplexityProvider(key))
	}
	provs = append(provs, tools.NewDDGProvider())
	return provs
}

// buildProviders constructs the ordered provider list router.New expects:
// the primary provider first, then each configured fallback.
func buildProviders(cfg config.Config) ([]providers.Provider, error) {
	primary, model, apiKey := cfg.ResolveLLMConfig()
	names := append([]string{primary}, cfg.LLM.FallbackProviders...)

	seen := make(map[string]bool, len(names))
	var out []providers.Provider
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		key := apiKey
		if name != primary {
			key = cfg.LLMProviderAPIKey(name)
		}
		if key == "" {
			continue
		}

		p, err := newProvider(name, model, key, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set GOOGLE_API_KEY, ANTHROPIC_API_KEY, or OPENAI_API_KEY")
	}
	return out, nil
}

func newProvider(name, model, apiKey string, cfg config.Config) (providers.Provider, error) {
	baseURL := ""
	if pc, ok := cfg.Providers[name]; ok {
		baseURL = pc.BaseURL
	}
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(apiKey, baseURL), nil
	case "google":
		return providers.NewGoogleProvider(apiKey, baseURL), nil
	case "openai", "openai_compatible", "openrouter":
		return providers.NewOpenAICompatProvider(name, apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

func buildChannelHub(cfg config.Config, incoming chan<- autonomy.IncomingMessage, logger *slog.Logger) (*channels.Hub, []channels.Channel) {
	var adapters []channels.Channel

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		adapters = append(adapters, channels.NewTelegramChannel(
			cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowedIDs, incoming, logger))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := channels.NewDiscordChannel(cfg.Channels.Discord.Token, cfg.Channels.Discord.AllowedIDs, incoming, logger)
		if err != nil {
			logger.Error("discord channel init failed", "error", err)
		} else {
			adapters = append(adapters, dc)
		}
	}

	return channels.NewHub(logger, adapters...), adapters
}

// buildProfileRegistry sets up the agent profile that scopes which tools a
// turn may call based on which channel it arrived on. Chat channels
// (Discord, Telegram) route to a profile with shell execution denied, since
// those senders are untrusted third parties by default; the registry's
// default profile (gateway, watchers, standing goals) keeps full access.
func buildProfileRegistry(logger *slog.Logger) *agent.Registry {
	defaultProfile := agent.NewProfile("default", "meepo")
	registry := agent.NewRegistry(defaultProfile, logger)

	chatProfile := agent.NewProfile("chat", "meepo-chat")
	chatProfile.DeniedTools = []string{"run_command"}
	chatProfile.Channels = []agent.ChannelRoute{
		{ChannelType: "discord"},
		{ChannelType: "telegram"},
	}
	registry.AddProfile(chatProfile)

	return registry
}

// fanOutOutgoing drains the autonomy loop's single outgoing stream into
// both the external channel hub (Telegram/Discord replies) and the
// gateway's live activity feed (every message, for the user's own
// connected clients), until ctx is canceled.
func fanOutOutgoing(ctx context.Context, outgoing <-chan autonomy.OutgoingMessage, hub *channels.Hub, gatewayOutgoing chan<- autonomy.OutgoingMessage, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outgoing:
			if !ok {
				return
			}
			if strings.Contains(msg.Channel, ":") {
				if err := hub.Send(ctx, msg.Channel, msg.Content); err != nil {
					logger.Warn("channel delivery failed", "channel", msg.Channel, "error", err)
				}
			}
			select {
			case gatewayOutgoing <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "meepo: startup failure [%s]: %s\n", reasonCode, message)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
