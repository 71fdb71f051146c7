// chatguard/cmd/chatguardd/main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/antispam"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/runtime"
	"rgehrsitz/chatguard/pkg/scripting"
	"rgehrsitz/chatguard/pkg/store"
	"rgehrsitz/chatguard/pkg/validator"
	"rgehrsitz/chatguard/pkg/warnings"
)

// Config represents the application configuration
type Config struct {
	LogLevel       string
	LogDestination string

	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	EventsChannel    string
	ReloadChannel    string
	DecisionsChannel string
	EffectsChannel   string

	RulesDirectory       string
	StripColors          bool
	StripAccents         bool
	StopOnFirstMatch     []rules.Category
	ResetCooldownsOnLoad bool
	SettingsFile         string
	ScriptTimeout        time.Duration
	DashboardEnabled     bool
	DashboardPort        int
	DashboardInterval    time.Duration
	ExecutorWorkers      int
	WriteDirectory       string
	PruneInterval        time.Duration
}

// Dependencies are the long-lived parts the main loop drives.
type Dependencies struct {
	Store     store.Store
	Engine    *runtime.Engine
	Registry  *runtime.Registry
	Checker   *antispam.Checker
	Ledger    *warnings.Ledger
	Executor  *action.Executor
	Dashboard *runtime.Dashboard
	Roster    *Roster
}

// StoreFactory is an interface for creating a store
type StoreFactory interface {
	NewStore(ctx context.Context, addr, password string, db int) (store.Store, error)
}

// EngineFactory is an interface for creating an engine
type EngineFactory interface {
	NewEngine(config *Config, points runtime.PointGranter, host runtime.Host) (*runtime.Engine, error)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, os.Args, &RealStoreFactory{}, &RealEngineFactory{}); err != nil {
		log.Fatal().Err(err).Msg("Application failed")
	}
}

func run(ctx context.Context, args []string, storeFactory StoreFactory, engineFactory EngineFactory) error {
	config, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := logging.ConfigureLogger(config.LogLevel, config.LogDestination); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	deps, err := setupDependencies(ctx, config, storeFactory, engineFactory)
	if err != nil {
		return fmt.Errorf("failed to setup dependencies: %w", err)
	}
	defer deps.Store.Close()

	return runMainLoop(ctx, deps, config)
}

func parseConfig(args []string) (*Config, error) {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configFile := flags.String("config", "", "Path to configuration file")
	if err := flags.Parse(args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "console")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.channels.events", "chatguard:events")
	v.SetDefault("redis.channels.reload", "chatguard:reload")
	v.SetDefault("redis.channels.decisions", "chatguard:decisions")
	v.SetDefault("redis.channels.effects", "chatguard:effects")
	v.SetDefault("rules.directory", "rules")
	v.SetDefault("rules.strip_colors", true)
	v.SetDefault("rules.strip_accents", false)
	v.SetDefault("rules.stop_on_first_match", []string{string(rules.CategoryJoin), string(rules.CategoryQuit)})
	v.SetDefault("rules.reset_cooldowns_on_reload", false)
	v.SetDefault("settings.file", "")
	v.SetDefault("scripting.timeout_ms", int(scripting.DefaultTimeout/time.Millisecond))
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("dashboard.update_interval", 5)
	v.SetDefault("executor.workers", 8)
	v.SetDefault("executor.write_directory", "logs")
	v.SetDefault("antispam.prune_interval", 60)

	if *configFile == "" {
		v.SetConfigName("chatguard")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.chatguard")
		v.AddConfigPath("/etc/chatguard")
	} else {
		v.SetConfigFile(*configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || *configFile != "" {
			return nil, logging.NewError(logging.ErrorTypeConfig, "error reading config file", err, map[string]interface{}{"file": *configFile})
		}
		log.Info().Msg("No configuration file found, using defaults")
	}

	var stopOnFirst []rules.Category
	for _, name := range v.GetStringSlice("rules.stop_on_first_match") {
		category, err := rules.ParseCategory(name)
		if err != nil {
			return nil, logging.NewError(logging.ErrorTypeConfig, "invalid rules.stop_on_first_match", err, map[string]interface{}{"category": name})
		}
		stopOnFirst = append(stopOnFirst, category)
	}

	return &Config{
		LogLevel:             v.GetString("logging.level"),
		LogDestination:       v.GetString("logging.output"),
		RedisAddress:         v.GetString("redis.address"),
		RedisPassword:        v.GetString("redis.password"),
		RedisDB:              v.GetInt("redis.database"),
		EventsChannel:        v.GetString("redis.channels.events"),
		ReloadChannel:        v.GetString("redis.channels.reload"),
		DecisionsChannel:     v.GetString("redis.channels.decisions"),
		EffectsChannel:       v.GetString("redis.channels.effects"),
		RulesDirectory:       v.GetString("rules.directory"),
		StripColors:          v.GetBool("rules.strip_colors"),
		StripAccents:         v.GetBool("rules.strip_accents"),
		StopOnFirstMatch:     stopOnFirst,
		ResetCooldownsOnLoad: v.GetBool("rules.reset_cooldowns_on_reload"),
		SettingsFile:         v.GetString("settings.file"),
		ScriptTimeout:        time.Duration(v.GetInt("scripting.timeout_ms")) * time.Millisecond,
		DashboardEnabled:     v.GetBool("dashboard.enabled"),
		DashboardPort:        v.GetInt("dashboard.port"),
		DashboardInterval:    time.Duration(v.GetInt("dashboard.update_interval")) * time.Second,
		ExecutorWorkers:      v.GetInt("executor.workers"),
		WriteDirectory:       v.GetString("executor.write_directory"),
		PruneInterval:        time.Duration(v.GetInt("antispam.prune_interval")) * time.Second,
	}, nil
}

func setupDependencies(ctx context.Context, config *Config, storeFactory StoreFactory, engineFactory EngineFactory) (*Dependencies, error) {
	st, err := storeFactory.NewStore(ctx, config.RedisAddress, config.RedisPassword, config.RedisDB)
	if err != nil {
		return nil, err
	}

	settings, points, err := loadSettings(config.SettingsFile)
	if err != nil {
		st.Close()
		return nil, err
	}

	ledger, err := warnings.NewLedger(points, st, scripting.NewSafeVM(config.ScriptTimeout))
	if err != nil {
		st.Close()
		return nil, err
	}

	roster := NewRoster()
	engine, err := engineFactory.NewEngine(config, ledger, roster)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	registry := runtime.NewRegistry(engine, ruleLoader(config.RulesDirectory), config.ResetCooldownsOnLoad)
	if err := registry.Reload(); err != nil {
		st.Close()
		return nil, err
	}

	checker := antispam.NewChecker(antispam.Config{
		Settings: settings,
		Ledger:   ledger,
		Rules:    registry,
		Host:     roster,
	})

	deps := &Dependencies{
		Store:    st,
		Engine:   engine,
		Registry: registry,
		Checker:  checker,
		Ledger:   ledger,
		Roster:   roster,
	}
	deps.Executor = action.NewExecutor(&action.Mux{
		Routes: map[action.Kind]action.Dispatcher{
			action.KindSaveData: action.DispatcherFunc(deps.saveData),
			action.KindWrite:    &action.FileWriter{Dir: config.WriteDirectory},
		},
		Default: action.DispatcherFunc(func(ctx context.Context, effect action.Effect) error {
			return st.Publish(ctx, config.EffectsChannel, effect)
		}),
	}, config.ExecutorWorkers)

	if config.DashboardEnabled {
		deps.Dashboard = runtime.NewDashboard(registry, config.DashboardPort, config.DashboardInterval)
	}
	return deps, nil
}

// ruleLoader parses dir and refuses a set the validator finds errors in.
func ruleLoader(dir string) runtime.Loader {
	return func() (*rules.Set, error) {
		set, err := rules.Load(dir)
		if err != nil {
			return nil, err
		}
		if errors := validator.Log(validator.Validate(set, time.Now())); errors > 0 {
			return nil, logging.NewError(logging.ErrorTypeParse, "rule set failed validation", nil,
				map[string]interface{}{"directory": dir, "errors": errors})
		}
		return set, nil
	}
}

func runMainLoop(ctx context.Context, deps *Dependencies, config *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pubsub, err := deps.Store.Subscribe(ctx, config.EventsChannel, config.ReloadChannel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	g, gctx := errgroup.WithContext(ctx)
	if deps.Dashboard != nil {
		g.Go(func() error { return deps.Dashboard.Start(gctx) })
	}
	g.Go(func() error {
		deps.Ledger.RunDecay(gctx, deps.Ledger.DecayPeriod(), deps.Roster.Online)
		return nil
	})
	g.Go(func() error {
		deps.Checker.RunPrune(gctx, config.PruneInterval)
		return nil
	})

	log.Info().Str("events", config.EventsChannel).Msg("chatguard daemon started")

	messages := pubsub.Channel()
loop:
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				break loop
			}
			if err := processMessage(gctx, deps, config, msg); err != nil {
				logging.LogError(logging.Logger, err)
			}
		case <-sigChan:
			log.Info().Msg("Shutting down chatguard daemon")
			break loop
		case <-gctx.Done():
			break loop
		}
	}

	cancel()
	err = g.Wait()
	deps.Executor.Wait()
	return err
}

func processMessage(ctx context.Context, deps *Dependencies, config *Config, msg *redis.Message) error {
	logging.Logger.Debug().Str("channel", msg.Channel).Str("payload", msg.Payload).Msg("Received message")

	if msg.Channel == config.ReloadChannel {
		return deps.reload(config)
	}

	ev, err := decodeEvent([]byte(msg.Payload))
	if err != nil {
		return err
	}
	d, effects, err := deps.handle(ctx, ev)
	if err != nil {
		return err
	}
	if d != nil {
		if err := deps.Store.Publish(ctx, config.DecisionsChannel, d); err != nil {
			return err
		}
	}
	return deps.Executor.Submit(ctx, effects...)
}

// reload swaps in fresh rules and settings. A failure keeps what is loaded.
func (d *Dependencies) reload(config *Config) error {
	settings, points, err := loadSettings(config.SettingsFile)
	if err != nil {
		return err
	}
	if err := d.Ledger.Reload(points); err != nil {
		return err
	}
	d.Checker.Reload(settings)
	return d.Registry.Reload()
}

func (d *Dependencies) saveData(ctx context.Context, effect action.Effect) error {
	if err := d.Store.SetData(ctx, effect.Sender, effect.Target, effect.Value); err != nil {
		return err
	}
	d.Roster.SetData(effect.Sender, effect.Target, effect.Value)
	return nil
}

// RealStoreFactory implements StoreFactory
type RealStoreFactory struct{}

func (f *RealStoreFactory) NewStore(ctx context.Context, addr, password string, db int) (store.Store, error) {
	return store.NewRedisStore(ctx, addr, password, db)
}

// RealEngineFactory implements EngineFactory
type RealEngineFactory struct{}

func (f *RealEngineFactory) NewEngine(config *Config, points runtime.PointGranter, host runtime.Host) (*runtime.Engine, error) {
	return runtime.NewEngine(scripting.NewSafeVM(config.ScriptTimeout), points, host, nil, runtime.Options{
		StripColors:      config.StripColors,
		StripAccents:     config.StripAccents,
		StopOnFirstMatch: config.StopOnFirstMatch,
	}), nil
}
