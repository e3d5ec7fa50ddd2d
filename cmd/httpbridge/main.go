// HTTP Sensors and Switches bridge.
//
// This is the entry point for the bridge. It loads the accessory list,
// starts one controller per device (HTTP polling, MQTT session, command
// dispatch) and exposes every accessory through the host API.
//
// Usage:
//
//	httpbridge                  run the bridge
//	httpbridge token [flags]    print a bearer token for the host API
//	httpbridge migrate [up|down|status]
//	                            manage the state database schema
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kreso975/homebridge-http-sensors-switches/internal/accessory"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/api"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/config"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/database"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/logging"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/infrastructure/mqtt"
	"github.com/kreso975/homebridge-http-sensors-switches/internal/notify"
	"github.com/kreso975/homebridge-http-sensors-switches/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the startup dependency check.
const healthCheckTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "token":
		err = runToken(os.Args[2:], os.Stdout)
	case len(os.Args) > 1 && os.Args[1] == "migrate":
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting httpbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "accessories", len(cfg.Accessories))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	if err := healthCheck(ctx, db); err != nil {
		return err
	}

	host := api.NewHost(log.With("component", "host"))
	registry := accessory.NewRegistry()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.With("component", "api"),
		Host:     host,
		Registry: registry,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	b := &bridge{
		cfg:      cfg,
		log:      log,
		host:     host,
		repo:     accessory.NewSQLiteStateRepository(db.DB),
		registry: registry,
		client:   &http.Client{},
	}
	defer b.close()

	for i := range cfg.Accessories {
		if err := b.addAccessory(cfg.Accessories[i]); err != nil {
			log.Error("accessory skipped", "index", i, "device_name", cfg.Accessories[i].ResolvedName(), "error", err)
		}
	}

	started := registry.StartAll(ctx, func(id accessory.Identity, err error) {
		log.Error("accessory failed to start", "accessory", id.Name, "accessory_id", id.ID, "error", err)
	})
	log.Info("accessories started", "active", started, "configured", registry.Len())

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	log.Info("httpbridge ready", "api", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	registry.WaitAll()
	log.Info("accessories stopped")

	return nil
}

// bridge owns the per-accessory resources created at startup.
type bridge struct {
	cfg      *config.Config
	log      *logging.Logger
	host     *api.Host
	repo     accessory.StateRepository
	registry *accessory.Registry
	client   *http.Client

	sessions  []*mqtt.Client
	notifiers []*notify.Webhook
}

// addAccessory builds a controller for one configured device and registers it.
// Sessions and notifiers it opens are released by close.
func (b *bridge) addAccessory(a config.AccessoryConfig) error {
	settings := accessory.SettingsFromConfig(a, version)
	alog := b.log.Accessory(settings.Identity.Name, settings.Identity.ID)

	cc := accessory.ControllerConfig{
		Settings:   settings,
		Host:       b.host,
		HTTPClient: b.client,
		QoS:        byte(b.cfg.MQTT.QoS),
		Repository: b.repo,
		Logger:     alog,
	}

	if settings.TypeKnown && settings.NeedsBus() {
		session, err := mqtt.New(a.MQTTSession(b.cfg.MQTT))
		if err != nil {
			return fmt.Errorf("creating mqtt session: %w", err)
		}
		session.SetLogger(alog.With("component", "mqtt"))
		b.sessions = append(b.sessions, session)
		cc.MQTT = &mqttAdapter{Client: session}
	}

	if a.HasNotify() {
		webhook, err := notify.New(notify.Config{
			URL:       a.Notify.WebhookURL,
			Username:  a.Notify.Username,
			AvatarURL: a.Notify.AvatarURL,
			Logger:    alog.With("component", "notify"),
		})
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
		b.notifiers = append(b.notifiers, webhook)
		cc.Notifier = webhook
	}

	c, err := accessory.NewController(cc)
	if err != nil {
		return err
	}
	return b.registry.Add(c)
}

// close releases MQTT sessions and waits for pending notifications.
func (b *bridge) close() {
	for _, s := range b.sessions {
		if err := s.Close(); err != nil {
			b.log.Error("error closing mqtt session", "client_id", s.ClientID(), "error", err)
		}
	}
	for _, n := range b.notifiers {
		n.Close()
	}
}

// mqttAdapter adapts the infrastructure MQTT client to accessory.MQTTClient.
// The only difference is the Subscribe handler signature:
//   - infrastructure mqtt: func(topic string, payload []byte) error
//   - accessory expects:   func(topic string, payload []byte)
type mqttAdapter struct {
	*mqtt.Client
}

// Subscribe implements accessory.MQTTClient.
func (a *mqttAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.Client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// getConfigPath returns the configuration file path.
// It checks HTTPBRIDGE_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("HTTPBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the database answers before accessories start.
func healthCheck(ctx context.Context, db *database.DB) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// runToken prints a signed bearer token for the host API.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "host", "token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default api.auth.token_ttl minutes)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is not set, authentication is disabled")
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.API.Auth.TokenTTL) * time.Minute
	}

	token, err := api.IssueToken(cfg.API.Auth.JWTSecret, *subject, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// runMigrate applies, rolls back or lists state database migrations.
// "down" reverts only the most recent migration.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or status)", action)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
