// deviceguard keeps a whitelist of trusted USB devices and flags, or asks an
// external enforcer to block, anything that is not on it.
//
// Secure registrations record a structural fingerprint of the device's
// descriptors, so a BadUSB device that clones a trusted stick's VID, PID and
// serial number still fails verification.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/deviceguard/migrations"

	"github.com/nerrad567/deviceguard/internal/api"
	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/auth"
	"github.com/nerrad567/deviceguard/internal/enumerate"
	"github.com/nerrad567/deviceguard/internal/guard"
	"github.com/nerrad567/deviceguard/internal/infrastructure/config"
	"github.com/nerrad567/deviceguard/internal/infrastructure/database"
	"github.com/nerrad567/deviceguard/internal/infrastructure/influxdb"
	"github.com/nerrad567/deviceguard/internal/infrastructure/logging"
	"github.com/nerrad567/deviceguard/internal/infrastructure/mqtt"
	"github.com/nerrad567/deviceguard/internal/lockfile"
	"github.com/nerrad567/deviceguard/internal/registry"
	"github.com/nerrad567/deviceguard/internal/settings"
	"github.com/nerrad567/deviceguard/internal/whitelist"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hashPassword reads one line from in and writes its argon2id PHC hash to
// out, ready for security.admin_password_hash.
func hashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting deviceguard",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	defaults, err := defaultSettings(cfg.Guard)
	if err != nil {
		return err
	}

	auditLog, err := audit.NewLog(audit.NewSQLiteRepository(db.DB), defaults.MaxLogSize)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	auditLog.SetLogger(log.Component("audit"))

	authn, err := auth.NewPasswordAuthenticator(cfg.Security.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("loading admin password: %w", err)
	}
	gate := auth.NewGate(authn, auditLog)

	// Optional InfluxDB metrics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	source := enumerate.NewSysfsSource(cfg.Guard.SysfsRoot,
		enumerate.WithPartitionTable(cfg.Guard.ReadPartitionSignature),
		enumerate.WithLogger(log.Component("sysfs")),
	)
	enumerator := enumerate.NewEnumerator(source, cfg.GetEnumerationTimeout())
	enumerator.SetLogger(log.Component("enumerate"))

	deps := registry.Deps{
		Store:      whitelist.NewStore(whitelist.NewSQLiteRepository(db.DB)),
		Audit:      auditLog,
		Gate:       gate,
		Enumerator: enumerator,
		Settings:   settings.NewRepository(db.DB),
		Defaults:   defaults,
		Logger:     log.Component("registry"),
	}
	if influxClient != nil {
		enumerator.SetObserver(influxClient)
		deps.Metrics = influxClient
	}

	if cfg.Security.Lockfile.Enabled {
		key, keyErr := lockfile.LoadOrCreateKey(cfg.Security.Lockfile.HostKeyPath)
		if keyErr != nil {
			return fmt.Errorf("loading lockfile host key: %w", keyErr)
		}
		deps.Lockfiles = lockfile.NewSigner(key, cfg.Security.Lockfile.DirName)
		log.Info("lockfiles enabled", "dir", cfg.Security.Lockfile.DirName)
	}

	svc, err := registry.New(ctx, deps)
	if err != nil {
		return fmt.Errorf("starting device registry: %w", err)
	}

	monitor := guard.NewMonitor(svc, auditLog, guard.Config{PollInterval: cfg.GetPollInterval()})
	monitor.SetLogger(log.Component("guard"))
	if influxClient != nil {
		monitor.SetBlockRecorder(influxClient)
	}

	g, gctx := errgroup.WithContext(ctx)

	health := map[string]api.HealthChecker{"database": db}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	// Optional MQTT event bus and enforcement
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		forwarder := guard.NewEventForwarder(mqttClient, guard.DefaultForwardQueue)
		forwarder.SetLogger(log.Component("forwarder"))
		auditLog.Subscribe(forwarder.AuditListener())
		monitor.Subscribe(forwarder.PresenceListener())
		monitor.SetEnforcer(guard.NewMQTTEnforcer(mqttClient))
		g.Go(func() error { return forwarder.Run(gctx) })

		health["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled, unregistered devices will be reported but not blocked")
	}

	if cfg.API.Enabled {
		hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
		auditLog.Subscribe(hub.AuditListener())
		monitor.Subscribe(hub.PresenceListener())

		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Registry: svc,
			Gate:     gate,
			Health:   health,
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	g.Go(func() error { return monitor.Run(gctx) })

	log.Info("initialisation complete, watching USB devices",
		"poll_interval", cfg.GetPollInterval(),
		"auto_block", svc.Settings().AutoBlockUnregistered,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("deviceguard stopped")
	return nil
}

// defaultSettings builds the first-run settings from the guard section.
// Persisted settings take precedence once they exist.
func defaultSettings(cfg config.GuardConfig) (settings.Settings, error) {
	level, err := audit.ParseLevel(cfg.LogLevel)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("guard.log_level: %w", err)
	}
	s := settings.Settings{
		AutoBlockUnregistered: cfg.AutoBlockUnregistered,
		LogLevel:              level,
		MaxLogSize:            cfg.MaxLogSize,
	}
	if err := s.Validate(); err != nil {
		return settings.Settings{}, fmt.Errorf("guard settings: %w", err)
	}
	return s, nil
}

// getConfigPath returns the configuration file path.
// Uses DEVICEGUARD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVICEGUARD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
