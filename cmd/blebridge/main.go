// Gray Logic BLE - Govee light bridge
//
// This is the main entry point for the BLE light bridge. It connects Govee
// BLE lights to the MQTT bus:
//   - command messages on <prefix>/zone<Z>/light/<id>/command drive the lights
//   - confirmed state is published retained on .../state
//   - bridge health is published retained on <prefix>/zone<Z>/bridge/health
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-ble/migrations"

	"github.com/nerrad567/gray-logic-ble/internal/api"
	"github.com/nerrad567/gray-logic-ble/internal/bluetooth"
	"github.com/nerrad567/gray-logic-ble/internal/bridges/govee"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/broker"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-ble/internal/lightstate"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds closing every light session.
	shutdownTimeout = 10 * time.Second

	historyRetention     = 30 * 24 * time.Hour
	historyPruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic BLE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (optional)
	var (
		db        *database.DB
		stateRepo *lightstate.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
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

		if migrateErr := db.Migrate(ctx, migrations.Source()); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		stateRepo = lightstate.NewSQLiteRepository(db.DB)
	} else {
		log.Info("database disabled, light state will not survive restarts")
	}

	// Start embedded broker (optional)
	if cfg.MQTT.Embedded.Enabled {
		embedded, startErr := startBroker(cfg, log)
		if startErr != nil {
			return fmt.Errorf("starting embedded broker: %w", startErr)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := embedded.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

	// Connect to MQTT broker with the offline health document as will
	topics := govee.NewTopics(cfg.Bridge.TopicPrefix, cfg.Bridge.Zone)
	willPayload, err := json.Marshal(govee.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding will message: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:    topics.Health(),
		Payload:  willPayload,
		QoS:      1,
		Retained: true,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	transport, err := newTransport(cfg.BLE, log)
	if err != nil {
		return fmt.Errorf("creating BLE transport: %w", err)
	}

	bridge, err := startBridge(ctx, cfg, mqttClient, transport, stateRepo, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting light bridge: %w", err)
	}
	defer func() {
		log.Info("stopping light bridge")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := bridge.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping light bridge", "error", stopErr)
		}
	}()

	// Start API server (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Lights:  bridge,
			Version: version,
		}
		if stateRepo != nil {
			deps.History = stateRepo
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		bridge.AddStatusSink(srv.Hub())
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	if stateRepo != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneHistoryLoop(pruneCtx, stateRepo, historyPruneInterval, log)
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server, 2. light bridge, 3. InfluxDB, 4. MQTT,
	// 5. embedded broker, 6. database

	log.Info("Gray Logic BLE bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_BLE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_BLE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBroker runs the embedded broker and points the client configuration at it.
func startBroker(cfg *config.Config, log *logging.Logger) (*broker.Broker, error) {
	b, err := broker.New(cfg.MQTT, log.Component("broker").Logger)
	if err != nil {
		return nil, err
	}
	if err := b.Start(); err != nil {
		return nil, err
	}

	host, port, err := dialTarget(b.Address())
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	cfg.MQTT.Broker.Host = host
	cfg.MQTT.Broker.Port = port

	log.Info("embedded broker started", "address", b.Address())
	return b, nil
}

// dialTarget turns a listen address into a host and port a local client can
// dial. Wildcard hosts become the loopback address.
func dialTarget(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("parsing broker address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid broker port in %q", address)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return host, port, nil
}

// newTransport selects the radio: the in-memory simulator or BlueZ.
func newTransport(cfg config.BLEConfig, log *logging.Logger) (govee.Transport, error) {
	if cfg.Simulate {
		log.Warn("BLE simulation enabled, no radio will be used")
		return govee.NewSimTransport(), nil
	}
	t, err := bluetooth.NewTransport(bluetooth.Options{Logger: log.Component("bluetooth")})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// bridgeOptions maps the configuration onto the bridge options.
func bridgeOptions(cfg *config.Config) govee.BridgeOptions {
	connectBackoff, writeBackoff, keepAlive := cfg.BLE.Durations()

	devices := make([]govee.DeviceSpec, 0, len(cfg.BLE.Devices))
	for _, d := range cfg.BLE.Devices {
		devices = append(devices, govee.DeviceSpec{
			ID:        d.ID,
			Name:      d.Name,
			Model:     d.Model,
			Autostart: d.Autostart,
		})
	}

	return govee.BridgeOptions{
		BridgeID:        cfg.Bridge.ID,
		Version:         version,
		Topics:          govee.NewTopics(cfg.Bridge.TopicPrefix, cfg.Bridge.Zone),
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		HealthInterval:  time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		StatusQueueSize: cfg.Bridge.StatusQueueSize,
		Adapter:         cfg.BLE.Adapter,
		Timings: govee.Timings{
			ConnectTimeout:    time.Duration(cfg.BLE.ConnectTimeout) * time.Second,
			ConnectBackoff:    connectBackoff,
			WriteBackoff:      writeBackoff,
			KeepAliveInterval: keepAlive,
		},
		Devices: devices,
	}
}

// startBridge creates the light bridge, wires persistence and telemetry into
// it and starts it.
//
// Parameters:
//   - ctx: Context bounding the bridge workers
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - transport: BLE radio or simulator
//   - stateRepo: Light state store (nil when the database is disabled)
//   - influxClient: Telemetry client (nil when InfluxDB is disabled)
//   - log: Logger instance
//
// Returns:
//   - *govee.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	transport govee.Transport,
	stateRepo *lightstate.SQLiteRepository,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*govee.Bridge, error) {
	opts := bridgeOptions(cfg)
	opts.MQTTClient = &mqttBridgeAdapter{client: mqttClient}
	opts.Transport = transport
	opts.Logger = log.Component("govee")

	var telemetry *influxdb.Telemetry
	if influxClient != nil {
		telemetry = influxdb.NewTelemetry(influxClient, cfg.Bridge.ID)
		opts.Observer = telemetry
	}
	if stateRepo != nil {
		opts.Store = stateRepo
	}

	bridge, err := govee.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if stateRepo != nil {
		bridge.AddStatusSink(stateRepo)
	}
	if telemetry != nil {
		bridge.AddStatusSink(telemetry)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("light bridge started",
		"bridge_id", cfg.Bridge.ID,
		"zone", cfg.Bridge.Zone,
		"devices", len(cfg.BLE.Devices),
		"simulate", cfg.BLE.Simulate,
	)

	return bridge, nil
}

// pruneHistoryLoop drops state history older than the retention period
// until ctx ends.
func pruneHistoryLoop(ctx context.Context, repo *lightstate.SQLiteRepository, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PruneHistory(ctx, historyRetention)
			if err != nil {
				log.Warn("state history prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("state history pruned", "removed", n)
			}
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Light bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements govee.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements govee.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements govee.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements govee.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
