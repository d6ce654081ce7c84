package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/adapter/firestore"
	"github.com/devkiraa/aura-smart-home/internal/adapter/firmware"
	"github.com/devkiraa/aura-smart-home/internal/adapter/flash"
	"github.com/devkiraa/aura-smart-home/internal/adapter/gpio"
	"github.com/devkiraa/aura-smart-home/internal/adapter/memtree"
	"github.com/devkiraa/aura-smart-home/internal/adapter/mqtt"
	"github.com/devkiraa/aura-smart-home/internal/adapter/prefs"
	"github.com/devkiraa/aura-smart-home/internal/adapter/system"
	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/actor"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/internal/core/service"
	"github.com/devkiraa/aura-smart-home/internal/server"
	"github.com/devkiraa/aura-smart-home/internal/util/actorutil"
	"github.com/devkiraa/aura-smart-home/internal/version"
	"github.com/devkiraa/aura-smart-home/pkg/relay_modbus"

	pactor "github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	logger.Info("starting", zap.String("version", version.Running()))

	// durable preferences
	store, err := prefs.Open(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("cannot open preferences", zap.String("path", cfg.Storage.Path), zap.Error(err))
	}
	defer store.Close()

	// without provisioned network credentials nothing else can work
	if cfg.RequireCredentials {
		ok, err := service.HasCredentials(context.Background(), store)
		if err != nil || !ok {
			logger.Error("boot halted", zap.Error(domain.ErrHardFault), zap.NamedError("cause", err))
			idleUntilSignalled()
			return
		}
	}

	deviceId, err := resolveDeviceId(cfg)
	if err != nil {
		logger.Fatal("cannot determine device id", zap.Error(err))
	}
	cfg.Device.Id = deviceId
	logger = logger.With(zap.String("device", deviceId))

	driver, err := outputDriver(cfg, logger)
	if err != nil {
		logger.Fatal("cannot create output driver", zap.Error(err))
	}
	defer driver.Close()

	registry := service.NewApplianceRegistry(driver, logger)
	tree := cloudTree(cfg, logger)
	configStore := service.NewLocalConfigStore(store)

	// appliance list: remote document, cache or local store
	var remote *service.RemoteConfigLoader
	if cfg.ConfigSource == config.CONFIG_SOURCE_REMOTE {
		remote = service.NewRemoteConfigLoader(firestore.NewDocumentClient(cfg.DocumentStore, cfg.CloudTimeout(), logger), logger)
	}
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 2*cfg.CloudTimeout())
	specs := service.LoadApplianceSpecs(bootCtx, remote, configStore, deviceId, logger)
	cancelBoot()
	if err := registry.Load(specs); err != nil {
		// hardware errors are reported but the device keeps serving
		logger.Error("appliance load reported errors", zap.Error(err))
	}

	restarter := newRestarter(cfg, logger)

	twin := service.NewTwinSync(service.TwinSyncConfig{
		DeviceId: deviceId,
		Ip:       system.LocalIPv4(cfg.Device.Interface),
		Version:  version.Running(),
		Name:     cfg.Device.Name,
		Timeout:  cfg.CloudTimeout(),
	}, registry, tree, logger)
	link := actor.NewCloudLink(tree, cfg.CloudTimeout(), logger)

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(func() *actor.TwinActor {
			return actor.NewTwinActor(actor.TwinActorConfig{
				DrainDelay:  cfg.DrainDelay(),
				TaskTimeout: 3 * cfg.CloudTimeout(),
			}, link, twin, registry, restarter, logger)
		}, otaActorProvider(cfg, tree, restarter, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		logger.Fatal("cannot spawn master actor", zap.Error(err))
	}

	server := server.NewServer(*cfg, ctx, pid, configStore, restarter, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	_ = ctx.StopFuture(pid).Wait()
	as.Shutdown()
	tree.Disconnect()
}

func idleUntilSignalled() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func resolveDeviceId(cfg *config.Config) (string, error) {
	if cfg.Device.Id != "" {
		return cfg.Device.Id, nil
	}
	id, err := system.HardwareId(cfg.Device.Interface)
	if err != nil {
		return "", err
	}
	return config.CheckDeviceId(id)
}

func outputDriver(cfg *config.Config, logger *zap.Logger) (port.OutputDriver, error) {
	switch cfg.Outputs.Driver {
	case config.OUTPUT_DRIVER_GPIO:
		return gpio.NewSysfsDriver(afero.NewOsFs(), cfg.Outputs.GPIORoot, logger), nil
	case config.OUTPUT_DRIVER_MODBUS:
		writer, err := relay_modbus.CreateModbusCoilWriter(cfg.Outputs.ModbusHost, cfg.Outputs.ModbusPort,
			uint8(cfg.Outputs.ModbusUnitId), 1*time.Second, logger, nil)
		if err != nil {
			return nil, err
		}
		return gpio.NewRelayDriver(relay_modbus.NewRelayBoard(writer, cfg.Outputs.ModbusCoilOffset, logger)), nil
	default:
		logger.Warn("using in-memory outputs, no hardware is driven")
		return gpio.NewMemoryDriver(), nil
	}
}

func cloudTree(cfg *config.Config, logger *zap.Logger) port.CloudTree {
	if cfg.Cloud.Driver == config.CLOUD_DRIVER_MQTT {
		return mqtt.CreateCloudTreeClient(cfg, mqtt.OptsFromConfig(cfg), logger)
	}
	logger.Warn("using in-memory cloud tree, nothing leaves the device")
	return memtree.New()
}

func newRestarter(cfg *config.Config, logger *zap.Logger) port.Restarter {
	if cfg.Restart.Mode == config.RESTART_MODE_SYSTEM {
		return system.NewBoardRestarter(logger)
	}
	return system.NewProcessRestarter(logger)
}

func otaActorProvider(cfg *config.Config, tree port.CloudTree, restarter port.Restarter, logger *zap.Logger) actor.OTAActorProvider {
	if !cfg.OTA.Enabled {
		return nil
	}
	slots := flash.NewSlotStore(afero.NewOsFs(), cfg.OTA.SlotDir, cfg.OTA.SlotCapacityBytes, logger)
	updater := service.NewOTAUpdater(service.OTAUpdaterConfig{
		RunningVersion: version.Running(),
		Timeout:        cfg.CloudTimeout(),
		StallTimeout:   cfg.OTA.StallTimeout(),
	}, tree, firmware.NewHTTPSource(cfg.CloudTimeout()), slots, restarter, logger)
	return func() *actor.OTAActor {
		return actor.NewOTAActor(actor.OTAActorConfig{
			PollInterval: cfg.OTA.PollInterval(),
		}, updater, logger)
	}
}

func initConfig() (*config.Config, error) {

	// alias PORT => AURA_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("AURA_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("aura")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(errors.New("invalid configuration"), err)
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("require_credentials", false)
	viper.SetDefault("cloud_timeout_millis", 5000)
	viper.SetDefault("device.id", "")
	viper.SetDefault("device.interface", "")
	viper.SetDefault("device.name", domain.DEFAULT_CONTROLLER_NAME)
	viper.SetDefault("cloud.driver", config.CLOUD_DRIVER_MQTT)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.tls", false)
	viper.SetDefault("mqtt.keepalive_seconds", 30)
	viper.SetDefault("mqtt.reconnect_max_seconds", 60)
	viper.SetDefault("config_source", config.CONFIG_SOURCE_LOCAL)
	viper.SetDefault("document_store.base_url", firestore.DEFAULT_BASE_URL)
	viper.SetDefault("document_store.project_id", "")
	viper.SetDefault("document_store.api_key", "")
	viper.SetDefault("outputs.driver", config.OUTPUT_DRIVER_GPIO)
	viper.SetDefault("outputs.gpio_root", gpio.DEFAULT_SYSFS_ROOT)
	viper.SetDefault("outputs.modbus_host", "")
	viper.SetDefault("outputs.modbus_port", 502)
	viper.SetDefault("outputs.modbus_unit_id", 1)
	viper.SetDefault("outputs.modbus_coil_offset", 0)
	viper.SetDefault("ota.enabled", false)
	viper.SetDefault("ota.poll_interval_seconds", 3600)
	viper.SetDefault("ota.slot_dir", "/var/lib/aura/slots")
	viper.SetDefault("ota.slot_capacity_bytes", 4<<20)
	viper.SetDefault("ota.stall_timeout_millis", 30000)
	viper.SetDefault("storage.path", "/var/lib/aura/prefs.db")
	viper.SetDefault("restart.mode", config.RESTART_MODE_PROCESS)
	viper.SetDefault("restart.drain_delay_millis", 1000)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.DocumentStore.ApiKey = "*redacted*"
	slog.Info("Using", "config", cfg)
}
