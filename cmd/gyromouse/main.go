package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("gyromouse v%s\n", version)
	fmt.Println("Gyroscope-to-pointer bridge for remote mouse hosts")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  gyromouse [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads angular velocity from a motion sensor, filters and smooths it,")
	fmt.Println("  and streams pointer deltas, clicks and pointer settings to a remote")
	fmt.Println("  host over WebSocket. The link reconnects with backoff after failures.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a config file")
	fmt.Println("  gyromouse -config ~/.config/gyromouse.yaml")
	fmt.Println()
	fmt.Println("  # Connect immediately using an evdev motion sensor node")
	fmt.Println("  gyromouse -server-url ws://192.168.1.94:8080/ws -auto-connect -sensor evdev -sensor-device /dev/input/event7")
	fmt.Println()
	fmt.Println("  # Try it without hardware")
	fmt.Println("  gyromouse -sensor mock -auto-connect -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - evdev mode needs read access to the input node (root or the 'input' group)")
	fmt.Println("  - Control the daemon at runtime with gyromouse-ctl")
	fmt.Println()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		serverURL   = flag.String("server-url", defaultServerURL, "Pointer host WebSocket URL")
		autoConnect = flag.Bool("auto-connect", false, "Connect to the pointer host on startup")

		speedFactor   = flag.Float64("speed", defaultSpeedFactor, "Pointer speed factor (0.5-5.0)")
		enforceBounds = flag.Bool("bounds", true, "Ask the host to keep the cursor on screen")
		useMotion     = flag.Bool("motion", true, "Drive the pointer from the motion sensor")

		sensorMode   = flag.String("sensor", SensorModeEvdev, "Sensor source: evdev|mqtt|mock|none")
		sensorDevice = flag.String("sensor-device", "/dev/input/event0", "evdev motion-sensor node")
		mqttBroker   = flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker (mqtt sensor mode)")
		mqttTopic    = flag.String("mqtt-topic", "inertial/imu/left", "MQTT raw IMU topic (mqtt sensor mode)")

		ipcSocketPath = flag.String("ipc-socket", "/tmp/gyromouse.sock", "Unix domain socket path for IPC")
		statusListen  = flag.String("status-listen", "127.0.0.1:3002", "Status feed listen address (empty disables)")

		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return nil
	}
	if *showVersion {
		printVersion()
		return nil
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server-url":
			o.ServerURL = serverURL
		case "auto-connect":
			o.AutoConnect = autoConnect
		case "speed":
			o.SpeedFactor = speedFactor
		case "bounds":
			o.EnforceBounds = enforceBounds
		case "motion":
			o.UseMotionSensor = useMotion
		case "sensor":
			o.SensorMode = sensorMode
		case "sensor-device":
			o.SensorDevice = sensorDevice
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "mqtt-topic":
			o.MQTTTopic = mqttTopic
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "status-listen":
			o.StatusListen = statusListen
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(os.Stdout, logLevel)

	source, err := newSensorSource(cfg.Sensor, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Central command bus
	events := make(chan Event, 64)

	var broadcasts chan StatusBroadcast
	if cfg.Status.Enabled {
		broadcasts = make(chan StatusBroadcast, 256)
	}

	daemon := NewDaemon(DaemonConfig{
		Settings:   cfg.ToSettings(),
		Dialer:     NewWSDialer(cfg.ToDialerConfig(), logger),
		Source:     source,
		Broadcasts: broadcasts,
	}, logger)

	logger.Debug("configuration",
		"server_url", cfg.Server.URL,
		"auto_connect", cfg.Server.AutoConnect,
		"speed_factor", cfg.Pointer.SpeedFactor,
		"enforce_bounds", cfg.Pointer.EnforceBounds,
		"use_motion_sensor", cfg.Pointer.UseMotionSensor,
		"sensor_mode", cfg.Sensor.Mode,
		"sensor_device", cfg.Sensor.Device,
		"ipc_socket", cfg.IPC.SocketPath,
		"status_enabled", cfg.Status.Enabled,
		"status_listen", cfg.Status.Listen)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return daemon.Run(gctx, events)
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if cfg.Status.Enabled {
		srv := NewStatusServer(logger, events, HubConfig{})
		mux := http.NewServeMux()
		srv.Register(mux, "/status")

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.Status.Listen, mux, logger)
		})
	}

	if cfg.Server.AutoConnect {
		events <- Connect{}
	}

	logger.Info("gyromouse running", "version", version, "server_url", cfg.Server.URL, "sensor", cfg.Sensor.Mode, "ipc", cfg.IPC.SocketPath)

	if err := g.Wait(); err != nil {
		logger.Error("gyromouse stopped with error", "error", err)
		return err
	}
	logger.Info("shut down")
	return nil
}
