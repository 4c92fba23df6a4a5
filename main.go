package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/btreceiver/btreceiverd/bluetooth"
	"github.com/btreceiver/btreceiverd/config"
	"github.com/btreceiver/btreceiverd/mixer"
	"github.com/btreceiver/btreceiverd/player"
	"github.com/btreceiver/btreceiverd/server"
	"github.com/btreceiver/btreceiverd/store"
	"github.com/btreceiver/btreceiverd/utils"
)

const usage = "usage: btreceiverd <serve|agent> [-config path] [-port n] [-log path] [-debug] [-mount-root dir]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd != "serve" && cmd != "agent" {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", cmd, usage)
		os.Exit(1)
	}

	cfg, err := loadConfig(cmd, os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog := setupLogging(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// A broken pipe on a dropped browser connection must not kill the daemon.
	signal.Ignore(syscall.SIGPIPE)

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "agent":
		err = runAgent(ctx, cfg)
	}

	if err != nil {
		log.Printf("MAIN: %s exited: %v", cmd, err)
		closeLog()
		os.Exit(1)
	}
	log.Printf("MAIN: %s stopped", cmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd string, args []string) (*config.Config, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	path := fs.String("config", config.DefaultPath, "config file")
	port := fs.Int("port", 0, "HTTP port")
	logFile := fs.String("log", "", "log file")
	debug := fs.Bool("debug", false, "verbose logging")
	mountRoot := fs.String("mount-root", "", "directory the USB stick is mounted at or under")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return nil, err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *debug {
		cfg.Debug = true
	}
	if *mountRoot != "" {
		cfg.MountRoot = *mountRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging sends the log to stdout and the configured file. A file
// that cannot be opened leaves stdout logging in place.
func setupLogging(cfg *config.Config) func() {
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if cfg.LogFile == "" {
		return func() {}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		log.Printf("Warning: Could not create log directory: %v", err)
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Warning: Could not open log file: %v", err)
		return func() {}
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.Printf("Logging to %s", cfg.LogFile)

	var once sync.Once
	return func() {
		once.Do(func() {
			log.SetOutput(os.Stdout)
			logFile.Close()
		})
	}
}

// runAgent registers the pairing agent and blocks until ctx is done or
// bluetoothd revokes it.
func runAgent(ctx context.Context, cfg *config.Config) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	registry := bluetooth.NewRegistry(bluetooth.NewBus(conn), cfg.Adapter, cfg.DBusTimeout.Duration)

	// Best effort: the adapter must be on and pairable for the no-PIN
	// flow, but bluetoothd's main.conf may already take care of it.
	if err := registry.SetPowered(ctx, true); err != nil {
		log.Printf("BT_AGENT: Could not power adapter: %v", err)
	}
	if err := registry.SetPairable(ctx, true); err != nil {
		log.Printf("BT_AGENT: Could not make adapter pairable: %v", err)
	}

	agent := bluetooth.NewAgent(conn, cfg.AgentPath, registry, cfg.DBusTimeout.Duration)
	if err := agent.Register(ctx); err != nil {
		return err
	}
	return agent.Run(ctx)
}

// runServe starts the HTTP API and everything behind it.
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	wsHub := utils.NewWebSocketHub()
	registry := bluetooth.NewRegistry(bluetooth.NewBus(conn), cfg.Adapter, cfg.DBusTimeout.Duration)
	mix := mixer.New(mixer.ExecRunner(), cfg.MixerCard, cfg.MixerControls)
	units := utils.NewSystemdUnits(conn)

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		log.Printf("MAIN: Resume state disabled: %v", err)
		if st, err = store.OpenInMemory(); err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
	}
	defer st.Close()

	ctrl := player.New(
		player.ExecLauncher{Device: cfg.AudioDevice},
		utils.NewBluetoothSink(units, cfg.SinkUnit),
		st,
	)

	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	watcher := player.NewMountWatcher(cfg.MountRoot, cfg.PollInterval.Duration, ctrl)
	goRun(func() { watcher.Run(ctx) })

	goRun(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case status := <-ctrl.Events():
				wsHub.Broadcast(utils.WebSocketEvent{Type: utils.EventPlaybackStatus, Payload: status})
			}
		}
	})

	if events, err := bluetooth.NewEventWatcher(conn, cfg.Adapter).Watch(ctx); err != nil {
		log.Printf("MAIN: Bluetooth events disabled: %v", err)
	} else {
		goRun(func() {
			for ev := range events {
				wsHub.Broadcast(utils.WebSocketEvent{
					Type: string(ev.Type),
					Payload: utils.DeviceEventPayload{
						Address: ev.Address,
						Name:    ev.Name,
						Changes: ev.Changes,
					},
				})
			}
		})
	}

	checker := utils.NewNetworkChecker(cfg.UplinkHost, func(online bool) {
		status := "offline"
		if online {
			status = "online"
		}
		wsHub.Broadcast(utils.WebSocketEvent{
			Type:    utils.EventNetworkStatus,
			Payload: utils.NetworkStatusPayload{Status: status},
		})
	})
	goRun(func() { checker.Run(ctx) })

	advert, err := utils.AdvertiseHTTP(cfg.MDNSName, cfg.Port, []string{"path=/", "port=" + strconv.Itoa(cfg.Port)})
	if err != nil {
		log.Printf("MAIN: mDNS disabled: %v", err)
	}
	defer advert.Shutdown()

	srv := server.NewServer(server.Deps{
		Registry: registry,
		Mixer:    mix,
		Player:   ctrl,
		System: &utils.SystemInfo{
			Interface:  cfg.Interface,
			FallbackIP: cfg.FallbackIP,
			Checker:    checker,
		},
		Units:        units,
		RestartUnits: cfg.RestartUnits,
		Hub:          wsHub,
	})

	err = srv.Start(ctx, cfg.Port)
	cancel()

	// Leave the sink running and the decoder dead on the way out.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.DBusTimeout.Duration)
	if stopErr := ctrl.Stop(stopCtx); stopErr != nil {
		log.Printf("MAIN: Failed to stop playback: %v", stopErr)
	}
	stopCancel()

	wg.Wait()
	return err
}
