// Command basebridge runs the base driver and exposes its state over HTTP,
// websocket and optionally MQTT. It is the long-running process on the robot:
// upstream software commands velocities through the JSON API and consumes
// odometry through the websocket stream, while every sample can be recorded
// to SQLite for later analysis.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/LinFei83/tennis-robot/internal/base"
	"github.com/LinFei83/tennis-robot/internal/config"
	"github.com/LinFei83/tennis-robot/internal/telemetrydb"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when empty)")
	portPath   = flag.String("port", "", "Serial device path override")
	listen     = flag.String("listen", ":8080", "Listen address")
	devMode    = flag.Bool("dev", false, "Run against a simulated base instead of hardware")
	dbFile     = flag.String("db", "", "SQLite telemetry database path (recording disabled when empty)")
	mqttBroker = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883 (disabled when empty)")
	mqttTopic  = flag.String("mqtt-topic", "base/state", "MQTT topic for state snapshots")
	logFile    = flag.String("log-file", "", "Rotate logs to this file instead of stderr")
)

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if *portPath != "" {
		cfg.Port = *portPath
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	if *logFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var opts []base.Option
	if *devMode {
		log.Print("dev mode: using simulated base")
		opts = append(opts, base.WithPortFactory(base.SimulatedFactory{}))
	}

	ctrl, err := base.NewController(cfg, opts...)
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}

	hub := newWSHub()

	// Optional sample recording.
	var (
		tdb       *telemetrydb.TelemetryDB
		sessionID string
	)
	if *dbFile != "" {
		tdb, err = telemetrydb.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open telemetry database: %v", err)
		}
		defer tdb.Close()
		sessionID, err = tdb.StartSession(cfg.Port, "basebridge")
		if err != nil {
			log.Fatalf("failed to start telemetry session: %v", err)
		}
		log.Printf("recording telemetry session %s to %s", sessionID, *dbFile)
	}

	// Optional MQTT publishing.
	var mqttClient mqtt.Client
	if *mqttBroker != "" {
		mopts := mqtt.NewClientOptions().
			AddBroker(*mqttBroker).
			SetClientID("basebridge")
		mqttClient = mqtt.NewClient(mopts)
		if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
			log.Fatalf("MQTT connect error: %v", token.Error())
		}
		defer mqttClient.Disconnect(250)
		log.Printf("connected to MQTT broker at %s", *mqttBroker)
	}

	ctrl.OnOdometry(func(o base.Odometry) {
		if tdb != nil {
			if err := tdb.RecordOdometry(sessionID, o); err != nil {
				log.Printf("failed to record odometry: %v", err)
			}
		}
		snap := ctrl.Snapshot()
		hub.Broadcast(snap)
		if mqttClient != nil {
			if payload, err := json.Marshal(snap); err == nil {
				mqttClient.Publish(*mqttTopic, 0, false, payload)
			}
		}
	})
	ctrl.OnIMU(func(s base.IMUSample) {
		if tdb != nil {
			if err := tdb.RecordIMU(sessionID, s); err != nil {
				log.Printf("failed to record imu sample: %v", err)
			}
		}
	})
	ctrl.OnVoltage(func(v float64) {
		if tdb != nil {
			if err := tdb.RecordVoltage(sessionID, v); err != nil {
				log.Printf("failed to record voltage: %v", err)
			}
		}
	})
	ctrl.OnError(func(err error) {
		log.Printf("base driver fault: %v", err)
	})
	ctrl.OnInfo(func(msg string) {
		log.Printf("base driver: %s", msg)
	})

	if err := ctrl.Start(); err != nil {
		log.Fatalf("failed to start base driver: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	attachAPIRoutes(mux, ctrl)
	mux.HandleFunc("/ws", hub.Handle)

	server := &http.Server{Addr: *listen, Handler: mux}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	hub.CloseAll()

	if err := ctrl.Stop(); err != nil {
		log.Printf("failed to stop base driver: %v", err)
	}
	if tdb != nil {
		if err := tdb.EndSession(sessionID); err != nil {
			log.Printf("failed to end telemetry session: %v", err)
		}
	}

	wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func attachAPIRoutes(mux *http.ServeMux, ctrl *base.Controller) {
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	})
	mux.HandleFunc("/api/odometry", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.Odometry())
	})
	mux.HandleFunc("/api/imu", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ctrl.IMUData())
	})
	mux.HandleFunc("/api/voltage", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]float64{"voltage": ctrl.Voltage()})
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			State string `json:"state"`
			base.Stats
		}{ctrl.State().String(), ctrl.Stats()})
	})
	mux.HandleFunc("/api/velocity", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var cmd base.VelocityCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid velocity payload: %w", err))
			return
		}
		if err := ctrl.SetVelocity(cmd.LinearX, cmd.LinearY, cmd.AngularZ); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, base.ErrNotRunning) {
				status = http.StatusConflict
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, cmd)
	})
	mux.HandleFunc("/api/reset-odometry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctrl.ResetOdometry()
		writeJSON(w, http.StatusOK, ctrl.Odometry())
	})
}
