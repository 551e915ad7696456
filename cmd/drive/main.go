// Command drive sends a constant velocity to the base for a fixed duration,
// then stops. Useful for bench testing a chassis without the full bridge.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/LinFei83/tennis-robot/internal/base"
	"github.com/LinFei83/tennis-robot/internal/config"
)

var (
	portPath = flag.String("port", "", "Serial device path override")
	devMode  = flag.Bool("dev", false, "Run against a simulated base instead of hardware")
	linearX  = flag.Float64("x", 0, "Forward velocity in m/s")
	linearY  = flag.Float64("y", 0, "Leftward velocity in m/s")
	angularZ = flag.Float64("z", 0, "Counter-clockwise angular velocity in rad/s")
	duration = flag.Duration("duration", 2*time.Second, "How long to drive before stopping")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *portPath != "" {
		cfg.Port = *portPath
	}

	var opts []base.Option
	if *devMode {
		opts = append(opts, base.WithPortFactory(base.SimulatedFactory{}))
	}

	ctrl, err := base.NewController(cfg, opts...)
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}
	ctrl.OnError(func(err error) {
		log.Printf("base driver fault: %v", err)
	})

	if err := ctrl.Start(); err != nil {
		log.Fatalf("failed to start base driver: %v", err)
	}
	defer func() {
		if err := ctrl.Stop(); err != nil {
			log.Printf("failed to stop base driver: %v", err)
		}
	}()

	if err := ctrl.SetVelocity(*linearX, *linearY, *angularZ); err != nil {
		log.Fatalf("rejected velocity: %v", err)
	}
	log.Printf("driving x=%.2f m/s y=%.2f m/s z=%.2f rad/s for %v", *linearX, *linearY, *angularZ, *duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Print("interrupted")
	case <-time.After(*duration):
	}

	pose := ctrl.Odometry().Pose
	log.Printf("final pose: x=%.3f m y=%.3f m yaw=%.3f rad", pose.X, pose.Y, pose.Yaw)
	log.Printf("battery: %.2f V", ctrl.Voltage())
}
