// Command rover runs the drive decision loop: it fuses the ultrasonic
// rangefinder and the published vision verdicts with manual input and emits
// one steer/throttle command per tick.
//
// Vision inference runs out of process; its per-frame occupancy results
// arrive through the shared latest-result slot. In dev mode the binary feeds
// itself a mock sensor and synthetic frames so the whole decision path can be
// exercised on a workstation.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tidewater-robotics/rover/internal/config"
	"github.com/tidewater-robotics/rover/internal/drive"
	"github.com/tidewater-robotics/rover/internal/events"
	"github.com/tidewater-robotics/rover/internal/input"
	"github.com/tidewater-robotics/rover/internal/rangefinder"
	"github.com/tidewater-robotics/rover/internal/timeutil"
	"github.com/tidewater-robotics/rover/internal/version"
	"github.com/tidewater-robotics/rover/internal/vision"
)

var (
	configPath = flag.String("config", "", "Path to the tuning JSON (built-in defaults when empty)")
	portPath   = flag.String("port", "/dev/ttyUSB0", "Ultrasonic serial device (empty disables the rangefinder)")
	devMode    = flag.Bool("dev", false, "Run with a mock sensor, synthetic vision frames and scripted input")
	logDir     = flag.String("log-dir", "", "Directory for JSONL event logs (empty disables)")
	dbFile     = flag.String("db", "", "SQLite event database path (empty disables)")
)

func main() {
	flag.Parse()
	log.Printf("rover %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	tuning := &config.TuningConfig{}
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}

	eventLog := openEventLog()
	defer eventLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Ultrasonic reader, optional.
	var ultrasonic drive.UltrasonicSource
	if *devMode {
		port := rangefinder.NewMockPort()
		port.FeedPeriodically("150", 50*time.Millisecond)
		reader, err := rangefinder.NewReader("mock", rangefinder.MockOpener(port))
		if err != nil {
			log.Fatalf("Failed to open mock port: %v", err)
		}
		ultrasonic = reader
		runReader(ctx, &wg, reader)
	} else if *portPath != "" {
		reader, err := rangefinder.NewReader(*portPath, rangefinder.OpenSerialPort)
		if err != nil {
			log.Fatalf("Failed to open ultrasonic port: %v", err)
		}
		ultrasonic = reader
		runReader(ctx, &wg, reader)
	} else {
		log.Print("Ultrasonic rangefinder disabled")
	}

	visionSlot := &drive.Latest[vision.Result]{}
	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feedSyntheticFrames(ctx, tuning, visionSlot)
		}()
	}

	var source input.Source = &input.Multi{}
	if *devMode {
		source = devScript()
	}

	history := vision.NewHistory(vision.HistoryConfigFromTuning(tuning))
	loop := drive.NewLoop(drive.LoopConfigFromTuning(tuning), drive.Deps{
		Clock:       timeutil.RealClock{},
		Ultrasonic:  ultrasonic,
		Fusion:      rangefinder.NewFusion(rangefinder.FusionConfigFromTuning(tuning)),
		Vision:      visionSlot,
		Input:       source,
		Turn:        drive.NewTurnEngine(drive.TurnConfigFromTuning(tuning), history),
		Autopilot:   drive.NewAutopilot(drive.AutopilotConfigFromTuning(tuning)),
		SteerMap:    drive.SteeringMapperFromTuning(tuning),
		ThrottleMap: drive.ThrottleMapperFromTuning(tuning),
		Actuator:    &drive.LogActuator{},
		Events:      eventLog,
	})

	log.Printf("Drive loop starting (tick %v)", tuning.GetTickPeriod())
	if err := loop.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("Drive loop error: %v", err)
	}
	log.Print("Drive loop terminated")

	stop()
	wg.Wait()
}

// openEventLog assembles the configured event sinks, falling back to a no-op
// logger when none are enabled.
func openEventLog() events.Logger {
	var sinks []events.Logger
	if *logDir != "" {
		jl, err := events.NewJSONL(*logDir)
		if err != nil {
			log.Fatalf("Failed to open JSONL event log: %v", err)
		}
		log.Printf("Logging events to %s", jl.Path())
		sinks = append(sinks, jl)
	}
	if *dbFile != "" {
		db, err := events.NewSQLite(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open event database: %v", err)
		}
		log.Printf("Logging events to %s (session %s)", *dbFile, db.SessionID())
		sinks = append(sinks, db)
	}
	switch len(sinks) {
	case 0:
		return events.Nop{}
	case 1:
		return sinks[0]
	default:
		return &events.Multi{Sinks: sinks}
	}
}

func runReader(ctx context.Context, wg *sync.WaitGroup, reader *rangefinder.Reader) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reader.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("Ultrasonic reader error: %v", err)
		}
		log.Print("Ultrasonic reader terminated")
	}()
}

// feedSyntheticFrames publishes an alternating clear/blocked occupancy frame
// through the full per-frame decision pipeline, the same path an inference
// process would drive.
func feedSyntheticFrames(ctx context.Context, tuning *config.TuningConfig, slot *drive.Latest[vision.Result]) {
	decider := vision.NewStopDecider(vision.DeciderConfigFromTuning(tuning))

	const w, h = 32, 24
	roi := vision.ComputeROI(w, h, tuning.GetVisionROIWidthFrac(), tuning.GetVisionROIBottomFrac())

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var seq uint64
	blocked := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			if seq%40 == 0 {
				blocked = !blocked
			}
			frame := syntheticFrame(roi, seq, blocked)
			slot.Publish(decider.Update(frame))
		}
	}
}

func syntheticFrame(roi vision.ROI, seq uint64, blocked bool) *vision.Frame {
	classes := make([]int, roi.W()*roi.H())
	if blocked {
		// An obstacle filling the lower-left quarter of the ROI.
		for y := roi.H() / 2; y < roi.H(); y++ {
			for x := 0; x < roi.W()/2; x++ {
				classes[y*roi.W()+x] = 1
			}
		}
	}
	return &vision.Frame{ROI: roi, W: roi.W(), H: roi.H(), Classes: classes, Seq: seq, At: time.Now()}
}

func devScript() input.Source {
	return &input.Script{Samples: []input.Sample{
		{Arm: true, Active: true},
		{ModeToggle: true, Active: true},
	}}
}
