package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trackside-labs/linesim/internal/api"
	"github.com/trackside-labs/linesim/internal/config"
	"github.com/trackside-labs/linesim/internal/db"
	"github.com/trackside-labs/linesim/internal/race"
	"github.com/trackside-labs/linesim/internal/sim"
	"github.com/trackside-labs/linesim/internal/timeutil"
	"github.com/trackside-labs/linesim/internal/track"
	"github.com/trackside-labs/linesim/internal/units"
	"github.com/trackside-labs/linesim/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (no persistence)")
	showVer    = flag.Bool("version", false, "Print version and exit")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "races.db", "Path to the results database (empty disables persistence)")
	configPath = flag.String("config", "", "Path to a tuning config JSON file")
	laps       = flag.Int("laps", -1, "Lap limit override (-1 uses the config value, 0 means unlimited)")
	mode       = flag.String("mode", string(sim.ModeIdle), "Initial mode: idle, calibrate, motor_test, race")
	tick       = flag.Duration("tick", 0, "Tick interval override (0 uses the config value)")
	speedUnits = flag.String("units", units.CMPS, "Speed units for API output: "+units.GetValidUnitsString())
)

// loadTuning reads the tuning config, falling back to built-in defaults when
// no file is given.
func loadTuning() *config.TuningConfig {
	if *configPath == "" {
		return config.EmptyTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	return cfg
}

// buildEngine assembles the track and engine from the tuning config plus any
// flag overrides.
func buildEngine(tuning *config.TuningConfig) *sim.Engine {
	trackCfg := track.DefaultConfig()
	trackCfg.CanvasWidth = tuning.GetCanvasWidth()
	trackCfg.CanvasHeight = tuning.GetCanvasHeight()
	trackCfg.LineWidth = tuning.GetLineWidth()
	trackCfg.SamplesPerSegment = tuning.GetSamplesPerSegment()

	trk, err := track.Generate(trackCfg)
	if err != nil {
		log.Fatalf("Failed to generate track: %v", err)
	}

	engineCfg := sim.DefaultConfig()
	engineCfg.BaseSpeed = tuning.GetBaseSpeed()
	engineCfg.MaxError = tuning.GetMaxError()
	engineCfg.OscillationThreshold = tuning.GetOscillationThreshold()
	engineCfg.AutoTuneEvery = tuning.GetAutoTuneEvery()
	engineCfg.LapLimit = tuning.GetLapLimit()
	engineCfg.HistoryCapacity = tuning.GetHistoryCapacity()
	engineCfg.Control.Gains.Kp = tuning.GetKp()
	engineCfg.Control.Gains.Ki = tuning.GetKi()
	engineCfg.Control.Gains.Kd = tuning.GetKd()
	engineCfg.Control.Gains.Kslip = tuning.GetKslip()
	engineCfg.Control.IntegralLimit = tuning.GetIntegralLimit()
	engineCfg.Control.MaxCorrection = tuning.GetMaxCorrection()
	engineCfg.Control.SlipThreshold = tuning.GetSlipThreshold()

	if *laps >= 0 {
		engineCfg.LapLimit = *laps
	}

	return sim.New(trk, engineCfg, timeutil.RealClock{})
}

func main() {
	flag.Parse()

	if *showVer {
		log.Printf("linesim %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("Invalid units %q, valid values: %s", *speedUnits, units.GetValidUnitsString())
	}

	tuning := loadTuning()
	engine := buildEngine(tuning)

	if err := engine.SetMode(sim.Mode(*mode)); err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}

	var store *db.DB
	if !*devMode && *dbFile != "" {
		var err error
		store, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open results database: %v", err)
		}
		defer store.Close()

		// Race finishes are persisted fire-and-forget: a failed write is
		// logged and never surfaces into the simulation.
		engine.OnFinish(func(s race.Summary) {
			if err := store.SaveRaceSummary(s); err != nil {
				log.Printf("failed to save race %s: %v", s.ID, err)
				return
			}
			log.Printf("saved race %s: %d laps in %.0fms", s.ID, s.Laps, s.TotalTimeMs)
		})
	}

	tickInterval := tuning.GetTickInterval()
	if *tick > 0 {
		tickInterval = *tick
	}

	// The engine only ticks while started; non-idle startup modes begin
	// immediately, idle waits for a start command over the API.
	if sim.Mode(*mode) != sim.ModeIdle {
		engine.Start()
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// tick loop goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		clock := timeutil.RealClock{}
		ticker := clock.NewTicker(tickInterval)
		defer ticker.Stop()

		dtMs := float64(tickInterval) / float64(time.Millisecond)
		for {
			select {
			case <-ticker.C():
				engine.Tick(dtMs)
			case <-ctx.Done():
				engine.Stop()
				log.Print("tick loop terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(engine, store, *speedUnits).ServeMux()
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
