package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/laserscan/internal/api"
	"github.com/banshee-data/laserscan/internal/calibration"
	"github.com/banshee-data/laserscan/internal/camera"
	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/device"
	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/publish"
	"github.com/banshee-data/laserscan/internal/scandb"
	"github.com/banshee-data/laserscan/internal/scanner"
	"github.com/banshee-data/laserscan/internal/serialmux"
	"github.com/banshee-data/laserscan/internal/sim"
	"github.com/banshee-data/laserscan/internal/version"
)

var (
	configPath  = flag.String("config", "", "Scan config file (.json, .yaml or .yml)")
	calPath     = flag.String("calibration", "", "Calibration file (.json, .yaml or .yml)")
	profilePath = flag.String("profile", "", "Settings profile (.json); loaded at start, saved on exit")
	portPath    = flag.String("port", "/dev/ttyUSB0", "Scanner board serial port")
	baudRate    = flag.Int("baud", serialmux.DefaultBaudRate, "Scanner board baud rate")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	cameraIndex = flag.Int("camera", 0, "Video device index")
	simulate    = flag.Bool("sim", false, "Use the simulated rig instead of hardware")
	dbPath      = flag.String("db", "scans.db", "Scan database; empty disables session storage")
	listen      = flag.String("listen", ":8080", "Listen address")
	mqttBroker  = flag.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883; empty disables MQTT")
	mqttPrefix  = flag.String("mqtt-prefix", "laserscan", "MQTT topic prefix")
	webhookURL  = flag.String("webhook", "", "URL to POST session start and finish notifications to")
	exportDir   = flag.String("export-dir", ".", "Directory for point cloud exports")
	scanOnce    = flag.String("scan", "", "Run one scan without the HTTP server and write the cloud to this file")
	debug       = flag.Bool("debug", false, "Log every board command")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Simulated camera resolution when no calibration file is given.
const (
	simWidth  = 640
	simHeight = 480
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("laserscan", version.Get())
		return
	}
	if *listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *scanOnce == "" && *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debug)
	log.Printf("laserscan %s", version.Get())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	settings := config.NewSettings(cfg)

	var profile *config.FileStore
	if *profilePath != "" {
		if profile, err = openProfile(*profilePath, settings); err != nil {
			log.Fatalf("failed to load profile: %v", err)
		}
	}

	var rig *sim.Rig
	if *simulate {
		rig = sim.NewRig()
	}
	lookups, width, height, err := loadLookups(*calPath, rig != nil)
	if err != nil {
		log.Fatalf("failed to load calibration: %v", err)
	}
	if lookups.Left == nil {
		log.Printf("no calibration loaded: scans are refused until one is configured")
	}

	var opener device.Opener
	var cam camera.Camera
	if rig != nil {
		opener = rig.Opener()
		cam = sim.NewCamera(rig, width, height)
	} else {
		opener = device.SerialOpener(*portPath, serialmux.PortOptions{BaudRate: *baudRate})
		if cam, err = openCamera(*cameraIndex, width, height); err != nil {
			log.Fatalf("failed to open camera: %v", err)
		}
	}
	board := device.NewBoard(opener, device.DefaultCommandTimeout)

	var (
		observers []publish.SessionObserver
		sinks     []publish.Sink
		store     api.SessionStore
		db        *scandb.DB
	)
	if *dbPath != "" {
		if db, err = scandb.Open(*dbPath); err != nil {
			log.Fatalf("failed to open scan database: %v", err)
		}
		defer db.Close()
		rec := scandb.NewRecorder(db)
		observers = append(observers, rec)
		sinks = append(sinks, rec)
		store = db
	}
	if *mqttBroker != "" {
		client, err := publish.DialMQTT(publish.MQTTConfig{Broker: *mqttBroker, Prefix: *mqttPrefix})
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(250)
		sink := publish.NewMQTTSink(client, *mqttPrefix)
		observers = append(observers, sink)
		sinks = append(sinks, sink)
	}

	if *webhookURL != "" {
		hook := publish.NewWebhook(*webhookURL, nil)
		defer hook.Close()
		observers = append(observers, hook)
	}

	opts := scanner.OptionsFromConfig(cfg)
	opts.OnStart, opts.OnStop = publish.SessionHooks(observers...)
	scan := scanner.New(cam, board, settings, lookups, opts)
	hub := publish.NewHub(scan.Results(), sinks...)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("result hub stopped: %v", err)
		}
	}()

	if *scanOnce != "" {
		err = runOnce(ctx, scan, *scanOnce)
		stop()
		wg.Wait()
		shutdown(scan, settings, profile)
		if err != nil {
			log.Fatalf("scan failed: %v", err)
		}
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(ctx, scan, board, hub, db, store)
	}()

	wg.Wait()
	shutdown(scan, settings, profile)
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.ScanConfig, error) {
	cfg := config.DefaultScanConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadScanConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openProfile applies a stored profile to settings. A missing file is
// created on the first save.
func openProfile(path string, settings *config.Settings) (*config.FileStore, error) {
	store, err := config.OpenFileStore(path)
	if err != nil {
		return nil, err
	}
	if err := settings.Load(store); err != nil {
		return nil, err
	}
	return store, nil
}

// loadLookups builds the world lookups from a calibration file. Without a
// file the simulated rig gets its synthetic calibration and real hardware
// gets none.
func loadLookups(path string, simulated bool) (calibration.LookupSet, int, int, error) {
	switch {
	case path != "":
		f, err := calibration.Load(path)
		if err != nil {
			return calibration.LookupSet{}, 0, 0, err
		}
		set, err := f.BuildLookupSet()
		return set, f.Width, f.Height, err
	case simulated:
		ctx, err := sim.Calibration(simWidth, simHeight)
		if err != nil {
			return calibration.LookupSet{}, 0, 0, err
		}
		l, err := calibration.BuildLookup(ctx)
		return calibration.LookupSet{Left: l, Right: l}, simWidth, simHeight, err
	}
	return calibration.LookupSet{}, 0, 0, nil
}

// runOnce performs a single scan and writes the cloud to path.
func runOnce(ctx context.Context, scan *scanner.Scanner, path string) error {
	if err := scan.Connect(); err != nil {
		return err
	}
	if err := scan.Start(); err != nil {
		return err
	}
	select {
	case <-scan.Done():
	case <-ctx.Done():
		log.Printf("interrupted; stopping scan")
		if err := scan.Stop(); err != nil {
			log.Printf("stop: %v", err)
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}
	out, err := cloud.ExportToFile(scan.Snapshot(), filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return err
	}
	log.Printf("wrote %d points to %s", scan.Snapshot().Len(), out)
	return nil
}

func serve(ctx context.Context, scan *scanner.Scanner, board *device.Board, hub *publish.Hub, db *scandb.DB, store api.SessionStore) {
	server := api.NewServer(scan, api.Options{Hub: hub, Store: store, ExportDir: *exportDir})
	mux := server.ServeMux()
	server.AttachAdminRoutes(mux)
	board.AttachAdminRoutes(mux)
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			log.Printf("scan database admin routes disabled: %v", err)
		}
	}
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, version.Get())
	})

	srv := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}
	go func() {
		log.Printf("listening on %s", *listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
}

// shutdown leaves the hardware safe and persists the live settings.
func shutdown(scan *scanner.Scanner, settings *config.Settings, profile *config.FileStore) {
	if err := scan.Disconnect(); err != nil {
		log.Printf("disconnect: %v", err)
	}
	if profile != nil {
		if err := settings.Save(profile); err != nil {
			log.Printf("failed to save profile: %v", err)
		} else {
			log.Printf("saved settings profile")
		}
	}
}
