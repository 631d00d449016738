// Command tlgrab grabs synthetic video into a frame timeline, tracks a set of
// tools into a matrix timeline and pairs both on a common timestamp.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alesr/tidslinje"
	"github.com/alesr/tidslinje/exporter"
	"github.com/alesr/tidslinje/grabber"
	"github.com/alesr/tidslinje/internal/config"
	"github.com/alesr/tidslinje/snapshot"
	"github.com/alesr/tidslinje/synchronizer"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("tlgrab: exiting", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, cfg.Validate()
	}
	return config.Load(path)
}

// app holds the wired components the command loop operates on.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *tidslinje.Bus
	grabber *grabber.Grabber
	tracker *tidslinje.MatrixTimeline
	sync    *synchronizer.Synchronizer
	export  *exporter.Exporter
	exportC chan *snapshot.Snapshot

	lastSync atomic.Pointer[synchronizer.Result]
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := &app{cfg: cfg, logger: logger}
	a.bus = tidslinje.NewBus(tidslinje.WithBusLogger(logger))
	defer a.bus.Close()

	if err := a.wireGrabber(); err != nil {
		return err
	}
	if err := a.grabber.Start(ctx); err != nil {
		return fmt.Errorf("start grabber: %w", err)
	}
	defer a.grabber.Stop()

	trk, err := a.wireTracker()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		trk.run(ctx)
	}()

	results, err := a.wireSynchronizer(ctx, &wg)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-results:
				a.lastSync.Store(&res)
			}
		}
	}()

	if err := a.wireExporter(ctx, &wg); err != nil {
		return err
	}

	printBanner(cfg)

	// Create a mutex for console output
	var outputMutex sync.Mutex
	resultChan := make(chan string, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case result := <-resultChan:
				outputMutex.Lock()
				fmt.Println(result)
				fmt.Print("> ")
				outputMutex.Unlock()
			}
		}
	}()

	go a.processCommands(ctx, cancel, resultChan)

	fmt.Print("> ")
	<-ctx.Done()
	fmt.Println("\nShutting down...")
	return nil
}

func (a *app) wireGrabber() error {
	g := a.cfg.Grabber
	format, err := tidslinje.ParsePixelFormat(g.Format)
	if err != nil {
		return err
	}
	policy, err := config.ParseExhaustionPolicy(g.ExhaustionPolicy)
	if err != nil {
		return err
	}

	opts := grabber.DefaultOptions()
	opts.Device = g.Device
	opts.Width = g.Width
	opts.Height = g.Height
	opts.Format = format
	opts.FPS = g.FPS
	opts.Capacity = g.Capacity
	opts.Policy = policy
	opts.JPEGQuality = g.JPEGQuality
	opts.OutputDir = g.OutputDir

	a.grabber = grabber.New(a.logger, tidslinje.WithNotifier(a.bus))
	if err := a.grabber.Configure(opts); err != nil {
		return err
	}
	return nil
}

func (a *app) wireTracker() (*tracker, error) {
	tc := a.cfg.Tracker
	policy, err := config.ParseExhaustionPolicy(tc.ExhaustionPolicy)
	if err != nil {
		return nil, err
	}

	a.tracker, err = tidslinje.NewMatrixTimeline(len(tc.Tools),
		tidslinje.WithCapacity(tc.Capacity),
		tidslinje.WithExhaustionPolicy(policy),
		tidslinje.WithNotifier(a.bus),
		tidslinje.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create tracker timeline: %w", err)
	}
	return newTracker(a.logger, a.tracker, tc.Tools, tc.RateHz)
}

func (a *app) wireSynchronizer(ctx context.Context, wg *sync.WaitGroup) (<-chan synchronizer.Result, error) {
	tolerance := time.Duration(a.cfg.Synchronizer.ToleranceMs * float64(time.Millisecond))
	a.sync = synchronizer.New(tolerance, synchronizer.WithLogger(a.logger))
	if err := a.sync.Add("video", a.grabber.Frames()); err != nil {
		return nil, err
	}
	if err := a.sync.Add("tracker", a.tracker); err != nil {
		return nil, err
	}

	events := make(chan tidslinje.Event, 64)
	if err := a.bus.Subscribe("synchronizer", events, tidslinje.DropOld); err != nil {
		return nil, err
	}

	results := make(chan synchronizer.Result, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.sync.Run(ctx, events, results); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("synchronizer: stopped", "error", err)
		}
	}()
	return results, nil
}

func (a *app) wireExporter(ctx context.Context, wg *sync.WaitGroup) error {
	ec := a.cfg.Exporter
	if ec.BaseURL == "" {
		return nil
	}

	a.exportC = make(chan *snapshot.Snapshot, 4)
	var err error
	a.export, err = exporter.NewExporter(ec.BaseURL, &http.Client{Timeout: ec.Timeout}, a.exportC,
		exporter.WithCompression(ec.Compression),
		exporter.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.export.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("exporter: stopped", "error", err)
		}
	}()
	return nil
}

func printBanner(cfg *config.Config) {
	fmt.Println("tidslinje grabber")
	fmt.Println("=================")
	fmt.Printf("Grabbing %dx%d %s at %d FPS into a %d frame timeline.\n",
		cfg.Grabber.Width, cfg.Grabber.Height, cfg.Grabber.Format, cfg.Grabber.FPS, cfg.Grabber.Capacity)
	fmt.Printf("Tracking %s at %d Hz.\n", strings.Join(cfg.Tracker.Tools, ", "), cfg.Tracker.RateHz)
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  save [name]                 - Save the newest frame as a JPEG")
	fmt.Println("  sequence [name]             - Save every buffered frame as a JPEG sequence")
	fmt.Println("  snapshot [frames|tracker] [path] - Write a timeline snapshot (and export it if enabled)")
	fmt.Println("  sync                        - Show the last synchronization")
	fmt.Println("  stats                       - Show statistics")
	fmt.Println("  quit                        - Exit the application")
	fmt.Println("")
}

// processCommands reads user input and executes commands
func (a *app) processCommands(ctx context.Context, quit context.CancelFunc, resultChan chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			resultChan <- ""
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "save":
			name := argOr(parts, 1, "still")
			path, err := a.grabber.SaveStill(name)
			if err != nil {
				resultChan <- fmt.Sprintf("Error saving still: %v", err)
				continue
			}
			resultChan <- fmt.Sprintf("Still saved to: %s", path)

		case "sequence":
			name := argOr(parts, 1, "sequence")
			resultChan <- fmt.Sprintf("Saving sequence '%s'...", name)
			dir, video, err := a.grabber.SaveSequence(name)
			switch {
			case err != nil:
				resultChan <- fmt.Sprintf("Error saving sequence: %v", err)
			case video != "":
				resultChan <- fmt.Sprintf("Sequence saved to: %s\nVideo created: %s", dir, video)
			default:
				resultChan <- fmt.Sprintf("Sequence saved to: %s", dir)
			}

		case "snapshot":
			resultChan <- a.snapshot(argOr(parts, 1, "frames"), argOr(parts, 2, ""))

		case "sync":
			resultChan <- a.syncReport()

		case "stats":
			resultChan <- a.statsReport()

		case "quit", "exit":
			resultChan <- "Exiting..."
			quit()
			return

		default:
			resultChan <- fmt.Sprintf("Unknown command: %s\nAvailable commands: save [name], sequence [name], snapshot [frames|tracker] [path], sync, stats, quit", parts[0])
		}
	}
}

func argOr(parts []string, i int, fallback string) string {
	if len(parts) > i {
		return parts[i]
	}
	return fallback
}

func (a *app) snapshot(timeline, path string) string {
	var src snapshot.Source
	switch timeline {
	case "frames":
		src = a.grabber.Frames()
	case "tracker":
		src = a.tracker
	default:
		return fmt.Sprintf("Unknown timeline: %s (frames or tracker)", timeline)
	}

	s, err := snapshot.Capture(src)
	if err != nil {
		return fmt.Sprintf("Error capturing snapshot: %v", err)
	}
	blob, err := snapshot.Encode(s, snapshot.WithCompression(a.cfg.Snapshot.Compression))
	if err != nil {
		return fmt.Sprintf("Error encoding snapshot: %v", err)
	}

	if path == "" {
		path = filepath.Join(a.cfg.Snapshot.OutputDir, fmt.Sprintf("%s_%s.tlsn", timeline, s.ID))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Sprintf("Error creating output directory: %v", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Sprintf("Error writing snapshot: %v", err)
	}

	msg := fmt.Sprintf("Snapshot of %d %s entries written to %s (%d bytes, %s)",
		s.Len(), timeline, path, len(blob), a.cfg.Snapshot.Compression)
	if a.exportC != nil {
		select {
		case a.exportC <- s:
			msg += "\nQueued for export."
		default:
			msg += "\nExport queue full, snapshot not exported."
		}
	}
	return msg
}

func (a *app) syncReport() string {
	res := a.lastSync.Load()
	if res == nil {
		return "No synchronization yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last synchronization at %s\n", tidslinje.Time(res.Timestamp).Format("15:04:05.000"))
	for _, m := range res.Matched {
		fmt.Fprintf(&b, "  %-10s %+.2f ms (%d bytes)\n", m.Source, m.Delta, len(m.Payload))
	}
	for _, name := range res.Unmatched {
		fmt.Fprintf(&b, "  %-10s unmatched\n", name)
	}
	return b.String()
}

func (a *app) statsReport() string {
	var b strings.Builder

	if gs, err := a.grabber.Stats(); err == nil {
		b.WriteString("Grabber:\n")
		fmt.Fprintf(&b, "  Device:           %s\n", gs.Device)
		fmt.Fprintf(&b, "  Frames grabbed:   %d\n", gs.Grabbed)
		fmt.Fprintf(&b, "  Frames dropped:   %d\n", gs.Dropped)
		fmt.Fprintf(&b, "  Frames failed:    %d\n", gs.Failed)
		fmt.Fprintf(&b, "  Average FPS:      %.1f\n", gs.FPS)
		fmt.Fprintf(&b, "  Uptime:           %.1f seconds\n", gs.Uptime.Seconds())
		writeTimeline(&b, "Frame timeline", gs.Timeline)
	}
	writeTimeline(&b, "Tracker timeline", a.tracker.Metrics())

	ss := a.sync.Stats()
	b.WriteString("Synchronizer:\n")
	fmt.Fprintf(&b, "  Synced:           %d\n", ss.Synced)
	fmt.Fprintf(&b, "  Skipped:          %d\n", ss.Skipped)
	fmt.Fprintf(&b, "  Results dropped:  %d\n", ss.Dropped)

	bs := a.bus.Stats()
	b.WriteString("Bus:\n")
	fmt.Fprintf(&b, "  Events published: %d\n", bs.Published)
	for id, s := range bs.Subscribers {
		fmt.Fprintf(&b, "  %-16s  sent %d, dropped %d\n", id+":", s.Sent, s.Dropped)
	}

	if a.export != nil {
		es := a.export.Stats()
		b.WriteString("Exporter:\n")
		fmt.Fprintf(&b, "  Sent:             %d (%d bytes)\n", es.Sent, es.Bytes)
		fmt.Fprintf(&b, "  Failed:           %d\n", es.Failed)
	}
	return b.String()
}

func writeTimeline(b *strings.Builder, title string, m tidslinje.Metrics) {
	fmt.Fprintf(b, "%s:\n", title)
	fmt.Fprintf(b, "  Utilization:      %.1f%% (%d live, %d staged, %d capacity)\n",
		m.Utilization*100, m.Live, m.Staged, m.Capacity)
	fmt.Fprintf(b, "  Pushed/popped:    %d/%d\n", m.Pushed, m.Popped)
	fmt.Fprintf(b, "  Replaced:         %d\n", m.Replaced)
	fmt.Fprintf(b, "  Evicted:          %d\n", m.Evicted)
	fmt.Fprintf(b, "  Create dropped:   %d\n", m.Dropped)
	if !m.LastPush.IsZero() {
		fmt.Fprintf(b, "  Last push:        %s (%.3f seconds ago)\n",
			m.LastPush.Format("15:04:05.000"), time.Since(m.LastPush).Seconds())
	}
}
