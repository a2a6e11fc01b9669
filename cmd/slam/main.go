// Command slam reconstructs one or more scenes from RGB-D sequences and
// serves their live status over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/slamframe/internal/config"
	"github.com/banshee-data/slamframe/internal/monitoring"
	"github.com/banshee-data/slamframe/internal/slam"
	"github.com/banshee-data/slamframe/internal/slam/monitor"
	"github.com/banshee-data/slamframe/internal/slam/posedb"
	"github.com/banshee-data/slamframe/internal/slam/report"
	"github.com/banshee-data/slamframe/internal/slam/session"
	"github.com/banshee-data/slamframe/internal/slam/source"
	"github.com/banshee-data/slamframe/internal/version"
)

var (
	configPath    = flag.String("config", "", "SLAM config JSON (defaults apply when empty)")
	dbPath        = flag.String("db", "", "Pose and frame log database; in-memory poses when empty")
	snapshotDir   = flag.String("snapshots", "", "Directory for relocaliser snapshots (requires -db)")
	listen        = flag.String("listen", "", "HTTP listen address, e.g. :8090")
	grpcListen    = flag.String("grpc-listen", "", "gRPC listen address, e.g. :50061")
	manifestPath  = flag.String("scenes", "", "YAML scene manifest")
	synthetic     = flag.Int("synthetic", 0, "Add a synthetic scene with this many frames")
	feedPath      = flag.String("feed", "", "Pose feed file for -scene sequences")
	relocGrid     = flag.String("reloc-grid", "", "Relocaliser grid WxH (default from the relocaliser)")
	frameInterval = flag.Duration("frame-interval", 0, "Minimum time between frames of a scene")
	maxConcurrent = flag.Int("max-concurrent", 0, "Scenes processed at once (0 = all)")
	healthEvery   = flag.Duration("health-interval", time.Second, "How often gRPC health is re-evaluated")
	plotsDir      = flag.String("plots", "", "Write trajectory plots and a timeline here on exit")
	maxReports    = flag.Int("max-reports", 10000, "Frame reports kept per scene for plots (0 = unbounded)")
	exportDir     = flag.String("export-synthetic", "", "Write the -synthetic sequence to this directory and exit")
	exitWhenDone  = flag.Bool("exit", false, "Exit once every scene is exhausted even when serving")
	diagLogs      = flag.Bool("diag", false, "Enable diagnostic logging")
	traceLogs     = flag.Bool("trace", false, "Enable per-frame trace logging")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
	scenes        sceneFlags
)

func init() {
	flag.Var(&scenes, "scene", "Scene as id=dir[,dir...]; repeatable")
}

func setupLogging(diag, trace bool) {
	ops := io.Writer(monitoring.Writer{})
	var diagW, traceW io.Writer
	if diag {
		diagW = ops
	}
	if trace {
		traceW = ops
	}
	slam.SetLogWriters(ops, diagW, traceW)
	source.SetLogWriters(ops, diagW, traceW)
	session.SetLogWriters(ops, diagW, traceW)
	monitor.SetLogWriters(ops, diagW, traceW)
}

func loadSettings(path string) (*config.SLAMConfig, error) {
	if path == "" {
		return config.DefaultSLAMConfig(), nil
	}
	return config.LoadSLAMConfig(path)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	setupLogging(*diagLogs, *traceLogs)

	if *exportDir != "" {
		if *synthetic <= 0 {
			log.Fatal("-export-synthetic needs -synthetic N")
		}
		feed, err := source.ExportSynthetic(*exportDir, source.DefaultSyntheticConfig(*synthetic))
		if err != nil {
			log.Fatalf("export synthetic sequence: %v", err)
		}
		log.Printf("wrote %d frames and %s", *synthetic, feed)
		return
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	settings, err := loadSettings(*configPath)
	if err != nil {
		return err
	}
	gridW, gridH, err := parseGrid(*relocGrid)
	if err != nil {
		return err
	}
	manifest, err := sceneSet(*manifestPath, scenes, *synthetic, *feedPath)
	if err != nil {
		return err
	}
	specs, err := buildSpecs(manifest, gridW, gridH)
	if err != nil {
		return err
	}

	var db *posedb.DB
	if *dbPath != "" {
		db, err = posedb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	recorder := report.NewRecorder(*maxReports)
	manager := session.NewManager(settings, session.Options{
		DB:            db,
		SnapshotDir:   *snapshotDir,
		FrameInterval: *frameInterval,
		MaxConcurrent: *maxConcurrent,
		Observers:     []slam.FrameObserver{recorder.Observe},
	})
	for _, spec := range specs {
		if _, err := manager.Add(spec); err != nil {
			return err
		}
	}
	mon := monitor.NewServer(manager, monitor.Options{Recorder: recorder, DB: db})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	serving := *listen != "" || *grpcListen != ""

	// Servers run until serveCtx ends; sessions may finish earlier.
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	var wg sync.WaitGroup
	if *listen != "" {
		mux := mon.ServeMux()
		if err := mon.AttachAdminRoutes(mux); err != nil {
			return err
		}
		server := &http.Server{Addr: *listen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(serveCtx, server)
		}()
	}
	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			return fmt.Errorf("listen gRPC: %w", err)
		}
		g := mon.NewGRPCServer()
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveGRPC(serveCtx, g, lis)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			mon.Watch(serveCtx, *healthEvery)
		}()
	}

	runErr := manager.RunAll(ctx)
	mon.Refresh()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("sessions stopped: %v", runErr)
	}
	for _, id := range recorder.Scenes() {
		s := recorder.Summarise(id)
		log.Printf("[%s] frames=%d fused=%d poor=%d failed=%d relocalisations=%d keyframes=%d",
			id, s.Frames, s.Fused, s.Poor, s.Failed, s.Relocalisations, s.Keyframes)
	}
	if *plotsDir != "" {
		if err := writePlots(recorder, *plotsDir); err != nil {
			log.Printf("write plots: %v", err)
		}
	}

	if serving && !*exitWhenDone && ctx.Err() == nil {
		log.Printf("all scenes finished; serving until interrupted")
		<-ctx.Done()
	}
	mon.Shutdown()
	cancelServe()
	wg.Wait()
	log.Printf("Graceful shutdown complete")

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func writePlots(r *report.Recorder, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files, err := r.SaveTrajectories(dir)
	if err != nil {
		return err
	}
	timeline, err := r.SaveTimeline(dir)
	if err != nil {
		return err
	}
	log.Printf("wrote %d trajectory plots and %s", len(files), filepath.Base(timeline))
	return nil
}

func serveHTTP(ctx context.Context, server *http.Server) {
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v; forcing close", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

func serveGRPC(ctx context.Context, g *grpc.Server, lis net.Listener) {
	go func() {
		log.Printf("gRPC server listening on %s", lis.Addr())
		if err := g.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	<-ctx.Done()
	// Health watchers hold streams open, so graceful stop gets a deadline.
	stopped := make(chan struct{})
	go func() {
		g.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		log.Printf("gRPC graceful stop timed out; forcing stop")
		g.Stop()
	}
	log.Printf("gRPC server routine stopped")
}
