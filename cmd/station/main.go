package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"faris/internal/attendance"
	"faris/internal/config"
	"faris/internal/embedding"
	"faris/internal/liveness"
	"faris/internal/recognize"
	"faris/internal/store"
	"faris/internal/vision"
)

// Station runs the camera capture loop at a classroom door: detect faces,
// gate on liveness, match against the gallery and check the recognized
// student in for the configured course.
func main() {
	courseID := flag.Int("course", 0, "course ID this station marks attendance for")
	preview := flag.Bool("preview", false, "show an annotated preview window")
	flag.Parse()
	if *courseID == 0 {
		log.Fatal("usage: station -course <id> [-preview]")
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, attendance.Rules{
		EarlyArrivalMargin:      cfg.EarlyArrivalMargin,
		LateThreshold:           cfg.LateThreshold,
		EarlyDepartureThreshold: cfg.EarlyDepartureThreshold,
		SecondCheckinWindow:     cfg.SecondCheckinWindow,
	})

	gallery := embedding.NewGallery(db.Client)
	if err := gallery.Reload(ctx); err != nil {
		log.Fatalf("gallery load failed: %v", err)
	}
	log.Printf("gallery loaded: %d enrolled faces", gallery.Size())

	locator, err := vision.NewLocator(cfg.CascadePath, vision.DefaultLocatorConfig())
	if err != nil {
		log.Fatalf("face locator: %v", err)
	}
	defer locator.Close()
	encoder, err := embedding.NewEncoder(cfg.ModelPath)
	if err != nil {
		log.Fatalf("face encoder: %v", err)
	}
	defer encoder.Close()
	liveCfg := liveness.Config{
		RequiredBlinks:    cfg.RequiredBlinks,
		RequiredMovements: cfg.RequiredMovements,
		TextureThreshold:  cfg.TextureThreshold,
		WindowSize:        5,
	}
	pipeline := recognize.NewPipeline(locator, liveCfg, encoder, gallery, repo, cfg.MatchTolerance)

	source, err := vision.OpenCamera(cfg.CameraID)
	if err != nil {
		log.Fatalf("camera: %v", err)
	}
	defer source.Close()

	var window *gocv.Window
	if *preview {
		window = gocv.NewWindow("faris station")
		defer window.Close()
	}

	log.Printf("station started: course %d, camera %d, tolerance %.2f", *courseID, cfg.CameraID, cfg.MatchTolerance)
	run(ctx, source, pipeline, svc, window, *courseID, cfg.FrameInterval, cfg.MatchTolerance)
	log.Println("station stopped")
}

// run processes frames on the tick until the context is cancelled or the
// source ends. A student is marked at most once per session; the in-flight
// frame always completes before shutdown.
func run(ctx context.Context, source vision.FrameSource, pipeline *recognize.Pipeline, svc *attendance.Service, window *gocv.Window, courseID int, interval time.Duration, tolerance float64) {
	marked := make(map[string]bool)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, ok := source.Next()
		if !ok {
			return
		}

		results, err := pipeline.ProcessFrame(ctx, frame, courseID, "door")
		if err != nil {
			log.Printf("frame processing failed: %v", err)
			frame.Close()
			continue
		}

		for _, res := range results {
			if res.Recognized == nil || marked[res.Recognized.StudentID] {
				continue
			}
			outcome, err := svc.AutoMark(ctx, res.Recognized.StudentID, courseID)
			if err != nil {
				log.Printf("mark %s failed: %v", res.Recognized.StudentID, err)
				continue
			}
			marked[res.Recognized.StudentID] = true
			if outcome.OK {
				log.Printf("%s (%s): %s", res.Recognized.Name, res.Recognized.StudentID, outcome.Status)
			} else {
				log.Printf("%s (%s): not marked, %s", res.Recognized.Name, res.Recognized.StudentID, outcome.Message)
			}
		}

		if window != nil {
			recognize.Draw(&frame, results, tolerance)
			window.IMShow(frame)
			window.WaitKey(1)
		}
		frame.Close()
	}
}
