package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/jpeg"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocv.io/x/gocv"

	"faris/internal/attendance"
	"faris/internal/auth"
	"faris/internal/cloudinary"
	"faris/internal/config"
	"faris/internal/embedding"
	"faris/internal/httpmiddleware"
	"faris/internal/liveness"
	"faris/internal/queue"
	"faris/internal/recognize"
	"faris/internal/store"
	"faris/internal/vision"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var pendingQ queue.Queue
	if cfg.PendingBackend == "memory" {
		pendingQ = queue.NewInMemory(256)
	} else {
		pendingQ = queue.NewRedisQueue(redisClient.Client, "faris:pending-edits")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, attendance.Rules{
		EarlyArrivalMargin:      cfg.EarlyArrivalMargin,
		LateThreshold:           cfg.LateThreshold,
		EarlyDepartureThreshold: cfg.EarlyDepartureThreshold,
		SecondCheckinWindow:     cfg.SecondCheckinWindow,
	})
	gallery := embedding.NewGallery(db.Client)
	if err := gallery.Reload(context.Background()); err != nil {
		log.Printf("warning: initial gallery load failed: %v", err)
	}

	// The face pipeline needs the cascade and model files; when they are
	// missing the attendance endpoints still work and the recognition
	// endpoints answer 503.
	pipeline := buildPipeline(cfg, gallery, repo)

	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured; source images will not be stored")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	// Authenticated requests key their rate bucket on station identity, not
	// the shared campus NAT address; registration falls back to per-IP.
	limiter := httpmiddleware.NewStationLimiter(cfg.RateLimitPerMin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":   "ok",
			"redis":    redisHealthy,
			"db":       dbHealthy,
			"pipeline": pipeline != nil,
			"gallery":  gallery.Size(),
		})
	})

	r.POST("/v1/stations/register", limiter.Middleware(), func(c *gin.Context) {
		var req struct {
			StationID string `json:"station_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := repo.UpsertStation(c.Request.Context(), req.StationID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(req.StationID, "station", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/stations/refresh", limiter.Middleware(), func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, err := auth.Parse(req.RefreshToken, cfg.JWTSigningKey, cfg.JWTIssuer)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		tokens, err := auth.Issue(claims.Subject, claims.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StationAuth(cfg.JWTSigningKey, cfg.JWTIssuer), limiter.Middleware())

	// Recognize faces on one frame. Liveness history is scoped to the
	// calling station, so frames from different stations never mix.
	// Omitting course_id runs identification only, without the enrollment
	// check.
	authGroup.POST("/recognize", func(c *gin.Context) {
		if pipeline == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face pipeline unavailable"})
			return
		}
		var req recognizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frame, err := decodeImage(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer frame.Close()

		results, err := pipeline.ProcessFrame(c.Request.Context(), frame, req.CourseID, stationKey(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	// End the calling station's capture session: the next frame starts
	// with fresh liveness history.
	authGroup.POST("/sessions/reset", func(c *gin.Context) {
		if pipeline == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face pipeline unavailable"})
			return
		}
		pipeline.ResetSession(stationKey(c))
		c.JSON(http.StatusOK, gin.H{"reset": true})
	})

	// Apply the check-in state machine for a recognized student.
	authGroup.POST("/attendance/auto", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			CourseID  int    `json:"course_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := svc.AutoMark(c.Request.Context(), req.StudentID, req.CourseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	})

	// Manual override: immediate direct write.
	authGroup.POST("/attendance/mark", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			CourseID  int    `json:"course_id" binding:"required"`
			Date      string `json:"date" binding:"required"`
			Time      string `json:"time"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Time == "" {
			req.Time = time.Now().Format("15:04:05")
		}
		out, err := svc.Mark(c.Request.Context(), req.StudentID, req.CourseID, req.Date, req.Time, attendance.Status(req.Status))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	})

	// Debounced edit path: queue the change for the worker's drain tick.
	authGroup.POST("/attendance/edits", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			CourseID  int    `json:"course_id" binding:"required"`
			Date      string `json:"date" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !attendance.Status(req.Status).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		edit := queue.PendingEdit{
			StudentID: req.StudentID,
			CourseID:  req.CourseID,
			Date:      req.Date,
			Time:      time.Now().Format("15:04:05"),
			Status:    req.Status,
		}
		if err := pendingQ.Publish(c.Request.Context(), edit); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
	})

	authGroup.POST("/lectures/cancel", func(c *gin.Context) {
		var req struct {
			CourseID int    `json:"course_id" binding:"required"`
			Date     string `json:"date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.CancelLecture(c.Request.Context(), req.CourseID, req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	})

	authGroup.POST("/lectures/end-early", func(c *gin.Context) {
		var req struct {
			CourseID int    `json:"course_id" binding:"required"`
			Date     string `json:"date" binding:"required"`
			EndTime  string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.EndLectureEarly(c.Request.Context(), req.CourseID, req.Date, req.EndTime); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"end_time": req.EndTime})
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		courseID, err := strconv.Atoi(c.Query("course_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "course_id required"})
			return
		}
		records, err := svc.Records(c.Request.Context(), courseID, c.Query("date"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/courses/:id/summary", func(c *gin.Context) {
		courseID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad course id"})
			return
		}
		summary, err := svc.CourseAttendance(c.Request.Context(), courseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	authGroup.GET("/courses/:id/students/:sid/stats", func(c *gin.Context) {
		courseID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad course id"})
			return
		}
		stats, err := svc.StudentAttendance(c.Request.Context(), c.Param("sid"), courseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	// Register (or replace) a student's face. The gallery keeps serving the
	// old embedding until /gallery/reload is called.
	authGroup.POST("/students/:id/face", func(c *gin.Context) {
		if pipeline == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "face pipeline unavailable"})
			return
		}
		var req struct {
			Image string `json:"image" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		img, err := decodeImage(req.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer img.Close()

		vec, err := pipeline.EncodeFace(img)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if vec == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected"})
			return
		}

		studentID := c.Param("id")
		sourceURL := ""
		if cdnClient != nil {
			raw, derr := rawImageBytes(req.Image)
			if derr == nil {
				if uploaded, uerr := cdnClient.UploadFaceImage(raw, studentID); uerr == nil {
					sourceURL = uploaded.SecureURL
				} else {
					log.Printf("cloudinary upload failed for %s: %v", studentID, uerr)
				}
			}
		}
		if err := gallery.SaveEmbedding(c.Request.Context(), studentID, vec, sourceURL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"student_id":    studentID,
			"embedding":     base64.StdEncoding.EncodeToString(vec.MarshalBlob()),
			"source_image":  sourceURL,
			"gallery_stale": true,
		})
	})

	authGroup.POST("/gallery/reload", func(c *gin.Context) {
		if err := gallery.Reload(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loaded": gallery.Size()})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// buildPipeline assembles the face pipeline, or returns nil when the model
// files are not available on this host.
func buildPipeline(cfg config.App, gallery *embedding.Gallery, repo *attendance.Repository) *recognize.Pipeline {
	locator, err := vision.NewLocator(cfg.CascadePath, vision.DefaultLocatorConfig())
	if err != nil {
		log.Printf("warning: %v; recognition endpoints disabled", err)
		return nil
	}
	encoder, err := embedding.NewEncoder(cfg.ModelPath)
	if err != nil {
		log.Printf("warning: %v; recognition endpoints disabled", err)
		locator.Close()
		return nil
	}
	liveCfg := liveness.Config{
		RequiredBlinks:    cfg.RequiredBlinks,
		RequiredMovements: cfg.RequiredMovements,
		TextureThreshold:  cfg.TextureThreshold,
		WindowSize:        5,
	}
	return recognize.NewPipeline(locator, liveCfg, encoder, gallery, repo, cfg.MatchTolerance)
}

// recognizeRequest is the /v1/recognize payload. course_id is optional;
// zero means identification without an enrollment check.
type recognizeRequest struct {
	CourseID int    `json:"course_id"`
	Image    string `json:"image" binding:"required"`
}

// stationKey scopes liveness sessions to the authenticated station.
func stationKey(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(auth.Claims); ok {
			return claims.Subject
		}
	}
	return c.ClientIP()
}

// decodeImage turns a base64 data URL (or raw base64) into a BGR Mat,
// honoring EXIF orientation and bounding very large uploads.
func decodeImage(data string) (gocv.Mat, error) {
	raw, err := rawImageBytes(data)
	if err != nil {
		return gocv.Mat{}, err
	}
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return gocv.Mat{}, err
	}
	if b := img.Bounds(); b.Dx() > 1920 || b.Dy() > 1920 {
		img = imaging.Fit(img, 1920, 1920, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return gocv.Mat{}, err
	}
	return gocv.IMDecode(buf.Bytes(), gocv.IMReadColor)
}

func rawImageBytes(data string) ([]byte, error) {
	if idx := strings.Index(data, ";base64,"); idx >= 0 {
		data = data[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(data)
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
