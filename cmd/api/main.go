package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/auth"
	"checkin/internal/authz"
	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/httpmiddleware"
	"checkin/internal/logging"
	"checkin/internal/occurrence"
	"checkin/internal/person"
	"checkin/internal/queue"
	"checkin/internal/securitycode"
	"checkin/internal/store"
	"checkin/internal/timing"
)

func main() {
	cfg := config.Load()
	logging.Setup()

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

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:events")
	}

	authzClient := authz.New(cfg.AuthzServiceURL, cfg.AuthzSkip)
	if cfg.AuthzSkip {
		slog.Warn("authorization checks skipped (AUTHZ_SKIP=true); dev mode only")
	}

	occStore := occurrence.NewStore(occurrence.NewRepository(db.Client))
	codeGen := securitycode.NewGenerator(securitycode.NewRepository(db.Client), cfg.CodeLength, cfg.CodeBackoffBase, cfg.CodeBackoffCap)
	loader := person.NewLoader(person.NewRepository(db.Client), person.NewRedisActivity(redisClient.Client), slog.Default())
	checkinRepo := checkin.NewRepository(db.Client)
	authRepo := auth.NewRepository(db.Client)

	coordinator := checkin.NewCoordinator(authzClient, occStore, codeGen, loader, checkinRepo, q, cfg.CodeMaxAttempts, slog.Default())
	searcher := checkin.NewSearcher(checkinRepo, loader, timing.NewEqualizer(cfg.SearchFloor))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		authzHealthy := authzClient.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy || !authzHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "authz": authzHealthy})
	})

	r.POST("/v1/kiosks/register", func(c *gin.Context) {
		var req struct {
			KioskID string `json:"kiosk_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := authRepo.UpsertKiosk(c.Request.Context(), req.KioskID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registration failed, please try again"})
			return
		}

		tokens, err := auth.Issue(req.KioskID, "kiosk", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		if err := authRepo.SaveRefreshToken(c.Request.Context(), req.KioskID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
			slog.Warn("refresh token save failed", "kiosk_id", req.KioskID, "error", err)
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.KioskAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/checkins", func(c *gin.Context) {
		var body checkinBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req, err := body.toRequest()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := coordinator.CheckIn(c.Request.Context(), req)
		if err != nil {
			writeCheckinError(c, err)
			return
		}
		c.JSON(http.StatusCreated, resultJSON(res))
	})

	authGroup.POST("/checkins/batch", func(c *gin.Context) {
		var body struct {
			Checkins []checkinBody `json:"checkins" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reqs := make([]checkin.Request, len(body.Checkins))
		for i, cb := range body.Checkins {
			req, err := cb.toRequest()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			reqs[i] = req
		}

		items := coordinator.BatchCheckIn(c.Request.Context(), reqs)
		out := make([]gin.H, len(items))
		for i, item := range items {
			if item.Err != nil {
				out[i] = gin.H{"ok": false, "error": publicError(item.Err)}
				continue
			}
			out[i] = gin.H{"ok": true, "result": resultJSON(item.Result)}
		}
		c.JSON(http.StatusOK, gin.H{"results": out})
	})

	authGroup.GET("/checkins/search", func(c *gin.Context) {
		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code required"})
			return
		}
		snap, err := searcher.SearchByCode(c.Request.Context(), code)
		if err != nil {
			if errors.Is(err, checkin.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search unavailable, please try again"})
			return
		}
		c.JSON(http.StatusOK, personJSON(snap))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}

	slog.Info("server exited")
	return nil
}

type checkinBody struct {
	PersonID   string  `json:"person_id" binding:"required"`
	LocationID string  `json:"location_id" binding:"required"`
	GroupID    string  `json:"group_id" binding:"required"`
	ScheduleID *string `json:"schedule_id"`
	Date       string  `json:"date"`
}

func (b checkinBody) toRequest() (checkin.Request, error) {
	date := time.Now().UTC()
	if b.Date != "" {
		parsed, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			return checkin.Request{}, errors.New("date must be YYYY-MM-DD")
		}
		date = parsed
	}
	return checkin.Request{
		PersonID:   b.PersonID,
		LocationID: b.LocationID,
		GroupID:    b.GroupID,
		ScheduleID: b.ScheduleID,
		Date:       date,
	}, nil
}

func resultJSON(res checkin.Result) gin.H {
	occ := gin.H{
		"id":          res.Occurrence.ID,
		"group_id":    res.Occurrence.GroupID,
		"date":        res.Occurrence.Date.Format("2006-01-02"),
		"sunday_date": res.Occurrence.SundayDate.Format("2006-01-02"),
	}
	if res.Occurrence.ScheduleID != nil {
		occ["schedule_id"] = *res.Occurrence.ScheduleID
	}
	return gin.H{
		"attendance_id": res.AttendanceID,
		"occurrence":    occ,
		"code":          res.Code.Code,
		"person":        personJSON(res.Person),
	}
}

func personJSON(p person.PersonWithRelations) gin.H {
	out := gin.H{
		"id":              p.ID,
		"first_name":      p.FirstName,
		"last_name":       p.LastName,
		"alias_id":        p.AliasID,
		"recently_active": p.RecentlyActive,
	}
	if p.NickName != nil {
		out["nick_name"] = *p.NickName
	}
	return out
}

// writeCheckinError maps core errors onto the narrow set of responses
// a client may see. Denied, not-found and invariant failures all look
// the same from outside; only retryability is exposed.
func writeCheckinError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, authz.ErrDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, securitycode.ErrExhausted), store.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to complete check-in, please try again"})
	default:
		slog.Error("check-in failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to complete check-in, please try again"})
	}
}

// publicError is the per-item analogue of writeCheckinError for batch
// responses.
func publicError(err error) string {
	switch {
	case errors.Is(err, authz.ErrDenied):
		return "not authorized"
	default:
		return "unable to complete check-in, please try again"
	}
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
