package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"startrak/internal/activity"
	"startrak/internal/attendance"
	"startrak/internal/audit"
	"startrak/internal/auth"
	"startrak/internal/config"
	"startrak/internal/httpmiddleware"
	"startrak/internal/qr"
	"startrak/internal/queue"
	"startrak/internal/report"
	"startrak/internal/store"
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
	ctx := context.Background()

	var (
		att        attendance.Store
		staffStore *auth.StaffStore
		auditLog   *audit.Log
		db         *store.DB
	)
	if cfg.StoreBackend == "memory" {
		att = attendance.NewMemStore()
		log.Println("using in-memory store (dev mode)")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		att = attendance.NewRepository(db.Client)
		staffStore = auth.NewStaffStore(db.Client)
		auditLog = audit.NewLog(db.Client)
		if err := staffStore.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			log.Printf("warning: admin bootstrap failed: %v", err)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	feed := activity.NewFeed(redisClient.Client, "startrak:activity", cfg.NotifyChannel, cfg.ActivityLimit)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "startrak:scans")
	}

	svc := attendance.NewService(att)

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
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/staff/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		role := "admin"
		if staffStore != nil {
			st, err := staffStore.Authenticate(c.Request.Context(), req.Email, req.Password)
			if errors.Is(err, auth.ErrBadCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
				return
			}
			role = st.Role
		} else if req.Email != cfg.AdminEmail || req.Password != cfg.AdminPassword {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
			return
		}

		tokens, err := auth.Issue(req.Email, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"role":          role,
		})
	})

	v1 := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	publishScan := func(c *gin.Context, msg queue.Message) {
		msg.At = time.Now().UTC()
		if err := q.Publish(c.Request.Context(), msg); err != nil {
			log.Printf("queue publish failed: %v", err)
		}
	}

	v1.POST("/checkins", func(c *gin.Context) {
		var req struct {
			QRCode string `json:"qr_code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res := svc.ProcessCheckIn(c.Request.Context(), req.QRCode)
		publishScan(c, queue.Message{
			Type:        "checkin",
			Outcome:     string(res.Status),
			RecordID:    res.RecordID,
			SessionID:   res.SessionID,
			StudentName: res.StudentName,
			StudentCode: res.StudentCode,
			Detail:      res.Message,
		})
		c.JSON(scanStatusCode(res.Status), res)
	})

	v1.POST("/checkouts", func(c *gin.Context) {
		var req struct {
			ParentQRCode string `json:"parent_qr_code" binding:"required"`
			StudentID    string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res := svc.ProcessCheckOut(c.Request.Context(), req.ParentQRCode, req.StudentID)
		publishScan(c, queue.Message{
			Type:        "checkout",
			Outcome:     string(res.Status),
			RecordID:    res.RecordID,
			StudentName: res.StudentName,
			StudentCode: res.StudentCode,
			ParentName:  res.ParentName,
			Detail:      res.Message,
		})
		c.JSON(scanStatusCode(res.Status), res)
	})

	v1.POST("/attendance/:id/advance", func(c *gin.Context) {
		res, err := svc.Advance(c.Request.Context(), c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if res.Advanced {
			recordAudit(c, auditLog, "attendance.advance", res.RecordID, string(res.From)+" -> "+string(res.To))
		}
		c.JSON(http.StatusOK, res)
	})

	v1.GET("/students", func(c *gin.Context) {
		students, err := att.ListStudents(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if students == nil {
			students = []attendance.Student{}
		}
		c.JSON(http.StatusOK, gin.H{"students": students})
	})

	v1.POST("/students", func(c *gin.Context) {
		var req struct {
			StudentCode string `json:"student_code" binding:"required"`
			Name        string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		student, err := att.InsertStudent(c.Request.Context(), attendance.Student{
			StudentCode: req.StudentCode,
			Name:        req.Name,
			Status:      attendance.StudentActive,
		})
		if errors.Is(err, attendance.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "student code already in use"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recordAudit(c, auditLog, "student.create", student.ID, student.StudentCode)
		c.JSON(http.StatusCreated, student)
	})

	v1.GET("/students/:id", func(c *gin.Context) {
		student, err := att.FindStudentByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, student)
	})

	// Issues the QR payload for a (re)printed ID card.
	v1.POST("/students/:id/card", func(c *gin.Context) {
		student, err := att.FindStudentByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		code := qr.NewStudentCode(student.ID)
		recordAudit(c, auditLog, "student.card", student.ID, student.StudentCode)
		c.JSON(http.StatusOK, gin.H{"qr_code": code, "student": student})
	})

	v1.GET("/sessions", func(c *gin.Context) {
		sessions, err := att.ListSessions(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if sessions == nil {
			sessions = []attendance.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	v1.POST("/sessions", func(c *gin.Context) {
		var req struct {
			Name     string     `json:"name" binding:"required"`
			StartsAt *time.Time `json:"starts_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess := attendance.Session{Name: req.Name, Status: attendance.SessionUpcoming}
		if req.StartsAt != nil {
			sess.StartsAt = *req.StartsAt
		}
		created, err := att.InsertSession(c.Request.Context(), sess)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recordAudit(c, auditLog, "session.create", created.ID, created.Name)
		c.JSON(http.StatusCreated, created)
	})

	setSessionStatus := func(c *gin.Context, status attendance.SessionStatus, action string) {
		id := c.Param("id")
		err := att.SetSessionStatus(c.Request.Context(), id, status)
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recordAudit(c, auditLog, action, id, "")
		c.JSON(http.StatusOK, gin.H{"session_id": id, "status": status})
	}

	v1.POST("/sessions/:id/activate", func(c *gin.Context) {
		setSessionStatus(c, attendance.SessionActive, "session.activate")
	})
	v1.POST("/sessions/:id/close", func(c *gin.Context) {
		setSessionStatus(c, attendance.SessionCompleted, "session.close")
	})

	v1.POST("/sessions/:id/populate", func(c *gin.Context) {
		id := c.Param("id")
		if _, err := att.FindSession(c.Request.Context(), id); errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		n, err := att.PopulateSession(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recordAudit(c, auditLog, "session.populate", id, strconv.Itoa(n)+" records")
		c.JSON(http.StatusOK, gin.H{"session_id": id, "seeded": n})
	})

	v1.GET("/sessions/:id/attendance", func(c *gin.Context) {
		rows, err := sessionRows(c.Request.Context(), att, c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": rows})
	})

	v1.GET("/sessions/:id/export", func(c *gin.Context) {
		sess, err := att.FindSession(c.Request.Context(), c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows, err := sessionRows(c.Request.Context(), att, sess.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", `attachment; filename="attendance-`+sess.StartsAt.Format("2006-01-02")+`.xlsx"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := report.WriteSessionSheet(c.Writer, *sess, rows); err != nil {
			log.Printf("export failed: %v", err)
		}
	})

	v1.POST("/parents", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Regenerate on the unlikely code collision.
		var parent attendance.Parent
		for attempt := 0; attempt < 3; attempt++ {
			code, err := qr.NewParentCode()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "code generation failed"})
				return
			}
			parent, err = att.InsertParent(c.Request.Context(), attendance.Parent{Name: req.Name, QRCode: code})
			if errors.Is(err, attendance.ErrConflict) {
				continue
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			recordAudit(c, auditLog, "parent.create", parent.ID, parent.Name)
			c.JSON(http.StatusCreated, parent)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not allocate a unique code"})
	})

	v1.POST("/parents/:id/links", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := att.FindStudentByID(c.Request.Context(), req.StudentID); errors.Is(err, attendance.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := att.LinkParentStudent(c.Request.Context(), c.Param("id"), req.StudentID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recordAudit(c, auditLog, "parent.link", c.Param("id"), req.StudentID)
		c.JSON(http.StatusCreated, gin.H{"parent_id": c.Param("id"), "student_id": req.StudentID})
	})

	v1.GET("/activity", func(c *gin.Context) {
		limit := cfg.ActivityLimit
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		entries, err := feed.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []activity.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{"activity": entries})
	})

	v1.GET("/audit", func(c *gin.Context) {
		if auditLog == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log requires the postgres store"})
			return
		}
		limit := 100
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		entries, err := auditLog.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		c.JSON(http.StatusOK, gin.H{"audit": entries})
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

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// scanStatusCode maps result tags onto HTTP codes. Already-checked-in rides
// with success: the scan was understood and is displayable.
func scanStatusCode(outcome attendance.Outcome) int {
	switch outcome {
	case attendance.OutcomeSuccess, attendance.OutcomeAlreadyCheckedIn:
		return http.StatusOK
	case attendance.OutcomeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

// sessionRows joins a session's records with their students for display and
// export.
func sessionRows(ctx context.Context, att attendance.Store, sessionID string) ([]report.Row, error) {
	if _, err := att.FindSession(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := att.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rows := make([]report.Row, 0, len(records))
	for _, rec := range records {
		student, err := att.FindStudentByID(ctx, rec.StudentID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, report.Row{Student: *student, Record: rec})
	}
	return rows, nil
}

// recordAudit logs a staff action; audit failures never fail the request.
func recordAudit(c *gin.Context, alog *audit.Log, action, entity, detail string) {
	if alog == nil {
		return
	}
	claimsAny, _ := c.Get("claims")
	claims, _ := claimsAny.(auth.Claims)
	actor := claims.Subject
	if actor == "" {
		actor = "unknown"
	}
	if err := alog.Record(c.Request.Context(), actor, action, entity, detail); err != nil {
		log.Printf("audit write failed: %v", err)
	}
}

// CORS middleware for browser requests.
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

// Security headers middleware.
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
