package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vetpms/emr/internal/config"
	"github.com/vetpms/emr/internal/domain/encounter"
	"github.com/vetpms/emr/internal/domain/notes"
	"github.com/vetpms/emr/internal/domain/problems"
	"github.com/vetpms/emr/internal/domain/timeline"
	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/auth"
	"github.com/vetpms/emr/internal/platform/db"
	"github.com/vetpms/emr/internal/platform/middleware"
)

// encounterSourceAdapter adapts the encounter repository to the
// EncounterSource interfaces of the timeline and notes packages,
// avoiding circular imports between the domain packages.
type encounterSourceAdapter struct {
	repo encounter.Repository
}

func (a *encounterSourceAdapter) PatientOf(ctx context.Context, encounterID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	enc, err := a.repo.GetByID(ctx, encounterID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return enc.PatientID, enc.OrgID, nil
}

// timelineRecorder adapts the timeline service to the event recorder
// interfaces the encounter, problems and notes services write through.
// It owns the summary wording of every ledger row.
type timelineRecorder struct {
	svc *timeline.Service
}

func encounterCreatedSummary(enc *encounter.Encounter) string {
	complaint := "No complaint specified"
	if enc.ChiefComplaint != nil && *enc.ChiefComplaint != "" {
		complaint = *enc.ChiefComplaint
		// truncate on rune boundaries so a multibyte complaint is not cut
		// mid-character
		if r := []rune(complaint); len(r) > 100 {
			complaint = string(r[:100])
		}
	}
	return fmt.Sprintf("Encounter created: %s - %s", encounter.ClassLabels[enc.Classification], complaint)
}

func stateChangeSummary(from, to string) string {
	return fmt.Sprintf("Status changed: %s → %s", from, to)
}

func problemAddedSummary(p *problems.Problem) string {
	return fmt.Sprintf("Problem added: %s (%s)", p.Name, problems.TypeLabels[p.Type])
}

func problemStatusSummary(p *problems.Problem, oldStatus, newStatus string) string {
	if newStatus == problems.StatusResolved {
		return "Problem resolved: " + p.Name
	}
	return fmt.Sprintf("Problem status changed: %s (%s → %s)", p.Name, oldStatus, newStatus)
}

func (r *timelineRecorder) RecordCreated(ctx context.Context, actor emr.Actor, enc *encounter.Encounter, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   enc.PatientID,
		EncounterID: &enc.ID,
		Kind:        timeline.KindEncounterCreated,
		Subkind:     enc.Classification,
		OccurredAt:  at,
		Summary:     encounterCreatedSummary(enc),
		Significant: true,
	})
	return err
}

func (r *timelineRecorder) RecordStateChange(ctx context.Context, actor emr.Actor, enc *encounter.Encounter, from, to string, significant bool, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   enc.PatientID,
		EncounterID: &enc.ID,
		Kind:        timeline.KindStateChange,
		Subkind:     from + "_to_" + to,
		OccurredAt:  at,
		Summary:     stateChangeSummary(from, to),
		Significant: significant,
	})
	return err
}

func (r *timelineRecorder) PerformedActions(ctx context.Context, encounterID uuid.UUID) ([]encounter.PerformedAction, error) {
	events, err := r.svc.LiveEncounterEvents(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	actions := make([]encounter.PerformedAction, 0, len(events))
	for _, ev := range events {
		actions = append(actions, encounter.PerformedAction{
			EventID:    ev.ID,
			Kind:       ev.Kind,
			Subkind:    ev.Subkind,
			Summary:    ev.Summary,
			OccurredAt: ev.OccurredAt,
			RecordedBy: ev.RecordedBy,
		})
	}
	return actions, nil
}

func (r *timelineRecorder) ProblemAdded(ctx context.Context, actor emr.Actor, p *problems.Problem, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   p.PatientID,
		Kind:        timeline.KindProblemAdded,
		Subkind:     p.Type,
		OccurredAt:  at,
		Summary:     problemAddedSummary(p),
		Significant: p.IsAlert,
		ProblemID:   &p.ID,
	})
	return err
}

func (r *timelineRecorder) ProblemStatusChanged(ctx context.Context, actor emr.Actor, p *problems.Problem, oldStatus, newStatus string, at time.Time) error {
	kind := timeline.KindProblemStatusChanged
	significant := false
	if newStatus == problems.StatusResolved {
		kind = timeline.KindProblemResolved
		significant = true
	}
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   p.PatientID,
		Kind:        kind,
		Subkind:     oldStatus + "_to_" + newStatus,
		OccurredAt:  at,
		Summary:     problemStatusSummary(p, oldStatus, newStatus),
		Significant: significant,
		ProblemID:   &p.ID,
	})
	return err
}

func (r *timelineRecorder) NoteCreated(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   d.PatientID,
		EncounterID: &d.EncounterID,
		Kind:        timeline.KindNoteCreated,
		Subkind:     d.DocType,
		OccurredAt:  at,
		Summary:     "Clinical note drafted",
		DocumentID:  &d.ID,
	})
	return err
}

func (r *timelineRecorder) NoteFinalized(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   d.PatientID,
		EncounterID: &d.EncounterID,
		Kind:        timeline.KindNoteFinalized,
		Subkind:     d.DocType,
		OccurredAt:  at,
		Summary:     "Clinical note finalized",
		DocumentID:  &d.ID,
	})
	return err
}

func (r *timelineRecorder) AddendumAdded(ctx context.Context, actor emr.Actor, d *notes.Document, at time.Time) error {
	_, err := r.svc.Record(ctx, actor, timeline.NewEvent{
		PatientID:   d.PatientID,
		EncounterID: &d.EncounterID,
		Kind:        timeline.KindNoteAddendum,
		Subkind:     d.DocType,
		OccurredAt:  at,
		Summary:     "Addendum filed",
		DocumentID:  &d.ID,
	})
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "emr-server",
		Short: "Veterinary EMR API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the EMR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, ""); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully. Apply migrations with: emr-server migrate up --schema tenant_" + name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Org-ID"},
	}))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Access audit middleware
	e.Use(middleware.Audit(logger))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	// -- Wire domain services --
	// The encounter, problems and notes services all write through the
	// timeline, and the timeline validates encounter references against
	// the encounter repository. The adapters break the import cycle.
	encRepo := encounter.NewRepo(pool)
	encSource := &encounterSourceAdapter{repo: encRepo}

	eventRepo := timeline.NewRepo(pool)
	eventSvc := timeline.NewService(eventRepo, encSource)
	recorder := &timelineRecorder{svc: eventSvc}

	encSvc := encounter.NewService(encRepo, recorder, recorder)
	encHandler := encounter.NewHandler(encSvc)
	encHandler.RegisterRoutes(apiV1)

	eventHandler := timeline.NewHandler(eventSvc)
	eventHandler.RegisterRoutes(apiV1)

	problemRepo := problems.NewRepo(pool)
	problemSvc := problems.NewService(problemRepo, recorder)
	problemHandler := problems.NewHandler(problemSvc)
	problemHandler.RegisterRoutes(apiV1)

	noteRepo := notes.NewRepo(pool)
	noteSvc := notes.NewService(noteRepo, encSource, recorder)
	noteHandler := notes.NewHandler(noteSvc)
	noteHandler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if cfg.TLSEnabled {
			if err := e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server error")
			}
			return
		}
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
