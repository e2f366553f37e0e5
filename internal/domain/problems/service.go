package problems

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetpms/emr/internal/emr"
	"github.com/vetpms/emr/internal/platform/db"
	"github.com/vetpms/emr/internal/platform/rbac"
)

// EventRecorder appends problem rows to the clinical event ledger.
// Wired in main to the timeline service.
type EventRecorder interface {
	ProblemAdded(ctx context.Context, actor emr.Actor, p *Problem, at time.Time) error
	ProblemStatusChanged(ctx context.Context, actor emr.Actor, p *Problem, oldStatus, newStatus string, at time.Time) error
}

type Service struct {
	repo   Repository
	events EventRecorder
	now    func() time.Time
}

func NewService(repo Repository, events EventRecorder) *Service {
	return &Service{repo: repo, events: events, now: time.Now}
}

type AddInput struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	Type          string     `json:"problem_type"`
	Severity      string     `json:"severity"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	OnsetDate     *time.Time `json:"onset_date"`
	IsAlert       bool       `json:"is_alert"`
	AlertSeverity string     `json:"alert_severity"`
	AlertText     string     `json:"alert_text"`
}

func (s *Service) Add(ctx context.Context, actor emr.Actor, in AddInput) (*Problem, error) {
	if in.PatientID == uuid.Nil {
		return nil, emr.NewValidationError("patient_id", "is required")
	}
	if in.Name == "" {
		return nil, emr.NewValidationError("name", "is required")
	}
	if in.Type == "" {
		in.Type = TypeDiagnosis
	}
	if _, ok := TypeLabels[in.Type]; !ok {
		return nil, emr.NewValidationError("problem_type", "unknown type: "+in.Type)
	}
	if in.Severity == "" {
		in.Severity = SeverityModerate
	}
	if !validSeverities[in.Severity] {
		return nil, emr.NewValidationError("severity", "unknown severity: "+in.Severity)
	}
	if in.IsAlert {
		if in.AlertText == "" {
			return nil, emr.NewValidationError("alert_text", "is required when is_alert is set")
		}
		if in.AlertSeverity == "" {
			in.AlertSeverity = AlertWarning
		}
		if !validAlertSeverities[in.AlertSeverity] {
			return nil, emr.NewValidationError("alert_severity", "unknown alert severity: "+in.AlertSeverity)
		}
	} else if in.AlertSeverity != "" || in.AlertText != "" {
		return nil, emr.NewValidationError("is_alert", "alert fields set on a non-alert problem")
	}

	if err := rbac.Authorize(actor, rbac.ActionAddProblem, rbac.Context{OrgID: actor.OrgID}); err != nil {
		return nil, err
	}

	p := &Problem{
		OrgID:         actor.OrgID,
		PatientID:     in.PatientID,
		Type:          in.Type,
		Severity:      in.Severity,
		Name:          in.Name,
		Description:   in.Description,
		OnsetDate:     in.OnsetDate,
		Status:        StatusActive,
		IsAlert:       in.IsAlert,
		AlertSeverity: in.AlertSeverity,
		AlertText:     in.AlertText,
	}
	err := db.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create problem: %w", err)
		}
		if err := s.events.ProblemAdded(ctx, actor, p, s.now().UTC()); err != nil {
			return fmt.Errorf("record problem added: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateStatus moves the problem to a new status and records the change
// on the event ledger. A same-status request is a no-op success, so
// resolving an already resolved problem is safe to retry.
func (s *Service) UpdateStatus(ctx context.Context, actor emr.Actor, problemID uuid.UUID, newStatus string) (*Problem, error) {
	if !validStatuses[newStatus] {
		return nil, emr.NewValidationError("status", "unknown status: "+newStatus)
	}

	p, err := s.repo.GetByID(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Authorize(actor, rbac.ActionUpdateProblemStatus, rbac.Context{OrgID: p.OrgID}); err != nil {
		return nil, err
	}
	if p.Status == newStatus {
		return p, nil
	}

	now := s.now().UTC()
	oldStatus := p.Status
	p.Status = newStatus
	if newStatus == StatusResolved {
		p.ResolvedDate = &now
	} else {
		p.ResolvedDate = nil
	}

	err = db.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.repo.UpdateStatus(ctx, p, p.Version)
		if err != nil {
			return fmt.Errorf("update problem status: %w", err)
		}
		if !ok {
			return &emr.ConcurrentModificationError{Record: "problem", ID: problemID.String()}
		}
		if err := s.events.ProblemStatusChanged(ctx, actor, p, oldStatus, newStatus, now); err != nil {
			return fmt.Errorf("record problem status change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Problem, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Problem, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ActiveAlerts is the banner view shown at the start of every visit.
func (s *Service) ActiveAlerts(ctx context.Context, patientID uuid.UUID) ([]*Problem, error) {
	return s.repo.ActiveAlerts(ctx, patientID)
}
