package vehicles

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/data"
)

var (
	ErrInvalidName = errors.New("vehicle name must be 1-120 characters")
	ErrInvalidVIN  = errors.New("vin must be 17 characters")
)

const (
	cacheSize = 1024
	cacheTTL  = 30 * time.Second
)

type Repository interface {
	Create(ctx context.Context, v *data.Vehicle) error
	GetByID(ctx context.Context, id uuid.UUID) (*data.Vehicle, error)
	Update(ctx context.Context, v *data.Vehicle) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter data.VehicleFilter, limit, offset int) ([]*data.Vehicle, int, error)
}

// Auditor is the slice of the ledger this service needs. Every
// mutation and read of fleet data produces an audit event.
type Auditor interface {
	LogEvent(ctx context.Context, event audit.AuditEvent) (*audit.ImmutableAuditRecord, error)
}

// Actor identifies who is performing an operation. Handlers build it
// from the authenticated request.
type Actor struct {
	UserID    string
	Roles     []string
	SessionID string
	IP        string
	UserAgent string
}

type Service struct {
	repo  Repository
	aud   Auditor
	cache *readCache
}

func NewService(repo Repository, aud Auditor) *Service {
	return &Service{
		repo:  repo,
		aud:   aud,
		cache: newReadCache(cacheSize, cacheTTL),
	}
}

func (s *Service) CreateVehicle(ctx context.Context, actor Actor, v *data.Vehicle) error {
	if len(v.Name) == 0 || len(v.Name) > 120 {
		return ErrInvalidName
	}
	if len(v.VIN) != 17 {
		return ErrInvalidVIN
	}
	if v.Status == "" {
		v.Status = data.VehicleStatusActive
	}

	if err := s.repo.Create(ctx, v); err != nil {
		return err
	}

	// VIN and plate identify a physical asset, so the record is
	// classified confidential and retained accordingly.
	s.writeAudit(ctx, actor, audit.AuditEvent{
		EventType:   audit.EventDataModification,
		Action:      audit.ActionCreate,
		Resource:    "vehicle",
		ResourceID:  v.ID.String(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityConfidential,
		Details: map[string]any{
			"name":          v.Name,
			"vin":           v.VIN,
			"license_plate": v.LicensePlate,
		},
	})
	return nil
}

func (s *Service) GetVehicle(ctx context.Context, actor Actor, id uuid.UUID) (*data.Vehicle, error) {
	v, ok := s.cache.get(id)
	if !ok {
		var err error
		v, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.put(v)
	}

	// Cache hits still leave an access trail.
	s.writeAudit(ctx, actor, audit.AuditEvent{
		EventType:   audit.EventDataAccess,
		Action:      audit.ActionRead,
		Resource:    "vehicle",
		ResourceID:  id.String(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
	})
	return v, nil
}

func (s *Service) UpdateVehicle(ctx context.Context, actor Actor, v *data.Vehicle) error {
	if len(v.Name) == 0 || len(v.Name) > 120 {
		return ErrInvalidName
	}

	if err := s.repo.Update(ctx, v); err != nil {
		return err
	}
	s.cache.invalidate(v.ID)

	s.writeAudit(ctx, actor, audit.AuditEvent{
		EventType:   audit.EventDataModification,
		Action:      audit.ActionUpdate,
		Resource:    "vehicle",
		ResourceID:  v.ID.String(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
		Details: map[string]any{
			"name":        v.Name,
			"status":      v.Status,
			"odometer_km": v.OdometerKm,
		},
	})
	return nil
}

func (s *Service) DeleteVehicle(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.cache.invalidate(id)

	s.writeAudit(ctx, actor, audit.AuditEvent{
		EventType:   audit.EventDataModification,
		Action:      audit.ActionDelete,
		Resource:    "vehicle",
		ResourceID:  id.String(),
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
	})
	return nil
}

func (s *Service) ListVehicles(ctx context.Context, actor Actor, filter data.VehicleFilter, limit, offset int) ([]*data.Vehicle, int, error) {
	items, total, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	s.writeAudit(ctx, actor, audit.AuditEvent{
		EventType:   audit.EventDataAccess,
		Action:      audit.ActionSearch,
		Resource:    "vehicle",
		ResourceID:  "list",
		Result:      audit.ResultSuccess,
		Sensitivity: audit.SensitivityInternal,
		Details: map[string]any{
			"status": filter.Status,
			"query":  filter.Query,
			"count":  len(items),
		},
	})
	return items, total, nil
}

// writeAudit stamps actor fields and submits the event. Fleet
// operations do not fail when the trail write degrades; the ledger
// has its own durability policy and spool.
func (s *Service) writeAudit(ctx context.Context, actor Actor, event audit.AuditEvent) {
	event.UserID = actor.UserID
	event.UserRoles = actor.Roles
	event.SessionID = actor.SessionID
	event.IPAddress = actor.IP
	event.UserAgent = actor.UserAgent

	if _, err := s.aud.LogEvent(ctx, event); err != nil {
		log.Printf("WARN: vehicle audit event %s/%s failed: %v", event.Action, event.ResourceID, err)
	}
}
