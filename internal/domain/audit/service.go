package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/google/uuid"
)

// Observer is told about failed writes, e.g. for metrics
type Observer interface {
	AuditWriteFailed(ctx context.Context, eventType string)
}

// Recorder appends auth events
type Recorder interface {
	// Record persists the entry. A returned error is secondary to the
	// operation being audited and must not fail it.
	Record(ctx context.Context, entry Entry) (*AuthEvent, error)
}

// Service reads and writes the audit trail
type Service interface {
	Recorder
	Get(ctx context.Context, id string) (*AuthEvent, error)
	ListBySubject(ctx context.Context, subjectID string, page Page) (*Result, error)
	ListByDevice(ctx context.Context, deviceID string, page Page) (*Result, error)
	Query(ctx context.Context, filter Filter, sort Sort, page Page) (*Result, error)
}

type service struct {
	repo     Repository
	log      logging.SecurityLogger
	observer Observer
	now      func() time.Time
}

// NewService creates the audit service. observer may be nil.
func NewService(repo Repository, log logging.SecurityLogger, observer Observer) Service {
	if log == nil {
		log = logging.Default()
	}
	return &service{repo: repo, log: log, observer: observer, now: time.Now}
}

func (s *service) Record(ctx context.Context, entry Entry) (*AuthEvent, error) {
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, entry.Type)
	}
	if strings.TrimSpace(entry.SubjectID) == "" || strings.TrimSpace(entry.DeviceID) == "" {
		return nil, fmt.Errorf("%w: subject and device are required", ErrInvalidEvent)
	}

	event := &AuthEvent{
		ID:              uuid.New(),
		SubjectID:       entry.SubjectID,
		DeviceID:        entry.DeviceID,
		EventType:       entry.Type,
		IP:              entry.IP,
		UserAgent:       entry.UserAgent,
		ServerTimestamp: s.now().UTC(),
	}
	if entry.ClientTimestamp != nil {
		ts := entry.ClientTimestamp.UTC()
		event.ClientTimestamp = &ts
	}

	if err := s.repo.Create(ctx, event); err != nil {
		s.log.Error(ctx, "Failed to record auth event",
			"event_type", entry.Type, "subject_id", entry.SubjectID, "device_id", entry.DeviceID, "error", err)
		if s.observer != nil {
			s.observer.AuditWriteFailed(ctx, string(entry.Type))
		}
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	s.log.Debug(ctx, "Auth event recorded", "event_id", event.ID.String(), "event_type", entry.Type)
	return event, nil
}

func (s *service) Get(ctx context.Context, id string) (*AuthEvent, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrEventNotFound
	}
	return s.repo.GetByID(ctx, parsed)
}

func (s *service) ListBySubject(ctx context.Context, subjectID string, page Page) (*Result, error) {
	return s.repo.Query(ctx, Filter{SubjectID: subjectID}, DefaultSort, page)
}

func (s *service) ListByDevice(ctx context.Context, deviceID string, page Page) (*Result, error) {
	return s.repo.Query(ctx, Filter{DeviceID: deviceID}, DefaultSort, page)
}

func (s *service) Query(ctx context.Context, filter Filter, sort Sort, page Page) (*Result, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, filter.Type)
	}
	return s.repo.Query(ctx, filter, sort, page)
}
