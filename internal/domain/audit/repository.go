package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository interface for auth event persistence. There is no update or delete.
type Repository interface {
	Create(ctx context.Context, event *AuthEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*AuthEvent, error)
	Query(ctx context.Context, filter Filter, sort Sort, page Page) (*Result, error)
}

// repository struct for auth event operations
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new auth event repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, event *AuthEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*AuthEvent, error) {
	var event AuthEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &event, nil
}

// Query returns one page of matching events and the total count. sort.Field
// must already be whitelisted.
func (r *repository) Query(ctx context.Context, filter Filter, sort Sort, page Page) (*Result, error) {
	if !sortable[sort.Field] {
		return nil, ErrInvalidSort
	}
	page = page.Normalize()

	q := r.db.WithContext(ctx).Model(&AuthEvent{})
	if filter.SubjectID != "" {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.Type != "" {
		q = q.Where("event_type = ?", filter.Type)
	}
	if filter.From != nil {
		q = q.Where("server_timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("server_timestamp < ?", filter.To.UTC())
	}

	// Count and Find each start from the same filtered statement.
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	events := make([]*AuthEvent, 0, page.Limit)
	err := q.
		Order(clause.OrderByColumn{Column: clause.Column{Name: sort.Field}, Desc: sort.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: sort.Desc}).
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	return &Result{Events: events, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}
