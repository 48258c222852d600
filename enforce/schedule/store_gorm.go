package schedule

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Database row for a pending action.
type GormAction struct {
	ID        string `gorm:"primaryKey"`
	Kind      string
	TargetID  string `gorm:"index"`
	IssuerID  string
	Reason    string
	Due       time.Time `gorm:"index"`
	Status    string    `gorm:"index"`
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (GormAction) TableName() string {
	return "pending_actions"
}

func (r *GormAction) toAction() *PendingAction {
	return &PendingAction{
		ID:        r.ID,
		Kind:      Kind(r.Kind),
		TargetID:  r.TargetID,
		IssuerID:  r.IssuerID,
		Reason:    r.Reason,
		Due:       r.Due,
		Status:    Status(r.Status),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GormStore is a gorm-backed implementation of Store, for sqlite or postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// Migrates the pending_actions table as a side effect.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&GormAction{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, a *PendingAction) error {
	row := GormAction{
		ID:        a.ID,
		Kind:      string(a.Kind),
		TargetID:  a.TargetID,
		IssuerID:  a.IssuerID,
		Reason:    a.Reason,
		Due:       a.Due,
		Status:    string(a.Status),
		Attempts:  a.Attempts,
		LastError: a.LastError,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*PendingAction, error) {
	var row GormAction
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, err
	}
	return row.toAction(), nil
}

func (s *GormStore) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&GormAction{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// distinguish "wrong status" from "no such action"
	var n int64
	if err := s.db.WithContext(ctx).Model(&GormAction{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrActionNotFound
	}
	return false, nil
}

func (s *GormStore) RecordFailure(ctx context.Context, id string, attempts int, lastErr string) error {
	res := s.db.WithContext(ctx).Model(&GormAction{}).
		Where("id = ?", id).
		Updates(map[string]any{"attempts": attempts, "last_error": lastErr})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActionNotFound
	}
	return nil
}

func (s *GormStore) ListPending(ctx context.Context) ([]*PendingAction, error) {
	var rows []GormAction
	if err := s.db.WithContext(ctx).Where("status = ?", string(StatusPending)).Order("due asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*PendingAction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAction())
	}
	return out, nil
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]*PendingAction, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []GormAction
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*PendingAction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAction())
	}
	return out, nil
}

func (s *GormStore) PruneTerminal(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{string(StatusExecuted), string(StatusCancelled)}, before).
		Delete(&GormAction{})
	return res.RowsAffected, res.Error
}
