package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// DatabaseStore persists sessions and leads through GORM
type DatabaseStore struct {
	db   *gorm.DB
	opts Options
}

// NewDatabaseStore creates a GORM-backed store
func NewDatabaseStore(db *gorm.DB, opts Options) *DatabaseStore {
	return &DatabaseStore{db: db, opts: opts}
}

func (d *DatabaseStore) Get(ctx context.Context, phone string, now time.Time) (models.Session, error) {
	var row models.WhatsAppSession
	err := d.db.WithContext(ctx).Where("phone_number = ?", phone).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewSession(phone), nil
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}

	if expired(d.opts.StateTTL, row.LastActivity, now) {
		if err := d.Reset(ctx, phone, now); err != nil {
			return models.Session{}, err
		}
		session := models.NewSession(phone)
		session.UpdatedAt = now.UTC()
		return session, nil
	}

	session, err := row.ToSession()
	if err != nil {
		return models.Session{}, fmt.Errorf("decode session %s: %w", phone, err)
	}
	return session, nil
}

func (d *DatabaseStore) Put(ctx context.Context, phone string, state models.State, c models.Context, now time.Time) error {
	row, err := models.NewWhatsAppSession(models.Session{Phone: phone, State: state, Context: c, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", phone, err)
	}

	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "context", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (d *DatabaseStore) Reset(ctx context.Context, phone string, now time.Time) error {
	return d.Put(ctx, phone, models.StateMenu, models.Context{}, now)
}

func (d *DatabaseStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := d.db.WithContext(ctx).
		Where("updated_at < ?", cutoff.UTC()).
		Delete(&models.WhatsAppSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (d *DatabaseStore) Insert(ctx context.Context, lead models.Lead) (string, error) {
	db := d.db.WithContext(ctx)

	if d.opts.LeadDedupWindow > 0 {
		var existing models.LeadRecord
		err := db.Where("phone = ? AND arrival_date = ? AND departure_date = ? AND created_at >= ?",
			lead.Phone, lead.ArrivalDate, lead.DepartureDate, lead.CreatedAt.Add(-d.opts.LeadDedupWindow).UTC()).
			Order("created_at DESC").
			First(&existing).Error
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("lookup duplicate lead: %w", err)
		}
	}

	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	rec, err := models.NewLeadRecord(lead)
	if err != nil {
		return "", fmt.Errorf("encode lead: %w", err)
	}
	if err := db.Create(rec).Error; err != nil {
		return "", fmt.Errorf("insert lead: %w", err)
	}
	return rec.ID, nil
}

// ListLeads returns leads newest first (back-office and tests).
func (d *DatabaseStore) ListLeads(ctx context.Context, limit int) ([]models.Lead, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.LeadRecord
	if err := d.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	leads := make([]models.Lead, 0, len(rows))
	for i := range rows {
		lead, err := rows[i].ToLead()
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, nil
}
