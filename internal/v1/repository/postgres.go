package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/models"
)

// PostgresMeetingRepository persists meetings as single JSONB-backed rows.
type PostgresMeetingRepository struct {
	db *gorm.DB
}

// NewPostgresMeetingRepository wraps an already-migrated gorm connection.
func NewPostgresMeetingRepository(db *gorm.DB) *PostgresMeetingRepository {
	return &PostgresMeetingRepository{db: db}
}

func (r *PostgresMeetingRepository) FindByPublicID(ctx context.Context, meetingID string) (*models.Meeting, error) {
	var m models.Meeting
	err := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("meeting %s not found", meetingID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find meeting by public id", err)
	}
	return &m, nil
}

func (r *PostgresMeetingRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	var m models.Meeting
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("meeting %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find meeting by id", err)
	}
	return &m, nil
}

func (r *PostgresMeetingRepository) Insert(ctx context.Context, meeting *models.Meeting) error {
	if meeting.ID == uuid.Nil {
		meeting.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(meeting).Error; err != nil {
		return apperror.Wrap(apperror.CodeInternal, "insert meeting", err)
	}
	return nil
}

// UpdateAtomic locks the meeting row with SELECT ... FOR UPDATE, applies fn,
// and persists the result — all inside one transaction, so two concurrent
// requests against the same meeting (e.g. two simultaneous joins) serialize
// instead of clobbering each other's writes.
func (r *PostgresMeetingRepository) UpdateAtomic(ctx context.Context, meetingID string, fn func(*models.Meeting) error) (*models.Meeting, error) {
	var result models.Meeting
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Meeting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("meeting_id = ?", meetingID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("meeting %s not found", meetingID)
		}
		if err != nil {
			return apperror.Wrap(apperror.CodeInternal, "lock meeting row", err)
		}

		if err := fn(&m); err != nil {
			return err
		}

		if err := tx.Save(&m).Error; err != nil {
			return apperror.Wrap(apperror.CodeInternal, "save meeting", err)
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *PostgresMeetingRepository) ListForUser(ctx context.Context, userID string) ([]*models.Meeting, error) {
	var meetings []*models.Meeting
	err := r.db.WithContext(ctx).
		Where("host_user_id = ? OR participants @> ?", userID, fmt.Sprintf(`[{"userId": %q}]`, userID)).
		Order("created_at DESC").
		Find(&meetings).Error
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "list meetings for user", err)
	}
	return meetings, nil
}

func (r *PostgresMeetingRepository) PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error {
	_, err := r.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		m.Chat = append(m.Chat, msg)
		m.Statistics.ChatMessages++
		return nil
	})
	return err
}

// PostgresUserRepository persists user accounts.
type PostgresUserRepository struct {
	db *gorm.DB
}

func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find user by id", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user with email %s not found", email)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find user by email", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user %s not found", username)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find user by username", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) Insert(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return apperror.Wrap(apperror.CodeInternal, "insert user", err)
	}
	return nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return apperror.Wrap(apperror.CodeInternal, "update user", err)
	}
	return nil
}

// PostgresMinutesRepository persists AI-generated meeting minutes.
type PostgresMinutesRepository struct {
	db *gorm.DB
}

func NewPostgresMinutesRepository(db *gorm.DB) *PostgresMinutesRepository {
	return &PostgresMinutesRepository{db: db}
}

func (r *PostgresMinutesRepository) FindByMeetingID(ctx context.Context, meetingID string) (*models.MeetingMinutes, error) {
	var m models.MeetingMinutes
	err := r.db.WithContext(ctx).Where("meeting_id = ?", meetingID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("minutes for meeting %s not found", meetingID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "find minutes by meeting id", err)
	}
	return &m, nil
}

// Upsert persists minutes, honoring the one-minutes-record-per-meeting
// invariant via an ON CONFLICT update rather than a duplicate insert. This
// is what makes a retried or re-run minutes-generation job idempotent.
func (r *PostgresMinutesRepository) Upsert(ctx context.Context, minutes *models.MeetingMinutes) error {
	if minutes.ID == uuid.Nil {
		minutes.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "meeting_id"}},
		UpdateAll: true,
	}).Create(minutes).Error
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "upsert meeting minutes", err)
	}
	return nil
}
