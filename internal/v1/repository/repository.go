// Package repository persists meetings, users, and meeting minutes. The
// Postgres implementation backs production; the in-memory implementation
// backs unit tests and local development without a database.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/models"
)

// MeetingRepository is the persistence boundary for the meeting aggregate.
//
// UpdateAtomic is the single transactional boundary for cross-document
// writes: it loads the meeting under a row lock, hands it to fn for
// mutation, and persists the result in the same transaction. Every state
// transition (join, leave, end, settings change, chat append) goes through
// it so concurrent requests against the same meeting serialize instead of
// racing on a read-modify-write.
type MeetingRepository interface {
	FindByPublicID(ctx context.Context, meetingID string) (*models.Meeting, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	Insert(ctx context.Context, meeting *models.Meeting) error
	UpdateAtomic(ctx context.Context, meetingID string, fn func(*models.Meeting) error) (*models.Meeting, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Meeting, error)
	PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error
}

// UserRepository is the persistence boundary for user accounts.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Insert(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// MinutesRepository is the persistence boundary for generated meeting minutes.
type MinutesRepository interface {
	FindByMeetingID(ctx context.Context, meetingID string) (*models.MeetingMinutes, error)
	Upsert(ctx context.Context, minutes *models.MeetingMinutes) error
}

// ErrNotFound is a generic not-found error, and isNotFound matches only this
// value. The in-memory and Postgres repositories each return their own
// apperror.NotFound values, which errors.Is does not match to ErrNotFound.
var ErrNotFound = apperror.NotFound("not found")

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
