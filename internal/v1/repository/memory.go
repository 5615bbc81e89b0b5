package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/models"
)

// InMemoryMeetingRepository backs unit tests and local development without a
// database. Each meeting gets its own mutex so UpdateAtomic serializes
// writes to that meeting without blocking unrelated meetings, mirroring the
// row-level locking granularity of the Postgres implementation.
type InMemoryMeetingRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*models.Meeting
	byPublic map[string]uuid.UUID
	locks    sync.Map // meetingID -> *sync.Mutex
}

func NewInMemoryMeetingRepository() *InMemoryMeetingRepository {
	return &InMemoryMeetingRepository{
		byID:     make(map[uuid.UUID]*models.Meeting),
		byPublic: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryMeetingRepository) lockFor(meetingID string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(meetingID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func clone(m *models.Meeting) *models.Meeting {
	cp := *m
	cp.Participants = append(models.ParticipantList{}, m.Participants...)
	cp.Chat = append(models.ChatLog{}, m.Chat...)
	cp.Transcripts = append(models.TranscriptList{}, m.Transcripts...)
	return &cp
}

func (r *InMemoryMeetingRepository) FindByPublicID(ctx context.Context, meetingID string) (*models.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPublic[meetingID]
	if !ok {
		return nil, apperror.NotFound("meeting %s not found", meetingID)
	}
	return clone(r.byID[id]), nil
}

func (r *InMemoryMeetingRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("meeting %s not found", id)
	}
	return clone(m), nil
}

func (r *InMemoryMeetingRepository) Insert(ctx context.Context, meeting *models.Meeting) error {
	if meeting.ID == uuid.Nil {
		meeting.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPublic[meeting.MeetingID]; exists {
		return apperror.Conflict("meeting %s already exists", meeting.MeetingID)
	}
	r.byID[meeting.ID] = clone(meeting)
	r.byPublic[meeting.MeetingID] = meeting.ID
	return nil
}

func (r *InMemoryMeetingRepository) UpdateAtomic(ctx context.Context, meetingID string, fn func(*models.Meeting) error) (*models.Meeting, error) {
	lock := r.lockFor(meetingID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	id, ok := r.byPublic[meetingID]
	var current *models.Meeting
	if ok {
		current = clone(r.byID[id])
	}
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.NotFound("meeting %s not found", meetingID)
	}

	if err := fn(current); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byID[id] = clone(current)
	r.mu.Unlock()
	return current, nil
}

func (r *InMemoryMeetingRepository) ListForUser(ctx context.Context, userID string) ([]*models.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Meeting
	for _, m := range r.byID {
		if m.HostUserID == userID || m.FindParticipant(userID) != nil {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

func (r *InMemoryMeetingRepository) PushChat(ctx context.Context, meetingID string, msg models.ChatMessage) error {
	_, err := r.UpdateAtomic(ctx, meetingID, func(m *models.Meeting) error {
		m.Chat = append(m.Chat, msg)
		m.Statistics.ChatMessages++
		return nil
	})
	return err
}

// InMemoryUserRepository backs unit tests and local development.
type InMemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*models.User
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		byID:       make(map[uuid.UUID]*models.User),
		byEmail:    make(map[string]uuid.UUID),
		byUsername: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, apperror.NotFound("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, apperror.NotFound("user with email %s not found", email)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *InMemoryUserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, apperror.NotFound("user %s not found", username)
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *InMemoryUserRepository) Insert(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[user.Email]; exists {
		return apperror.Conflict("user with email %s already exists", user.Email)
	}
	cp := *user
	r.byID[user.ID] = &cp
	r.byEmail[user.Email] = user.ID
	r.byUsername[user.Username] = user.ID
	return nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return apperror.NotFound("user %s not found", user.ID)
	}
	cp := *user
	r.byID[user.ID] = &cp
	return nil
}

// InMemoryMinutesRepository backs unit tests and local development.
type InMemoryMinutesRepository struct {
	mu   sync.RWMutex
	byID map[string]*models.MeetingMinutes
}

func NewInMemoryMinutesRepository() *InMemoryMinutesRepository {
	return &InMemoryMinutesRepository{byID: make(map[string]*models.MeetingMinutes)}
}

func (r *InMemoryMinutesRepository) FindByMeetingID(ctx context.Context, meetingID string) (*models.MeetingMinutes, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[meetingID]
	if !ok {
		return nil, apperror.NotFound("minutes for meeting %s not found", meetingID)
	}
	cp := *m
	return &cp, nil
}

func (r *InMemoryMinutesRepository) Upsert(ctx context.Context, minutes *models.MeetingMinutes) error {
	if minutes.ID == uuid.Nil {
		minutes.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *minutes
	r.byID[minutes.MeetingID] = &cp
	return nil
}
