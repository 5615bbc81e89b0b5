package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/auth"
	"github.com/meetgrid/backend/internal/v1/models"
	"github.com/meetgrid/backend/internal/v1/repository"
)

// AuthHandlers implements /api/auth/*.
type AuthHandlers struct {
	Users     repository.UserRepository
	Validator *auth.Validator
}

type registerRequest struct {
	Username string         `json:"username" binding:"required"`
	Email    string         `json:"email" binding:"required"`
	Password string         `json:"password" binding:"required"`
	Profile  *models.Profile `json:"profile"`
}

func (h *AuthHandlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid registration payload: %v", err))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, apperror.Internal("failed to hash password"))
		return
	}

	profile := models.Profile{DisplayName: req.Username}
	if req.Profile != nil {
		profile = *req.Profile
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: &hash,
		Profile:      profile,
		Preferences:  models.Preferences{NotificationsOn: true},
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := h.Users.Insert(c.Request.Context(), user); err != nil {
		fail(c, err)
		return
	}

	token, err := h.Validator.IssueToken(user.ID.String(), profile.DisplayName, user.Email)
	if err != nil {
		fail(c, apperror.Internal("failed to issue token"))
		return
	}

	respond(c, http.StatusCreated, gin.H{"user": user, "token": token})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid login payload: %v", err))
		return
	}

	user, err := h.Users.FindByEmail(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, apperror.Unauthenticated("invalid email or password"))
		return
	}
	if user.PasswordHash == nil || !auth.ComparePassword(*user.PasswordHash, req.Password) {
		fail(c, apperror.Unauthenticated("invalid email or password"))
		return
	}

	token, err := h.Validator.IssueToken(user.ID.String(), user.Profile.DisplayName, user.Email)
	if err != nil {
		fail(c, apperror.Internal("failed to issue token"))
		return
	}

	respondOK(c, gin.H{"user": user, "token": token})
}

type guestRequest struct {
	Username string `json:"username" binding:"required"`
}

func (h *AuthHandlers) Guest(c *gin.Context) {
	var req guestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid guest payload: %v", err))
		return
	}

	id := uuid.New()
	user := &models.User{
		ID:          id,
		Username:    req.Username + "-" + id.String()[:8],
		Email:       "guest-" + id.String() + "@meetgrid.invalid",
		IsGuest:     true,
		IsActive:    true,
		Profile:     models.Profile{DisplayName: req.Username},
		Preferences: models.Preferences{NotificationsOn: false},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := h.Users.Insert(c.Request.Context(), user); err != nil {
		fail(c, err)
		return
	}

	token, err := h.Validator.IssueToken(user.ID.String(), req.Username, "")
	if err != nil {
		fail(c, apperror.Internal("failed to issue token"))
		return
	}

	respond(c, http.StatusCreated, gin.H{"user": user, "token": token})
}

func (h *AuthHandlers) Me(c *gin.Context) {
	user, err := h.findCaller(c)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"user": user})
}

type updateProfileRequest struct {
	Profile     *models.Profile     `json:"profile"`
	Preferences *models.Preferences `json:"preferences"`
}

func (h *AuthHandlers) UpdateProfile(c *gin.Context) {
	user, err := h.findCaller(c)
	if err != nil {
		fail(c, err)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperror.BadRequest("invalid profile payload: %v", err))
		return
	}
	if req.Profile != nil {
		user.Profile = *req.Profile
	}
	if req.Preferences != nil {
		user.Preferences = *req.Preferences
	}
	user.UpdatedAt = time.Now()

	if err := h.Users.Update(c.Request.Context(), user); err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"user": user})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	user, err := h.findCaller(c)
	if err != nil {
		fail(c, err)
		return
	}
	now := time.Now()
	user.LastSeenAt = &now
	if err := h.Users.Update(c.Request.Context(), user); err != nil {
		fail(c, err)
		return
	}
	respondOK(c, nil)
}

func (h *AuthHandlers) findCaller(c *gin.Context) (*models.User, error) {
	id, err := uuid.Parse(callerID(c))
	if err != nil {
		return nil, apperror.Unauthenticated("caller is not a registered account")
	}
	return h.Users.FindByID(c.Request.Context(), id)
}
