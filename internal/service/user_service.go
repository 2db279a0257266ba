package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chandlergims/shillster/internal/audit"
	"github.com/chandlergims/shillster/internal/domain"
	"github.com/chandlergims/shillster/internal/repository"
)

type userService struct {
	repo         repository.UserRepository
	mediaBaseURL string
}

// NewUserService creates a new UserService.
func NewUserService(repo repository.UserRepository, mediaBaseURL string) UserService {
	return &userService{repo: repo, mediaBaseURL: mediaBaseURL}
}

// Register creates the profile of an authenticated identity.
func (s *userService) Register(ctx context.Context, userID string, req *domain.RegisterRequest) (*domain.UserSummary, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	role := req.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	user := &domain.User{
		ID:             userID,
		Handle:         strings.TrimSpace(req.Handle),
		ProfilePicture: strings.TrimSpace(req.ProfilePicture),
		Role:           role,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrHandleExists):
			return nil, ErrHandleTaken
		case errors.Is(err, repository.ErrUserExists):
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	audit.LogWithDetail(ctx, audit.ActionRegister, user.ID, "role="+string(user.Role), "user registered")

	summary := user.ToSummary(s.mediaBaseURL)
	return &summary, nil
}

// GetUser returns the public summary of a user.
func (s *userService) GetUser(ctx context.Context, userID string) (*domain.UserSummary, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	summary := user.ToSummary(s.mediaBaseURL)
	return &summary, nil
}

// IsRole reports whether userID holds role.
func (s *userService) IsRole(ctx context.Context, userID string, role domain.Role) (bool, error) {
	ok, err := s.repo.IsRole(ctx, userID, role)
	if err != nil {
		return false, mapUserErr(err)
	}
	return ok, nil
}

// UpdateProfile applies a partial profile update.
func (s *userService) UpdateProfile(ctx context.Context, userID string, req *domain.UpdateProfileRequest) (*domain.UserSummary, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, ErrInvalidRole
	}

	var picture *string
	if req.ProfilePicture != nil {
		p := strings.TrimSpace(*req.ProfilePicture)
		picture = &p
	}

	user, err := s.repo.UpdateProfile(ctx, userID, picture, req.Role)
	if err != nil {
		return nil, mapUserErr(err)
	}

	detail := "picture"
	if req.Role != nil {
		detail = "role=" + string(*req.Role)
	}
	audit.LogWithDetail(ctx, audit.ActionUpdateProfile, userID, detail, "profile updated")

	summary := user.ToSummary(s.mediaBaseURL)
	return &summary, nil
}

// SetRole changes userID's role.
func (s *userService) SetRole(ctx context.Context, userID string, role domain.Role) (*domain.UserSummary, error) {
	return s.UpdateProfile(ctx, userID, &domain.UpdateProfileRequest{Role: &role})
}

// RecordShill counts one shill for a shiller. Other roles get ErrInvalidRole.
func (s *userService) RecordShill(ctx context.Context, userID string) (*domain.UserSummary, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}

	user, err := s.repo.IncrementShills(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRoleMismatch) {
			return nil, ErrInvalidRole
		}
		return nil, mapUserErr(err)
	}

	audit.Log(ctx, audit.ActionRecordShill, userID, "shill recorded")

	summary := user.ToSummary(s.mediaBaseURL)
	return &summary, nil
}

func mapUserErr(err error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("user repository: %w", err)
}

// Ensure interface is satisfied at compile time.
var _ UserService = (*userService)(nil)
