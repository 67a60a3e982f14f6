package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/backend/internal/auth"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var (
	// ErrInvalidUser indicates a username or password that fails validation.
	ErrInvalidUser = errors.New("users: invalid user")
	// ErrUsernameTaken indicates a registration for an existing username.
	ErrUsernameTaken = errors.New("users: username taken")
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates a lookup for an unknown user id.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrForbidden indicates a principal acting on an account other than its own.
	ErrForbidden = errors.New("users: forbidden")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages user accounts and resolves principal ids to display names.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
	}, nil
}

// Register creates a new account with a bcrypt hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	name, err := validateUsername(username)
	if err != nil {
		return User{}, err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}
	if err := s.ensureUsernameFree(ctx, name, ""); err != nil {
		return User{}, err
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}
	user := User{
		UserID:       userID,
		Username:     name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrUsernameTaken
		}
		return User{}, err
	}
	return user, nil
}

// Authenticate returns the account whose username and password match.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("lower(username) = ?", strings.ToLower(normalize(username))).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	return user, nil
}

// Get loads one account by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// List returns every account ordered by username.
func (s *Service) List(ctx context.Context) ([]User, error) {
	var found []User
	if err := s.db.WithContext(ctx).Order("username COLLATE NOCASE ASC").Find(&found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

// Update changes the principal's own username and/or password. Acting on another account
// is Forbidden before the target is even looked up.
func (s *Service) Update(ctx context.Context, principalID, userID string, request UpdateRequest) (User, error) {
	if normalize(principalID) == "" || normalize(principalID) != normalize(userID) {
		return User{}, ErrForbidden
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}

	changes := map[string]any{}
	if request.Username != nil {
		name, err := validateUsername(*request.Username)
		if err != nil {
			return User{}, err
		}
		if err := s.ensureUsernameFree(ctx, name, user.UserID); err != nil {
			return User{}, err
		}
		changes["username"] = name
		user.Username = name
	}
	if request.Password != nil {
		hash, err := hashPassword(*request.Password)
		if err != nil {
			return User{}, err
		}
		changes["password_hash"] = hash
		user.PasswordHash = hash
	}
	if len(changes) == 0 {
		return user, nil
	}

	updatedAt := s.now().UTC()
	changes["updated_at"] = updatedAt
	err = s.db.WithContext(ctx).Model(&User{}).Where("user_id = ?", user.UserID).Updates(changes).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return User{}, ErrUsernameTaken
	}
	if err != nil {
		return User{}, err
	}
	user.UpdatedAt = updatedAt
	return user, nil
}

// Delete removes the principal's own account. Posts and comments it authored are kept;
// their author names resolve to "" afterwards.
func (s *Service) Delete(ctx context.Context, principalID, userID string) error {
	if normalize(principalID) == "" || normalize(principalID) != normalize(userID) {
		return ErrForbidden
	}
	result := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Delete(&User{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DisplayNames resolves principal ids to usernames in one query. Unknown ids are omitted.
func (s *Service) DisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	wanted := lo.Uniq(lo.Compact(userIDs))
	names := make(map[string]string, len(wanted))
	if len(wanted) == 0 {
		return names, nil
	}

	var found []User
	if err := s.db.WithContext(ctx).
		Select("user_id", "username").
		Where("user_id IN ?", wanted).
		Find(&found).Error; err != nil {
		return nil, err
	}
	for _, user := range found {
		names[user.UserID] = user.Username
	}
	return names, nil
}

func (s *Service) ensureUsernameFree(ctx context.Context, name, exceptUserID string) error {
	query := s.db.WithContext(ctx).Model(&User{}).Where("lower(username) = ?", strings.ToLower(name))
	if exceptUserID != "" {
		query = query.Where("user_id <> ?", exceptUserID)
	}
	var existing int64
	if err := query.Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrUsernameTaken
	}
	return nil
}

func validateUsername(username string) (string, error) {
	name := normalize(username)
	if !usernamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", ErrInvalidUser)
	}
	return name, nil
}

func hashPassword(password string) (string, error) {
	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return "", fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	return hash, err
}
