package storage

import (
	"context"
	"errors"

	"loopcast/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("storage: record already exists")
	// ErrInvalidCredentials is returned for a failed login attempt without
	// revealing whether the username exists.
	ErrInvalidCredentials = errors.New("storage: invalid credentials")
	// ErrLocked is returned when deleting a media file that an active
	// broadcast depends on.
	ErrLocked = errors.New("storage: media file is locked")
)

// CreateUserParams collects the fields needed to register an account. The
// password arrives in the clear and is hashed by the store.
type CreateUserParams struct {
	Username string
	Password string
	Role     string
	PlanID   string
}

// UserUpdate applies partial changes to a user. Nil fields are untouched.
type UserUpdate struct {
	PlanID      *string
	Role        *string
	Password    *string
	StorageUsed *int64
}

// CreateMediaParams registers a media file record. The file itself is
// placed on disk by a collaborator; the store only tracks it.
type CreateMediaParams struct {
	OwnerID   string
	Filename  string
	Path      string
	SizeBytes int64
	Type      models.MediaType
}

// Repository exposes the datastore operations required by the API handlers
// and the stream engine's quota accounting.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, id string, update UserUpdate) (models.User, error)
	DeleteUser(ctx context.Context, id string) error

	ListPlans(ctx context.Context) ([]models.Plan, error)
	GetPlan(ctx context.Context, id string) (models.Plan, error)
	UpsertPlan(ctx context.Context, plan models.Plan) (models.Plan, error)

	AddMediaFile(ctx context.Context, params CreateMediaParams) (models.MediaFile, error)
	ListMediaFiles(ctx context.Context, ownerID string) ([]models.MediaFile, error)
	GetMediaFile(ctx context.Context, id string) (models.MediaFile, error)
	SetMediaLocked(ctx context.Context, id string, locked bool) (models.MediaFile, error)
	DeleteMediaFile(ctx context.Context, id string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)

	// SyncUsage applies the usage reset policy to the user and returns the
	// refreshed user together with their plan.
	SyncUsage(ctx context.Context, userID string) (models.User, models.Plan, error)
	// AddUsage syncs, then charges deltaSeconds of watch time.
	AddUsage(ctx context.Context, userID string, deltaSeconds int64) (models.User, models.Plan, error)
}
