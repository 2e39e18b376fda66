package user

import "context"

type Repository interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ListForAssignment(ctx context.Context, params ListParams) ([]User, int, error)
	ProcessorProfile(ctx context.Context, userID int64) (*ProcessorProfile, error)
	SaveSourceID(ctx context.Context, userID int64, sourceID string) error
}
