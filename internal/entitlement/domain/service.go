package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// TryConsumeEntitlement atomically spends one unit of the feature for
	// the user's active subscription. The returned decision says whether
	// the plan covers the feature and whether the unit fit under the cap.
	// Store failures return an error; a failed check never grants access.
	TryConsumeEntitlement(ctx context.Context, userID snowflake.ID, feature string) (Decision, error)

	// PeekEntitlement reports coverage and current usage without consuming.
	PeekEntitlement(ctx context.Context, userID snowflake.ID, feature string) (Decision, error)

	// ReleaseEntitlement returns one previously consumed unit, used when the
	// gated action is rolled back before completion.
	ReleaseEntitlement(ctx context.Context, userID snowflake.ID, feature string) error
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidFeature = errors.New("invalid_feature")
)
