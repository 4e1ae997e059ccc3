package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// ResolveFee computes the payable amount for one action. It never
	// writes; store read failures degrade to the base fee.
	ResolveFee(ctx context.Context, userID snowflake.ID, actionType ActionType) (FeeQuote, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidAction  = errors.New("invalid_action_type")
	ErrUnknownBaseFee = errors.New("unknown_base_fee")
)
