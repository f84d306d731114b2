package server

import (
	"errors"

	"github.com/Verridian-ai/cortex-relume-sub000/internal/access"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/collab"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/share"
	"github.com/Verridian-ai/cortex-relume-sub000/internal/users"
)

func isValidationError(err error) bool {
	return errors.Is(err, access.ErrInvalidLevel) ||
		errors.Is(err, collab.ErrValidation) ||
		errors.Is(err, share.ErrValidation) ||
		errors.Is(err, users.ErrInvalidEmail) ||
		errors.Is(err, presence.ErrInvalidHeartbeat)
}

func validationCode(err error) string {
	if errors.Is(err, access.ErrInvalidLevel) {
		return "invalid_permission_level"
	}
	return "validation_error"
}
