package gateway

import "github.com/mcdev12/showdown/go/internal/apperrors"

var errUserRequired = apperrors.InvalidInput("user_id is required")
