package requestdata

import (
	"context"

	"github.com/google/uuid"
)

var requestDataKey = struct{}{}

// RolePlatformOperator marks callers allowed to manage the system-default
// knowledge namespace.
const RolePlatformOperator = "platform_operator"

// RequestData is the caller identity resolved by the surrounding platform.
// The Brain never issues or refreshes it; the identity middleware only decodes it.
type RequestData struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           string
}

func (rd *RequestData) IsPlatformOperator() bool {
	return rd != nil && rd.Role == RolePlatformOperator
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}
