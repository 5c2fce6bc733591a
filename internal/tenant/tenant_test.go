package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	apperrors "github.com/metahub/integrationhub/internal/errors"
)

func TestRequireMember_NoCallerIsUnauthenticated(t *testing.T) {
	_, err := RequireMember(context.Background(), "tenant-a")
	assert := assert.New(t)
	assert.Error(err)
	assert.True(apperrors.IsErrorType(err, apperrors.ErrorTypeAuth))
}

func TestRequireMember_NonMemberIsForbidden(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Memberships: map[string]bool{"tenant-b": true}})
	_, err := RequireMember(ctx, "tenant-a")
	assert.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeAuth))
}

func TestRequireMember_MemberSucceeds(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Memberships: map[string]bool{"tenant-a": true}})
	caller, err := RequireMember(ctx, "tenant-a")
	assert.NoError(t, err)
	assert.Equal(t, "u1", caller.UserID)
}
