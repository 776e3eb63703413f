package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/identity"
	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/store/storetest"
	"github.com/skylog-io/skylog/internal/token"
)

func bridgeConfig() config.TokenConfig {
	return config.TokenConfig{
		AccessSecret:  "access-secret-for-tests-0123456789ab",
		RefreshSecret: "refresh-secret-for-tests-0123456789a",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    720 * time.Hour,
	}
}

func TestLoginIssuesPairForNewAccount(t *testing.T) {
	fake := storetest.New()
	bridge := NewBridge(fake, bridgeConfig(), zap.NewNop())

	result, err := bridge.Login(context.Background(), identity.Assertion{
		Provider: models.ProviderGoogle,
		Subject:  "g1",
		Email:    "a@x.com",
		Name:     "Ada",
	})
	require.NoError(t, err)
	assert.True(t, result.NewAccount)
	assert.NotEmpty(t, result.Pair.AccessToken)
	assert.NotEmpty(t, result.Pair.RefreshToken)
	assert.False(t, result.Account.LastActiveAt.IsZero())

	// Exactly one refresh credential per login.
	assert.Equal(t, 1, fake.RefreshTokenCount(result.Account.ID))

	svc := token.NewService(fake, bridgeConfig(), zap.NewNop())
	id, err := svc.VerifyAccess(result.Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, id)
}

func TestLoginAgainKeepsOldRefreshTokenValid(t *testing.T) {
	fake := storetest.New()
	bridge := NewBridge(fake, bridgeConfig(), zap.NewNop())
	ctx := context.Background()
	assertion := identity.Assertion{
		Provider: models.ProviderGoogle,
		Subject:  "g1",
		Email:    "a@x.com",
	}

	first, err := bridge.Login(ctx, assertion)
	require.NoError(t, err)
	second, err := bridge.Login(ctx, assertion)
	require.NoError(t, err)

	assert.False(t, second.NewAccount)
	assert.Equal(t, first.Account.ID, second.Account.ID)
	assert.Equal(t, 2, fake.RefreshTokenCount(first.Account.ID))

	// Multi-device policy: the first session's refresh token still works.
	svc := token.NewService(fake, bridgeConfig(), zap.NewNop())
	_, err = svc.Refresh(ctx, first.Pair.RefreshToken)
	assert.NoError(t, err)
}
