package services

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth := NewAuthService(f.store, f.sessions, zerolog.Nop())

	receipt, err := f.purchases.StartPurchase(ctx, "11987654321", "segredo123")
	require.NoError(t, err)

	customer, token, err := auth.Login(ctx, "(11) 98765-4321", "segredo123")
	require.NoError(t, err)
	assert.Equal(t, receipt.Customer.ID, customer.ID)

	claims, err := f.sessions.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, customer.ID, claims.CustomerID)
	assert.Equal(t, "5511987654321", claims.Phone)

	_, _, err = auth.Login(ctx, "11987654321", "errada123")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, _, err = auth.Login(ctx, "21912345678", "segredo123")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, _, err = auth.Login(ctx, "abc", "segredo123")
	assert.ErrorIs(t, err, ErrPhoneInvalid)

	_, _, err = auth.Login(ctx, "11987654321", "123")
	assert.ErrorIs(t, err, ErrPasswordInvalid)
}
