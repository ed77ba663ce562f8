package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequire(t *testing.T) {
	admin := WithActor(context.Background(), Actor{EmployeeID: 1, Role: RoleAdmin})
	staff := WithActor(context.Background(), Actor{EmployeeID: 2, Role: RoleStaff})

	for _, capability := range []Capability{CapCreateSale, CapCreateOrder, CapAdvanceStatus, CapCancelOrder} {
		_, err := Require(admin, capability)
		assert.NoError(t, err, "admin should have %s", capability)
		_, err = Require(staff, capability)
		assert.NoError(t, err, "staff should have %s", capability)
	}

	_, err := Require(admin, CapConfirmTransfer)
	assert.NoError(t, err)
	_, err = Require(staff, CapConfirmTransfer)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestRequireWithoutActor(t *testing.T) {
	_, err := Require(context.Background(), CapCreateSale)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestRequireUnknownRole(t *testing.T) {
	ctx := WithActor(context.Background(), Actor{EmployeeID: 3, Role: "intern"})
	_, err := Require(ctx, CapCreateSale)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestActorRoundTrip(t *testing.T) {
	actor := Actor{EmployeeID: 42, Name: "Dana", Role: RoleAdmin}
	ctx := WithActor(context.Background(), actor)

	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, actor, got)

	_, ok = ActorFromContext(context.Background())
	assert.False(t, ok)
}
