package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/migrate"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

func newUsersTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:users_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.ApplySQLite(conn))
	return conn
}

func TestRepositoryCreateAndFind(t *testing.T) {
	repo := NewRepository(newUsersTestDB(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateUserDTO{
		Email:     " Buyer@Example.com ",
		FirstName: " Mona ",
		LastName:  "Adel",
		Address:   &types.ShippingAddress{Street: "12 Tahrir St", City: "Cairo", Country: "EG"},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleBuyer, created.Role)
	assert.Equal(t, "buyer@example.com", created.Email)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mona", byID.FirstName)
	require.NotNil(t, byID.Address)
	assert.Equal(t, "Cairo", byID.Address.City)
	assert.Empty(t, byID.Address.MissingFields())
}

func TestRepositoryCreateKeepsExplicitRole(t *testing.T) {
	repo := NewRepository(newUsersTestDB(t))
	created, err := repo.Create(context.Background(), CreateUserDTO{Email: "ops@example.com", Role: enums.UserRoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, created.Role)
}

func TestRepositoryFindByIDMissing(t *testing.T) {
	repo := NewRepository(newUsersTestDB(t))
	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
