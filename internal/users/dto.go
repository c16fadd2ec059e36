package users

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// CreateUserDTO is a buyer profile to insert. Role defaults to buyer.
type CreateUserDTO struct {
	Email     string
	FirstName string
	LastName  string
	Phone     *string
	Role      enums.UserRole
	Address   *types.ShippingAddress
}

func (d CreateUserDTO) ToModel() *models.User {
	role := d.Role
	if role == "" {
		role = enums.UserRoleBuyer
	}
	return &models.User{
		ID:        uuid.New(),
		Email:     strings.ToLower(strings.TrimSpace(d.Email)),
		FirstName: strings.TrimSpace(d.FirstName),
		LastName:  strings.TrimSpace(d.LastName),
		Phone:     d.Phone,
		Role:      role,
		Address:   d.Address,
	}
}
