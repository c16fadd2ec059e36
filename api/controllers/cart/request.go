package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/api/validators"
	cartsvc "github.com/angelmondragon/settlement-backend/internal/cart"
)

const maxVariantLen = 64

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Size      string    `json:"size" validate:"max=64"`
	Color     string    `json:"color" validate:"max=64"`
	Quantity  int       `json:"quantity" validate:"required,min=1,max=999"`
}

func (r addItemRequest) toInput() cartsvc.AddItemInput {
	return cartsvc.AddItemInput{
		ProductID: r.ProductID,
		Size:      validators.SanitizeString(r.Size, maxVariantLen),
		Color:     validators.SanitizeString(r.Color, maxVariantLen),
		Quantity:  r.Quantity,
	}
}

// updateItemRequest sets an absolute quantity; zero removes the line.
type updateItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Size      string    `json:"size" validate:"max=64"`
	Color     string    `json:"color" validate:"max=64"`
	Quantity  int       `json:"quantity" validate:"min=0,max=999"`
}

func (r updateItemRequest) key() cartsvc.Key {
	return variantKey(r.ProductID, r.Size, r.Color)
}

type removeItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Size      string    `json:"size" validate:"max=64"`
	Color     string    `json:"color" validate:"max=64"`
}

func (r removeItemRequest) key() cartsvc.Key {
	return variantKey(r.ProductID, r.Size, r.Color)
}

func variantKey(productID uuid.UUID, size, color string) cartsvc.Key {
	return cartsvc.Key{
		ProductID: productID,
		Size:      validators.SanitizeString(size, maxVariantLen),
		Color:     validators.SanitizeString(color, maxVariantLen),
	}
}
