package cart

import (
	cartdto "github.com/angelmondragon/modoria-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/modoria-backend/internal/cart"
)

func toAddItemInput(payload cartdto.AddItemRequest) cart.AddItemInput {
	return cart.AddItemInput{
		ProductID: payload.ProductID,
		VariantID: payload.VariantID,
		Quantity:  payload.Quantity,
	}
}
