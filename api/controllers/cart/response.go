package cart

import (
	cartdto "github.com/angelmondragon/modoria-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
)

func newCart(record *models.Cart) cartdto.Cart {
	out := cartdto.Cart{
		ID:        record.ID,
		Currency:  record.Currency,
		Lines:     make([]cartdto.CartLine, 0, len(record.Lines)),
		Subtotal:  record.Subtotal().StringFixed(2),
		UpdatedAt: record.UpdatedAt,
	}
	for _, line := range record.Lines {
		out.ItemCount += line.Quantity
		out.Lines = append(out.Lines, cartdto.CartLine{
			ID:              line.ID,
			ProductID:       line.ProductID,
			VariantID:       line.VariantID,
			Quantity:        line.Quantity,
			PriceAtAddition: line.PriceAtAddition.StringFixed(2),
			LineTotal:       line.LineTotal().StringFixed(2),
		})
	}
	return out
}
