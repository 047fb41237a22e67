package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/modoria-backend/pkg/auth"
	"github.com/angelmondragon/modoria-backend/pkg/config"
	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type seedResult struct {
	Products int
	Variants int
	Coupons  int
}

// applySeed upserts the catalog and coupons in one transaction. Re-running it
// refreshes prices and stock but leaves coupon usage counts alone.
func applySeed(ctx context.Context, runner txRunner, data *seedData) (seedResult, error) {
	var result seedResult
	err := runner.WithTx(ctx, func(tx *gorm.DB) error {
		result = seedResult{}
		for _, item := range data.Products {
			variants, err := upsertProduct(tx, item)
			if err != nil {
				return err
			}
			result.Products++
			result.Variants += variants
		}
		for _, coupon := range data.Coupons {
			if err := upsertCoupon(tx, coupon); err != nil {
				return err
			}
			result.Coupons++
		}
		return nil
	})
	return result, err
}

func upsertProduct(tx *gorm.DB, item seedProduct) (int, error) {
	product := item.Product
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "price", "currency", "quantity", "is_active", "updated_at"}),
	}).Create(&product).Error; err != nil {
		return 0, fmt.Errorf("upsert product %s: %w", product.SKU, err)
	}

	var stored models.Product
	if err := tx.Where("sku = ?", product.SKU).First(&stored).Error; err != nil {
		return 0, fmt.Errorf("reload product %s: %w", product.SKU, err)
	}

	for _, v := range item.Variants {
		variant := v
		variant.ProductID = stored.ID
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoUpdates: clause.AssignmentColumns([]string{"product_id", "name", "price", "inventory_quantity", "updated_at"}),
		}).Create(&variant).Error; err != nil {
			return 0, fmt.Errorf("upsert variant %s: %w", variant.SKU, err)
		}
	}
	return len(item.Variants), nil
}

func upsertCoupon(tx *gorm.DB, coupon models.Coupon) error {
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"discount_type", "discount_value", "min_order_amount", "expiry_date", "usage_limit", "is_active", "updated_at",
		}),
	}).Create(&coupon).Error; err != nil {
		return fmt.Errorf("upsert coupon %s: %w", coupon.Code, err)
	}
	return nil
}

type devToken struct {
	Role   enums.UserRole
	UserID uuid.UUID
	Token  string
}

var (
	devCustomerID = uuid.MustParse("0b6f5a2e-4c1d-4d7a-9c53-0f3e8a1b2c01")
	devAdminID    = uuid.MustParse("0b6f5a2e-4c1d-4d7a-9c53-0f3e8a1b2c02")
)

// mintDevTokens issues one customer and one admin token for local testing.
func mintDevTokens(cfg config.JWTConfig, now time.Time) ([]devToken, error) {
	identities := []struct {
		role  enums.UserRole
		id    uuid.UUID
		email string
	}{
		{enums.UserRoleCustomer, devCustomerID, "customer@modoria.local"},
		{enums.UserRoleAdmin, devAdminID, "admin@modoria.local"},
	}

	tokens := make([]devToken, 0, len(identities))
	for _, identity := range identities {
		token, err := auth.MintAccessToken(cfg, now, auth.AccessTokenPayload{
			UserID: identity.id,
			Email:  identity.email,
			Role:   identity.role,
			JTI:    ulid.Make().String(),
		})
		if err != nil {
			return nil, fmt.Errorf("mint %s token: %w", identity.role, err)
		}
		tokens = append(tokens, devToken{Role: identity.role, UserID: identity.id, Token: token})
	}
	return tokens, nil
}
