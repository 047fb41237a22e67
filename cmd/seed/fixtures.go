package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/modoria-backend/pkg/db/models"
	"github.com/angelmondragon/modoria-backend/pkg/enums"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type fixtureFile struct {
	Products []productFixture `yaml:"products"`
	Coupons  []couponFixture  `yaml:"coupons"`
}

type productFixture struct {
	SKU      string           `yaml:"sku"`
	Name     string           `yaml:"name"`
	Price    string           `yaml:"price"`
	Currency string           `yaml:"currency"`
	Quantity int              `yaml:"quantity"`
	Inactive bool             `yaml:"inactive"`
	Variants []variantFixture `yaml:"variants"`
}

type variantFixture struct {
	SKU      string `yaml:"sku"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
}

type couponFixture struct {
	Code           string `yaml:"code"`
	Type           string `yaml:"type"`
	Value          string `yaml:"value"`
	MinOrderAmount string `yaml:"min_order_amount"`
	ExpiresAt      string `yaml:"expires_at"`
	UsageLimit     *int   `yaml:"usage_limit"`
	Inactive       bool   `yaml:"inactive"`
}

// seedProduct is a validated product plus the variants that hang off it.
type seedProduct struct {
	Product  models.Product
	Variants []models.ProductVariant
}

type seedData struct {
	Products []seedProduct
	Coupons  []models.Coupon
}

func loadFixtures(path string) (*seedData, error) {
	data := defaultFixtures
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read fixtures: %w", err)
		}
		data = raw
	}
	return parseFixtures(data)
}

func parseFixtures(data []byte) (*seedData, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	out := &seedData{}
	skus := map[string]struct{}{}
	for _, p := range file.Products {
		product, err := p.toSeed(skus)
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", p.SKU, err)
		}
		out.Products = append(out.Products, product)
	}

	codes := map[string]struct{}{}
	for _, c := range file.Coupons {
		coupon, err := c.toModel()
		if err != nil {
			return nil, fmt.Errorf("coupon %q: %w", c.Code, err)
		}
		if _, dup := codes[coupon.Code]; dup {
			return nil, fmt.Errorf("coupon %q: duplicate code", coupon.Code)
		}
		codes[coupon.Code] = struct{}{}
		out.Coupons = append(out.Coupons, coupon)
	}
	return out, nil
}

func (p productFixture) toSeed(skus map[string]struct{}) (seedProduct, error) {
	sku := strings.TrimSpace(p.SKU)
	if sku == "" {
		return seedProduct{}, errors.New("sku is required")
	}
	if err := claimSKU(skus, sku); err != nil {
		return seedProduct{}, err
	}
	if strings.TrimSpace(p.Name) == "" {
		return seedProduct{}, errors.New("name is required")
	}
	price, err := parseAmount(p.Price)
	if err != nil {
		return seedProduct{}, fmt.Errorf("price: %w", err)
	}
	if p.Quantity < 0 {
		return seedProduct{}, errors.New("quantity must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return seedProduct{}, fmt.Errorf("currency %q must be a 3-letter code", p.Currency)
	}

	out := seedProduct{
		Product: models.Product{
			SKU:      sku,
			Name:     strings.TrimSpace(p.Name),
			Price:    price,
			Currency: currency,
			Quantity: p.Quantity,
			IsActive: !p.Inactive,
		},
	}

	if len(p.Variants) == 0 {
		return out, nil
	}

	total := 0
	for _, v := range p.Variants {
		vsku := strings.TrimSpace(v.SKU)
		if vsku == "" {
			return seedProduct{}, errors.New("variant sku is required")
		}
		if err := claimSKU(skus, vsku); err != nil {
			return seedProduct{}, err
		}
		if v.Quantity < 0 {
			return seedProduct{}, fmt.Errorf("variant %q: quantity must not be negative", vsku)
		}
		variant := models.ProductVariant{
			SKU:               vsku,
			Name:              strings.TrimSpace(v.Name),
			InventoryQuantity: v.Quantity,
		}
		if strings.TrimSpace(v.Price) != "" {
			override, err := parseAmount(v.Price)
			if err != nil {
				return seedProduct{}, fmt.Errorf("variant %q price: %w", vsku, err)
			}
			variant.Price = &override
		}
		total += v.Quantity
		out.Variants = append(out.Variants, variant)
	}
	// products with variants carry the summed variant stock
	out.Product.Quantity = total
	return out, nil
}

func (c couponFixture) toModel() (models.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(c.Code))
	if code == "" {
		return models.Coupon{}, errors.New("code is required")
	}
	discountType, err := enums.ParseDiscountType(strings.ToUpper(strings.TrimSpace(c.Type)))
	if err != nil {
		return models.Coupon{}, err
	}
	value, err := parseAmount(c.Value)
	if err != nil {
		return models.Coupon{}, fmt.Errorf("value: %w", err)
	}
	if value.IsZero() {
		return models.Coupon{}, errors.New("value must be positive")
	}
	if discountType == enums.DiscountTypePercent && value.GreaterThan(decimal.NewFromInt(100)) {
		return models.Coupon{}, errors.New("percent value must not exceed 100")
	}

	coupon := models.Coupon{
		Code:          code,
		DiscountType:  discountType,
		DiscountValue: value,
		UsageLimit:    c.UsageLimit,
		IsActive:      !c.Inactive,
	}
	if strings.TrimSpace(c.MinOrderAmount) != "" {
		minimum, err := parseAmount(c.MinOrderAmount)
		if err != nil {
			return models.Coupon{}, fmt.Errorf("min_order_amount: %w", err)
		}
		coupon.MinOrderAmount = &minimum
	}
	if strings.TrimSpace(c.ExpiresAt) != "" {
		expiry, err := time.Parse(time.RFC3339, strings.TrimSpace(c.ExpiresAt))
		if err != nil {
			return models.Coupon{}, fmt.Errorf("expires_at: %w", err)
		}
		expiry = expiry.UTC()
		coupon.ExpiryDate = &expiry
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return models.Coupon{}, errors.New("usage_limit must not be negative")
	}
	return coupon, nil
}

func claimSKU(skus map[string]struct{}, sku string) error {
	if _, dup := skus[sku]; dup {
		return fmt.Errorf("duplicate sku %q", sku)
	}
	skus[sku] = struct{}{}
	return nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, errors.New("amount is required")
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, errors.New("amount must not be negative")
	}
	if amount.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("amount %s has more than two decimal places", trimmed)
	}
	return amount, nil
}
