package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hoangnv/shopcore/internal/database"
	"github.com/hoangnv/shopcore/internal/models"
)

func CreateProduct(ctx context.Context, db *sql.DB, sku, name string, price decimal.Decimal, quantity int) (*models.Product, error) {
	product := &models.Product{}

	err := db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, sku, name, price, quantity, created_at, updated_at`,
		sku, name, price, quantity,
	).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Price,
		&product.Quantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	product := &models.Product{}

	err := db.QueryRowContext(ctx, `
		SELECT id, sku, name, price, quantity, created_at, updated_at
		FROM products
		WHERE id = $1`,
		id,
	).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Price,
		&product.Quantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func CreateVariant(ctx context.Context, db *sql.DB, productID int64, sku, name string) (*models.ProductVariant, error) {
	variant := &models.ProductVariant{}

	err := db.QueryRowContext(ctx, `
		INSERT INTO product_variants (product_id, sku, name, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, product_id, sku, name, created_at`,
		productID, sku, name,
	).Scan(
		&variant.ID,
		&variant.ProductID,
		&variant.SKU,
		&variant.Name,
		&variant.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create variant: %w", err)
	}

	return variant, nil
}
