package warehouse

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaDescription describes the warehouse tables for prompt assembly.
// Loaded from a YAML file so the service can point at any database without
// a rebuild; the built-in default describes the Olist e-commerce dataset.
type SchemaDescription struct {
	Tables []TableDescription `yaml:"tables"`
}

// TableDescription is one table with its columns.
type TableDescription struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Columns     []ColumnDescription `yaml:"columns"`
}

// ColumnDescription is one column of a table.
type ColumnDescription struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

// LoadSchemaDescription reads a schema description from a YAML file.
// An empty path returns the built-in default.
func LoadSchemaDescription(path string) (*SchemaDescription, error) {
	if path == "" {
		return DefaultSchemaDescription(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("warehouse: failed to read schema file: %w", err)
	}

	var desc SchemaDescription
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("warehouse: failed to parse schema file: %w", err)
	}
	if len(desc.Tables) == 0 {
		return nil, fmt.Errorf("warehouse: schema file %s describes no tables", path)
	}

	return &desc, nil
}

// Render produces the plain-text schema block used in SQL generation
// prompts: one line per table signature plus commented columns.
func (d *SchemaDescription) Render() string {
	var b strings.Builder
	for i, table := range d.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "TABLE %s", table.Name)
		if table.Description != "" {
			fmt.Fprintf(&b, " -- %s", table.Description)
		}
		b.WriteString("\n")
		for _, col := range table.Columns {
			fmt.Fprintf(&b, "  %s %s", col.Name, col.Type)
			if col.Description != "" {
				fmt.Fprintf(&b, " -- %s", col.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// DefaultSchemaDescription returns the Olist Brazilian e-commerce schema.
func DefaultSchemaDescription() *SchemaDescription {
	return &SchemaDescription{
		Tables: []TableDescription{
			{
				Name:        "customers",
				Description: "one row per customer order identity",
				Columns: []ColumnDescription{
					{Name: "customer_id", Type: "text", Description: "key to orders"},
					{Name: "customer_unique_id", Type: "text", Description: "stable ID across orders"},
					{Name: "customer_zip_code_prefix", Type: "text"},
					{Name: "customer_city", Type: "text"},
					{Name: "customer_state", Type: "text", Description: "two-letter state code"},
				},
			},
			{
				Name:        "geolocation",
				Description: "zip code prefix coordinates",
				Columns: []ColumnDescription{
					{Name: "geolocation_zip_code_prefix", Type: "text"},
					{Name: "geolocation_lat", Type: "double precision"},
					{Name: "geolocation_lng", Type: "double precision"},
					{Name: "geolocation_city", Type: "text"},
					{Name: "geolocation_state", Type: "text"},
				},
			},
			{
				Name:        "sellers",
				Description: "marketplace sellers",
				Columns: []ColumnDescription{
					{Name: "seller_id", Type: "text"},
					{Name: "seller_zip_code_prefix", Type: "text"},
					{Name: "seller_city", Type: "text"},
					{Name: "seller_state", Type: "text"},
				},
			},
			{
				Name:        "products",
				Description: "catalog products",
				Columns: []ColumnDescription{
					{Name: "product_id", Type: "text"},
					{Name: "product_category_name", Type: "text", Description: "Portuguese category name"},
					{Name: "product_name_length", Type: "integer"},
					{Name: "product_description_length", Type: "integer"},
					{Name: "product_photos_qty", Type: "integer"},
					{Name: "product_weight_g", Type: "integer"},
					{Name: "product_length_cm", Type: "integer"},
					{Name: "product_height_cm", Type: "integer"},
					{Name: "product_width_cm", Type: "integer"},
				},
			},
			{
				Name:        "category_translation",
				Description: "Portuguese to English category names",
				Columns: []ColumnDescription{
					{Name: "product_category_name", Type: "text"},
					{Name: "product_category_name_english", Type: "text"},
				},
			},
			{
				Name:        "orders",
				Description: "one row per order",
				Columns: []ColumnDescription{
					{Name: "order_id", Type: "text"},
					{Name: "customer_id", Type: "text"},
					{Name: "order_status", Type: "text", Description: "delivered, shipped, canceled, ..."},
					{Name: "order_purchase_timestamp", Type: "timestamp"},
					{Name: "order_approved_at", Type: "timestamp"},
					{Name: "order_delivered_carrier_date", Type: "timestamp"},
					{Name: "order_delivered_customer_date", Type: "timestamp"},
					{Name: "order_estimated_delivery_date", Type: "timestamp"},
				},
			},
			{
				Name:        "order_items",
				Description: "line items per order",
				Columns: []ColumnDescription{
					{Name: "order_id", Type: "text"},
					{Name: "order_item_id", Type: "integer", Description: "1-based item position"},
					{Name: "product_id", Type: "text"},
					{Name: "seller_id", Type: "text"},
					{Name: "shipping_limit_date", Type: "timestamp"},
					{Name: "price", Type: "numeric"},
					{Name: "freight_value", Type: "numeric"},
				},
			},
			{
				Name:        "order_payments",
				Description: "payments per order, possibly several",
				Columns: []ColumnDescription{
					{Name: "order_id", Type: "text"},
					{Name: "payment_sequential", Type: "integer"},
					{Name: "payment_type", Type: "text", Description: "credit_card, boleto, voucher, debit_card"},
					{Name: "payment_installments", Type: "integer"},
					{Name: "payment_value", Type: "numeric"},
				},
			},
			{
				Name:        "order_reviews",
				Description: "customer reviews per order",
				Columns: []ColumnDescription{
					{Name: "review_id", Type: "text"},
					{Name: "order_id", Type: "text"},
					{Name: "review_score", Type: "integer", Description: "1 to 5"},
					{Name: "review_comment_title", Type: "text"},
					{Name: "review_comment_message", Type: "text"},
					{Name: "review_creation_date", Type: "timestamp"},
					{Name: "review_answer_timestamp", Type: "timestamp"},
				},
			},
		},
	}
}
