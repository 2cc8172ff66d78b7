package crm

import (
	"context"
	"slices"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
)

func productIndex(products []models.Product, name string) int {
	return slices.IndexFunc(products, func(p models.Product) bool { return p.Name == name })
}

// AddProduct adds a product at the top of the library. Names are unique.
func (c *Coordinator) AddProduct(ctx context.Context, p models.Product) (models.Product, error) {
	p = p.Clone()
	p.Name = strings.TrimSpace(p.Name)
	if p.DefaultTags == nil {
		p.DefaultTags = []string{}
	}
	if err := p.Validate(); err != nil {
		return models.Product{}, err
	}
	err := c.update(ctx, func(s *Snapshot) error {
		if productIndex(s.Products, p.Name) >= 0 {
			return models.Conflict("A product with this name already exists.")
		}
		s.Products = slices.Insert(s.Products, 0, p)
		return nil
	})
	if err != nil {
		return models.Product{}, err
	}
	return p, nil
}

// UpdateProduct replaces the product named originalName. Renaming onto
// another product's name is a conflict.
func (c *Coordinator) UpdateProduct(ctx context.Context, originalName string, p models.Product) (models.Product, error) {
	p = p.Clone()
	p.Name = strings.TrimSpace(p.Name)
	if p.DefaultTags == nil {
		p.DefaultTags = []string{}
	}
	if err := p.Validate(); err != nil {
		return models.Product{}, err
	}
	err := c.update(ctx, func(s *Snapshot) error {
		i := productIndex(s.Products, originalName)
		if i < 0 {
			return models.NotFound("product")
		}
		if j := productIndex(s.Products, p.Name); j >= 0 && j != i {
			return models.Conflict("A product with this name already exists.")
		}
		s.Products[i] = p
		return nil
	})
	if err != nil {
		return models.Product{}, err
	}
	return p, nil
}
