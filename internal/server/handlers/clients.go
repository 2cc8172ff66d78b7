package handlers

import (
	"context"

	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/models"
)

// ClientHandler serves the client roster and the product library.
type ClientHandler struct {
	crm *crm.Coordinator
}

// NewClientHandler returns a ClientHandler.
func NewClientHandler(c *crm.Coordinator) *ClientHandler {
	return &ClientHandler{crm: c}
}

// ListClientsRequest is the request type for ListClients (empty).
type ListClientsRequest struct{}

// ListClientsResponse lists clients, newest first.
type ListClientsResponse struct {
	Clients []models.Client `json:"clients"`
}

// ListClients returns every client.
func (h *ClientHandler) ListClients(ctx context.Context, req ListClientsRequest) (*ListClientsResponse, error) {
	return &ListClientsResponse{Clients: h.crm.Snapshot().Clients}, nil
}

// CreateClientRequest is the request type for CreateClient.
type CreateClientRequest struct {
	Client models.Client `json:"client"`
}

// CreateClient adds a client.
func (h *ClientHandler) CreateClient(ctx context.Context, req CreateClientRequest) (*models.Client, error) {
	c, err := h.crm.AddClient(ctx, req.Client)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateClientRequest is the request type for UpdateClient.
type UpdateClientRequest struct {
	ID     string        `path:"id" json:"-"`
	Client models.Client `json:"client"`
}

// UpdateClient replaces a client.
func (h *ClientHandler) UpdateClient(ctx context.Context, req UpdateClientRequest) (*models.Client, error) {
	if req.Client.ID != "" && req.Client.ID != req.ID {
		return nil, models.BadRequest("client id does not match the path")
	}
	c, err := h.crm.UpdateClient(ctx, req.ID, req.Client)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClientPoliciesRequest is the request type for ClientPolicies.
type ClientPoliciesRequest struct {
	ID string `path:"id" json:"-"`
}

// ClientPolicies returns the policies held by a client.
func (h *ClientHandler) ClientPolicies(ctx context.Context, req ClientPoliciesRequest) (*ListPoliciesResponse, error) {
	p, err := h.crm.ClientPolicies(req.ID)
	if err != nil {
		return nil, err
	}
	return &ListPoliciesResponse{Policies: p}, nil
}

// ListProductsRequest is the request type for ListProducts (empty).
type ListProductsRequest struct{}

// ListProductsResponse lists the product library.
type ListProductsResponse struct {
	Products []models.Product `json:"products"`
}

// ListProducts returns every product.
func (h *ClientHandler) ListProducts(ctx context.Context, req ListProductsRequest) (*ListProductsResponse, error) {
	return &ListProductsResponse{Products: h.crm.Snapshot().Products}, nil
}

// CreateProductRequest is the request type for CreateProduct.
type CreateProductRequest struct {
	Product models.Product `json:"product"`
}

// CreateProduct adds a product.
func (h *ClientHandler) CreateProduct(ctx context.Context, req CreateProductRequest) (*models.Product, error) {
	p, err := h.crm.AddProduct(ctx, req.Product)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProductRequest is the request type for UpdateProduct.
type UpdateProductRequest struct {
	Name    string         `path:"name" json:"-"`
	Product models.Product `json:"product"`
}

// UpdateProduct replaces the product named in the path.
func (h *ClientHandler) UpdateProduct(ctx context.Context, req UpdateProductRequest) (*models.Product, error) {
	p, err := h.crm.UpdateProduct(ctx, req.Name, req.Product)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
