package handlers

import (
	"context"

	"github.com/insureflow/insureflow/internal/crm"
	"github.com/insureflow/insureflow/internal/models"
)

// PolicyHandler serves the policy collection.
type PolicyHandler struct {
	crm *crm.Coordinator
}

// NewPolicyHandler returns a PolicyHandler.
func NewPolicyHandler(c *crm.Coordinator) *PolicyHandler {
	return &PolicyHandler{crm: c}
}

// ListPoliciesRequest is the request type for ListPolicies (empty).
type ListPoliciesRequest struct{}

// ListPoliciesResponse lists policies, newest first.
type ListPoliciesResponse struct {
	Policies []models.Policy `json:"policies"`
}

// ListPolicies returns every policy.
func (h *PolicyHandler) ListPolicies(ctx context.Context, req ListPoliciesRequest) (*ListPoliciesResponse, error) {
	return &ListPoliciesResponse{Policies: h.crm.Snapshot().Policies}, nil
}

// PolicyIDRequest names a policy.
type PolicyIDRequest struct {
	ID string `path:"id" json:"-"`
}

// GetPolicy returns one policy.
func (h *PolicyHandler) GetPolicy(ctx context.Context, req PolicyIDRequest) (*models.Policy, error) {
	p, err := h.crm.Policy(req.ID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePolicyRequest is the request type for CreatePolicy.
type CreatePolicyRequest struct {
	Policy models.Policy `json:"policy"`
	// IsNewProduct registers the plan in the product library.
	IsNewProduct bool `json:"isNewProduct"`
}

// CreatePolicy saves a new policy.
func (h *PolicyHandler) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*crm.SaveResult, error) {
	return h.crm.SavePolicy(ctx, req.Policy, req.IsNewProduct)
}

// UpdatePolicyRequest is the request type for UpdatePolicy.
type UpdatePolicyRequest struct {
	ID     string        `path:"id" json:"-"`
	Policy models.Policy `json:"policy"`
}

// UpdatePolicy replaces a policy locally.
func (h *PolicyHandler) UpdatePolicy(ctx context.Context, req UpdatePolicyRequest) (*models.Policy, error) {
	if req.Policy.ID != "" && req.Policy.ID != req.ID {
		return nil, models.BadRequest("policy id does not match the path")
	}
	req.Policy.ID = req.ID
	p, err := h.crm.UpdatePolicy(ctx, req.Policy)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePolicyResponse is the response for DeletePolicy (empty).
type DeletePolicyResponse struct{}

// DeletePolicy removes a policy locally.
func (h *PolicyHandler) DeletePolicy(ctx context.Context, req PolicyIDRequest) (*DeletePolicyResponse, error) {
	if err := h.crm.DeletePolicy(ctx, req.ID); err != nil {
		return nil, err
	}
	return &DeletePolicyResponse{}, nil
}
