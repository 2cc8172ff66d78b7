package crm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
)

// AddClient adds a client at the top of the roster. An empty id is generated
// and an empty status defaults to Lead.
func (c *Coordinator) AddClient(ctx context.Context, cl models.Client) (models.Client, error) {
	cl = cl.Clone()
	cl.Name = strings.TrimSpace(cl.Name)
	if cl.ID == "" {
		cl.ID = newID("c-")
	}
	if cl.Status == "" {
		cl.Status = models.ClientStatusLead
	}
	if cl.Tags == nil {
		cl.Tags = []string{}
	}
	if err := cl.Validate(); err != nil {
		return models.Client{}, err
	}
	err := c.update(ctx, func(s *Snapshot) error {
		if slices.ContainsFunc(s.Clients, func(x models.Client) bool { return x.ID == cl.ID }) {
			return models.Conflict(fmt.Sprintf("client %q already exists", cl.ID))
		}
		s.Clients = slices.Insert(s.Clients, 0, cl)
		return nil
	})
	if err != nil {
		return models.Client{}, err
	}
	return cl, nil
}

// UpdateClient replaces the client with the given id.
func (c *Coordinator) UpdateClient(ctx context.Context, id string, cl models.Client) (models.Client, error) {
	cl = cl.Clone()
	cl.ID = id
	if cl.Tags == nil {
		cl.Tags = []string{}
	}
	if err := cl.Validate(); err != nil {
		return models.Client{}, err
	}
	err := c.update(ctx, func(s *Snapshot) error {
		i := slices.IndexFunc(s.Clients, func(x models.Client) bool { return x.ID == id })
		if i < 0 {
			return models.NotFound("client")
		}
		s.Clients[i] = cl
		return nil
	})
	if err != nil {
		return models.Client{}, err
	}
	return cl, nil
}

// Client returns the client with the given id.
func (c *Coordinator) Client(id string) (models.Client, error) {
	s := c.Snapshot()
	i := slices.IndexFunc(s.Clients, func(x models.Client) bool { return x.ID == id })
	if i < 0 {
		return models.Client{}, models.NotFound("client")
	}
	return s.Clients[i], nil
}

// ClientPolicies returns the policies held by the client with the given id.
func (c *Coordinator) ClientPolicies(id string) ([]models.Policy, error) {
	s := c.Snapshot()
	i := slices.IndexFunc(s.Clients, func(x models.Client) bool { return x.ID == id })
	if i < 0 {
		return nil, models.NotFound("client")
	}
	name := s.Clients[i].Name
	out := []models.Policy{}
	for _, p := range s.Policies {
		if p.HolderName == name {
			out = append(out, p)
		}
	}
	return out, nil
}
