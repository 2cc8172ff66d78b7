package crm

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/insureflow/insureflow/internal/notice"
	"github.com/insureflow/insureflow/internal/reconcile"
)

// Notice messages for policy changes.
const (
	msgAppendFailed = "Saved locally, but failed to save to sheet."
	msgUpdateCaveat = "Note: updates currently save locally. Resyncing will overwrite this."
)

// SaveResult reports where a saved policy landed.
type SaveResult struct {
	Policy models.Policy `json:"policy"`
	// Synced is true when the policy was appended to the spreadsheet.
	Synced bool `json:"synced"`
	// Warning is set when the spreadsheet append failed.
	Warning string `json:"warning,omitempty"`
}

// SavePolicy records a new policy, upserts its holder and, when isNewProduct
// is set, registers its plan as a product. When connected, the policy is then
// appended to the spreadsheet; a failure there keeps the local change.
//
// An empty policy id is generated.
func (c *Coordinator) SavePolicy(ctx context.Context, p models.Policy, isNewProduct bool) (*SaveResult, error) {
	p = p.Clone()
	p.HolderName = strings.TrimSpace(p.HolderName)
	if p.ID == "" {
		p.ID = newID("p-")
	}
	if p.ExtractedTags == nil {
		p.ExtractedTags = []string{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	today := c.today()
	err := c.update(ctx, func(s *Snapshot) error {
		if slices.ContainsFunc(s.Policies, func(x models.Policy) bool { return x.ID == p.ID }) {
			return models.Conflict(fmt.Sprintf("policy %q already exists", p.ID))
		}
		s.Policies = slices.Insert(s.Policies, 0, p)
		upsertHolder(s, &p, today)
		if isNewProduct && p.PlanName != "" && productIndex(s.Products, p.PlanName) < 0 {
			s.Products = append(s.Products, models.Product{
				Name:        p.PlanName,
				Provider:    UnknownProvider,
				Type:        p.Type,
				DefaultTags: []string{string(p.Type)},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := &SaveResult{Policy: p}
	if !c.remote.Connected() {
		return res, nil
	}
	conn, err := c.remote.Connection()
	if err == nil {
		err = conn.AppendOne(ctx, &p)
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to append policy to sheet", "policy", p.ID, "err", err)
		c.notify(ctx, notice.Warning, msgAppendFailed, err)
		res.Warning = msgAppendFailed
		return res, nil
	}
	res.Synced = true
	return res, nil
}

// upsertHolder creates the policy holder as a lead or updates the existing
// client with the same name.
func upsertHolder(s *Snapshot, p *models.Policy, today string) {
	i := slices.IndexFunc(s.Clients, func(x models.Client) bool { return x.Name == p.HolderName })
	if i < 0 {
		birthday := p.ClientBirthday
		if birthday == "" {
			birthday = reconcile.DefaultBirthday
		}
		s.Clients = slices.Insert(s.Clients, 0, models.Client{
			ID:            newID("c-"),
			Name:          p.HolderName,
			Email:         PendingEmail,
			Phone:         PendingPhone,
			Birthday:      birthday,
			TotalPolicies: 1,
			LastContact:   today,
			Status:        models.ClientStatusLead,
			Tags:          reconcile.MergeTags(nil, p.ExtractedTags),
		})
		return
	}
	cl := s.Clients[i].Clone()
	cl.TotalPolicies++
	cl.LastContact = today
	cl.Birthday = reconcile.PickBirthday(cl.Birthday, p.ClientBirthday)
	cl.Tags = reconcile.MergeTags(cl.Tags, p.ExtractedTags)
	s.Clients[i] = cl
}

// UpdatePolicy replaces the policy with the same id. The spreadsheet is not
// updated; a notice says so when connected.
func (c *Coordinator) UpdatePolicy(ctx context.Context, p models.Policy) (models.Policy, error) {
	p = p.Clone()
	if p.ExtractedTags == nil {
		p.ExtractedTags = []string{}
	}
	if err := p.Validate(); err != nil {
		return models.Policy{}, err
	}
	err := c.update(ctx, func(s *Snapshot) error {
		i := slices.IndexFunc(s.Policies, func(x models.Policy) bool { return x.ID == p.ID })
		if i < 0 {
			return models.NotFound("policy")
		}
		s.Policies[i] = p
		return nil
	})
	if err != nil {
		return models.Policy{}, err
	}
	if c.remote.Connected() {
		c.notify(ctx, notice.Info, msgUpdateCaveat, nil)
	}
	return p, nil
}

// DeletePolicy removes a policy and decrements its holder's policy count,
// never below zero. The spreadsheet row is left in place.
func (c *Coordinator) DeletePolicy(ctx context.Context, id string) error {
	return c.update(ctx, func(s *Snapshot) error {
		i := slices.IndexFunc(s.Policies, func(x models.Policy) bool { return x.ID == id })
		if i < 0 {
			return models.NotFound("policy")
		}
		holder := s.Policies[i].HolderName
		s.Policies = slices.Delete(s.Policies, i, i+1)
		for j := range s.Clients {
			if s.Clients[j].Name == holder {
				s.Clients[j].TotalPolicies = max(0, s.Clients[j].TotalPolicies-1)
			}
		}
		return nil
	})
}

// Policy returns the policy with the given id.
func (c *Coordinator) Policy(id string) (models.Policy, error) {
	s := c.Snapshot()
	i := slices.IndexFunc(s.Policies, func(x models.Policy) bool { return x.ID == id })
	if i < 0 {
		return models.Policy{}, models.NotFound("policy")
	}
	return s.Policies[i], nil
}
