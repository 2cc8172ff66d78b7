// Package reconcile derives the client roster from policy records.
package reconcile

import (
	"strings"
	"unicode"

	"github.com/insureflow/insureflow/internal/models"
)

// Placeholder values for clients synthesized from a sheet.
const (
	DefaultBirthday = "1990-01-01"
	SyncedEmail     = "synced@sheet.com"
	UnknownPhone    = "Unknown"
)

// DateLayout is the layout of Client.LastContact.
const DateLayout = "2006-01-02"

// ClientID returns the synthesized identifier for a holder name.
func ClientID(name string) string {
	return "c-" + strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
}

// Rebuild returns one client per distinct holder name in policies, in order of
// first appearance.
//
// The result replaces the roster entirely; fields edited locally are not
// carried over. today is written to LastContact.
func Rebuild(policies []models.Policy, today string) []models.Client {
	clients := []models.Client{}
	index := map[string]int{}
	for i := range policies {
		p := &policies[i]
		j, ok := index[p.HolderName]
		if !ok {
			birthday := p.ClientBirthday
			if birthday == "" {
				birthday = DefaultBirthday
			}
			j = len(clients)
			index[p.HolderName] = j
			clients = append(clients, models.Client{
				ID:          ClientID(p.HolderName),
				Name:        p.HolderName,
				Email:       SyncedEmail,
				Phone:       UnknownPhone,
				Birthday:    birthday,
				LastContact: today,
				Status:      models.ClientStatusActive,
				Tags:        []string{},
			})
		}
		c := &clients[j]
		c.TotalPolicies++
		c.Tags = MergeTags(c.Tags, p.ExtractedTags)
		c.Birthday = PickBirthday(c.Birthday, p.ClientBirthday)
	}
	return clients
}

// MergeTags returns the union of existing and added, keeping the order of
// first appearance. existing is not modified.
func MergeTags(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [2][]string{existing, added} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// PickBirthday returns candidate when it is set, current otherwise.
func PickBirthday(current, candidate string) string {
	if candidate != "" {
		return candidate
	}
	return current
}
