// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"slices"
	"strings"
)

// PolicyType is the product category of a policy.
type PolicyType string

const (
	// PolicyTypeLife is a life insurance contract.
	PolicyTypeLife PolicyType = "Life"
	// PolicyTypeMedical is a medical or hospitalisation plan.
	PolicyTypeMedical PolicyType = "Medical"
	// PolicyTypeCriticalIllness pays out on diagnosis of a covered illness.
	PolicyTypeCriticalIllness PolicyType = "Critical Illness"
	// PolicyTypeAccident covers accidental injury.
	PolicyTypeAccident PolicyType = "Accident"
	// PolicyTypeSavings is an endowment or savings plan.
	PolicyTypeSavings PolicyType = "Savings"
	// PolicyTypeInvestment is an investment-linked plan.
	PolicyTypeInvestment PolicyType = "Investment"
)

// PolicyTypes lists every accepted PolicyType.
var PolicyTypes = []PolicyType{
	PolicyTypeLife,
	PolicyTypeMedical,
	PolicyTypeCriticalIllness,
	PolicyTypeAccident,
	PolicyTypeSavings,
	PolicyTypeInvestment,
}

// Valid reports whether t is a known policy type.
func (t PolicyType) Valid() bool {
	return slices.Contains(PolicyTypes, t)
}

// ParsePolicyType returns the PolicyType named s.
func ParsePolicyType(s string) (PolicyType, error) {
	t := PolicyType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown policy type %q", s)
	}
	return t, nil
}

// PolicyStatus is the lifecycle state of a policy.
type PolicyStatus string

const (
	// PolicyStatusActive is an in-force policy.
	PolicyStatusActive PolicyStatus = "Active"
	// PolicyStatusPending is submitted but not yet in force.
	PolicyStatusPending PolicyStatus = "Pending"
	// PolicyStatusLapsed stopped because premiums were not paid.
	PolicyStatusLapsed PolicyStatus = "Lapsed"
	// PolicyStatusMatured reached its end date.
	PolicyStatusMatured PolicyStatus = "Matured"
	// PolicyStatusCancelled was terminated early.
	PolicyStatusCancelled PolicyStatus = "Cancelled"
)

// PolicyStatuses lists every accepted PolicyStatus.
var PolicyStatuses = []PolicyStatus{
	PolicyStatusActive,
	PolicyStatusPending,
	PolicyStatusLapsed,
	PolicyStatusMatured,
	PolicyStatusCancelled,
}

// Valid reports whether s is a known policy status.
func (s PolicyStatus) Valid() bool {
	return slices.Contains(PolicyStatuses, s)
}

// ParsePolicyStatus returns the PolicyStatus named s.
func ParsePolicyStatus(s string) (PolicyStatus, error) {
	st := PolicyStatus(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("unknown policy status %q", s)
	}
	return st, nil
}

// PaymentMode is how often the premium is paid.
type PaymentMode string

const (
	// PaymentModeMonthly is paid every month.
	PaymentModeMonthly PaymentMode = "Monthly"
	// PaymentModeQuarterly is paid every three months.
	PaymentModeQuarterly PaymentMode = "Quarterly"
	// PaymentModeHalfYearly is paid every six months.
	PaymentModeHalfYearly PaymentMode = "Half-Yearly"
	// PaymentModeYearly is paid once a year.
	PaymentModeYearly PaymentMode = "Yearly"
	// PaymentModeSingle is a single up-front premium.
	PaymentModeSingle PaymentMode = "Single"
)

// PaymentModes lists every accepted PaymentMode.
var PaymentModes = []PaymentMode{
	PaymentModeMonthly,
	PaymentModeQuarterly,
	PaymentModeHalfYearly,
	PaymentModeYearly,
	PaymentModeSingle,
}

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	return slices.Contains(PaymentModes, m)
}

// ParsePaymentMode returns the PaymentMode named s.
func ParsePaymentMode(s string) (PaymentMode, error) {
	m := PaymentMode(strings.TrimSpace(s))
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment mode %q", s)
	}
	return m, nil
}

// Policy is a single insurance contract.
type Policy struct {
	ID                    string       `json:"id"`
	PolicyNumber          string       `json:"policyNumber"`
	HolderName            string       `json:"holderName"`
	PlanName              string       `json:"planName"`
	Type                  PolicyType   `json:"type"`
	Status                PolicyStatus `json:"status"`
	PremiumAmount         float64      `json:"premiumAmount"`
	PaymentMode           PaymentMode  `json:"paymentMode"`
	PolicyAnniversaryDate string       `json:"policyAnniversaryDate"`
	// ClientBirthday is empty when unknown.
	ClientBirthday string    `json:"clientBirthday,omitempty"`
	ExtractedTags  []string  `json:"extractedTags"`
	Specifics      Specifics `json:"specifics"`
}

// Validate checks the invariants every stored policy must satisfy.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return MissingField("id")
	}
	if strings.TrimSpace(p.HolderName) == "" {
		return MissingField("holderName")
	}
	if !p.Type.Valid() {
		return BadRequest(fmt.Sprintf("unknown policy type %q", p.Type))
	}
	if !p.Status.Valid() {
		return BadRequest(fmt.Sprintf("unknown policy status %q", p.Status))
	}
	if !p.PaymentMode.Valid() {
		return BadRequest(fmt.Sprintf("unknown payment mode %q", p.PaymentMode))
	}
	if p.PremiumAmount < 0 {
		return BadRequest("premiumAmount must be non-negative")
	}
	return nil
}

// Clone returns a deep copy of p.
func (p Policy) Clone() Policy {
	p.ExtractedTags = slices.Clone(p.ExtractedTags)
	p.Specifics = p.Specifics.Clone()
	return p
}

// Specifics holds the attributes that only apply to some policy types.
//
// Medical and Accident are nil when none of their fields are set.
type Specifics struct {
	Riders          []Rider   `json:"riders,omitempty"`
	Medical         *Medical  `json:"medical,omitempty"`
	Accident        *Accident `json:"accident,omitempty"`
	SumInsured      *float64  `json:"sumInsured,omitempty"`
	IsMultipay      *bool     `json:"isMultipay,omitempty"`
	EndDate         string    `json:"policyEndDate,omitempty"`
	CapitalInvested *float64  `json:"capitalInvested,omitempty"`
}

// Clone returns a deep copy of s.
func (s Specifics) Clone() Specifics {
	s.Riders = slices.Clone(s.Riders)
	if s.Medical != nil {
		m := *s.Medical
		m.Excess = clonePtr(m.Excess)
		s.Medical = &m
	}
	if s.Accident != nil {
		a := *s.Accident
		a.MedicalLimit = clonePtr(a.MedicalLimit)
		a.SectionLimit = clonePtr(a.SectionLimit)
		a.PhysioVisits = clonePtr(a.PhysioVisits)
		s.Accident = &a
	}
	s.SumInsured = clonePtr(s.SumInsured)
	s.IsMultipay = clonePtr(s.IsMultipay)
	s.CapitalInvested = clonePtr(s.CapitalInvested)
	return s
}

// Rider is an add-on benefit attached to a policy.
type Rider struct {
	Name          string  `json:"name"`
	Type          string  `json:"type,omitempty"`
	PremiumAmount float64 `json:"premiumAmount"`
}

// Medical holds medical plan attributes.
type Medical struct {
	PlanType string   `json:"planType,omitempty"`
	Excess   *float64 `json:"excess,omitempty"`
}

// IsZero reports whether no medical attribute is set.
func (m *Medical) IsZero() bool {
	return m == nil || (m.PlanType == "" && m.Excess == nil)
}

// Accident holds personal accident plan attributes.
type Accident struct {
	MedicalLimit *float64 `json:"medicalLimit,omitempty"`
	SectionLimit *float64 `json:"sectionLimit,omitempty"`
	PhysioVisits *int     `json:"physioVisits,omitempty"`
}

// IsZero reports whether no accident attribute is set.
func (a *Accident) IsZero() bool {
	return a == nil || (a.MedicalLimit == nil && a.SectionLimit == nil && a.PhysioVisits == nil)
}

// ClientStatus is the relationship stage of a client.
type ClientStatus string

const (
	// ClientStatusLead is a prospect created from a first policy entry.
	ClientStatusLead ClientStatus = "Lead"
	// ClientStatusActive is an established client.
	ClientStatusActive ClientStatus = "Active"
	// ClientStatusInactive is a client with no current business.
	ClientStatusInactive ClientStatus = "Inactive"
)

// Valid reports whether s is a known client status.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusLead, ClientStatusActive, ClientStatusInactive:
		return true
	}
	return false
}

// Client is a person holding zero or more policies.
//
// Name is the join key to Policy.HolderName.
type Client struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone"`
	Birthday      string       `json:"birthday"`
	TotalPolicies int          `json:"totalPolicies"`
	LastContact   string       `json:"lastContact"`
	Status        ClientStatus `json:"status"`
	Tags          []string     `json:"tags"`
}

// Validate checks the fields a manually added client must carry.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return MissingField("id")
	}
	if strings.TrimSpace(c.Name) == "" {
		return MissingField("name")
	}
	if c.Status != "" && !c.Status.Valid() {
		return BadRequest(fmt.Sprintf("unknown client status %q", c.Status))
	}
	if c.TotalPolicies < 0 {
		return BadRequest("totalPolicies must be non-negative")
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Client) Clone() Client {
	c.Tags = slices.Clone(c.Tags)
	return c
}

// Product is a reusable plan template. Name is unique within the library.
type Product struct {
	Name        string     `json:"name"`
	Provider    string     `json:"provider"`
	Type        PolicyType `json:"type"`
	DefaultTags []string   `json:"defaultTags"`
}

// Validate checks the fields a product must carry.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return MissingField("name")
	}
	if p.Type != "" && !p.Type.Valid() {
		return BadRequest(fmt.Sprintf("unknown policy type %q", p.Type))
	}
	return nil
}

// Clone returns a deep copy of p.
func (p Product) Clone() Product {
	p.DefaultTags = slices.Clone(p.DefaultTags)
	return p
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
