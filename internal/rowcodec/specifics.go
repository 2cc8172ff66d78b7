// Wire form of the Specifics column and its schema.

package rowcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/insureflow/insureflow/internal/models"
	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// specificsWire is the flat object stored in column 11. Its keys are shared
// with rows written by the browser client and the append script.
type specificsWire struct {
	Riders               []riderWire `json:"riders,omitempty"`
	MedicalPlanType      string      `json:"medicalPlanType,omitempty"`
	MedicalExcess        *number     `json:"medicalExcess,omitempty"`
	SumInsured           *number     `json:"sumInsured,omitempty"`
	IsMultipay           *bool       `json:"isMultipay,omitempty"`
	PolicyEndDate        string      `json:"policyEndDate,omitempty"`
	CapitalInvested      *number     `json:"capitalInvested,omitempty"`
	AccidentMedicalLimit *number     `json:"accidentMedicalLimit,omitempty"`
	AccidentSectionLimit *number     `json:"accidentSectionLimit,omitempty"`
	AccidentPhysioVisits *number     `json:"accidentPhysioVisits,omitempty"`
}

type riderWire struct {
	Name          string  `json:"name"`
	Type          string  `json:"type,omitempty"`
	PremiumAmount *number `json:"premiumAmount,omitempty"`
}

// number is a JSON number that also accepts a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", s)
		}
		*n = number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = number(f)
	return nil
}

// JSONSchema implements jsonschema.Reflector's custom type hook.
func (number) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "number"},
			{Type: "string", Pattern: `^\s*-?[0-9]+(\.[0-9]+)?\s*$`},
		},
	}
}

func numPtr(f *float64) *number {
	if f == nil {
		return nil
	}
	n := number(*f)
	return &n
}

func floatPtr(n *number) *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

func toWire(s *models.Specifics) specificsWire {
	w := specificsWire{
		SumInsured:      numPtr(s.SumInsured),
		IsMultipay:      s.IsMultipay,
		PolicyEndDate:   s.EndDate,
		CapitalInvested: numPtr(s.CapitalInvested),
	}
	for _, r := range s.Riders {
		p := number(r.PremiumAmount)
		w.Riders = append(w.Riders, riderWire{Name: r.Name, Type: r.Type, PremiumAmount: &p})
	}
	if m := s.Medical; !m.IsZero() {
		w.MedicalPlanType = m.PlanType
		w.MedicalExcess = numPtr(m.Excess)
	}
	if a := s.Accident; !a.IsZero() {
		w.AccidentMedicalLimit = numPtr(a.MedicalLimit)
		w.AccidentSectionLimit = numPtr(a.SectionLimit)
		if a.PhysioVisits != nil {
			v := number(*a.PhysioVisits)
			w.AccidentPhysioVisits = &v
		}
	}
	return w
}

func fromWire(w *specificsWire) (models.Specifics, error) {
	s := models.Specifics{
		SumInsured:      floatPtr(w.SumInsured),
		IsMultipay:      w.IsMultipay,
		EndDate:         w.PolicyEndDate,
		CapitalInvested: floatPtr(w.CapitalInvested),
	}
	for _, r := range w.Riders {
		rider := models.Rider{Name: r.Name, Type: r.Type}
		if r.PremiumAmount != nil {
			rider.PremiumAmount = float64(*r.PremiumAmount)
		}
		s.Riders = append(s.Riders, rider)
	}
	if w.MedicalPlanType != "" || w.MedicalExcess != nil {
		s.Medical = &models.Medical{PlanType: w.MedicalPlanType, Excess: floatPtr(w.MedicalExcess)}
	}
	if w.AccidentMedicalLimit != nil || w.AccidentSectionLimit != nil || w.AccidentPhysioVisits != nil {
		a := &models.Accident{
			MedicalLimit: floatPtr(w.AccidentMedicalLimit),
			SectionLimit: floatPtr(w.AccidentSectionLimit),
		}
		if w.AccidentPhysioVisits != nil {
			f := float64(*w.AccidentPhysioVisits)
			if f != math.Trunc(f) || f < 0 {
				return models.Specifics{}, fmt.Errorf("accidentPhysioVisits %v is not a whole number", f)
			}
			v := int(f)
			a.PhysioVisits = &v
		}
		s.Accident = a
	}
	return s, nil
}

var specificsSchema = sync.OnceValues(func() (*sjsonschema.Schema, error) {
	raw, err := json.Marshal(SpecificsSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal specifics schema: %w", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse specifics schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("specifics.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add specifics schema: %w", err)
	}
	return c.Compile("specifics.json")
})

// SpecificsSchema returns the JSON Schema column 11 is validated against.
// Keys it does not name are allowed and ignored on decode.
func SpecificsSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, AllowAdditionalProperties: true}
	return r.ReflectFromType(reflect.TypeFor[specificsWire]())
}

func decodeSpecifics(raw string) (models.Specifics, error) {
	sch, err := specificsSchema()
	if err != nil {
		return models.Specifics{}, err
	}
	inst, err := sjsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return models.Specifics{}, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := sch.Validate(dropNulls(inst)); err != nil {
		return models.Specifics{}, err
	}
	var w specificsWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return models.Specifics{}, err
	}
	return fromWire(&w)
}

// dropNulls removes the null members of every object in v. A null key is read
// as an absent one.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if e == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(e)
		}
	case []any:
		for i, e := range t {
			t[i] = dropNulls(e)
		}
	}
	return v
}
