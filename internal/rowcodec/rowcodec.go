package rowcodec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/insureflow/insureflow/internal/models"
)

// Column indexes of the stored row.
const (
	ColID = iota
	ColPolicyNumber
	ColHolder
	ColPlan
	ColType
	ColStatus
	ColPremium
	ColMode
	ColAnniversary
	ColBirthday
	ColTags
	ColSpecifics

	// Columns is the fixed width of a stored row.
	Columns
)

// Header is the first row of the sheet.
var Header = []string{"ID", "Policy No", "Holder", "Plan", "Type", "Status", "Premium", "Mode", "Anniversary", "Birthday", "Tags", "Specifics"}

// HeaderRow returns Header as a row of cell values.
func HeaderRow() []any {
	row := make([]any, len(Header))
	for i, h := range Header {
		row[i] = h
	}
	return row
}

// Encode returns the row for p.
//
// An absent birthday is written as "" and nil tags as "[]".
func Encode(p *models.Policy) ([]any, error) {
	tags := p.ExtractedTags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	rawSpecifics, err := json.Marshal(toWire(&p.Specifics))
	if err != nil {
		return nil, fmt.Errorf("failed to encode specifics: %w", err)
	}
	return []any{
		p.ID,
		p.PolicyNumber,
		p.HolderName,
		p.PlanName,
		string(p.Type),
		string(p.Status),
		p.PremiumAmount,
		string(p.PaymentMode),
		p.PolicyAnniversaryDate,
		p.ClientBirthday,
		string(rawTags),
		string(rawSpecifics),
	}, nil
}

// EncodeAll encodes policies in order.
func EncodeAll(policies []models.Policy) ([][]any, error) {
	rows := make([][]any, 0, len(policies))
	for i := range policies {
		row, err := Encode(&policies[i])
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", policies[i].ID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Decode parses a stored row. Missing trailing cells read as empty.
func Decode(row []any) (models.Policy, error) {
	cell := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return cellString(row[i])
	}
	p := models.Policy{
		ID:                    cell(ColID),
		PolicyNumber:          cell(ColPolicyNumber),
		HolderName:            cell(ColHolder),
		PlanName:              cell(ColPlan),
		PolicyAnniversaryDate: cell(ColAnniversary),
		ClientBirthday:        cell(ColBirthday),
	}
	var err error
	if p.Type, err = models.ParsePolicyType(cell(ColType)); err != nil {
		return models.Policy{}, columnError(ColType, err)
	}
	if p.Status, err = models.ParsePolicyStatus(cell(ColStatus)); err != nil {
		return models.Policy{}, columnError(ColStatus, err)
	}
	if p.PaymentMode, err = models.ParsePaymentMode(cell(ColMode)); err != nil {
		return models.Policy{}, columnError(ColMode, err)
	}
	if p.PremiumAmount, err = parsePremium(cell(ColPremium)); err != nil {
		return models.Policy{}, columnError(ColPremium, err)
	}
	p.ExtractedTags = []string{}
	if raw := cell(ColTags); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.ExtractedTags); err != nil {
			return models.Policy{}, columnError(ColTags, err)
		}
		if p.ExtractedTags == nil {
			p.ExtractedTags = []string{}
		}
	}
	if raw := cell(ColSpecifics); raw != "" {
		if p.Specifics, err = decodeSpecifics(raw); err != nil {
			return models.Policy{}, columnError(ColSpecifics, err)
		}
	}
	return p, nil
}

func columnError(col int, err error) error {
	return models.ParseError(fmt.Sprintf("column %s", Header[col])).
		WithDetail("column", Header[col]).
		Wrap(err)
}

// cellString renders a cell the way the sheet would display it unformatted.
func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func parsePremium(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("premium %q is not a number", s)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("premium %q must be a non-negative number", s)
	}
	return f, nil
}
