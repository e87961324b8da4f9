/*
Package factory provides JSON to Go settings conversion.

PURPOSE:
  Converts the association's JSON settings document into a
  generic.Settings value and back. Administrators edit the document
  through the API; the factory fills defaults and validates it before it
  reaches the store.

JSON SCHEMA:
  {
    "currency": "UGX",
    "penaltyRates": {
      "meeting_absence": "10000",
      "late_contribution": "5000"
    },
    "quorumPercentage": 50,
    "penaltyDueDays": 14,
    "contributionDueDays": 30
  }

KEY FEATURES:
  - Missing fields take defaults (see Defaults)
  - Rates are decimal strings keyed by penalty category
  - Unknown categories and out-of-range values are validation errors

USAGE:
  f := factory.NewSettingsFactory()
  settings, err := f.Parse(body)
  ledger.SaveSettings(ctx, settings, actor)

SEE ALSO:
  - generic/settings.go: Settings type definition
  - penalty/penalty.go: Reads PenaltyRates and PenaltyDueDays
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/penalty"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	DefaultCurrency            = "UGX"
	DefaultQuorumPercentage    = 50
	DefaultPenaltyDueDays      = 14
	DefaultContributionDueDays = 30
)

// Defaults returns the settings used before an administrator saves any.
func Defaults() generic.Settings {
	return generic.Settings{
		Currency: DefaultCurrency,
		PenaltyRates: map[generic.Category]decimal.Decimal{
			penalty.CategoryMeetingAbsence:   decimal.NewFromInt(10000),
			penalty.CategoryLateContribution: decimal.NewFromInt(5000),
		},
		QuorumPercentage:    DefaultQuorumPercentage,
		PenaltyDueDays:      DefaultPenaltyDueDays,
		ContributionDueDays: DefaultContributionDueDays,
	}
}

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of the settings document.
// Pointer fields distinguish "absent" from zero.
type SettingsJSON struct {
	Currency            *string                    `json:"currency,omitempty"`
	PenaltyRates        map[string]decimal.Decimal `json:"penaltyRates,omitempty"`
	QuorumPercentage    *int                       `json:"quorumPercentage,omitempty"`
	PenaltyDueDays      *int                       `json:"penaltyDueDays,omitempty"`
	ContributionDueDays *int                       `json:"contributionDueDays,omitempty"`
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

type SettingsFactory struct {
	defaults generic.Settings
}

func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{defaults: Defaults()}
}

// Parse decodes a full settings document, filling defaults for absent fields.
func (f *SettingsFactory) Parse(data []byte) (generic.Settings, error) {
	var doc SettingsJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return generic.Settings{}, generic.NewValidationError("body", fmt.Sprintf("invalid settings JSON: %v", err))
	}
	return f.Apply(f.defaults, doc)
}

// Apply overlays the fields present in doc onto base and validates the result.
func (f *SettingsFactory) Apply(base generic.Settings, doc SettingsJSON) (generic.Settings, error) {
	out := base
	out.PenaltyRates = make(map[generic.Category]decimal.Decimal, len(base.PenaltyRates))
	for c, r := range base.PenaltyRates {
		out.PenaltyRates[c] = r
	}

	if doc.Currency != nil {
		out.Currency = strings.ToUpper(strings.TrimSpace(*doc.Currency))
	}
	if doc.QuorumPercentage != nil {
		out.QuorumPercentage = *doc.QuorumPercentage
	}
	if doc.PenaltyDueDays != nil {
		out.PenaltyDueDays = *doc.PenaltyDueDays
	}
	if doc.ContributionDueDays != nil {
		out.ContributionDueDays = *doc.ContributionDueDays
	}

	verr := &generic.ValidationError{}
	for name, rate := range doc.PenaltyRates {
		c := generic.Category(name)
		if !generic.CategoryBelongsTo(generic.KindPenalty, c) {
			verr.Add("penaltyRates."+name, "unknown penalty category")
			continue
		}
		if rate.IsNegative() {
			verr.Add("penaltyRates."+name, "must not be negative")
			continue
		}
		out.PenaltyRates[c] = rate
	}
	if err := f.validate(out, verr); err != nil {
		return generic.Settings{}, err
	}
	return out, nil
}

func (f *SettingsFactory) validate(s generic.Settings, verr *generic.ValidationError) error {
	if len(s.Currency) != 3 {
		verr.Add("currency", "must be a 3-letter ISO code")
	}
	if s.QuorumPercentage < 1 || s.QuorumPercentage > 100 {
		verr.Add("quorumPercentage", "must be between 1 and 100")
	}
	if s.PenaltyDueDays < 0 {
		verr.Add("penaltyDueDays", "must not be negative")
	}
	if s.ContributionDueDays < 0 {
		verr.Add("contributionDueDays", "must not be negative")
	}
	return verr.OrNil()
}

// ToJSON renders settings as the document Parse accepts.
func (f *SettingsFactory) ToJSON(s generic.Settings) SettingsJSON {
	rates := make(map[string]decimal.Decimal, len(s.PenaltyRates))
	for c, r := range s.PenaltyRates {
		rates[string(c)] = r
	}
	currency := s.Currency
	quorum := s.QuorumPercentage
	penaltyDays := s.PenaltyDueDays
	contributionDays := s.ContributionDueDays
	return SettingsJSON{
		Currency:            &currency,
		PenaltyRates:        rates,
		QuorumPercentage:    &quorum,
		PenaltyDueDays:      &penaltyDays,
		ContributionDueDays: &contributionDays,
	}
}
