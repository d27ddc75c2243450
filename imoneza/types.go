package imoneza

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PricingModel is how a resource is priced on the remote service.
type PricingModel string

const (
	PricingInherit          PricingModel = "Inherit"
	PricingFree             PricingModel = "Free"
	PricingFixedPrice       PricingModel = "FixedPrice"
	PricingVariablePrice    PricingModel = "VariablePrice"
	PricingTimeTiered       PricingModel = "TimeTiered"
	PricingViewTiered       PricingModel = "ViewTiered"
	PricingSubscriptionOnly PricingModel = "SubscriptionOnly"
)

// PricingModels lists every model in display order.
var PricingModels = []PricingModel{
	PricingInherit,
	PricingFree,
	PricingFixedPrice,
	PricingVariablePrice,
	PricingTimeTiered,
	PricingViewTiered,
	PricingSubscriptionOnly,
}

// Valid reports whether m is one of the known pricing models.
func (m PricingModel) Valid() bool {
	for _, known := range PricingModels {
		if m == known {
			return true
		}
	}

	return false
}

// HasPrice reports whether the model carries a single price and an
// expiration period.
func (m PricingModel) HasPrice() bool {
	return m == PricingFixedPrice || m == PricingVariablePrice
}

// HasTiers reports whether the model carries an ordered tier list.
func (m PricingModel) HasTiers() bool {
	return m == PricingTimeTiered || m == PricingViewTiered
}

// Label returns the human-readable name shown in admin forms.
func (m PricingModel) Label() string {
	switch m {
	case PricingFixedPrice:
		return "Fixed Price"
	case PricingVariablePrice:
		return "Variable Price"
	case PricingTimeTiered:
		return "Time Tiered"
	case PricingViewTiered:
		return "View Tiered"
	case PricingSubscriptionOnly:
		return "Subscription Only"
	}

	return string(m)
}

// ExpirationUnit is the unit of a purchase's expiration period.
type ExpirationUnit string

const (
	ExpirationNever  ExpirationUnit = "Never"
	ExpirationYears  ExpirationUnit = "Years"
	ExpirationMonths ExpirationUnit = "Months"
	ExpirationWeeks  ExpirationUnit = "Weeks"
	ExpirationDays   ExpirationUnit = "Days"
)

// ExpirationUnits lists every unit in display order.
var ExpirationUnits = []ExpirationUnit{
	ExpirationNever,
	ExpirationYears,
	ExpirationMonths,
	ExpirationWeeks,
	ExpirationDays,
}

// Valid reports whether u is one of the known expiration units.
func (u ExpirationUnit) Valid() bool {
	for _, known := range ExpirationUnits {
		if u == known {
			return true
		}
	}

	return false
}

// AccessAction values returned by the Access API.
const (
	AccessActionGrant = "Grant"
)

// ResourceAccess is returned by both Access API lookups.
type ResourceAccess struct {
	UserToken           string  `json:"UserToken"`
	UserTokenExpiration APITime `json:"UserTokenExpiration"`
	AccessAction        string  `json:"AccessAction,omitempty"`
	AccessActionURL     string  `json:"AccessActionURL,omitempty"`
}

// PricingGroup is a named bundle of pricing rules configured on the
// property.
type PricingGroup struct {
	PricingGroupID string `json:"PricingGroupID"`
	Name           string `json:"Name,omitempty"`
	IsDefault      bool   `json:"IsDefault,omitempty"`
}

// Property is the catalog-level configuration of the remote service.
type Property struct {
	PropertyID    string         `json:"PropertyID,omitempty"`
	Name          string         `json:"Name,omitempty"`
	PricingGroups []PricingGroup `json:"PricingGroups"`
}

// DefaultPricingGroup returns the group flagged as default, else the
// first group. ok is false when the property has no groups.
func (p *Property) DefaultPricingGroup() (PricingGroup, bool) {
	if p == nil || len(p.PricingGroups) == 0 {
		return PricingGroup{}, false
	}

	for _, g := range p.PricingGroups {
		if g.IsDefault {
			return g, true
		}
	}

	return p.PricingGroups[0], true
}

// PricingTier is one step of a tiered price. Tier is a view count for
// ViewTiered resources and a duration in minutes for TimeTiered ones.
type PricingTier struct {
	Tier  int     `json:"Tier"`
	Price float64 `json:"Price"`
}

// Resource is the remote record mirroring one content item.
type Resource struct {
	ExternalKey           string         `json:"ExternalKey"`
	Name                  string         `json:"Name,omitempty"`
	Title                 string         `json:"Title,omitempty"`
	Byline                string         `json:"Byline,omitempty"`
	Description           string         `json:"Description,omitempty"`
	URL                   string         `json:"URL,omitempty"`
	PublicationDate       APITime        `json:"PublicationDate"`
	IsManaged             bool           `json:"IsManaged"`
	Active                bool           `json:"Active"`
	PricingModel          PricingModel   `json:"PricingModel,omitempty"`
	PricingGroup          PricingGroup   `json:"PricingGroup"`
	Price                 float64        `json:"Price,omitempty"`
	ExpirationPeriodUnit  ExpirationUnit `json:"ExpirationPeriodUnit,omitempty"`
	ExpirationPeriodValue int            `json:"ExpirationPeriodValue,omitempty"`
	ResourcePricingTiers  []PricingTier  `json:"ResourcePricingTiers,omitempty"`
	Property              *Property      `json:"Property,omitempty"`
}

// Managed reports whether the remote service actively manages access to
// the resource.
func (r *Resource) Managed() bool {
	return r != nil && r.IsManaged && r.Active
}

// SaveResourceRequest is the body of a resource upsert. Optional fields
// are pointers so a zero price or value is still transmitted when the
// pricing model requires it.
type SaveResourceRequest struct {
	ExternalKey           string          `json:"ExternalKey"`
	Active                bool            `json:"Active"`
	Name                  string          `json:"Name"`
	Title                 string          `json:"Title"`
	Byline                string          `json:"Byline"`
	Description           string          `json:"Description"`
	URL                   string          `json:"URL"`
	PublicationDate       APITime         `json:"PublicationDate"`
	PricingGroup          PricingGroup    `json:"PricingGroup"`
	PricingModel          PricingModel    `json:"PricingModel"`
	Price                 *float64        `json:"Price,omitempty"`
	ExpirationPeriodUnit  *ExpirationUnit `json:"ExpirationPeriodUnit,omitempty"`
	ExpirationPeriodValue *int            `json:"ExpirationPeriodValue,omitempty"`
	ResourcePricingTiers  []PricingTier   `json:"ResourcePricingTiers,omitempty"`
}

// deactivateRequest is sent when an operator stops managing a resource.
type deactivateRequest struct {
	ExternalKey string `json:"ExternalKey"`
	Active      bool   `json:"Active"`
}

// apiTimeLayouts are the timestamp shapes the remote service has been
// seen to emit. The zone-less form is interpreted as UTC.
var apiTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// APITime is a timestamp that tolerates the remote service's zone-less
// format and encodes as RFC 3339. The zero value means "not provided".
type APITime struct {
	time.Time
}

// NewAPITime wraps t.
func NewAPITime(t time.Time) APITime {
	return APITime{Time: t}
}

// UnmarshalJSON accepts RFC 3339, zone-less timestamps, null and "".
func (t *APITime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range apiTimeLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return fmt.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON encodes the time as RFC 3339 in UTC, or null when unset.
func (t APITime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format(time.RFC3339))
}
