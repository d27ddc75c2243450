package admin

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
)

// Resource form field names, as posted by the CMS edit form.
const (
	FieldIsManaged         = "imoneza_isManaged"
	FieldIsManagedOriginal = "imoneza_isManaged_original"
	FieldName              = "imoneza_name"
	FieldTitle             = "imoneza_title"
	FieldByline            = "imoneza_byline"
	FieldDescription       = "imoneza_description"
	FieldPricingGroup      = "imoneza_pricingGroup"
	FieldPricingModel      = "imoneza_pricingModel"
	FieldPrice             = "imoneza_price"
	FieldExpirationUnit    = "imoneza_expirationPeriodUnit"
	FieldExpirationValue   = "imoneza_expirationPeriodValue"
	FieldTier              = "imoneza_tier"
	FieldTierPrice         = "imoneza_tier_price"
	FieldTierMultiplier    = "imoneza_tier_price_multiplier"
)

// ContentItem is the CMS content a resource mirrors. Title and Excerpt
// fill in blank form fields.
type ContentItem struct {
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	URL       string    `json:"url"`
	Published time.Time `json:"published"`
}

// TierView is one displayed pricing tier.
type TierView struct {
	Value     int    `json:"value"`
	Unit      string `json:"unit"`
	Price     string `json:"price"`
	Removable bool   `json:"removable"`
}

// ResourceView is the resource edit form for one content item.
type ResourceView struct {
	Managed              bool       `json:"imoneza_isManaged"`
	Name                 string     `json:"imoneza_name"`
	Title                string     `json:"imoneza_title"`
	Byline               string     `json:"imoneza_byline"`
	Description          string     `json:"imoneza_description"`
	PricingGroups        []Option   `json:"pricing_groups"`
	SelectedPricingGroup string     `json:"imoneza_pricingGroup"`
	PricingModels        []Option   `json:"pricing_models"`
	PricingModel         string     `json:"imoneza_pricingModel"`
	Price                string     `json:"imoneza_price"`
	ExpirationUnits      []Option   `json:"expiration_units"`
	ExpirationUnit       string     `json:"imoneza_expirationPeriodUnit"`
	ExpirationValue      int        `json:"imoneza_expirationPeriodValue"`
	Tiers                []TierView `json:"tiers"`
	ShowPrice            bool       `json:"show_price"`
	ShowExpiration       bool       `json:"show_expiration"`
	ShowTiers            bool       `json:"show_tiers"`
}

func pricingModelOptions() []Option {
	opts := make([]Option, 0, len(imoneza.PricingModels))
	for _, m := range imoneza.PricingModels {
		opts = append(opts, Option{Value: string(m), Label: m.Label()})
	}

	return opts
}

func expirationUnitOptions() []Option {
	opts := make([]Option, 0, len(imoneza.ExpirationUnits))
	for _, u := range imoneza.ExpirationUnits {
		opts = append(opts, Option{Value: string(u), Label: string(u)})
	}

	return opts
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

// RenderResource builds the edit form for res, which is nil when the
// item has never been pushed. A managed resource carries its own copy of
// the property; otherwise prop supplies the pricing groups.
func RenderResource(res *imoneza.Resource, prop *imoneza.Property) ResourceView {
	managed := res.Managed()

	if managed && res.Property != nil {
		prop = res.Property
	}

	view := ResourceView{
		Managed:         managed,
		PricingModels:   pricingModelOptions(),
		PricingModel:    string(imoneza.PricingInherit),
		ExpirationUnits: expirationUnitOptions(),
		ExpirationUnit:  string(imoneza.ExpirationNever),
		Price:           formatPrice(0),
		PricingGroups:   []Option{},
	}

	if prop != nil {
		for _, g := range prop.PricingGroups {
			view.PricingGroups = append(view.PricingGroups, Option{Value: g.PricingGroupID, Label: g.Name})
		}

		if g, ok := prop.DefaultPricingGroup(); ok {
			view.SelectedPricingGroup = g.PricingGroupID
		}
	}

	model := imoneza.PricingInherit
	var tiers []imoneza.PricingTier

	if res != nil {
		view.Name = res.Name
		view.Title = res.Title
		view.Byline = res.Byline
		view.Description = res.Description
		view.Price = formatPrice(res.Price)
		view.ExpirationValue = res.ExpirationPeriodValue

		if res.PricingModel != "" {
			model = res.PricingModel
		}

		if res.ExpirationPeriodUnit != "" {
			view.ExpirationUnit = string(res.ExpirationPeriodUnit)
		}

		if managed && res.PricingGroup.PricingGroupID != "" {
			view.SelectedPricingGroup = res.PricingGroup.PricingGroupID
		}

		tiers = res.ResourcePricingTiers
	}

	view.PricingModel = string(model)

	if len(tiers) == 0 {
		tiers = []imoneza.PricingTier{{Tier: 0, Price: 0}}
	}

	for _, t := range tiers {
		value, unit := imoneza.DisplayTier(model, t.Tier)

		label := unit.String()
		if model != imoneza.PricingTimeTiered {
			label = "views"
		}

		view.Tiers = append(view.Tiers, TierView{
			Value:     value,
			Unit:      label,
			Price:     formatPrice(t.Price),
			Removable: t.Tier > 0,
		})
	}

	view.ShowPrice = managed && model.HasPrice()
	view.ShowExpiration = view.ShowPrice && view.ExpirationUnit != string(imoneza.ExpirationNever)
	view.ShowTiers = managed && model.HasTiers()

	return view
}

// SubmissionAction says what a resource form submission asks for.
type SubmissionAction int

const (
	SubmitNothing SubmissionAction = iota
	SubmitDeactivate
	SubmitSave
)

func (a SubmissionAction) String() string {
	switch a {
	case SubmitDeactivate:
		return "deactivate"
	case SubmitSave:
		return "save"
	}

	return "none"
}

// ResourceSubmission is the outcome of ApplyResource. Request is set
// only for SubmitSave.
type ResourceSubmission struct {
	Action  SubmissionAction
	Key     string
	Request imoneza.SaveResourceRequest
}

// ApplyResource interprets a resource form posted for item. Unchecking a
// resource that was managed deactivates it; unchecking one that never
// was does nothing.
func ApplyResource(form url.Values, item ContentItem) (ResourceSubmission, error) {
	if item.Key == "" {
		return ResourceSubmission{}, fmt.Errorf("content key is required")
	}

	sub := ResourceSubmission{Key: item.Key}

	if form.Get(FieldIsManaged) != "1" {
		if form.Get(FieldIsManagedOriginal) == "1" {
			sub.Action = SubmitDeactivate
		}

		return sub, nil
	}

	fields := imoneza.ResourceFields{
		ExternalKey:     item.Key,
		Name:            plain(form.Get(FieldName)),
		Title:           plain(form.Get(FieldTitle)),
		Byline:          plain(form.Get(FieldByline)),
		Description:     plain(form.Get(FieldDescription)),
		URL:             item.URL,
		PublicationDate: item.Published,
		PricingGroupID:  plain(form.Get(FieldPricingGroup)),
		PricingModel:    imoneza.PricingModel(plain(form.Get(FieldPricingModel))),
	}

	if fields.Title == "" {
		fields.Title = item.Title
	}

	if fields.Description == "" {
		fields.Description = item.Excerpt
	}

	if fields.PricingModel.HasPrice() {
		price, err := parsePrice(form.Get(FieldPrice))
		if err != nil {
			return ResourceSubmission{}, err
		}

		fields.Price = price
		fields.ExpirationUnit = imoneza.ExpirationUnit(plain(form.Get(FieldExpirationUnit)))

		if fields.ExpirationUnit != "" && fields.ExpirationUnit != imoneza.ExpirationNever {
			value, err := strconv.Atoi(strings.TrimSpace(form.Get(FieldExpirationValue)))
			if err != nil {
				return ResourceSubmission{}, fmt.Errorf("expiration duration must be a whole number")
			}

			fields.ExpirationValue = value
		}
	}

	if fields.PricingModel.HasTiers() {
		tiers, err := parseTiers(form)
		if err != nil {
			return ResourceSubmission{}, err
		}

		fields.Tiers = tiers
	}

	req, err := imoneza.BuildSaveRequest(fields)
	if err != nil {
		return ResourceSubmission{}, err
	}

	sub.Action = SubmitSave
	sub.Request = req

	return sub, nil
}

func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("price %q is not a number", s)
	}

	return p, nil
}

// parseTiers reads the parallel tier arrays. A missing multiplier means
// minutes.
func parseTiers(form url.Values) ([]imoneza.TierInput, error) {
	values := form[FieldTier]
	prices := form[FieldTierPrice]
	multipliers := form[FieldTierMultiplier]

	if len(prices) != len(values) {
		return nil, fmt.Errorf("got %d tiers but %d tier prices", len(values), len(prices))
	}

	tiers := make([]imoneza.TierInput, 0, len(values))

	for i := range values {
		value, err := strconv.Atoi(strings.TrimSpace(values[i]))
		if err != nil {
			return nil, fmt.Errorf("tier %d: %q is not a whole number", i+1, values[i])
		}

		price, err := parsePrice(prices[i])
		if err != nil {
			return nil, fmt.Errorf("tier %d: %w", i+1, err)
		}

		unit := imoneza.TierMinutes
		if i < len(multipliers) {
			unit, err = imoneza.ParseTierUnit(strings.TrimSpace(multipliers[i]))
			if err != nil {
				return nil, fmt.Errorf("tier %d: %w", i+1, err)
			}
		}

		tiers = append(tiers, imoneza.TierInput{Value: value, Unit: unit, Price: price})
	}

	return tiers, nil
}
