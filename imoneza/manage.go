package imoneza

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ManagementClient reads and writes the remote resource catalog.
type ManagementClient struct {
	t *transport
}

// ManagementOptions configures a ManagementClient.
type ManagementOptions struct {
	HTTPClient *http.Client
	Signer     Signer
}

// NewManagementClient creates a client bound to the Management API
// endpoint.
func NewManagementClient(endpoint Endpoint, opts ManagementOptions) *ManagementClient {
	if endpoint.BaseURL == "" {
		endpoint.BaseURL = DefaultManagementAPIURL
	}

	return &ManagementClient{
		t: newTransport(opts.HTTPClient, endpoint, opts.Signer),
	}
}

func (c *ManagementClient) ready() error {
	if !c.t.endpoint.Credentials.Ready() {
		return &APIError{Kind: KindNotReady, Message: "resource management API key and secret are not set"}
	}

	return nil
}

func (c *ManagementClient) propertyPath() string {
	return "/api/Property/" + url.PathEscape(c.t.endpoint.Credentials.Key)
}

func (c *ManagementClient) resourcePath(key string) string {
	return c.propertyPath() + "/Resource/" + url.PathEscape(key)
}

// GetResource fetches the remote record for key. A resource that has
// never been pushed is not an error: it returns (nil, nil).
func (c *ManagementClient) GetResource(ctx context.Context, key string) (*Resource, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var res Resource
	if err := c.t.do(ctx, http.MethodGet, c.resourcePath(key), nil, nil, &res); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting resource %s: %w", key, err)
	}

	return &res, nil
}

// CreateOrUpdateResource upserts the resource keyed by req.ExternalKey.
// Sending the same request twice leaves the remote state unchanged.
func (c *ManagementClient) CreateOrUpdateResource(ctx context.Context, req SaveResourceRequest) error {
	if err := c.ready(); err != nil {
		return err
	}

	if req.ExternalKey == "" {
		return errors.New("external key is required")
	}

	if err := c.t.do(ctx, http.MethodPut, c.resourcePath(req.ExternalKey), nil, req, nil); err != nil {
		return fmt.Errorf("saving resource %s: %w", req.ExternalKey, err)
	}

	return nil
}

// DeactivateResource tells the service to stop managing key.
func (c *ManagementClient) DeactivateResource(ctx context.Context, key string) error {
	if err := c.ready(); err != nil {
		return err
	}

	body := deactivateRequest{ExternalKey: key, Active: false}
	if err := c.t.do(ctx, http.MethodPut, c.resourcePath(key), nil, body, nil); err != nil {
		return fmt.Errorf("deactivating resource %s: %w", key, err)
	}

	return nil
}

// GetProperty fetches the property configuration, including its pricing
// groups.
func (c *ManagementClient) GetProperty(ctx context.Context) (*Property, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var prop Property
	if err := c.t.do(ctx, http.MethodGet, c.propertyPath(), nil, nil, &prop); err != nil {
		return nil, fmt.Errorf("getting property: %w", err)
	}

	return &prop, nil
}

// ResourceFields is the local description of a resource before it is
// shaped into a SaveResourceRequest.
type ResourceFields struct {
	ExternalKey     string
	Name            string
	Title           string
	Byline          string
	Description     string
	URL             string
	PublicationDate time.Time
	PricingGroupID  string
	PricingModel    PricingModel
	Price           float64
	ExpirationUnit  ExpirationUnit
	ExpirationValue int
	Tiers           []TierInput
}

// BuildSaveRequest validates f and produces the full upsert body. Price
// and expiration are included only for fixed and variable pricing; the
// expiration value only when the unit is not Never. Tiers are included
// only for tiered pricing, normalized to minutes for time tiers.
func BuildSaveRequest(f ResourceFields) (SaveResourceRequest, error) {
	if f.ExternalKey == "" {
		return SaveResourceRequest{}, errors.New("external key is required")
	}

	model := f.PricingModel
	if model == "" {
		model = PricingInherit
	}

	if !model.Valid() {
		return SaveResourceRequest{}, fmt.Errorf("unknown pricing model %q", model)
	}

	name := f.Name
	if name == "" {
		name = f.Title
	}

	req := SaveResourceRequest{
		ExternalKey:     f.ExternalKey,
		Active:          true,
		Name:            name,
		Title:           f.Title,
		Byline:          f.Byline,
		Description:     f.Description,
		URL:             f.URL,
		PublicationDate: NewAPITime(f.PublicationDate),
		PricingGroup:    PricingGroup{PricingGroupID: f.PricingGroupID},
		PricingModel:    model,
	}

	if model.HasPrice() {
		if f.Price < 0 {
			return SaveResourceRequest{}, errors.New("price must not be negative")
		}

		unit := f.ExpirationUnit
		if unit == "" {
			unit = ExpirationNever
		}

		if !unit.Valid() {
			return SaveResourceRequest{}, fmt.Errorf("unknown expiration unit %q", unit)
		}

		price := f.Price
		req.Price = &price
		req.ExpirationPeriodUnit = &unit

		if unit != ExpirationNever {
			if f.ExpirationValue <= 0 {
				return SaveResourceRequest{}, errors.New("expiration duration must be positive")
			}

			value := f.ExpirationValue
			req.ExpirationPeriodValue = &value
		}
	}

	if model.HasTiers() {
		tiers, err := NormalizeTiers(model, f.Tiers)
		if err != nil {
			return SaveResourceRequest{}, err
		}

		req.ResourcePricingTiers = tiers
	}

	return req, nil
}
