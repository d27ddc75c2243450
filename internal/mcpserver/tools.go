// Package mcpserver registers MCP tools that expose catalog and access
// operations to operators. It adapts the catalog service to the MCP
// SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/catalog"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all iMoneza tools to the given MCP server.
func RegisterTools(server *mcp.Server, svc *catalog.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "imoneza_get_resource",
		Description: "Fetch the remote iMoneza record for a resource key, including pricing. found is false when the resource has never been pushed.",
	}, getResourceHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "imoneza_save_resource",
		Description: "Create or update a resource in the iMoneza catalog. Unchanged resources are skipped unless force is set. active=false stops iMoneza managing the resource.",
	}, saveResourceHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "imoneza_get_property",
		Description: "Fetch the iMoneza property configuration and its pricing groups.",
	}, getPropertyHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "imoneza_check_access",
		Description: "Run an access check as a visitor would. Returns grant, deny (with the paywall redirect URL) or error.",
	}, checkAccessHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "imoneza_list_pushed",
		Description: "List every resource this gateway has pushed, with its last push time and whether it is active.",
	}, listPushedHandler(svc))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// KeyInput identifies one resource.
type KeyInput struct {
	Key string `json:"key" jsonschema:"required,resource key, for example node-42"`
}

// TierInput is one pricing tier.
type TierInput struct {
	Value int     `json:"value" jsonschema:"required,views, or a duration in unit for time tiers"`
	Unit  string  `json:"unit,omitempty" jsonschema:"minutes, hours or days for time tiers, defaults to minutes"`
	Price float64 `json:"price" jsonschema:"required,price for this tier"`
}

// SaveResourceInput holds parameters for imoneza_save_resource.
type SaveResourceInput struct {
	Key             string      `json:"key" jsonschema:"required,resource key"`
	Title           string      `json:"title" jsonschema:"required,title shown to visitors"`
	Name            string      `json:"name,omitempty" jsonschema:"internal name, defaults to the title"`
	Byline          string      `json:"byline,omitempty" jsonschema:"author or byline"`
	Description     string      `json:"description,omitempty" jsonschema:"short description"`
	URL             string      `json:"url,omitempty" jsonschema:"public URL of the content"`
	Published       string      `json:"published,omitempty" jsonschema:"publication time, RFC 3339"`
	PricingGroup    string      `json:"pricing_group,omitempty" jsonschema:"pricing group ID from imoneza_get_property"`
	PricingModel    string      `json:"pricing_model,omitempty" jsonschema:"Inherit, Free, FixedPrice, VariablePrice, TimeTiered, ViewTiered or SubscriptionOnly"`
	Price           float64     `json:"price,omitempty" jsonschema:"price for FixedPrice and VariablePrice"`
	ExpirationUnit  string      `json:"expiration_unit,omitempty" jsonschema:"Never, Years, Months, Weeks or Days"`
	ExpirationValue int         `json:"expiration_value,omitempty" jsonschema:"expiration duration, required unless the unit is Never"`
	Tiers           []TierInput `json:"tiers,omitempty" jsonschema:"tiers for TimeTiered and ViewTiered, one must be 0"`
	Active          *bool       `json:"active,omitempty" jsonschema:"false deactivates the resource, defaults to true"`
	Force           bool        `json:"force,omitempty" jsonschema:"push even if unchanged since the last push"`
}

// PropertyInput has no parameters.
type PropertyInput struct{}

// CheckAccessInput holds parameters for imoneza_check_access.
type CheckAccessInput struct {
	Key                string `json:"key" jsonschema:"required,resource key"`
	URL                string `json:"url" jsonschema:"required,public URL of the resource"`
	IP                 string `json:"ip,omitempty" jsonschema:"visitor IP address"`
	UserAgent          string `json:"user_agent,omitempty" jsonschema:"visitor user agent"`
	UserToken          string `json:"user_token,omitempty" jsonschema:"user token from the visitor cookie"`
	TemporaryUserToken string `json:"temporary_user_token,omitempty" jsonschema:"one-time token from a paywall return, consumed by the check"`
}

// ListPushedInput has no parameters.
type ListPushedInput struct{}

// --- Output types ---

// TierOutput is one stored tier in display units.
type TierOutput struct {
	Value int     `json:"value"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

// ResourceResult is the output of imoneza_get_resource.
type ResourceResult struct {
	Key             string       `json:"key"`
	Found           bool         `json:"found"`
	Managed         bool         `json:"managed"`
	Name            string       `json:"name,omitempty"`
	Title           string       `json:"title,omitempty"`
	Byline          string       `json:"byline,omitempty"`
	Description     string       `json:"description,omitempty"`
	URL             string       `json:"url,omitempty"`
	Published       string       `json:"published,omitempty"`
	PricingGroup    string       `json:"pricing_group,omitempty"`
	PricingModel    string       `json:"pricing_model,omitempty"`
	Price           float64      `json:"price,omitempty"`
	ExpirationUnit  string       `json:"expiration_unit,omitempty"`
	ExpirationValue int          `json:"expiration_value,omitempty"`
	Tiers           []TierOutput `json:"tiers,omitempty"`
}

// SaveResult is the output of imoneza_save_resource.
type SaveResult struct {
	Key    string `json:"key"`
	Result string `json:"result"`
}

// CheckAccessResult is the output of imoneza_check_access.
type CheckAccessResult struct {
	Outcome             string `json:"outcome"`
	RedirectURL         string `json:"redirect_url,omitempty"`
	UserToken           string `json:"user_token,omitempty"`
	UserTokenExpiration string `json:"user_token_expiration,omitempty"`
	Error               string `json:"error,omitempty"`
}

// PushedResource is one push ledger entry.
type PushedResource struct {
	Key      string `json:"key"`
	Active   bool   `json:"active"`
	PushedAt string `json:"pushed_at"`
}

// ListPushedResult is the output of imoneza_list_pushed.
type ListPushedResult struct {
	Total     int              `json:"total"`
	Resources []PushedResource `json:"resources"`
}

// --- Handlers ---

func getResourceHandler(svc *catalog.Service) mcp.ToolHandlerFor[KeyInput, *ResourceResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input KeyInput) (*mcp.CallToolResult, *ResourceResult, error) {
		if input.Key == "" {
			return nil, nil, errors.New("key is required")
		}

		session := svc.Session()

		res, ok := session.GetResource(ctx, input.Key)
		if !ok {
			return nil, nil, errors.New(session.LastError())
		}

		result := resourceResult(input.Key, res)

		return textResult(result), result, nil
	}
}

func saveResourceHandler(svc *catalog.Service) mcp.ToolHandlerFor[SaveResourceInput, *SaveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SaveResourceInput) (*mcp.CallToolResult, *SaveResult, error) {
		entry, err := manifestEntry(input)
		if err != nil {
			return nil, nil, err
		}

		pushed, msg := svc.Session().PushEntry(ctx, entry, input.Force)
		if pushed == catalog.PushFailed {
			return nil, nil, errors.New(msg)
		}

		result := &SaveResult{Key: input.Key, Result: string(pushed)}

		return textResult(result), result, nil
	}
}

func getPropertyHandler(svc *catalog.Service) mcp.ToolHandlerFor[PropertyInput, *imoneza.Property] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ PropertyInput) (*mcp.CallToolResult, *imoneza.Property, error) {
		session := svc.Session()

		prop := session.GetProperty(ctx)
		if prop == nil {
			return nil, nil, errors.New(session.LastError())
		}

		return textResult(prop), prop, nil
	}
}

func checkAccessHandler(svc *catalog.Service) mcp.ToolHandlerFor[CheckAccessInput, *CheckAccessResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CheckAccessInput) (*mcp.CallToolResult, *CheckAccessResult, error) {
		if input.Key == "" || input.URL == "" {
			return nil, nil, errors.New("key and url are required")
		}

		session := svc.Session()
		d := session.CheckAccess(ctx, imoneza.AccessRequest{
			ResourceKey:        input.Key,
			ResourceURL:        input.URL,
			VisitorIP:          input.IP,
			UserAgent:          input.UserAgent,
			UserToken:          input.UserToken,
			TemporaryUserToken: input.TemporaryUserToken,
		})

		result := &CheckAccessResult{
			Outcome:     d.Kind.String(),
			RedirectURL: d.RedirectURL,
			UserToken:   d.UserToken,
			Error:       session.LastError(),
		}

		if d.Bypassed {
			result.Outcome = "bypass"
		}

		if !d.UserTokenExpiration.IsZero() {
			result.UserTokenExpiration = d.UserTokenExpiration.UTC().Format(time.RFC3339)
		}

		return textResult(result), result, nil
	}
}

func listPushedHandler(svc *catalog.Service) mcp.ToolHandlerFor[ListPushedInput, *ListPushedResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListPushedInput) (*mcp.CallToolResult, *ListPushedResult, error) {
		records, err := svc.PushRecords()
		if err != nil {
			return nil, nil, fmt.Errorf("reading push ledger: %w", err)
		}

		result := &ListPushedResult{Total: len(records), Resources: make([]PushedResource, 0, len(records))}
		for _, rec := range records {
			result.Resources = append(result.Resources, PushedResource{
				Key:      rec.ExternalKey,
				Active:   rec.Active,
				PushedAt: rec.PushedAt.UTC().Format(time.RFC3339),
			})
		}

		return textResult(result), result, nil
	}
}

func resourceResult(key string, res *imoneza.Resource) *ResourceResult {
	result := &ResourceResult{Key: key}
	if res == nil {
		return result
	}

	result.Found = true
	result.Managed = res.Managed()
	result.Name = res.Name
	result.Title = res.Title
	result.Byline = res.Byline
	result.Description = res.Description
	result.URL = res.URL
	result.PricingGroup = res.PricingGroup.PricingGroupID
	result.PricingModel = string(res.PricingModel)
	result.Price = res.Price
	result.ExpirationUnit = string(res.ExpirationPeriodUnit)
	result.ExpirationValue = res.ExpirationPeriodValue

	if !res.PublicationDate.IsZero() {
		result.Published = res.PublicationDate.UTC().Format(time.RFC3339)
	}

	for _, t := range res.ResourcePricingTiers {
		value, unit := imoneza.DisplayTier(res.PricingModel, t.Tier)

		label := unit.String()
		if res.PricingModel != imoneza.PricingTimeTiered {
			label = "views"
		}

		result.Tiers = append(result.Tiers, TierOutput{Value: value, Unit: label, Price: t.Price})
	}

	return result
}

func manifestEntry(input SaveResourceInput) (catalog.ManifestEntry, error) {
	if input.Key == "" {
		return catalog.ManifestEntry{}, errors.New("key is required")
	}

	entry := catalog.ManifestEntry{
		Key:          input.Key,
		Title:        input.Title,
		Name:         input.Name,
		Byline:       input.Byline,
		Description:  input.Description,
		URL:          input.URL,
		PricingGroup: input.PricingGroup,
		PricingModel: imoneza.PricingModel(input.PricingModel),
		Price:        input.Price,
		Expiration: catalog.ManifestExpiration{
			Unit:  imoneza.ExpirationUnit(input.ExpirationUnit),
			Value: input.ExpirationValue,
		},
		Active: input.Active,
	}

	if input.Published != "" {
		t, err := time.Parse(time.RFC3339, input.Published)
		if err != nil {
			return catalog.ManifestEntry{}, fmt.Errorf("published must be an RFC 3339 timestamp: %w", err)
		}

		entry.Published = t
	}

	for _, t := range input.Tiers {
		entry.Tiers = append(entry.Tiers, catalog.ManifestTier{Value: t.Value, Unit: t.Unit, Price: t.Price})
	}

	return entry, nil
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
