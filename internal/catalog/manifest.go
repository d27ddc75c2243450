package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"gopkg.in/yaml.v3"
)

// Manifest is a YAML export of CMS content to be mirrored into the
// remote catalog.
type Manifest struct {
	Resources []ManifestEntry `yaml:"resources"`
}

// ManifestEntry describes one content item.
type ManifestEntry struct {
	Key          string               `yaml:"key"`
	Title        string               `yaml:"title"`
	Name         string               `yaml:"name,omitempty"`
	Byline       string               `yaml:"byline,omitempty"`
	Description  string               `yaml:"description,omitempty"`
	URL          string               `yaml:"url,omitempty"`
	Published    time.Time            `yaml:"published,omitempty"`
	PricingGroup string               `yaml:"pricing_group,omitempty"`
	PricingModel imoneza.PricingModel `yaml:"pricing_model,omitempty"`
	Price        float64              `yaml:"price,omitempty"`
	Expiration   ManifestExpiration   `yaml:"expiration,omitempty"`
	Tiers        []ManifestTier       `yaml:"tiers,omitempty"`

	// Active defaults to true. false deactivates a previously pushed
	// resource.
	Active *bool `yaml:"active,omitempty"`
}

// ManifestExpiration is the purchase expiration period.
type ManifestExpiration struct {
	Unit  imoneza.ExpirationUnit `yaml:"unit,omitempty"`
	Value int                    `yaml:"value,omitempty"`
}

// ManifestTier is one price tier. Unit is minutes, hours or days for
// time tiers and ignored for view tiers.
type ManifestTier struct {
	Value int     `yaml:"value"`
	Unit  string  `yaml:"unit,omitempty"`
	Price float64 `yaml:"price"`
}

// IsActive reports whether the entry should be managed remotely.
func (e ManifestEntry) IsActive() bool {
	return e.Active == nil || *e.Active
}

// Fields converts the entry into resource fields.
func (e ManifestEntry) Fields() (imoneza.ResourceFields, error) {
	tiers := make([]imoneza.TierInput, 0, len(e.Tiers))

	for i, t := range e.Tiers {
		unit, err := imoneza.ParseTierUnit(t.Unit)
		if err != nil {
			return imoneza.ResourceFields{}, fmt.Errorf("tier %d: %w", i+1, err)
		}

		tiers = append(tiers, imoneza.TierInput{Value: t.Value, Unit: unit, Price: t.Price})
	}

	return imoneza.ResourceFields{
		ExternalKey:     e.Key,
		Name:            e.Name,
		Title:           e.Title,
		Byline:          e.Byline,
		Description:     e.Description,
		URL:             e.URL,
		PublicationDate: e.Published,
		PricingGroupID:  e.PricingGroup,
		PricingModel:    e.PricingModel,
		Price:           e.Price,
		ExpirationUnit:  e.Expiration.Unit,
		ExpirationValue: e.Expiration.Value,
		Tiers:           tiers,
	}, nil
}

// ParseManifest decodes a manifest and checks that keys are present and
// unique.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Resources))

	for i, e := range m.Resources {
		if e.Key == "" {
			return nil, fmt.Errorf("manifest entry %d has no key", i+1)
		}

		if _, dup := seen[e.Key]; dup {
			return nil, fmt.Errorf("duplicate key %q in manifest", e.Key)
		}

		seen[e.Key] = struct{}{}
	}

	return &m, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	return ParseManifest(data)
}

// PushSummary counts push results for one manifest run.
type PushSummary struct {
	Pushed      int
	Unchanged   int
	Deactivated int
	Failed      int
	Errors      []string
}

func (p *PushSummary) add(key string, result PushResult, msg string) {
	switch result {
	case PushPushed:
		p.Pushed++
	case PushUnchanged:
		p.Unchanged++
	case PushDeactivated:
		p.Deactivated++
	case PushFailed:
		p.Failed++
		p.Errors = append(p.Errors, key+": "+msg)
	}
}

// PushManifest mirrors every entry of m. Unchanged entries are skipped
// unless force is set. Inactive entries deactivate resources the ledger
// shows as managed and are otherwise left alone.
func (s *Service) PushManifest(ctx context.Context, m *Manifest, force bool) PushSummary {
	var summary PushSummary

	for _, e := range m.Resources {
		if ctx.Err() != nil {
			summary.add(e.Key, PushFailed, ctx.Err().Error())
			continue
		}

		result, msg := s.PushEntry(ctx, e, force)
		summary.add(e.Key, result, msg)
	}

	s.logger.Info("manifest pushed",
		slog.Int("pushed", summary.Pushed),
		slog.Int("unchanged", summary.Unchanged),
		slog.Int("deactivated", summary.Deactivated),
		slog.Int("failed", summary.Failed),
	)

	return summary
}

// PushEntry mirrors one entry and returns its result with the operator
// message on failure.
func (s *Service) PushEntry(ctx context.Context, e ManifestEntry, force bool) (PushResult, string) {
	if !e.IsActive() {
		if !force && !s.WasPushedActive(e.Key) {
			return PushUnchanged, ""
		}

		if !s.DeactivateResource(ctx, e.Key) {
			return PushFailed, s.LastError()
		}

		return PushDeactivated, ""
	}

	fields, err := e.Fields()
	if err != nil {
		return PushFailed, err.Error()
	}

	req, err := imoneza.BuildSaveRequest(fields)
	if err != nil {
		return PushFailed, err.Error()
	}

	if force {
		if !s.CreateOrUpdateResource(ctx, req) {
			return PushFailed, s.LastError()
		}

		return PushPushed, ""
	}

	result := s.PushIfChanged(ctx, req)
	if result == PushFailed {
		return result, s.LastError()
	}

	return result, ""
}
