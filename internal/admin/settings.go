// Package admin turns plugin settings and remote resources into the
// view-models the operator API serves, and turns submitted forms back
// into settings and resource requests.
package admin

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// Form field names. They match the CMS settings form so existing
// integrations can post the same payload.
const (
	FieldAccessKey          = "imoneza_ra_api_key_access"
	FieldAccessSecret       = "imoneza_ra_api_key_secret"
	FieldManagementKey      = "imoneza_rm_api_key_access"
	FieldManagementSecret   = "imoneza_rm_api_key_secret"
	FieldNoDynamic          = "imoneza_nodynamic"
	FieldAccessControl      = "imoneza_access_control"
	FieldNodeTypes          = "imoneza_node_types"
	FieldExcludedUserAgents = "imoneza_access_control_excluded_user_agents"
)

var strictPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from s and returns NFC-normalized text.
func sanitize(s string) string {
	return norm.NFC.String(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// plain is sanitize with surrounding whitespace removed.
func plain(s string) string {
	return strings.TrimSpace(sanitize(s))
}

// Option is one choice of a select or radio group.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var accessControlOptions = []Option{
	{Value: string(models.AccessControlNone), Label: "None"},
	{Value: string(models.AccessControlClient), Label: "Client-side (JavaScript)"},
	{Value: string(models.AccessControlServer), Label: "Server-side"},
}

// SettingsView is the settings form as the operator sees it. Secrets
// are never echoed; only whether one is stored.
type SettingsView struct {
	AccessAPIKey                    string   `json:"imoneza_ra_api_key_access"`
	AccessSecretSet                 bool     `json:"imoneza_ra_api_key_secret_set"`
	ManagementAPIKey                string   `json:"imoneza_rm_api_key_access"`
	ManagementSecretSet             bool     `json:"imoneza_rm_api_key_secret_set"`
	DynamicResourceCreationDisabled bool     `json:"imoneza_nodynamic"`
	AccessControl                   string   `json:"imoneza_access_control"`
	AccessControlOptions            []Option `json:"access_control_options"`
	NodeTypes                       []string `json:"imoneza_node_types"`
	ExcludedUserAgents              string   `json:"imoneza_access_control_excluded_user_agents"`
	AccessReady                     bool     `json:"access_ready"`
	ManagementReady                 bool     `json:"management_ready"`
}

// RenderSettings builds the settings view for s.
func RenderSettings(s models.Settings) SettingsView {
	mode := s.AccessControl
	if mode == "" {
		mode = models.AccessControlServer
	}

	nodeTypes := s.NodeTypes
	if nodeTypes == nil {
		nodeTypes = []string{}
	}

	return SettingsView{
		AccessAPIKey:                    s.AccessAPIKey,
		AccessSecretSet:                 s.AccessAPISecret != "",
		ManagementAPIKey:                s.ManagementAPIKey,
		ManagementSecretSet:             s.ManagementAPISecret != "",
		DynamicResourceCreationDisabled: s.DynamicResourceCreationDisabled,
		AccessControl:                   string(mode),
		AccessControlOptions:            accessControlOptions,
		NodeTypes:                       nodeTypes,
		ExcludedUserAgents:              s.ExcludedUserAgents,
		AccessReady:                     s.AccessReady(),
		ManagementReady:                 s.ManagementReady(),
	}
}

// ApplySettings merges a submitted settings form into current. Fields
// missing from the form keep their current value, and an empty secret
// keeps the stored one so the form never has to echo it. The checkbox
// is the exception: absent means unchecked.
func ApplySettings(form url.Values, current models.Settings) (models.Settings, error) {
	next := current

	if form.Has(FieldAccessKey) {
		next.AccessAPIKey = plain(form.Get(FieldAccessKey))
	}

	if v := plain(form.Get(FieldAccessSecret)); v != "" {
		next.AccessAPISecret = v
	}

	if form.Has(FieldManagementKey) {
		next.ManagementAPIKey = plain(form.Get(FieldManagementKey))
	}

	if v := plain(form.Get(FieldManagementSecret)); v != "" {
		next.ManagementAPISecret = v
	}

	next.DynamicResourceCreationDisabled = form.Get(FieldNoDynamic) == "1"

	if form.Has(FieldAccessControl) {
		mode := models.AccessControl(plain(form.Get(FieldAccessControl)))
		if !mode.Valid() {
			return current, fmt.Errorf("access control must be one of none, client or server, got %q", mode)
		}

		next.AccessControl = mode
	}

	if form.Has(FieldNodeTypes) {
		next.NodeTypes = parseNodeTypes(form[FieldNodeTypes])
	}

	if form.Has(FieldExcludedUserAgents) {
		next.ExcludedUserAgents = cleanUserAgents(form.Get(FieldExcludedUserAgents))
	}

	return next, nil
}

// parseNodeTypes accepts repeated values or a single comma-separated
// value. Blanks and duplicates are dropped.
func parseNodeTypes(values []string) []string {
	seen := make(map[string]struct{})
	types := []string{}

	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			t := plain(part)
			if t == "" {
				continue
			}

			if _, dup := seen[t]; dup {
				continue
			}

			seen[t] = struct{}{}
			types = append(types, t)
		}
	}

	return types
}

// cleanUserAgents strips carriage returns and sanitizes each line.
// Whitespace inside a line is kept since agents match exactly.
func cleanUserAgents(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r", ""), "\n")
	for i, line := range lines {
		lines[i] = sanitize(line)
	}

	return strings.Join(lines, "\n")
}
