// Package models defines types shared across internal packages.
package models

import "github.com/alexjbarnes/imoneza-gate/imoneza"

// AccessControl selects where the access check runs.
type AccessControl string

const (
	AccessControlNone   AccessControl = "none"
	AccessControlClient AccessControl = "client"
	AccessControlServer AccessControl = "server"
)

// Valid reports whether a is a known mode.
func (a AccessControl) Valid() bool {
	switch a {
	case AccessControlNone, AccessControlClient, AccessControlServer:
		return true
	}

	return false
}

// Settings is the persisted plugin configuration. The admin API edits it;
// the gateway reads it once per request.
type Settings struct {
	AccessAPIKey                    string        `json:"access_api_key"`
	AccessAPISecret                 string        `json:"access_api_secret"`
	ManagementAPIKey                string        `json:"management_api_key"`
	ManagementAPISecret             string        `json:"management_api_secret"`
	ExcludedUserAgents              string        `json:"excluded_user_agents"`
	DynamicResourceCreationDisabled bool          `json:"dynamic_resource_creation_disabled"`
	AccessControl                   AccessControl `json:"access_control"`
	NodeTypes                       []string      `json:"node_types,omitempty"`
}

// AccessCredentials returns the Access API key/secret pair.
func (s Settings) AccessCredentials() imoneza.Credentials {
	return imoneza.Credentials{Key: s.AccessAPIKey, Secret: s.AccessAPISecret}
}

// ManagementCredentials returns the Management API key/secret pair.
func (s Settings) ManagementCredentials() imoneza.Credentials {
	return imoneza.Credentials{Key: s.ManagementAPIKey, Secret: s.ManagementAPISecret}
}

// AccessReady reports whether access checks can run.
func (s Settings) AccessReady() bool {
	return s.AccessCredentials().Ready()
}

// ManagementReady reports whether catalog operations can run.
func (s Settings) ManagementReady() bool {
	return s.ManagementCredentials().Ready()
}

// ServerSideAccess reports whether the gateway should check access on
// protected pages. An empty mode is treated as server.
func (s Settings) ServerSideAccess() bool {
	return s.AccessControl == "" || s.AccessControl == AccessControlServer
}

// ProtectsNodeType reports whether content of the given type is
// protected. An empty list protects every type.
func (s Settings) ProtectsNodeType(nodeType string) bool {
	if len(s.NodeTypes) == 0 {
		return true
	}

	for _, t := range s.NodeTypes {
		if t == nodeType {
			return true
		}
	}

	return false
}

// ExcludedAgents parses ExcludedUserAgents into a lookup list.
func (s Settings) ExcludedAgents() imoneza.UserAgentList {
	return imoneza.ParseUserAgents(s.ExcludedUserAgents)
}
