// Package imoneza is a client for the iMoneza Access and Management
// APIs. The Access API decides, per page view, whether a visitor may see
// a resource. The Management API keeps the remote resource catalog in
// step with local content.
//
// Each API has its own base URL and key/secret pair. A client is bound to
// exactly one Endpoint, so requests for one API are never signed with the
// other's credentials.
package imoneza
