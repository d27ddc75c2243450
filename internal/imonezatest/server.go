// Package imonezatest provides an in-memory iMoneza service for tests.
// It serves both APIs from one httptest server, checks request
// signatures and keeps the resource catalog in a map.
package imonezatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
)

// Default credentials accepted by a new Server.
var (
	AccessCredentials     = imoneza.Credentials{Key: "access-key", Secret: "access-secret"}
	ManagementCredentials = imoneza.Credentials{Key: "manage-key", Secret: "manage-secret"}
)

// PaywallURL is the base of every AccessActionURL the server hands out.
const PaywallURL = "https://pay.example/access?ResourceKey="

// Server is a fake of the Access and Management APIs.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	access      imoneza.Credentials
	management  imoneza.Credentials
	property    imoneza.Property
	resources   map[string]imoneza.Resource
	subscribers map[string]struct{}
	exchanges   map[string]string
	issued      int
	accessCalls int
	puts        int
	lastQuery   url.Values
}

// NewServer starts a Server with the default credentials and a property
// holding two pricing groups. Close it when done.
func NewServer() *Server {
	s := &Server{
		access:     AccessCredentials,
		management: ManagementCredentials,
		property: imoneza.Property{
			PropertyID: "prop-1",
			Name:       "Daily News",
			PricingGroups: []imoneza.PricingGroup{
				{PricingGroupID: "pg-basic", Name: "Basic"},
				{PricingGroupID: "pg-premium", Name: "Premium", IsDefault: true},
			},
		},
		resources:   make(map[string]imoneza.Resource),
		subscribers: make(map[string]struct{}),
		exchanges:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/Resource/{key}/{resource}", s.handleLookup)
	mux.HandleFunc("GET /api/TemporaryUserToken/{key}/{tut}", s.handleExchange)
	mux.HandleFunc("GET /api/Property/{key}", s.handleProperty)
	mux.HandleFunc("GET /api/Property/{key}/Resource/{resource}", s.handleGetResource)
	mux.HandleFunc("PUT /api/Property/{key}/Resource/{resource}", s.handlePutResource)

	s.Server = httptest.NewServer(mux)

	return s
}

// AddResource stores res as if it had been pushed.
func (s *Server) AddResource(res imoneza.Resource) {
	s.mu.Lock()
	s.resources[res.ExternalKey] = res
	s.mu.Unlock()
}

// Resource returns the stored resource for key.
func (s *Server) Resource(key string) (imoneza.Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.resources[key]

	return res, ok
}

// AddSubscriber marks userToken as entitled to every resource.
func (s *Server) AddSubscriber(userToken string) {
	s.mu.Lock()
	s.subscribers[userToken] = struct{}{}
	s.mu.Unlock()
}

// AddTemporaryToken registers tut for a one-time exchange into
// userToken.
func (s *Server) AddTemporaryToken(tut, userToken string) {
	s.mu.Lock()
	s.exchanges[tut] = userToken
	s.mu.Unlock()
}

// AccessCalls returns the number of Access API requests received.
func (s *Server) AccessCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accessCalls
}

// Puts returns the number of resource upserts received.
func (s *Server) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts
}

// LastAccessQuery returns the query of the latest Access API request.
func (s *Server) LastAccessQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastQuery
}

// authorize checks the key in the path and the request signature. A
// wrong key is a 404 and a wrong signature a 401.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, creds imoneza.Credentials) bool {
	if r.PathValue("key") != creds.Key {
		writeError(w, http.StatusNotFound, "Property not found")
		return false
	}

	base := imoneza.SignatureBase(r.Method, r.Header.Get("Timestamp"), r.URL.Path, r.URL.Query())
	want := creds.Key + ":" + imoneza.ComputeSignature(creds.Secret, base)

	if r.Header.Get("Authorization") != want {
		writeError(w, http.StatusUnauthorized, "Authorization has been denied for this request.")
		return false
	}

	return true
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessCalls++
	s.lastQuery = r.URL.Query()

	if !s.authorize(w, r, s.access) {
		return
	}

	s.decide(w, r.PathValue("resource"), r.URL.Query().Get("UserToken"))
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessCalls++
	s.lastQuery = r.URL.Query()

	if !s.authorize(w, r, s.access) {
		return
	}

	userToken, ok := s.exchanges[r.PathValue("tut")]
	if !ok {
		writeError(w, http.StatusBadRequest, "Temporary user token is invalid or has expired.")
		return
	}

	delete(s.exchanges, r.PathValue("tut"))
	s.decide(w, r.URL.Query().Get("ResourceKey"), userToken)
}

// decide denies managed, active, non-free resources to anyone who is not
// a subscriber. Every reply carries a user token.
func (s *Server) decide(w http.ResponseWriter, resourceKey, userToken string) {
	if userToken == "" {
		s.issued++
		userToken = fmt.Sprintf("anon-%d", s.issued)
	}

	out := imoneza.ResourceAccess{UserToken: userToken, AccessAction: imoneza.AccessActionGrant}

	res, known := s.resources[resourceKey]
	_, subscribed := s.subscribers[userToken]

	if known && res.Managed() && res.PricingModel != imoneza.PricingFree && !subscribed {
		out.AccessAction = "Purchase"
		out.AccessActionURL = PaywallURL + url.QueryEscape(resourceKey)
	}

	writeJSON(w, out)
}

func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorize(w, r, s.management) {
		return
	}

	writeJSON(w, s.property)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorize(w, r, s.management) {
		return
	}

	res, ok := s.resources[r.PathValue("resource")]
	if !ok {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}

	prop := s.property
	res.Property = &prop
	writeJSON(w, res)
}

func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorize(w, r, s.management) {
		return
	}

	var req imoneza.SaveResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "The request is invalid.")
		return
	}

	s.puts++
	key := r.PathValue("resource")
	res := s.resources[key]
	res.ExternalKey = key
	res.Active = req.Active

	// A deactivation carries only the key and the flag.
	if !req.Active {
		s.resources[key] = res
		w.WriteHeader(http.StatusOK)

		return
	}

	res.IsManaged = true
	res.Name = req.Name
	res.Title = req.Title
	res.Byline = req.Byline
	res.Description = req.Description
	res.URL = req.URL
	res.PublicationDate = req.PublicationDate
	res.PricingGroup = req.PricingGroup
	res.PricingModel = req.PricingModel
	res.Price = 0
	res.ExpirationPeriodUnit = ""
	res.ExpirationPeriodValue = 0

	if req.Price != nil {
		res.Price = *req.Price
	}

	if req.ExpirationPeriodUnit != nil {
		res.ExpirationPeriodUnit = *req.ExpirationPeriodUnit
	}

	if req.ExpirationPeriodValue != nil {
		res.ExpirationPeriodValue = *req.ExpirationPeriodValue
	}

	res.ResourcePricingTiers = req.ResourcePricingTiers
	s.resources[key] = res

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"Message": msg})
}
