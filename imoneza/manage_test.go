package imoneza

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/imoneza-gate/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testManageCreds = Credentials{Key: "manage-key", Secret: "manage-secret"}

func newTestManagementClient(srv *httptest.Server) *ManagementClient {
	return NewManagementClient(Endpoint{BaseURL: srv.URL, Credentials: testManageCreds}, ManagementOptions{
		HTTPClient: srv.Client(),
	})
}

// fakeCatalog is an in-memory stand-in for the Management API keyed by
// external key.
type fakeCatalog struct {
	mu        sync.Mutex
	resources map[string]json.RawMessage
	puts      int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{resources: make(map[string]json.RawMessage)}
}

func (f *fakeCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/api/Property/manage-key/Resource/"
	if len(r.URL.Path) <= len(prefix) || r.URL.Path[:len(prefix)] != prefix {
		http.NotFound(w, r)
		return
	}

	key := r.URL.Path[len(prefix):]

	switch r.Method {
	case http.MethodGet:
		body, ok := f.resources[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"Message":"Resource not found"}`))
			return
		}
		w.Write(body)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.resources[key] = body
		f.puts++
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- GetResource ---

func TestGetResource_MissingReturnsNil(t *testing.T) {
	srv := httptest.NewServer(newFakeCatalog())
	defer srv.Close()

	res, err := newTestManagementClient(srv).GetResource(context.Background(), "missing-key")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, res.Managed())
}

func TestGetResource_DecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Property/manage-key/Resource/node-42", r.URL.Path)
		assert.True(t, len(r.Header.Get("Authorization")) > len("manage-key:"))
		w.Write([]byte(`{
			"ExternalKey":"node-42","Name":"Story","Title":"Story","IsManaged":true,"Active":true,
			"PricingModel":"TimeTiered","PricingGroup":{"PricingGroupID":"pg-2","Name":"Premium"},
			"PublicationDate":"2024-05-01T08:30:00",
			"ResourcePricingTiers":[{"Tier":0,"Price":0.25},{"Tier":1440,"Price":1.5}],
			"Property":{"PricingGroups":[{"PricingGroupID":"pg-1","Name":"Default","IsDefault":true}]}
		}`))
	}))
	defer srv.Close()

	res, err := newTestManagementClient(srv).GetResource(context.Background(), "node-42")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Managed())
	assert.Equal(t, PricingTimeTiered, res.PricingModel)
	assert.Equal(t, "pg-2", res.PricingGroup.PricingGroupID)
	assert.Equal(t, []PricingTier{{Tier: 0, Price: 0.25}, {Tier: 1440, Price: 1.5}}, res.ResourcePricingTiers)
	assert.True(t, res.PublicationDate.Equal(time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)))
	require.NotNil(t, res.Property)
	assert.Len(t, res.Property.PricingGroups, 1)
}

func TestGetResource_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"Message":"Signature mismatch"}`))
	}))
	defer srv.Close()

	_, err := newTestManagementClient(srv).GetResource(context.Background(), "node-42")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailure)
	assert.Contains(t, err.Error(), "Signature mismatch")
}

func TestGetResource_NotReady(t *testing.T) {
	c := NewManagementClient(Endpoint{BaseURL: "http://127.0.0.1:1"}, ManagementOptions{})
	_, err := c.GetResource(context.Background(), "node-42")
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
}

// --- CreateOrUpdateResource ---

func TestCreateOrUpdateResource_IsIdempotent(t *testing.T) {
	catalog := newFakeCatalog()
	srv := httptest.NewServer(catalog)
	defer srv.Close()

	req, err := BuildSaveRequest(ResourceFields{
		ExternalKey:    "node-42",
		Title:          "Story",
		PricingGroupID: "pg-1",
		PricingModel:   PricingFree,
	})
	require.NoError(t, err)

	c := newTestManagementClient(srv)
	require.NoError(t, c.CreateOrUpdateResource(context.Background(), req))
	first := string(catalog.resources["node-42"])

	require.NoError(t, c.CreateOrUpdateResource(context.Background(), req))
	assert.Len(t, catalog.resources, 1, "same key must not create a second record")
	assert.Equal(t, first, string(catalog.resources["node-42"]))

	res, err := c.GetResource(context.Background(), "node-42")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Story", res.Name, "name defaults to the title")
}

func TestCreateOrUpdateResource_SendsFullFieldSet(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	req, err := BuildSaveRequest(ResourceFields{
		ExternalKey:     "node-42",
		Name:            "Internal name",
		Title:           "Story",
		Byline:          "A. Writer",
		Description:     "Summary",
		URL:             "https://news.example.com/node/42",
		PublicationDate: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		PricingGroupID:  "pg-1",
		PricingModel:    PricingSubscriptionOnly,
	})
	require.NoError(t, err)
	require.NoError(t, newTestManagementClient(srv).CreateOrUpdateResource(context.Background(), req))

	for _, field := range []string{"ExternalKey", "Active", "Name", "Title", "Byline", "Description", "URL", "PublicationDate", "PricingGroup", "PricingModel"} {
		assert.Contains(t, body, field)
	}
	for _, field := range []string{"Price", "ExpirationPeriodUnit", "ExpirationPeriodValue", "ResourcePricingTiers"} {
		assert.NotContains(t, body, field)
	}
	assert.Equal(t, "2024-05-01T08:30:00Z", body["PublicationDate"])
	assert.Equal(t, map[string]interface{}{"PricingGroupID": "pg-1"}, body["PricingGroup"])
}

func TestDeactivateResource(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Property/manage-key/Resource/node-42", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	require.NoError(t, newTestManagementClient(srv).DeactivateResource(context.Background(), "node-42"))
	assert.Equal(t, map[string]interface{}{"ExternalKey": "node-42", "Active": false}, body)
}

// --- GetProperty ---

func TestGetProperty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/Property/manage-key", r.URL.Path)
		w.Write([]byte(`{"Name":"News","PricingGroups":[
			{"PricingGroupID":"pg-1","Name":"Basic"},
			{"PricingGroupID":"pg-2","Name":"Premium","IsDefault":true}]}`))
	}))
	defer srv.Close()

	prop, err := newTestManagementClient(srv).GetProperty(context.Background())
	require.NoError(t, err)
	g, ok := prop.DefaultPricingGroup()
	require.True(t, ok)
	assert.Equal(t, "pg-2", g.PricingGroupID)
}

func TestGetProperty_NotFoundIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestManagementClient(srv).GetProperty(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDefaultPricingGroup_FallsBackToFirst(t *testing.T) {
	prop := &Property{PricingGroups: []PricingGroup{{PricingGroupID: "a"}, {PricingGroupID: "b"}}}
	g, ok := prop.DefaultPricingGroup()
	require.True(t, ok)
	assert.Equal(t, "a", g.PricingGroupID)

	_, ok = (&Property{}).DefaultPricingGroup()
	assert.False(t, ok)

	var nilProp *Property
	_, ok = nilProp.DefaultPricingGroup()
	assert.False(t, ok)
}

// --- BuildSaveRequest ---

func TestBuildSaveRequest_FixedPriceWithExpiration(t *testing.T) {
	req, err := BuildSaveRequest(ResourceFields{
		ExternalKey:     "node-1",
		PricingModel:    PricingFixedPrice,
		Price:           0,
		ExpirationUnit:  ExpirationDays,
		ExpirationValue: 7,
	})
	require.NoError(t, err)
	require.NotNil(t, req.Price)
	assert.Equal(t, 0.0, *req.Price, "zero price is still transmitted")
	require.NotNil(t, req.ExpirationPeriodUnit)
	assert.Equal(t, ExpirationDays, *req.ExpirationPeriodUnit)
	require.NotNil(t, req.ExpirationPeriodValue)
	assert.Equal(t, 7, *req.ExpirationPeriodValue)
	assert.Nil(t, req.ResourcePricingTiers)
}

func TestBuildSaveRequest_NeverExpiringOmitsValue(t *testing.T) {
	req, err := BuildSaveRequest(ResourceFields{
		ExternalKey:     "node-1",
		PricingModel:    PricingVariablePrice,
		Price:           2.5,
		ExpirationValue: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, ExpirationNever, *req.ExpirationPeriodUnit)
	assert.Nil(t, req.ExpirationPeriodValue)
}

func TestBuildSaveRequest_TimeTiersNormalizedToMinutes(t *testing.T) {
	req, err := BuildSaveRequest(ResourceFields{
		ExternalKey:  "node-1",
		PricingModel: PricingTimeTiered,
		Tiers: []TierInput{
			{Value: 2, Unit: TierDays, Price: 3},
			{Value: 0, Price: 0.5},
			{Value: 90, Unit: TierMinutes, Price: 1},
			{Value: 3, Unit: TierHours, Price: 2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []PricingTier{
		{Tier: 0, Price: 0.5},
		{Tier: 90, Price: 1},
		{Tier: 180, Price: 2},
		{Tier: 2880, Price: 3},
	}, req.ResourcePricingTiers)
	assert.Nil(t, req.Price)
}

func TestBuildSaveRequest_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		fields ResourceFields
	}{
		{"missing key", ResourceFields{PricingModel: PricingFree}},
		{"unknown model", ResourceFields{ExternalKey: "k", PricingModel: "Lottery"}},
		{"negative price", ResourceFields{ExternalKey: "k", PricingModel: PricingFixedPrice, Price: -1}},
		{"bad unit", ResourceFields{ExternalKey: "k", PricingModel: PricingFixedPrice, ExpirationUnit: "Fortnights"}},
		{"missing duration", ResourceFields{ExternalKey: "k", PricingModel: PricingFixedPrice, ExpirationUnit: ExpirationWeeks}},
		{"no tiers", ResourceFields{ExternalKey: "k", PricingModel: PricingViewTiered}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSaveRequest(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestBuildSaveRequest_DefaultsToInherit(t *testing.T) {
	req, err := BuildSaveRequest(ResourceFields{ExternalKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, PricingInherit, req.PricingModel)
	assert.True(t, req.Active)
}
