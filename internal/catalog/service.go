// Package catalog keeps the remote resource catalog in step with local
// content. It wraps the Management client with the operator-facing error
// slot the admin API displays and records what was last pushed.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/metrics"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
	"github.com/alexjbarnes/imoneza-gate/internal/state"
)

// PushResult labels the outcome of one push. The values double as
// metric labels.
type PushResult string

const (
	PushPushed      PushResult = "pushed"
	PushUnchanged   PushResult = "unchanged"
	PushDeactivated PushResult = "deactivated"
	PushFailed      PushResult = "failed"
)

// Clients builds API clients from settings. Base URLs come from process
// configuration; credentials come from the settings passed in, so each
// call sees the latest admin edits.
type Clients struct {
	AccessURL     string
	ManagementURL string
	HTTPClient    *http.Client
	Signer        imoneza.Signer
}

// Access returns an Access API client for s.
func (c Clients) Access(s models.Settings) *imoneza.AccessClient {
	return imoneza.NewAccessClient(
		imoneza.Endpoint{BaseURL: c.AccessURL, Credentials: s.AccessCredentials()},
		imoneza.AccessOptions{
			HTTPClient:         c.HTTPClient,
			Signer:             c.Signer,
			ExcludedUserAgents: s.ExcludedAgents(),
		},
	)
}

// Management returns a Management API client for s.
func (c Clients) Management(s models.Settings) *imoneza.ManagementClient {
	return imoneza.NewManagementClient(
		imoneza.Endpoint{BaseURL: c.ManagementURL, Credentials: s.ManagementCredentials()},
		imoneza.ManagementOptions{HTTPClient: c.HTTPClient, Signer: c.Signer},
	)
}

// Service is the management facade used by the admin API, the MCP tools
// and the push command. Failures are reported through LastError rather
// than returned; every call clears the slot first.
type Service struct {
	store   *state.State
	clients Clients
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	lastError string
}

// NewService creates a Service. m may be nil.
func NewService(store *state.State, clients Clients, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		clients: clients,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Session returns a Service that shares s's dependencies but has its own
// error slot. Take one per admin request so concurrent operators do not
// see each other's messages.
func (s *Service) Session() *Service {
	return &Service{
		store:   s.store,
		clients: s.clients,
		logger:  s.logger,
		metrics: s.metrics,
		now:     s.now,
	}
}

// LastError returns the operator message from the most recent call, or
// "" if it succeeded.
func (s *Service) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastError
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *Service) fail(op string, api API, err error) {
	msg := OperatorMessage(err, api)
	s.setError(msg)
	s.metrics.IncrementAPIError(imoneza.KindOf(err).String())
	s.logger.Warn("catalog call failed",
		slog.String("op", op),
		slog.String("api", api.String()),
		slog.String("error", err.Error()),
	)
}

// Settings returns the current stored settings. A read failure is
// treated as empty settings so callers degrade to not-ready.
func (s *Service) Settings() models.Settings {
	settings, err := s.store.Settings()
	if err != nil {
		s.logger.Error("reading settings", slog.String("error", err.Error()))
		return models.Settings{}
	}

	return settings
}

func (s *Service) management() *imoneza.ManagementClient {
	return s.clients.Management(s.Settings())
}

// GetResource fetches the remote record for key. It returns (nil, true)
// when the resource has never been pushed and (nil, false) on failure.
func (s *Service) GetResource(ctx context.Context, key string) (*imoneza.Resource, bool) {
	s.setError("")

	res, err := s.management().GetResource(ctx, key)
	if err != nil {
		s.fail("get_resource", ManagementAPI, err)
		return nil, false
	}

	return res, true
}

// CreateOrUpdateResource pushes req unconditionally and records its
// fingerprint.
func (s *Service) CreateOrUpdateResource(ctx context.Context, req imoneza.SaveResourceRequest) bool {
	s.setError("")

	if err := s.management().CreateOrUpdateResource(ctx, req); err != nil {
		s.fail("save_resource", ManagementAPI, err)
		s.metrics.IncrementPush(string(PushFailed))

		return false
	}

	s.metrics.IncrementPush(string(PushPushed))
	s.record(req.ExternalKey, Fingerprint(req), true)

	return true
}

// PushIfChanged pushes req only when it differs from the last successful
// push of the same key.
func (s *Service) PushIfChanged(ctx context.Context, req imoneza.SaveResourceRequest) PushResult {
	rec, err := s.store.GetResourceRecord(req.ExternalKey)
	if err != nil {
		s.logger.Warn("reading push record", slog.String("key", req.ExternalKey), slog.String("error", err.Error()))
	}

	if rec != nil && rec.Active && rec.Fingerprint == Fingerprint(req) {
		s.setError("")
		s.metrics.IncrementPush(string(PushUnchanged))

		return PushUnchanged
	}

	if !s.CreateOrUpdateResource(ctx, req) {
		return PushFailed
	}

	return PushPushed
}

// DeactivateResource tells the service to stop managing key.
func (s *Service) DeactivateResource(ctx context.Context, key string) bool {
	s.setError("")

	if err := s.management().DeactivateResource(ctx, key); err != nil {
		s.fail("deactivate_resource", ManagementAPI, err)
		s.metrics.IncrementPush(string(PushFailed))

		return false
	}

	s.metrics.IncrementPush(string(PushDeactivated))
	s.record(key, "", false)

	return true
}

// WasPushedActive reports whether the ledger shows key as currently
// managed.
func (s *Service) WasPushedActive(key string) bool {
	rec, err := s.store.GetResourceRecord(key)
	if err != nil || rec == nil {
		return false
	}

	return rec.Active
}

// PushRecords returns the push ledger sorted by key.
func (s *Service) PushRecords() ([]state.ResourceRecord, error) {
	all, err := s.store.AllResourceRecords()
	if err != nil {
		return nil, err
	}

	records := make([]state.ResourceRecord, 0, len(all))
	for _, rec := range all {
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ExternalKey < records[j].ExternalKey })

	return records, nil
}

// GetProperty fetches the property and its pricing groups, or nil on
// failure.
func (s *Service) GetProperty(ctx context.Context) *imoneza.Property {
	s.setError("")

	prop, err := s.management().GetProperty(ctx)
	if err != nil {
		s.fail("get_property", ManagementAPI, err)
		return nil
	}

	return prop
}

// ValidateAccessCredentials probes the Access API with the credentials
// in candidate, which need not be saved yet.
func (s *Service) ValidateAccessCredentials(ctx context.Context, candidate models.Settings, visitorIP string) bool {
	s.setError("")

	if err := s.clients.Access(candidate).ValidateCredentials(ctx, visitorIP); err != nil {
		s.fail("validate_access", AccessAPI, err)
		return false
	}

	return true
}

// ValidateManagementCredentials probes the Management API with the
// credentials in candidate by fetching the property.
func (s *Service) ValidateManagementCredentials(ctx context.Context, candidate models.Settings) bool {
	s.setError("")

	if _, err := s.clients.Management(candidate).GetProperty(ctx); err != nil {
		s.fail("validate_management", ManagementAPI, err)
		return false
	}

	return true
}

// CheckAccess runs an access check with the current settings. The
// gateway builds its own checker; this is for operator diagnostics.
func (s *Service) CheckAccess(ctx context.Context, req imoneza.AccessRequest) imoneza.Decision {
	d := s.clients.Access(s.Settings()).CheckAccess(ctx, req)
	if d.Err != nil {
		s.setError(OperatorMessage(d.Err, AccessAPI))
	} else {
		s.setError("")
	}

	return d
}

func (s *Service) record(key, fingerprint string, active bool) {
	err := s.store.SetResourceRecord(state.ResourceRecord{
		ExternalKey: key,
		Fingerprint: fingerprint,
		Active:      active,
		PushedAt:    s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("saving push record", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Fingerprint hashes the wire form of req. Two requests with the same
// fingerprint produce the same remote state.
func Fingerprint(req imoneza.SaveResourceRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
