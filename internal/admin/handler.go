package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/imoneza-gate/imoneza"
	"github.com/alexjbarnes/imoneza-gate/internal/auth"
	"github.com/alexjbarnes/imoneza-gate/internal/catalog"
	"github.com/alexjbarnes/imoneza-gate/internal/models"
)

const (
	msgSettingsSaved = "Settings saved."
	msgResourceSaved = "iMoneza settings for the resource were successfully updated."
)

// Content fields accepted alongside a resource form. They describe the
// CMS item when the gateway cannot look it up itself.
const (
	FieldContentTitle     = "content_title"
	FieldContentExcerpt   = "content_excerpt"
	FieldContentURL       = "content_url"
	FieldContentPublished = "content_published"
)

// SettingsStore reads and writes the persisted settings.
type SettingsStore interface {
	Settings() (models.Settings, error)
	SetSettings(models.Settings) error
}

// Notice is a message shown after a save.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

func errorNotice(msg string) Notice   { return Notice{Level: "error", Message: msg} }
func updatedNotice(msg string) Notice { return Notice{Level: "updated", Message: msg} }

type settingsResponse struct {
	Settings SettingsView `json:"settings"`
	Notices  []Notice     `json:"notices"`
}

type resourceResponse struct {
	Key      string       `json:"key"`
	Resource ResourceView `json:"resource"`
	Notices  []Notice     `json:"notices"`
}

// HandlerConfig holds the admin API dependencies.
type HandlerConfig struct {
	Service *catalog.Service
	Store   SettingsStore
	Logger  *slog.Logger
	// ResourceURL maps a resource key to its public URL. Used when a
	// resource form does not carry one.
	ResourceURL func(key string) string
}

// Handler serves the JSON admin API.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// Routes returns the admin routes. Callers put authentication in front.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/settings", h.getSettings)
	mux.HandleFunc("POST /admin/settings", h.postSettings)
	mux.HandleFunc("GET /admin/property", h.getProperty)
	mux.HandleFunc("GET /admin/resources/{key}", h.getResource)
	mux.HandleFunc("POST /admin/resources/{key}", h.postResource)

	return mux
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.cfg.Store.Settings()
	if err != nil {
		h.cfg.Logger.Error("reading settings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "settings could not be read")

		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{Settings: RenderSettings(s), Notices: []Notice{}})
}

// postSettings saves the form and then probes each API whose key pair
// is complete. A failed probe does not block the save; it is reported
// as a notice, as the CMS form did.
func (h *Handler) postSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	current, err := h.cfg.Store.Settings()
	if err != nil {
		h.cfg.Logger.Error("reading settings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "settings could not be read")

		return
	}

	next, err := ApplySettings(r.PostForm, current)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.cfg.Store.SetSettings(next); err != nil {
		h.cfg.Logger.Error("saving settings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "settings could not be saved")

		return
	}

	h.cfg.Logger.Info("settings updated",
		slog.String("user", auth.RequestUserID(r.Context())),
		slog.String("access_control", string(next.AccessControl)),
	)

	notices := []Notice{updatedNotice(msgSettingsSaved)}
	session := h.cfg.Service.Session()

	if next.AccessReady() && !session.ValidateAccessCredentials(r.Context(), next, auth.RequestRemoteIP(r.Context())) {
		notices = append(notices, errorNotice(session.LastError()))
	}

	if next.ManagementReady() && !session.ValidateManagementCredentials(r.Context(), next) {
		notices = append(notices, errorNotice(session.LastError()))
	}

	writeJSON(w, http.StatusOK, settingsResponse{Settings: RenderSettings(next), Notices: notices})
}

func (h *Handler) getProperty(w http.ResponseWriter, r *http.Request) {
	session := h.cfg.Service.Session()

	prop := session.GetProperty(r.Context())
	if prop == nil {
		writeError(w, http.StatusBadGateway, session.LastError())
		return
	}

	writeJSON(w, http.StatusOK, prop)
}

func (h *Handler) getResource(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	session := h.cfg.Service.Session()

	res, ok := session.GetResource(r.Context(), key)
	if !ok {
		writeError(w, http.StatusBadGateway, session.LastError())
		return
	}

	var prop *imoneza.Property
	if !res.Managed() {
		prop = session.GetProperty(r.Context())
		if prop == nil {
			writeError(w, http.StatusBadGateway, session.LastError())
			return
		}
	}

	writeJSON(w, http.StatusOK, resourceResponse{Key: key, Resource: RenderResource(res, prop), Notices: []Notice{}})
}

func (h *Handler) postResource(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	key := r.PathValue("key")
	form := r.PostForm
	session := h.cfg.Service.Session()

	if !form.Has(FieldIsManagedOriginal) && h.wasManaged(r, session, key) {
		form.Set(FieldIsManagedOriginal, "1")
	}

	item, err := h.contentItem(key, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := ApplyResource(form, item)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ok bool

	switch sub.Action {
	case SubmitNothing:
		writeJSON(w, http.StatusOK, resourceResponse{Key: key, Resource: RenderResource(nil, nil), Notices: []Notice{}})
		return
	case SubmitDeactivate:
		ok = session.DeactivateResource(r.Context(), key)
	case SubmitSave:
		ok = session.CreateOrUpdateResource(r.Context(), sub.Request)
	}

	if !ok {
		writeJSON(w, http.StatusBadGateway, resourceResponse{Key: key, Notices: []Notice{errorNotice(session.LastError())}})
		return
	}

	h.cfg.Logger.Info("resource updated",
		slog.String("user", auth.RequestUserID(r.Context())),
		slog.String("key", key),
		slog.String("action", sub.Action.String()),
	)

	res, _ := session.GetResource(r.Context(), key)

	var prop *imoneza.Property
	if !res.Managed() {
		prop = session.GetProperty(r.Context())
	}

	writeJSON(w, http.StatusOK, resourceResponse{
		Key:      key,
		Resource: RenderResource(res, prop),
		Notices:  []Notice{updatedNotice(msgResourceSaved)},
	})
}

// wasManaged decides whether the resource was managed before this edit
// when the form does not say. The remote record wins; the push ledger
// covers a failed lookup.
func (h *Handler) wasManaged(r *http.Request, session *catalog.Service, key string) bool {
	res, ok := session.GetResource(r.Context(), key)
	if ok {
		return res.Managed()
	}

	return session.WasPushedActive(key)
}

func (h *Handler) contentItem(key string, r *http.Request) (ContentItem, error) {
	item := ContentItem{
		Key:     key,
		Title:   plain(r.PostForm.Get(FieldContentTitle)),
		Excerpt: plain(r.PostForm.Get(FieldContentExcerpt)),
		URL:     r.PostForm.Get(FieldContentURL),
	}

	if item.URL == "" && h.cfg.ResourceURL != nil {
		item.URL = h.cfg.ResourceURL(key)
	}

	if v := r.PostForm.Get(FieldContentPublished); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ContentItem{}, fmt.Errorf("%s must be an RFC 3339 timestamp", FieldContentPublished)
		}

		item.Published = t
	}

	return item, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
