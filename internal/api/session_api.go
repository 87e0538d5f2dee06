// Package api serves the authenticated HTTP surface callers use to open
// courier sessions and read their outcomes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-courier-bridge/internal/bridge"
	"github.com/tinywideclouds/go-courier-bridge/internal/metrics"
	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

const (
	defaultOutcomeLimit = 20
	maxOutcomeLimit     = 100
	persistTimeout      = 10 * time.Second
)

var errRecipientConflict = errors.New("recipient_phone and recipient_hash are mutually exclusive")

type SessionAPI struct {
	Registry      *bridge.Registry
	Store         dispatch.OutcomeStore
	Publisher     dispatch.EventPublisher
	PublicBaseURL string
	Logger        *slog.Logger
}

func NewSessionAPI(
	registry *bridge.Registry,
	store dispatch.OutcomeStore,
	publisher dispatch.EventPublisher,
	publicBaseURL string,
	logger *slog.Logger,
) *SessionAPI {
	return &SessionAPI{
		Registry:      registry,
		Store:         store,
		Publisher:     publisher,
		PublicBaseURL: publicBaseURL,
		Logger:        logger.With("component", "SessionAPI"),
	}
}

// --- Requests ---

type DimensionsRequest struct {
	Height string `json:"height"`
	Width  string `json:"width"`
	Length string `json:"length"`
}

type DeliveryRequest struct {
	AccessToken    string                 `json:"access_token"`
	Tracking       string                 `json:"tracking"`
	RecipientPhone string                 `json:"recipient_phone,omitempty"`
	RecipientHash  string                 `json:"recipient_hash,omitempty"`
	Dimensions     *DimensionsRequest     `json:"dimensions,omitempty"`
	BookingID      string                 `json:"booking_id,omitempty"`
	Sandbox        bool                   `json:"sandbox"`
	Debug          bool                   `json:"debug"`
	Notify         dispatch.NotifyTargets `json:"notify"`
}

// Params converts the request into validated delivery params.
func (req DeliveryRequest) Params() (courier.DeliveryParams, error) {
	p := courier.DeliveryParams{
		AccessToken: req.AccessToken,
		Tracking:    req.Tracking,
		BookingID:   req.BookingID,
		Sandbox:     req.Sandbox,
		Debug:       req.Debug,
	}
	switch {
	case req.RecipientPhone != "" && req.RecipientHash != "":
		return p, errRecipientConflict
	case req.RecipientPhone != "":
		p.Recipient = courier.PhoneRecipient(req.RecipientPhone)
	case req.RecipientHash != "":
		p.Recipient = courier.HashedPhoneRecipient(req.RecipientHash)
	}
	if req.Dimensions != nil {
		p.Dimensions = &courier.Dimensions{
			Height: req.Dimensions.Height,
			Width:  req.Dimensions.Width,
			Length: req.Dimensions.Length,
		}
	}
	return p, p.Validate()
}

// CitiboxID accepts a JSON number or a numeric string. Anything else resolves
// to courier.InvalidCitiboxID.
type CitiboxID int

func (c *CitiboxID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = CitiboxID(courier.InvalidCitiboxID)
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CitiboxID(courier.ParseCitiboxID(s))
	default:
		*c = CitiboxID(courier.ParseCitiboxID(string(data)))
	}
	return nil
}

type RetrievalRequest struct {
	AccessToken string                 `json:"access_token"`
	CitiboxID   *CitiboxID             `json:"citibox_id"`
	Sandbox     bool                   `json:"sandbox"`
	Debug       bool                   `json:"debug"`
	Notify      dispatch.NotifyTargets `json:"notify"`
}

// Params converts the request into validated retrieval params.
func (req RetrievalRequest) Params() (courier.RetrievalParams, error) {
	id := courier.InvalidCitiboxID
	if req.CitiboxID != nil {
		id = int(*req.CitiboxID)
	}
	p := courier.RetrievalParams{
		AccessToken: req.AccessToken,
		CitiboxID:   id,
		Sandbox:     req.Sandbox,
		Debug:       req.Debug,
	}
	return p, p.Validate()
}

// --- Responses ---

type CreateSessionResponse struct {
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	URL       string    `json:"url"`
	ShellURL  string    `json:"shell_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionStatusResponse struct {
	SessionID string            `json:"session_id"`
	Operation string            `json:"operation"`
	State     string            `json:"state"`
	Outcome   *courier.Envelope `json:"outcome,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type OutcomeListResponse struct {
	Outcomes []SessionStatusResponse `json:"outcomes"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// caller resolves the session owner from the token subject. The handle
// claim is optional and may change, so it is not used for ownership.
func (api *SessionAPI) caller(w http.ResponseWriter, r *http.Request) (owner urn.URN, ok bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok || userID == "" {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return owner, false
	}
	owner, err := urn.Parse(userID)
	if err != nil {
		api.Logger.Warn("Caller identity is not a valid URN", "user", userID, "err", err)
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return owner, false
	}
	return owner, true
}

// --- Create ---

func (api *SessionAPI) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	params, err := req.Params()
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.create(w, r, owner, params, req.Notify)
}

func (api *SessionAPI) CreateRetrieval(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}
	var req RetrievalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	params, err := req.Params()
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.create(w, r, owner, params, req.Notify)
}

func (api *SessionAPI) create(w http.ResponseWriter, r *http.Request, owner urn.URN, params courier.Params, notify dispatch.NotifyTargets) {
	id := uuid.NewString()
	logger := api.Logger.With("session_id", id, "operation", params.Operation().String())

	surface := bridge.NewRelaySurface(logger)
	session, err := courier.NewSession(params, surface,
		api.onOutcome(id, owner, notify, logger),
		courier.WithID(id),
		courier.WithLogger(logger),
		courier.WithRejectHandler(func(_ courier.ScriptMessage, err error) {
			metrics.MessagesDropped.WithLabelValues(metrics.DropReason(err)).Inc()
		}),
	)
	if err != nil {
		logger.Error("Failed to create session", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := session.Present(r.Context()); err != nil {
		logger.Error("Failed to present session", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to present session")
		return
	}

	entry := &bridge.Entry{Session: session, Surface: surface, Owner: owner}
	if err := api.Registry.Add(entry); err != nil {
		logger.Error("Failed to register session", "err", err)
		_ = session.Dismiss()
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to register session")
		return
	}
	metrics.SessionsCreated.WithLabelValues(params.Operation().String()).Inc()
	logger.Info("Session created", "owner", owner.String())

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: id,
		Operation: params.Operation().String(),
		URL:       session.URL(),
		ShellURL:  fmt.Sprintf("%s/bridge/%s", api.PublicBaseURL, id),
		ExpiresAt: entry.CreatedAt.Add(api.Registry.TTL()).UTC(),
	})
}

// onOutcome persists the outcome and publishes it for host notification.
func (api *SessionAPI) onOutcome(id string, owner urn.URN, notify dispatch.NotifyTargets, logger *slog.Logger) courier.ResultHandler {
	return func(outcome courier.Outcome) {
		metrics.SessionsTerminated.WithLabelValues(outcome.Operation().String(), string(outcome.Channel())).Inc()

		env, err := courier.NewEnvelope(outcome)
		if err != nil {
			logger.Error("Failed to encode outcome", "err", err)
			return
		}
		now := time.Now().UTC()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		record := dispatch.OutcomeRecord{SessionID: id, Owner: owner, Envelope: env, CreatedAt: now}
		if err := api.Store.Save(ctx, record); err != nil {
			logger.Error("Failed to store outcome", "err", err)
		}

		event := dispatch.OutcomeEvent{
			EventID:    uuid.NewString(),
			SessionID:  id,
			Owner:      owner.String(),
			Envelope:   env,
			Notify:     notify,
			OccurredAt: now,
		}
		if err := api.Publisher.Publish(ctx, event); err != nil {
			logger.Error("Failed to publish outcome event", "err", err)
		}
	}
}

// --- Read / dismiss ---

func (api *SessionAPI) GetSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if entry, found := api.Registry.Get(id); found && entry.Owner.String() == owner.String() {
		status := SessionStatusResponse{
			SessionID: id,
			Operation: entry.Session.Operation().String(),
			State:     entry.Session.State().String(),
			CreatedAt: entry.CreatedAt.UTC(),
		}
		if outcome, done := entry.Session.Outcome(); done {
			if env, err := courier.NewEnvelope(outcome); err == nil {
				status.Outcome = &env
			}
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	record, err := api.Store.Fetch(r.Context(), id)
	switch {
	case errors.Is(err, dispatch.ErrOutcomeNotFound):
		response.WriteJSONError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		api.Logger.Error("Failed to fetch outcome", "session_id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if record.Owner.String() != owner.String() {
		response.WriteJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, recordStatus(*record))
}

func recordStatus(record dispatch.OutcomeRecord) SessionStatusResponse {
	env := record.Envelope
	return SessionStatusResponse{
		SessionID: record.SessionID,
		Operation: env.Operation,
		State:     courier.StateTerminated.String(),
		Outcome:   &env,
		CreatedAt: record.CreatedAt.UTC(),
	}
}

func (api *SessionAPI) DismissSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	entry, found := api.Registry.Get(id)
	if !found || entry.Owner.String() != owner.String() {
		response.WriteJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := api.Registry.Dismiss(id); err != nil {
		api.Logger.Warn("Failed to dismiss session", "session_id", id, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to dismiss session")
		return
	}
	api.Logger.Info("Session dismissed by caller", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (api *SessionAPI) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	owner, ok := api.caller(w, r)
	if !ok {
		return
	}

	limit := defaultOutcomeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxOutcomeLimit)
	}

	records, err := api.Store.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		api.Logger.Error("Failed to list outcomes", "owner", owner.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	out := OutcomeListResponse{Outcomes: make([]SessionStatusResponse, 0, len(records))}
	for _, rec := range records {
		out.Outcomes = append(out.Outcomes, recordStatus(rec))
	}
	writeJSON(w, http.StatusOK, out)
}
