package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/ejtp-go/pkg/frame"
	msglog "github.com/rmacdonaldsmith/ejtp-go/pkg/messagelog"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/node"
	"github.com/rmacdonaldsmith/ejtp-go/pkg/router"
)

const (
	// defaultLogLimit and maxLogLimit bound GET /api/v1/log pages
	defaultLogLimit = 100
	maxLogLimit     = 1000

	// maxBodyBytes bounds decoded request bodies
	maxBodyBytes = 32 << 20
)

// adminClientID is granted admin claims on login
const adminClientID = "admin"

// Handlers contains all HTTP request handlers
type Handlers struct {
	node    node.Node
	jwtAuth *JWTAuth
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(n node.Node, jwtAuth *JWTAuth, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		node:    n,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validateAuthRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// no credential store: the client id alone identifies the caller
	isAdmin := req.ClientID == adminClientID

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.ClientID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		ClientID:  req.ClientID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// DeliverFrame handles POST /api/v1/frames
func (h *Handlers) DeliverFrame(w http.ResponseWriter, r *http.Request) {
	var req DeliverRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	raw, err := buildFrame(&req)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := h.node.Deliver(r.Context(), raw)
	h.logger.Debug("Frame delivered over HTTP",
		zap.String("client", GetClientID(r)),
		zap.Stringer("result", result),
		zap.Int("bytes", len(raw)))

	writeJSON(w, DeliverResponse{Result: result.String(), Bytes: len(raw)}, resultStatus(result))
}

// buildFrame turns a DeliverRequest into wire bytes. Raw frames are passed
// through untouched so the router sees exactly what the caller sent.
func buildFrame(req *DeliverRequest) ([]byte, error) {
	decode := func(s string) ([]byte, error) {
		switch req.Encoding {
		case "", EncodingText:
			return []byte(s), nil
		case EncodingBase64:
			return base64.StdEncoding.DecodeString(s)
		default:
			return nil, fmt.Errorf("unsupported encoding %q", req.Encoding)
		}
	}

	if req.Frame != "" {
		raw, err := decode(req.Frame)
		if err != nil {
			return nil, fmt.Errorf("invalid frame: %w", err)
		}
		return raw, nil
	}

	if len(req.Addr) == 0 {
		return nil, errors.New("frame or addr is required")
	}
	typ := frame.TypeRoute
	switch req.Type {
	case "", "r":
	case "s":
		typ = frame.TypeDirect
	default:
		return nil, fmt.Errorf("unknown frame type %q", req.Type)
	}
	content, err := decode(req.Content)
	if err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}
	f, err := frame.New(typ, req.Addr, content)
	if err != nil {
		return nil, err
	}
	return f.Bytes(), nil
}

// resultStatus maps a routing outcome onto an HTTP status code
func resultStatus(result router.Result) int {
	switch result {
	case router.ResultRouted, router.ResultReceipt:
		return http.StatusAccepted
	case router.ResultMalformed:
		return http.StatusUnprocessableEntity
	case router.ResultNoRoute:
		return http.StatusNotFound
	case router.ResultDispatchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ReadLog handles GET /api/v1/log?offset={offset}&limit={limit}&encoding={encoding}
func (h *Handlers) ReadLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	offset := int64(0)
	if s := q.Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeError(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = v
	}

	limit := defaultLogLimit
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(v, maxLogLimit)
	}

	encoding := q.Get("encoding")
	switch encoding {
	case "":
		encoding = EncodingText
	case EncodingText, EncodingBase64:
	default:
		writeError(w, fmt.Sprintf("unsupported encoding %q", encoding), http.StatusBadRequest)
		return
	}

	log := h.node.Log()
	entries, err := log.Read(r.Context(), offset, limit)
	if err != nil {
		writeError(w, "Failed to read message log: "+err.Error(), logErrorStatus(err))
		return
	}
	total, err := log.Len(r.Context())
	if err != nil {
		writeError(w, "Failed to read message log: "+err.Error(), logErrorStatus(err))
		return
	}

	resp := LogResponse{
		Entries:     make([]LogEntry, 0, len(entries)),
		StartOffset: offset,
		Count:       len(entries),
		Total:       total,
		Enabled:     log.Enabled(),
		Encoding:    encoding,
	}
	for _, e := range entries {
		msg := string(e.Message)
		if encoding == EncodingBase64 {
			msg = base64.StdEncoding.EncodeToString(e.Message)
		}
		resp.Entries = append(resp.Entries, LogEntry{Offset: e.Offset, Message: msg, Timestamp: e.Time})
	}
	writeJSON(w, resp, http.StatusOK)
}

// DumpLog handles GET /api/v1/log/dump and writes the log as a bracketed
// list of quoted messages.
func (h *Handlers) DumpLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.node.Log().Dump(w); err != nil {
		h.logger.Warn("Message log dump failed", zap.Error(err))
	}
}

func logErrorStatus(err error) int {
	if errors.Is(err, msglog.ErrLogClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// AdminRoutes handles GET /api/v1/admin/routes
func (h *Handlers) AdminRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.node.Routes(), http.StatusOK)
}

// AdminGetRunState handles GET /api/v1/admin/runstate
func (h *Handlers) AdminGetRunState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, RunStateResponse{State: h.node.Routes().RunState}, http.StatusOK)
}

// AdminSetRunState handles PUT /api/v1/admin/runstate
func (h *Handlers) AdminSetRunState(w http.ResponseWriter, r *http.Request) {
	var req RunStateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	state, err := router.ParseRunState(req.State)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.node.SetRunState(r.Context(), state); err != nil {
		writeError(w, "Failed to change run state: "+err.Error(), http.StatusConflict)
		return
	}

	h.logger.Info("Run state changed over HTTP",
		zap.String("client", GetClientID(r)),
		zap.Stringer("state", state))
	writeJSON(w, RunStateResponse{State: state.String()}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.node.GetHealth(r.Context())

	resp := HealthResponse{
		Healthy:     health.Healthy,
		NodeID:      health.NodeID,
		RunState:    health.RunState,
		Jacks:       health.Jacks,
		Clients:     health.Clients,
		Connections: health.Connections,
		LogEnabled:  health.LogEnabled,
		LogEntries:  health.LogEntries,
		Uptime:      health.Uptime.String(),
		Message:     health.Message,
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}

// decodeJSON checks the content type and decodes a single JSON body into v
func decodeJSON(r *http.Request, v interface{}) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.New("Content-Type must be application/json")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Invalid request body: %v", err)
	}
	return nil
}

// validateAuthRequest validates authentication request fields
func validateAuthRequest(req *AuthRequest) error {
	if req.ClientID == "" {
		return errors.New("clientId is required")
	}
	if len(req.ClientID) < 2 {
		return errors.New("clientId must be at least 2 characters")
	}
	return nil
}
