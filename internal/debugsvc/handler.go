package debugsvc

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/AdguardTeam/AcceptGuard/internal/acceptlimit"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// HTTP header value constants.
const (
	hdrValApplicationJSON = "application/json"
	hdrValTextPlain       = "text/plain"
)

// Path pattern constants.
const (
	PathPatternDebugAPIAccept = "/debug/api/accept"
	PathPatternHealthCheck    = "/health-check"
	PathPatternMetrics        = "/metrics"
)

// Route pattern constants.
const (
	routePatternDebugAPIAccept = http.MethodGet + " " + PathPatternDebugAPIAccept
	routePatternHealthCheck    = http.MethodGet + " " + PathPatternHealthCheck
	routePatternMetrics        = http.MethodGet + " " + PathPatternMetrics
)

// serveHealthCheck handles the GET /health-check endpoint.
func serveHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(httphdr.ContentType, hdrValTextPlain)
	w.WriteHeader(http.StatusOK)

	_, err := io.WriteString(w, "OK\n")
	if err != nil {
		ctx := r.Context()
		l := slogutil.MustLoggerFromContext(ctx)
		l.DebugContext(ctx, "writing health-check response", slogutil.KeyError, err)
	}
}

// acceptHandler serves the state of the accept governors.
type acceptHandler struct {
	governors []StatusProvider
}

// AcceptResponse describes the response to the GET /debug/api/accept HTTP API.
type AcceptResponse struct {
	Governors []*acceptlimit.Status `json:"governors"`
}

// type check
var _ http.Handler = (*acceptHandler)(nil)

// ServeHTTP implements the [http.Handler] interface for *acceptHandler.
func (h *acceptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := slogutil.MustLoggerFromContext(ctx)

	resp := &AcceptResponse{
		Governors: make([]*acceptlimit.Status, 0, len(h.governors)),
	}

	for _, g := range h.governors {
		resp.Governors = append(resp.Governors, g.Status())
	}

	w.Header().Set(httphdr.ContentType, hdrValApplicationJSON)
	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		l.ErrorContext(ctx, "writing response", slogutil.KeyError, err)
	}
}
