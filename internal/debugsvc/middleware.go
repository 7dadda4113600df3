package debugsvc

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/AcceptGuard/internal/version"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// middleware wraps h with the common headers and the request logging.  The
// start and the end of every request are logged at lvl, the end together with
// the response code and the duration.  The logger is put into the context of
// the request.
func (svc *Service) middleware(h http.Handler, lvl slog.Level) (wrapped http.Handler) {
	ua := version.UserAgent()

	f := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		w.Header().Set(httphdr.Server, ua)

		l := svc.log.With(
			"raddr", r.RemoteAddr,
			"method", r.Method,
			"request_uri", r.RequestURI,
		)

		ctx := slogutil.ContextWithLogger(r.Context(), l)
		rw := &codeRecorderResponseWriter{
			ResponseWriter: w,
		}

		l.Log(ctx, lvl, "started")
		defer func() {
			l.Log(ctx, lvl, "finished", "code", rw.code, "elapsed", time.Since(start))
		}()

		h.ServeHTTP(rw, r.WithContext(ctx))
	}

	return http.HandlerFunc(f)
}

// codeRecorderResponseWriter is an [http.ResponseWriter] that remembers the
// response code, including the implicit [http.StatusOK] of a Write without a
// WriteHeader.
type codeRecorderResponseWriter struct {
	http.ResponseWriter

	code int
}

// type check
var _ http.ResponseWriter = (*codeRecorderResponseWriter)(nil)

// WriteHeader implements [http.ResponseWriter] for *codeRecorderResponseWriter.
func (w *codeRecorderResponseWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}

	w.ResponseWriter.WriteHeader(code)
}

// Write implements [http.ResponseWriter] for *codeRecorderResponseWriter.
func (w *codeRecorderResponseWriter) Write(b []byte) (n int, err error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}

	return w.ResponseWriter.Write(b)
}

// Unwrap returns the underlying writer for [http.ResponseController].
func (w *codeRecorderResponseWriter) Unwrap() (rw http.ResponseWriter) {
	return w.ResponseWriter
}
