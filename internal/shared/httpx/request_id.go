package httpx

import (
	"net/http"

	"github.com/k1networth/cb-testclient/internal/shared/requestid"
)

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := requestid.Resolve(r.Header.Get(requestid.Header))
		w.Header().Set(requestid.Header, rid)
		next.ServeHTTP(w, r.WithContext(requestid.With(r.Context(), rid)))
	})
}
