package enclaverpc

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// VerifyMiddleware wraps next with the server-side RPC authentication
// predicate: contract version, clock skew, nonce replay, and HMAC
// signature. On failure it writes a JSON error body carrying the
// stable error code and fails closed with 401.
func VerifyMiddleware(signer *Signer, guard *ReplayGuard, maxSkew time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeAuthError(w, newNonRetryableErr(CodeInvalidRequestSignature, "reading request body: %v", err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		contractVersion := r.Header.Get(HeaderContractVersion)
		timestampStr := r.Header.Get(HeaderAuthTimestamp)
		nonce := r.Header.Get(HeaderAuthNonce)
		signature := r.Header.Get(HeaderAuthSignature)

		timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
		if err != nil {
			writeAuthError(w, newNonRetryableErr(CodeInvalidRequestSignature, "invalid auth timestamp"))
			return
		}

		if err := AuthenticateRequest(signer, guard, r.Method, r.URL.Path, timestamp, nonce, signature, body, contractVersion, time.Now(), maxSkew); err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	code := "invalid_request_signature"
	if rpcErr, ok := err.(*Error); ok {
		code = rpcErr.Code
	}
	_, _ = w.Write([]byte(`{"error_code":"` + code + `"}`))
}
