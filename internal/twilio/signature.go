package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/MrWong99/voiceintake/internal/observe"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Sign computes the signature Twilio sends for a POST to fullURL with form
// params: base64(HMAC-SHA1(authToken, fullURL + sorted key/value pairs)).
func Sign(authToken, fullURL string, params url.Values) string {
	var sb strings.Builder
	sb.WriteString(fullURL)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// RequireSignature rejects requests whose signature does not match. publicURL
// is the origin Twilio was configured with; behind a proxy the request's own
// host is not what Twilio signed.
func RequireSignature(authToken, publicURL string) func(http.Handler) http.Handler {
	base := strings.TrimRight(publicURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			want := Sign(authToken, base+r.URL.RequestURI(), r.PostForm)
			got := r.Header.Get(SignatureHeader)
			if !hmac.Equal([]byte(got), []byte(want)) {
				observe.Logger(r.Context()).Warn("twilio: rejected unsigned request", "path", r.URL.Path)
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
