// Package signing builds the authorization headers the upstream social API
// requires. It is a pure function of (method, URL, params, secrets) — no
// HTTP, no I/O — so it can be tested against known vectors independent of
// the transport layer.
//
// Two endpoint families are supported:
//
//   - OAuth1-style HMAC-SHA1 signing for the "v2" and "v1.1" endpoint
//     families (and chunked media upload), grounded on
//     backend/app/services/twitter_client.py's generate_oauth_signature.
//   - Cookie+CSRF headers for the internal site-origin endpoints, which take
//     no per-request signature.
package signing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by the upstream's OAuth1 HMAC-SHA1 scheme, not used for secrecy
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Credentials holds the four OAuth1 values a signed request authenticates
// with; the worker's bearer token takes no part in signing. Grounded on
// models.WorkerCreds.
type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateNonce returns a fresh random alphanumeric nonce of the given
// length.
func GenerateNonce(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the system RNG is broken; fall back to a
		// timestamp-derived value rather than panic mid-request.
		for i := range buf {
			buf[i] = byte(time.Now().UnixNano() >> uint(i%8*8))
		}
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(out)
}

// OAuthParams builds the base OAuth parameter set common to every signed
// request: consumer key, token, signature method, timestamp, nonce, and
// protocol version.
func OAuthParams(creds Credentials, now time.Time, nonce string) map[string]string {
	return map[string]string{
		"oauth_consumer_key":     creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(now.Unix(), 10),
		"oauth_token":            creds.AccessToken,
		"oauth_version":          "1.0",
	}
}

// percentEncode implements RFC 3986 percent-encoding with the unreserved set
// {A-Z a-z 0-9 - . _ ~} left untouched, matching the upstream's Python
// urllib.parse.quote(..., safe=”) used by generate_oauth_signature.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// paramString builds the sorted, percent-encoded "key=value&key=value..."
// string that feeds into the signature base string.
func paramString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	return strings.Join(pairs, "&")
}

// SignatureBaseString builds "METHOD&url-encoded(URL)&url-encoded(params)".
func SignatureBaseString(method, rawURL string, params map[string]string) string {
	return strings.Join([]string{
		percentEncode(strings.ToUpper(method)),
		percentEncode(rawURL),
		percentEncode(paramString(params)),
	}, "&")
}

// Sign computes base64(HMAC-SHA1(signingKey, signatureBaseString)), the
// OAuth1 signature for the given request, grounded on
// twitter_client.py's generate_oauth_signature.
func Sign(method, rawURL string, params map[string]string, consumerSecret, accessTokenSecret string) string {
	base := SignatureBaseString(method, rawURL, params)
	signingKey := percentEncode(consumerSecret) + "&" + percentEncode(accessTokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader renders oauthParams (including oauth_signature) as an
// "OAuth k1="v1", k2="v2", ..." header, sorted by key and with each key and
// value percent-encoded.
func AuthorizationHeader(oauthParams map[string]string) string {
	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", percentEncode(k), percentEncode(oauthParams[k])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}
