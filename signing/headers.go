package signing

import (
	"encoding/json"
	"fmt"
	"time"
)

// BuildV2Header signs a "v2" family request (e.g. POST
// /2/users/{id}/following), where only the OAuth parameters participate in
// the signature base string.
func BuildV2Header(method, rawURL string, creds Credentials, now time.Time) string {
	params := OAuthParams(creds, now, GenerateNonce(32))
	params["oauth_signature"] = Sign(method, rawURL, params, creds.ConsumerSecret, creds.AccessTokenSecret)
	return AuthorizationHeader(params)
}

// BuildV1Header signs a "v1.1" family request, where query parameters and
// JSON body fields are folded into the signature base string alongside the
// OAuth parameters. Nested JSON objects are flattened one level with dotted
// keys; all values are stringified.
func BuildV1Header(method, rawURL string, queryParams map[string]string, body map[string]interface{}, creds Credentials, now time.Time) (string, error) {
	params := OAuthParams(creds, now, GenerateNonce(32))

	signingParams := make(map[string]string, len(params)+len(queryParams)+len(body))
	for k, v := range params {
		signingParams[k] = v
	}
	for k, v := range queryParams {
		signingParams[k] = v
	}

	flat, err := FlattenJSON(body)
	if err != nil {
		return "", fmt.Errorf("signing: flatten body: %w", err)
	}
	for k, v := range flat {
		signingParams[k] = v
	}

	params["oauth_signature"] = Sign(method, rawURL, signingParams, creds.ConsumerSecret, creds.AccessTokenSecret)
	return AuthorizationHeader(params), nil
}

// FlattenJSON flattens obj one level deep with dotted keys and stringifies
// every leaf value.
func FlattenJSON(obj map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case map[string]interface{}:
			for nk, nv := range val {
				out[k+"."+nk] = stringifyValue(nv)
			}
		default:
			out[k] = stringifyValue(v)
		}
	}
	return out, nil
}

func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// CookieCSRFHeaders builds the header set for the cookie+CSRF endpoint
// family (the internal site-origin endpoints used for UserByScreenName
// lookups and some reads): a public web bearer token, a CSRF token echoed
// from the session cookie, and the cookie pair itself. No per-request
// signature is computed for this family.
func CookieCSRFHeaders(bearer, authToken, ct0 string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + bearer,
		"x-csrf-token":  ct0,
		"Cookie":        fmt.Sprintf("auth_token=%s; ct0=%s", authToken, ct0),
	}
}
