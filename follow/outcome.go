// Package follow wraps signing and httpclient to perform a single "follow
// target X as worker W" upstream call and return a typed outcome. Grounded
// on twitter_client.py's get_user_id/follow_user.
package follow

import "fmt"

// Kind is the tagged outcome variant a follow attempt resolves to. Every
// upstream response maps to a Kind; there is no "exception" escape hatch —
// panics and errors are reserved for programmer bugs and unrecoverable I/O.
type Kind string

const (
	KindOK             Kind = "ok"
	KindRateLimited    Kind = "rate_limited"
	KindNotFound       Kind = "not_found"
	KindSuspended      Kind = "suspended"
	KindUnauthorized   Kind = "unauthorized"
	KindAPIError       Kind = "api_error"
	KindTransportError Kind = "transport_error"
)

// Outcome is the result of a single follow attempt. Message carries the
// error text for KindAPIError and KindTransportError, and for
// KindUnauthorized and KindRateLimited when those come from the HTTP layer;
// it is empty for KindOK and for kinds mapped from an upstream error code.
type Outcome struct {
	Kind    Kind
	Message string
}

func (o Outcome) String() string {
	if o.Message == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Kind == KindOK }

// upstream error codes from the GraphQL/v2 error envelope.
const (
	errCodeRateLimited = 88
	errCodeNotFound    = 50
	errCodeSuspended   = 63
)

func outcomeForErrorCode(code int, message string) Outcome {
	switch code {
	case errCodeRateLimited:
		return Outcome{Kind: KindRateLimited}
	case errCodeNotFound:
		return Outcome{Kind: KindNotFound}
	case errCodeSuspended:
		return Outcome{Kind: KindSuspended}
	default:
		return Outcome{Kind: KindAPIError, Message: message}
	}
}
