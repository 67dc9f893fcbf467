package follow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/firasghr/followfleet/httpclient"
	"github.com/firasghr/followfleet/models"
	"github.com/firasghr/followfleet/payload"
	"github.com/firasghr/followfleet/signing"
)

const (
	graphQLUserByScreenNameQueryID = "QGIw94L0abhuohrr76cSbw"
	graphQLBaseURL                 = "https://x.com/i/api/graphql"
	followBaseURL                  = "https://api.twitter.com/2/users"
)

// userByScreenNameResponse is the GraphQL envelope for the UserByScreenName
// query, grounded on twitter_client.py's get_user_id/follow_user parsing of
// response['data']['user']['result']['rest_id'].
type userByScreenNameResponse struct {
	Data struct {
		User struct {
			Result struct {
				RestID string `json:"rest_id"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
	Errors []upstreamError `json:"errors"`
}

type upstreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type followResponse struct {
	Data struct {
		Following bool `json:"following"`
	} `json:"data"`
	Errors []upstreamError `json:"errors"`
}

// SelfID extracts the numeric actor id that is the prefix of an OAuth1
// access token up to its first '-'. Grounded on twitter_client.py's
// repeated `self.access_token.split("-")[0]` idiom.
func SelfID(accessToken string) (string, error) {
	idx := strings.IndexByte(accessToken, '-')
	if idx <= 0 {
		return "", fmt.Errorf("follow: access token has no numeric id prefix")
	}
	return accessToken[:idx], nil
}

// ResolveUserID looks up the numeric user id for handle via a single
// GraphQL-shaped UserByScreenName call, when handle is not already numeric.
// The call uses the worker's cookie+CSRF credentials, since this is a
// site-origin lookup, not an OAuth1-signed v1.1/v2 call. Any schema drift
// detected against validator's learned baseline is returned alongside the
// result for the caller to log.
func ResolveUserID(ctx context.Context, client *httpclient.Client, creds models.WorkerCreds, handle string, validator *payload.Validator) (string, []payload.Mismatch, error) {
	if isNumeric(handle) {
		return handle, nil, nil
	}

	variables := map[string]interface{}{
		"screen_name":              handle,
		"withSafetyModeUserFields": true,
	}
	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return "", nil, fmt.Errorf("follow: marshal variables: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/UserByScreenName?variables=%s", graphQLBaseURL, graphQLUserByScreenNameQueryID, string(variablesJSON))
	headers := signing.CookieCSRFHeaders(creds.BearerToken, creds.AuthToken, creds.CT0)

	resp, err := client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return "", nil, classifyTransportErr(err)
	}

	var mismatches []payload.Mismatch
	if validator != nil && len(resp.Body) > 0 {
		mismatches, _ = validator.Validate(resp.Body)
	}

	var parsed userByScreenNameResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", mismatches, fmt.Errorf("follow: parse UserByScreenName response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return "", mismatches, fmt.Errorf("follow: UserByScreenName error: %s", parsed.Errors[0].Message)
	}
	if parsed.Data.User.Result.RestID == "" {
		return "", mismatches, fmt.Errorf("follow: user %q not found", handle)
	}
	return parsed.Data.User.Result.RestID, mismatches, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Follow resolves targetHandle to a numeric id if needed, then issues
// POST /2/users/{self_id}/following with JSON body {"target_user_id": ...}
// and classifies the result using the follow-endpoint outcome mapping.
func Follow(ctx context.Context, client *httpclient.Client, creds models.WorkerCreds, targetHandle string, validator *payload.Validator) (Outcome, []payload.Mismatch) {
	userID, mismatches, err := ResolveUserID(ctx, client, creds, targetHandle, validator)
	if err != nil {
		return Outcome{Kind: KindAPIError, Message: err.Error()}, mismatches
	}

	selfID, err := SelfID(creds.AccessToken)
	if err != nil {
		return Outcome{Kind: KindUnauthorized, Message: err.Error()}, mismatches
	}

	endpoint := fmt.Sprintf("%s/%s/following", followBaseURL, selfID)
	signCreds := signing.Credentials{
		ConsumerKey:       creds.ConsumerKey,
		ConsumerSecret:    creds.ConsumerSecret,
		AccessToken:       creds.AccessToken,
		AccessTokenSecret: creds.AccessTokenSecret,
	}
	body := map[string]interface{}{"target_user_id": userID}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Outcome{Kind: KindAPIError, Message: err.Error()}, mismatches
	}

	resp, err := client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		authHeader := signing.BuildV2Header(http.MethodPost, endpoint, signCreds, time.Now())
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", authHeader)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		var authErr *httpclient.AuthError
		if errors.As(err, &authErr) {
			return Outcome{Kind: KindUnauthorized, Message: authErr.Error()}, mismatches
		}
		if resp != nil && resp.Outcome == httpclient.OutcomeRateLimited {
			return Outcome{Kind: KindRateLimited, Message: err.Error()}, mismatches
		}
		return classifyOutcomeFromErr(err), mismatches
	}

	if validator != nil && len(resp.Body) > 0 {
		if extra, verr := validator.Validate(resp.Body); verr == nil {
			mismatches = append(mismatches, extra...)
		}
	}

	if resp.Outcome == httpclient.OutcomeEmpty {
		return Outcome{Kind: KindAPIError, Message: "empty response"}, mismatches
	}

	return ClassifyFollowResponse(resp.Body), mismatches
}

// ClassifyFollowResponse applies the follow-endpoint outcome mapping to a
// raw response body. Factored out of Follow so the mapping itself — the
// part with behavioral meaning — can be tested without a live HTTP round
// trip.
func ClassifyFollowResponse(body []byte) Outcome {
	var parsed followResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{Kind: KindAPIError, Message: fmt.Sprintf("parse follow response: %v", err)}
	}

	if parsed.Data.Following {
		return Outcome{Kind: KindOK}
	}
	if len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		return outcomeForErrorCode(e.Code, e.Message)
	}
	return Outcome{Kind: KindAPIError, Message: "follow did not succeed for an unknown reason"}
}

func classifyTransportErr(err error) error {
	return fmt.Errorf("follow: %w", err)
}

func classifyOutcomeFromErr(err error) Outcome {
	return Outcome{Kind: KindTransportError, Message: err.Error()}
}
