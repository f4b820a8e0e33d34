package member

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rafaeljc/gatekeeper/internal/config"
	"github.com/rafaeljc/gatekeeper/internal/validation"
)

// maxRecordBytes caps the size of a decoded member record.
const maxRecordBytes = 4 << 20

// StatusError is returned when the member service responds with an error status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("member service: HTTP %d: %s", e.StatusCode, e.Message)
}

// HTTPAdapter fetches member records from the member service over HTTP:
//
//	GET {base}/members/{userID}/plans/{planID}
type HTTPAdapter struct {
	baseURL    string
	httpClient *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter returns an adapter for cfg.BaseURL. When client is nil, an
// instrumented client bounded by cfg.Timeout is used.
func NewHTTPAdapter(cfg *config.MemberConfig, client *http.Client) *HTTPAdapter {
	validation.AssertNotNil(cfg, "member config")

	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &HTTPAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
	}
}

// FetchMemberForPlan implements Adapter. A 404 maps to ErrNotFound.
func (a *HTTPAdapter) FetchMemberForPlan(ctx context.Context, userID, planID string) (Record, error) {
	if err := validateKey(userID, planID); err != nil {
		return nil, err
	}

	endpoint := a.baseURL + "/members/" + url.PathEscape(userID) + "/plans/" + url.PathEscape(planID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("member service: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("member service: http: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	var rec Record
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordBytes)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("member service: decode record: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	return rec, nil
}
