package api_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/gatekeeper/internal/api"
	"github.com/rafaeljc/gatekeeper/internal/member"
	"github.com/rafaeljc/gatekeeper/internal/policy"
	"github.com/rafaeljc/gatekeeper/internal/ruleset"
	"github.com/rafaeljc/gatekeeper/internal/store"
)

const testAPIKey = "s3cret-admin-key"

const validDocument = `
rules:
  isBroker:
    type: lob
    description: Broker portal users
    values: [BROKER]
  alwaysOn:
    type: static
    value: true
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testRules() ruleset.RulesConfig {
	return ruleset.RulesConfig{
		"isBroker": ruleset.LOB{Base: ruleset.Base{Description: "Broker portal users"}, Values: []string{"BROKER"}},
		"alwaysOn": ruleset.Static{Value: true},
	}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// fakeRulesets is an in-memory store.RulesetRepository.
type fakeRulesets struct {
	mu       sync.Mutex
	versions []*store.Ruleset
	err      error
}

func (f *fakeRulesets) PutRuleset(_ context.Context, r *store.Ruleset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}

	r.Checksum = store.Checksum(r.Document)
	if n := len(f.versions); n > 0 && f.versions[n-1].Checksum == r.Checksum {
		latest := f.versions[n-1]
		r.Version, r.CreatedAt, r.CreatedBy = latest.Version, latest.CreatedAt, latest.CreatedBy
		return store.ErrRulesetUnchanged
	}

	r.Version = int64(len(f.versions) + 1)
	r.CreatedAt = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	saved := *r
	f.versions = append(f.versions, &saved)
	return nil
}

func (f *fakeRulesets) LatestRuleset(context.Context) (*store.Ruleset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.versions) == 0 {
		return nil, store.ErrNoRuleset
	}
	latest := *f.versions[len(f.versions)-1]
	return &latest, nil
}

func (f *fakeRulesets) ListRulesets(_ context.Context, limit, offset int) ([]*store.Ruleset, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}

	var out []*store.Ruleset
	for i := len(f.versions) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		rs := *f.versions[i]
		rs.Document = ""
		out = append(out, &rs)
	}
	return out, int64(len(f.versions)), nil
}

type testEnv struct {
	api      *api.API
	holder   *policy.Holder
	rulesets *fakeRulesets
	loads    int
}

func newTestEnv(t *testing.T, mutate func(*api.Deps)) *testEnv {
	t.Helper()

	env := &testEnv{
		holder:   policy.NewHolder(policy.New(testRules(), policy.WithLogger(quietLogger()))),
		rulesets: &fakeRulesets{},
	}

	deps := api.Deps{
		Engines: env.holder,
		Load: func(context.Context) *policy.Engine {
			env.loads++
			return policy.New(ruleset.RulesConfig{"reloaded": ruleset.Static{Value: true}}, policy.WithLogger(quietLogger()))
		},
		Rulesets:   env.rulesets,
		APIKeyHash: hashKey(testAPIKey),
	}
	if mutate != nil {
		mutate(&deps)
	}

	env.api = api.New(deps)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	e.api.Router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

var adminHeaders = map[string]string{api.APIKeyHeader: testAPIKey}

func TestNew_Panics(t *testing.T) {
	t.Parallel()

	holder := policy.NewHolder(policy.New(nil, policy.WithLogger(quietLogger())))
	load := func(context.Context) *policy.Engine { return nil }

	tests := []struct {
		name string
		deps api.Deps
	}{
		{name: "nil holder", deps: api.Deps{Load: load, SkipAuth: true}},
		{name: "nil load", deps: api.Deps{Engines: holder, SkipAuth: true}},
		{name: "auth without hash", deps: api.Deps{Engines: holder, Load: load}},
		{name: "auth with the raw key as hash", deps: api.Deps{Engines: holder, Load: load, APIKeyHash: testAPIKey}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, func() { api.New(tt.deps) })
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestComputeFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		wantState policy.State
		wantFlags map[string]bool
	}{
		{
			name:      "broker user",
			body:      `{"userInfo": {"id": "u-1", "lob": "BROKER"}, "member": {"planId": "P1"}}`,
			wantState: policy.StateReady,
			wantFlags: map[string]bool{"isBroker": true, "alwaysOn": true},
		},
		{
			name:      "member user without member data",
			body:      `{"userInfo": {"id": "u-2", "lob": "MEMBER"}}`,
			wantState: policy.StateReady,
			wantFlags: map[string]bool{"isBroker": false, "alwaysOn": true},
		},
		{
			name:      "session not resolved",
			body:      `{}`,
			wantState: policy.StateLoading,
			wantFlags: map[string]bool{},
		},
		{
			name:      "session failed",
			body:      `{"userInfo": {"id": "u-1", "lob": "BROKER"}, "error": "token expired"}`,
			wantState: policy.StateError,
			wantFlags: map[string]bool{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			env := newTestEnv(t, nil)

			// Act
			rr := env.do(t, http.MethodPost, "/api/v1/flags:compute", tt.body, nil)

			// Assert
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			got := decode[api.ComputeResponse](t, rr)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantFlags, got.Flags)
			assert.Equal(t, policy.OriginStatic, got.Origin)
			assert.Len(t, got.EvaluationID, 36)
		})
	}
}

func TestComputeFlags_EvaluationIDsAreUnique(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	body := `{"userInfo": {"id": "u-1"}}`

	first := decode[api.ComputeResponse](t, env.do(t, http.MethodPost, "/api/v1/flags:compute", body, nil))
	second := decode[api.ComputeResponse](t, env.do(t, http.MethodPost, "/api/v1/flags:compute", body, nil))

	assert.NotEqual(t, first.EvaluationID, second.EvaluationID)
}

func TestComputeFlags_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		maxBody    int64
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{name: "malformed json", body: `{"userInfo":`, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_JSON"},
		{name: "wrong field type", body: `{"userInfo": {"id": 7}}`, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_JSON"},
		{name: "missing user id", body: `{"userInfo": {"lob": "BROKER"}}`, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT", wantField: "UserInfo.ID"},
		{name: "auth function without name", body: `{"userInfo": {"id": "u", "authFunctions": [{"available": true}]}}`, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT", wantField: "UserInfo.AuthFunctions[0].FunctionName"},
		{name: "body too large", body: `{"userInfo": {"id": "` + strings.Repeat("x", 256) + `"}}`, maxBody: 64, wantStatus: http.StatusRequestEntityTooLarge, wantCode: "ERR_PAYLOAD_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			env := newTestEnv(t, func(d *api.Deps) { d.MaxBodyBytes = tt.maxBody })

			// Act
			rr := env.do(t, http.MethodPost, "/api/v1/flags:compute", tt.body, nil)

			// Assert
			assert.Equal(t, tt.wantStatus, rr.Code)
			got := decode[api.ErrorResponse](t, rr)
			assert.Equal(t, tt.wantCode, got.Code)
			if tt.wantField != "" {
				require.NotEmpty(t, got.Details)
				assert.Equal(t, tt.wantField, got.Details[0].Field)
			}
		})
	}
}

func TestComputeFlags_UsesSwappedEngine(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, nil)
	env.holder.Swap(policy.New(ruleset.RulesConfig{"isBroker": ruleset.Static{Value: false}}, policy.WithLogger(quietLogger())))

	// Act
	rr := env.do(t, http.MethodPost, "/api/v1/flags:compute", `{"userInfo": {"id": "u-1", "lob": "BROKER"}}`, nil)

	// Assert
	got := decode[api.ComputeResponse](t, rr)
	assert.Equal(t, map[string]bool{"isBroker": false}, got.Flags)
}

func TestListRules(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/rules", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[api.RulesResponse](t, rr)
	assert.Equal(t, policy.OriginStatic, got.Origin)
	assert.Equal(t, []api.RuleSummary{
		{Name: "alwaysOn", Type: "static"},
		{Name: "isBroker", Type: "lob", Description: "Broker portal users"},
	}, got.Rules)
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		headers    map[string]string
		skipAuth   bool
		wantStatus int
	}{
		{name: "missing key", headers: nil, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", headers: map[string]string{api.APIKeyHeader: "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "hash sent as key", headers: map[string]string{api.APIKeyHeader: hashKey(testAPIKey)}, wantStatus: http.StatusUnauthorized},
		{name: "valid key", headers: adminHeaders, wantStatus: http.StatusOK},
		{name: "auth disabled", headers: nil, skipAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			env := newTestEnv(t, func(d *api.Deps) {
				d.SkipAuth = tt.skipAuth
				if tt.skipAuth {
					d.APIKeyHash = ""
				}
			})

			// Act
			rr := env.do(t, http.MethodPost, "/api/v1/rules:reload", "", tt.headers)

			// Assert
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "ERR_UNAUTHORIZED", decode[api.ErrorResponse](t, rr).Code)
				assert.Zero(t, env.loads)
			}
		})
	}
}

func TestReloadRules(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, nil)

	// Act
	rr := env.do(t, http.MethodPost, "/api/v1/rules:reload", "", adminHeaders)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, api.ReloadResponse{Origin: policy.OriginStatic, Rules: 1, PreviousOrigin: policy.OriginStatic, Swapped: true}, decode[api.ReloadResponse](t, rr))
	assert.Equal(t, 1, env.loads)
	assert.Equal(t, []string{"reloaded"}, env.holder.Engine().RuleNames())
}

func TestReloadRules_KeepsRulesWhenEverySourceFails(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, func(d *api.Deps) {
		d.Load = func(ctx context.Context) *policy.Engine {
			return policy.Load(ctx, nil, policy.WithLogger(quietLogger()))
		}
	})

	// Act
	rr := env.do(t, http.MethodPost, "/api/v1/rules:reload", "", adminHeaders)

	// Assert
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[api.ReloadResponse](t, rr)
	assert.False(t, got.Swapped)
	assert.Equal(t, policy.OriginStatic, got.Origin)
	assert.Equal(t, 2, got.Rules)
	assert.ElementsMatch(t, []string{"alwaysOn", "isBroker"}, env.holder.Engine().RuleNames())
}

func TestPutRuleset(t *testing.T) {
	t.Parallel()

	t.Run("saves, then reports unchanged", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, nil)
		headers := map[string]string{api.APIKeyHeader: testAPIKey, api.ActorHeader: "alice"}

		first := env.do(t, http.MethodPut, "/api/v1/rulesets", validDocument, headers)
		require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
		created := decode[api.PutRulesetResponse](t, first)
		assert.True(t, created.Changed)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, 2, created.Rules)
		assert.Equal(t, "alice", created.CreatedBy)
		assert.Equal(t, store.Checksum(validDocument), created.Checksum)
		assert.Empty(t, created.Document)

		second := env.do(t, http.MethodPut, "/api/v1/rulesets", validDocument, adminHeaders)
		require.Equal(t, http.StatusOK, second.Code)
		unchanged := decode[api.PutRulesetResponse](t, second)
		assert.False(t, unchanged.Changed)
		assert.Equal(t, int64(1), unchanged.Version)
	})

	t.Run("default actor", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, nil)

		rr := env.do(t, http.MethodPut, "/api/v1/rulesets", validDocument, adminHeaders)

		require.Equal(t, http.StatusCreated, rr.Code)
		assert.Equal(t, "api", decode[api.PutRulesetResponse](t, rr).CreatedBy)
	})

	tests := []struct {
		name       string
		body       string
		repoErr    error
		noRepo     bool
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{name: "empty document", body: "  \n", wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT"},
		{name: "malformed yaml", body: "rules: [unclosed", wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_DOCUMENT"},
		{name: "unknown rule type", body: "rules:\n  x:\n    type: magic\n", wantStatus: http.StatusUnprocessableEntity, wantCode: "ERR_INVALID_RULES", wantField: "rules.x.type"},
		{name: "wrong value type", body: "rules:\n  x:\n    type: static\n    value: yes please\n", wantStatus: http.StatusUnprocessableEntity, wantCode: "ERR_INVALID_RULES", wantField: "rules.x.value"},
		{name: "storage failure", body: validDocument, repoErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "ERR_INTERNAL"},
		{name: "storage not configured", body: validDocument, noRepo: true, wantStatus: http.StatusNotImplemented, wantCode: "ERR_NOT_CONFIGURED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			env := newTestEnv(t, func(d *api.Deps) {
				if tt.noRepo {
					d.Rulesets = nil
				}
			})
			env.rulesets.err = tt.repoErr

			// Act
			rr := env.do(t, http.MethodPut, "/api/v1/rulesets", tt.body, adminHeaders)

			// Assert
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			got := decode[api.ErrorResponse](t, rr)
			assert.Equal(t, tt.wantCode, got.Code)
			if tt.wantField != "" {
				require.Len(t, got.Details, 1)
				assert.Equal(t, tt.wantField, got.Details[0].Field)
			}
			assert.Empty(t, env.rulesets.versions)
		})
	}
}

func TestListRulesets(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, nil)
	for i := range 5 {
		doc := validDocument + strings.Repeat("\n", i+1)
		require.NoError(t, env.rulesets.PutRuleset(context.Background(), &store.Ruleset{Document: doc, CreatedBy: "seed"}))
	}

	tests := []struct {
		name         string
		query        string
		wantStatus   int
		wantVersions []int64
		wantPage     api.Pagination
	}{
		{
			name:         "defaults",
			query:        "",
			wantStatus:   http.StatusOK,
			wantVersions: []int64{5, 4, 3, 2, 1},
			wantPage:     api.Pagination{TotalItems: 5, TotalPages: 1, CurrentPage: 1, PageSize: 10},
		},
		{
			name:         "second page",
			query:        "?page=2&page_size=2",
			wantStatus:   http.StatusOK,
			wantVersions: []int64{3, 2},
			wantPage:     api.Pagination{TotalItems: 5, TotalPages: 3, CurrentPage: 2, PageSize: 2},
		},
		{
			name:         "out of range values are clamped",
			query:        "?page=0&page_size=1000",
			wantStatus:   http.StatusOK,
			wantVersions: []int64{5, 4, 3, 2, 1},
			wantPage:     api.Pagination{TotalItems: 5, TotalPages: 1, CurrentPage: 1, PageSize: 100},
		},
		{
			name:       "non numeric page",
			query:      "?page=banana",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			rr := env.do(t, http.MethodGet, "/api/v1/rulesets"+tt.query, "", adminHeaders)

			// Assert
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decode[api.ErrorResponse](t, rr).Code)
				return
			}

			var got struct {
				Data       []api.Ruleset  `json:"data"`
				Pagination api.Pagination `json:"pagination"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))

			versions := make([]int64, 0, len(got.Data))
			for _, rs := range got.Data {
				versions = append(versions, rs.Version)
				assert.Empty(t, rs.Document)
			}
			assert.Equal(t, tt.wantVersions, versions)
			assert.Equal(t, tt.wantPage, got.Pagination)
		})
	}
}

func TestGetLatestRuleset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	missing := env.do(t, http.MethodGet, "/api/v1/rulesets/latest", "", adminHeaders)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "ERR_NOT_FOUND", decode[api.ErrorResponse](t, missing).Code)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPut, "/api/v1/rulesets", validDocument, adminHeaders).Code)

	rr := env.do(t, http.MethodGet, "/api/v1/rulesets/latest", "", adminHeaders)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[api.Ruleset](t, rr)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, validDocument, got.Document)
}

func TestRequestLogger_InjectsRequestScopedLogger(t *testing.T) {
	// Not parallel: swaps the default logger.
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/flags:compute", `{"error": "boom"}`, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	out := buf.String()
	assert.Contains(t, out, `"msg":"session failed, denying all flags"`)
	assert.Contains(t, out, `"evaluation_id"`)
	assert.Contains(t, out, `"request_id"`)
	assert.Contains(t, out, `"msg":"HTTP request completed"`)
}

func TestAuthentication_ThrottlesRepeatedFailures(t *testing.T) {
	t.Parallel()

	// Arrange
	env := newTestEnv(t, func(d *api.Deps) { d.AuthFailuresPerMinute = 2 })
	t.Cleanup(env.api.Close)
	bad := map[string]string{api.APIKeyHeader: "guess"}

	// Act
	first := env.do(t, http.MethodGet, "/api/v1/rulesets", "", bad)
	second := env.do(t, http.MethodGet, "/api/v1/rulesets", "", bad)
	third := env.do(t, http.MethodGet, "/api/v1/rulesets", "", adminHeaders)

	// Assert
	assert.Equal(t, http.StatusUnauthorized, first.Code)
	assert.Equal(t, http.StatusUnauthorized, second.Code)
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "ERR_RATE_LIMITED", decode[api.ErrorResponse](t, third).Code)
	assert.Equal(t, "60", third.Header().Get("Retry-After"))

	// Public routes are never throttled.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/rules", "", nil).Code)
}

func TestAuthentication_ThrottleIgnoresForwardedHeaders(t *testing.T) {
	t.Parallel()

	send := func(env *testEnv, remoteAddr, forwardedFor, key string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rulesets", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set(api.APIKeyHeader, key)
		rr := httptest.NewRecorder()
		env.api.Router.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("rotating X-Forwarded-For does not reset the budget", func(t *testing.T) {
		t.Parallel()

		// Arrange
		env := newTestEnv(t, func(d *api.Deps) { d.AuthFailuresPerMinute = 2 })
		t.Cleanup(env.api.Close)

		// Act
		codes := make([]int, 0, 20)
		for i := range 20 {
			codes = append(codes, send(env, "203.0.113.7:4000", fmt.Sprintf("10.0.0.%d", i), "guess"))
		}

		// Assert
		assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized}, codes[:2])
		for _, code := range codes[2:] {
			assert.Equal(t, http.StatusTooManyRequests, code)
		}
	})

	t.Run("spoofing a victim address does not lock the victim out", func(t *testing.T) {
		t.Parallel()

		// Arrange
		env := newTestEnv(t, func(d *api.Deps) { d.AuthFailuresPerMinute = 2 })
		t.Cleanup(env.api.Close)
		for range 5 {
			send(env, "203.0.113.7:4000", "198.51.100.9", "guess")
		}

		// Act
		code := send(env, "198.51.100.9:5000", "", testAPIKey)

		// Assert
		assert.Equal(t, http.StatusOK, code)
	})
}

type fakeMembers struct {
	mu      sync.Mutex
	records map[string]member.Record
	err     error
}

func (f *fakeMembers) PutMember(_ context.Context, userID, planID string, rec member.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.records == nil {
		f.records = map[string]member.Record{}
	}
	f.records[userID+"/"+planID] = rec
	return nil
}

type fakeMemberCache struct {
	mu          sync.Mutex
	invalidated [][2]string
}

func (f *fakeMemberCache) Invalidate(userID, planID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, [2]string{userID, planID})
}

func TestPutMember(t *testing.T) {
	t.Parallel()

	const path = "/api/v1/members/u-1/plans/plan-b"

	t.Run("saves the record and drops the cached copy", func(t *testing.T) {
		t.Parallel()

		// Arrange
		members, cache := &fakeMembers{}, &fakeMemberCache{}
		env := newTestEnv(t, func(d *api.Deps) {
			d.Members = members
			d.MemberCache = cache
		})

		// Act
		rr := env.do(t, http.MethodPut, path, `{"lob": "MEDICARE", "coverageTypes": [{"productType": "D"}]}`, adminHeaders)

		// Assert
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
		assert.Equal(t, "MEDICARE", members.records["u-1/plan-b"]["lob"])
		assert.Equal(t, [][2]string{{"u-1", "plan-b"}}, cache.invalidated)
	})

	tests := []struct {
		name       string
		path       string
		body       string
		headers    map[string]string
		members    *fakeMembers
		wantStatus int
		wantCode   string
	}{
		{name: "plan id with whitespace", path: "/api/v1/members/u-1/plans/plan%20b", body: `{}`, headers: adminHeaders, members: &fakeMembers{}, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT"},
		{name: "user id with control character", path: "/api/v1/members/u%01x/plans/plan-b", body: `{}`, headers: adminHeaders, members: &fakeMembers{}, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT"},
		{name: "requires the API key", body: `{}`, members: &fakeMembers{}, wantStatus: http.StatusUnauthorized, wantCode: "ERR_UNAUTHORIZED"},
		{name: "null record", body: `null`, headers: adminHeaders, members: &fakeMembers{}, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_INPUT"},
		{name: "not an object", body: `[1, 2]`, headers: adminHeaders, members: &fakeMembers{}, wantStatus: http.StatusBadRequest, wantCode: "ERR_INVALID_JSON"},
		{name: "storage failure", body: `{}`, headers: adminHeaders, members: &fakeMembers{err: errors.New("db down")}, wantStatus: http.StatusInternalServerError, wantCode: "ERR_INTERNAL"},
		{name: "storage not configured", body: `{}`, headers: adminHeaders, wantStatus: http.StatusNotImplemented, wantCode: "ERR_NOT_CONFIGURED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			cache := &fakeMemberCache{}
			env := newTestEnv(t, func(d *api.Deps) {
				if tt.members != nil {
					d.Members = tt.members
				}
				d.MemberCache = cache
			})

			target := path
			if tt.path != "" {
				target = tt.path
			}

			// Act
			rr := env.do(t, http.MethodPut, target, tt.body, tt.headers)

			// Assert
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCode, decode[api.ErrorResponse](t, rr).Code)
			assert.Empty(t, cache.invalidated)
			if tt.members != nil {
				assert.Empty(t, tt.members.records)
			}
		})
	}
}
