package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachet/internal/application"
	applicationhandler "cachet/internal/application/handler"
	appmemory "cachet/internal/application/store/memory"
	"cachet/internal/audit"
	audithandler "cachet/internal/audit/handler"
	auditmemory "cachet/internal/audit/store/memory"
	"cachet/internal/issuance"
	issuancehandler "cachet/internal/issuance/handler"
	"cachet/internal/issuance/publisher"
	issuancememory "cachet/internal/issuance/store/memory"
	"cachet/internal/signing"
	httptransport "cachet/internal/transport/http"
	"cachet/internal/validation"
	validationmemory "cachet/internal/validation/store/memory"
	"cachet/internal/verification"
	verificationhandler "cachet/internal/verification/handler"
	"cachet/pkg/testutil"
)

// stubValidator always answers verified with the given confidence.
type stubValidator struct {
	id   string
	kind validation.Kind
}

func (v stubValidator) ID() string            { return v.id }
func (v stubValidator) Kind() validation.Kind { return v.kind }

func (v stubValidator) Check(_ context.Context, _ validation.Request) (validation.Response, error) {
	return validation.Response{Result: validation.ResultVerified, Confidence: 0.96}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	recorder := audit.NewRecorder(auditmemory.New(), logger, nil)

	// One store serves both roles so applicants and applications share state.
	store := appmemory.New()
	apps := application.NewService(store, store, recorder, nil, logger)

	orchestrator := validation.NewOrchestrator(
		[]validation.Validator{
			stubValidator{id: "pop-1", kind: validation.KindPopulationRegistry},
			stubValidator{id: "bio-1", kind: validation.KindBiometricMatch},
			stubValidator{id: "crim-1", kind: validation.KindCriminalRecord},
			stubValidator{id: "travel-1", kind: validation.KindTravelDocDirectory},
		},
		validationmemory.New(), validationmemory.New(),
		recorder, nil, logger,
	)

	keyring, err := signing.NewMemoryKeyring("test-key-1")
	require.NoError(t, err)
	signer := signing.New(keyring)
	docs := issuancememory.New()
	issuer := issuance.NewService(docs, apps, store, signer, publisher.NewLog(logger), recorder, nil, logger,
		issuance.WithKeyring(keyring),
	)
	verifier := verification.NewService(docs, signer, keyring, recorder, nil, logger)

	router := httptransport.NewRouter(httptransport.Handlers{
		Applications: applicationhandler.New(apps, orchestrator, issuer, logger),
		Documents:    issuancehandler.New(issuer, logger),
		Verification: verificationhandler.New(verifier, nil, nil, logger),
		Audit:        audithandler.New(recorder, logger),
	}, nil, logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Operator-Id", "officer-7")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return do(t, req)
}

func get(t *testing.T, srv *httptest.Server, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestPipeline_EndToEnd(t *testing.T) {
	srv := newTestServer(t)

	var (
		applicantID string
		appID       string
		docID       string
		code        string
	)

	testutil.Given(t, "a verified applicant", func(t *testing.T) {
		status, body := post(t, srv, "/applicants", map[string]any{
			"legalName":       "Anna Maria Eriksson",
			"dateOfBirth":     "1990-04-12",
			"placeOfBirth":    "Zenith City",
			"nationality":     "UTO",
			"sex":             "F",
			"identityNumbers": []string{"840-12-3456", " 840-12-3456 "},
			"verified":        true,
		})
		require.Equal(t, http.StatusCreated, status)
		applicantID = body["id"].(string)
	})

	testutil.When(t, "the applicant opens a passport application", func(t *testing.T) {
		status, body := post(t, srv, "/applications", map[string]any{
			"applicantId": applicantID,
			"type":        "passport",
		})
		require.Equal(t, http.StatusCreated, status)
		appID = body["id"].(string)
		assert.Equal(t, "draft", body["currentStage"])
	})

	testutil.When(t, "the application walks the whole pipeline", func(t *testing.T) {
		steps := []map[string]any{
			nil, // draft -> identity_verification
			nil, // automated, orchestrator supplies the result
			nil, // automated
			{"cleared": true, "reference": "bg-check-118"},
			{"paid": true, "reference": "pay-2991"},
			{"approved": true, "justification": "all checks green"},
		}
		for i, step := range steps {
			status, body := post(t, srv, "/applications/"+appID+"/advance", step)
			require.Equal(t, http.StatusOK, status, "step %d: %v", i, body)
		}

		status, body := get(t, srv, "/applications/"+appID)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "approved", body["currentStage"])
	})

	testutil.When(t, "the approved application is issued", func(t *testing.T) {
		status, body := post(t, srv, "/applications/"+appID+"/advance", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "issued", body["currentStage"])
		docID = body["documentId"].(string)
		code = body["verificationCode"].(string)
		require.Len(t, code, 25)
	})

	testutil.Then(t, "the public lookup confirms the document", func(t *testing.T) {
		status, body := get(t, srv, "/verify/"+code)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "passport", body["documentType"])
	})

	testutil.Then(t, "a fabricated code is indistinguishable from tampering", func(t *testing.T) {
		status, body := get(t, srv, "/verify/AAAAAAAAAAAAAAAAAAAAAAAAA")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, map[string]any{"valid": false}, body)
	})

	testutil.Then(t, "revocation shows up in the next lookup", func(t *testing.T) {
		status, _ := post(t, srv, "/documents/"+docID+"/revoke", map[string]any{
			"reason": "holder reported the document stolen",
		})
		require.Equal(t, http.StatusOK, status)

		status, body := get(t, srv, "/verify/"+code)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["valid"])
		checks := body["tamperChecks"].(map[string]any)
		assert.Equal(t, false, checks["notRevoked"])
	})

	testutil.Then(t, "the audit trail recorded the whole journey", func(t *testing.T) {
		status, body := get(t, srv, fmt.Sprintf("/audit/application/%s", appID))
		require.Equal(t, http.StatusOK, status)
		events := body["events"].([]any)
		require.NotEmpty(t, events)
		first := events[0].(map[string]any)
		assert.Equal(t, "application_created", first["action"])
		last := events[len(events)-1].(map[string]any)
		assert.Equal(t, "stage_advanced", last["action"])
	})
}

func TestAdvance_ManualStageNeedsVerdict(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/applicants", map[string]any{
		"legalName":   "Jonas Berg",
		"dateOfBirth": "1985-01-30",
		"nationality": "UTO",
		"sex":         "M",
		"verified":    true,
	})
	require.Equal(t, http.StatusCreated, status)

	status, app := post(t, srv, "/applications", map[string]any{
		"applicantId": body["id"],
		"type":        "national_id",
	})
	require.Equal(t, http.StatusCreated, status)
	appID := app["id"].(string)

	// draft -> identity -> eligibility -> background_verification
	for i := 0; i < 3; i++ {
		status, _ = post(t, srv, "/applications/"+appID+"/advance", nil)
		require.Equal(t, http.StatusOK, status)
	}

	status, errBody := post(t, srv, "/applications/"+appID+"/advance", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", errBody["error"])
}

func TestReject_ThenOverrideBackIntoPipeline(t *testing.T) {
	srv := newTestServer(t)

	_, applicant := post(t, srv, "/applicants", map[string]any{
		"legalName":   "Mara Lindqvist",
		"dateOfBirth": "1992-09-03",
		"nationality": "UTO",
		"sex":         "F",
		"verified":    true,
	})
	_, app := post(t, srv, "/applications", map[string]any{
		"applicantId": applicant["id"],
		"type":        "passport",
	})
	appID := app["id"].(string)

	status, body := post(t, srv, "/applications/"+appID+"/reject", map[string]any{
		"reason": "documents illegible",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "rejected", body["currentStage"])
	assert.Equal(t, "documents illegible", body["rejectionReason"])

	status, body = post(t, srv, "/applications/"+appID+"/override", map[string]any{
		"stage":  "draft",
		"reason": "applicant re-submitted legible documents",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "draft", body["currentStage"])
	assert.Empty(t, body["rejectionReason"])
}
