// Package adapters holds the per-integration validator adapters. Each one
// hides its transport behind the validation.Validator capability so the
// orchestrator's retry and breaker policy stays integration-agnostic.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cachet/internal/validation"
)

// Remote calls an external validator over HTTP using the shared call
// contract: POST {applicantId, applicationId, stage, fields} and read back
// {result, confidence, rawPayload, respondedAt}.
type Remote struct {
	id       string
	kind     validation.Kind
	endpoint string
	client   *http.Client
}

func NewRemote(id string, kind validation.Kind, endpoint string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{id: id, kind: kind, endpoint: endpoint, client: client}
}

// NewPopulationRegistry checks the applicant against the national population
// register.
func NewPopulationRegistry(endpoint string, client *http.Client) *Remote {
	return NewRemote("population-registry", validation.KindPopulationRegistry, endpoint, client)
}

// NewBiometricMatch checks captured biometrics against the identity record.
func NewBiometricMatch(endpoint string, client *http.Client) *Remote {
	return NewRemote("biometric-match", validation.KindBiometricMatch, endpoint, client)
}

// NewCriminalRecord runs the clearance check.
func NewCriminalRecord(endpoint string, client *http.Client) *Remote {
	return NewRemote("criminal-record", validation.KindCriminalRecord, endpoint, client)
}

// NewTravelDocDirectory checks prior travel documents against the public-key
// directory.
func NewTravelDocDirectory(endpoint string, client *http.Client) *Remote {
	return NewRemote("travel-doc-directory", validation.KindTravelDocDirectory, endpoint, client)
}

func (r *Remote) ID() string            { return r.id }
func (r *Remote) Kind() validation.Kind { return r.kind }

type wireRequest struct {
	ApplicantID   string            `json:"applicantId"`
	ApplicationID string            `json:"applicationId"`
	Stage         string            `json:"stage"`
	Fields        map[string]string `json:"fields"`
}

type wireResponse struct {
	Result      string          `json:"result"`
	Confidence  float64         `json:"confidence"`
	RawPayload  json.RawMessage `json:"rawPayload"`
	RespondedAt time.Time       `json:"respondedAt"`
}

func (r *Remote) Check(ctx context.Context, req validation.Request) (validation.Response, error) {
	body, err := json.Marshal(wireRequest{
		ApplicantID:   req.ApplicantID.String(),
		ApplicationID: req.ApplicationID.String(),
		Stage:         req.Stage,
		Fields:        req.Fields,
	})
	if err != nil {
		return validation.Response{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return validation.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return validation.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return validation.Response{}, fmt.Errorf("%s responded %d", r.id, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return validation.Response{}, fmt.Errorf("decoding response: %w", err)
	}
	result, err := normalizeResult(wire.Result)
	if err != nil {
		return validation.Response{}, err
	}
	return validation.Response{
		Result:      result,
		Confidence:  wire.Confidence,
		RawPayload:  wire.RawPayload,
		RespondedAt: wire.RespondedAt,
	}, nil
}

func normalizeResult(s string) (validation.Result, error) {
	switch validation.Result(s) {
	case validation.ResultVerified, validation.ResultNotVerified, validation.ResultInconclusive, validation.ResultError:
		return validation.Result(s), nil
	}
	return "", fmt.Errorf("unknown validator result %q", s)
}
