package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

const TokenHeader = "x-access-token"

var ErrBadRequest = fmt.Errorf("bad request")
var ErrUnauthorized = fmt.Errorf("unauthorized")
var ErrNotFound = fmt.Errorf("not found")
var ErrServer = fmt.Errorf("server error")

var tracer = otel.Tracer("iot-device-telemetry-client")

type Client interface {
	Register(ctx context.Context, name, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)

	SubmitTelemetry(ctx context.Context, submission types.TelemetrySubmission, token string) (types.SubmissionResult, error)

	ListDevices(ctx context.Context, token string) ([]types.Device, error)
	GetDevice(ctx context.Context, deviceName string) (types.Device, error)
	DeleteDevice(ctx context.Context, deviceID, token string) error
}

type client struct {
	url        string
	httpClient http.Client
}

func New(serviceURL string) Client {
	return &client{
		url: strings.TrimSuffix(serviceURL, "/"),
		httpClient: http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type response struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Error   string        `json:"error"`
	Token   string        `json:"token"`
	User    string        `json:"user"`
	APIKey  string        `json:"apiKey"`
	Device  *types.Device `json:"device"`
}

func (c *client) Register(ctx context.Context, name, email, password string) (string, error) {
	var err error
	ctx, span := tracer.Start(ctx, "register")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body := map[string]string{"name": name, "email": email, "password": password}

	resp := response{}
	err = c.do(ctx, http.MethodPost, "/register", "", body, &resp)
	if err != nil {
		return "", err
	}

	return resp.Token, nil
}

func (c *client) Login(ctx context.Context, email, password string) (string, error) {
	var err error
	ctx, span := tracer.Start(ctx, "login")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	body := map[string]string{"email": email, "password": password}

	resp := response{}
	err = c.do(ctx, http.MethodPost, "/login", "", body, &resp)
	if err != nil {
		return "", err
	}

	return resp.User, nil
}

func (c *client) SubmitTelemetry(ctx context.Context, submission types.TelemetrySubmission, token string) (types.SubmissionResult, error) {
	var err error
	ctx, span := tracer.Start(ctx, "submit-telemetry")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp := response{}
	err = c.do(ctx, http.MethodPost, "/newDevice", token, submission, &resp)
	if err != nil {
		return types.SubmissionResult{}, err
	}

	if resp.APIKey != "" {
		return types.SubmissionResult{Outcome: types.OutcomeCreated, APIKey: resp.APIKey}, nil
	}

	return types.SubmissionResult{Outcome: types.OutcomeAppended}, nil
}

func (c *client) ListDevices(ctx context.Context, token string) ([]types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "list-devices")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	devices := []types.Device{}
	err = c.do(ctx, http.MethodGet, "/devices", token, nil, &devices)

	return devices, err
}

func (c *client) GetDevice(ctx context.Context, deviceName string) (types.Device, error) {
	var err error
	ctx, span := tracer.Start(ctx, "get-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	resp := response{}
	err = c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceName), "", nil, &resp)
	if err != nil {
		return types.Device{}, err
	}

	if resp.Device == nil {
		err = fmt.Errorf("response did not contain a device")
		return types.Device{}, err
	}

	return *resp.Device, nil
}

func (c *client) DeleteDevice(ctx context.Context, deviceID, token string) error {
	var err error
	ctx, span := tracer.Start(ctx, "delete-device")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	err = c.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(deviceID), token, nil, &response{})
	return err
}

func (c *client) do(ctx context.Context, method, path, token string, body, result any) error {
	log := logging.GetFromContext(ctx)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	if body != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Add(TokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errResp := response{}
		_ = json.Unmarshal(respBody, &errResp)

		log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("request failed")

		return fmt.Errorf("%w: %s", statusError(resp.StatusCode), errResp.Error)
	}

	err = json.Unmarshal(respBody, result)
	if err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}

	return nil
}

func statusError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w (status code %d)", ErrServer, code)
	}
}
