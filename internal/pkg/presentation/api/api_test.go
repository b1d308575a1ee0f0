package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/accounts"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/devicemanagement"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/application/tokens"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/devices"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/repositories/database/users"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/infrastructure/router"
	"github.com/fieldsense/iot-device-telemetry/internal/pkg/presentation/api/auth"
	"github.com/fieldsense/iot-device-telemetry/pkg/types"
	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestHealth(t *testing.T) {
	is, server := testSetup(t)
	defer server.Close()

	resp, _ := testRequest(is, server, http.MethodGet, "/health", "", "")
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestRegisterAndLogin(t *testing.T) {
	is, server := testSetup(t)
	defer server.Close()

	resp, body := testRequest(is, server, http.MethodPost, "/register", "", `{"name":"Jo","email":"jo@example.com","password":"pw"}`)
	is.Equal(resp.StatusCode, http.StatusOK)

	registered := statusResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &registered))
	is.Equal(registered.Status, "ok")
	is.True(registered.Token != "")

	resp, body = testRequest(is, server, http.MethodPost, "/register", "", `{"name":"Jo again","email":"jo@example.com","password":"pw"}`)
	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.True(strings.Contains(body, "Duplicate email"))

	resp, _ = testRequest(is, server, http.MethodPost, "/register", "", `{"name":"","email":"x@example.com","password":"pw"}`)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(is, server, http.MethodPost, "/register", "", `{not json`)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = testRequest(is, server, http.MethodPost, "/login", "", `{"email":"jo@example.com","password":"pw"}`)
	is.Equal(resp.StatusCode, http.StatusOK)

	loggedIn := statusResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &loggedIn))
	is.Equal(loggedIn.Status, "ok")
	is.True(loggedIn.User != "")

	resp, body = testRequest(is, server, http.MethodPost, "/login", "", `{"email":"jo@example.com","password":"wrong"}`)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)
	is.True(strings.Contains(body, "Invalid credentials"))
}

func TestNewDeviceThenAppend(t *testing.T) {
	is, server := testSetup(t)
	defer server.Close()

	token := registerUser(is, server, "jo@example.com")

	resp, body := testRequest(is, server, http.MethodPost, "/newDevice", "", `{"deviceName":"greenhouse","temperature":20}`)
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, body = testRequest(is, server, http.MethodPost, "/newDevice", token, `{"deviceName":"greenhouse","cropType":"tomato","temperature":20,"powerState":true}`)
	is.Equal(resp.StatusCode, http.StatusOK)

	created := statusResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &created))
	is.Equal(created.Message, "New device and data created successfully")
	is.Equal(len(created.APIKey), 32)

	resp, body = testRequest(is, server, http.MethodPost, "/newDevice", "garbage-token", `{"apiKey":"`+created.APIKey+`","temperature":21}`)
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, "Data updated successfully"))

	resp, body = testRequest(is, server, http.MethodPost, "/newDevice", token, `{"deviceName":"greenhouse","temperature":22}`)
	is.Equal(resp.StatusCode, http.StatusInternalServerError)
	is.True(strings.Contains(body, devices.ErrDuplicateName.Error()))

	resp, body = testRequest(is, server, http.MethodGet, "/devices/greenhouse", "", "")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(!strings.Contains(body, created.APIKey))

	found := statusResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &found))
	is.Equal(found.Device.CropType, "tomato")
	is.Equal(len(found.Device.DynamicData), 2)

	resp, _ = testRequest(is, server, http.MethodGet, "/devices/unknown", "", "")
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestListAndDeleteDevices(t *testing.T) {
	is, server := testSetup(t)
	defer server.Close()

	owner := registerUser(is, server, "owner@example.com")
	other := registerUser(is, server, "other@example.com")

	testRequest(is, server, http.MethodPost, "/newDevice", owner, `{"deviceName":"a","temperature":1}`)
	testRequest(is, server, http.MethodPost, "/newDevice", other, `{"deviceName":"b","temperature":1}`)

	resp, _ := testRequest(is, server, http.MethodGet, "/devices", "", "")
	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	resp, body := testRequest(is, server, http.MethodGet, "/devices", owner, "")
	is.Equal(resp.StatusCode, http.StatusOK)

	owned := []types.Device{}
	is.NoErr(json.Unmarshal([]byte(body), &owned))
	is.Equal(len(owned), 1)
	is.Equal(owned[0].DeviceName, "a")

	resp, _ = testRequest(is, server, http.MethodDelete, "/devices/"+owned[0].ID, other, "")
	is.Equal(resp.StatusCode, http.StatusNotFound)

	resp, _ = testRequest(is, server, http.MethodGet, "/devices/a", "", "")
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, body = testRequest(is, server, http.MethodDelete, "/devices/"+owned[0].ID, owner, "")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.True(strings.Contains(body, "Device Deleted Successfully"))

	resp, _ = testRequest(is, server, http.MethodGet, "/devices/a", "", "")
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func testSetup(t *testing.T) (*is.I, *httptest.Server) {
	is := is.New(t)
	ctx := logging.NewContextWithLogger(context.Background(), zerolog.Logger{})

	db, err := database.NewSQLiteConnector(ctx, "")()
	is.NoErr(err)

	userRepo, err := users.NewUserRepository(db)
	is.NoErr(err)
	deviceRepo, err := devices.NewDeviceRepository(db, 0)
	is.NoErr(err)

	tokenSvc, err := tokens.New("api-test-secret", time.Hour)
	is.NoErr(err)

	accts := accounts.New(userRepo, tokenSvc)

	msgCtx := &messaging.MsgContextMock{
		PublishOnTopicFunc: func(ctx context.Context, message messaging.TopicMessage) error {
			return nil
		},
	}

	svc := devicemanagement.New(deviceRepo, accts, msgCtx)

	r, err := RegisterHandlers(ctx, router.New("iot-device-telemetry-test"), strings.NewReader(auth.DefaultPolicy), accts, svc)
	is.NoErr(err)

	return is, httptest.NewServer(r)
}

func registerUser(is *is.I, server *httptest.Server, email string) string {
	resp, body := testRequest(is, server, http.MethodPost, "/register", "", `{"name":"user","email":"`+email+`","password":"pw"}`)
	is.Equal(resp.StatusCode, http.StatusOK)

	registered := statusResponse{}
	is.NoErr(json.Unmarshal([]byte(body), &registered))

	return registered.Token
}

func testRequest(is *is.I, ts *httptest.Server, method, path, token, body string) (*http.Response, string) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, _ := http.NewRequest(method, ts.URL+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}

	resp, err := http.DefaultClient.Do(req)
	is.NoErr(err)
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	return resp, string(respBody)
}
