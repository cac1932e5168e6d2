package api_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/sparkcloud/api"
	"github.com/xraph/sparkcloud/device"
	"github.com/xraph/sparkcloud/event"
	"github.com/xraph/sparkcloud/event/membus"
	"github.com/xraph/sparkcloud/firmware"
	"github.com/xraph/sparkcloud/observability"
	"github.com/xraph/sparkcloud/store/memory"
	"github.com/xraph/sparkcloud/webhook"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

type fakeRemote struct {
	mu      sync.Mutex
	flashed [][]byte
	signal  *bool
}

func (r *fakeRemote) Ping() device.Status { return device.Status{Connected: true} }

func (r *fakeRemote) Describe(context.Context) (*device.Description, error) {
	return &device.Description{
		Functions: []string{"digitalwrite"},
		Variables: map[string]string{"temp": "double"},
	}, nil
}

func (r *fakeRemote) CallFunction(_ context.Context, name string, args map[string]string) (int, error) {
	switch name {
	case "digitalwrite":
		return len(args["arg"]), nil
	case "boom":
		panic("remote exploded")
	default:
		return 0, device.ErrUnknownFunction
	}
}

func (r *fakeRemote) GetVariableValue(_ context.Context, name string) (any, error) {
	if name != "temp" {
		return nil, device.ErrUnknownVariable
	}
	return 21.5, nil
}

func (r *fakeRemote) Flash(_ context.Context, binary []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flashed = append(r.flashed, binary)
	return "Update Started", nil
}

func (r *fakeRemote) RaiseYourHand(_ context.Context, show bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signal = &show
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	remote *fakeRemote
	store  *memory.Store

	mu     sync.Mutex
	events []*event.Event
}

func (e *testEnv) published() []*event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*event.Event(nil), e.events...)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tinker.bin"), []byte{0xCA, 0xFE}, 0o600))

	s := memory.New()
	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "online", OwnerID: "u1", Name: "bench"}))
	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "offline", OwnerID: "u1", Name: "shelf"}))
	require.NoError(t, s.SaveAttributes(ctx, &device.Attributes{DeviceID: "orphan"}))

	remote := &fakeRemote{}
	fleet := device.NewFleet()
	fleet.Attach("online", remote)

	repo := firmware.NewFileRepository(dir)
	bus := membus.New()
	env := &testEnv{remote: remote, store: s}
	_, err := bus.Subscribe(ctx, func(_ context.Context, evt *event.Event) {
		env.mu.Lock()
		env.events = append(env.events, evt)
		env.mu.Unlock()
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)

	h := api.NewHandler(
		webhook.NewService(s, webhook.NewRegistry(), webhook.DefaultLimits(), nil),
		device.NewManager(s, fleet, repo),
		api.StaticTokens{"tok1": "u1", "tok2": "u2"},
		api.WithPublisher(bus),
		api.WithFirmware(repo),
		api.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)
	env.srv = httptest.NewServer(h)
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// ──────────────────────────────────────────────────
// Middleware
// ──────────────────────────────────────────────────

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/webhooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/webhooks", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/webhooks?access_token=tok1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/devices", "tok1", nil)
	assert.NotEmpty(t, resp.Header.Get(api.RequestIDHeader))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, env.srv.URL+"/v1/devices", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok1")
	req.Header.Set(api.RequestIDHeader, "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(api.RequestIDHeader))
}

func TestPanicRecovery(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/devices/online/boom", "tok1", map[string]any{"arg": "x"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The server keeps serving.
	resp = env.do(t, http.MethodGet, "/v1/devices", "tok1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sparkcloud_dispatches_in_flight")
}

// ──────────────────────────────────────────────────
// Webhooks
// ──────────────────────────────────────────────────

func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/webhooks", "tok1", map[string]any{
		"event":       "temp",
		"url":         "https://example.com/hook",
		"requestType": "get",
		// Ignored: the owner always comes from the token.
		"ownerID": "u2",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	hookID, _ := created["id"].(string)
	require.NotEmpty(t, hookID)
	assert.Equal(t, "u1", created["ownerID"])
	assert.Equal(t, "GET", created["requestType"])

	resp = env.do(t, http.MethodGet, "/v1/webhooks", "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]map[string]any](t, resp), 1)

	resp = env.do(t, http.MethodGet, "/v1/webhooks", "tok2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]map[string]any](t, resp))

	resp = env.do(t, http.MethodGet, "/v1/webhooks/"+hookID, "tok1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/webhooks/"+hookID, "tok2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/v1/webhooks/"+hookID, "tok2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/v1/webhooks/"+hookID, "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody[map[string]any](t, resp)["ok"])

	resp = env.do(t, http.MethodGet, "/v1/webhooks/"+hookID, "tok1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookErrors(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/webhooks/not-an-id", "tok1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/webhooks", "tok1", map[string]any{"event": "temp"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, decodeBody[map[string]any](t, resp)["ok"])

	resp = env.do(t, http.MethodPost, "/v1/webhooks", "tok1", map[string]any{
		"event": "temp",
		"url":   "https://example.com",
		"json":  map[string]any{"a": 1},
		"form":  map[string]any{"b": 2},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ──────────────────────────────────────────────────
// Devices
// ──────────────────────────────────────────────────

func TestClaimAndList(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/devices", "tok2", map[string]any{"id": "orphan"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/devices", "tok1", map[string]any{"id": "orphan"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/devices", "tok1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/devices", "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]map[string]any](t, resp)
	require.Len(t, list, 2)
	ids := []any{list[0]["id"], list[1]["id"]}
	assert.ElementsMatch(t, []any{"online", "offline"}, ids)

	resp = env.do(t, http.MethodDelete, "/v1/devices/orphan", "tok2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/devices/orphan", "tok2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/devices/online", "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "bench", d["name"])
	assert.Equal(t, true, d["connected"])
	assert.Equal(t, []any{"digitalwrite"}, d["functions"])

	resp = env.do(t, http.MethodGet, "/v1/devices/online", "tok2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVariablesAndFunctions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/devices/online/temp", "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 21.5, decodeBody[map[string]any](t, resp)["result"], 0.0001)

	resp = env.do(t, http.MethodGet, "/v1/devices/online/humidity", "tok1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/v1/devices/offline/temp", "tok1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/devices/online/digitalwrite", "tok1", map[string]any{"arg": "D7,HIGH"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.InDelta(t, 7, body["return_value"], 0.0001)
	assert.Equal(t, "online", body["id"])

	resp = env.do(t, http.MethodPost, "/v1/devices/online/nope", "tok1", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{"name": "desk"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "desk", decodeBody[map[string]any](t, resp)["name"])

	resp = env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{"app_id": "tinker"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Update Started", decodeBody[map[string]any](t, resp)["status"])

	resp = env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{"app_id": "doom"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{"signal": "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, env.remote.signal)
	assert.True(t, *env.remote.signal)

	resp = env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{"signal": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/v1/devices/online", "tok1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Did not update device", decodeBody[map[string]any](t, resp)["error"])
}

func uploadFirmware(t *testing.T, env *testEnv, filename string, data []byte) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, env.srv.URL+"/v1/devices/online", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer tok1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFlashUpload(t *testing.T) {
	env := newTestEnv(t)

	resp := uploadFirmware(t, env, "app.bin", []byte{1, 2, 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.remote.mu.Lock()
	flashed := env.remote.flashed
	env.remote.mu.Unlock()
	require.Len(t, flashed, 1)
	assert.Equal(t, []byte{1, 2, 3}, flashed[0])

	resp = uploadFirmware(t, env, "app.hex", []byte{1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProvision(t *testing.T) {
	env := newTestEnv(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	resp := env.do(t, http.MethodPost, "/v1/provisioning/fresh", "tok2", map[string]any{"publicKey": pemKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fresh", decodeBody[map[string]any](t, resp)["id"])

	stored, err := env.store.GetKey(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, pemKey, stored.PublicKey)

	resp = env.do(t, http.MethodPost, "/v1/provisioning/fresh", "tok2", map[string]any{"publicKey": "garbage"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/v1/provisioning/fresh", "tok2", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListFirmware(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/firmware", "tok1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"tinker"}, decodeBody[[]string](t, resp))
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/devices/events", "tok1", map[string]any{
		"name":    "temp",
		"data":    "21.5",
		"private": false,
		"ttl":     "120",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := env.published()
	require.Len(t, events, 1)
	assert.Equal(t, "temp", events[0].Name)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "21.5", events[0].Data)
	assert.True(t, events[0].IsPublic)
	assert.Equal(t, 120, events[0].TTL)

	resp = env.do(t, http.MethodPost, "/v1/devices/events", "tok1", map[string]any{"data": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, env.published(), 1)
}
