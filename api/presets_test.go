package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"ptz-presets/api"
	"ptz-presets/camera"
	"ptz-presets/device"
	"ptz-presets/events"
	"ptz-presets/layout"
)

type testEnv struct {
	srv    *httptest.Server
	front  *device.Memory
	rear   *device.Memory
	bus    *events.Bus
	layout *layout.Manager
}

type presetJSON struct {
	Token   string `json:"token"`
	Name    string `json:"name"`
	Pending bool   `json:"pending"`
	Index   int    `json:"index"`
	Current bool   `json:"current"`
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		front: device.NewMemory(
			device.Preset{Token: "1", Name: "Stage"},
			device.Preset{Token: "2", Name: "Altar"},
			device.Preset{Token: "3", Name: "Choir"},
		),
		rear: device.NewMemory(device.Preset{Token: "1", Name: "Door"}),
		bus:  events.NewBus(0),
	}
	lm, err := layout.NewManager(t.TempDir() + "/layout.json")
	if err != nil {
		t.Fatalf("layout.NewManager: %v", err)
	}
	env.layout = lm

	cams := map[string]*device.Memory{"front": env.front, "rear": env.rear}
	fleet := camera.NewFleet(env.bus)
	fleet.Connect(context.Background(), []camera.Config{{Name: "front"}, {Name: "rear"}},
		func(ctx context.Context, cfg camera.Config) (device.Gateway, error) {
			return cams[cfg.Name], nil
		})

	env.srv = httptest.NewServer(api.RegisterRoutes(fleet, lm, env.bus, 7))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

func (e *testEnv) presets(t *testing.T, query string) []presetJSON {
	t.Helper()
	path := "/api/cameras/front/presets"
	if query != "" {
		path += "?q=" + query
	}
	resp := e.do(t, http.MethodGet, path, "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected json content-type, got %q", ct)
	}
	var list []presetJSON
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return list
}

func tokens(list []presetJSON) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Token
	}
	return out
}

func TestListCameras(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, http.MethodGet, "/api/cameras", "")
	expectStatus(t, resp, http.StatusOK)

	var cams []camera.Info
	json.NewDecoder(resp.Body).Decode(&cams)
	if len(cams) != 2 || cams[0].Name != "front" || cams[0].Presets != 3 {
		t.Fatalf("unexpected cameras: %+v", cams)
	}
}

func TestUnknownCamera404(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodGet, "/api/cameras/nope/presets", ""), http.StatusNotFound)
}

func TestListPresetsInDeviceOrder(t *testing.T) {
	env := newTestServer(t)
	list := env.presets(t, "")
	if !reflect.DeepEqual(tokens(list), []string{"1", "2", "3"}) {
		t.Fatalf("unexpected order: %+v", list)
	}
	if list[1].Name != "Altar" || list[1].Index != 1 {
		t.Fatalf("unexpected entry: %+v", list[1])
	}
}

func TestListPresetsFuzzyFilter(t *testing.T) {
	env := newTestServer(t)
	list := env.presets(t, "altr")
	if len(list) != 1 || list[0].Token != "2" {
		t.Fatalf("expected only Altar, got %+v", list)
	}
}

func TestAddPreset201(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, http.MethodPost, "/api/cameras/front/presets", `{"name":"Balcony"}`)
	expectStatus(t, resp, http.StatusCreated)

	var p presetJSON
	json.NewDecoder(resp.Body).Decode(&p)
	if p.Name != "Balcony" || p.Token == "" {
		t.Fatalf("unexpected preset: %+v", p)
	}
	list := env.presets(t, "")
	last := list[len(list)-1]
	if last.Token != p.Token || !last.Current {
		t.Fatalf("new preset should be last and current: %+v", list)
	}
}

func TestAddPresetWithoutBody(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, http.MethodPost, "/api/cameras/front/presets", "")
	expectStatus(t, resp, http.StatusCreated)
}

func TestRenameDeferredUntilGoto(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPut, "/api/cameras/front/presets/2", `{"name":"Chancel"}`)
	expectStatus(t, resp, http.StatusOK)
	var p presetJSON
	json.NewDecoder(resp.Body).Decode(&p)
	if !p.Pending {
		t.Fatalf("rename away from the preset should be pending: %+v", p)
	}
	if env.front.Presets()[1].Name != "Altar" {
		t.Fatal("camera renamed too early")
	}
	if got := env.presets(t, "")[1]; got.Name != "Chancel" || !got.Pending {
		t.Fatalf("panel should show the pending name: %+v", got)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/cameras/front/presets/2/goto", ""), http.StatusOK)
	if env.front.Presets()[1].Name != "Chancel" {
		t.Fatal("goto did not commit the rename")
	}
}

func TestRenameBadBody(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPut, "/api/cameras/front/presets/2", `{"name":""}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/api/cameras/front/presets/2", `not json`), http.StatusBadRequest)
}

func TestRenameUnknownToken404(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPut, "/api/cameras/front/presets/9", `{"name":"X"}`), http.StatusNotFound)
}

func TestCommitModes(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPut, "/api/cameras/front/presets/3", `{"name":"Organ"}`)

	expectStatus(t, env.do(t, http.MethodPost, "/api/cameras/front/presets/3/commit", ""), http.StatusConflict)

	resp := env.do(t, http.MethodPost, "/api/cameras/front/presets/3/commit?force=1", "")
	expectStatus(t, resp, http.StatusOK)
	var out map[string]bool
	json.NewDecoder(resp.Body).Decode(&out)
	if !out["committed"] {
		t.Fatalf("expected committed, got %v", out)
	}
	if env.front.Presets()[2].Name != "Organ" {
		t.Fatal("camera not renamed")
	}
}

func TestCommitCameraForce(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPut, "/api/cameras/front/presets/1", `{"name":"Podium"}`)
	env.do(t, http.MethodPut, "/api/cameras/front/presets/3", `{"name":"Organ"}`)

	resp := env.do(t, http.MethodPost, "/api/cameras/front/commit?force=1", "")
	expectStatus(t, resp, http.StatusOK)
	var out map[string][]string
	json.NewDecoder(resp.Body).Decode(&out)
	if !reflect.DeepEqual(out["committed"], []string{"1", "3"}) {
		t.Fatalf("unexpected committed list: %v", out)
	}
}

func TestFleetCommitAndRefresh(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPut, "/api/cameras/rear/presets/1", `{"name":"Porch"}`)
	expectStatus(t, env.do(t, http.MethodPost, "/api/commit?force=true", ""), http.StatusOK)
	if env.rear.Presets()[0].Name != "Porch" {
		t.Fatal("rear not committed")
	}

	env.front.Rename("1", "Pulpit")
	expectStatus(t, env.do(t, http.MethodPost, "/api/refresh", ""), http.StatusOK)
	if got := env.presets(t, "")[0].Name; got != "Pulpit" {
		t.Fatalf("expected Pulpit after refresh, got %q", got)
	}
}

func TestCommitPartialFailureListsTokens(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPut, "/api/cameras/front/presets/1", `{"name":"Podium"}`)
	env.do(t, http.MethodPut, "/api/cameras/front/presets/3", `{"name":"Organ"}`)
	env.do(t, http.MethodPut, "/api/cameras/rear/presets/1", `{"name":"Porch"}`)
	env.front.Fail(device.OpSetPreset, "3", errors.New("busy"))

	resp := env.do(t, http.MethodPost, "/api/commit?force=1", "")
	expectStatus(t, resp, http.StatusBadGateway)
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected json content-type, got %q", ct)
	}
	var out map[string]camera.CommitResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	front := out["front"]
	if !reflect.DeepEqual(front.Committed, []string{"1"}) || !reflect.DeepEqual(front.Failed, []string{"3"}) || front.Error == "" {
		t.Fatalf("unexpected front result: %+v", front)
	}
	if rear := out["rear"]; !reflect.DeepEqual(rear.Committed, []string{"1"}) || len(rear.Failed) != 0 {
		t.Fatalf("unexpected rear result: %+v", rear)
	}

	env.front.Fail(device.OpSetPreset, "3", nil)
	resp = env.do(t, http.MethodPost, "/api/cameras/front/commit?force=1", "")
	expectStatus(t, resp, http.StatusOK)
	var res camera.CommitResult
	json.NewDecoder(resp.Body).Decode(&res)
	if !reflect.DeepEqual(res.Committed, []string{"3"}) || len(res.Failed) != 0 {
		t.Fatalf("unexpected retry result: %+v", res)
	}
}

func TestGotoDeviceFailure502(t *testing.T) {
	env := newTestServer(t)
	env.front.Fail(device.OpGotoPreset, "", errors.New("timeout"))
	expectStatus(t, env.do(t, http.MethodPost, "/api/cameras/front/presets/1/goto", ""), http.StatusBadGateway)
}

func TestSavePreset(t *testing.T) {
	env := newTestServer(t)
	env.front.MoveTo(device.Position{Pan: 77})
	resp := env.do(t, http.MethodPost, "/api/cameras/front/presets/2/save", "")
	expectStatus(t, resp, http.StatusOK)
	if env.front.Presets()[1].Position.Pan != 77 {
		t.Fatal("position not saved")
	}
}

func TestDeletePreset204(t *testing.T) {
	env := newTestServer(t)
	env.layout.SetOrder("front", []string{"3", "2", "1"})

	expectStatus(t, env.do(t, http.MethodDelete, "/api/cameras/front/presets/2", ""), http.StatusNoContent)
	if got := env.layout.Get().Cameras["front"]; !reflect.DeepEqual(got, []string{"3", "1"}) {
		t.Fatalf("layout still holds the token: %v", got)
	}
	if !reflect.DeepEqual(tokens(env.presets(t, "")), []string{"3", "1"}) {
		t.Fatal("panel still lists the deleted preset")
	}
}

func TestReorderPersists(t *testing.T) {
	env := newTestServer(t)
	resp := env.do(t, http.MethodPut, "/api/cameras/front/order", `{"from":0,"to":3}`)
	expectStatus(t, resp, http.StatusOK)

	var list []presetJSON
	json.NewDecoder(resp.Body).Decode(&list)
	want := []string{"2", "3", "1"}
	if !reflect.DeepEqual(tokens(list), want) {
		t.Fatalf("expected %v, got %v", want, tokens(list))
	}
	if got := env.layout.Get().Cameras["front"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("layout not saved: %v", got)
	}
	// The camera never sees panel order.
	if env.front.Presets()[0].Token != "1" {
		t.Fatal("camera order changed")
	}
}

func TestReorderBadRequest(t *testing.T) {
	env := newTestServer(t)
	expectStatus(t, env.do(t, http.MethodPut, "/api/cameras/front/order", `{"from":0}`), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/api/cameras/front/order", `{"from":5,"to":0}`), http.StatusBadRequest)
}

func TestGetLayout(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPut, "/api/cameras/front/order", `{"from":2,"to":0}`)
	resp := env.do(t, http.MethodGet, "/api/layout", "")
	expectStatus(t, resp, http.StatusOK)
	var store layout.Store
	json.NewDecoder(resp.Body).Decode(&store)
	if !reflect.DeepEqual(store.Cameras["front"], []string{"3", "1", "2"}) {
		t.Fatalf("unexpected layout: %+v", store)
	}
}
