package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/canon/internal/builder"
	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/queue"
	"github.com/kalambet/canon/internal/storage"
)

const testToken = "test-token-12345"

type mockPinger struct {
	n   int
	err error
}

func (m *mockPinger) Ping(context.Context) (int, error) { return m.n, m.err }

type testEnv struct {
	handler http.Handler
	queue   *queue.Queue
	store   *storage.Store
}

func setupHandler(t *testing.T, token string) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(store, queue.DefaultPolicy())
	h := NewHandler(Deps{
		Queue:     q,
		Completer: builder.NewCompleter(builder.NewRecorder(nil, store, q)),
		Graph:     store,
		Langflow:  &mockPinger{n: 3},
		Token:     token,
	})
	return testEnv{handler: h, queue: q, store: store}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(env testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	env := setupHandler(t, testToken)
	rr := serve(env, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestAuth(t *testing.T) {
	env := setupHandler(t, testToken)
	if rr := serve(env, authReq(http.MethodGet, "/queue/stats", "", "")); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := serve(env, authReq(http.MethodGet, "/queue/stats", "", "wrong")); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := serve(env, authReq(http.MethodGet, "/queue/stats", "", testToken)); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	env := setupHandler(t, "")
	if rr := serve(env, authReq(http.MethodGet, "/queue/stats", "", "")); rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestCreateContent(t *testing.T) {
	env := setupHandler(t, testToken)
	rr := serve(env, authReq(http.MethodPost, "/content/create", `{"type":"world"}`, testToken))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}

	var resp CreateContentResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !strings.HasPrefix(resp.JobID, "job_") || resp.Status != "queued" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Message != "world generation job queued" {
		t.Errorf("message = %q", resp.Message)
	}

	st, _ := env.queue.Status(context.Background(), resp.JobID)
	if st == nil || st.Status != queue.Waiting {
		t.Errorf("queued job = %+v", st)
	}
}

func TestCreateContent_Validation(t *testing.T) {
	env := setupHandler(t, testToken)
	cases := map[string]int{
		`{}`:                                http.StatusBadRequest,
		`{"type":"spaceship"}`:              http.StatusBadRequest,
		`not json`:                          http.StatusBadRequest,
		`{"type":"world","universeId":"x"}`: http.StatusNotFound,
	}
	for body, want := range cases {
		rr := serve(env, authReq(http.MethodPost, "/content/create", body, testToken))
		if rr.Code != want {
			t.Errorf("%s: status = %d, want %d", body, rr.Code, want)
		}
	}
}

func TestJobStatus(t *testing.T) {
	env := setupHandler(t, testToken)
	id, _ := env.queue.Submit(context.Background(), content.Culture, "")

	rr := serve(env, authReq(http.MethodGet, "/job/"+id+"/status", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var st queue.Status
	json.NewDecoder(rr.Body).Decode(&st)
	if st.JobID != id || st.Status != queue.Waiting || st.Data.Type != "culture" {
		t.Errorf("status = %+v", st)
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	env := setupHandler(t, testToken)
	rr := serve(env, authReq(http.MethodGet, "/job/job_0_nothing/status", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestQueueStats(t *testing.T) {
	env := setupHandler(t, testToken)
	env.queue.Submit(context.Background(), content.World, "")
	env.queue.Submit(context.Background(), content.World, "")

	rr := serve(env, authReq(http.MethodGet, "/queue/stats", "", testToken))
	var stats queue.Stats
	json.NewDecoder(rr.Body).Decode(&stats)
	if stats.Waiting != 2 || stats.Total != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBuildComplete(t *testing.T) {
	env := setupHandler(t, testToken)
	body := `{"jobId":"job_1_x","success":true,"data":{"type":"technology","result":"{\"name\":\"Orbital Forge\"}"}}`
	rr := serve(env, authReq(http.MethodPost, "/webhook/build-complete", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var resp WebhookResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !resp.Success || !resp.Result.Success || resp.Result.Entity == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Result.Entity.Name != "Orbital Forge" || !strings.HasPrefix(resp.Result.Entity.ID, "t_") {
		t.Errorf("entity = %+v", resp.Result.Entity)
	}
	if _, err := env.store.GetEntity(context.Background(), resp.Result.Entity.ID); err != nil {
		t.Errorf("entity not stored: %v", err)
	}
}

func TestBuildComplete_InvalidPayload(t *testing.T) {
	env := setupHandler(t, testToken)
	for _, body := range []string{
		`{"success":true}`,
		`{"jobId":"job_1"}`,
		`{"jobId":"job_1","success":"yes"}`,
	} {
		rr := serve(env, authReq(http.MethodPost, "/webhook/build-complete", body, testToken))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestBuildComplete_ReportedFailure(t *testing.T) {
	env := setupHandler(t, testToken)
	body := `{"jobId":"job_1","success":false,"error":"flow crashed"}`
	rr := serve(env, authReq(http.MethodPost, "/webhook/build-complete", body, testToken))
	var resp WebhookResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if rr.Code != http.StatusOK || resp.Result.Success || resp.Result.Error != "flow crashed" {
		t.Errorf("status = %d resp = %+v", rr.Code, resp)
	}
}

func TestUniverses(t *testing.T) {
	env := setupHandler(t, testToken)

	rr := serve(env, authReq(http.MethodPost, "/universes", `{"name":"Aster"}`, testToken))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	var u content.Universe
	json.NewDecoder(rr.Body).Decode(&u)
	if !strings.HasPrefix(u.ID, "u_") || u.Name != "Aster" {
		t.Fatalf("universe = %+v", u)
	}

	rr = serve(env, authReq(http.MethodGet, "/universes", "", testToken))
	var list listResponse[content.Universe]
	json.NewDecoder(rr.Body).Decode(&list)
	if !list.Success || list.Count != 1 || list.Data[0].ID != u.ID {
		t.Errorf("list = %+v", list)
	}

	rr = serve(env, authReq(http.MethodGet, "/universes/"+u.ID, "", testToken))
	if rr.Code != http.StatusOK {
		t.Errorf("get status = %d", rr.Code)
	}
	rr = serve(env, authReq(http.MethodGet, "/universes/u_missing", "", testToken))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}

	if rr := serve(env, authReq(http.MethodPost, "/universes", `{}`, testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", rr.Code)
	}
}

func TestEntities(t *testing.T) {
	env := setupHandler(t, testToken)
	ctx := context.Background()
	now := time.Now()
	env.store.CreateUniverse(ctx, content.Universe{ID: "u_1", Name: "Aster", CreatedAt: now})
	env.store.CreateEntity(ctx, content.Entity{ID: "w_1", Name: "Zanthar", Type: "World", UniverseID: "u_1", CreatedAt: now})
	env.store.CreateEntity(ctx, content.Entity{ID: "ch_1", Name: "Ilsa", Type: "Character", UniverseID: "u_1", CreatedAt: now})

	rr := serve(env, authReq(http.MethodGet, "/universes/u_1/entities?type=worlds", "", testToken))
	var list listResponse[content.Entity]
	json.NewDecoder(rr.Body).Decode(&list)
	if list.Count != 1 || list.Data[0].ID != "w_1" {
		t.Errorf("filtered list = %+v", list)
	}

	rr = serve(env, authReq(http.MethodGet, "/universes/u_1/entities", "", testToken))
	json.NewDecoder(rr.Body).Decode(&list)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	if rr := serve(env, authReq(http.MethodGet, "/universes/u_1/entities?type=ship", "", testToken)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rr.Code)
	}
	if rr := serve(env, authReq(http.MethodGet, "/universes/u_x/entities", "", testToken)); rr.Code != http.StatusNotFound {
		t.Errorf("unknown universe status = %d, want 404", rr.Code)
	}

	rr = serve(env, authReq(http.MethodGet, "/entities/ch_1", "", testToken))
	var e content.Entity
	json.NewDecoder(rr.Body).Decode(&e)
	if rr.Code != http.StatusOK || e.Name != "Ilsa" {
		t.Errorf("entity status = %d body = %+v", rr.Code, e)
	}
	if rr := serve(env, authReq(http.MethodGet, "/entities/nope", "", testToken)); rr.Code != http.StatusNotFound {
		t.Errorf("missing entity status = %d, want 404", rr.Code)
	}
}

func TestTestLangflow(t *testing.T) {
	env := setupHandler(t, testToken)
	rr := serve(env, authReq(http.MethodGet, "/test/langflow", "", testToken))
	var check LangflowCheck
	json.NewDecoder(rr.Body).Decode(&check)
	if !check.Success || check.Flows != 3 {
		t.Errorf("check = %+v", check)
	}

	h := NewHandler(Deps{Queue: env.queue, Graph: env.store, Langflow: &mockPinger{err: errors.New("refused")}})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/test/langflow", "", ""))
	json.NewDecoder(rr.Body).Decode(&check)
	if check.Success || check.Error != "refused" {
		t.Errorf("check = %+v", check)
	}
}
