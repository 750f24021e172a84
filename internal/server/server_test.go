package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"civitrack/internal/config"
	"civitrack/internal/db"
	"civitrack/internal/domain"
	"civitrack/internal/engine"
	"civitrack/internal/evidence"
	"civitrack/internal/migrate"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := evidence.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("evidence store: %v", err)
	}
	e := engine.New(conn, config.Default(), store)
	ctx := context.Background()
	for _, s := range []domain.Staff{
		{ID: "admin-1", Name: "Pat Lee", Position: "Admin"},
		{ID: "crew-1", Name: "Sam Ortiz", Position: "Inspector"},
	} {
		if err := e.Repo.InsertStaff(ctx, s); err != nil {
			t.Fatalf("seed staff: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "admin-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func submitAndAssign(t *testing.T, srv *testServer) (domain.Report, domain.WorkOrder) {
	t.Helper()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reports", map[string]any{
		"classification": "pothole",
		"location":       "Elm St 12",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit report: %d %s", res.StatusCode, string(data))
	}
	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/work-orders", map[string]any{
		"report_id":   report.ID,
		"assignee_id": "crew-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order: %d %s", res.StatusCode, string(data))
	}
	var order domain.WorkOrder
	if err := json.Unmarshal(data, &order); err != nil {
		t.Fatalf("unmarshal work order: %v", err)
	}
	return report, order
}

func TestWorkOrderLifecycleFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	report, order := submitAndAssign(t, srv)
	if order.Status != domain.StatusSubmitted {
		t.Fatalf("expected Submitted, got %s", order.Status)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/work-orders/"+order.ID, map[string]any{
		"status": domain.StatusAccepted,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/"+report.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get report: %d %s", res.StatusCode, string(data))
	}
	var mirrored domain.Report
	_ = json.Unmarshal(data, &mirrored)
	if mirrored.Status != domain.StatusAccepted {
		t.Fatalf("report should mirror Accepted, got %s", mirrored.Status)
	}

	// Terminal transition without evidence is a 422.
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/work-orders/"+order.ID, map[string]any{
		"status": domain.StatusCompleted,
	}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "missing_evidence" {
		t.Fatalf("expected missing_evidence, got %s", envelope.Error.Code)
	}
}

func TestEvidenceUploadAndDownload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, order := submitAndAssign(t, srv)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("document", "inspection.pdf")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("inspection findings")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.WriteField("status", domain.StatusCompleted)
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/work-orders/"+order.ID+"/evidence", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Actor-Id", "admin-1")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}
	var updated domain.WorkOrder
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("expected Completed, got %s", updated.Status)
	}
	if updated.EvidenceOriginalName == nil || *updated.EvidenceOriginalName != "inspection.pdf" {
		t.Fatalf("original name missing: %+v", updated.EvidenceOriginalName)
	}

	dlReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/work-orders/"+order.ID+"/evidence", nil)
	dlReq.Header.Set("X-Actor-Id", "admin-1")
	dl, err := client.Do(dlReq)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	content, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dl.StatusCode)
	}
	if string(content) != "inspection findings" {
		t.Fatalf("unexpected content %q", string(content))
	}
	if got := dl.Header.Get("Content-Disposition"); got != `attachment; filename="inspection.pdf"` {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestTerminalConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	_, order := submitAndAssign(t, srv)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("document", "done.txt")
	_, _ = part.Write([]byte("done"))
	_ = mw.WriteField("status", domain.StatusRejected)
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/work-orders/"+order.ID+"/evidence", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Actor-Id", "admin-1")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d", res.StatusCode)
	}

	patchRes, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/work-orders/"+order.ID, map[string]any{
		"status": domain.StatusInProgress,
	}, nil)
	if patchRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", patchRes.StatusCode, string(data))
	}
}

func TestNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/work-orders/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/work-orders", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/work-orders", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestAuditPurgeRequiresPosition(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	submitAndAssign(t, srv)

	before := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/audit-entries/purge", map[string]any{
		"before": before,
	}, map[string]string{"X-Actor-Id": "crew-1"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("inspector purge should be 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/audit-entries/purge", map[string]any{
		"before": before,
	}, map[string]string{"X-Actor-Id": "ghost"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("unknown actor purge should be 403, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/audit-entries/purge", map[string]any{
		"before": before,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin purge: %d %s", res.StatusCode, string(data))
	}
	var out PurgeAuditResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Deleted == 0 {
		t.Fatalf("expected purged entries")
	}

	listRes, listData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/audit-entries", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", listRes.StatusCode)
	}
	var page PaginatedAuditEntries
	_ = json.Unmarshal(listData, &page)
	if len(page.Items) != 0 {
		t.Fatalf("expected empty trail after purge, got %d", len(page.Items))
	}
}

func TestStatusCounts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	submitAndAssign(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/reports/status-counts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("counts: %d %s", res.StatusCode, string(data))
	}
	var out StatusCountsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Counts[domain.StatusSubmitted] != 1 {
		t.Fatalf("expected 1 Submitted, got %+v", out.Counts)
	}
	if _, ok := out.Counts[domain.StatusCompleted]; !ok {
		t.Fatalf("all statuses must appear, got %+v", out.Counts)
	}
}
