package handler

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/blob"
	"github.com/secura/vault/internal/envelope"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/testutil"
	"golang.org/x/crypto/bcrypt"
)

type testResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testApp struct {
	app         *fiber.App
	db          *sql.DB
	storagePath string
	users       *repository.UserRepository
	recorder    *audit.Recorder
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, cfg, cleanup := testutil.SetupTest(t)

	keys, err := envelope.LoadKeyManager("")
	if err != nil {
		cleanup()
		t.Fatalf("key manager: %v", err)
	}
	cipher, err := envelope.NewCipher(keys, envelope.SuiteAESGCM)
	if err != nil {
		cleanup()
		t.Fatalf("cipher: %v", err)
	}
	blobs, err := blob.NewFileStore(cfg.StoragePath)
	if err != nil {
		cleanup()
		t.Fatalf("blob store: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	recorder := audit.NewRecorder(auditRepo, 64, 1)

	guard := service.NewLoginGuard(userRepo, service.NewMemoryCounterStore(), 5, 15*time.Minute)
	authSvc, err := service.NewAuthService(userRepo, guard, recorder, service.AuthOptions{
		JWTSecret:  "handler-test-secret",
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		cleanup()
		t.Fatalf("auth service: %v", err)
	}
	fileSvc := service.NewFileService(fileRepo, blobs, cipher, recorder, 1024*1024)
	shareSvc := service.NewShareService(repository.NewShareRepository(db), fileSvc, recorder)
	activitySvc := service.NewActivityService(auditRepo, fileRepo, userRepo)

	app := NewApp(AppOptions{
		MaxUploadBytes:     1024 * 1024,
		ShareDownloadLimit: 5,
		RateWindow:         time.Minute,
		MetricsEnabled:     true,
		MetricsToken:       "metrics-token",
	}, Services{
		DB:       db,
		Blobs:    blobs,
		Auth:     authSvc,
		Files:    fileSvc,
		Shares:   shareSvc,
		Activity: activitySvc,
		Guard:    guard,
	})

	t.Cleanup(func() {
		recorder.Stop()
		cleanup()
	})

	return &testApp{
		app:         app,
		storagePath: cfg.StoragePath,
		users:       userRepo,
		recorder:    recorder,
		db:          db,
	}
}

func (a *testApp) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func (a *testApp) json(t *testing.T, method, path, token string, payload interface{}) (int, testResponse) {
	t.Helper()

	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, raw := a.do(t, req)
	var parsed testResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal response: %v, body=%s", err, raw)
	}
	return resp.StatusCode, parsed
}

func (a *testApp) upload(t *testing.T, token, name string, content []byte) (int, testResponse) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, raw := a.do(t, req)
	var parsed testResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal response: %v, body=%s", err, raw)
	}
	return resp.StatusCode, parsed
}

func (a *testApp) get(t *testing.T, path, token string) (*http.Response, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return a.do(t, req)
}

type authData struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// register creates an account and returns its session token and user id.
func (a *testApp) register(t *testing.T, email string) (string, string) {
	t.Helper()
	status, resp := a.json(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "correct-horse",
	})
	if status != fiber.StatusCreated {
		t.Fatalf("register %s: status %d, error %q", email, status, resp.Error)
	}
	var data authData
	decodeData(t, resp, &data)
	return data.Token, data.User.ID
}

func decodeData(t *testing.T, resp testResponse, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Data, out); err != nil {
		t.Fatalf("decode data: %v, data=%s", err, resp.Data)
	}
}
