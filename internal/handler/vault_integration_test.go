package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/secura/vault/internal/models"
	"github.com/secura/vault/internal/repository"
)

type fileData struct {
	ID        string `json:"id"`
	LogicalID string `json:"logical_id"`
	Version   int    `json:"version"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

type shareData struct {
	Token     string     `json:"token"`
	Path      string     `json:"path"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func TestVault_UploadDownloadAndVersions(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "alice@example.com")

	status, resp := a.upload(t, token, "notes.txt", []byte("first draft"))
	if status != fiber.StatusCreated {
		t.Fatalf("upload: status %d, error %q", status, resp.Error)
	}
	var v1 fileData
	decodeData(t, resp, &v1)
	if v1.Version != 1 || len(v1.Checksum) != 64 {
		t.Fatalf("unexpected first version %+v", v1)
	}

	_, resp = a.upload(t, token, "notes.txt", []byte("second draft"))
	var v2 fileData
	decodeData(t, resp, &v2)
	if v2.Version != 2 || v2.LogicalID != v1.LogicalID {
		t.Fatalf("expected version 2 of the same logical file, got %+v", v2)
	}

	httpResp, body := a.get(t, "/api/v1/files/"+v1.ID+"/download", token)
	if httpResp.StatusCode != fiber.StatusOK {
		t.Fatalf("download: status %d", httpResp.StatusCode)
	}
	if string(body) != "first draft" {
		t.Fatalf("unexpected body %q", body)
	}
	if cd := httpResp.Header.Get(fiber.HeaderContentDisposition); !strings.Contains(cd, `filename="notes.txt"`) {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if httpResp.Header.Get("X-Checksum-Sha256") != v1.Checksum {
		t.Fatal("checksum header mismatch")
	}

	status, resp = a.json(t, http.MethodGet, "/api/v1/files/"+v2.ID+"/versions", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("versions: status %d", status)
	}
	var versions []fileData
	decodeData(t, resp, &versions)
	if len(versions) != 2 || versions[0].Version != 2 {
		t.Fatalf("unexpected versions %+v", versions)
	}

	status, resp = a.json(t, http.MethodGet, "/api/v1/files", token, nil)
	var list []fileData
	decodeData(t, resp, &list)
	if status != fiber.StatusOK || len(list) != 2 {
		t.Fatalf("list: status %d, %d files", status, len(list))
	}
}

func TestVault_RequiresAuthentication(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/api/v1/files", "/api/v1/activity", "/api/v1/auth/me"} {
		status, _ := a.json(t, http.MethodGet, path, "", nil)
		if status != fiber.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, status)
		}
		status, _ = a.json(t, http.MethodGet, path, "not-a-jwt", nil)
		if status != fiber.StatusUnauthorized {
			t.Fatalf("%s with bad token: expected 401, got %d", path, status)
		}
	}
}

func TestVault_CrossOwnerAccessIsNotFound(t *testing.T) {
	a := newTestApp(t)
	alice, _ := a.register(t, "alice@example.com")
	bob, _ := a.register(t, "bob@example.com")

	_, resp := a.upload(t, alice, "private.txt", []byte("alice only"))
	var file fileData
	decodeData(t, resp, &file)

	for _, path := range []string{
		"/api/v1/files/" + file.ID,
		"/api/v1/files/" + file.ID + "/download",
		"/api/v1/files/" + file.ID + "/versions",
		"/api/v1/files/" + file.ID + "/shares",
	} {
		status, _ := a.json(t, http.MethodGet, path, bob, nil)
		if status != fiber.StatusNotFound {
			t.Fatalf("%s as bob: expected 404, got %d", path, status)
		}
	}

	status, _ := a.json(t, http.MethodPost, "/api/v1/files/"+file.ID+"/shares", bob, map[string]int{"ttl_minutes": 5})
	if status != fiber.StatusNotFound {
		t.Fatalf("share as bob: expected 404, got %d", status)
	}
}

func TestVault_TamperedFileIsConflict(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "alice@example.com")

	_, resp := a.upload(t, token, "ledger.csv", []byte("a,b,c\n1,2,3\n"))
	var file fileData
	decodeData(t, resp, &file)

	var blobRef string
	if err := a.db.QueryRow(`SELECT blob_ref FROM files WHERE id = ?`, file.ID).Scan(&blobRef); err != nil {
		t.Fatalf("lookup blob ref: %v", err)
	}
	path := filepath.Join(a.storagePath, blobRef+".bin")
	sealed, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	status, errResp := a.json(t, http.MethodGet, "/api/v1/files/"+file.ID+"/download", token, nil)
	if status != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", status)
	}
	if errResp.Code != "integrity_error" {
		t.Fatalf("expected integrity_error code, got %q", errResp.Code)
	}
}

func TestVault_ShareLifecycle(t *testing.T) {
	a := newTestApp(t)
	alice, _ := a.register(t, "alice@example.com")
	bob, _ := a.register(t, "bob@example.com")

	_, resp := a.upload(t, alice, "photo.txt", []byte("shared bytes"))
	var file fileData
	decodeData(t, resp, &file)

	status, resp := a.json(t, http.MethodPost, "/api/v1/files/"+file.ID+"/shares", alice, map[string]int{"ttl_minutes": 30})
	if status != fiber.StatusCreated {
		t.Fatalf("create share: status %d, error %q", status, resp.Error)
	}
	var share shareData
	decodeData(t, resp, &share)
	if share.ExpiresAt == nil || share.Path != SharePathPrefix+share.Token {
		t.Fatalf("unexpected share %+v", share)
	}

	// Public download needs no token.
	httpResp, body := a.get(t, share.Path, "")
	if httpResp.StatusCode != fiber.StatusOK || string(body) != "shared bytes" {
		t.Fatalf("public download: status %d body %q", httpResp.StatusCode, body)
	}

	status, resp = a.json(t, http.MethodGet, "/api/v1/files/"+file.ID+"/shares", alice, nil)
	var links []shareData
	decodeData(t, resp, &links)
	if status != fiber.StatusOK || len(links) != 1 {
		t.Fatalf("list shares: status %d, %d links", status, len(links))
	}

	status, _ = a.json(t, http.MethodDelete, "/api/v1/shares/"+share.Token, bob, nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("revoke as bob: expected 403, got %d", status)
	}
	status, _ = a.json(t, http.MethodDelete, "/api/v1/shares/"+share.Token, alice, nil)
	if status != fiber.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", status)
	}

	status, _ = a.json(t, http.MethodGet, share.Path, "", nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("download after revoke: expected 404, got %d", status)
	}
	status, _ = a.json(t, http.MethodDelete, "/api/v1/shares/unknown-token", alice, nil)
	if status != fiber.StatusNotFound {
		t.Fatalf("revoke unknown: expected 404, got %d", status)
	}
}

func TestVault_ExpiredShareIsGone(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "alice@example.com")

	_, resp := a.upload(t, token, "brief.txt", []byte("short lived"))
	var file fileData
	decodeData(t, resp, &file)

	_, resp = a.json(t, http.MethodPost, "/api/v1/files/"+file.ID+"/shares", token, map[string]int{"ttl_minutes": 1})
	var share shareData
	decodeData(t, resp, &share)

	past := time.Now().Add(-time.Minute).UnixMilli()
	if _, err := a.db.Exec(`UPDATE share_links SET expires_at = ? WHERE token = ?`, past, share.Token); err != nil {
		t.Fatalf("expire share: %v", err)
	}

	status, _ := a.json(t, http.MethodGet, share.Path, "", nil)
	if status != fiber.StatusGone {
		t.Fatalf("expected 410, got %d", status)
	}

	// The hourly purge removes the row but the link still reads as expired.
	if _, err := repository.NewShareRepository(a.db).DeleteExpired(context.Background(), time.Now()); err != nil {
		t.Fatalf("purge: %v", err)
	}
	status, _ = a.json(t, http.MethodGet, share.Path, "", nil)
	if status != fiber.StatusGone {
		t.Fatalf("after purge: expected 410, got %d", status)
	}
}

func TestVault_ShareWithoutBodyNeverExpires(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "alice@example.com")

	_, resp := a.upload(t, token, "a.txt", []byte("x"))
	var file fileData
	decodeData(t, resp, &file)

	status, resp := a.json(t, http.MethodPost, "/api/v1/files/"+file.ID+"/shares", token, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("create share: status %d, error %q", status, resp.Error)
	}
	var share shareData
	decodeData(t, resp, &share)
	if share.ExpiresAt != nil {
		t.Fatalf("expected no expiry, got %v", share.ExpiresAt)
	}
}

func TestVault_ShareDownloadRateLimited(t *testing.T) {
	a := newTestApp(t)

	// The limiter runs before the token lookup, so unknown tokens count too.
	for i := 0; i < 5; i++ {
		status, _ := a.json(t, http.MethodGet, SharePathPrefix+"missing", "", nil)
		if status != fiber.StatusNotFound {
			t.Fatalf("request %d: expected 404, got %d", i, status)
		}
	}
	status, _ := a.json(t, http.MethodGet, SharePathPrefix+"missing", "", nil)
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
}

func TestVault_InvalidShareTTLIsBadRequest(t *testing.T) {
	a := newTestApp(t)
	token, _ := a.register(t, "alice@example.com")

	_, resp := a.upload(t, token, "a.txt", []byte("x"))
	var file fileData
	decodeData(t, resp, &file)

	status, errResp := a.json(t, http.MethodPost, "/api/v1/files/"+file.ID+"/shares", token, map[string]int{"ttl_minutes": 10_000_000})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if !strings.Contains(errResp.Error, "ttl") {
		t.Fatalf("expected ttl message, got %q", errResp.Error)
	}
}

func TestVault_LoginLockout(t *testing.T) {
	a := newTestApp(t)
	a.register(t, "alice@example.com")

	login := func(password string) (int, testResponse) {
		return a.json(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": password,
		})
	}

	for i := 0; i < 4; i++ {
		if status, _ := login("wrong-password"); status != fiber.StatusUnauthorized {
			t.Fatalf("failure %d: expected 401, got %d", i+1, status)
		}
	}

	status, resp := login("wrong-password")
	if status != fiber.StatusLocked || resp.Code != "account_locked" {
		t.Fatalf("fifth failure: expected 423 account_locked, got %d %q", status, resp.Code)
	}
	var details struct {
		RetryAfterMinutes int `json:"retry_after_minutes"`
	}
	decodeData(t, resp, &details)
	if details.RetryAfterMinutes != 15 {
		t.Fatalf("expected 15 minutes, got %d", details.RetryAfterMinutes)
	}

	if status, _ := login("correct-horse"); status != fiber.StatusLocked {
		t.Fatalf("correct password while locked: expected 423, got %d", status)
	}
}

func TestVault_LockoutLooksTheSameForUnknownEmails(t *testing.T) {
	a := newTestApp(t)
	a.register(t, "alice@example.com")

	statuses := func(email string) []int {
		var out []int
		for i := 0; i < 5; i++ {
			status, _ := a.json(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
				"email":    email,
				"password": "wrong-password",
			})
			out = append(out, status)
		}
		return out
	}

	known := statuses("alice@example.com")
	unknown := statuses("nobody@example.com")
	want := []int{401, 401, 401, 401, 423}
	if fmt.Sprint(known) != fmt.Sprint(want) {
		t.Fatalf("known account: expected %v, got %v", want, known)
	}
	if fmt.Sprint(unknown) != fmt.Sprint(known) {
		t.Fatalf("unknown email: expected %v like a real account, got %v", known, unknown)
	}
}

func TestVault_RegisterValidationAndConflict(t *testing.T) {
	a := newTestApp(t)
	a.register(t, "alice@example.com")

	status, _ := a.json(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "correct-horse",
	})
	if status != fiber.StatusConflict {
		t.Fatalf("duplicate email: expected 409, got %d", status)
	}

	status, _ = a.json(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "bob@example.com", "password": "short",
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", status)
	}

	status, _ = a.json(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "bob@example.com"})
	if status != fiber.StatusBadRequest {
		t.Fatalf("missing password: expected 400, got %d", status)
	}
}

func TestVault_RegisterRateLimited(t *testing.T) {
	a := newTestApp(t)

	// Every test request comes from the same client address.
	for i := 0; i < 8; i++ {
		a.register(t, fmt.Sprintf("user%d@example.com", i))
	}
	status, _ := a.json(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": "late@example.com", "password": "correct-horse",
	})
	if status != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", status)
	}
}

func TestVault_MeAndActivity(t *testing.T) {
	a := newTestApp(t)
	token, userID := a.register(t, "alice@example.com")
	a.upload(t, token, "a.txt", []byte("x"))

	status, resp := a.json(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	var me struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	decodeData(t, resp, &me)
	if status != fiber.StatusOK || me.ID != userID || me.Role != string(models.RoleUser) {
		t.Fatalf("me: status %d, %+v", status, me)
	}

	// Drain the recorder so the events are persisted before reading them.
	a.recorder.Stop()

	status, resp = a.json(t, http.MethodGet, "/api/v1/activity", token, nil)
	var events []struct {
		Action string `json:"action"`
	}
	decodeData(t, resp, &events)
	if status != fiber.StatusOK || len(events) != 2 {
		t.Fatalf("activity: status %d, %d events", status, len(events))
	}
	if events[0].Action != "UPLOAD_FILE" || events[1].Action != "REGISTER" {
		t.Fatalf("unexpected events %+v", events)
	}

	status, resp = a.json(t, http.MethodGet, "/api/v1/activity/summary", token, nil)
	var summary struct {
		UploadsLast7 int `json:"uploads_last7"`
		FilesTotal   int `json:"files_total"`
	}
	decodeData(t, resp, &summary)
	if status != fiber.StatusOK || summary.UploadsLast7 != 1 || summary.FilesTotal != 1 {
		t.Fatalf("summary: status %d, %+v", status, summary)
	}

	status, _ = a.json(t, http.MethodGet, "/api/v1/activity?limit=-1", token, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("negative limit: expected 400, got %d", status)
	}
}

func TestVault_AdminRoutes(t *testing.T) {
	a := newTestApp(t)
	userToken, _ := a.register(t, "user@example.com")
	_, adminID := a.register(t, "admin@example.com")

	status, _ := a.json(t, http.MethodGet, "/api/v1/admin/users", userToken, nil)
	if status != fiber.StatusForbidden {
		t.Fatalf("admin route as user: expected 403, got %d", status)
	}

	if err := a.users.SetRole(context.Background(), adminID, models.RoleAdmin); err != nil {
		t.Fatalf("promote: %v", err)
	}
	// The role is carried in the token, so a fresh login picks it up.
	status, resp := a.json(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "admin@example.com", "password": "correct-horse",
	})
	if status != fiber.StatusOK {
		t.Fatalf("admin login: status %d", status)
	}
	var login authData
	decodeData(t, resp, &login)

	for _, path := range []string{"/api/v1/admin/users", "/api/v1/admin/audit", "/api/v1/admin/stats"} {
		status, _ := a.json(t, http.MethodGet, path, login.Token, nil)
		if status != fiber.StatusOK {
			t.Fatalf("%s as admin: expected 200, got %d", path, status)
		}
	}
	status, _ = a.json(t, http.MethodPost, "/api/v1/admin/cleanup", login.Token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("cleanup as admin: expected 200, got %d", status)
	}
}

func TestVault_HealthAndMetrics(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, body := a.get(t, path, "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%s", path, resp.StatusCode, body)
		}
	}

	resp, _ := a.get(t, "/metrics", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("metrics without token: expected 401, got %d", resp.StatusCode)
	}
	resp, body := a.get(t, "/metrics", "metrics-token")
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "vault_http_requests_total") {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
}
