package unit

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/toolvault/download-gateway/internal/adapters/audit"
	"github.com/toolvault/download-gateway/internal/adapters/catalog"
	"github.com/toolvault/download-gateway/internal/adapters/memory"
	"github.com/toolvault/download-gateway/internal/application"
	"github.com/toolvault/download-gateway/internal/domain"
)

const toolContent = "fake installer payload for unit tests"

type fixture struct {
	service *application.Service
	gate    *memory.ConcurrencyGate
	root    string
	logPath string

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "win10-setup.exe"), []byte(toolContent), 0o644); err != nil {
		t.Fatalf("write tool file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "diskcheck.zip"), []byte("zip payload"), 0o644); err != nil {
		t.Fatalf("write tool file: %v", err)
	}

	f := &fixture{
		gate:    memory.NewConcurrencyGate(maxConcurrent),
		root:    root,
		logPath: filepath.Join(root, "downloads.log"),
		now:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	entries := []domain.CatalogEntry{
		{ID: "win10", Path: "win10-setup.exe", DisplayName: "Win10 Setup Utility"},
		{ID: "diskcheck", Path: "diskcheck.zip", DisplayName: "Disk Integrity Checker"},
		{ID: "ghost", Path: "missing.zip", DisplayName: "Removed Tool"},
	}

	f.service = application.NewService(application.Dependencies{
		Config: application.Config{
			ToolsRoot:       root,
			TokenTTL:        5 * time.Minute,
			ChunkSize:       8 * 1024,
			DigestAlgorithm: "md5",
		},
		Catalog:   catalog.NewStaticCatalog(entries),
		Tokens:    memory.NewTokenStore(),
		RateLimit: memory.NewRateLimiter(time.Minute).WithClock(f.clock),
		Gate:      f.gate,
		Digests:   memory.NewDigestCache(),
		Audit:     audit.NewFileSink(f.logPath),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}).WithClock(f.clock)

	return f
}

func (f *fixture) issue(t *testing.T, sessionID, toolID string) string {
	t.Helper()
	grant, err := f.service.RequestDownload(context.Background(), sessionID, toolID)
	if err != nil {
		t.Fatalf("request download failed: %v", err)
	}
	return grant.Token
}

func TestRequestAndFetchFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	grant, err := f.service.RequestDownload(ctx, "sess-1", "win10")
	if err != nil {
		t.Fatalf("request download failed: %v", err)
	}
	if len(grant.Token) != 64 {
		t.Fatalf("expected 64-char hex token, got %d chars", len(grant.Token))
	}
	if grant.ExpiresIn != 300 {
		t.Fatalf("expected 300s expiry, got %d", grant.ExpiresIn)
	}

	transfer, err := f.service.Fetch(ctx, application.FetchRequest{
		SessionID: "sess-1",
		Token:     grant.Token,
		ToolID:    "win10",
		IPAddress: "198.51.100.7",
		UserAgent: "unit-test",
	})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if transfer.Filename != "win10-setup.exe" {
		t.Fatalf("unexpected filename %q", transfer.Filename)
	}
	if transfer.Size != int64(len(toolContent)) {
		t.Fatalf("expected size %d, got %d", len(toolContent), transfer.Size)
	}
	if transfer.ContentType != "application/octet-stream" {
		t.Fatalf("unexpected content type %q", transfer.ContentType)
	}
	sum := md5.Sum([]byte(toolContent))
	if transfer.Digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest mismatch: got %q", transfer.Digest)
	}

	var body bytes.Buffer
	if err := transfer.Stream(ctx, &body); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	if body.String() != toolContent {
		t.Fatalf("streamed body does not match file content")
	}
	if got := f.gate.Active(); got != 0 {
		t.Fatalf("expected slot released after stream, active=%d", got)
	}

	raw, err := os.ReadFile(f.logPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry struct {
		Timestamp int64  `json:"timestamp"`
		ToolID    string `json:"tool_id"`
		FileSize  int64  `json:"file_size"`
		IP        string `json:"ip"`
		UserAgent string `json:"user_agent"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("parse audit line: %v", err)
	}
	if entry.ToolID != "win10" || entry.FileSize != int64(len(toolContent)) {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.IP != "198.51.100.7" || entry.UserAgent != "unit-test" {
		t.Fatalf("audit entry missing client fields: %+v", entry)
	}
	if entry.Timestamp != f.clock().Unix() {
		t.Fatalf("expected unix-second timestamp %d, got %d", f.clock().Unix(), entry.Timestamp)
	}
}

func TestTokenIsSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()
	token := f.issue(t, "sess-1", "win10")

	req := application.FetchRequest{SessionID: "sess-1", Token: token, ToolID: "win10"}
	transfer, err := f.service.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	transfer.Abort(ctx)

	if _, err := f.service.Fetch(ctx, req); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on second redemption, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	token := f.issue(t, "sess-1", "win10")
	f.advance(5*time.Minute - time.Second)
	transfer, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: token, ToolID: "win10"})
	if err != nil {
		t.Fatalf("fetch inside validity window failed: %v", err)
	}
	transfer.Abort(ctx)

	token = f.issue(t, "sess-2", "win10")
	f.advance(5*time.Minute + time.Second)
	_, err = f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-2", Token: token, ToolID: "win10"})
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired past validity window, got %v", err)
	}
}

func TestTokenBoundToSessionAndTool(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	token := f.issue(t, "sess-1", "win10")
	if _, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-other", Token: token, ToolID: "win10"}); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for foreign session, got %v", err)
	}

	// The foreign-session attempt must not have consumed the token.
	if _, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: token, ToolID: "diskcheck"}); !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch for wrong tool, got %v", err)
	}
}

func TestNewTokenReplacesOldOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	first := f.issue(t, "sess-1", "win10")
	f.advance(61 * time.Second)
	second := f.issue(t, "sess-1", "win10")

	if _, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: first, ToolID: "win10"}); !errors.Is(err, domain.ErrTokenMismatch) {
		t.Fatalf("expected superseded token to be rejected, got %v", err)
	}
	transfer, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: second, ToolID: "win10"})
	if err != nil {
		t.Fatalf("fetch with replacement token failed: %v", err)
	}
	transfer.Abort(ctx)
}

func TestRequestCooldown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	f.issue(t, "sess-1", "win10")
	f.advance(10 * time.Second)

	_, err := f.service.RequestDownload(ctx, "sess-1", "win10")
	var rateErr *domain.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("rate limit error should unwrap to ErrRateLimited")
	}
	if s := rateErr.RetrySeconds(); s <= 0 || s > 60 {
		t.Fatalf("expected retry between 1 and 60 seconds, got %d", s)
	}

	// Other sessions are unaffected by sess-1's cooldown.
	if _, err := f.service.RequestDownload(ctx, "sess-2", "win10"); err != nil {
		t.Fatalf("independent session hit cooldown: %v", err)
	}

	f.advance(51 * time.Second)
	if _, err := f.service.RequestDownload(ctx, "sess-1", "win10"); err != nil {
		t.Fatalf("request after cooldown window failed: %v", err)
	}
}

func TestUnknownToolRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	if _, err := f.service.RequestDownload(context.Background(), "sess-1", "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown tool, got %v", err)
	}
}

func TestMissingFileRejectedAtRedemption(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	token := f.issue(t, "sess-1", "ghost")
	_, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: token, ToolID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing file, got %v", err)
	}
	if got := f.gate.Active(); got != 0 {
		t.Fatalf("missing file must not hold a slot, active=%d", got)
	}
}

func TestConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2)
	ctx := context.Background()

	fetchFor := func(session string) (*application.Transfer, error) {
		token := f.issue(t, session, "win10")
		return f.service.Fetch(ctx, application.FetchRequest{SessionID: session, Token: token, ToolID: "win10"})
	}

	first, err := fetchFor("sess-1")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	second, err := fetchFor("sess-2")
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if _, err := fetchFor("sess-3"); !errors.Is(err, domain.ErrTooBusy) {
		t.Fatalf("expected ErrTooBusy at the ceiling, got %v", err)
	}

	// Releasing one slot admits one more.
	first.Abort(ctx)
	third, err := fetchFor("sess-4")
	if err != nil {
		t.Fatalf("fetch after release failed: %v", err)
	}

	second.Abort(ctx)
	third.Abort(ctx)
	if got := f.gate.Active(); got != 0 {
		t.Fatalf("expected all slots released, active=%d", got)
	}
}

type failingWriter struct {
	allow int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.allow <= 0 {
		return 0, errors.New("client went away")
	}
	w.allow--
	return len(p), nil
}

func TestSlotReleasedOnMidStreamFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	ctx := context.Background()

	token := f.issue(t, "sess-1", "win10")
	transfer, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: token, ToolID: "win10"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	if err := transfer.Stream(ctx, &failingWriter{}); err == nil {
		t.Fatalf("expected stream error on write failure")
	}
	if got := f.gate.Active(); got != 0 {
		t.Fatalf("expected slot released after write failure, active=%d", got)
	}
}

func TestDigestTracksFileChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5)
	ctx := context.Background()

	fetchDigest := func(session string) string {
		token := f.issue(t, session, "win10")
		transfer, err := f.service.Fetch(ctx, application.FetchRequest{SessionID: session, Token: token, ToolID: "win10"})
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		transfer.Abort(ctx)
		return transfer.Digest
	}

	before := fetchDigest("sess-1")
	if again := fetchDigest("sess-2"); again != before {
		t.Fatalf("digest not stable for unchanged file: %q vs %q", before, again)
	}

	path := filepath.Join(f.root, "win10-setup.exe")
	updated := []byte("rebuilt installer payload")
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		t.Fatalf("rewrite tool file: %v", err)
	}
	// Force a distinct mtime so the cache key rolls over even on coarse
	// filesystem clocks.
	if err := os.Chtimes(path, time.Now(), time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("bump mtime: %v", err)
	}

	after := fetchDigest("sess-3")
	sum := md5.Sum(updated)
	if after != hex.EncodeToString(sum[:]) {
		t.Fatalf("digest did not track file change: got %q", after)
	}
	if after == before {
		t.Fatalf("digest unchanged after file edit")
	}
}

func TestBlake2bDigestOption(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "tool.zip"), []byte(toolContent), 0o644); err != nil {
		t.Fatalf("write tool file: %v", err)
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{ToolsRoot: root, DigestAlgorithm: "blake2b"},
		Catalog: catalog.NewStaticCatalog([]domain.CatalogEntry{
			{ID: "tool", Path: "tool.zip", DisplayName: "Tool"},
		}),
		Tokens:    memory.NewTokenStore(),
		RateLimit: memory.NewRateLimiter(time.Minute),
		Gate:      memory.NewConcurrencyGate(5),
		Digests:   memory.NewDigestCache(),
		Audit:     audit.NewFileSink(filepath.Join(root, "downloads.log")),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	grant, err := svc.RequestDownload(ctx, "sess-1", "tool")
	if err != nil {
		t.Fatalf("request download failed: %v", err)
	}
	transfer, err := svc.Fetch(ctx, application.FetchRequest{SessionID: "sess-1", Token: grant.Token, ToolID: "tool"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	transfer.Abort(ctx)

	// blake2b-256 digests are 32 bytes, twice the md5 hex length.
	if len(transfer.Digest) != 64 {
		t.Fatalf("expected 64-char blake2b digest, got %d chars", len(transfer.Digest))
	}
}
