package application

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/toolvault/download-gateway/internal/domain"
	"github.com/toolvault/download-gateway/internal/ports"
)

// tokenBytes is the entropy of a download token before hex encoding.
const tokenBytes = 32

type Service struct {
	cfg       Config
	catalog   ports.Catalog
	tokens    ports.TokenStore
	rateLimit ports.RateLimiter
	gate      ports.ConcurrencyGate
	digests   ports.DigestCache
	audit     ports.AuditSink
	auditRepo ports.AuditRepository
	metrics   ports.Metrics
	logger    *slog.Logger
	nowFn     func() time.Time
}

type Dependencies struct {
	Config    Config
	Catalog   ports.Catalog
	Tokens    ports.TokenStore
	RateLimit ports.RateLimiter
	Gate      ports.ConcurrencyGate
	Digests   ports.DigestCache
	Audit     ports.AuditSink
	// AuditRepo is optional; when nil the durable audit trail is disabled
	// and only the append-only file sink is written.
	AuditRepo ports.AuditRepository
	Metrics   ports.Metrics
	Logger    *slog.Logger
}

func NewService(deps Dependencies) *Service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 8 * 1024
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	return &Service{
		cfg:       cfg,
		catalog:   deps.Catalog,
		tokens:    deps.Tokens,
		rateLimit: deps.RateLimit,
		gate:      deps.Gate,
		digests:   deps.Digests,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		metrics:   metrics,
		logger:    logger.With("module", "application", "layer", "service"),
		nowFn:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(nowFn func() time.Time) *Service {
	s.nowFn = nowFn
	return s
}

// RequestDownload is phase one: validate the tool, apply the cooldown and
// issue a session-bound single-use token. Issuing a new token overwrites
// any prior live token for the session.
func (s *Service) RequestDownload(ctx context.Context, sessionID, toolID string) (TokenGrant, error) {
	toolID = strings.TrimSpace(toolID)
	if sessionID == "" || toolID == "" {
		return TokenGrant{}, fmt.Errorf("%w: missing tool id", domain.ErrInvalidInput)
	}

	if _, err := s.catalog.Resolve(ctx, toolID); err != nil {
		return TokenGrant{}, err
	}

	wait, err := s.rateLimit.CheckAndRecord(ctx, sessionID)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("%w: rate limiter: %v", domain.ErrUnavailable, err)
	}
	if wait > 0 {
		s.metrics.RequestRejected("cooldown")
		return TokenGrant{}, &domain.RateLimitError{RetryAfter: wait}
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return TokenGrant{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.nowFn()
	token := domain.DownloadToken{
		Token:     hex.EncodeToString(raw),
		ToolID:    toolID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	if err := s.tokens.Put(ctx, token); err != nil {
		return TokenGrant{}, fmt.Errorf("%w: token store: %v", domain.ErrUnavailable, err)
	}

	s.metrics.TokenIssued()
	s.logger.InfoContext(ctx, "download token issued",
		"operation", "request_download",
		"outcome", "success",
		"tool_id", toolID,
		"ttl_seconds", int64(s.cfg.TokenTTL.Seconds()),
	)
	return TokenGrant{Token: token.Token, ExpiresIn: int64(s.cfg.TokenTTL.Seconds())}, nil
}

// Fetch is phase two: redeem the token, re-check the file on disk, claim a
// concurrency slot and prepare the transfer. The returned Transfer owns the
// slot and the open file handle; callers must Stream it or Abort it.
func (s *Service) Fetch(ctx context.Context, req FetchRequest) (*Transfer, error) {
	if req.SessionID == "" || req.Token == "" || req.ToolID == "" {
		return nil, fmt.Errorf("%w: missing token or tool id", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	// The token is consumed here, before the gate. A redemption that loses
	// the concurrency race does not get a free retry against the budget;
	// the client must request a fresh token.
	if err := s.tokens.Redeem(ctx, req.SessionID, req.Token, req.ToolID, now); err != nil {
		s.metrics.RequestRejected("token")
		return nil, err
	}

	entry, err := s.catalog.Resolve(ctx, req.ToolID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.cfg.ToolsRoot, filepath.FromSlash(entry.Path))
	// Resources can disappear between catalog load and redemption; trust the
	// disk, not catalog metadata.
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return nil, fmt.Errorf("%w: file missing for tool %s", domain.ErrNotFound, req.ToolID)
	}

	ok, err := s.gate.TryAcquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: concurrency gate: %v", domain.ErrUnavailable, err)
	}
	if !ok {
		s.metrics.RequestRejected("busy")
		return nil, domain.ErrTooBusy
	}

	transfer, err := s.prepareTransfer(ctx, entry, path, fi, req, now)
	if err != nil {
		if relErr := s.gate.Release(ctx); relErr != nil {
			s.logger.ErrorContext(ctx, "slot release failed",
				"operation", "fetch", "outcome", "failure", "error", relErr)
		}
		return nil, err
	}
	return transfer, nil
}

func (s *Service) prepareTransfer(ctx context.Context, entry domain.CatalogEntry, path string, fi os.FileInfo, req FetchRequest, now time.Time) (*Transfer, error) {
	digest, err := s.fileDigest(ctx, path, fi)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnreadable, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnreadable, err)
	}

	auditEntry := domain.AuditEntry{
		Timestamp: now,
		ToolID:    entry.ID,
		FileSize:  fi.Size(),
		IP:        req.IPAddress,
		UserAgent: req.UserAgent,
	}
	if err := s.audit.Record(ctx, auditEntry); err != nil {
		s.metrics.AuditWriteFailed()
		s.logger.ErrorContext(ctx, "audit sink write failed",
			"operation", "audit_record", "outcome", "failure",
			"tool_id", entry.ID, "error", err)
	}

	transferID := uuid.Nil
	if s.auditRepo != nil {
		payload, _ := json.Marshal(auditEntry)
		id, err := s.auditRepo.CreateWithOutboxTx(ctx, ports.AuditRecordParams{
			ToolID:      entry.ID,
			FileSize:    fi.Size(),
			IPAddress:   req.IPAddress,
			UserAgent:   req.UserAgent,
			SessionID:   req.SessionID,
			Digest:      digest,
			InitiatedAt: now,
		}, ports.OutboxEvent{
			EventID:      uuid.New(),
			EventType:    "download.initiated",
			PartitionKey: entry.ID,
			Payload:      payload,
			OccurredAt:   now,
		})
		if err != nil {
			s.metrics.AuditWriteFailed()
			s.logger.ErrorContext(ctx, "audit repository write failed",
				"operation", "audit_record", "outcome", "failure",
				"tool_id", entry.ID, "error", err)
		} else {
			transferID = id
		}
	}

	s.metrics.TransferStarted()
	s.logger.InfoContext(ctx, "transfer admitted",
		"operation", "fetch",
		"outcome", "success",
		"tool_id", entry.ID,
		"file_size", fi.Size(),
	)

	return &Transfer{
		Tool:        entry,
		Filename:    filepath.Base(path),
		Size:        fi.Size(),
		Digest:      digest,
		ContentType: domain.MIMEType(path),

		svc:         s,
		file:        f,
		transferID:  transferID,
		chunkSize:   s.cfg.ChunkSize,
		bytesPerSec: s.cfg.SpeedLimitKBps * 1024,
	}, nil
}

// fileDigest returns the hex content digest, consulting the cache first.
// The cache key binds path, size and mtime so edited files re-hash.
func (s *Service) fileDigest(ctx context.Context, path string, fi os.FileInfo) (string, error) {
	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if s.digests != nil {
		if cached, err := s.digests.Get(ctx, key); err == nil && cached != "" {
			return cached, nil
		}
	}

	h, err := s.newDigest()
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	digest := hex.EncodeToString(h.Sum(nil))

	if s.digests != nil {
		if err := s.digests.Set(ctx, key, digest); err != nil {
			s.logger.WarnContext(ctx, "digest cache write failed",
				"operation", "digest_cache_set", "outcome", "failure", "error", err)
		}
	}
	return digest, nil
}

func (s *Service) newDigest() (hash.Hash, error) {
	switch s.cfg.DigestAlgorithm {
	case "", "md5":
		return md5.New(), nil
	case "blake2b":
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", s.cfg.DigestAlgorithm)
	}
}
