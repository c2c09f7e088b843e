// Package sloghooks logs apicache hook events through log/slog, with
// sampling for the noisy ones and key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/voltadmin/apicache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	FetchEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	fetchCtr    atomic.Uint64
}

var _ apicache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("apicache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) FetchResolved(op string, status apicache.Status, elapsed time.Duration) {
	if h.l == nil || !sample(h.opts.FetchEvery, &h.fetchCtr) {
		return
	}
	h.l.Debug("apicache.fetch_resolved",
		"op", op,
		"status", status.String(),
		"elapsed", elapsed)
}

func (h *Hooks) TagsInvalidated(tags, marked int) {
	if h.l == nil {
		return
	}
	h.l.Debug("apicache.tags_invalidated",
		"tags", tags,
		"marked", marked)
}

func (h *Hooks) EntryCollected(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("apicache.entry_collected", "key", h.redact(key))
}

func (h *Hooks) AuthFailure(op, code string) {
	if h.l == nil {
		return
	}
	h.l.Warn("apicache.auth_failure",
		"op", op,
		"code", code)
}

func (h *Hooks) StorageError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("apicache.storage_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) PersistRejected(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("apicache.persist_rejected", "key", h.redact(key))
}

func (h *Hooks) GenStoreError(op string, scopes int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("apicache.genstore_error",
		"op", op,
		"scopes", scopes,
		"err", err)
}
