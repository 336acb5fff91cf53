// Package sloghook logs hotrod.Hooks events with log/slog. Frequent events are
// sampled and keys are redacted.
package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/hotrod"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	OpEvery       uint64
	SelfHealEvery uint64
	// Operations slower than this are always logged. 0 disables.
	SlowOp time.Duration
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	hotrod.NopHooks

	l    *slog.Logger
	opts Options

	opCtr       atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ hotrod.Hooks = (*Hooks)(nil)

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

func (h *Hooks) ConnOpened(addr string) {
	if h.l == nil {
		return
	}
	h.l.Debug("hotrod.conn_opened", "server", addr)
}

func (h *Hooks) ConnClosed(addr string) {
	if h.l == nil {
		return
	}
	h.l.Debug("hotrod.conn_closed", "server", addr)
}

func (h *Hooks) ServerUnhealthy(addr string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hotrod.server_unhealthy",
		"server", addr,
		"err", err)
}

func (h *Hooks) AuthFailed(addr, mechanism string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("hotrod.auth_failed",
		"server", addr,
		"mechanism", mechanism,
		"err", err)
}

func (h *Hooks) OpDone(cache, op string, took time.Duration, err error) {
	if h.l == nil {
		return
	}
	slow := h.opts.SlowOp > 0 && took >= h.opts.SlowOp
	switch {
	case err != nil:
		h.l.Warn("hotrod.op_failed", "cache", cache, "op", op, "took", took, "err", err)
	case slow:
		h.l.Info("hotrod.op_slow", "cache", cache, "op", op, "took", took)
	case sample(h.opts.OpEvery, &h.opCtr):
		h.l.Debug("hotrod.op", "cache", cache, "op", op, "took", took)
	}
}

func (h *Hooks) NearCacheSelfHeal(cache, storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("hotrod.near_self_heal",
		"cache", cache,
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) NearCacheSetRejected(cache, storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("hotrod.near_set_rejected",
		"cache", cache,
		"key", h.redact(storageKey))
}

func (h *Hooks) NearCacheGenError(cache string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("hotrod.near_gen_error",
		"cache", cache,
		"err", err)
}
