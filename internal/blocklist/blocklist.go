package blocklist

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/staffdesk/gatekeeper/internal/audit"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/netclass"
)

// Options configures a Blocklist.
type Options struct {
	TTL      time.Duration // zero blocks until an operator unblocks or resets
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
}

// Blocklist records blocked IPs and rejects their requests.
type Blocklist struct {
	store    Store
	ttl      time.Duration
	recorder audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a blocklist over store.
func New(store Store, opts Options) *Blocklist {
	return &Blocklist{
		store:    store,
		ttl:      opts.TTL,
		recorder: audit.OrLog(opts.Recorder),
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// Block adds ip with a reason.
func (b *Blocklist) Block(ctx context.Context, ip, reason string) error {
	if ip == "" {
		return errors.New("blocklist: empty ip")
	}
	e := Entry{IP: ip, Reason: reason, BlockedAt: b.now().UTC()}
	if err := b.store.Block(ctx, e, b.ttl); err != nil {
		return err
	}

	ev := audit.NewEvent(ctx, audit.EventIPBlocked, "")
	ev.IP = ip
	audit.Emit(ctx, b.recorder, ev.With("reason", reason).With("ttl", b.ttl.String()))
	b.metrics.ObserveBlockedIP()
	b.refreshGauge(ctx)
	return nil
}

// IsBlocked reports whether ip is blocked.
func (b *Blocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return b.store.IsBlocked(ctx, ip)
}

// Unblock removes ip.
func (b *Blocklist) Unblock(ctx context.Context, ip string) (bool, error) {
	removed, err := b.store.Unblock(ctx, ip)
	if err != nil {
		return false, err
	}
	if removed {
		ev := audit.NewEvent(ctx, audit.EventIPUnblocked, "")
		ev.IP = ip
		audit.Emit(ctx, b.recorder, ev)
		b.refreshGauge(ctx)
	}
	return removed, nil
}

// List returns the active entries.
func (b *Blocklist) List(ctx context.Context) ([]Entry, error) {
	return b.store.List(ctx)
}

// Reset clears the blocklist.
func (b *Blocklist) Reset(ctx context.Context) (int, error) {
	n, err := b.store.Reset(ctx)
	if err != nil {
		return 0, err
	}
	audit.Emit(ctx, b.recorder, audit.NewEvent(ctx, audit.EventBlocklistReset, "").With("removed", strconv.Itoa(n)))
	b.metrics.SetBlockedIPsActive(0)
	return n, nil
}

func (b *Blocklist) refreshGauge(ctx context.Context) {
	if b.metrics == nil {
		return
	}
	entries, err := b.store.List(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Msg("blocklist.gauge_refresh_failed")
		return
	}
	b.metrics.SetBlockedIPsActive(len(entries))
}

// Middleware rejects requests from blocked IPs with 403 IP_BLOCKED. A lookup failure is an
// internal error; the request is not let through.
func (b *Blocklist) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := netclass.ClientIP(r)
		blocked, err := b.store.IsBlocked(r.Context(), ip)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Str("ip", ip).Msg("blocklist.lookup_failed")
			b.metrics.ObserveRejection(metrics.StageBlocklist, string(apierrors.ErrCodeInternalError))
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
			return
		}
		if blocked {
			audit.Emit(r.Context(), b.recorder, audit.FromRequest(r, audit.EventBlockedRequest, string(apierrors.ErrCodeIPBlocked)))
			b.metrics.ObserveRejection(metrics.StageBlocklist, string(apierrors.ErrCodeIPBlocked))
			apierrors.WriteError(w, apierrors.ErrCodeIPBlocked, "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}
