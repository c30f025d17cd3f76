package blocklist

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/netclass"
	"github.com/staffdesk/gatekeeper/pkg/responders"
)

// Routes mounts the operator endpoints:
//
//	GET    /           list active entries
//	DELETE /{ip}       unblock one IP
//	DELETE /           reset the blocklist
//
// Callers must authenticate the subtree; Routes does not.
func (b *Blocklist) Routes(r chi.Router) {
	r.Get("/", b.handleList)
	r.Delete("/{ip}", b.handleUnblock)
	r.Delete("/", b.handleReset)
}

func (b *Blocklist) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := b.List(r.Context())
	if err != nil {
		b.internalError(w, r, err, "blocklist.list_failed")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (b *Blocklist) handleUnblock(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ip")
	addr, ok := netclass.ParseAddr(raw)
	if !ok {
		apierrors.WriteError(w, apierrors.ErrCodeNotFound, "Not blocked")
		return
	}
	ip := addr.String()

	removed, err := b.Unblock(r.Context(), ip)
	if err != nil {
		b.internalError(w, r, err, "blocklist.unblock_failed")
		return
	}
	if !removed {
		apierrors.WriteError(w, apierrors.ErrCodeNotFound, "Not blocked")
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().Str("ip", ip).Msg("blocklist.unblocked_by_operator")
	responders.JSON(w, http.StatusOK, map[string]any{"ip": ip, "unblocked": true})
}

func (b *Blocklist) handleReset(w http.ResponseWriter, r *http.Request) {
	n, err := b.Reset(r.Context())
	if err != nil {
		b.internalError(w, r, err, "blocklist.reset_failed")
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().Int("removed", n).Msg("blocklist.reset_by_operator")
	responders.JSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (b *Blocklist) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logger.FromContext(r.Context())
	log.Error().Err(err).Msg(msg)
	apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
}
