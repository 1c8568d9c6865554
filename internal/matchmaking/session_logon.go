package matchmaking

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/audit"
	apperrors "github.com/hologram-chat/rendezvous-server/internal/errors"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
	"github.com/hologram-chat/rendezvous-server/internal/worker"
)

const (
	statusHighLoad    = -1
	statusBadResponse = -2
)

func (s *Session) handleLogon(payload []byte) {
	req, err := protocol.ParseLogon(payload)
	if err != nil {
		log.Warn().Err(err).Str("addr", s.RemoteAddr()).Msg("malformed logon, closing connection")
		s.house.metrics.Logon("malformed")
		s.Close()
		return
	}

	if rej := s.house.admit(s, req); rej != nil {
		s.house.metrics.Logon(rej.Code.String())
		if rej.Code != apperrors.CodeInternal {
			audit.LogFromAddr(context.Background(), s.stream.RemoteAddr(), audit.Event{
				Type:        audit.EventLogonRejected,
				PersistedID: req.PersistedID,
				Details:     map[string]interface{}{"code": rej.Code.String()},
			})
		}
		s.Reject(rej)
		return
	}

	// The datagram announcement can only follow ACCEPT_LOGON, so the status
	// has to be in place before the frame is queued.
	s.status.Store(int32(StatusWaitingDatagram))
	s.Send(protocol.AcceptLogon(s.token))
	s.house.metrics.Logon("accepted")

	log.Info().
		Str("token", s.token).
		Str("addr", s.RemoteAddr()).
		Str("persistedId", s.profile.PersistedID).
		Bool("reconnect", req.IsReconnect).
		Msg("logon accepted")
}

// admit runs every logon check and, on success, fills in the profile,
// reputation and token of s.
func (h *House) admit(s *Session, req *protocol.LogonRequest) *apperrors.Rejection {
	if req.Version < h.settings.MinProtocolVersion {
		return apperrors.VersionTooLow(req.Version, h.settings.MinProtocolVersion)
	}

	ctx, cancel := h.storeContext()
	defer cancel()

	isNew, err := h.identities.Claim(ctx, req.PersistedID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if req.IsNewIdentity && !isNew {
		audit.LogFromAddr(ctx, s.stream.RemoteAddr(), audit.Event{
			Type:        audit.EventIdentityClash,
			PersistedID: req.PersistedID,
		})
		return apperrors.PersistedIDClash()
	}

	// Checked again when the token is reserved; this only saves the
	// lookups below for a token that is long gone.
	if req.IsReconnect && (h.registrar == nil || !h.registrar.TokenLive(req.ReconnectToken)) {
		return apperrors.HashTimeout()
	}

	reputation, err := h.ledger.GetReputation(ctx, req.PersistedID)
	if err != nil {
		return apperrors.Internal(err)
	}
	ban, err := h.ledger.GetBan(ctx, req.PersistedID)
	if err != nil {
		return apperrors.Internal(err)
	}

	if len(req.RegenerationReceipt) > 0 {
		if rej := h.regenerate(req.PersistedID, req.RegenerationReceipt); rej != nil {
			return rej
		}
		reputation, ban = h.settings.ReputationMax, nil
	}
	if ban != nil {
		return apperrors.Banned(ban.Magnitude, uint32(math.Ceil(ban.Remaining.Seconds())))
	}

	s.profile = req.Profile()
	s.profile.UniqueID = uuid.NewString()
	s.reputation = clampReputation(reputation, h.settings.ReputationMax)

	reconnect := ""
	if req.IsReconnect {
		reconnect = req.ReconnectToken
	}
	if h.registrar == nil || !h.registrar.ReserveToken(s, reconnect) {
		return apperrors.HashTimeout()
	}
	return nil
}

// regenerate verifies a payment receipt on the worker pool and, when it
// is valid, wipes the identity's deductions and bans.
func (h *House) regenerate(persistedID string, receipt []byte) *apperrors.Rejection {
	err := h.pool.Do(context.Background(), func(ctx context.Context) error {
		return h.receipts.Verify(ctx, receipt)
	})
	if err != nil {
		status, reason := statusBadResponse, "Bad HTTP response from payment server"
		if verr, ok := apperrors.AsVerificationError(err); ok {
			status, reason = verr.Status, verr.Reason
		} else if errors.Is(err, worker.ErrSaturated) {
			status, reason = statusHighLoad, "Server is currently under high load"
		}
		audit.Log(context.Background(), audit.Event{
			Type:        audit.EventReceiptRejected,
			PersistedID: persistedID,
			Details:     map[string]interface{}{"status": status, "reason": reason},
		})
		return apperrors.RegenerationFailed(status, reason).WithCause(err)
	}

	ctx, cancel := h.storeContext()
	defer cancel()
	if err := h.ledger.Clear(ctx, persistedID); err != nil {
		return apperrors.Internal(err)
	}
	audit.Log(ctx, audit.Event{
		Type:        audit.EventBanCleared,
		PersistedID: persistedID,
	})
	return nil
}

func clampReputation(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
