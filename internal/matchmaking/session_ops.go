package matchmaking

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/audit"
	"github.com/hologram-chat/rendezvous-server/internal/protocol"
)

// onFriendlyPacket handles a frame from a connected session.
func (s *Session) onFriendlyPacket(payload []byte) {
	msg, err := protocol.DecodeClientMessage(payload)
	if err != nil {
		log.Warn().Err(err).Str("token", s.token).Msg("protocol violation, closing connection")
		audit.LogFromAddr(context.Background(), s.stream.RemoteAddr(), audit.Event{
			Type:        audit.EventProtocolViolated,
			PersistedID: s.profile.PersistedID,
			Token:       s.token,
			Details:     map[string]interface{}{"error": err.Error()},
		})
		s.Close()
		return
	}

	switch msg.Op {
	case protocol.OpPing:
		s.touch()
	case protocol.OpSkipPerson:
		s.house.Skip(s)
	case protocol.OpSubmitRating:
		s.house.SetRatingOfOtherClient(s, msg.Rating)
	case protocol.OpPermDisconnect:
		log.Info().Str("token", s.token).Msg("client requested permanent disconnect")
		s.house.Retire(s)
		s.Close()
	case protocol.OpAcceptedConversation:
		s.house.OnAcceptConversation(s)
	case protocol.OpRequestOfflineNotification:
		s.house.SetNotification(s, msg.NotificationPayload)
	}
}

// HandleDatagram relays a media datagram to the partner.
func (s *Session) HandleDatagram(payload []byte) {
	s.house.RelayDatagram(s, payload)
}
