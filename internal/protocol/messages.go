package protocol

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/hologram-chat/rendezvous-server/internal/errors"
	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/wire"
)

// ClientMessage is a decoded post-logon stream frame. Only the field that
// belongs to Op is set.
type ClientMessage struct {
	Op                  ClientOp
	Rating              model.Rating
	NotificationPayload string
}

func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	r := wire.NewReader(payload)
	b, err := r.Uint8()
	if err != nil {
		return ClientMessage{}, ErrEmptyFrame
	}

	msg := ClientMessage{Op: ClientOp(b)}
	switch msg.Op {
	case OpPing, OpSkipPerson, OpPermDisconnect, OpAcceptedConversation:
		return msg, nil
	case OpSubmitRating:
		v, err := r.Uint8()
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: rating: %v", ErrMalformed, err)
		}
		msg.Rating = model.Rating(v)
		if !msg.Rating.Valid() {
			return ClientMessage{}, fmt.Errorf("%w: %d", ErrInvalidRating, v)
		}
		return msg, nil
	case OpRequestOfflineNotification:
		s, err := r.String()
		if err != nil {
			return ClientMessage{}, fmt.Errorf("%w: notification payload: %v", ErrMalformed, err)
		}
		if _, err := hex.DecodeString(s); err != nil || s == "" {
			return ClientMessage{}, fmt.Errorf("%w: notification payload is not hex", ErrMalformed)
		}
		msg.NotificationPayload = s
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %d", ErrUnknownOpcode, b)
	}
}

// MatchDetails is what one side of a pairing learns about the other.
type MatchDetails struct {
	ShortName             string
	Age                   uint32
	DistanceKm            uint32
	RatingWindowSeconds   uint32
	ReputationMax         uint32
	AcceptDeadlineSeconds uint32
	Reputation            uint32
	CardText              string
	Picture               []byte
	PictureOrientation    uint32
	Reconnecting          bool
	PartnerOnline         bool
}

func AcceptLogon(token string) []byte {
	return wire.NewWriter().Uint8(uint8(OpAcceptLogon)).String(token).Bytes()
}

func RejectLogon(rej *errors.Rejection) []byte {
	w := wire.NewWriter().
		Uint8(uint8(OpRejectLogon)).
		Uint8(uint8(rej.Code)).
		String(rej.Reason)
	if rej.HasBan() {
		w.Uint8(rej.BanMagnitude).Uint32(rej.BanSeconds)
	}
	return w.Bytes()
}

func AcceptDatagram() []byte {
	return []byte{uint8(OpAcceptDatagram)}
}

// NatAddress introduces a partner's datagram endpoint. The IPv4 address
// keeps its network byte order on the wire.
func NatAddress(addr *net.UDPAddr) ([]byte, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("%w: %s is not an IPv4 endpoint", ErrMalformed, addr)
	}
	return wire.NewWriter().
		Uint8(uint8(OpNatPunchthroughAddress)).
		Raw(ip4).
		Uint16(uint16(addr.Port)).
		Bytes(), nil
}

func NatAbort() []byte {
	return []byte{uint8(OpNatPunchthroughAbort)}
}

func TempDisconnect() []byte {
	return []byte{uint8(OpTempDisconnect)}
}

func PermDisconnect() []byte {
	return []byte{uint8(OpPermDisconnectNotice)}
}

func SkippedDisconnect() []byte {
	return []byte{uint8(OpSkippedDisconnect)}
}

func MatchInfo(d MatchDetails) []byte {
	return wire.NewWriter().
		Uint8(uint8(OpMatchInfo)).
		String(d.ShortName).
		Uint32(d.Age).
		Uint32(d.DistanceKm).
		Uint32(d.RatingWindowSeconds).
		Uint32(d.ReputationMax).
		Uint32(d.AcceptDeadlineSeconds).
		Uint32(d.Reputation).
		String(d.CardText).
		Buffer(d.Picture).
		Uint32(d.PictureOrientation).
		Bool(d.Reconnecting).
		Bool(d.PartnerOnline).
		Bytes()
}

// ParseMatchInfo is the client side of MatchInfo. The leading opcode must
// already be consumed.
func ParseMatchInfo(r *wire.Reader) (MatchDetails, error) {
	var d MatchDetails
	var err error
	steps := []func() error{
		func() (e error) { d.ShortName, e = r.String(); return },
		func() (e error) { d.Age, e = r.Uint32(); return },
		func() (e error) { d.DistanceKm, e = r.Uint32(); return },
		func() (e error) { d.RatingWindowSeconds, e = r.Uint32(); return },
		func() (e error) { d.ReputationMax, e = r.Uint32(); return },
		func() (e error) { d.AcceptDeadlineSeconds, e = r.Uint32(); return },
		func() (e error) { d.Reputation, e = r.Uint32(); return },
		func() (e error) { d.CardText, e = r.String(); return },
		func() (e error) { d.Picture, e = r.Buffer(); return },
		func() (e error) { d.PictureOrientation, e = r.Uint32(); return },
		func() (e error) { d.Reconnecting, e = r.Bool(); return },
		func() (e error) { d.PartnerOnline, e = r.Bool(); return },
	}
	for _, step := range steps {
		if err = step(); err != nil {
			return MatchDetails{}, fmt.Errorf("%w: match info: %v", ErrMalformed, err)
		}
	}
	return d, nil
}

// ParseAnnouncement extracts the token from a datagram announcement.
func ParseAnnouncement(datagram []byte) (string, error) {
	r := wire.NewReader(datagram)
	op, err := r.Uint8()
	if err != nil {
		return "", ErrEmptyFrame
	}
	if op != OpAnnounceToken {
		return "", fmt.Errorf("%w: datagram %d", ErrUnknownOpcode, op)
	}
	token, err := r.String()
	if err != nil || token == "" {
		return "", fmt.Errorf("%w: announcement token", ErrMalformed)
	}
	return token, nil
}

func Announcement(token string) []byte {
	return wire.NewWriter().Uint8(OpAnnounceToken).String(token).Bytes()
}
