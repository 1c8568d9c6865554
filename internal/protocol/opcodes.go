// Package protocol defines the messages exchanged with clients on top of
// the wire codec: the logon request, the post-logon client opcodes, the
// server notifications and the datagram token announcement.
package protocol

import "errors"

// ClientOp is the first byte of a post-logon stream frame sent by a client.
type ClientOp uint8

const (
	OpPing                       ClientOp = 1
	OpSkipPerson                 ClientOp = 2
	OpSubmitRating               ClientOp = 3
	OpPermDisconnect             ClientOp = 4
	OpAcceptedConversation       ClientOp = 5
	OpRequestOfflineNotification ClientOp = 6
)

func (op ClientOp) String() string {
	switch op {
	case OpPing:
		return "PING"
	case OpSkipPerson:
		return "SKIP_PERSON"
	case OpSubmitRating:
		return "SUBMIT_RATING"
	case OpPermDisconnect:
		return "PERM_DISCONNECT"
	case OpAcceptedConversation:
		return "ACCEPTED_CONVERSATION"
	case OpRequestOfflineNotification:
		return "REQUEST_OFFLINE_NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

// ServerOp is the first byte of every stream frame sent by the server.
type ServerOp uint8

const (
	OpRejectLogon            ServerOp = 1
	OpAcceptLogon            ServerOp = 2
	OpAcceptDatagram         ServerOp = 3
	OpNatPunchthroughAddress ServerOp = 4
	OpNatPunchthroughAbort   ServerOp = 5
	OpTempDisconnect         ServerOp = 6
	OpPermDisconnectNotice   ServerOp = 7
	OpSkippedDisconnect      ServerOp = 8
	OpMatchInfo              ServerOp = 9
)

// OpAnnounceToken is the only datagram opcode the server interprets.
const OpAnnounceToken uint8 = 1

// MaxShortNameLen is the number of characters kept from a short name.
const MaxShortNameLen = 50

var (
	ErrUnknownOpcode = errors.New("protocol: unknown opcode")
	ErrMalformed     = errors.New("protocol: malformed message")
	ErrInvalidRating = errors.New("protocol: invalid rating")
	ErrEmptyFrame    = errors.New("protocol: empty frame")
)
