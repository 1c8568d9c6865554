package protocol

import (
	"fmt"
	"unicode/utf8"

	"github.com/hologram-chat/rendezvous-server/internal/model"
	"github.com/hologram-chat/rendezvous-server/internal/wire"
)

// LogonRequest is the first frame of every stream connection. It has no
// opcode: connection status alone says a frame is a logon.
type LogonRequest struct {
	IsReconnect         bool
	ReconnectToken      string
	Version             uint32
	IsNewIdentity       bool
	PersistedID         string
	FullName            string
	ShortName           string
	Age                 uint32
	Gender              model.Gender
	GenderWanted        model.Gender
	Latitude            float32
	Longitude           float32
	RegenerationReceipt []byte
	CardText            string
	Picture             []byte
	PictureOrientation  uint32
}

// Profile returns the login profile carried by the request. The unique
// waiting key is assigned by the caller.
func (req *LogonRequest) Profile() model.Profile {
	return model.Profile{
		PersistedID:        req.PersistedID,
		FullName:           req.FullName,
		ShortName:          req.ShortName,
		Age:                req.Age,
		Gender:             req.Gender,
		GenderWanted:       req.GenderWanted,
		Latitude:           float64(req.Latitude),
		Longitude:          float64(req.Longitude),
		CardText:           req.CardText,
		Picture:            req.Picture,
		PictureOrientation: req.PictureOrientation,
	}
}

func ParseLogon(payload []byte) (*LogonRequest, error) {
	r := wire.NewReader(payload)
	req := &LogonRequest{}

	var err error
	fail := func(field string) (*LogonRequest, error) {
		return nil, fmt.Errorf("%w: logon %s: %v", ErrMalformed, field, err)
	}

	if req.IsReconnect, err = r.Bool(); err != nil {
		return fail("session flag")
	}
	if req.IsReconnect {
		if req.ReconnectToken, err = r.String(); err != nil {
			return fail("token")
		}
	}
	if req.Version, err = r.Uint32(); err != nil {
		return fail("version")
	}
	if req.IsNewIdentity, err = r.Bool(); err != nil {
		return fail("new identity flag")
	}
	if req.PersistedID, err = r.String(); err != nil {
		return fail("persisted id")
	}
	if req.FullName, err = r.String(); err != nil {
		return fail("full name")
	}
	if req.ShortName, err = r.String(); err != nil {
		return fail("short name")
	}
	req.ShortName = truncateRunes(req.ShortName, MaxShortNameLen)

	var gender, wanted uint32
	if req.Age, err = r.Uint32(); err != nil {
		return fail("age")
	}
	if gender, err = r.Uint32(); err != nil {
		return fail("gender")
	}
	if wanted, err = r.Uint32(); err != nil {
		return fail("gender wanted")
	}
	req.Gender = model.Gender(gender)
	req.GenderWanted = model.Gender(wanted)

	if req.Latitude, err = r.Float32(); err != nil {
		return fail("latitude")
	}
	if req.Longitude, err = r.Float32(); err != nil {
		return fail("longitude")
	}
	if req.RegenerationReceipt, err = r.Buffer(); err != nil {
		return fail("receipt")
	}
	if req.CardText, err = r.String(); err != nil {
		return fail("card text")
	}
	if req.Picture, err = r.Buffer(); err != nil {
		return fail("picture")
	}
	if req.PictureOrientation, err = r.Uint32(); err != nil {
		return fail("picture orientation")
	}

	return req, nil
}

// EncodeLogon is the client side of ParseLogon.
func EncodeLogon(req *LogonRequest) []byte {
	w := wire.NewWriter().Bool(req.IsReconnect)
	if req.IsReconnect {
		w.String(req.ReconnectToken)
	}
	return w.Uint32(req.Version).
		Bool(req.IsNewIdentity).
		String(req.PersistedID).
		String(req.FullName).
		String(req.ShortName).
		Uint32(req.Age).
		Uint32(uint32(req.Gender)).
		Uint32(uint32(req.GenderWanted)).
		Float32(req.Latitude).
		Float32(req.Longitude).
		Buffer(req.RegenerationReceipt).
		String(req.CardText).
		Buffer(req.Picture).
		Uint32(req.PictureOrientation).
		Bytes()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
