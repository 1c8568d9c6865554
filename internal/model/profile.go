package model

// Profile is the login profile of a session. It never changes once the
// logon has been accepted.
type Profile struct {
	// UniqueID is the waiting-record key, generated per logon.
	UniqueID           string
	PersistedID        string
	FullName           string
	ShortName          string
	Age                uint32
	Gender             Gender
	GenderWanted       Gender
	Latitude           float64
	Longitude          float64
	CardText           string
	Picture            []byte
	PictureOrientation uint32
}

// AcceptableGenders lists the gender_wanted values of waiting records
// that would accept someone with this profile's gender.
func (p *Profile) AcceptableGenders() []Gender {
	if p.Gender == GenderUnspecified {
		return []Gender{GenderAny, GenderMale, GenderFemale}
	}
	return []Gender{GenderAny, p.Gender}
}

// Wants reports whether this profile is interested in the given gender.
func (p *Profile) Wants(g Gender) bool {
	wanted := p.GenderWanted
	if wanted == GenderUnspecified || wanted == GenderAny {
		return true
	}
	return wanted == g
}
