package model

import "time"

type WaitingRecord struct {
	ID           string    `db:"id" json:"id"`
	ServerName   string    `db:"server_name" json:"serverName"`
	Age          uint32    `db:"age" json:"age"`
	Gender       Gender    `db:"gender" json:"gender"`
	GenderWanted Gender    `db:"gender_wanted" json:"genderWanted"`
	Latitude     float64   `db:"latitude" json:"latitude"`
	Longitude    float64   `db:"longitude" json:"longitude"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// WaitingRecordFor builds the record published for p on serverName.
func WaitingRecordFor(serverName string, p *Profile) WaitingRecord {
	wanted := p.GenderWanted
	if wanted == GenderUnspecified {
		wanted = GenderAny
	}
	return WaitingRecord{
		ID:           p.UniqueID,
		ServerName:   serverName,
		Age:          p.Age,
		Gender:       p.Gender,
		GenderWanted: wanted,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
	}
}
