package model

type HouseStats struct {
	Members  int `json:"members"`
	Rooms    int `json:"rooms"`
	Waiting  int `json:"waiting"`
	Rating   int `json:"rating"`
	Matching int `json:"matching"`
}

type GovernorStats struct {
	Streams        int `json:"streams"`
	Tokens         int `json:"tokens"`
	Datagrams      int `json:"datagrams"`
	PendingCleanup int `json:"pendingCleanup"`
	PendingLinks   int `json:"pendingLinks"`
}

type ServerStats struct {
	ServerName string        `json:"serverName"`
	House      HouseStats    `json:"house"`
	Governor   GovernorStats `json:"governor"`
	Timestamp  int64         `json:"timestamp"`
}
