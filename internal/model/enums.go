package model

type Gender uint32

const (
	GenderUnspecified Gender = 0
	GenderMale        Gender = 1
	GenderFemale      Gender = 2
	GenderAny         Gender = 3
)

// Rating is the end-of-conversation feedback one side gives the other.
type Rating uint8

const (
	RatingBad     Rating = 1
	RatingNeutral Rating = 2
	RatingGood    Rating = 3
)

func (r Rating) Valid() bool {
	return r >= RatingBad && r <= RatingGood
}

func (r Rating) String() string {
	switch r {
	case RatingBad:
		return "bad"
	case RatingNeutral:
		return "neutral"
	case RatingGood:
		return "good"
	default:
		return "unknown"
	}
}

// ParseRating maps the configuration spelling of a rating to its value.
func ParseRating(s string) (Rating, bool) {
	switch s {
	case "bad", "BAD", "Bad":
		return RatingBad, true
	case "neutral", "NEUTRAL", "Neutral":
		return RatingNeutral, true
	case "good", "GOOD", "Good":
		return RatingGood, true
	default:
		return 0, false
	}
}
