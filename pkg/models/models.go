package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entity kinds stored in the checkpoint store
const (
	KindUser    = "user"
	KindFriends = "friends"
)

// Sentinel marks an entity that was attempted and will never be retried
type Sentinel string

const (
	SentinelNone         Sentinel = ""
	SentinelUnauthorized Sentinel = "unauthorized"
	SentinelNotFound     Sentinel = "not-found"
)

// PriorAdopterStatus records whether a user posted the hashtag before the
// study window started.
type PriorAdopterStatus int

const (
	PriorAdopterUnknown PriorAdopterStatus = iota
	PriorAdopterTrue
	PriorAdopterFalse
)

func (s PriorAdopterStatus) String() string {
	switch s {
	case PriorAdopterTrue:
		return "true"
	case PriorAdopterFalse:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s PriorAdopterStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *PriorAdopterStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "true":
		*s = PriorAdopterTrue
	case "false":
		*s = PriorAdopterFalse
	case "unknown", "":
		*s = PriorAdopterUnknown
	default:
		return fmt.Errorf("invalid prior adopter status %q", text)
	}
	return nil
}

// User is one Twitter account. Counts are -1 until fetched.
type User struct {
	ID           string             `json:"id"`
	Following    int                `json:"following"`
	Followers    int                `json:"followers"`
	TweetCount   int                `json:"tweet_count"`
	Private      bool               `json:"private"`
	CreatedAt    string             `json:"created_at"`
	Geos         map[string]*Place  `json:"geos,omitempty"`
	ActivityRate []int              `json:"activity_rate,omitempty"`
	PriorAdopter PriorAdopterStatus `json:"prior_adopter"`
}

// NewUser returns a user whose profile has not been fetched yet
func NewUser(id string) *User {
	return &User{
		ID:         id,
		Following:  -1,
		Followers:  -1,
		TweetCount: -1,
		CreatedAt:  "0",
	}
}

// AddGeotag records that tweetID was posted from place. A place appears once
// per user; later observations only add to its tweet set. It returns true when
// the place is new for this user.
func (u *User) AddGeotag(place Place, tweetID string) bool {
	if u.Geos == nil {
		u.Geos = make(map[string]*Place)
	}

	existing, ok := u.Geos[place.ID]
	if !ok {
		p := place
		p.Tweets = make(TweetSet)
		existing = &p
		u.Geos[place.ID] = existing
	}
	if tweetID != "" {
		existing.Tweets.Add(tweetID)
	}
	return !ok
}

// HasGeotags reports whether any place has been recorded for the user
func (u *User) HasGeotags() bool {
	return len(u.Geos) > 0
}

func (u *User) String() string {
	return fmt.Sprintf("%s: FLRWS:%d FLWNG:%d TWTS:%d BORN:%s PRIV:%t GEOS:%d",
		u.ID, u.Followers, u.Following, u.TweetCount, u.CreatedAt, u.Private, len(u.Geos))
}

// Place is a Twitter-defined location: a country, city, neighborhood or
// point of interest. Geo holds the raw bounding box or point.
type Place struct {
	ID          string          `json:"id"`
	FullName    string          `json:"full_name"`
	CountryCode string          `json:"country_code"`
	PlaceType   string          `json:"place_type"`
	Geo         json.RawMessage `json:"geo,omitempty"`
	Tweets      TweetSet        `json:"tweets"`
}

// TweetSet is a set of tweet ids, encoded as a sorted JSON array
type TweetSet map[string]struct{}

// Add inserts id into the set
func (s TweetSet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports whether id is in the set
func (s TweetSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order
func (s TweetSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON implements json.Marshaler
func (s TweetSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler
func (s *TweetSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(TweetSet, len(ids))
	for _, id := range ids {
		set.Add(id)
	}
	*s = set
	return nil
}

// FriendList is the set of accounts a user follows
type FriendList struct {
	UserID string   `json:"user_id"`
	IDs    []string `json:"ids"`
}
