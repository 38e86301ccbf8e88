package twitter

import (
	"encoding/json"
	"fmt"

	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/models"
)

// Response is the union of the v2 and v1.1 response envelopes used by the
// crawler. Data is decoded lazily since its shape depends on the endpoint.
type Response struct {
	Data     json.RawMessage `json:"data,omitempty"`
	Includes Includes        `json:"includes"`
	Meta     Meta            `json:"meta"`
	Errors   []APIError      `json:"errors,omitempty"`

	// friends/ids (v1.1)
	IDs           []string `json:"ids,omitempty"`
	NextCursorStr string   `json:"next_cursor_str,omitempty"`

	RateLimit  errs.RateLimit `json:"-"`
	StatusCode int            `json:"-"`
}

// Meta carries pagination and summary fields
type Meta struct {
	ResultCount     int    `json:"result_count"`
	NextToken       string `json:"next_token,omitempty"`
	NewestID        string `json:"newest_id,omitempty"`
	OldestID        string `json:"oldest_id,omitempty"`
	TotalTweetCount int    `json:"total_tweet_count,omitempty"`
}

// Includes holds expanded objects
type Includes struct {
	Places []Place `json:"places,omitempty"`
	Users  []User  `json:"users,omitempty"`
}

// APIError is a partial error inside a 200 response, e.g. one id of a
// lookup batch that is suspended or missing.
type APIError struct {
	Value        string `json:"value,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Title        string `json:"title,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Parameter    string `json:"parameter,omitempty"`
	Type         string `json:"type,omitempty"`
}

// ID returns the id the error refers to
func (e APIError) ID() string {
	if e.ResourceID != "" {
		return e.ResourceID
	}
	return e.Value
}

// Sentinel maps the error to a sentinel: authorization problems mean the
// account is protected, everything else means it is gone.
func (e APIError) Sentinel() models.Sentinel {
	if e.Title == "Authorization Error" {
		return models.SentinelUnauthorized
	}
	return models.SentinelNotFound
}

// Tweet is one search result
type Tweet struct {
	ID        string          `json:"id"`
	AuthorID  string          `json:"author_id"`
	CreatedAt string          `json:"created_at,omitempty"`
	Geo       json.RawMessage `json:"geo,omitempty"`
}

// PlaceID returns the place of a geotagged tweet, or "" when there is none
func (t Tweet) PlaceID() string {
	if len(t.Geo) == 0 {
		return ""
	}
	var geo struct {
		PlaceID string `json:"place_id"`
	}
	if err := json.Unmarshal(t.Geo, &geo); err != nil {
		return ""
	}
	return geo.PlaceID
}

// User is a users lookup result
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username,omitempty"`
	CreatedAt     string `json:"created_at"`
	Protected     bool   `json:"protected"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
	} `json:"public_metrics"`
}

// ToModel converts the API user to a stored user
func (u User) ToModel() *models.User {
	m := models.NewUser(u.ID)
	m.Following = u.PublicMetrics.FollowingCount
	m.Followers = u.PublicMetrics.FollowersCount
	m.TweetCount = u.PublicMetrics.TweetCount
	m.Private = u.Protected
	m.CreatedAt = u.CreatedAt
	return m
}

// Place is an expanded geo place
type Place struct {
	ID          string          `json:"id"`
	FullName    string          `json:"full_name"`
	CountryCode string          `json:"country_code"`
	PlaceType   string          `json:"place_type"`
	Geo         json.RawMessage `json:"geo,omitempty"`
}

// ToModel converts the API place to a stored place
func (p Place) ToModel() models.Place {
	return models.Place{
		ID:          p.ID,
		FullName:    p.FullName,
		CountryCode: p.CountryCode,
		PlaceType:   p.PlaceType,
		Geo:         p.Geo,
	}
}

// CountBucket is one interval of a counts response
type CountBucket struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	TweetCount int    `json:"tweet_count"`
}

// Tweets decodes Data as a list of tweets
func (r *Response) Tweets() ([]Tweet, error) {
	var tweets []Tweet
	return tweets, r.decodeData(&tweets)
}

// Users decodes Data as a list of users
func (r *Response) Users() ([]User, error) {
	var users []User
	return users, r.decodeData(&users)
}

// Counts decodes Data as count buckets
func (r *Response) Counts() ([]CountBucket, error) {
	var buckets []CountBucket
	return buckets, r.decodeData(&buckets)
}

// PlacesByID indexes the expanded places
func (r *Response) PlacesByID() map[string]Place {
	out := make(map[string]Place, len(r.Includes.Places))
	for _, p := range r.Includes.Places {
		out[p.ID] = p
	}
	return out
}

func (r *Response) decodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to decode data: %v", err),
			Code:    r.StatusCode,
		}
	}
	return nil
}
