package twitter

import (
	"net/url"
	"strconv"
	"strings"

	"twcrawl/pkg/ratelimit"
)

// Endpoint is an API path relative to the base URL
type Endpoint string

const (
	EndpointSearchAll Endpoint = "2/tweets/search/all"
	EndpointCountsAll Endpoint = "2/tweets/counts/all"
	EndpointUsers     Endpoint = "2/users"
	// v1.1 returns up to 5000 ids per call, v2 only 1000
	EndpointFriendIDs Endpoint = "1.1/friends/ids.json"
)

// Class returns the rate limit class the endpoint is throttled under
func (e Endpoint) Class() ratelimit.Class {
	switch e {
	case EndpointSearchAll:
		return ratelimit.ClassSearch
	case EndpointCountsAll:
		return ratelimit.ClassCounts
	case EndpointUsers:
		return ratelimit.ClassUsers
	case EndpointFriendIDs:
		return ratelimit.ClassFriends
	default:
		return ratelimit.ClassError
	}
}

// Page size limits
const (
	MaxUsersPerLookup = 100
	// MaxAuthorsPerGeoQuery keeps "from:" clauses inside the query length limit
	MaxAuthorsPerGeoQuery = 29
)

const userFields = "public_metrics,protected,created_at"

// SearchParams builds full-archive search parameters
func SearchParams(query, startTime, endTime string, maxResults int, tweetFields string) url.Values {
	params := url.Values{}
	params.Set("query", query)
	if tweetFields != "" {
		params.Set("tweet.fields", tweetFields)
	}
	if startTime != "" {
		params.Set("start_time", startTime)
	}
	if endTime != "" {
		params.Set("end_time", endTime)
	}
	if maxResults > 0 {
		params.Set("max_results", strconv.Itoa(maxResults))
	}
	return params
}

// GeoSearchParams builds the search for geotagged tweets of a batch of authors,
// expanding the places they were posted from.
func GeoSearchParams(baseQuery, startTime, endTime string, maxResults int, authors []string) url.Values {
	params := SearchParams(FromQuery(baseQuery, authors), startTime, endTime, maxResults, "author_id,geo")
	params.Set("expansions", "geo.place_id")
	params.Set("place.fields", "geo,country_code,place_type")
	return params
}

// FromQuery appends "(from:a OR from:b ...)" to base
func FromQuery(base string, authors []string) string {
	if len(authors) == 0 {
		return base
	}
	clause := "(from:" + strings.Join(authors, " OR from:") + ")"
	if base == "" {
		return clause
	}
	return base + " " + clause
}

// CountsParams builds counts/all parameters
func CountsParams(query, startTime, endTime, granularity string) url.Values {
	params := SearchParams(query, startTime, endTime, 0, "")
	if granularity != "" {
		params.Set("granularity", granularity)
	}
	return params
}

// UsersLookupParams builds the users lookup for up to MaxUsersPerLookup ids
func UsersLookupParams(ids []string) url.Values {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("user.fields", userFields)
	return params
}

// FriendIDsParams builds the first friends/ids request for userID. The
// paginator fills in the cursor.
func FriendIDsParams(userID string) url.Values {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("stringify_ids", "true")
	return params
}
