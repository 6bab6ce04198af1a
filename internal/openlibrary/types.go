package openlibrary

import "strconv"

const (
	DefaultBaseURL = "https://openlibrary.org"
	CoversBaseURL  = "https://covers.openlibrary.org"
	SearchFields   = "key,title,author_name,cover_i,first_publish_year"
	DefaultMaxDocs = 5
	searchEndpoint = "/search.json"
)

// Doc is one search hit. Optional fields are nil or empty when absent.
type Doc struct {
	Key              string   `json:"key"`
	Title            string   `json:"title"`
	AuthorNames      []string `json:"author_name"`
	FirstPublishYear *int     `json:"first_publish_year"`
	CoverID          *int64   `json:"cover_i"`
}

// Result is the transient result set of one query.
type Result struct {
	Query    string
	NumFound int
	Docs     []Doc
}

// CoverURL returns the medium-size cover image URL for a cover id.
func CoverURL(id int64) string {
	return CoversBaseURL + "/b/id/" + strconv.FormatInt(id, 10) + "-M.jpg"
}

// WorkURL returns the detail page URL for a doc key such as "/works/OL1W".
func WorkURL(key string) string { return DefaultBaseURL + key }
