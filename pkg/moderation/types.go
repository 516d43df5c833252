package moderation

import "time"

// Service is an external destination reports can be forwarded to. An empty
// AdminDID makes the service available to every feed.
type Service struct {
	Value     string    `json:"value" yaml:"value"`
	Label     string    `json:"label" yaml:"label"`
	AdminDID  string    `json:"admin_did,omitempty" yaml:"admin_did"`
	CreatedAt time.Time `json:"-" yaml:"-"`
}

// Global reports whether every feed may use the service
func (s Service) Global() bool {
	return s.AdminDID == ""
}

// ReportOption is an entry of the report reason catalogue
type ReportOption struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Reason      string `json:"reason" yaml:"reason"`
	Position    int    `json:"-" yaml:"position"`
}

// ServiceRef names a destination in a report
type ServiceRef struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Report is a request to act on a post or user of a feed
type Report struct {
	URI             string       `json:"uri"`
	FeedName        string       `json:"feedName,omitempty"`
	TargetedPostURI string       `json:"targetedPostUri,omitempty"`
	TargetedPostCID string       `json:"targetedPostCid,omitempty"`
	TargetedUserDID string       `json:"targetedUserDid,omitempty"`
	Reason          string       `json:"reason"`
	ToServices      []ServiceRef `json:"toServices"`
	AdditionalInfo  string       `json:"additionalInfo,omitempty"`
}

// Result statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Pseudo destinations that appear in a Summary next to real services
const (
	ResultLog           = "log"
	ResultAuthorization = "authorization"
	ResultDispatch      = "dispatch"
)

// Result is the outcome of one destination, or of the log append
type Result struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Summary collects the results of one report
type Summary struct {
	URI             string   `json:"uri"`
	TargetedPostURI string   `json:"targetedPostUri,omitempty"`
	TargetedUserDID string   `json:"targetedUserDid,omitempty"`
	Results         []Result `json:"results"`
}

// Failed reports whether any result is an error
func (s Summary) Failed() bool {
	for _, r := range s.Results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}
