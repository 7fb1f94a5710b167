package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// UntitledPlaceholder replaces a missing or empty title.
	UntitledPlaceholder = "untitled"
	// UnknownDirector is used when no director name could be extracted.
	UnknownDirector = "unknown director"
	// DirectorSeparator joins multiple director names for display.
	DirectorSeparator = " / "
)

// MovieRecord is the normalized representation of one listing entry.
type MovieRecord struct {
	Title     string   `json:"title"`
	Directors []string `json:"directors"`
	Year      int      `json:"year,omitempty"`
	HasYear   bool     `json:"has_year"`
	Country   string   `json:"country,omitempty"`
	Rating    float64  `json:"rating"`
	VoteCount int      `json:"vote_count"`
}

// DirectorLabel joins the directors for display, falling back to UnknownDirector.
func (r MovieRecord) DirectorLabel() string {
	if len(r.Directors) == 0 {
		return UnknownDirector
	}
	return strings.Join(r.Directors, DirectorSeparator)
}

// OutcomeKind tags the result of parsing one listing fragment.
type OutcomeKind int

// Outcome kinds. Every parsed fragment yields exactly one.
const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeFiltered
	OutcomeMalformed
	OutcomeParseError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeFiltered:
		return "filtered"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeParseError:
		return "parse_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FilterReason explains why an item was deliberately excluded.
type FilterReason string

// Filter reasons recorded on filtered outcomes.
const (
	FilterCountryMismatch FilterReason = "country_mismatch"
	FilterCountryMissing  FilterReason = "country_missing"
	FilterDuplicate       FilterReason = "duplicate"
)

// Outcome is the tagged result for one fragment. Record is set only for
// OutcomeAccepted; Reason only for OutcomeFiltered; Detail carries context for
// malformed and parse-error outcomes.
type Outcome struct {
	Kind   OutcomeKind
	Record MovieRecord
	Title  string
	Reason FilterReason
	Detail string
}

// Accepted wraps a record that passed every parser-level check.
func Accepted(record MovieRecord) Outcome {
	return Outcome{Kind: OutcomeAccepted, Record: record, Title: record.Title}
}

// Filtered marks an item excluded on purpose.
func Filtered(title string, reason FilterReason) Outcome {
	return Outcome{Kind: OutcomeFiltered, Title: title, Reason: reason}
}

// Malformed marks an item missing a required structural element.
func Malformed(title, detail string) Outcome {
	return Outcome{Kind: OutcomeMalformed, Title: title, Detail: detail}
}

// ParseError marks an item whose parsing failed unexpectedly.
func ParseError(detail string) Outcome {
	return Outcome{Kind: OutcomeParseError, Detail: detail}
}

// PipelineResult accumulates accepted records and counters for one run.
type PipelineResult struct {
	Records      []MovieRecord
	Filtered     int
	Malformed    int
	ParseErrors  int
	PagesFetched int
	PagesFailed  int
}

// CleanRecord is a record that survived the cleaning pass, numbered from 1.
type CleanRecord struct {
	Seq    int
	Record MovieRecord
	// Votes is nil when the vote count could not be coerced.
	Votes *int
}

// RunSummary is published once a crawl run completes.
type RunSummary struct {
	RunID        string            `json:"run_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Accepted     int               `json:"accepted"`
	Cleaned      int               `json:"cleaned"`
	Filtered     int               `json:"filtered"`
	Malformed    int               `json:"malformed"`
	ParseErrors  int               `json:"parse_errors"`
	PagesFetched int               `json:"pages_fetched"`
	PagesFailed  int               `json:"pages_failed"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	Checksums    map[string]string `json:"checksums,omitempty"`
}

// Attributes are attached to the run notification message.
func (s RunSummary) Attributes() map[string]string {
	return map[string]string{
		"run_id":   s.RunID,
		"accepted": strconv.Itoa(s.Accepted),
		"cleaned":  strconv.Itoa(s.Cleaned),
	}
}
