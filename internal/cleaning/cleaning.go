// Package cleaning applies the post-crawl validation pass before persistence.
package cleaning

import "github.com/JakeFAU/top250-crawler/internal/catalog"

// Report counts what the cleaning pass removed or could not coerce.
type Report struct {
	Input        int
	MissingYear  int
	OutOfRange   int
	Duplicates   int
	InvalidVotes int
	Kept         int
}

// Dropped returns the number of records removed.
func (r Report) Dropped() int {
	return r.Input - r.Kept
}

// Clean keeps records whose year lies in [minYear, currentYear], drops repeated
// titles after the first, and numbers survivors from 1 in input order.
func Clean(records []catalog.MovieRecord, minYear, currentYear int) ([]catalog.CleanRecord, Report) {
	report := Report{Input: len(records)}
	out := make([]catalog.CleanRecord, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		if !rec.HasYear {
			report.MissingYear++
			continue
		}
		if rec.Year < minYear || rec.Year > currentYear {
			report.OutOfRange++
			continue
		}
		if _, dup := seen[rec.Title]; dup {
			report.Duplicates++
			continue
		}
		seen[rec.Title] = struct{}{}

		cr := catalog.CleanRecord{Seq: len(out) + 1, Record: rec}
		if rec.VoteCount >= 0 {
			votes := rec.VoteCount
			cr.Votes = &votes
		} else {
			report.InvalidVotes++
		}
		out = append(out, cr)
	}
	report.Kept = len(out)
	return out, report
}
