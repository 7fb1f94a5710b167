// Package catalog defines the movie record model, the tagged parse outcomes, and
// the collaborator interfaces shared by the fetch, parse, pipeline, and
// persistence subsystems of the top250 crawler.
package catalog
