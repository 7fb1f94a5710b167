// Package parser turns Top 250 listing pages into tagged per-item outcomes.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

// Selectors and labels of the listing markup.
const (
	ItemSelector   = "div.item"
	titleSelector  = "span.title"
	infoSelector   = "div.bd"
	ratingSelector = "span.rating_num"
	VoteLabel      = "人评价"

	snippetLimit = 200
)

var (
	// ErrInvalidRating reports a rating element whose text is not a number.
	ErrInvalidRating = errors.New("invalid rating")

	yearPattern = regexp.MustCompile(`[0-9]{4}`)
	voteStrip   = strings.NewReplacer("人", "", "评", "", "价", "", ",", "", "，", "")
)

// Parser extracts MovieRecords from listing markup.
type Parser struct {
	countryFilter []string
	segmenter     Segmenter
	logger        *zap.Logger
}

// Option customizes a Parser.
type Option func(*Parser)

// WithSegmenter swaps the director segmentation heuristic.
func WithSegmenter(s Segmenter) Option {
	return func(p *Parser) {
		if s != nil {
			p.segmenter = s
		}
	}
}

// WithLogger sets the logger used for filtered and failed items.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Parser. An empty countryFilter disables country filtering.
func New(countryFilter []string, opts ...Option) *Parser {
	p := &Parser{
		countryFilter: append([]string(nil), countryFilter...),
		segmenter:     DoubleSpaceSegmenter{},
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseHTML parses a raw page body.
func (p *Parser) ParseHTML(body []byte) ([]catalog.Outcome, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return p.ParsePage(doc), nil
}

// ParsePage returns one outcome per listing item, in document order.
func (p *Parser) ParsePage(doc *goquery.Document) []catalog.Outcome {
	items := doc.Find(ItemSelector)
	outcomes := make([]catalog.Outcome, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		outcomes = append(outcomes, p.ParseItem(item))
	})
	return outcomes
}

// ParseItem classifies a single listing fragment. It never panics.
func (p *Parser) ParseItem(item *goquery.Selection) (out catalog.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = p.parseError(item, fmt.Errorf("panic: %v", r))
		}
	}()

	title := extractTitle(item)

	info := item.Find(infoSelector).First()
	if info.Length() == 0 {
		return catalog.Malformed(title, "missing "+infoSelector)
	}

	record := catalog.MovieRecord{Title: title}
	var texts []string
	if meta := info.Find("p").First(); meta.Length() > 0 {
		texts = textNodes(meta)
		joined := strings.Join(texts, "")

		if segment, ok := p.segmenter.DirectorSegment(joined); ok {
			record.Directors = splitDirectors(segment)
		}
		if y := yearPattern.FindString(joined); y != "" {
			record.Year, _ = strconv.Atoi(y) //nolint:errcheck // four ASCII digits
			record.HasYear = true
		}
	}

	country, found := extractCountry(texts)
	record.Country = country
	if len(p.countryFilter) > 0 {
		if !found {
			p.logger.Info("skipping item without country", zap.String("title", title))
			return catalog.Filtered(title, catalog.FilterCountryMissing)
		}
		if !matchesAny(country, p.countryFilter) {
			p.logger.Info("skipping item outside country filter",
				zap.String("title", title),
				zap.String("country", country),
			)
			return catalog.Filtered(title, catalog.FilterCountryMismatch)
		}
	}

	rating, err := extractRating(item)
	if err != nil {
		return p.parseError(item, err)
	}
	record.Rating = rating
	record.VoteCount = extractVotes(item)

	return catalog.Accepted(record)
}

func (p *Parser) parseError(item *goquery.Selection, err error) catalog.Outcome {
	snippet := Snippet(item, snippetLimit)
	p.logger.Error("failed to parse item",
		zap.Error(err),
		zap.String("html", snippet),
	)
	return catalog.ParseError(fmt.Sprintf("%v: %s", err, snippet))
}

func extractTitle(item *goquery.Selection) string {
	title := strings.TrimSpace(item.Find(titleSelector).First().Text())
	if i := strings.Index(title, "/"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		return catalog.UntitledPlaceholder
	}
	return title
}

// extractCountry takes the second info line and returns the last token that
// sits between two slashes.
func extractCountry(texts []string) (string, bool) {
	lines := strings.Split(strings.Join(texts, "\n"), "\n")
	if len(lines) < 2 {
		return "", false
	}
	parts := strings.Split(lines[1], "/")
	if len(parts) < 3 {
		return "", false
	}
	for i := len(parts) - 2; i >= 1; i-- {
		if token := strings.TrimSpace(parts[i]); token != "" {
			return token, true
		}
	}
	return "", false
}

func matchesAny(country string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(country, k) {
			return true
		}
	}
	return false
}

func extractRating(item *goquery.Selection) (float64, error) {
	sel := item.Find(ratingSelector).First()
	if sel.Length() == 0 {
		return 0, nil
	}
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return 0, nil
	}
	rating, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidRating, text)
	}
	return rating, nil
}

func extractVotes(item *goquery.Selection) int {
	var label string
	item.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := s.Text(); strings.Contains(t, VoteLabel) {
			label = t
			return false
		}
		return true
	})
	return ParseVotes(label)
}

// ParseVotes converts a vote label such as "12,345人评价" to 12345. Anything
// that is not purely digits once the label is removed yields 0.
func ParseVotes(label string) int {
	digits := strings.TrimSpace(voteStrip.Replace(strings.TrimSpace(label)))
	if digits == "" {
		return 0
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// textNodes returns the trimmed, non-empty text nodes under sel in document order.
func textNodes(sel *goquery.Selection) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				out = append(out, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}

// Snippet renders the outer HTML of sel truncated to limit runes.
func Snippet(sel *goquery.Selection, limit int) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	runes := []rune(raw)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return raw
}
