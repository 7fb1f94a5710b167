// Package csvsink serializes cleaned records to a spreadsheet-friendly CSV file.
package csvsink

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

// ContentType is the media type of the written file.
const ContentType = "text/csv; charset=utf-8"

// BOM marks the file as UTF-8 for spreadsheet tools.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// Header is the column layout of the file.
var Header = []string{"seq", "title", "director", "year", "rating", "votes"}

const directorColumn = "director"

// Write emits the BOM, the header, and one row per record.
func Write(w io.Writer, records []catalog.CleanRecord) error {
	if _, err := w.Write(BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, cr := range records {
		if err := cw.Write(row(cr)); err != nil {
			return fmt.Errorf("write row %d: %w", cr.Seq, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(cr catalog.CleanRecord) []string {
	votes := ""
	if cr.Votes != nil {
		votes = strconv.Itoa(*cr.Votes)
	}
	year := ""
	if cr.Record.HasYear {
		year = strconv.Itoa(cr.Record.Year)
	}
	return []string{
		strconv.Itoa(cr.Seq),
		cr.Record.Title,
		cr.Record.DirectorLabel(),
		year,
		strconv.FormatFloat(cr.Record.Rating, 'f', -1, 64),
		votes,
	}
}

// WriteFile writes records to path, creating parent directories.
func WriteFile(path string, records []catalog.CleanRecord) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	bw := bufio.NewWriter(f)
	if err := Write(bw, records); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}

// ReadDirectors returns the director column of a file produced by Write.
func ReadDirectors(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(BOM)); err == nil && bytes.Equal(head, BOM) {
		_, _ = br.Discard(len(BOM)) //nolint:errcheck // peeked bytes are buffered
	}
	cr := csv.NewReader(br)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if name == directorColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("missing %q column", directorColumn)
	}

	var directors []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return directors, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		directors = append(directors, rec[col])
	}
}

// ReadDirectorsFile opens path and calls ReadDirectors.
func ReadDirectorsFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return ReadDirectors(f)
}
