// Package keys builds document-key lists from user files: plain text,
// CSV exports of spreadsheets, or anything else with 44-digit tokens.
package keys

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/nfefetch/internal/model"
)

// DefaultLimit is the largest list a single run accepts. Longer imports
// are cut to it.
const DefaultLimit = 500

// ErrTooMany is returned by Validate when a list exceeds the limit.
var ErrTooMany = errors.New("too many document keys")

// ErrEmpty is returned when a list contains no keys.
var ErrEmpty = errors.New("no document keys found")

var digitRun = regexp.MustCompile(`[0-9]+`)

// List is a named set of keys, typically one imported file.
type List struct {
	Name string
	Keys []model.DocumentKey
	// Dropped counts keys cut off by the limit.
	Dropped int
}

// Parse scans r for 44-digit runs. Lines are NFKC-normalised first so
// full-width digits pasted from office documents are accepted. Digit runs
// of any other length are ignored. The result is deduplicated in first
// occurrence order.
func Parse(r io.Reader) ([]model.DocumentKey, error) {
	var found []model.DocumentKey
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := norm.NFKC.String(sc.Text())
		for _, tok := range digitRun.FindAllString(line, -1) {
			if len(tok) == model.KeyLength {
				found = append(found, model.DocumentKey(tok))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return model.Dedupe(found), nil
}

// Truncate keeps the first limit keys (DefaultLimit if <= 0) and returns
// how many were dropped.
func Truncate(ks []model.DocumentKey, limit int) ([]model.DocumentKey, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(ks) <= limit {
		return ks, 0
	}
	return ks[:limit], len(ks) - limit
}

// ParseFile reads a key list from path on fs, keeping at most limit keys.
// The list is named after the file without its extension.
func ParseFile(fs afero.Fs, path string, limit int) (List, error) {
	f, err := fs.Open(path)
	if err != nil {
		return List{}, fmt.Errorf("open key list: %w", err)
	}
	defer f.Close()

	ks, err := Parse(f)
	if err != nil {
		return List{}, fmt.Errorf("%s: %w", path, err)
	}
	ks, dropped := Truncate(ks, limit)
	return List{Name: ListName(path), Keys: ks, Dropped: dropped}, nil
}

// ListName derives a list name from a file path.
func ListName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Validate checks a caller-built list: every key well formed, no more
// than limit entries, and at least one key.
func Validate(ks []model.DocumentKey, limit int) error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(ks) == 0 {
		return ErrEmpty
	}
	if len(ks) > limit {
		return fmt.Errorf("%w: %d (maximum %d)", ErrTooMany, len(ks), limit)
	}
	for i, k := range ks {
		if !model.IsValidKey(string(k)) {
			return fmt.Errorf("key %d: %w", i+1, model.ErrInvalidKey)
		}
	}
	return nil
}
