package services

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"idx-pipeline/models"
	"idx-pipeline/storage"
	"idx-pipeline/utils"
)

var (
	// digitsRegexp captures the first digit run, commas allowed
	digitsRegexp = regexp.MustCompile(`\d[\d,]*`)
	// numberRegexp captures an integer or decimal value
	numberRegexp = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// Cleaner turns extracted PropertyRecords into catalog entries.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean converts valid records, dropping invalid ones and duplicates (same
// mls id, or same normalized address when there is no mls id).
func (c *Cleaner) Clean(records []*models.PropertyRecord) []*models.CatalogEntry {
	seen := make(map[string]struct{})
	result := make([]*models.CatalogEntry, 0, len(records))

	for _, r := range records {
		if !r.Valid() {
			c.logger.Debug("[cleaner] Dropping invalid record from %s", pageOf(r))
			continue
		}

		key := "mls:" + strings.TrimSpace(r.MLSID)
		if r.MLSID == "" {
			key = "addr:" + models.NormalizeAddress(r.Address)
		}
		if _, dup := seen[key]; dup {
			c.logger.Debug("[cleaner] Duplicate record skipped: %s", key)
			continue
		}
		seen[key] = struct{}{}

		result = append(result, c.ToEntry(r))
	}

	c.logger.Info("[cleaner] Cleaned %d → %d records (dropped %d)",
		len(records), len(result), len(records)-len(result))
	return result
}

// ToEntry converts one record. Unparsable numbers become zero.
func (c *Cleaner) ToEntry(r *models.PropertyRecord) *models.CatalogEntry {
	ts := r.ExtractedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	images := r.Images
	if images == nil {
		images = []string{}
	}
	return &models.CatalogEntry{
		MLSID:     strings.TrimSpace(r.MLSID),
		Address:   normaliseText(r.Address),
		Price:     parsePrice(r.Price),
		Beds:      parseBeds(r.Beds),
		Baths:     parseBaths(r.Baths),
		Sqft:      parseSqft(r.Sqft),
		Images:    images,
		PageURL:   strings.TrimSpace(r.PageURL),
		Status:    "active",
		Source:    models.SourceIDX,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// parsePrice reads whole dollars: "$1,250,000" -> 1250000.
func parsePrice(raw string) int64 {
	match := digitsRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseInt(strings.ReplaceAll(match, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseBeds rounds half bedrooms down.
func parseBeds(raw string) int {
	f := parseBaths(raw)
	return int(math.Floor(f))
}

func parseBaths(raw string) float64 {
	match := numberRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseSqft(raw string) int {
	return int(parsePrice(raw))
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func pageOf(r *models.PropertyRecord) string {
	if r == nil || r.PageURL == "" {
		return "<unknown page>"
	}
	return r.PageURL
}

// Import cleans records and writes the survivors to the catalog. It stops at
// the first store error and reports how many entries were written.
func (c *Cleaner) Import(ctx context.Context, store storage.CatalogStore, records []*models.PropertyRecord) (int, error) {
	sink := CatalogSink{Store: store, Cleaner: c, Logger: c.logger}
	stored := 0
	for _, e := range c.Clean(records) {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if _, err := sink.upsert(ctx, e); err != nil {
			return stored, err
		}
		stored++
	}
	c.logger.Info("[cleaner] Imported %d entries", stored)
	return stored, nil
}

// CatalogSink persists an extracted record: by mls id when it has one,
// otherwise by address.
type CatalogSink struct {
	Store   storage.CatalogStore
	Cleaner *Cleaner
	Logger  *utils.Logger
}

func (s CatalogSink) Broadcast(ctx context.Context, session string, rec *models.PropertyRecord) error {
	entry := s.Cleaner.ToEntry(rec)
	id, err := s.upsert(ctx, entry)
	if err != nil {
		return err
	}
	s.Logger.Info("[catalog] %s stored %q as entry %d", session, entry.Address, id)
	return nil
}

func (s CatalogSink) upsert(ctx context.Context, e *models.CatalogEntry) (int64, error) {
	if e.MLSID != "" {
		return s.Store.UpsertByKey(ctx, e)
	}
	return s.Store.UpsertByAddress(ctx, e)
}
