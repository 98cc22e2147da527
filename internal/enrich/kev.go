package enrich

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultKEVURL is the CISA Known Exploited Vulnerabilities feed.
const DefaultKEVURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

const (
	kevCacheTTL    = 24 * time.Hour
	kevHTTPTimeout = 15 * time.Second
)

var errFetchThrottled = errors.New("kev catalog fetch throttled")

// KEVEntry is one vulnerability in the CISA KEV catalog.
type KEVEntry struct {
	CVEID                     string `json:"cveID"`
	VendorProject             string `json:"vendorProject"`
	Product                   string `json:"product"`
	VulnerabilityName         string `json:"vulnerabilityName"`
	DateAdded                 string `json:"dateAdded"`
	ShortDescription          string `json:"shortDescription"`
	RequiredAction            string `json:"requiredAction"`
	DueDate                   string `json:"dueDate"`
	KnownRansomwareCampaignUse string `json:"knownRansomwareCampaignUse"`
	Notes                     string `json:"notes"`
}

// RansomwareUse reports whether the entry is tied to known ransomware
// campaigns.
func (e *KEVEntry) RansomwareUse() bool {
	return strings.EqualFold(e.KnownRansomwareCampaignUse, "Known")
}

type kevCatalog struct {
	CatalogVersion  string     `json:"catalogVersion"`
	DateReleased    string     `json:"dateReleased"`
	Vulnerabilities []KEVEntry `json:"vulnerabilities"`
}

// KEVMetadata describes the loaded catalog.
type KEVMetadata struct {
	Version string
	Date    string
	Count   int
}

// KEVClient answers "is this CVE actively exploited" against the CISA KEV
// catalog. The catalog is cached in memory and optionally on disk with a
// 24 hour TTL; when a refresh fails, a stale catalog is better than none,
// so lookups fall back to whatever was loaded last.
type KEVClient struct {
	url       string
	cacheFile string
	http      *resty.Client
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu        sync.Mutex
	entries   map[string]KEVEntry
	loadedAt  time.Time
	meta      KEVMetadata
}

// NewKEVClient creates a client caching the catalog at cacheFile. An empty
// cacheFile disables the disk cache.
func NewKEVClient(cacheFile string, logger *zap.Logger) *KEVClient {
	return &KEVClient{
		url:       DefaultKEVURL,
		cacheFile: cacheFile,
		http: resty.New().
			SetTimeout(kevHTTPTimeout).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		// The feed updates daily; one fetch per minute is already generous.
		limiter: rate.NewLimiter(rate.Every(time.Minute), 1),
		logger:  logger.Named("kev"),
		entries: make(map[string]KEVEntry),
	}
}

// SetURL overrides the catalog endpoint.
func (c *KEVClient) SetURL(url string) { c.url = url }

// IsExploited reports whether cveID is in the KEV catalog.
func (c *KEVClient) IsExploited(ctx context.Context, cveID string) bool {
	_, ok := c.Entry(ctx, cveID)
	return ok
}

// Entry returns the catalog entry for cveID, if present.
func (c *KEVClient) Entry(ctx context.Context, cveID string) (KEVEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded(ctx)
	entry, ok := c.entries[strings.ToUpper(cveID)]
	return entry, ok
}

// Entries returns the catalog entries for the exploited subset of cveIDs.
func (c *KEVClient) Entries(ctx context.Context, cveIDs []string) map[string]KEVEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded(ctx)
	out := make(map[string]KEVEntry)
	for _, id := range cveIDs {
		id = strings.ToUpper(id)
		if entry, ok := c.entries[id]; ok {
			out[id] = entry
		}
	}
	return out
}

// Metadata returns catalog version, release date and entry count.
func (c *KEVClient) Metadata(ctx context.Context) KEVMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureLoaded(ctx)
	return c.meta
}

// Refresh forces a catalog fetch, bypassing the TTL.
func (c *KEVClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetch(ctx)
}

// ensureLoaded makes the catalog available, preferring in that order a fresh
// in-memory copy, a fresh disk copy, a live fetch, and finally stale data.
// Callers hold c.mu.
func (c *KEVClient) ensureLoaded(ctx context.Context) {
	if len(c.entries) > 0 && time.Since(c.loadedAt) < kevCacheTTL {
		return
	}
	if c.loadFromDisk() && time.Since(c.loadedAt) < kevCacheTTL {
		return
	}
	if err := c.fetch(ctx); err != nil {
		if len(c.entries) > 0 {
			c.logger.Warn("Using stale KEV catalog", zap.Error(err))
		} else {
			c.logger.Error("KEV catalog unavailable", zap.Error(err))
		}
	}
}

func (c *KEVClient) loadFromDisk() bool {
	if c.cacheFile == "" {
		return false
	}
	info, err := os.Stat(c.cacheFile)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(c.cacheFile)
	if err != nil {
		c.logger.Warn("Failed to read KEV cache file", zap.Error(err))
		return false
	}
	var catalog kevCatalog
	if err := jsonAPI.Unmarshal(data, &catalog); err != nil {
		c.logger.Warn("Corrupt KEV cache file", zap.String("path", c.cacheFile), zap.Error(err))
		return false
	}
	c.index(&catalog)
	c.loadedAt = info.ModTime()
	c.logger.Info("Loaded KEV catalog from disk",
		zap.String("path", c.cacheFile),
		zap.Int("entries", len(c.entries)),
	)
	return true
}

func (c *KEVClient) fetch(ctx context.Context) error {
	// Non-blocking: when a recent fetch already failed, later lookups degrade
	// immediately instead of stalling on the limiter.
	if !c.limiter.Allow() {
		return errFetchThrottled
	}

	c.logger.Info("Fetching KEV catalog", zap.String("url", c.url))
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return fmt.Errorf("fetch KEV catalog: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fetch KEV catalog: unexpected status %s", resp.Status())
	}

	var catalog kevCatalog
	if err := jsonAPI.Unmarshal(resp.Body(), &catalog); err != nil {
		return fmt.Errorf("parse KEV catalog: %w", err)
	}

	c.index(&catalog)
	c.loadedAt = time.Now()
	c.saveToDisk(resp.Body())

	c.logger.Info("Loaded KEV catalog",
		zap.String("version", c.meta.Version),
		zap.String("released", c.meta.Date),
		zap.Int("entries", c.meta.Count),
	)
	return nil
}

func (c *KEVClient) index(catalog *kevCatalog) {
	c.entries = make(map[string]KEVEntry, len(catalog.Vulnerabilities))
	for _, entry := range catalog.Vulnerabilities {
		c.entries[strings.ToUpper(entry.CVEID)] = entry
	}
	c.meta = KEVMetadata{
		Version: catalog.CatalogVersion,
		Date:    catalog.DateReleased,
		Count:   len(catalog.Vulnerabilities),
	}
}

func (c *KEVClient) saveToDisk(data []byte) {
	if c.cacheFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cacheFile), 0o755); err != nil {
		c.logger.Warn("Failed to create KEV cache dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.cacheFile, data, 0o644); err != nil {
		c.logger.Warn("Failed to write KEV cache file", zap.Error(err))
	}
}
