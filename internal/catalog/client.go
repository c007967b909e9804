// Package catalog talks to the cloud BI catalog service: collection and
// dataset discovery plus query execution. Listing failures degrade to empty
// results and query failures to structured failure values, so callers never
// see transport errors from this package.
package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/auth"
)

const (
	DefaultCollectionsTTL = 10 * time.Minute
	DefaultDatasetsTTL    = 5 * time.Minute

	defaultListTimeout  = 30 * time.Second
	defaultQueryTimeout = 60 * time.Second

	maxErrorDetailLen = 200
	maxResponseBytes  = 16 << 20
)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	HTTPClient *http.Client
	BaseURL    string

	// Auth may be nil when credentials are not configured; every call then
	// degrades the same way an unreachable service would.
	Auth auth.TokenProvider

	// Optional with defaults.
	CollectionsTTL time.Duration
	DatasetsTTL    time.Duration
	ListTimeout    time.Duration
	QueryTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.CollectionsTTL == 0 {
		c.CollectionsTTL = DefaultCollectionsTTL
	}
	if c.CollectionsTTL < 0 {
		return errors.New("collections TTL must be > 0")
	}
	if c.DatasetsTTL == 0 {
		c.DatasetsTTL = DefaultDatasetsTTL
	}
	if c.DatasetsTTL < 0 {
		return errors.New("datasets TTL must be > 0")
	}
	if c.ListTimeout == 0 {
		c.ListTimeout = defaultListTimeout
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	return nil
}

// Client lists collections and datasets with short-TTL caching and executes
// analytic query statements against datasets.
type Client struct {
	cfg   Config
	log   *slog.Logger
	cache *ttlcache.Cache[string, any]
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{
		cfg: cfg,
		log: cfg.Logger.With("component", "catalog"),
		cache: ttlcache.New(
			ttlcache.WithTTL[string, any](cfg.DatasetsTTL),
		),
	}, nil
}

// ListCollections returns the active collections visible to the caller. On
// any failure it logs and returns an empty slice, never an error.
func (c *Client) ListCollections(ctx context.Context, force bool) []Collection {
	cols, err := c.fetchCollections(ctx, force)
	if err != nil {
		c.log.Error("Failed to list collections", "error", err)
		return []Collection{}
	}
	return cols
}

// fetchCollections is the error-carrying variant behind ListCollections and
// ValidateConnection.
func (c *Client) fetchCollections(ctx context.Context, force bool) ([]Collection, error) {
	if force {
		c.cache.Delete(collectionsCacheKey)
	} else if cached := c.cachedCollections(); cached != nil {
		c.log.Debug("Using cached collection listing", "count", len(cached))
		return cached, nil
	}

	body, err := c.getJSON(ctx, c.cfg.BaseURL+"/collections")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Value []wireCollection `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode collection listing: %w", err)
	}

	cols := make([]Collection, 0, len(envelope.Value))
	for _, wc := range envelope.Value {
		if wc.State != "" && wc.State != "Active" {
			continue
		}
		cols = append(cols, Collection{
			ID:                wc.ID,
			Name:              wc.Name,
			Description:       wc.Description,
			Personal:          wc.IsPersonal,
			ReadOnly:          wc.IsReadOnly,
			DedicatedCapacity: wc.IsOnDedicatedCapacity,
		})
	}

	c.setCachedCollections(cols)
	c.log.Info("Retrieved active collections", "count", len(cols))
	return cols, nil
}

// ListDatasets returns the datasets of a collection. The personal sentinel
// routes to the personal-scope endpoint. On any failure it logs and returns
// an empty slice, never an error.
func (c *Client) ListDatasets(ctx context.Context, collectionID string, force bool) []Dataset {
	if force {
		c.cache.Delete(datasetsCacheKey(collectionID))
	} else if cached := c.cachedDatasets(collectionID); cached != nil {
		c.log.Debug("Using cached dataset listing", "collection", collectionID, "count", len(cached))
		return cached
	}

	var url, collectionName string
	if collectionID == PersonalCollectionID {
		url = c.cfg.BaseURL + "/datasets"
		collectionName = "My Workspace"
	} else {
		url = c.cfg.BaseURL + "/collections/" + collectionID + "/datasets"
		collectionName = c.resolveCollectionName(ctx, collectionID)
	}

	body, err := c.getJSON(ctx, url)
	if err != nil {
		c.log.Error("Failed to list datasets", "collection", collectionID, "error", err)
		return []Dataset{}
	}

	var envelope struct {
		Value []wireDataset `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.log.Error("Failed to decode dataset listing", "collection", collectionID, "error", err)
		return []Dataset{}
	}

	datasets := make([]Dataset, 0, len(envelope.Value))
	for _, wd := range envelope.Value {
		refreshable := true
		if wd.IsRefreshable != nil {
			refreshable = *wd.IsRefreshable
		}
		datasets = append(datasets, Dataset{
			ID:               wd.ID,
			Name:             wd.Name,
			CollectionID:     collectionID,
			CollectionName:   collectionName,
			Refreshable:      refreshable,
			RequiresIdentity: wd.IsEffectiveIdentityRequired,
		})
	}

	c.setCachedDatasets(collectionID, datasets)
	c.log.Info("Retrieved datasets", "collection", collectionName, "count", len(datasets))
	return datasets
}

// FindCollectionByName matches case-insensitively over the (possibly cached)
// listing. Returns nil when not found.
func (c *Client) FindCollectionByName(ctx context.Context, name string) *Collection {
	for _, col := range c.ListCollections(ctx, false) {
		if strings.EqualFold(col.Name, name) {
			return &col
		}
	}
	c.log.Warn("Collection not found", "name", name)
	return nil
}

// FindDatasetByName matches case-insensitively over the (possibly cached)
// listing of one collection. Returns nil when not found.
func (c *Client) FindDatasetByName(ctx context.Context, collectionID, name string) *Dataset {
	for _, ds := range c.ListDatasets(ctx, collectionID, false) {
		if strings.EqualFold(ds.Name, name) {
			return &ds
		}
	}
	c.log.Warn("Dataset not found", "collection", collectionID, "name", name)
	return nil
}

// ExecuteQuery runs one analytic statement against a dataset. Every failure
// path yields a structured failure result; the error return is reserved for
// conditions where no result could be built and is nil in practice.
func (c *Client) ExecuteQuery(ctx context.Context, datasetID, statement string) (QueryResult, error) {
	start := c.cfg.Clock.Now()
	hash := queryHash(datasetID, statement)

	fail := func(msg string) (QueryResult, error) {
		return QueryResult{
			Success:     false,
			Error:       msg,
			Elapsed:     c.cfg.Clock.Since(start),
			DatasetID:   datasetID,
			QueryHash:   hash,
			CompletedAt: c.cfg.Clock.Now(),
		}, nil
	}

	token, err := c.token(ctx)
	if err != nil {
		c.log.Error("No access token for query execution", "dataset", shortID(datasetID), "error", err)
		return fail("no access token available")
	}

	payload, err := json.Marshal(map[string]any{
		"queries":            []map[string]string{{"query": statement}},
		"serializerSettings": map[string]bool{"includeNulls": true},
	})
	if err != nil {
		return fail(fmt.Sprintf("encode query payload: %v", err))
	}

	qctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/datasets/" + datasetID + "/executeQueries"
	req, err := http.NewRequestWithContext(qctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fail(fmt.Sprintf("build query request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.log.Info("Executing query", "dataset", shortID(datasetID), "hash", hash)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fail(fmt.Sprintf("error executing query: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(fmt.Sprintf("error reading query response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > maxErrorDetailLen {
			detail = detail[:maxErrorDetailLen]
		}
		c.log.Error("Query failed", "dataset", shortID(datasetID), "status", resp.StatusCode)
		return fail(fmt.Sprintf("%s (status %d): %s", errorCategory(resp.StatusCode), resp.StatusCode, detail))
	}

	var envelope struct {
		Results []struct {
			Tables []struct {
				Rows []map[string]any `json:"rows"`
			} `json:"tables"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fail(fmt.Sprintf("error decoding query response: %v", err))
	}
	if len(envelope.Results) == 0 {
		return fail("no results returned from query")
	}

	var rows []map[string]any
	if tables := envelope.Results[0].Tables; len(tables) > 0 {
		rows = tables[0].Rows
	}

	elapsed := c.cfg.Clock.Since(start)
	c.log.Info("Query succeeded", "dataset", shortID(datasetID), "rows", len(rows), "elapsed", elapsed)

	return QueryResult{
		Success:     true,
		Rows:        rows,
		Columns:     columnsOf(rows),
		RowCount:    len(rows),
		Elapsed:     elapsed,
		DatasetID:   datasetID,
		QueryHash:   hash,
		CompletedAt: c.cfg.Clock.Now(),
	}, nil
}

// ValidateConnection checks auth, API reachability and collection visibility
// end to end, bypassing caches.
func (c *Client) ValidateConnection(ctx context.Context) Validation {
	v := Validation{
		AuthConfigured: c.cfg.Auth != nil,
		Errors:         []string{},
		Warnings:       []string{},
	}
	if !v.AuthConfigured {
		v.Errors = append(v.Errors, "authentication not configured")
		return v
	}

	if _, err := c.cfg.Auth.AccessToken(ctx); err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("failed to acquire access token: %v", err))
		return v
	}
	v.TokenAcquired = true

	cols, err := c.fetchCollections(ctx, true)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("API access error: %v", err))
		return v
	}
	v.APIAccessible = true
	v.CollectionCount = len(cols)
	if len(cols) > 0 {
		v.CollectionsAccessible = true
	} else {
		v.Warnings = append(v.Warnings, "no collections accessible - check permissions")
	}
	return v
}

// ClearCache drops all cached listings.
func (c *Client) ClearCache() {
	c.cache.DeleteAll()
	c.log.Info("Catalog cache cleared")
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.cfg.Auth == nil {
		return "", errors.New("authentication not configured")
	}
	return c.cfg.Auth.AccessToken(ctx)
}

// resolveCollectionName resolves a display name from the (possibly cached)
// listing.
func (c *Client) resolveCollectionName(ctx context.Context, collectionID string) string {
	for _, col := range c.ListCollections(ctx, false) {
		if col.ID == collectionID {
			return col.Name
		}
	}
	return "Unknown Collection"
}

func (c *Client) getJSON(ctx context.Context, url string) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("no access token available: %w", err)
	}

	lctx, cancel := context.WithTimeout(ctx, c.cfg.ListTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(lctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > maxErrorDetailLen {
			detail = detail[:maxErrorDetailLen]
		}
		return nil, fmt.Errorf("service returned status %d: %s", resp.StatusCode, detail)
	}
	return body, nil
}

type wireCollection struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Description           string `json:"description"`
	IsPersonal            bool   `json:"isPersonal"`
	Type                  string `json:"type"`
	State                 string `json:"state"`
	IsReadOnly            bool   `json:"isReadOnly"`
	IsOnDedicatedCapacity bool   `json:"isOnDedicatedCapacity"`
}

type wireDataset struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	IsRefreshable               *bool  `json:"isRefreshable"`
	IsEffectiveIdentityRequired bool   `json:"isEffectiveIdentityRequired"`
}

func errorCategory(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad query syntax"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "dataset not found"
	default:
		return "query failed"
	}
}

// queryHash is a short content hash of (dataset, statement) for dedup and
// log correlation.
func queryHash(datasetID, statement string) string {
	sum := sha256.Sum256([]byte(datasetID + ":" + statement))
	return hex.EncodeToString(sum[:])[:12]
}

// columnsOf derives a deterministic column order from the first row.
func columnsOf(rows []map[string]any) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}
