package catalog

import "time"

// PersonalCollectionID is the reserved sentinel for the caller's personal
// collection. It never appears in listings; it only routes dataset and query
// calls to the personal-scope endpoints.
const PersonalCollectionID = "me"

// Collection is a catalog workspace visible to the service principal.
type Collection struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Personal          bool   `json:"personal"`
	ReadOnly          bool   `json:"read_only"`
	DedicatedCapacity bool   `json:"dedicated_capacity"`
}

// Dataset describes a queryable tabular dataset within a collection.
type Dataset struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	CollectionID     string `json:"collection_id"`
	CollectionName   string `json:"collection_name"`
	Refreshable      bool   `json:"refreshable"`
	RequiresIdentity bool   `json:"requires_identity"`

	// Relevance is attached to copies during context assembly. Cached
	// descriptors never carry a score.
	Relevance float64 `json:"relevance,omitempty"`
}

// QueryResult is the outcome of a single query execution attempt. Failures
// are carried inside the value; a result is produced on every path.
type QueryResult struct {
	Success     bool             `json:"success"`
	Rows        []map[string]any `json:"rows,omitempty"`
	Columns     []string         `json:"columns,omitempty"`
	RowCount    int              `json:"row_count"`
	Error       string           `json:"error,omitempty"`
	Elapsed     time.Duration    `json:"elapsed"`
	DatasetID   string           `json:"dataset_id,omitempty"`
	QueryHash   string           `json:"query_hash"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Validation reports the outcome of an end-to-end connectivity check against
// the catalog service.
type Validation struct {
	AuthConfigured        bool     `json:"auth_configured"`
	TokenAcquired         bool     `json:"token_acquired"`
	APIAccessible         bool     `json:"api_accessible"`
	CollectionsAccessible bool     `json:"collections_accessible"`
	CollectionCount       int      `json:"collection_count"`
	Errors                []string `json:"errors"`
	Warnings              []string `json:"warnings"`
}
