package catalog

import "slices"

const collectionsCacheKey = "collections"

func datasetsCacheKey(collectionID string) string {
	return "datasets:" + collectionID
}

// Cached reads hand out clones so callers can annotate descriptors without
// mutating cache entries.

func (c *Client) cachedCollections() []Collection {
	cached := c.cache.Get(collectionsCacheKey)
	if cached == nil {
		return nil
	}
	return slices.Clone(cached.Value().([]Collection))
}

func (c *Client) setCachedCollections(cols []Collection) {
	c.cache.Set(collectionsCacheKey, cols, c.cfg.CollectionsTTL)
}

func (c *Client) cachedDatasets(collectionID string) []Dataset {
	cached := c.cache.Get(datasetsCacheKey(collectionID))
	if cached == nil {
		return nil
	}
	return slices.Clone(cached.Value().([]Dataset))
}

func (c *Client) setCachedDatasets(collectionID string, datasets []Dataset) {
	c.cache.Set(datasetsCacheKey(collectionID), datasets, c.cfg.DatasetsTTL)
}
