package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// Document is the JSON layout of a catalog file.
//
//	{
//	  "platforms": [{"id": "twitter", "name": "Twitter / X",
//	                 "actions": [{"id": "follow", "min_reward": 25, "default_reward": 50}]}],
//	  "packages": [{"id": "starter", "points": 1000, "bonus": 0, "price_eth": "0.01"}],
//	  "official_tasks": [{"platform": "twitter", "action": "follow", "title": "...", "url": "..."}]
//	}
//
// Omitted sections fall back to the built-in defaults.
type Document struct {
	Platforms     []Platform     `json:"platforms"`
	Packages      []Package      `json:"packages"`
	OfficialTasks []OfficialTask `json:"official_tasks"`
}

// Parse builds a Catalog from a JSON document.
func Parse(data []byte) (*Catalog, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if doc.Platforms == nil {
		doc.Platforms = DefaultPlatforms()
	}
	if doc.Packages == nil {
		doc.Packages = DefaultPackages()
	}
	if doc.OfficialTasks == nil {
		doc.OfficialTasks = DefaultOfficialTasks()
	}
	return New(doc.Platforms, doc.Packages, doc.OfficialTasks)
}

// Load reads a catalog file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Document returns the catalog in its JSON layout.
func (c *Catalog) Document() Document {
	return Document{
		Platforms:     c.Platforms(),
		Packages:      c.Packages(),
		OfficialTasks: c.OfficialTasks(),
	}
}
