// Package catalog loads extension catalogs.
//
// A catalog is a JSON document listing installable extensions:
//
//	{"extensions": [{"name": "tools", "type": "ui", "url": "https://..."}]}
//
// Catalog sources are local file paths or http(s) URLs. Remote catalogs are
// cached on disk and refreshed once the cache entry is older than the
// configured TTL; a stale cache is used when the source cannot be reached.
// Every catalog is checked against an embedded JSON schema before its entries
// are trusted.
package catalog
