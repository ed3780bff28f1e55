// Package assets manages artwork candidates: scoring provider offerings,
// storing downloaded files in a content-addressed cache, and matching new
// images against already-downloaded ones by perceptual hash.
package assets
