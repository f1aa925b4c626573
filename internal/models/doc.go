// Package models defines the persistent documents and the derived
// projections shared by the document store, the key-value index, and the
// background job pipeline.
package models
