// Package providers contains the metadata-source clients and their shared
// registry. See provider.go for the Client contract.
package providers
