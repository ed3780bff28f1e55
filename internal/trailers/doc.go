// Package trailers verifies and ranks provider-listed trailers. Verification
// is two-step: a cheap oEmbed probe confirms the video exists before the
// expensive metadata extraction runs, and ambiguous extraction failures are
// settled by a confirmatory re-probe.
package trailers
