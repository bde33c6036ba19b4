// Package http serves the local, read-mostly status surface: health, the
// guiding session snapshot, the latest sample and frame, and the scatter
// history.
package http
