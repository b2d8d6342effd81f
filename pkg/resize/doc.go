// Package resize decides what a resize changes on each node and whether the
// change is possible at all. It performs no I/O besides catalog lookups.
package resize
