// Package nodepool bounds how many servers parallel workers use at once.
//
// A Pool is filled by Populate with candidates that answer a health ping and
// then hands addresses out through a channel sized to the desired
// parallelism. Acquire blocks until an address is released or the context
// ends. Populating no server at all is an error; populating fewer than asked
// for is logged and accepted.
package nodepool
