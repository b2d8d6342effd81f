// Package poll waits on long-running remote operations with a fixed interval
// and a bounded number of attempts. Exhausted attempts are reported as errors
// naming the last remote status, never as success.
package poll
