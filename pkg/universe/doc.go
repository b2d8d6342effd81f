// Package universe is the lock-scoped repository of universes. A task
// acquires a Handle, which holds the universe's single-writer lock, and every
// node or intent mutation goes through that handle until it is released.
package universe
