// Package state provides the durable key/value store the scheduler persists
// version history blobs in. Keys are "{environment}/{organization}" with an
// optional "/{addonID}" suffix for addon flows.
package state

// Store is the minimal key/value contract the scheduler needs. The scheduler
// reads each organization's key once at cycle start and writes it at most
// once at cycle end, so implementations do not need transactions.
type Store interface {
	// Get returns the stored value; ok is false when the key is absent.
	Get(key string) (value []byte, ok bool, err error)
	// Put stores the value, overwriting any previous one.
	Put(key string, value []byte) error
	Close() error
}
