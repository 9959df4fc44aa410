// Package settings provides the key-value store the profile host keeps
// its persistent state in.
package settings

// A Store holds string, int and sorted string set values under
// namespaced keys. Get methods return the default, or an empty set,
// for a missing key or a value of another type.
type Store interface {
	GetString(key, def string) string
	PutString(key, v string) error

	GetInt(key string, def int) int
	PutInt(key string, v int) error

	// GetStringSet returns the set in sorted order.
	GetStringSet(key string) []string
	PutStringSet(key string, v []string) error

	Remove(key string) error
	Keys() []string
}
