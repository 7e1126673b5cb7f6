package clht

// ============================================================================
// Configuration
// ============================================================================

// DefaultLockRetries is the number of failed lock attempts after which a
// write gives up with ErrLockTimeout.
const DefaultLockRetries = 10000

// Config defines configurable options for Table initialization.
// Fields are set through the With* functions and read once by NewTable.
type Config struct {
	// storage selects how key bytes are kept.
	storage StorageKind

	// hashKind selects the built-in hash function. Ignored when keyHash is
	// set.
	hashKind HashKind

	// keyHash overrides the built-in hash function.
	keyHash func(key []byte) uint64

	// lockRetries bounds the number of failed lock attempts of a write.
	// Zero or negative means wait forever.
	lockRetries int

	// arenaLimit caps the bytes the arena may hand out; zero is unlimited.
	arenaLimit int

	// poolSize is the initial pool buffer size for StoragePooled.
	poolSize int

	// poolLimit caps the bytes the pool may hand out; zero means the
	// addressable maximum.
	poolLimit int
}

func defaultConfig() Config {
	return Config{
		storage:     StorageArena,
		hashKind:    HashCity,
		lockRetries: DefaultLockRetries,
	}
}

// WithStorage selects the key storage strategy. The default is
// StorageArena.
func WithStorage(kind StorageKind) func(*Config) {
	return func(c *Config) {
		c.storage = kind
	}
}

// WithHasher selects one of the built-in hash functions. The default is
// HashCity.
func WithHasher(kind HashKind) func(*Config) {
	return func(c *Config) {
		c.hashKind = kind
		c.keyHash = nil
	}
}

// WithKeyHasher sets a custom key hashing function. The function must be
// deterministic; the table uses its top seven bits as slot tag and its low
// bits as bucket index, so both ends need entropy.
//
// Usage:
//
//	t := NewTable(1024, WithKeyHasher(func(k []byte) uint64 {
//		return xxhash.Sum64(k)
//	}))
func WithKeyHasher(keyHash func(key []byte) uint64) func(*Config) {
	return func(c *Config) {
		c.keyHash = keyHash
	}
}

// WithLockRetries bounds how often a write retries the bucket lock before
// returning ErrLockTimeout. Zero or negative waits forever.
func WithLockRetries(n int) func(*Config) {
	return func(c *Config) {
		c.lockRetries = n
	}
}

// WithArenaLimit caps the key bytes held by the arena of StorageArena and
// StorageHybrid tables. Inserts beyond it fail with ErrAllocationFailure.
func WithArenaLimit(bytes int) func(*Config) {
	return func(c *Config) {
		c.arenaLimit = bytes
	}
}

// WithPoolSize sets the initial pool buffer size of StoragePooled tables.
// Zero or negative selects 16 MiB.
func WithPoolSize(bytes int) func(*Config) {
	return func(c *Config) {
		c.poolSize = bytes
	}
}

// WithPoolLimit caps the key bytes held by the pool of StoragePooled tables.
// Inserts beyond it fail with ErrAllocationFailure.
func WithPoolLimit(bytes int) func(*Config) {
	return func(c *Config) {
		c.poolLimit = bytes
	}
}

func (c *Config) hasher() func([]byte) uint64 {
	if c.keyHash != nil {
		return c.keyHash
	}
	return c.hashKind.hasher()
}
