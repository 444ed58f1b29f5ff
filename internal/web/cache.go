package web

// cache is a small ring of encoded payloads keyed by their xxhash. When an
// outgoing payload is already present the server sends its 2-byte slot
// instead of the data; clients keep the same ring on their side.
type cache struct {
	entries []cacheEntry
	next    int
}

type cacheEntry struct {
	hash uint64
	data []byte
}

func newCache(size int) *cache {
	return &cache{entries: make([]cacheEntry, size)}
}

// index returns the slot holding hash, or -1. Slot 0 with a zero hash is
// never reported as a hit because an empty entry hashes to 0.
func (c *cache) index(hash uint64) int {
	if hash == 0 {
		return -1
	}
	for i := range c.entries {
		if c.entries[i].hash == hash {
			return i
		}
	}
	return -1
}

// add stores data in the next ring slot, evicting whatever was there, and
// returns the slot it used.
func (c *cache) add(hash uint64, data []byte) int {
	i := c.next
	c.entries[i] = cacheEntry{hash: hash, data: data}
	c.next = (c.next + 1) % len(c.entries)
	return i
}
