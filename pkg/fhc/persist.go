package fhc

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Save persists the cache as a flat binary file: a sequence of 40-byte
// records (primary[20], metadata[20]), no header, no framing, oldest
// (LRU tail) entries written first so that Load replays them in the same
// relative order.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fhc: failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var buf [recordSize]byte

	for el := c.ll.Back(); el != nil; el = el.Prev() {
		ent := el.Value.(*entry)
		copy(buf[0:digestSize], ent.primary[:])
		copy(buf[digestSize:recordSize], ent.metadata[:])
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("fhc: failed to write record: %w", err)
		}
	}
	return w.Flush()
}

// Load populates the cache from a file previously written by Save.
// Existing entries are not cleared; callers that want a clean load should
// construct a fresh Cache first.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fhc: failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var buf [recordSize]byte

	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fhc: failed to read record: %w", err)
		}

		var primary, metadata [digestSize]byte
		copy(primary[:], buf[0:digestSize])
		copy(metadata[:], buf[digestSize:recordSize])
		c.Push(primary, metadata)
	}
}
