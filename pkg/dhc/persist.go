package dhc

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Save persists the cache as UTF-8 CSV, one entry per line:
// key,expiry_epoch_seconds,hostname
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dhc: failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for k, e := range c.m {
		line := fmt.Sprintf("%s,%d,%s\n", k, e.expiresAt.Unix(), e.hostname)
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("dhc: failed to write entry: %w", err)
		}
	}
	return w.Flush()
}

// Load populates the cache from a CSV file previously written by Save.
// Malformed lines are skipped.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("dhc: failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		if len(rec) != 3 {
			continue
		}
		epoch, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			continue
		}
		c.m[rec[0]] = entry{
			expiresAt: time.Unix(epoch, 0),
			hostname:  rec[2],
		}
	}
	return nil
}
