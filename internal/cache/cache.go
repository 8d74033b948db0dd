package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/teamcutter/patchr/internal/state"
)

// DiskCache stores opaque blobs under dir, one file per key. Freshness is
// judged from the file's modification time at read time.
type DiskCache struct {
	sync.RWMutex
	dir string
	now func() time.Time
}

func New(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &DiskCache{dir: dir, now: time.Now}, nil
}

func (c *DiskCache) Dir() string {
	return c.dir
}

// Get returns the blob for key if it was stored less than ttl ago.
// A ttl of zero or less disables the age check.
func (c *DiskCache) Get(key string, ttl time.Duration) ([]byte, bool) {
	c.RLock()
	defer c.RUnlock()

	path := c.getPath(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if ttl > 0 && c.now().Sub(info.ModTime()) > ttl {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	return data, true
}

func (c *DiskCache) Put(key string, data []byte) error {
	c.Lock()
	defer c.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return err
	}

	path := c.getPath(key)
	if err := state.AtomicWriteFile(path, bytes.NewReader(data), 0644); err != nil {
		return err
	}

	now := c.now()
	return os.Chtimes(path, now, now)
}

func (c *DiskCache) Size() (int64, error) {
	c.RLock()
	defer c.RUnlock()

	var size int64

	err := filepath.Walk(c.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}

func (c *DiskCache) Clear() error {
	c.Lock()
	defer c.Unlock()

	return os.RemoveAll(c.dir)
}

func (c *DiskCache) getPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}
