// Package reference implements the master-reference feature-file
// loader and its reference-counted cache (spec §6, §3 "Ownership").
//
// Grounded on hammamikhairi-otto's internal/recipe/memory.go: the
// mutex-guarded, load-once-then-serve in-memory cache shape is
// adapted here from JSON-recipe parsing to the flat binary feature-
// file header format of spec §6, and gains reference counting so the
// same path loaded into multiple sessions shares one immutable
// backing array (spec §3: "implementations may share it by reference
// counting but must never mutate it").
package reference

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/brushline/wildcall/internal/domain"
	"github.com/brushline/wildcall/internal/logger"
)

const (
	headerSize   = 8
	maxNumCoeffs = 256
	maxNumFrames = 1 << 24
)

var _ domain.ReferenceLoader = (*Cache)(nil)

type entry struct {
	frames   []domain.FeatureVector
	refCount int
	token    string
}

// Cache loads master-reference feature files from disk and serves
// them to sessions, sharing one immutable backing slice per path
// across concurrent loaders.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *logger.Logger
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithLogger attaches a logger for cache hit/miss/evict tracing.
func WithLogger(log *logger.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// New creates an empty reference Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		log:     logger.New(logger.LevelOff, io.Discard),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load resolves idOrPath to an ordered feature sequence, reading and
// parsing the file on first use and sharing the parsed result (by
// reference count) on subsequent loads of the same path.
func (c *Cache) Load(idOrPath string) ([]domain.FeatureVector, error) {
	c.mu.Lock()
	if e, ok := c.entries[idOrPath]; ok {
		e.refCount++
		c.mu.Unlock()
		c.log.Debug("reference: cache hit for %s (refcount=%d)", idOrPath, e.refCount)
		return e.frames, nil
	}
	c.mu.Unlock()

	c.log.Debug("reference: cache miss for %s, parsing from disk", idOrPath)
	frames, err := parseFile(idOrPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[idOrPath]; ok {
		// Another caller loaded it first while we were parsing.
		e.refCount++
		return e.frames, nil
	}
	c.entries[idOrPath] = &entry{frames: frames, refCount: 1, token: uuid.NewString()}
	return frames, nil
}

// Release decrements the reference count for idOrPath, evicting it
// from the cache once no session holds it.
func (c *Cache) Release(idOrPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[idOrPath]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(c.entries, idOrPath)
		c.log.Debug("reference: evicted %s (refcount reached 0)", idOrPath)
	}
}

// LoadToken returns the opaque token identifying the cache entry
// backing idOrPath, useful for callers that want to detect whether
// two sessions ended up sharing the same loaded reference. Reports
// false if idOrPath is not currently loaded.
func (c *Cache) LoadToken(idOrPath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[idOrPath]
	if !ok {
		return "", false
	}
	return e.token, true
}

// parseFile reads the flat binary header format documented in spec
// §6: num_frames (u32), num_coeffs (u32), then num_frames*num_coeffs
// row-major float32s, all read as little-endian.
func parseFile(path string) ([]domain.FeatureVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Wrap(domain.StatusFileNotFound, "reference: could not read feature file", err)
	}
	if len(data) < headerSize {
		return nil, domain.NewError(domain.StatusInvalidParams, "reference: file too short for header")
	}

	numFrames := binary.LittleEndian.Uint32(data[0:4])
	numCoeffs := binary.LittleEndian.Uint32(data[4:8])
	if numCoeffs == 0 || numCoeffs > maxNumCoeffs {
		return nil, domain.NewError(domain.StatusInvalidParams, "reference: implausible num_coeffs in header")
	}
	if numFrames > maxNumFrames {
		return nil, domain.NewError(domain.StatusInvalidParams, "reference: implausible num_frames in header")
	}

	expected := headerSize + int(numFrames)*int(numCoeffs)*4
	if len(data) < expected {
		return nil, domain.NewError(domain.StatusInvalidParams, "reference: file shorter than header declares")
	}

	frames := make([]domain.FeatureVector, numFrames)
	offset := headerSize
	for i := range frames {
		row := make(domain.FeatureVector, numCoeffs)
		for j := range row {
			bits := binary.LittleEndian.Uint32(data[offset : offset+4])
			row[j] = math.Float32frombits(bits)
			offset += 4
		}
		frames[i] = row
	}
	return frames, nil
}
