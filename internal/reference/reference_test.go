package reference

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brushline/wildcall/internal/domain"
)

func writeReferenceFile(t *testing.T, numFrames, numCoeffs uint32) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ref.bin")

	buf := make([]byte, headerSize+int(numFrames)*int(numCoeffs)*4)
	binary.LittleEndian.PutUint32(buf[0:4], numFrames)
	binary.LittleEndian.PutUint32(buf[4:8], numCoeffs)

	offset := headerSize
	value := float32(0)
	for i := uint32(0); i < numFrames*numCoeffs; i++ {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], math.Float32bits(value))
		value += 1
		offset += 4
	}

	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadParsesHeaderAndFrames(t *testing.T) {
	path := writeReferenceFile(t, 3, 13)
	c := New()

	frames, err := c.Load(path)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 13)
	assert.Equal(t, float32(0), frames[0][0])
	assert.Equal(t, float32(13), frames[1][0])
}

func TestLoadSharesEntryAcrossCallers(t *testing.T) {
	path := writeReferenceFile(t, 2, 4)
	c := New()

	a, err := c.Load(path)
	require.NoError(t, err)
	b, err := c.Load(path)
	require.NoError(t, err)

	tokenBefore, ok := c.LoadToken(path)
	require.True(t, ok)
	assert.NotEmpty(t, tokenBefore)

	assert.Equal(t, &a[0][0], &b[0][0], "repeated loads of the same path share the backing array")
}

func TestReleaseEvictsAtZeroRefcount(t *testing.T) {
	path := writeReferenceFile(t, 1, 2)
	c := New()

	_, err := c.Load(path)
	require.NoError(t, err)
	c.Release(path)

	_, ok := c.LoadToken(path)
	assert.False(t, ok)
}

func TestLoadMissingFileIsFileNotFound(t *testing.T) {
	c := New()
	_, err := c.Load("/nonexistent/path/ref.bin")
	require.Error(t, err)
	assert.Equal(t, domain.StatusFileNotFound, domain.StatusOf(err))
}

func TestLoadRejectsImplausibleHeader(t *testing.T) {
	path := writeReferenceFile(t, 1, 1000) // exceeds maxNumCoeffs
	c := New()
	_, err := c.Load(path)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truncated.bin")
	buf := make([]byte, headerSize+4)
	binary.LittleEndian.PutUint32(buf[0:4], 10)
	binary.LittleEndian.PutUint32(buf[4:8], 13)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	c := New()
	_, err := c.Load(path)
	require.Error(t, err)
	assert.Equal(t, domain.StatusInvalidParams, domain.StatusOf(err))
}
