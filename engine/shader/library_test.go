package shader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSpirv(words int) []byte {
	buf := make([]byte, words*4)
	binary.LittleEndian.PutUint32(buf, spirvMagic)
	return buf
}

func TestRegisterAndStage(t *testing.T) {
	l := NewLibrary()

	code := fakeSpirv(8)
	require.NoError(t, l.Register(StagePBRVertex, code))
	assert.True(t, l.Has(StagePBRVertex))

	got, err := l.Stage(StagePBRVertex)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	_, err = l.Stage(StagePBRFragment)
	assert.Error(t, err)
}

func TestRegisterRejectsInvalidBinaries(t *testing.T) {
	l := NewLibrary()

	assert.Error(t, l.Register("short", []byte{1, 2, 3}))
	assert.Error(t, l.Register("unaligned", append(fakeSpirv(8), 0)))

	bad := fakeSpirv(8)
	bad[0] = 0
	assert.Error(t, l.Register("badmagic", bad))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pbr.vert.spv"), fakeSpirv(8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pbr.frag.spv"), fakeSpirv(8), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	l := NewLibrary()
	require.NoError(t, l.LoadDir(dir))
	assert.True(t, l.Has(StagePBRVertex))
	assert.True(t, l.Has(StagePBRFragment))
	assert.False(t, l.Has("notes"))

	assert.Error(t, l.LoadDir(filepath.Join(dir, "missing")))
}
