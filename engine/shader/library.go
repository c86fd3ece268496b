// Package shader loads and serves the engine's precompiled SPIR-V binaries.
// Shaders are compiled offline; at runtime they are only validated and handed
// to pipeline creation.
package shader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prismgfx/prism/engine/logger"
)

// spirvMagic is the first word of every valid SPIR-V module.
const spirvMagic = 0x07230203

// Stage names the shader stages the renderer asks for.
const (
	StagePBRVertex      = "pbr.vert"
	StagePBRFragment    = "pbr.frag"
	StageSkyboxVertex   = "skybox.vert"
	StageSkyboxFragment = "skybox.frag"
	StageIrradiance     = "irradiance.comp"
	StagePrefilter      = "prefilter.comp"
)

// library is the implementation of the Library interface.
type library struct {
	mu     *sync.RWMutex
	stages map[string][]byte
}

// Library holds validated SPIR-V stage binaries keyed by stage name.
type Library interface {
	// Register validates and stores one SPIR-V binary under a stage name.
	//
	// Parameters:
	//   - name: the stage name (e.g. "pbr.vert")
	//   - code: the SPIR-V binary
	//
	// Returns:
	//   - error: non-nil if the binary is not valid SPIR-V
	Register(name string, code []byte) error

	// LoadDir registers every *.spv file in a directory; the stage name is
	// the file name without the .spv suffix.
	//
	// Parameters:
	//   - dir: the directory to scan
	//
	// Returns:
	//   - error: non-nil if the directory is unreadable or a file is invalid
	LoadDir(dir string) error

	// Stage returns a registered binary.
	//
	// Parameters:
	//   - name: the stage name
	//
	// Returns:
	//   - []byte: the SPIR-V binary
	//   - error: non-nil if the stage was never registered
	Stage(name string) ([]byte, error)

	// Has reports whether a stage is registered.
	Has(name string) bool
}

// Ensure library implements Library.
var _ Library = &library{}

// NewLibrary creates an empty shader library.
//
// Returns:
//   - Library: the library
func NewLibrary() Library {
	return &library{
		mu:     &sync.RWMutex{},
		stages: map[string][]byte{},
	}
}

func (l *library) Register(name string, code []byte) error {
	if err := validate(name, code); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages[name] = code
	return nil
}

func (l *library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "read shader directory %s", dir)
	}

	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".spv") {
			continue
		}
		code, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return errors.Wrapf(err, "read shader %s", e.Name())
		}
		if err := l.Register(strings.TrimSuffix(e.Name(), ".spv"), code); err != nil {
			return err
		}
		loaded++
	}

	logger.Info("shader library loaded",
		zap.String("dir", dir),
		zap.Int("stages", loaded),
	)
	return nil
}

func (l *library) Stage(name string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	code, ok := l.stages[name]
	if !ok {
		return nil, errors.Errorf("shader stage %q not registered", name)
	}
	return code, nil
}

func (l *library) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.stages[name]
	return ok
}

// validate checks the minimum shape of a SPIR-V module: word-aligned with the
// magic number in either endianness.
func validate(name string, code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return errors.Errorf("shader %q: truncated SPIR-V (%d bytes)", name, len(code))
	}
	le := uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24
	be := uint32(code[3]) | uint32(code[2])<<8 | uint32(code[1])<<16 | uint32(code[0])<<24
	if le != spirvMagic && be != spirvMagic {
		return errors.Errorf("shader %q: bad SPIR-V magic 0x%08x", name, le)
	}
	return nil
}
