package loader

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	errInvalidGLTFVersion = errors.New("invalid glTF version: must be 2.0")
	errInvalidGLBMagic    = errors.New("invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("GLB file missing JSON chunk")
	errBufferSizeMismatch = errors.New("buffer size mismatch")
)

const (
	glbMagic     = 0x46546C67 // "glTF"
	glbChunkJSON = 0x4E4F534A // "JSON"
	glbChunkBIN  = 0x004E4942 // "BIN\0"
)

// gltfParser holds a parsed document plus its resolved binary buffers. It is
// internal to the loader package: the importer walks the document and reads
// typed accessor data through it.
type gltfParser struct {
	baseDir  string
	document *gltfDocument
	buffers  [][]byte
}

// parse loads a .gltf (JSON) or .glb (binary) file and resolves every
// buffer, including external and data-URI references.
func (p *gltfParser) parse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	p.baseDir = filepath.Dir(path)

	var jsonChunk, binChunk []byte
	if len(data) >= 12 && binary.LittleEndian.Uint32(data[0:4]) == glbMagic {
		jsonChunk, binChunk, err = splitGLB(data)
		if err != nil {
			return err
		}
	} else {
		jsonChunk = data
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonChunk, &doc); err != nil {
		return errors.Wrap(err, "failed to parse glTF JSON")
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return errInvalidGLTFVersion
	}
	p.document = &doc

	return p.resolveBuffers(binChunk)
}

// splitGLB extracts the JSON and optional binary chunks from a GLB container.
func splitGLB(data []byte) (jsonChunk, binChunk []byte, err error) {
	if binary.LittleEndian.Uint32(data[0:4]) != glbMagic {
		return nil, nil, errInvalidGLBMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != 2 {
		return nil, nil, errInvalidGLBVersion
	}

	offset := 12
	for offset+8 <= len(data) {
		length := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		kind := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8
		if offset+length > len(data) {
			return nil, nil, errors.New("GLB chunk extends past end of file")
		}
		chunk := data[offset : offset+length]
		switch kind {
		case glbChunkJSON:
			jsonChunk = chunk
		case glbChunkBIN:
			binChunk = chunk
		}
		offset += length
	}
	if jsonChunk == nil {
		return nil, nil, errMissingJSONChunk
	}
	return jsonChunk, binChunk, nil
}

// resolveBuffers loads every buffer's bytes. An empty URI refers to the GLB
// binary chunk.
func (p *gltfParser) resolveBuffers(binChunk []byte) error {
	p.buffers = make([][]byte, len(p.document.Buffers))
	for i, buf := range p.document.Buffers {
		var data []byte
		switch {
		case buf.URI == "":
			data = binChunk
		case strings.HasPrefix(buf.URI, "data:"):
			idx := strings.Index(buf.URI, ",")
			if idx < 0 {
				return errors.Errorf("buffer %d: malformed data URI", i)
			}
			decoded, err := base64.StdEncoding.DecodeString(buf.URI[idx+1:])
			if err != nil {
				return errors.Wrapf(err, "buffer %d: failed to decode data URI", i)
			}
			data = decoded
		default:
			loaded, err := os.ReadFile(filepath.Join(p.baseDir, buf.URI))
			if err != nil {
				return errors.Wrapf(err, "buffer %d: failed to read %s", i, buf.URI)
			}
			data = loaded
		}
		if len(data) < buf.ByteLength {
			return errors.Wrapf(errBufferSizeMismatch, "buffer %d: have %d bytes, want %d", i, len(data), buf.ByteLength)
		}
		p.buffers[i] = data[:buf.ByteLength]
	}
	return nil
}

// accessorBytes returns the raw bytes, element stride, and element size for
// an accessor. Sparse accessors are not supported.
func (p *gltfParser) accessorBytes(index int) ([]byte, int, int, error) {
	doc := p.document
	if index < 0 || index >= len(doc.Accessors) {
		return nil, 0, 0, errors.Errorf("accessor index %d out of range", index)
	}
	acc := &doc.Accessors[index]
	if acc.BufferView == nil {
		return nil, 0, 0, errors.Errorf("accessor %d has no buffer view", index)
	}
	if *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, 0, 0, errors.Errorf("accessor %d: buffer view %d out of range", index, *acc.BufferView)
	}
	view := &doc.BufferViews[*acc.BufferView]
	if view.Buffer < 0 || view.Buffer >= len(p.buffers) {
		return nil, 0, 0, errors.Errorf("buffer view references buffer %d out of range", view.Buffer)
	}

	elemSize := componentSize(acc.ComponentType) * componentCount(acc.Type)
	stride := elemSize
	if view.ByteStride != nil && *view.ByteStride > 0 {
		stride = *view.ByteStride
	}

	start := view.ByteOffset + acc.ByteOffset
	end := start + (acc.Count-1)*stride + elemSize
	buf := p.buffers[view.Buffer]
	if start < 0 || end > len(buf) {
		return nil, 0, 0, errors.Errorf("accessor %d reads [%d, %d) past buffer end %d", index, start, end, len(buf))
	}
	return buf[start:end], stride, elemSize, nil
}

// viewBytes returns a buffer view's raw bytes, used for embedded images.
func (p *gltfParser) viewBytes(index int) ([]byte, error) {
	doc := p.document
	if index < 0 || index >= len(doc.BufferViews) {
		return nil, errors.Errorf("buffer view index %d out of range", index)
	}
	view := &doc.BufferViews[index]
	if view.Buffer < 0 || view.Buffer >= len(p.buffers) {
		return nil, errors.Errorf("buffer view references buffer %d out of range", view.Buffer)
	}
	buf := p.buffers[view.Buffer]
	if view.ByteOffset+view.ByteLength > len(buf) {
		return nil, errors.Errorf("buffer view %d extends past buffer end", index)
	}
	return buf[view.ByteOffset : view.ByteOffset+view.ByteLength], nil
}

func componentSize(componentType int) int {
	switch componentType {
	case gltfComponentByte, gltfComponentUnsignedByte:
		return 1
	case gltfComponentShort, gltfComponentUnsignedShort:
		return 2
	default:
		return 4
	}
}

func componentCount(accessorType string) int {
	switch accessorType {
	case "SCALAR":
		return 1
	case "VEC2":
		return 2
	case "VEC3":
		return 3
	case "VEC4":
		return 4
	case "MAT4":
		return 16
	default:
		return 1
	}
}

// readFloats reads an accessor as float32 components, comps per element.
// Normalized integer components are converted to floats per the glTF spec.
func (p *gltfParser) readFloats(index, comps int) ([]float32, error) {
	data, stride, _, err := p.accessorBytes(index)
	if err != nil {
		return nil, err
	}
	acc := &p.document.Accessors[index]
	if componentCount(acc.Type) != comps {
		return nil, errors.Errorf("accessor %d: expected %d components, got type %s", index, comps, acc.Type)
	}

	compSize := componentSize(acc.ComponentType)
	out := make([]float32, acc.Count*comps)
	for i := 0; i < acc.Count; i++ {
		base := i * stride
		for c := 0; c < comps; c++ {
			off := base + c*compSize
			switch acc.ComponentType {
			case gltfComponentFloat:
				out[i*comps+c] = math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
			case gltfComponentUnsignedByte:
				v := float32(data[off])
				if acc.Normalized {
					v /= 255
				}
				out[i*comps+c] = v
			case gltfComponentUnsignedShort:
				v := float32(binary.LittleEndian.Uint16(data[off : off+2]))
				if acc.Normalized {
					v /= 65535
				}
				out[i*comps+c] = v
			case gltfComponentByte:
				v := float32(int8(data[off]))
				if acc.Normalized {
					if v < -127 {
						v = -127
					}
					v /= 127
				}
				out[i*comps+c] = v
			case gltfComponentShort:
				v := float32(int16(binary.LittleEndian.Uint16(data[off : off+2])))
				if acc.Normalized {
					if v < -32767 {
						v = -32767
					}
					v /= 32767
				}
				out[i*comps+c] = v
			default:
				return nil, errors.Errorf("accessor %d: unsupported component type %d", index, acc.ComponentType)
			}
		}
	}
	return out, nil
}

// readIndices reads an index accessor, widening u8/u16 to u32.
func (p *gltfParser) readIndices(index int) ([]uint32, error) {
	data, stride, _, err := p.accessorBytes(index)
	if err != nil {
		return nil, err
	}
	acc := &p.document.Accessors[index]

	out := make([]uint32, acc.Count)
	for i := 0; i < acc.Count; i++ {
		off := i * stride
		switch acc.ComponentType {
		case gltfComponentUnsignedByte:
			out[i] = uint32(data[off])
		case gltfComponentUnsignedShort:
			out[i] = uint32(binary.LittleEndian.Uint16(data[off : off+2]))
		case gltfComponentUnsignedInt:
			out[i] = binary.LittleEndian.Uint32(data[off : off+4])
		default:
			return nil, errors.Errorf("accessor %d: unsupported index component type %d", index, acc.ComponentType)
		}
	}
	return out, nil
}
