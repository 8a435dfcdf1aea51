package safetensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Store gives random access to the tensors of a safetensors checkpoint.
// The raw file bytes are retained; tensors decode lazily on request.
type Store struct {
	raw     []byte
	entries map[string]storeEntry
	names   []string
}

type storeEntry struct {
	DType string
	Shape []int64
	Start int
	End   int
}

// OpenStore reads and indexes a checkpoint file.
func OpenStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	store, err := OpenStoreFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("safetensors: open %s: %w", path, err)
	}

	return store, nil
}

// OpenStoreFromBytes indexes an in-memory checkpoint. The Store keeps a
// reference to data.
func OpenStoreFromBytes(data []byte) (*Store, error) {
	headerEnd, header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(header))

	entries := make(map[string]storeEntry, len(header))
	for name, raw := range header {
		if name == "__metadata__" {
			continue
		}

		var e headerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
		}

		dtype := strings.ToUpper(e.DType)
		switch dtype {
		case dtypeF32, dtypeF16, dtypeBF16:
		default:
			return nil, fmt.Errorf("safetensors: tensor %q has unsupported dtype %q", name, e.DType)
		}

		if e.Offsets[0] < 0 || e.Offsets[1] < e.Offsets[0] {
			return nil, fmt.Errorf("safetensors: tensor %q has invalid data offsets %v", name, e.Offsets)
		}

		start := headerEnd + e.Offsets[0]

		end := headerEnd + e.Offsets[1]
		if end > len(data) {
			return nil, fmt.Errorf("safetensors: tensor %q data [%d:%d] exceeds file size %d", name, start, end, len(data))
		}

		elemCount, err := shapeElementCount(e.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		elemBytes, err := dtypeBytes(dtype)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		if end-start < int(elemCount)*elemBytes {
			return nil, fmt.Errorf("safetensors: tensor %q needs %d bytes but data has %d", name, int(elemCount)*elemBytes, end-start)
		}

		entries[name] = storeEntry{
			DType: dtype,
			Shape: append([]int64(nil), e.Shape...),
			Start: start,
			End:   end,
		}
		names = append(names, name)
	}

	if len(entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	sort.Strings(names)

	return &Store{raw: data, entries: entries, names: names}, nil
}

// Names returns the sorted tensor names.
func (s *Store) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Tensor decodes the named tensor to float32.
func (s *Store) Tensor(name string) (*Tensor, error) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarizeNames(s.names))
	}

	elemCount, err := shapeElementCount(entry.Shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	data, err := decodeTensorData(s.raw[entry.Start:entry.End], entry.DType, int(elemCount))
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q decode: %w", name, err)
	}

	return &Tensor{
		Name:  name,
		Shape: append([]int64(nil), entry.Shape...),
		Data:  data,
	}, nil
}

// TensorWithShape decodes the named tensor and checks its shape.
func (s *Store) TensorWithShape(name string, wantShape []int64) (*Tensor, error) {
	t, err := s.Tensor(name)
	if err != nil {
		return nil, err
	}

	if !equalShape(t.Shape, wantShape) {
		return nil, fmt.Errorf("safetensors: tensor %q shape %v does not match expected %v", name, t.Shape, wantShape)
	}

	return t, nil
}

// Close drops the references to the file data.
func (s *Store) Close() {
	s.raw = nil
	s.entries = nil
	s.names = nil
}
