package recorder

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/willibrandon/pdscope/pkg/memory"
)

// Canonical mode, so equal values always encode to equal payloads.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("recorder: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeValue serializes a value read from the target.
func EncodeValue(v memory.Value) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

// DecodeValue deserializes a value encoded with EncodeValue.
func DecodeValue(data []byte) (memory.Value, error) {
	var v memory.Value
	if err := cbor.Unmarshal(data, &v); err != nil {
		return memory.Value{}, fmt.Errorf("recorder: unmarshal value: %w", err)
	}
	return v, nil
}

// EncodeImage serializes a memory image and compresses it.
func EncodeImage(img *memory.Image) ([]byte, error) {
	data, err := cborEncMode.Marshal(img.Dump())
	if err != nil {
		return nil, err
	}
	return CompressData(data, ZstdCompression)
}

// DecodeImage restores an image encoded with EncodeImage.
func DecodeImage(data []byte) (*memory.Image, error) {
	raw, err := DecompressData(data, ZstdCompression)
	if err != nil {
		return nil, fmt.Errorf("recorder: decompress image: %w", err)
	}
	var d memory.Dump
	if err := cbor.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("recorder: unmarshal image: %w", err)
	}
	return memory.Restore(d), nil
}
