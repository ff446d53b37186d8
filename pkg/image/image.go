// Package image stores assembled programs as CBOR images.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"stackvm/pkg/bytecode"
)

// Magic prefixes every image file.
var Magic = []byte("SVMI")

// Version is the current image format version.
const Version = 1

var ErrNotImage = errors.New("not a program image")

type envelope struct {
	Version int               `cbor:"1,keyasint"`
	Program *bytecode.Program `cbor:"2,keyasint"`
}

// cborEncMode uses canonical mode so equal programs encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Program, magic prefix included.
func Marshal(p *bytecode.Program) ([]byte, error) {
	body, err := cborEncMode.Marshal(envelope{Version: Version, Program: p})
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	return append(append([]byte{}, Magic...), body...), nil
}

// Unmarshal deserializes an image produced by Marshal.
func Unmarshal(data []byte) (*bytecode.Program, error) {
	if !IsImage(data) {
		return nil, ErrNotImage
	}

	var env envelope
	if err := cbor.Unmarshal(data[len(Magic):], &env); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d (want %d)", env.Version, Version)
	}
	if env.Program == nil {
		return nil, fmt.Errorf("image: missing program")
	}
	return env.Program, nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Write encodes p to w.
func Write(w io.Writer, p *bytecode.Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Save writes p to the named file.
func Save(path string, p *bytecode.Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: cannot write %s: %w", path, err)
	}
	return nil
}
