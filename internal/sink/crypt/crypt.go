// Package crypt wraps a sink so every object is stored under envelope
// encryption. Each object gets its own data key, minted from the root key
// with the object key as context; the key descriptor travels in a short
// header in front of the ciphertext so the object stays self-describing.
package crypt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"

	"pkt.systems/hsearch/internal/sink"
)

// ContentType is recorded for encrypted objects in place of the plaintext type.
const ContentType = "application/vnd.hsearch.encrypted"

const (
	streamChunkSize = 8 * 1024
	contextPrefix   = "hsearch/export/"
)

var headerMagic = [4]byte{'H', 'S', 'X', '1'}

// ErrNotEncrypted is returned by Get when the stored object lacks the
// envelope header.
var ErrNotEncrypted = errors.New("sink crypt: object is not encrypted")

// Config drives Wrap.
type Config struct {
	RootKey keymgmt.RootKey
	Snappy  bool
}

type wrapped struct {
	inner sink.Sink
	kg    kryptograf.Kryptograf
}

// Wrap returns a sink that encrypts on Put and decrypts on Get.
func Wrap(inner sink.Sink, cfg Config) (sink.Sink, error) {
	if inner == nil {
		return nil, errors.New("sink crypt: inner sink required")
	}
	if cfg.RootKey == (keymgmt.RootKey{}) {
		return nil, errors.New("sink crypt: root key required")
	}
	kg := kryptograf.New(cfg.RootKey).WithChunkSize(streamChunkSize)
	if cfg.Snappy {
		kg = kg.WithSnappy()
	}
	return &wrapped{inner: inner, kg: kg}, nil
}

// LoadRootKey reads the root key from a kryptograf PEM bundle.
func LoadRootKey(pemBytes []byte) (keymgmt.RootKey, error) {
	store, err := keymgmt.LoadPEM(pemBytes)
	if err != nil {
		return keymgmt.RootKey{}, fmt.Errorf("sink crypt: load key bundle: %w", err)
	}
	root, ok, err := store.RootKey()
	if err != nil {
		return keymgmt.RootKey{}, fmt.Errorf("sink crypt: read root key: %w", err)
	}
	if !ok {
		return keymgmt.RootKey{}, errors.New("sink crypt: key bundle has no root key")
	}
	return root, nil
}

// LoadRootKeyFile is LoadRootKey on the contents of path.
func LoadRootKeyFile(path string) (keymgmt.RootKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return keymgmt.RootKey{}, fmt.Errorf("sink crypt: %w", err)
	}
	return LoadRootKey(raw)
}

// NewKeyBundle mints a fresh root key and returns it as a PEM bundle that
// LoadRootKey accepts.
func NewKeyBundle() ([]byte, error) {
	var out []byte
	store, err := keymgmt.LoadPEMInto(nil, &out)
	if err != nil {
		return nil, fmt.Errorf("sink crypt: init key bundle: %w", err)
	}
	if _, err := store.EnsureRootKey(); err != nil {
		return nil, fmt.Errorf("sink crypt: ensure root key: %w", err)
	}
	if err := store.Commit(); err != nil {
		return nil, fmt.Errorf("sink crypt: commit key bundle: %w", err)
	}
	if len(out) == 0 {
		raw, err := store.Bytes()
		if err != nil {
			return nil, fmt.Errorf("sink crypt: serialize key bundle: %w", err)
		}
		out = raw
	}
	return out, nil
}

func objectContext(key string) []byte {
	return []byte(contextPrefix + key)
}

func (w *wrapped) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	if err := sink.ValidateKey(key); err != nil {
		return nil, err
	}
	mat, err := w.kg.MintDEK(objectContext(key))
	if err != nil {
		return nil, fmt.Errorf("sink crypt: mint data key for %q: %w", key, err)
	}
	desc, err := mat.Descriptor.MarshalBinary()
	if err != nil {
		mat.Zero()
		return nil, fmt.Errorf("sink crypt: marshal descriptor for %q: %w", key, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer mat.Zero()
		pw.CloseWithError(w.encrypt(pw, desc, body, mat))
	}()
	info, err := w.inner.Put(ctx, key, pr, sink.PutOptions{ContentType: ContentType, Size: -1})
	// Unblocks the encrypting goroutine if the inner sink stopped reading.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (w *wrapped) encrypt(dst io.Writer, desc []byte, body io.Reader, mat kryptograf.Material) error {
	var header [6]byte
	copy(header[:4], headerMagic[:])
	binary.BigEndian.PutUint16(header[4:], uint16(len(desc)))
	if _, err := dst.Write(header[:]); err != nil {
		return err
	}
	if _, err := dst.Write(desc); err != nil {
		return err
	}
	enc, err := w.kg.EncryptWriter(dst, mat)
	if err != nil {
		return fmt.Errorf("sink crypt: encrypt: %w", err)
	}
	if _, err := io.Copy(enc, body); err != nil {
		enc.Close()
		return fmt.Errorf("sink crypt: encrypt write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("sink crypt: encrypt close: %w", err)
	}
	return nil
}

func (w *wrapped) Get(ctx context.Context, key string) (io.ReadCloser, *sink.ObjectInfo, error) {
	rc, info, err := w.inner.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	br := bufio.NewReader(rc)
	desc, err := readHeader(br)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("%w: %s", err, key)
	}
	mat, err := w.kg.ReconstructDEK(objectContext(key), desc)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("sink crypt: reconstruct data key for %q: %w", key, err)
	}
	dec, err := w.kg.DecryptReader(br, mat)
	if err != nil {
		mat.Zero()
		rc.Close()
		return nil, nil, fmt.Errorf("sink crypt: decrypt %q: %w", key, err)
	}
	out := *info
	out.Size = -1
	return &plainReader{ReadCloser: dec, raw: rc, material: mat}, &out, nil
}

func readHeader(r io.Reader) (keymgmt.Descriptor, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return keymgmt.Descriptor{}, ErrNotEncrypted
	}
	if !bytes.Equal(header[:4], headerMagic[:]) {
		return keymgmt.Descriptor{}, ErrNotEncrypted
	}
	raw := make([]byte, binary.BigEndian.Uint16(header[4:]))
	if _, err := io.ReadFull(r, raw); err != nil {
		return keymgmt.Descriptor{}, fmt.Errorf("sink crypt: short descriptor: %w", err)
	}
	var desc keymgmt.Descriptor
	if err := desc.UnmarshalBinary(raw); err != nil {
		return keymgmt.Descriptor{}, fmt.Errorf("sink crypt: decode descriptor: %w", err)
	}
	return desc, nil
}

func (w *wrapped) Location() string { return w.inner.Location() }

func (w *wrapped) Close() error { return w.inner.Close() }

type plainReader struct {
	io.ReadCloser
	raw      io.Closer
	material kryptograf.Material
}

func (p *plainReader) Close() error {
	err := p.ReadCloser.Close()
	if rerr := p.raw.Close(); err == nil {
		err = rerr
	}
	p.material.Zero()
	return err
}
