package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// rotHeader marks streams produced by the Rot test encryptor so decryption
// of plaintext fails loudly instead of silently corrupting.
var rotHeader = []byte("GONKENC\x00")

// Rot is a deterministic, reversible test encryptor: a fixed header plus a
// byte-wise rotation. Encrypted bytes differ from plaintext so digest
// handling is still exercised, with no key material involved.
type Rot struct{}

var _ Encryptor = (Rot{})

func (Rot) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(rotHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return rotate(r, w, 13)
}

func (Rot) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(rotHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, rotHeader) {
		return fmt.Errorf("stream is not test-encrypted")
	}
	return rotate(r, w, 256-13)
}

func rotate(r io.Reader, w io.Writer, by byte) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			buf[i] += by
		}
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing data: %w", werr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading data: %w", err)
		}
	}
}
