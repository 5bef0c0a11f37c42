// Package encryption provides optional at-rest encryption for depot blobs.
// Digests recorded on events always refer to the plaintext; encryption is a
// storage-layer concern only.
package encryption

import "io"

// Encryptor encrypts and decrypts blob streams.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
