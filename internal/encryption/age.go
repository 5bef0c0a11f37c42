package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"
)

// Age encrypts blobs with filippo.io/age using an X25519 identity stored in
// a key file. The server both writes and reads the depot, so a single
// identity covers both directions.
type Age struct {
	identityPath string
}

var _ Encryptor = (*Age)(nil)

// NewAge creates an Age encryptor reading the identity from identityPath.
func NewAge(identityPath string) *Age {
	return &Age{identityPath: identityPath}
}

// Setup generates a new X25519 identity and writes it to the identity path.
// Refuses to overwrite an existing identity: losing it makes the depot
// unreadable.
func (e *Age) Setup() error {
	if _, err := os.Stat(e.identityPath); err == nil {
		return fmt.Errorf("identity already exists at %s", e.identityPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(e.identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}

func (e *Age) identity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", e.identityPath)
	}
	x, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("identity in %s is not an X25519 identity", e.identityPath)
	}
	return x, nil
}

func (e *Age) Encrypt(r io.Reader, w io.Writer) error {
	identity, err := e.identity()
	if err != nil {
		return err
	}

	encWriter, err := age.Encrypt(w, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

func (e *Age) Decrypt(r io.Reader, w io.Writer) error {
	identity, err := e.identity()
	if err != nil {
		return err
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
