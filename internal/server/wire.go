package server

import (
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// Request bodies. Binary payloads travel as standard base64 strings. Hash
// and size are optional declarations; when present the pipeline verifies the
// decoded bytes against them.

type datasetCreateRequest struct {
	Name string `json:"name"`
}

type schemaCreateRequest struct {
	Name   string `json:"name"`
	Schema string `json:"schema"`
	Hash   string `json:"hash,omitempty"`
	Size   *int64 `json:"size,omitempty"`
}

type schemaUpdateRequest struct {
	Schema string `json:"schema"`
	Hash   string `json:"hash,omitempty"`
	Size   *int64 `json:"size,omitempty"`
}

type objectCreateRequest struct {
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
	Object   string `json:"object"`
	Hash     string `json:"hash,omitempty"`
	Size     *int64 `json:"size,omitempty"`
}

type schemaRefRequest struct {
	Name    string `json:"name"`
	Version *int   `json:"version,omitempty"`
}

type identifierRequest struct {
	UUID    string `json:"uuid"`
	Version int    `json:"version"`
}

type annotationCreateRequest struct {
	Schema            schemaRefRequest    `json:"schema"`
	ObjectIdentifiers []identifierRequest `json:"object_identifiers"`
	Annotation        string              `json:"annotation"`
	Hash              string              `json:"hash,omitempty"`
	Size              *int64              `json:"size,omitempty"`
}

type annotationUpdateRequest struct {
	Schema     schemaRefRequest `json:"schema"`
	Annotation string           `json:"annotation"`
	Hash       string           `json:"hash,omitempty"`
	Size       *int64           `json:"size,omitempty"`
}

// decodeBlob decodes a base64 payload and assembles the optional declared
// digest.
func decodeBlob(b64, hash string, size *int64) ([]byte, *gonk.Digest, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, gonk.Validationf("base64", "payload is not valid base64")
	}
	if hash == "" && size == nil {
		return data, nil, nil
	}
	declared := &gonk.Digest{Hash: hash, Size: int64(len(data))}
	if size != nil {
		declared.Size = *size
	}
	if hash == "" {
		// Size declared without hash; verify size only by echoing the
		// computed hash later.
		declared.Hash = ""
	}
	return data, declared, nil
}

// Response shapes.

type identifierResponse struct {
	UUID    string `json:"uuid"`
	Version int    `json:"version"`
}

func identifierOut(id gonk.Identifier) identifierResponse {
	return identifierResponse{UUID: id.UUID.String(), Version: id.Version}
}

type schemaInfoResponse struct {
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	Versions int    `json:"versions"`
}

func schemaInfoOut(info gonk.SchemaInfo) schemaInfoResponse {
	return schemaInfoResponse{Name: info.Name, UUID: info.UUID.String(), Versions: info.Versions}
}

type statusEntryResponse struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name,omitempty"`
	Version int    `json:"version"`
}

type objectInfoResponse struct {
	UUID     string `json:"uuid"`
	Versions int    `json:"versions"`
}

type objectResponse struct {
	UUID     string `json:"uuid"`
	Version  int    `json:"version"`
	Name     string `json:"name"`
	Format   string `json:"format"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	HashType int    `json:"hash_type"`
}

func objectOut(o *gonk.Object) objectResponse {
	return objectResponse{
		UUID:     o.UUID.String(),
		Version:  o.Version,
		Name:     o.Name,
		Format:   o.Format,
		Size:     o.Size,
		Hash:     o.Hash,
		HashType: int(o.HashType),
	}
}

type schemaResponse struct {
	UUID     string `json:"uuid"`
	Version  int    `json:"version"`
	Name     string `json:"name"`
	Format   string `json:"format"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	HashType int    `json:"hash_type"`
}

func schemaOut(sch *gonk.Schema) schemaResponse {
	return schemaResponse{
		UUID:     sch.UUID.String(),
		Version:  sch.Version,
		Name:     sch.Name,
		Format:   gonk.SchemaFormat,
		Size:     sch.Size,
		Hash:     sch.Hash,
		HashType: int(sch.HashType),
	}
}

type annotationResponse struct {
	UUID     string             `json:"uuid"`
	Version  int                `json:"version"`
	Schema   identifierResponse `json:"schema"`
	Size     int64              `json:"size"`
	Hash     string             `json:"hash"`
	HashType int                `json:"hash_type"`
}

func annotationOut(a *gonk.Annotation) annotationResponse {
	return annotationResponse{
		UUID:     a.UUID.String(),
		Version:  a.Version,
		Schema:   identifierOut(a.Schema),
		Size:     a.Size,
		Hash:     a.Hash,
		HashType: int(a.HashType),
	}
}

func uuidsOut(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
