package gonk

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// ValidateFields checks the shape of an event's payload without consulting
// projected state: non-empty names, well-formed digests, supported hash
// algorithm, non-negative sizes and versions. State-dependent rules live in
// State.Validate.
func ValidateFields(ev *Event) error {
	if ev.Author == "" {
		return Validationf("author", "event missing author")
	}
	if ev.UUID == uuid.Nil {
		return Validationf("uuid", "event missing UUID")
	}

	switch p := ev.Payload.(type) {
	case ObjectCreate:
		return validateObjectFields(p.Object)
	case ObjectUpdate:
		return validateObjectFields(p.Object)
	case ObjectDelete:
		return validateIdentifierFields(p.ObjectIdentifier)
	case SchemaCreate:
		return validateSchemaFields(p.Schema)
	case SchemaUpdate:
		return validateSchemaFields(p.Schema)
	case SchemaDeprecate:
		return validateIdentifierFields(p.SchemaIdentifier)
	case AnnotationCreate:
		if len(p.ObjectIdentifiers) == 0 {
			return Validationf("object-refs", "annotation must reference at least one object")
		}
		for _, id := range p.ObjectIdentifiers {
			if err := validateIdentifierFields(id); err != nil {
				return err
			}
		}
		return validateAnnotationFields(p.Annotation)
	case AnnotationUpdate:
		return validateAnnotationFields(p.Annotation)
	case AnnotationDelete:
		return validateIdentifierFields(p.AnnotationIdentifier)
	case ReviewAccept:
		if p.EventUUID == uuid.Nil {
			return Validationf("event-uuid", "review missing target event UUID")
		}
		return nil
	case ReviewReject:
		if p.EventUUID == uuid.Nil {
			return Validationf("event-uuid", "review missing target event UUID")
		}
		return nil
	case OwnerAdd:
		if p.Owner == "" {
			return Validationf("owner", "owner cannot be empty")
		}
		return nil
	case OwnerRemove:
		if p.Owner == "" {
			return Validationf("owner", "owner cannot be empty")
		}
		return nil
	}
	return Validationf("type", "unhandled event payload")
}

func validateObjectFields(o Object) error {
	if o.UUID == uuid.Nil {
		return Validationf("uuid", "object missing UUID")
	}
	if o.Version < 0 {
		return Validationf("version", "version must be a non-negative integer")
	}
	if o.Name == "" {
		return Validationf("name", "object name cannot be empty")
	}
	if o.Format == "" {
		return Validationf("format", "object format cannot be empty")
	}
	if o.Size < 0 {
		return Validationf("size", "size must be a non-negative integer")
	}
	return validateDigestFields(o.HashType, o.Hash)
}

func validateSchemaFields(s Schema) error {
	if s.UUID == uuid.Nil {
		return Validationf("uuid", "schema missing UUID")
	}
	if s.Version < 0 {
		return Validationf("version", "version must be a non-negative integer")
	}
	if !IsSchemaName(s.Name) {
		return Validationf("name", "schema names must start with %q", SchemaNamePrefix)
	}
	if s.Size < 0 {
		return Validationf("size", "size must be a non-negative integer")
	}
	return validateDigestFields(s.HashType, s.Hash)
}

func validateAnnotationFields(a Annotation) error {
	if a.UUID == uuid.Nil {
		return Validationf("uuid", "annotation missing UUID")
	}
	if a.Version < 0 {
		return Validationf("version", "version must be a non-negative integer")
	}
	if err := validateIdentifierFields(a.Schema); err != nil {
		return err
	}
	if a.Size < 0 {
		return Validationf("size", "size must be a non-negative integer")
	}
	return validateDigestFields(a.HashType, a.Hash)
}

func validateIdentifierFields(id Identifier) error {
	if id.UUID == uuid.Nil {
		return Validationf("uuid", "identifier missing UUID")
	}
	if id.Version < 0 {
		return Validationf("version", "version must be a non-negative integer")
	}
	return nil
}

func validateDigestFields(ht HashType, digest string) error {
	if ht != HashTypeSHA256 {
		return Validationf("hash-type", "hash type must be SHA256")
	}
	if len(digest) != 64 {
		return Validationf("hash", "hash should be a hex encoded SHA256")
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return Validationf("hash", "hash should be a hex encoded SHA256")
	}
	return nil
}
