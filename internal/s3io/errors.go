package s3io

import (
	"fmt"
	"os"
)

// ErrKeyFileExposed is returned for an identities or secrets file that is
// readable by group or others.
type ErrKeyFileExposed struct {
	File string
	Mode os.FileMode
}

func (e *ErrKeyFileExposed) Error() string {
	return fmt.Sprintf("key file %s has mode %#o: restrict it to the owner (chmod 600)", e.File, e.Mode.Perm())
}

type ErrNoRecipients struct {
	Bucket string
}

func (e *ErrNoRecipients) Error() string {
	return fmt.Sprintf("bucket %q has no age recipients at %s: encrypted uploads are unavailable", e.Bucket, RecipientsKey)
}

type ErrEmptySecrets struct {
	File string
}

func (e *ErrEmptySecrets) Error() string {
	return fmt.Sprintf("secrets file %s lists no passphrases", e.File)
}

// ErrNoPassphrase means the secrets file has no passphrase for the
// operation. KeyID names the passphrase an object was encrypted with.
type ErrNoPassphrase struct {
	Operation string
	KeyID     string
}

func (e *ErrNoPassphrase) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("cannot %s: passphrase %q is not in the secrets file", e.Operation, e.KeyID)
	}
	return fmt.Sprintf("cannot %s: the secrets file has no passphrase", e.Operation)
}

type ErrNoIdentities struct{}

func (e *ErrNoIdentities) Error() string {
	return "object is encrypted for age recipients but no identities file was given"
}

type ErrObjectNotFound struct {
	Bucket string
	Key    string
}

func (e *ErrObjectNotFound) Error() string {
	return fmt.Sprintf("object %s not found in bucket %q", e.Key, e.Bucket)
}

// ErrNoMatch is returned when no object key starts with Prefix.
type ErrNoMatch struct {
	Prefix string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("no objects under %s", e.Prefix)
}

// ErrArchived is returned for objects in a storage class that needs a
// restore request before they can be read.
type ErrArchived struct {
	Key          string
	StorageClass string
}

func (e *ErrArchived) Error() string {
	return fmt.Sprintf("object %s is archived in %s and must be restored first", e.Key, e.StorageClass)
}
