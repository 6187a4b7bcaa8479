package auth

import (
	"errors"
	"fmt"
)

// ErrUnknownKey is returned when the active key id is not in the key set
var ErrUnknownKey = errors.New("unknown signing key")

type ErrKeysDirectoryNotAccessible struct {
	Path string
	Err  error
}

func (e *ErrKeysDirectoryNotAccessible) Error() string {
	return fmt.Sprintf("keys directory %s not accessible: %v", e.Path, e.Err)
}

func (e *ErrKeysDirectoryNotAccessible) Unwrap() error { return e.Err }

type ErrKeysPathNotDirectory struct {
	Path string
}

func (e *ErrKeysPathNotDirectory) Error() string {
	return fmt.Sprintf("keys path %s is not a directory", e.Path)
}

type ErrKeyFile struct {
	FileName string
	Reason   string
	Err      error
}

func (e *ErrKeyFile) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key file %s: %s: %v", e.FileName, e.Reason, e.Err)
	}
	return fmt.Sprintf("key file %s: %s", e.FileName, e.Reason)
}

func (e *ErrKeyFile) Unwrap() error { return e.Err }
