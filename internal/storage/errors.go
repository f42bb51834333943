package storage

import "fmt"

// Codes match the domain codes of the same name.
const (
	codeInvalid  = "invalid"
	codeNotFound = "not_found"
)

// StorageError is returned by storage constructors and Get.
type StorageError struct {
	Code    string
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}

func (e *StorageError) ErrorCode() string {
	return e.Code
}

// Is lets errors.Is(err, ErrNotFound) match any missing-key error.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	return ok && t == ErrNotFound && e.Code == codeNotFound
}

var (
	// ErrNotFound is returned by Get when no payload is stored under the key.
	ErrNotFound = &StorageError{Code: codeNotFound, Message: "key not found"}

	// ErrR2AccountIDRequired is returned when R2 account ID is missing.
	ErrR2AccountIDRequired = &StorageError{Code: codeInvalid, Message: "R2 account ID is required"}

	// ErrR2CredentialsRequired is returned when R2 credentials are missing.
	ErrR2CredentialsRequired = &StorageError{Code: codeInvalid, Message: "R2 credentials are required"}

	// ErrR2BucketRequired is returned when R2 bucket name is missing.
	ErrR2BucketRequired = &StorageError{Code: codeInvalid, Message: "R2 bucket name is required"}
)

// ErrKeyNotFound creates a not found error naming the key.
func ErrKeyNotFound(key string) error {
	return &StorageError{
		Code:    codeNotFound,
		Message: fmt.Sprintf("key not found: %s", key),
	}
}

// ErrUnknownProvider creates an error for unknown storage providers.
func ErrUnknownProvider(provider string) error {
	return &StorageError{
		Code:    codeInvalid,
		Message: fmt.Sprintf("unknown storage provider: %s", provider),
	}
}
