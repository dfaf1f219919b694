package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// ChecksumFile computes the SHA-256 of a file's contents, streaming so
// large files never load fully into memory.
func ChecksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", NewStorageError("failed to open file for checksum", err).WithContext("path", path)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", NewStorageError("failed to read file for checksum", err).WithContext("path", path)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ChecksumBytes computes the SHA-256 of an in-memory buffer
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
