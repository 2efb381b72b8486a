package utils

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	Blake3Algorithm = HashAlgorithm("blake3")
)

type HashAlgorithm string

// A content digest, used to address compiled kernel artifacts.
type Digest struct {
	alg HashAlgorithm
	hex string
}

func NewDigest(alg HashAlgorithm, hex string) Digest {
	return Digest{alg: alg, hex: hex}
}

func ParseDigest(digest string) (Digest, error) {
	alg, data, found := strings.Cut(digest, ":")
	if !found {
		data = alg
		alg = string(Blake3Algorithm)
	}

	bytes, err := hex.DecodeString(data)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch HashAlgorithm(alg) {
	case Blake3Algorithm:
		if len(bytes) != 32 {
			return Digest{}, fmt.Errorf("%w: invalid length of blake3 hex string: %d", ErrParse, len(bytes))
		}
		return NewDigest(Blake3Algorithm, data), nil
	default:
		return Digest{}, fmt.Errorf("%w: unsupported hash algorithm: %s", ErrParse, alg)
	}
}

func (d Digest) Algorithm() HashAlgorithm {
	return d.alg
}

func (d Digest) Hex() string {
	return d.hex
}

func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.alg, d.hex)
}

// Digest of a byte slice.
func Blake3Sum(data []byte) Digest {
	sum := blake3.Sum256(data)
	return NewDigest(Blake3Algorithm, hex.EncodeToString(sum[:]))
}

// Digest of a stream.
func Blake3SumReader(reader io.Reader) (Digest, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return Digest{}, err
	}
	return NewDigest(Blake3Algorithm, hex.EncodeToString(hasher.Sum(nil))), nil
}
