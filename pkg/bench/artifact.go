package bench

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/tunebench/tunebench/pkg/log"
	"github.com/tunebench/tunebench/pkg/utils"
)

// Store holds compiled kernel artifacts, addressed by content digest.
// Artifacts are written once and never modified. The parent process
// embeds artifact payloads in requests; the worker subprocess stages
// them here before loading.
type Store struct {
	fs   afero.Fs
	root string
}

func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Default store rooted in the user cache directory.
func DefaultStore() *Store {
	cache, err := os.UserCacheDir()
	if err != nil {
		cache = os.TempDir()
	}
	return NewStore(afero.NewOsFs(), filepath.Join(cache, "tunebench", "artifacts"))
}

func (s *Store) path(digest utils.Digest) string {
	return filepath.Join(s.root, string(digest.Algorithm()), digest.Hex())
}

// Path returns the staged location of an artifact, or an error if the
// artifact is not present in the store.
func (s *Store) Path(digest utils.Digest) (string, error) {
	path := s.path(digest)
	if _, err := s.fs.Stat(path); err != nil {
		return "", fmt.Errorf("%w: artifact %s", utils.ErrNotFound, digest)
	}
	return path, nil
}

func (s *Store) Has(digest utils.Digest) bool {
	_, err := s.fs.Stat(s.path(digest))
	return err == nil
}

// Put writes an artifact and returns its digest. Writing an artifact
// that already exists is a no-op.
func (s *Store) Put(data []byte) (utils.Digest, error) {
	digest := utils.Blake3Sum(data)
	if s.Has(digest) {
		return digest, nil
	}

	path := s.path(digest)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0777); err != nil {
		return utils.Digest{}, err
	}

	// Write to a temporary file and rename so concurrent stagers of the
	// same artifact never observe a partial file.
	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), ".tmp-")
	if err != nil {
		return utils.Digest{}, err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmp.Name())
		return utils.Digest{}, err
	}
	tmp.Close()

	if err := s.fs.Rename(tmp.Name(), path); err != nil {
		s.fs.Remove(tmp.Name())
		return utils.Digest{}, err
	}

	log.Debugf("Staged artifact %s (%d bytes)", digest, len(data))
	return digest, nil
}

// Open reads an artifact back from the store.
func (s *Store) Open(digest utils.Digest) ([]byte, error) {
	path, err := s.Path(digest)
	if err != nil {
		return nil, err
	}

	file, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// Artifact is a compiled kernel image embedded in a benchmark request.
// The payload travels zstd-compressed; Digest identifies the
// uncompressed bytes.
type Artifact struct {
	Digest  string
	Payload []byte
}

// NewArtifact compresses data for embedding in a request.
func NewArtifact(data []byte) (*Artifact, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return &Artifact{
		Digest:  utils.Blake3Sum(data).String(),
		Payload: enc.EncodeAll(data, nil),
	}, nil
}

// Stage decompresses the payload into the store, verifying the digest,
// and returns the staged file path. A payload already present in the
// store is not written again.
func (a *Artifact) Stage(store *Store) (string, error) {
	digest, err := utils.ParseDigest(a.Digest)
	if err != nil {
		return "", err
	}

	if store.Has(digest) {
		return store.Path(digest)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return "", err
	}
	defer dec.Close()

	data, err := dec.DecodeAll(a.Payload, nil)
	if err != nil {
		return "", fmt.Errorf("%w: corrupt artifact payload: %v", utils.ErrBadRequest, err)
	}

	staged, err := store.Put(data)
	if err != nil {
		return "", err
	}
	if staged != digest {
		store.fs.Remove(store.path(staged))
		return "", fmt.Errorf("%w: artifact digest mismatch: got %s, want %s", utils.ErrBadRequest, staged, digest)
	}

	return store.Path(digest)
}
