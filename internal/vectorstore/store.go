package vectorstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/askdb/askdb/internal/errors"
	"github.com/askdb/askdb/internal/logging"
	"github.com/askdb/askdb/internal/observability"
)

const (
	vectorsFile   = "vectors.bin"
	documentsFile = "documents.json"
	metadataFile  = "metadata.json"

	createdBy     = "askdb"
	formatVersion = 1

	// maxStoreBytes caps the combined on-disk size accepted at load
	// time. Anything larger is treated as corrupted or hostile state.
	maxStoreBytes = 100 << 20
)

// Metadata is the provenance sidecar written next to the payload files.
// A store without a matching sidecar is never decoded.
type Metadata struct {
	CreatedBy     string `json:"created_by"`
	FormatVersion int    `json:"format_version"`
	Checksum      string `json:"checksum"`
	CreatedAt     string `json:"created_at"`
	DocumentCount int    `json:"document_count"`
	Dimension     int    `json:"dimension"`
}

// LoadState tracks how far a load attempt progressed through the gates.
type LoadState int

const (
	StateUnvalidated LoadState = iota
	StateStructureChecked
	StateOriginChecked
	StateChecksumVerified
	StateLoaded
	StateRejected
)

func (s LoadState) String() string {
	switch s {
	case StateUnvalidated:
		return "unvalidated"
	case StateStructureChecked:
		return "structure_checked"
	case StateOriginChecked:
		return "origin_checked"
	case StateChecksumVerified:
		return "checksum_verified"
	case StateLoaded:
		return "loaded"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Store persists an Index under a directory using the three-file layout.
type Store struct {
	dir       string
	lastState LoadState
}

// NewStore creates a store rooted at dir. The directory is created on
// first save, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// LastLoadState reports how far the most recent Load progressed.
func (s *Store) LastLoadState() LoadState {
	return s.lastState
}

// Exists reports whether a store directory with a vectors payload is
// present. It says nothing about validity.
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, vectorsFile))

	return err == nil
}

// Save writes the index to disk. Each file is written to a temporary
// name and renamed into place, so a crash mid-save never leaves a
// half-written file under the final name. The sidecar goes last.
func (s *Store) Save(index *Index) error {
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to create store directory")
	}

	vectorBytes, err := encodeVectors(index.vectors, index.dimension)
	if err != nil {
		return err
	}

	documentBytes, err := json.MarshalIndent(index.documents, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode documents")
	}

	metadata := Metadata{
		CreatedBy:     createdBy,
		FormatVersion: formatVersion,
		Checksum:      checksum(vectorBytes, documentBytes),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		DocumentCount: index.Len(),
		Dimension:     index.dimension,
	}

	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to encode metadata")
	}

	if err := s.writeAtomic(vectorsFile, vectorBytes); err != nil {
		return err
	}

	if err := s.writeAtomic(documentsFile, documentBytes); err != nil {
		return err
	}

	if err := s.writeAtomic(metadataFile, metadataBytes); err != nil {
		return err
	}

	logging.WithField("documents", index.Len()).WithField("dimension", index.dimension).
		Info("saved vector index")

	return nil
}

// Load reads and validates the on-disk store. Validation gates run in a
// fixed order and any failure rejects the store without decoding it:
// file structure and size, then origin sidecar, then checksum, then the
// restricted fixed-format decode.
func (s *Store) Load() (*Index, error) {
	s.lastState = StateUnvalidated

	index, err := s.load()
	if err != nil {
		s.lastState = StateRejected

		observability.RecordIndexLoad("rejected")
		logging.WithError(err).Warnf("vector index rejected")

		return nil, err
	}

	s.lastState = StateLoaded

	observability.RecordIndexLoad("loaded")

	return index, nil
}

func (s *Store) load() (*Index, error) {
	if err := s.checkStructure(); err != nil {
		return nil, err
	}

	s.lastState = StateStructureChecked

	metadata, err := s.checkOrigin()
	if err != nil {
		return nil, err
	}

	s.lastState = StateOriginChecked

	vectorBytes, err := os.ReadFile(filepath.Join(s.dir, vectorsFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIntegrity, "failed to read vector payload")
	}

	documentBytes, err := os.ReadFile(filepath.Join(s.dir, documentsFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIntegrity, "failed to read documents")
	}

	if sum := checksum(vectorBytes, documentBytes); sum != metadata.Checksum {
		return nil, errors.Newf(
			errors.ErrTypeIntegrity,
			"checksum mismatch: stored %s, computed %s", metadata.Checksum, sum,
		)
	}

	s.lastState = StateChecksumVerified

	vectors, dimension, err := decodeVectors(vectorBytes)
	if err != nil {
		return nil, err
	}

	var documents []Document
	if err := json.Unmarshal(documentBytes, &documents); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIntegrity, "failed to decode documents")
	}

	if len(documents) != len(vectors) {
		return nil, errors.Newf(
			errors.ErrTypeIntegrity,
			"document count %d does not match vector count %d", len(documents), len(vectors),
		)
	}

	if metadata.DocumentCount != len(documents) || metadata.Dimension != dimension {
		return nil, errors.New(errors.ErrTypeIntegrity, "sidecar counts do not match payload")
	}

	return NewIndex(vectors, documents)
}

// checkStructure verifies the directory holds exactly the expected file
// set and stays under the size cap.
func (s *Store) checkStructure() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeIntegrity, "failed to read store directory")
	}

	expected := map[string]bool{
		vectorsFile:   false,
		documentsFile: false,
		metadataFile:  false,
	}

	var totalSize int64

	for _, entry := range entries {
		if entry.IsDir() {
			return errors.Newf(errors.ErrTypeIntegrity, "unexpected directory in store: %s", entry.Name())
		}

		seen, ok := expected[entry.Name()]
		if !ok {
			return errors.Newf(errors.ErrTypeIntegrity, "unexpected file in store: %s", entry.Name())
		}

		if seen {
			return errors.Newf(errors.ErrTypeIntegrity, "duplicate store file: %s", entry.Name())
		}

		expected[entry.Name()] = true

		info, err := entry.Info()
		if err != nil {
			return errors.Wrapf(err, errors.ErrTypeIntegrity, "failed to stat %s", entry.Name())
		}

		totalSize += info.Size()
	}

	for name, seen := range expected {
		if !seen {
			return errors.Newf(errors.ErrTypeIntegrity, "missing store file: %s", name)
		}
	}

	if totalSize > maxStoreBytes {
		return errors.Newf(
			errors.ErrTypeIntegrity,
			"store size %d exceeds limit of %d bytes", totalSize, int64(maxStoreBytes),
		)
	}

	return nil
}

// checkOrigin reads the sidecar and verifies provenance before any
// payload byte is interpreted.
func (s *Store) checkOrigin() (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIntegrity, "failed to read store metadata")
	}

	var metadata Metadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeIntegrity, "failed to parse store metadata")
	}

	if metadata.CreatedBy != createdBy {
		return nil, errors.Newf(
			errors.ErrTypeIndexNotTrusted,
			"store was created by %q, not by this tool", metadata.CreatedBy,
		).WithSuggestion("Rebuild the index to replace the untrusted store")
	}

	if metadata.FormatVersion != formatVersion {
		return nil, errors.Newf(
			errors.ErrTypeIntegrity,
			"unsupported store format version %d", metadata.FormatVersion,
		)
	}

	if metadata.Checksum == "" {
		return nil, errors.New(errors.ErrTypeIntegrity, "store metadata is missing a checksum")
	}

	return &metadata, nil
}

// writeAtomic writes data to a temp file in the store directory and
// renames it into place.
func (s *Store) writeAtomic(name string, data []byte) error {
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrapf(err, errors.ErrTypeInternal, "failed to write %s", name)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)

		return errors.Wrapf(err, errors.ErrTypeInternal, "failed to finalize %s", name)
	}

	return nil
}

// checksum computes the hex sha256 over the payload files in a fixed
// order.
func checksum(vectorBytes, documentBytes []byte) string {
	h := sha256.New()
	h.Write(vectorBytes)
	h.Write(documentBytes)

	return fmt.Sprintf("%x", h.Sum(nil))
}

// encodeVectors serializes the vector matrix as a little-endian header
// of two uint32 values (count, dimension) followed by the float32 data
// in row-major order.
func encodeVectors(vectors [][]float32, dimension int) ([]byte, error) {
	count := len(vectors)
	buf := make([]byte, 8+count*dimension*4)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(count))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dimension))

	offset := 8

	for _, vector := range vectors {
		if len(vector) != dimension {
			return nil, errors.Newf(
				errors.ErrTypeInternal,
				"vector dimension %d does not match %d", len(vector), dimension,
			)
		}

		for _, v := range vector {
			binary.LittleEndian.PutUint32(buf[offset:offset+4], math.Float32bits(v))
			offset += 4
		}
	}

	return buf, nil
}

// decodeVectors is the restricted inverse of encodeVectors. The header
// must agree exactly with the payload length; nothing else in the bytes
// is interpreted.
func decodeVectors(data []byte) ([][]float32, int, error) {
	if len(data) < 8 {
		return nil, 0, errors.New(errors.ErrTypeIntegrity, "vector payload is too short")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	dimension := int(binary.LittleEndian.Uint32(data[4:8]))

	if count <= 0 || dimension <= 0 {
		return nil, 0, errors.Newf(
			errors.ErrTypeIntegrity,
			"invalid vector header: count %d, dimension %d", count, dimension,
		)
	}

	payload := len(data) - 8
	if payload%4 != 0 {
		return nil, 0, errors.Newf(
			errors.ErrTypeIntegrity,
			"vector payload is %d bytes, not a whole number of values", len(data),
		)
	}

	// Each header field is bounded by the payload value count before the
	// product is formed, so a crafted header cannot wrap count*dimension
	// past the length check.
	values := payload / 4
	if count > values || dimension > values || count*dimension != values {
		return nil, 0, errors.Newf(
			errors.ErrTypeIntegrity,
			"vector payload holds %d values, header implies %d x %d", values, count, dimension,
		)
	}

	vectors := make([][]float32, count)
	offset := 8

	for i := 0; i < count; i++ {
		vector := make([]float32, dimension)
		for j := 0; j < dimension; j++ {
			vector[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset : offset+4]))
			offset += 4
		}

		vectors[i] = vector
	}

	return vectors, dimension, nil
}
