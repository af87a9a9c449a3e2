// Package artifact persists fitted models and run reports. A model file is
// a gob-encoded envelope holding metadata and the gzip-compressed gob of the
// estimator, with a sha256 checksum of the uncompressed bytes.
package artifact

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/gidra39/modelselect/estimator"
	"github.com/gidra39/modelselect/types"
)

const (
	ModelExt  = ".model"
	ReportExt = ".json"
)

var ErrChecksum = errors.New("artifact checksum mismatch")

// Metadata describes a stored model.
type Metadata struct {
	ModelUUID    string
	ModelName    string
	Task         types.TaskKind
	Classes      []string
	FeatureNames []string
	Checksum     string
	SavedAt      time.Time
}

// Artifact is a decoded model file.
type Artifact struct {
	Metadata Metadata
	Model    estimator.Estimator
}

type envelope struct {
	Metadata       Metadata
	CompressedData []byte
}

// Encode serialises a fitted model with its metadata.
func Encode(model estimator.Estimator, meta Metadata) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(&model); err != nil {
		return nil, errors.Wrap(err, "encode model")
	}
	sum := sha256.Sum256(raw.Bytes())
	meta.Checksum = hex.EncodeToString(sum[:])
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now().UTC()
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, errors.Wrap(err, "compress model")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize compression")
	}

	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(envelope{Metadata: meta, CompressedData: compressed.Bytes()}); err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return out.Bytes(), nil
}

// Decode reads a model file and verifies its checksum.
func Decode(r io.Reader) (*Artifact, error) {
	var env envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	gz, err := gzip.NewReader(bytes.NewReader(env.CompressedData))
	if err != nil {
		return nil, errors.Wrap(err, "open compressed model")
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrap(err, "decompress model")
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != env.Metadata.Checksum {
		return nil, ErrChecksum
	}

	var model estimator.Estimator
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&model); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	return &Artifact{Metadata: env.Metadata, Model: model}, nil
}

// FileStore writes artifacts and reports under one directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(types.ErrPersistence, err.Error())
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) ModelPath(id string) string {
	return filepath.Join(s.dir, id+ModelExt)
}

func (s *FileStore) ReportPath(id string) string {
	return filepath.Join(s.dir, id+ReportExt)
}

// Commit writes the model and its report to temporary files and renames
// both into place. On any failure neither final file is left behind.
func (s *FileStore) Commit(ctx context.Context, model estimator.Estimator, meta Metadata, report []byte) (err error) {
	if meta.ModelUUID == "" {
		return errors.Wrap(types.ErrPersistence, "artifact has no id")
	}
	data, err := Encode(model, meta)
	if err != nil {
		return errors.Wrap(types.ErrPersistence, err.Error())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	modelPath, reportPath := s.ModelPath(meta.ModelUUID), s.ReportPath(meta.ModelUUID)
	modelTmp, err := writeTemp(s.dir, data)
	if err != nil {
		return err
	}
	reportTmp, err := writeTemp(s.dir, report)
	if err != nil {
		_ = os.Remove(modelTmp)
		return err
	}

	if err = os.Rename(modelTmp, modelPath); err != nil {
		_ = os.Remove(modelTmp)
		_ = os.Remove(reportTmp)
		return errors.Wrap(types.ErrPersistence, err.Error())
	}
	if err = os.Rename(reportTmp, reportPath); err != nil {
		_ = os.Remove(reportTmp)
		_ = os.Remove(modelPath)
		return errors.Wrap(types.ErrPersistence, err.Error())
	}
	return nil
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return "", errors.Wrap(types.ErrPersistence, err.Error())
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", errors.Wrap(types.ErrPersistence, err.Error())
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", errors.Wrap(types.ErrPersistence, err.Error())
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", errors.Wrap(types.ErrPersistence, err.Error())
	}
	return name, nil
}

// Load decodes a committed model.
func (s *FileStore) Load(id string) (*Artifact, error) {
	f, err := os.Open(s.ModelPath(id))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// ReadReport returns the raw JSON report of a run.
func (s *FileStore) ReadReport(id string) ([]byte, error) {
	return os.ReadFile(s.ReportPath(id))
}
