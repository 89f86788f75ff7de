package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
	"cloudjade-ide/internal/storage"
)

// DefaultMaxFileBytes bounds a single uploaded file.
const DefaultMaxFileBytes = 5 << 20

// FileService keeps file bodies in the blob store under an owner-scoped key
// and their metadata in the relational store.
type FileService interface {
	Upload(ctx context.Context, ownerID, name, content string) (*domain.File, error)
	List(ctx context.Context, ownerID string) ([]domain.File, error)
	Get(ctx context.Context, ownerID, fileID string) (*domain.File, []byte, error)
	DownloadURL(ctx context.Context, ownerID, fileID string) (string, error)
	Usage(ctx context.Context, ownerID string) (int64, error)
}

type FileConfig struct {
	Bucket       string
	MaxFileBytes int
	Timeout      time.Duration
	URLExpiry    time.Duration
	Logger       logrus.FieldLogger
}

type fileService struct {
	files   repository.FileRepository
	storage storage.Service
	cfg     FileConfig
}

func NewFileService(files repository.FileRepository, store storage.Service, cfg FileConfig) FileService {
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &fileService{files: files, storage: store, cfg: cfg}
}

func (s *fileService) Upload(ctx context.Context, ownerID, name, content string) (*domain.File, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, invalid("content", "must not be empty")
	}
	if len(content) > s.cfg.MaxFileBytes {
		return nil, invalid("content", fmt.Sprintf("must be at most %d bytes", s.cfg.MaxFileBytes))
	}

	file := &domain.File{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    name,
		Size:    int64(len(content)),
	}
	file.ObjectKey = storage.OwnerKey(ownerID, file.ID)

	blobCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.storage.PutObject(blobCtx, s.cfg.Bucket, file.ObjectKey, strings.NewReader(content), file.Size); err != nil {
		s.cfg.Logger.WithError(err).WithField("key", file.ObjectKey).Error("upload file body")
		return nil, collaboratorError(ErrStorage, "put object", err)
	}

	if err := s.files.Create(blobCtx, file); err != nil {
		s.cfg.Logger.WithError(err).WithField("file_id", file.ID).Error("record file metadata")
		// the body is unreachable without metadata
		if delErr := s.storage.DeleteObject(context.WithoutCancel(ctx), s.cfg.Bucket, file.ObjectKey); delErr != nil {
			s.cfg.Logger.WithError(delErr).WithField("key", file.ObjectKey).Warn("remove orphaned file body")
		}
		return nil, collaboratorError(ErrStorage, "create file", err)
	}

	return file, nil
}

func (s *fileService) List(ctx context.Context, ownerID string) ([]domain.File, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	files, err := s.files.ListByOwner(storeCtx, ownerID)
	if err != nil {
		return nil, collaboratorError(ErrStorage, "list files", err)
	}
	return files, nil
}

func (s *fileService) Get(ctx context.Context, ownerID, fileID string) (*domain.File, []byte, error) {
	blobCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	file, err := s.owned(blobCtx, ownerID, fileID)
	if err != nil {
		return nil, nil, err
	}

	body, err := s.storage.GetObject(blobCtx, s.cfg.Bucket, file.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, collaboratorError(ErrStorage, "get object", err)
	}
	return file, body, nil
}

func (s *fileService) DownloadURL(ctx context.Context, ownerID, fileID string) (string, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	file, err := s.owned(storeCtx, ownerID, fileID)
	if err != nil {
		return "", err
	}

	url, err := s.storage.GetObjectURL(storeCtx, s.cfg.Bucket, file.ObjectKey, s.cfg.URLExpiry)
	if err != nil {
		return "", collaboratorError(ErrStorage, "presign object", err)
	}
	return url, nil
}

// Usage sums the size of every object stored under the owner's prefix.
func (s *fileService) Usage(ctx context.Context, ownerID string) (int64, error) {
	blobCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	objects, err := s.storage.ListObjects(blobCtx, s.cfg.Bucket, storage.OwnerPrefix(ownerID))
	if err != nil {
		return 0, collaboratorError(ErrStorage, "list objects", err)
	}
	var total int64
	for _, obj := range objects {
		total += obj.Size
	}
	return total, nil
}

func (s *fileService) owned(ctx context.Context, ownerID, fileID string) (*domain.File, error) {
	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, collaboratorError(ErrStorage, "get file", err)
	}
	// foreign files are reported as missing
	if file.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return file, nil
}
