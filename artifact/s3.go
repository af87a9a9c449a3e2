package artifact

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/gidra39/modelselect/logging"
)

// S3Config locates the bucket holding datasets and uploaded models.
type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	PublicRead bool
}

// ObjectStore moves datasets and models in and out of object storage.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, body []byte, originalName string) error
}

// S3Store is an ObjectStore over S3 or an S3-compatible endpoint. Uploads go
// through a circuit breaker so a failing bucket does not stall every run.
type S3Store struct {
	cfg     S3Config
	up      *s3manager.Uploader
	down    *s3manager.Downloader
	breaker *gobreaker.CircuitBreaker[any]
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "aws session")
	}
	cli := s3.New(sess)
	return &S3Store{
		cfg:     cfg,
		up:      s3manager.NewUploaderWithClient(cli),
		down:    s3manager.NewDownloaderWithClient(cli),
		breaker: newBreaker("s3-upload"),
	}, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := s.down.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "download s3://%s/%s", s.cfg.Bucket, key)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Upload(ctx context.Context, key string, body []byte, originalName string) error {
	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]*string{"originalName": aws.String(filepath.Base(originalName))},
	}
	if s.cfg.PublicRead {
		input.ACL = aws.String(s3.ObjectCannedACLPublicRead)
	}
	_, err := s.breaker.Execute(func() (any, error) {
		return s.up.UploadWithContext(ctx, input)
	})
	if err != nil {
		return errors.Wrapf(err, "upload s3://%s/%s", s.cfg.Bucket, key)
	}
	return nil
}
