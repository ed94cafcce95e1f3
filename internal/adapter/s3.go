package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config describes one bucket on S3 or an S3-compatible endpoint
// (minio and friends use Endpoint + path style).
type S3Config struct {
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Region    string `json:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
}

// S3Adapter speaks to one bucket. Conditional writes ride on the service's
// If-Match / If-None-Match support for PutObject.
type S3Adapter struct {
	client *s3.Client
	bucket string
}

func NewS3(cfg *S3Config) (*S3Adapter, error) {
	httpClient := awshttp.NewBuildableClient().
		WithTransportOptions(func(t *http.Transport) {
			t.Proxy = http.ProxyFromEnvironment
			t.MaxIdleConns = 100
			t.IdleConnTimeout = 90 * time.Second
			t.TLSHandshakeTimeout = 10 * time.Second
			t.ForceAttemptHTTP2 = true
		}).
		WithTimeout(30 * time.Second)

	loadOpts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.Endpoint != "" {
		// S3-compatible endpoints rarely understand aws-chunked uploads
		loadOpts = append(loadOpts,
			config.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
			config.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
		)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Adapter{client: client, bucket: cfg.Bucket}, nil
}

func (a *S3Adapter) Zone() string {
	return a.bucket
}

func (a *S3Adapter) Download(ctx context.Context, path string) ([]byte, string, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &path,
	})
	if err != nil {
		if s3ErrorCode(err) == "NoSuchKey" || s3HTTPStatus(err) == http.StatusNotFound {
			return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, "", fmt.Errorf("%w: get %s: %v", ErrTransport, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", ErrTransport, path, err)
	}
	return data, stripQuotes(aws.ToString(resp.ETag)), nil
}

func (a *S3Adapter) UploadOverwrite(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, nil, nil)
}

func (a *S3Adapter) UploadFresh(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, nil, aws.String("*"))
}

func (a *S3Adapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag string, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, aws.String(quoteETag(etag)), nil)
}

func (a *S3Adapter) upload(ctx context.Context, path string, data []byte, contentType string, ifMatch, ifNoneMatch *string) (string, error) {
	resp, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &a.bucket,
		Key:           &path,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   &contentType,
		IfMatch:       ifMatch,
		IfNoneMatch:   ifNoneMatch,
	})
	if err != nil {
		if s3ErrorCode(err) == "PreconditionFailed" || s3HTTPStatus(err) == http.StatusPreconditionFailed {
			if ifNoneMatch != nil {
				return "", fmt.Errorf("%w: %s", ErrAlreadyExists, path)
			}
			return "", fmt.Errorf("%w: %s", ErrETagMismatch, path)
		}
		return "", fmt.Errorf("%w: put %s: %v", ErrTransport, path, err)
	}
	return stripQuotes(aws.ToString(resp.ETag)), nil
}

func s3ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func s3HTTPStatus(err error) int {
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// S3 reports etags quoted on the wire; the protocol carries them bare.
func stripQuotes(etag string) string {
	return strings.ReplaceAll(etag, "\"", "")
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, "\"") {
		return etag
	}
	return "\"" + etag + "\""
}
