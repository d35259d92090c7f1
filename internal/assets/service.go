// Package assets stores page images and series covers in S3-compatible
// object storage. Upload endpoints stay disabled when no endpoint is
// configured; page and cover references then point at externally hosted
// assets.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Service struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New connects to the object store and verifies the bucket. accessKey and
// secretKey may be empty, in which case IAM role credentials are used.
func New(endpoint, accessKey, secretKey, bucket, region, publicURL string, useSSL bool) (*Service, error) {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	var creds *credentials.Credentials
	if accessKey == "" || secretKey == "" {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(accessKey, secretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(context.Background(), bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}

	if publicURL == "" {
		protocol := "http"
		if useSSL {
			protocol = "https"
		}
		publicURL = fmt.Sprintf("%s://%s.%s", protocol, bucket, endpoint)
	}

	return &Service{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Save uploads one asset and returns its public URL, which the caller stores
// as the image reference.
func (s *Service) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

// Delete removes an asset by its public URL. Missing objects are not an error.
func (s *Service) Delete(ctx context.Context, imageRef string) error {
	if !strings.HasPrefix(imageRef, s.publicURL+"/") {
		// Foreign URL, nothing to delete on our bucket.
		return nil
	}
	key := strings.TrimPrefix(imageRef, s.publicURL+"/")
	if key == "" {
		return nil
	}
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
