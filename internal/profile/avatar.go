package profile

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/vortex/social-chat/internal/store"
)

// AvatarUploader stores avatar images in object storage under a key derived
// from the user id, overwriting any previous upload. Objects are
// public-read; only the owner writes.
type AvatarUploader struct {
	s3      s3iface.S3API
	store   *store.Store
	bucket  string
	baseURL string // public URL prefix, e.g. https://cdn.example.com
}

// NewAvatarUploader creates an uploader for the given bucket. baseURL is
// the public prefix avatars are served from, without a trailing slash.
func NewAvatarUploader(api s3iface.S3API, st *store.Store, bucket, baseURL string) *AvatarUploader {
	return &AvatarUploader{
		s3:      api,
		store:   st,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Upload writes the avatar body to object storage and records the public
// URL on the user's profile. The key is avatars/<userID>.<ext>, so a
// re-upload replaces the old image in place.
func (u *AvatarUploader) Upload(ctx context.Context, userID, ext string, body io.ReadSeeker, contentType string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		return "", fmt.Errorf("profile: avatar extension required")
	}

	key := fmt.Sprintf("avatars/%s.%s", userID, ext)

	_, err := u.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return "", fmt.Errorf("profile: avatar upload: %w", err)
	}

	url := u.baseURL + "/" + key
	if err := u.store.SetAvatarURL(ctx, userID, url); err != nil {
		return "", err
	}
	return url, nil
}
