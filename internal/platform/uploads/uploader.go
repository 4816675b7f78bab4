package uploads

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

const defaultMaxSize = 10 << 20 // 10 MiB

var (
	// ErrInvalidPayload indicates the payload is not a well-formed image data URL.
	ErrInvalidPayload = errors.New("uploads: invalid image payload")
	// ErrPayloadTooLarge indicates the decoded image exceeds the size cap.
	ErrPayloadTooLarge = errors.New("uploads: image exceeds maximum size")
	// ErrUnsupportedType indicates the image media type is not accepted.
	ErrUnsupportedType = errors.New("uploads: unsupported image type")
)

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Image describes a stored upload. PublicID is the stable handle used to
// reference or delete the object later.
type Image struct {
	URL         string
	PublicID    string
	ContentType string
	Size        int64
}

type writeFunc func(ctx context.Context, objectName, contentType string, data []byte) error
type deleteFunc func(ctx context.Context, objectName string) error

// Uploader stores base64 image payloads in a bucket and hands back public URLs.
// The caller persists only the returned URL and PublicID, never raw bytes.
type Uploader struct {
	bucket        string
	publicBaseURL string
	maxSize       int64
	write         writeFunc
	remove        deleteFunc
	newID         func() string
}

// UploaderOption customises uploader behaviour.
type UploaderOption func(*Uploader)

// WithMaxSize overrides the decoded payload size cap.
func WithMaxSize(maxSize int64) UploaderOption {
	return func(u *Uploader) {
		if maxSize > 0 {
			u.maxSize = maxSize
		}
	}
}

// WithIDGenerator injects the object name generator (tests).
func WithIDGenerator(gen func() string) UploaderOption {
	return func(u *Uploader) {
		if gen != nil {
			u.newID = gen
		}
	}
}

// WithStoreFuncs injects the raw store and delete operations (tests).
func WithStoreFuncs(write writeFunc, remove deleteFunc) UploaderOption {
	return func(u *Uploader) {
		if write != nil {
			u.write = write
		}
		if remove != nil {
			u.remove = remove
		}
	}
}

// NewUploader constructs an uploader backed by the given GCS client. The
// client may be nil when WithStoreFuncs supplies the storage operations.
func NewUploader(client *storage.Client, bucket, publicBaseURL string, opts ...UploaderOption) (*Uploader, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("uploads: bucket is required")
	}
	publicBaseURL = strings.TrimSuffix(strings.TrimSpace(publicBaseURL), "/")
	if publicBaseURL == "" {
		publicBaseURL = "https://storage.googleapis.com"
	}

	uploader := &Uploader{
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		maxSize:       defaultMaxSize,
		newID:         func() string { return strings.ToLower(ulid.Make().String()) },
	}
	if client != nil {
		bucketHandle := client.Bucket(bucket)
		uploader.write = func(ctx context.Context, objectName, contentType string, data []byte) error {
			writer := bucketHandle.Object(objectName).NewWriter(ctx)
			writer.ContentType = contentType
			if _, err := writer.Write(data); err != nil {
				_ = writer.Close()
				return err
			}
			return writer.Close()
		}
		uploader.remove = func(ctx context.Context, objectName string) error {
			return bucketHandle.Object(objectName).Delete(ctx)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(uploader)
		}
	}
	if uploader.write == nil {
		return nil, errors.New("uploads: storage client or store funcs are required")
	}
	return uploader, nil
}

// Upload decodes a data URL payload and stores it under the given folder.
func (u *Uploader) Upload(ctx context.Context, dataURL, folder string) (Image, error) {
	contentType, data, err := decodeDataURL(dataURL)
	if err != nil {
		return Image{}, err
	}
	if int64(len(data)) > u.maxSize {
		return Image{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	ext, ok := imageExtensions[contentType]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	publicID := folder + "/" + u.newID()
	objectName := publicID + "." + ext

	if err := u.write(ctx, objectName, contentType, data); err != nil {
		return Image{}, fmt.Errorf("uploads: store object %s: %w", objectName, err)
	}

	return Image{
		URL:         fmt.Sprintf("%s/%s/%s", u.publicBaseURL, u.bucket, objectName),
		PublicID:    publicID,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// Delete removes a previously stored object by its public ID.
func (u *Uploader) Delete(ctx context.Context, publicID string) error {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return errors.New("uploads: public id is required")
	}
	if u.remove == nil {
		return errors.New("uploads: delete not supported")
	}

	for _, ext := range imageExtensions {
		if err := u.remove(ctx, publicID+"."+ext); err == nil {
			return nil
		}
	}
	return fmt.Errorf("uploads: object %s not found", publicID)
}

// decodeDataURL parses payloads of the form data:image/png;base64,AAAA.
func decodeDataURL(dataURL string) (string, []byte, error) {
	dataURL = strings.TrimSpace(dataURL)
	if !strings.HasPrefix(dataURL, "data:") {
		return "", nil, fmt.Errorf("%w: missing data scheme", ErrInvalidPayload)
	}

	meta, encoded, found := strings.Cut(dataURL[len("data:"):], ",")
	if !found {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrInvalidPayload)
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: payload must be base64 encoded", ErrInvalidPayload)
	}

	contentType := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	return contentType, data, nil
}
