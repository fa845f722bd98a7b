// Package swifttransport implements transport.Transport on OpenStack Swift
// static large objects (SLO).
//
// Each part is stored as a segment object in a companion container named
// "<container>_segments". Completing the upload writes the SLO manifest to the
// destination; aborting deletes the segments written so far.
package swifttransport

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ncw/swift"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// API is the subset of Swift operations used by Transport.
type API interface {
	ContainerCreate(container string, h swift.Headers) error
	ObjectPut(container, objectName string, contents io.Reader, checkHash bool, hash, contentType string, h swift.Headers) (swift.Headers, error)
	ObjectNamesAll(container string, opts *swift.ObjectsOpts) ([]string, error)
	ObjectDelete(container, objectName string) error
	// ManifestPut stores an SLO manifest as container/objectName.
	ManifestPut(container, objectName string, manifest []byte, h swift.Headers) (swift.Headers, error)
}

// Config holds Swift credentials. AuthVersion 0 lets the client detect it
// from AuthURL.
type Config struct {
	UserName    string
	APIKey      string
	AuthURL     string
	Domain      string
	Tenant      string
	Region      string
	AuthVersion int
}

// Conn adapts an authenticated *swift.Connection to API.
type Conn struct {
	*swift.Connection
}

// Connect authenticates against Swift.
func Connect(cfg Config) (*Conn, error) {
	c := &swift.Connection{
		UserName:    cfg.UserName,
		ApiKey:      cfg.APIKey,
		AuthUrl:     cfg.AuthURL,
		Domain:      cfg.Domain,
		Tenant:      cfg.Tenant,
		Region:      cfg.Region,
		AuthVersion: cfg.AuthVersion,
	}
	if err := c.Authenticate(); err != nil {
		return nil, fmt.Errorf("authenticate with %s: %w", cfg.AuthURL, err)
	}
	return &Conn{Connection: c}, nil
}

// ManifestPut writes manifest with ?multipart-manifest=put.
func (c *Conn) ManifestPut(container, objectName string, manifest []byte, h swift.Headers) (swift.Headers, error) {
	_, headers, err := c.Call(c.StorageUrl, swift.RequestOpts{
		Container:  container,
		ObjectName: objectName,
		Operation:  http.MethodPut,
		Parameters: url.Values{"multipart-manifest": {"put"}},
		Headers:    h,
		Body:       bytes.NewReader(manifest),
		NoResponse: true,
	})
	return headers, err
}

// Transport writes parts as SLO segments.
type Transport struct {
	api API
}

// New returns a Transport backed by api.
func New(api API) *Transport {
	return &Transport{api: api}
}

func segmentContainer(container string) string {
	return container + "_segments"
}

// InitiateUpload makes sure the segment container exists and allocates an
// upload id used to namespace the segments.
func (t *Transport) InitiateUpload(ctx context.Context, dest transport.Destination, opts transport.UploadOptions) (*transport.Upload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.SSE != nil {
		return nil, fmt.Errorf("server-side encryption %q is not supported by swift", opts.SSE.Type)
	}
	if err := t.api.ContainerCreate(segmentContainer(dest.Bucket), nil); err != nil {
		return nil, fmt.Errorf("create segment container for %s: %w", dest, err)
	}
	return &transport.Upload{ID: uuid.NewString(), Destination: dest, Options: opts}, nil
}

// UploadPart stores body as one segment, verified by its MD5.
func (t *Transport) UploadPart(ctx context.Context, u *transport.Upload, partNumber int32, body []byte) (transport.UploadedPart, error) {
	if err := ctx.Err(); err != nil {
		return transport.UploadedPart{}, err
	}
	if partNumber > MaxSegments {
		return transport.UploadedPart{}, fmt.Errorf("segment %d exceeds the limit of %d segments", partNumber, MaxSegments)
	}

	sum := md5.Sum(body)
	etag := hex.EncodeToString(sum[:])
	name := segmentName(u.Destination.Key, u.ID, partNumber)
	if _, err := t.api.ObjectPut(segmentContainer(u.Destination.Bucket), name, bytes.NewReader(body), true, etag, "", nil); err != nil {
		return transport.UploadedPart{}, fmt.Errorf("put segment %s: %w", name, err)
	}
	return transport.UploadedPart{PartNumber: partNumber, ETag: etag, Size: int64(len(body))}, nil
}

// CompleteUpload writes the SLO manifest and checks the ETag Swift computes
// for it.
func (t *Transport) CompleteUpload(ctx context.Context, u *transport.Upload, parts []transport.CompletedPart) (*transport.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	manifest, want, err := buildManifest(segmentContainer(u.Destination.Bucket), u, parts)
	if err != nil {
		return nil, err
	}

	headers, err := t.api.ManifestPut(u.Destination.Bucket, u.Destination.Key, manifest, objectHeaders(u.Options))
	if err != nil {
		return nil, fmt.Errorf("put manifest %s: %w", u.Destination, err)
	}
	got := strings.Trim(headers["Etag"], `"`)
	if got != "" && got != want {
		return nil, fmt.Errorf("manifest %s: etag %s, want %s", u.Destination, got, want)
	}

	return &transport.Object{
		Location: "swift://" + u.Destination.String(),
		Bucket:   u.Destination.Bucket,
		Key:      u.Destination.Key,
		ETag:     want,
	}, nil
}

// AbortUpload deletes every segment written under the upload's prefix.
func (t *Transport) AbortUpload(ctx context.Context, u *transport.Upload) error {
	container := segmentContainer(u.Destination.Bucket)
	names, err := t.api.ObjectNamesAll(container, &swift.ObjectsOpts{Prefix: segmentPrefix(u.Destination.Key, u.ID)})
	if err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return nil
		}
		return fmt.Errorf("list segments of %s: %w", u.Destination, err)
	}

	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := t.api.ObjectDelete(container, name); err != nil && !errors.Is(err, swift.ObjectNotFound) {
			errs = append(errs, fmt.Errorf("delete segment %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func objectHeaders(opts transport.UploadOptions) swift.Headers {
	h := swift.Headers{}
	set := func(k, v string) {
		if v != "" {
			h[k] = v
		}
	}
	set("Content-Type", opts.ContentType)
	set("Content-Encoding", opts.ContentEncoding)
	set("Content-Disposition", opts.ContentDisposition)
	set("Cache-Control", opts.CacheControl)
	for k, v := range opts.Metadata {
		h["X-Object-Meta-"+k] = v
	}
	return h
}

var (
	_ transport.Transport = (*Transport)(nil)
	_ API                 = (*Conn)(nil)
)
