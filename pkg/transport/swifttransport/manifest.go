package swifttransport

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// MaxSegments is the default segment limit of a Swift static large object.
const MaxSegments = 1000

// segmentEntry is one element of an SLO manifest.
type segmentEntry struct {
	Path      string `json:"path"`
	ETag      string `json:"etag"`
	SizeBytes int64  `json:"size_bytes"`
}

// segmentPrefix is the object name prefix shared by all segments of one upload.
func segmentPrefix(key, uploadID string) string {
	return key + "/" + uploadID + "/"
}

func segmentName(key, uploadID string, partNumber int32) string {
	return fmt.Sprintf("%s%08d", segmentPrefix(key, uploadID), partNumber)
}

// buildManifest renders the manifest JSON for parts, which must already be in
// ascending part order, and returns the ETag Swift will report for it.
func buildManifest(segContainer string, u *transport.Upload, parts []transport.CompletedPart) ([]byte, string, error) {
	entries := make([]segmentEntry, len(parts))
	etags := md5.New()
	for i, p := range parts {
		if p.Size <= 0 {
			return nil, "", fmt.Errorf("segment %d has no size", p.PartNumber)
		}
		etag := strings.Trim(p.ETag, `"`)
		entries[i] = segmentEntry{
			Path:      "/" + segContainer + "/" + segmentName(u.Destination.Key, u.ID, p.PartNumber),
			ETag:      etag,
			SizeBytes: p.Size,
		}
		etags.Write([]byte(etag))
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, "", fmt.Errorf("encode manifest: %w", err)
	}
	return data, hex.EncodeToString(etags.Sum(nil)), nil
}
