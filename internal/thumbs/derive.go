// Package thumbs implements the thumbnail pipeline: deriving thumbnail
// keys from upload keys, generating resized JPEGs, and consuming upload
// notifications off a Redis Stream.
package thumbs

import (
	"path"
	"strings"
)

const (
	// DefaultPrefix is where derived thumbnails live in the bucket.
	DefaultPrefix = "thumbs/"
	// uploadsPrefix is the namespace user uploads land in; anything else
	// is not ours to thumbnail.
	uploadsPrefix = "users/"
)

// supportedExts are the source image types the pipeline decodes.
var supportedExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// DeriveKey maps an upload key to its thumbnail key: the uploads
// namespace is swapped for the thumbs one, sub-path preserved, extension
// replaced with .jpg. users/abc/photo.PNG becomes thumbs/abc/photo.jpg.
func DeriveKey(prefix, srcKey string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ext := path.Ext(srcKey)
	rel := strings.TrimPrefix(strings.TrimSuffix(srcKey, ext), uploadsPrefix)
	return prefix + rel + ".jpg"
}

// ShouldProcess reports whether an object key is a thumbnailable upload.
// Derived keys, keys outside the uploads namespace, and unsupported
// extensions are skipped, which also keeps the pipeline from feeding on
// its own output.
func ShouldProcess(prefix, key string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.HasPrefix(key, prefix) {
		return false
	}
	if !strings.HasPrefix(key, uploadsPrefix) {
		return false
	}
	return supportedExts[strings.ToLower(path.Ext(key))]
}
