// Package storageurl maps object-storage URLs onto a bucket and object path.
//
// Two URL conventions are recognised, checked in order:
//
//	https://firebasestorage.googleapis.com/v0/b/<bucket>/o/<escaped-path>?alt=media
//	https://storage.googleapis.com/<bucket>/<path>
//
// The first convention always resolves to the configured provider bucket.
package storageurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/franckalain/snapnourish/internal/models"
)

const (
	DefaultProviderHost = "firebasestorage.googleapis.com"
	DefaultGenericHost  = "storage.googleapis.com"
)

// providerPathPattern captures the escaped object path after the "o" segment.
// A "/b/<bucket>" prefix is skipped first so buckets named like "demo" or "o"
// are never mistaken for it.
var providerPathPattern = regexp.MustCompile(`^(?:.*/b/[^/]+)?.*?/o/(.+)$`)

// Resolver turns storage URLs into models.ResolvedObject values.
// It performs no I/O and is safe for concurrent use.
type Resolver struct {
	providerHost   string
	providerBucket string
	genericHosts   map[string]bool
}

// New creates a resolver. providerBucket is used for every provider-style URL.
// When genericHosts is empty only storage.googleapis.com is accepted.
func New(providerHost, providerBucket string, genericHosts ...string) *Resolver {
	if providerHost == "" {
		providerHost = DefaultProviderHost
	}
	if len(genericHosts) == 0 {
		genericHosts = []string{DefaultGenericHost}
	}
	hosts := make(map[string]bool, len(genericHosts))
	for _, h := range genericHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &Resolver{
		providerHost:   strings.ToLower(providerHost),
		providerBucket: providerBucket,
		genericHosts:   hosts,
	}
}

// Resolve extracts the bucket and decoded object path from rawURL.
func (r *Resolver) Resolve(rawURL string) (models.ResolvedObject, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.ResolvedObject{}, fmt.Errorf("%w: %q", models.ErrUnrecognizedURLFormat, rawURL)
	}

	host := strings.ToLower(u.Host)
	switch {
	case host == r.providerHost:
		return r.resolveProvider(u, rawURL)
	case r.genericHosts[host]:
		return r.resolveGeneric(u, rawURL)
	default:
		return models.ResolvedObject{}, fmt.Errorf("%w: %q", models.ErrUnrecognizedURLFormat, rawURL)
	}
}

func (r *Resolver) resolveProvider(u *url.URL, rawURL string) (models.ResolvedObject, error) {
	// the object path ends at the query delimiter, which must be present
	if !u.ForceQuery && u.RawQuery == "" {
		return models.ResolvedObject{}, fmt.Errorf("%w: %q", models.ErrInvalidProviderURLFormat, rawURL)
	}
	match := providerPathPattern.FindStringSubmatch(u.EscapedPath())
	if len(match) < 2 {
		return models.ResolvedObject{}, fmt.Errorf("%w: %q", models.ErrInvalidProviderURLFormat, rawURL)
	}
	path, err := url.PathUnescape(match[1])
	if err != nil {
		return models.ResolvedObject{}, fmt.Errorf("%w: %v", models.ErrInvalidProviderURLFormat, err)
	}
	return models.ResolvedObject{Bucket: r.providerBucket, ObjectPath: path}, nil
}

func (r *Resolver) resolveGeneric(u *url.URL, rawURL string) (models.ResolvedObject, error) {
	bucket, rest, ok := strings.Cut(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if !ok || bucket == "" || rest == "" {
		return models.ResolvedObject{}, fmt.Errorf("%w: %q", models.ErrInvalidGenericURLFormat, rawURL)
	}
	path, err := url.PathUnescape(rest)
	if err != nil {
		return models.ResolvedObject{}, fmt.Errorf("%w: %v", models.ErrInvalidGenericURLFormat, err)
	}
	bucket, err = url.PathUnescape(bucket)
	if err != nil {
		return models.ResolvedObject{}, fmt.Errorf("%w: %v", models.ErrInvalidGenericURLFormat, err)
	}
	return models.ResolvedObject{Bucket: bucket, ObjectPath: path}, nil
}

// GenericURL builds the storage.googleapis.com style URL for an object, the form
// emitted by upload notifications.
func GenericURL(host, bucket, objectPath string) string {
	if host == "" {
		host = DefaultGenericHost
	}
	segments := strings.Split(objectPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("https://%s/%s/%s", host, url.PathEscape(bucket), strings.Join(segments, "/"))
}
