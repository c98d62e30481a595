// Package blob is the object-store client used for originals and previews.
// Objects are addressed by container (bucket) and key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrObjectNotFound is returned by Fetch when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrContainerNotFound is returned when the container itself does not exist.
	ErrContainerNotFound = errors.New("container not found")
	// ErrInvalidLocation is returned when no object key can be derived from a location.
	ErrInvalidLocation = errors.New("invalid object location")
)

// Driver names accepted by New.
const (
	DriverMinio = "minio"
	DriverS3    = "s3"
)

// Store is the contract shared by the object-store backends.
type Store interface {
	Fetch(ctx context.Context, container, key string) ([]byte, error)
	Publish(ctx context.Context, container, key string, data []byte, contentType string) (string, error)
	Location(container, key string) string
	EnsureContainer(ctx context.Context, name string) error
}

// Options holds connection settings common to all backends.
type Options struct {
	Driver        string
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string // prefix for published locations; empty means "<container>/<key>"
}

// New connects the backend selected by opts.Driver.
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMinio, "":
		return NewMinio(opts)
	case DriverS3:
		return NewS3(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// locator maps (container, key) to a stable addressable location.
type locator struct {
	base string
}

func newLocator(publicBaseURL string) locator {
	return locator{base: strings.TrimRight(publicBaseURL, "/")}
}

// Location returns the address under which a published object is retrievable.
func (l locator) Location(container, key string) string {
	rel := container + "/" + strings.TrimLeft(key, "/")
	if l.base == "" {
		return rel
	}
	return l.base + "/" + rel
}

// KeyFromLocation extracts the object key of an original from its stored
// location. Locations may be full URLs (query strings such as SAS tokens are
// dropped) or "<container>/<key>" paths. When the path starts with container
// the remainder is the key; otherwise the last path segment is.
func KeyFromLocation(location, container string) (string, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocation)
	}

	p := loc
	if u, err := url.Parse(loc); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	} else {
		p, _, _ = strings.Cut(p, "?")
	}

	p = strings.Trim(p, "/")
	if container != "" {
		if rest, ok := strings.CutPrefix(p, container+"/"); ok && rest != "" {
			return rest, nil
		}
	}

	key := path.Base(p)
	if key == "." || key == "/" || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}

	return key, nil
}
