// Package csvsource materializes a dataset's CSV location as a local file the query engine can read.
package csvsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultHTTPTimeout = 2 * time.Minute
	defaultMaxBytes    = 512 << 20
)

var ErrEmpty = errors.New("csv source is empty")

// FetchError describes a location that could not be materialized.
type FetchError struct {
	Location   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Location, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Location, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client

	// S3 serves s3://bucket/key locations. Optional.
	S3 S3API

	// StorageBaseURL resolves scheme-less storage paths such as "csv/abc.csv", e.g.
	// "https://project.supabase.co/storage/v1/object/public/data". Optional.
	StorageBaseURL string

	TempDir  string
	MaxBytes int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.StorageBaseURL != "" {
		u, err := url.Parse(cfg.StorageBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("storage base url must be http(s): %q", cfg.StorageBaseURL)
		}
	}
	return nil
}

type Fetcher struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fetcher{log: cfg.Logger, cfg: cfg}, nil
}

// File is a local copy of a CSV source. Close removes it if it was downloaded.
type File struct {
	Location string
	Path     string
	Size     int64
	temp     bool
}

func (f *File) Close() error {
	if f == nil || !f.temp {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Resolve returns the canonical form of a location: scheme-less storage paths are joined to the
// storage base URL when one is configured.
func (f *Fetcher) Resolve(location string) string {
	location = strings.TrimSpace(location)
	if hasScheme(location) || f.cfg.StorageBaseURL == "" || filepath.IsAbs(location) {
		return location
	}
	if _, err := os.Stat(location); err == nil {
		return location
	}
	return strings.TrimRight(f.cfg.StorageBaseURL, "/") + "/" + strings.TrimLeft(location, "/")
}

// Fetch materializes location as a local file. An unreachable source, a non-2xx response or an
// empty body is a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, location string) (*File, error) {
	resolved := f.Resolve(location)
	if resolved == "" {
		return nil, &FetchError{Location: location, Err: errors.New("empty location")}
	}

	var (
		file *File
		err  error
	)
	switch {
	case strings.HasPrefix(resolved, "http://"), strings.HasPrefix(resolved, "https://"):
		file, err = f.fetchHTTP(ctx, resolved)
	case strings.HasPrefix(resolved, "s3://"):
		file, err = f.fetchS3(ctx, resolved)
	default:
		file, err = f.openLocal(strings.TrimPrefix(resolved, "file://"))
	}
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{Location: resolved, Err: err}
	}
	file.Location = resolved
	if file.Size == 0 {
		_ = file.Close()
		return nil, &FetchError{Location: resolved, Err: ErrEmpty}
	}
	f.log.Debug("csvsource: fetched", "location", resolved, "bytes", file.Size, "path", file.Path)
	return file, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{Location: location, StatusCode: resp.StatusCode}
	}
	return f.writeTemp(resp.Body)
}

func (f *Fetcher) fetchS3(ctx context.Context, location string) (*File, error) {
	if f.cfg.S3 == nil {
		return nil, errors.New("s3 location but no s3 client configured")
	}
	bucket, key, err := ParseS3URI(location)
	if err != nil {
		return nil, err
	}
	out, err := f.cfg.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()
	return f.writeTemp(out.Body)
}

func (f *Fetcher) openLocal(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{Path: path, Size: info.Size()}, nil
}

func (f *Fetcher) writeTemp(r io.Reader) (*File, error) {
	tmp, err := os.CreateTemp(f.cfg.TempDir, "civicdata-*.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	file := &File{Path: tmp.Name(), temp: true}

	n, err := io.Copy(tmp, io.LimitReader(r, f.cfg.MaxBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > f.cfg.MaxBytes {
		err = fmt.Errorf("csv exceeds %d bytes", f.cfg.MaxBytes)
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	file.Size = n
	return file, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri needs bucket and key: %q", uri)
	}
	return bucket, key, nil
}

func hasScheme(location string) bool {
	u, err := url.Parse(location)
	return err == nil && u.Scheme != "" && len(u.Scheme) > 1
}
