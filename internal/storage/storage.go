// Package storage opens the input and output handles of a run. Names are
// routed by scheme: hdfs://namenode:port/path, azblob://container/blob, and
// plain or file:// paths on the local filesystem.
package storage

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
)

type Client interface {
	// Opens the file for reading. Every call returns an independent handle.
	OpenReadCloser(name string) (io.ReadCloser, error)
	// Opens the file for writing, creating or truncating it.
	OpenWriteCloser(name string) (io.WriteCloser, error)
	Exists(name string) (bool, error)
}

const (
	SchemeLocal = "file"
	SchemeHDFS  = "hdfs"
	SchemeAzure = "azblob"
)

// Location is a parsed storage name.
type Location struct {
	Scheme string
	Host   string // namenode address for hdfs, empty otherwise
	Path   string // name handed to the backend client
}

// ParseLocation splits a storage name into backend and backend-local path.
func ParseLocation(name string) (Location, error) {
	if name == "" {
		return Location{}, fmt.Errorf("empty storage name")
	}
	if !strings.Contains(name, "://") {
		return Location{Scheme: SchemeLocal, Path: name}, nil
	}

	u, err := url.Parse(name)
	if err != nil {
		return Location{}, fmt.Errorf("failed to parse storage name %q: %w", name, err)
	}

	switch u.Scheme {
	case SchemeLocal:
		return Location{Scheme: SchemeLocal, Path: u.Host + u.Path}, nil
	case SchemeHDFS:
		if u.Host == "" {
			return Location{}, fmt.Errorf("hdfs name %q has no namenode address", name)
		}
		if u.Path == "" || u.Path == "/" {
			return Location{}, fmt.Errorf("hdfs name %q has no path", name)
		}
		return Location{Scheme: SchemeHDFS, Host: u.Host, Path: u.Path}, nil
	case SchemeAzure:
		blob := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || blob == "" {
			return Location{}, fmt.Errorf("azblob name %q must be azblob://container/blob", name)
		}
		return Location{Scheme: SchemeAzure, Path: u.Host + "/" + blob}, nil
	}
	return Location{}, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
}

// Router is a Client over every supported backend. Backend clients are
// created on first use and shared afterwards.
type Router struct {
	mu      sync.Mutex
	clients map[string]Client

	// NewHDFS and NewAzure build backend clients; replaceable in tests.
	NewHDFS  func(namenode string) (Client, error)
	NewAzure func() (Client, error)
}

func NewRouter() *Router {
	return &Router{
		clients: make(map[string]Client),
		NewHDFS: func(namenode string) (Client, error) {
			return NewHDFSClient(namenode, os.Getenv("HADOOP_USER_NAME"))
		},
		NewAzure: func() (Client, error) {
			return NewAzureClient(os.Getenv("AZURE_STORAGE_CONNECTION_STRING"))
		},
	}
}

// Resolve returns the backend client for name and the path to hand it.
func (r *Router) Resolve(name string) (Client, string, error) {
	loc, err := ParseLocation(name)
	if err != nil {
		return nil, "", err
	}

	key := loc.Scheme + "://" + loc.Host
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c, loc.Path, nil
	}

	var c Client
	switch loc.Scheme {
	case SchemeHDFS:
		c, err = r.NewHDFS(loc.Host)
	case SchemeAzure:
		c, err = r.NewAzure()
	default:
		c = NewLocalClient()
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", loc.Scheme, err)
	}
	r.clients[key] = c
	return c, loc.Path, nil
}

func (r *Router) OpenReadCloser(name string) (io.ReadCloser, error) {
	c, path, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return c.OpenReadCloser(path)
}

func (r *Router) OpenWriteCloser(name string) (io.WriteCloser, error) {
	c, path, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return c.OpenWriteCloser(path)
}

func (r *Router) Exists(name string) (bool, error) {
	c, path, err := r.Resolve(name)
	if err != nil {
		return false, err
	}
	return c.Exists(path)
}

// Close closes every backend client that holds a connection.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for key, c := range r.clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(r.clients, key)
	}
	return first
}

func existCommon(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
