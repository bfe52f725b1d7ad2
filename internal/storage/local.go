package storage

import (
	"io"
	"os"
	"path/filepath"
)

type localClient struct {
}

func NewLocalClient() Client {
	return &localClient{}
}

func (c *localClient) OpenReadCloser(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// OpenWriteCloser creates missing parent directories.
func (c *localClient) OpenWriteCloser(name string) (io.WriteCloser, error) {
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.Create(name)
}

func (c *localClient) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	return existCommon(err)
}
