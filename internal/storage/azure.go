package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureClient addresses blobs as "container/blob/name".
type AzureClient struct {
	client *azblob.Client
}

func NewAzureClient(connectionString string) (*AzureClient, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("azure connection string is empty")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}
	return &AzureClient{client: client}, nil
}

func splitBlobPath(name string) (string, string, error) {
	container, blob, ok := strings.Cut(strings.TrimPrefix(name, "/"), "/")
	if !ok || container == "" || blob == "" {
		return "", "", fmt.Errorf("azure: need container/blob, got %q", name)
	}
	return container, blob, nil
}

func (c *AzureClient) OpenReadCloser(name string) (io.ReadCloser, error) {
	container, blob, err := splitBlobPath(name)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.DownloadStream(context.Background(), container, blob, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// OpenWriteCloser streams writes into a block blob. The upload is
// committed when Close returns nil.
func (c *AzureClient) OpenWriteCloser(name string) (io.WriteCloser, error) {
	container, blob, err := splitBlobPath(name)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &blobWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := c.client.UploadStream(context.Background(), container, blob, pr, nil)
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (c *AzureClient) Exists(name string) (bool, error) {
	container, blob, err := splitBlobPath(name)
	if err != nil {
		return false, err
	}
	_, err = c.client.ServiceClient().NewContainerClient(container).NewBlobClient(blob).GetProperties(context.Background(), nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, err
}

type blobWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *blobWriter) Write(b []byte) (int, error) {
	return w.pw.Write(b)
}

func (w *blobWriter) Close() error {
	w.pw.Close()
	return <-w.done
}
