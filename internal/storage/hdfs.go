package storage

import (
	"io"
	"os"

	"github.com/colinmarc/hdfs/v2"
)

// Requirement:
//   Hadoop/HDFS version: 2 or later, namenode RPC reachable

type HDFSClient struct {
	client   *hdfs.Client
	namenode string
}

func NewHDFSClient(namenode, user string) (*HDFSClient, error) {
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{namenode},
		User:      user,
	})
	if err != nil {
		return nil, err
	}
	return &HDFSClient{client: client, namenode: namenode}, nil
}

func (c *HDFSClient) OpenReadCloser(name string) (io.ReadCloser, error) {
	return c.client.Open(name)
}

// HDFS files are write-once, so an existing file is replaced.
func (c *HDFSClient) OpenWriteCloser(name string) (io.WriteCloser, error) {
	exist, err := c.Exists(name)
	if err != nil {
		return nil, err
	}
	if exist {
		if err := c.client.Remove(name); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return c.client.Create(name)
}

func (c *HDFSClient) Exists(name string) (bool, error) {
	_, err := c.client.Stat(name)
	return existCommon(err)
}

func (c *HDFSClient) Close() error {
	return c.client.Close()
}
