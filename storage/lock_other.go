//go:build !unix

package storage

// Exclusive file locks are only supported on unix systems.
type fileLock struct{}

func acquireLock(string) (*fileLock, error) {
	return &fileLock{}, nil
}

func (*fileLock) release() error {
	return nil
}
