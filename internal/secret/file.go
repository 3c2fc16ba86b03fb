package secret

import (
	"context"
	"os"
)

// FileSource reads a secret from a path on the local filesystem — the
// default for a cert/key pair mounted into a container.
type FileSource struct{}

// NewFileSource returns a FileSource.
func NewFileSource() *FileSource { return &FileSource{} }

// Get reads name as a file path.
func (s *FileSource) Get(_ context.Context, name string) (Secret, error) {
	return os.ReadFile(name)
}
