package storage

import (
	"io"
	"mime/multipart"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage keeps uploaded and rendered video files. Paths handed back are
// relative to the store; FilePath resolves them for collaborators that shell
// out to external tools.
type Storage interface {
	SaveFile(file multipart.File, info FileInfo) (string, error)
	OpenFile(path string) (io.ReadSeekCloser, error)
	DeleteFile(path string) error
	FilePath(path string) (string, error)
}
