// Package filestore загружает вложения поставщиков во внешнее хранилище.
package filestore

import (
	"context"
	"errors"
	"io"
)

var ErrNotConfigured = errors.New("file storage is not configured")

// File одно вложение из multipart-формы
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Folder контейнер для вложений одного ответа
type Folder struct {
	ID   string
	Link string
}

type Store interface {
	CreateFolder(ctx context.Context, name string) (Folder, error)
	Upload(ctx context.Context, folderID string, files []File) ([]string, error)
}

// Disabled хранилище-заглушка: любая операция завершается ErrNotConfigured
type Disabled struct{}

func (Disabled) CreateFolder(context.Context, string) (Folder, error) {
	return Folder{}, ErrNotConfigured
}

func (Disabled) Upload(context.Context, string, []File) ([]string, error) {
	return nil, ErrNotConfigured
}
