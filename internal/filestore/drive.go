package filestore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive хранит вложения в Google Drive, по папке на ответ внутри parentID
type Drive struct {
	svc      *drive.Service
	parentID string
}

func NewDrive(ctx context.Context, credentialsFile, parentID string) (*Drive, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return &Drive{svc: svc, parentID: parentID}, nil
}

func (d *Drive) CreateFolder(ctx context.Context, name string) (Folder, error) {
	meta := &drive.File{Name: sanitize(name), MimeType: folderMimeType}
	if d.parentID != "" {
		meta.Parents = []string{d.parentID}
	}
	f, err := d.svc.Files.Create(meta).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return Folder{}, fmt.Errorf("drive create folder: %w", err)
	}
	return Folder{ID: f.Id, Link: f.WebViewLink}, nil
}

// Upload загружает файлы по одному. При ошибке возвращает ссылки на уже
// загруженные файлы вместе с ошибкой.
func (d *Drive) Upload(ctx context.Context, folderID string, files []File) ([]string, error) {
	links := make([]string, 0, len(files))
	for _, f := range files {
		link, err := d.uploadOne(ctx, folderID, f)
		if err != nil {
			return links, err
		}
		links = append(links, link)
	}
	return links, nil
}

func (d *Drive) uploadOne(ctx context.Context, folderID string, f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	meta := &drive.File{Name: sanitize(f.Name), MimeType: f.ContentType}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}
	out, err := d.svc.Files.Create(meta).
		Media(rc).
		Fields("id", "webViewLink").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", f.Name, err)
	}
	return out.WebViewLink, nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" {
		return "untitled"
	}
	return name
}
