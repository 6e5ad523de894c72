package gdrive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const refScheme = "gdrive://"

// DriveService is the subset of the Drive API the store needs; it exists so
// tests can run without Google credentials.
type DriveService interface {
	Create(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error)
	ShareWithAnyone(ctx context.Context, fileID string) error
	Get(ctx context.Context, fileID, fields string) (*drive.File, error)
}

// GoogleDriveService is the production implementation.
type GoogleDriveService struct {
	service *drive.Service
}

func (s *GoogleDriveService) Create(ctx context.Context, file *drive.File, media io.Reader) (*drive.File, error) {
	return s.service.Files.Create(file).
		Media(media).
		Fields(googleapi.Field("id, name, size, webViewLink, webContentLink")).
		Context(ctx).
		Do()
}

func (s *GoogleDriveService) ShareWithAnyone(ctx context.Context, fileID string) error {
	_, err := s.service.Permissions.Create(fileID, &drive.Permission{Type: "anyone", Role: "reader"}).
		Context(ctx).
		Do()
	return err
}

func (s *GoogleDriveService) Get(ctx context.Context, fileID, fields string) (*drive.File, error) {
	return s.service.Files.Get(fileID).
		Fields(googleapi.Field(fields)).
		Context(ctx).
		Do()
}

// Store uploads objects into one Drive folder.
type Store struct {
	svc      DriveService
	folderID string
}

type Option func(*Store)

func WithDriveService(svc DriveService) Option {
	return func(s *Store) { s.svc = svc }
}

func New(ctx context.Context, credentialsPath, folderID string, opts ...Option) (*Store, error) {
	s := &Store{folderID: folderID}
	for _, opt := range opts {
		opt(s)
	}
	if s.svc == nil {
		svc, err := newGoogleDriveService(ctx, credentialsPath)
		if err != nil {
			return nil, err
		}
		s.svc = svc
	}
	return s, nil
}

func newGoogleDriveService(ctx context.Context, credentialsPath string) (*GoogleDriveService, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	config, err := google.JWTConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}
	return &GoogleDriveService{service: srv}, nil
}

// Put uploads r as a file named after the key's path, readable by anyone
// with the link. An upload in flight is aborted by ctx.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	name := strings.ReplaceAll(strings.Trim(path.Clean("/"+key), "/"), "/", "_")
	if name == "" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	f, err := s.svc.Create(ctx, &drive.File{
		Name:     name,
		Parents:  []string{s.folderID},
		MimeType: contentType,
	}, r)
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", name, err)
	}
	if err := s.svc.ShareWithAnyone(ctx, f.Id); err != nil {
		return "", fmt.Errorf("drive share %s: %w", f.Id, err)
	}
	return refScheme + f.Id, nil
}

// SignedURL returns the direct download link. Drive links do not expire, so
// ttl is not enforced.
func (s *Store) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	id, ok := strings.CutPrefix(ref, refScheme)
	if !ok || id == "" {
		return "", fmt.Errorf("not a drive ref: %q", ref)
	}
	f, err := s.svc.Get(ctx, id, "id, webViewLink, webContentLink")
	if err != nil {
		return "", fmt.Errorf("drive get %s: %w", id, err)
	}
	if f.WebContentLink != "" {
		return f.WebContentLink, nil
	}
	if f.WebViewLink != "" {
		return f.WebViewLink, nil
	}
	return "", fmt.Errorf("drive file %s has no shareable link", id)
}
