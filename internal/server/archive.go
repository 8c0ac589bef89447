package server

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
)

// WriteArchive streams a zip of every file in the listing. Entries keep
// their upload order and names; colliding names get a numeric suffix. Any
// failure aborts with an error so the caller can kill the connection
// rather than deliver a silently truncated archive.
func (s *DownloadService) WriteArchive(ctx context.Context, w io.Writer, listing *Listing) error {
	zw := zip.NewWriter(w)
	names := make(map[string]int)

	for _, file := range listing.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		blob, err := s.store.GetLiveBlob(ctx, listing.Token.ID, file.ID)
		if err != nil {
			return err
		}
		if blob == nil {
			return fmt.Errorf("file %s disappeared while archiving", file.ID)
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     uniqueArchiveName(names, file.Name),
			Method:   zip.Deflate,
			Modified: blob.CreatedAt,
		})
		if err != nil {
			return err
		}

		rc, err := s.openBlob(ctx, blob)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", file.ID, err)
		}
	}

	return zw.Close()
}

func uniqueArchiveName(seen map[string]int, name string) string {
	if name == "" {
		name = "file"
	}
	count := seen[name]
	seen[name] = count + 1
	if count == 0 {
		return name
	}
	return fmt.Sprintf("%d_%s", count+1, name)
}
