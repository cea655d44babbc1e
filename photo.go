package prostlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

// PhotoQueue manages the offline photo pipeline: capture copies the source
// file into an app-owned staging directory and records a pending metadata
// row; upload compresses the staged copy, moves it through a signed URL,
// and finalizes the row. Any failure leaves the staged file and the row
// untouched so the retry replays the full sequence.
type PhotoQueue struct {
	store   *Store
	api     RemoteAPI
	dir     string
	maxDim  int
	quality int
	log     *DebugLogger
}

// NewPhotoQueue creates a photo queue staging into dir. maxDim and quality
// fall back to defaults when non-positive.
func NewPhotoQueue(store *Store, api RemoteAPI, dir string, maxDim, quality int, log *DebugLogger) (*PhotoQueue, error) {
	if maxDim <= 0 {
		maxDim = DefaultPhotoMaxDimension
	}
	if quality <= 0 {
		quality = DefaultPhotoJPEGQuality
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("photo: create staging dir: %w", err)
	}
	return &PhotoQueue{
		store:   store,
		api:     api,
		dir:     dir,
		maxDim:  maxDim,
		quality: quality,
		log:     log,
	}, nil
}

// Dir returns the staging directory path.
func (q *PhotoQueue) Dir() string { return q.dir }

// EnqueuePhoto stages a captured photo for upload. The source file is
// copied into the staging directory first; only then are the metadata row
// and its UPLOAD_FILE operation recorded, so a crash between the two
// leaves at worst an orphaned file for CleanupOrphanedPhotos.
func (q *PhotoQueue) EnqueuePhoto(attendanceID, userID, srcPath string) (*BeerPicture, error) {
	ext := strings.ToLower(filepath.Ext(srcPath))
	if ext == "" {
		ext = ".jpg"
	}
	staged := filepath.Join(q.dir, ulid.Make().String()+ext)

	if err := copyFile(srcPath, staged); err != nil {
		return nil, fmt.Errorf("photo: stage %s: %w", srcPath, err)
	}

	pic, err := q.store.StagePicture(BeerPicture{
		AttendanceID: attendanceID,
		UserID:       userID,
		LocalURI:     staged,
	})
	if err != nil {
		os.Remove(staged)
		return nil, err
	}

	q.log.LogPhoto("staged", pic.ID, staged)
	return pic, nil
}

// HandleUpload is the queue handler for UPLOAD_FILE operations. It runs
// the full upload sequence for one staged picture. The local state changes
// only after the server confirms the upload.
func (q *PhotoQueue) HandleUpload(ctx context.Context, item *QueueItem) error {
	pic, err := q.store.Picture(item.RecordID)
	if err != nil {
		return fmt.Errorf("photo: load picture %s: %w", item.RecordID, err)
	}
	if !pic.PendingUpload {
		// Already reconciled by an earlier attempt.
		return nil
	}

	data, err := q.compress(pic.LocalURI)
	if err != nil {
		return err
	}
	q.log.LogPhoto("compressed", pic.ID, fmt.Sprintf("%d bytes", len(data)))

	ticket, err := q.api.CreateUploadURL(ctx, pic.ID, "image/jpeg")
	if err != nil {
		return err
	}
	if err := q.api.UploadObject(ctx, ticket.UploadURL, "image/jpeg", data); err != nil {
		return err
	}
	pictureURL, err := q.api.ConfirmUpload(ctx, pic.ID, ticket.ObjectKey)
	if err != nil {
		return err
	}

	if err := q.store.FinishPictureUpload(pic.ID, pictureURL, time.Now().UTC()); err != nil {
		return err
	}

	// Best effort: a leftover staged file is caught by orphan cleanup.
	if pic.LocalURI != "" {
		if err := os.Remove(pic.LocalURI); err != nil && !os.IsNotExist(err) {
			q.log.LogPhoto("cleanup", pic.ID, "remove staged: "+err.Error())
		}
	}

	q.log.LogPhoto("uploaded", pic.ID, pictureURL)
	return nil
}

// compress loads the staged image, bounds it to maxDim on its longer side,
// and re-encodes as JPEG.
func (q *PhotoQueue) compress(path string) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("photo: open %s: %w", path, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > q.maxDim || bounds.Dy() > q.maxDim {
		img = imaging.Fit(img, q.maxDim, q.maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q.quality)); err != nil {
		return nil, fmt.Errorf("photo: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Stats reports staged upload state, including the on-disk footprint of
// files still waiting.
func (q *PhotoQueue) Stats() (*PhotoQueueStats, error) {
	total, err := q.store.PictureCount()
	if err != nil {
		return nil, err
	}
	pending, err := q.store.PendingPictures()
	if err != nil {
		return nil, err
	}

	stats := &PhotoQueueStats{Total: total, Pending: len(pending)}
	for _, p := range pending {
		if p.LocalURI == "" {
			continue
		}
		if info, err := os.Stat(p.LocalURI); err == nil {
			stats.PendingBytes += info.Size()
		}
	}
	return stats, nil
}

// CleanupOrphanedPhotos removes staged files no picture row references.
// Orphans appear when a crash lands between staging the file and recording
// the row. Returns the number of files removed.
func (q *PhotoQueue) CleanupOrphanedPhotos() (int, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("photo: read staging dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(q.dir, entry.Name())
		known, err := q.store.LocalURIKnown(path)
		if err != nil {
			return removed, err
		}
		if known {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("photo: remove orphan %s: %w", path, err)
		}
		q.log.LogPhoto("orphan-removed", "", path)
		removed++
	}
	return removed, nil
}

// copyFile copies src to dst, syncing the destination before returning.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
