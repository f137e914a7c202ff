// package services defines the remote operations the upload engine depends on
//
// YouTube resumable uploads, playlists, video status
package services

import (
	"context"

	"github.com/desertthunder/ytup/internal/models"
)

// Uploader issues the three primitives of the resumable upload protocol.
type Uploader interface {
	// InitiateSession opens a remote session for total bytes and returns its handle.
	InitiateSession(ctx context.Context, meta models.VideoMetadata, total int64) (string, error)

	// SendChunk sends data starting at offset. The remote decides how much of it was kept.
	SendChunk(ctx context.Context, handle string, offset int64, data []byte, total int64) (ChunkResult, error)

	// QueryOffset asks how many bytes the remote has committed.
	QueryOffset(ctx context.Context, handle string, total int64) (OffsetResult, error)
}

// CollectionAttacher adds a completed upload to a named collection.
type CollectionAttacher interface {
	// Attach returns the collection's remote ID.
	Attach(ctx context.Context, videoID, collection string) (string, error)
}

// StatusChecker reports the processing state of a completed upload.
type StatusChecker interface {
	UploadStatus(ctx context.Context, videoID string) (UploadStatus, error)
}

var (
	_ Uploader           = (*ResumableClient)(nil)
	_ CollectionAttacher = (*PlaylistService)(nil)
	_ StatusChecker      = (*VideoService)(nil)
)
