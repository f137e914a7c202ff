// YouTube Data API collaborators
//
// Playlist attachment and post-upload status checks go through the generated
// youtube/v3 client rather than the raw resumable protocol.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/quota"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	opPlaylistList   = "playlist_list"
	opPlaylistCreate = "playlist_create"
	opPlaylistInsert = "playlist_insert"
	opVideoStatus    = "video_status"
)

// Gate admits billable calls. [quota.Governor] satisfies it.
type Gate interface {
	Wait(ctx context.Context, op quota.Operation) (quota.Reservation, error)
}

// UploadStatus is the processing state YouTube reports for a video.
type UploadStatus string

const (
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusProcessed UploadStatus = "processed"
	UploadStatusFailed    UploadStatus = "failed"
	UploadStatusRejected  UploadStatus = "rejected"
	UploadStatusDeleted   UploadStatus = "deleted"
)

// Accepted reports whether the video was received and kept.
func (s UploadStatus) Accepted() bool {
	return s == UploadStatusUploaded || s == UploadStatusProcessed
}

// Refused reports whether YouTube dropped the video after receiving it.
func (s UploadStatus) Refused() bool {
	return s == UploadStatusFailed || s == UploadStatusRejected || s == UploadStatusDeleted
}

// APIOptions configures the Data API clients.
type APIOptions struct {
	// BaseURL overrides the API endpoint, used against test servers.
	BaseURL     string
	HTTPClient  *http.Client
	TokenSource oauth2.TokenSource
}

// NewYouTubeAPI creates the generated youtube/v3 client.
func NewYouTubeAPI(ctx context.Context, opts APIOptions) (*youtube.Service, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case opts.TokenSource != nil:
		clientOpts = append(clientOpts, option.WithTokenSource(opts.TokenSource))
	default:
		return nil, fmt.Errorf("%w: youtube API needs a token source or http client", shared.ErrMissingCredentials)
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}

	svc, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return svc, nil
}

// PlaylistOptions controls how missing playlists are handled.
type PlaylistOptions struct {
	CreateIfNotExists bool
	Privacy           string
	Description       string
}

// PlaylistService attaches uploaded videos to playlists looked up by title.
type PlaylistService struct {
	svc    *youtube.Service
	gate   Gate
	opts   PlaylistOptions
	logger *log.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewPlaylistService creates a PlaylistService. gate may be nil.
func NewPlaylistService(svc *youtube.Service, gate Gate, opts PlaylistOptions, logger *log.Logger) *PlaylistService {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.Privacy == "" {
		opts.Privacy = "private"
	}
	return &PlaylistService{svc: svc, gate: gate, opts: opts, logger: logger, cache: make(map[string]string)}
}

// Attach adds the video to the playlist titled collection and returns the playlist ID.
func (p *PlaylistService) Attach(ctx context.Context, videoID, collection string) (string, error) {
	if videoID == "" || strings.TrimSpace(collection) == "" {
		return "", fmt.Errorf("%w: video id and playlist title are required", shared.ErrMissingArgument)
	}

	playlistID, err := p.Resolve(ctx, collection)
	if err != nil {
		return "", err
	}

	if err := p.admit(ctx, quota.OpPlaylistInsert); err != nil {
		return "", err
	}
	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}
	if _, err := p.svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do(); err != nil {
		return "", classifyAPIError(ctx, opPlaylistInsert, err)
	}

	p.logger.Info("added video to playlist", "video_id", videoID, "playlist", collection, "playlist_id", playlistID)
	return playlistID, nil
}

// Resolve returns the ID of the playlist titled title, creating it when configured.
func (p *PlaylistService) Resolve(ctx context.Context, title string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.cache[title]; ok {
		return id, nil
	}

	id, err := p.find(ctx, title)
	if err != nil {
		return "", err
	}
	if id == "" {
		if !p.opts.CreateIfNotExists {
			return "", fmt.Errorf("%w: %q", shared.ErrPlaylistNotFound, title)
		}
		if id, err = p.create(ctx, title); err != nil {
			return "", err
		}
	}

	p.cache[title] = id
	return id, nil
}

func (p *PlaylistService) find(ctx context.Context, title string) (string, error) {
	pageToken := ""
	for {
		if err := p.admit(ctx, quota.OpPlaylistList); err != nil {
			return "", err
		}

		call := p.svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(50).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return "", classifyAPIError(ctx, opPlaylistList, err)
		}

		for _, pl := range resp.Items {
			if pl.Snippet != nil && pl.Snippet.Title == title {
				return pl.Id, nil
			}
		}

		if resp.NextPageToken == "" {
			return "", nil
		}
		pageToken = resp.NextPageToken
	}
}

func (p *PlaylistService) create(ctx context.Context, title string) (string, error) {
	if err := p.admit(ctx, quota.OpPlaylistCreate); err != nil {
		return "", err
	}

	pl := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{Title: title, Description: p.opts.Description},
		Status:  &youtube.PlaylistStatus{PrivacyStatus: strings.ToLower(p.opts.Privacy)},
	}
	created, err := p.svc.Playlists.Insert([]string{"snippet", "status"}, pl).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(ctx, opPlaylistCreate, err)
	}

	p.logger.Info("created playlist", "title", title, "id", created.Id)
	return created.Id, nil
}

func (p *PlaylistService) admit(ctx context.Context, op quota.Operation) error {
	if p.gate == nil {
		return nil
	}
	_, err := p.gate.Wait(ctx, op)
	return err
}

// VideoService reads the processing status of uploaded videos.
type VideoService struct {
	svc  *youtube.Service
	gate Gate
}

// NewVideoService creates a VideoService. gate may be nil.
func NewVideoService(svc *youtube.Service, gate Gate) *VideoService {
	return &VideoService{svc: svc, gate: gate}
}

// UploadStatus returns the upload status of the video with the given ID.
func (v *VideoService) UploadStatus(ctx context.Context, videoID string) (UploadStatus, error) {
	if v.gate != nil {
		if _, err := v.gate.Wait(ctx, quota.OpVideoStatus); err != nil {
			return "", err
		}
	}

	resp, err := v.svc.Videos.List([]string{"status"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError(ctx, opVideoStatus, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Status == nil {
		// A video missing right after a confirmed upload has been removed.
		return UploadStatusDeleted, nil
	}

	switch status := UploadStatus(resp.Items[0].Status.UploadStatus); status {
	case UploadStatusUploaded, UploadStatusProcessed, UploadStatusFailed, UploadStatusRejected, UploadStatusDeleted:
		return status, nil
	default:
		return "", anomaly(opVideoStatus, "unknown upload status %q", status)
	}
}

// classifyAPIError converts errors from the generated client into [OutcomeError].
func classifyAPIError(ctx context.Context, op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return classifyTransportError(ctx, op, err)
	}

	oe := &OutcomeError{
		Op:         op,
		StatusCode: gerr.Code,
		Message:    gerr.Message,
		Err:        shared.ErrAPIRequest,
	}
	if len(gerr.Errors) > 0 {
		oe.Reason = gerr.Errors[0].Reason
	}
	if gerr.Header != nil {
		oe.RetryAfter = parseRetryAfter(gerr.Header.Get("Retry-After"), time.Now())
	}
	oe.Kind, oe.Daily = kindForStatus(gerr.Code, oe.Reason, false)
	if oe.Reason == "playlistNotFound" {
		oe.Err = shared.ErrPlaylistNotFound
	}
	return oe
}
