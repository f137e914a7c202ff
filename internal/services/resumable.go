// Resumable upload protocol client
//
// Implements the three calls of the YouTube resumable upload protocol against
// the upload endpoint: session initiation, ranged chunk PUTs, and offset queries.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/oauth2"
)

const (
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	// statusResumeIncomplete is the 308 the upload endpoint uses for "more bytes expected".
	statusResumeIncomplete = 308
)

// ChunkResult is the acknowledgement of a chunk send.
type ChunkResult struct {
	// Complete is set when the remote has the whole file.
	Complete bool
	// Next is the first byte the remote expects, valid when not Complete.
	Next int64
	// RemoteID is the uploaded video ID, valid when Complete.
	RemoteID string
}

// OffsetResult is the answer to a committed-offset query.
type OffsetResult struct {
	Committed int64
	Complete  bool
	RemoteID  string
}

// ResumableOptions configures a [ResumableClient].
type ResumableOptions struct {
	UploadURL   string
	HTTPClient  *http.Client
	Credentials CredentialProvider
	Logger      *log.Logger
	Timeout     time.Duration
}

// ResumableClient speaks the resumable upload protocol over HTTP.
type ResumableClient struct {
	uploadURL  string
	httpClient *http.Client
	creds      CredentialProvider
	logger     *log.Logger
}

// NewResumableClient creates a client for the given upload endpoint.
func NewResumableClient(opts ResumableOptions) *ResumableClient {
	if opts.UploadURL == "" {
		opts.UploadURL = defaultUploadURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	// Redirects are protocol signals here, not something to follow.
	client := *opts.HTTPClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}

	return &ResumableClient{
		uploadURL:  opts.UploadURL,
		httpClient: &client,
		creds:      opts.Credentials,
		logger:     opts.Logger,
	}
}

type videoResource struct {
	Snippet struct {
		Title           string   `json:"title"`
		Description     string   `json:"description,omitempty"`
		Tags            []string `json:"tags,omitempty"`
		CategoryID      string   `json:"categoryId,omitempty"`
		DefaultLanguage string   `json:"defaultLanguage,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus           string `json:"privacyStatus"`
		SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
	} `json:"status"`
}

func newVideoResource(m models.VideoMetadata) videoResource {
	var v videoResource
	v.Snippet.Title = m.Title
	v.Snippet.Description = m.Description
	v.Snippet.Tags = m.Tags
	v.Snippet.CategoryID = m.CategoryID
	v.Snippet.DefaultLanguage = m.Language
	v.Status.PrivacyStatus = strings.ToLower(m.PrivacyStatus)
	if v.Status.PrivacyStatus == "" {
		v.Status.PrivacyStatus = "private"
	}
	return v
}

// InitiateSession creates a remote upload session and returns its handle (the session URI).
func (c *ResumableClient) InitiateSession(ctx context.Context, meta models.VideoMetadata, total int64) (string, error) {
	body, err := json.Marshal(newVideoResource(meta))
	if err != nil {
		return "", &OutcomeError{Op: opInitiate, Kind: models.FailurePermanentRequest, Err: err}
	}

	u, err := url.Parse(c.uploadURL)
	if err != nil {
		return "", &OutcomeError{Op: opInitiate, Kind: models.FailurePermanentRequest, Err: err}
	}
	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("part", "snippet,status")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json; charset=UTF-8")
	headers.Set("X-Upload-Content-Length", strconv.FormatInt(total, 10))
	headers.Set("X-Upload-Content-Type", "video/*")

	resp, err := c.do(ctx, opInitiate, http.MethodPost, u.String(), headers, body)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.reject(classifyResponse(opInitiate, resp, false))
	}

	handle := resp.Header.Get("Location")
	if handle == "" {
		return "", &OutcomeError{Op: opInitiate, Kind: models.FailureProtocolAnomaly, StatusCode: resp.StatusCode, Err: shared.ErrMissingSession}
	}

	c.logger.Debug("upload session created", "title", meta.Title, "bytes", total)
	return handle, nil
}

// SendChunk PUTs data at offset into the session.
func (c *ResumableClient) SendChunk(ctx context.Context, handle string, offset int64, data []byte, total int64) (ChunkResult, error) {
	if len(data) == 0 {
		return ChunkResult{}, &OutcomeError{Op: opChunk, Kind: models.FailurePermanentRequest, Err: shared.ErrInvalidArgument, Message: "empty chunk"}
	}

	end := offset + int64(len(data)) - 1
	headers := http.Header{}
	headers.Set("Content-Type", "video/*")
	headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))

	resp, err := c.do(ctx, opChunk, http.MethodPut, handle, headers, data)
	if err != nil {
		return ChunkResult{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case statusResumeIncomplete:
		next, err := parseRangeHeader(resp.Header.Get("Range"))
		if err != nil {
			return ChunkResult{}, anomaly(opChunk, "%v", err)
		}
		return ChunkResult{Next: next}, nil
	case http.StatusOK, http.StatusCreated:
		id, err := decodeVideoID(resp.Body)
		if err != nil {
			return ChunkResult{}, anomaly(opChunk, "%v", err)
		}
		return ChunkResult{Complete: true, RemoteID: id}, nil
	default:
		return ChunkResult{}, c.reject(classifyResponse(opChunk, resp, true))
	}
}

// QueryOffset asks the remote how many bytes of the session it has committed.
func (c *ResumableClient) QueryOffset(ctx context.Context, handle string, total int64) (OffsetResult, error) {
	headers := http.Header{}
	headers.Set("Content-Range", fmt.Sprintf("bytes */%d", total))

	resp, err := c.do(ctx, opQuery, http.MethodPut, handle, headers, nil)
	if err != nil {
		return OffsetResult{}, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case statusResumeIncomplete:
		committed, err := parseRangeHeader(resp.Header.Get("Range"))
		if err != nil {
			return OffsetResult{}, anomaly(opQuery, "%v", err)
		}
		if committed > total {
			return OffsetResult{}, anomaly(opQuery, "committed %d beyond total %d", committed, total)
		}
		return OffsetResult{Committed: committed}, nil
	case http.StatusOK, http.StatusCreated:
		id, err := decodeVideoID(resp.Body)
		if err != nil {
			return OffsetResult{}, anomaly(opQuery, "%v", err)
		}
		return OffsetResult{Committed: total, Complete: true, RemoteID: id}, nil
	default:
		return OffsetResult{}, c.reject(classifyResponse(opQuery, resp, true))
	}
}

// do sends one authorised request. Failures before a response are returned as [OutcomeError].
func (c *ResumableClient) do(ctx context.Context, op, method, target string, headers http.Header, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, &OutcomeError{Op: op, Kind: models.FailurePermanentRequest, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.ContentLength = int64(len(body))
	for k, v := range headers {
		req.Header[k] = v
	}

	if c.creds != nil {
		tok, err := c.creds.Token()
		if err != nil {
			return nil, c.reject(credentialError(op, err))
		}
		tok.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, op, err)
	}

	c.logger.Debug("upload request", "op", op, "status", resp.StatusCode, "bytes", len(body), "took", time.Since(start))
	return resp, nil
}

// reject notifies the credential provider about authentication failures and passes oe through.
func (c *ResumableClient) reject(oe *OutcomeError) *OutcomeError {
	if oe.Kind == models.FailureAuthRejected && c.creds != nil {
		c.creds.Reject(oe)
	}
	return oe
}

// credentialError classifies a token acquisition failure. A refused refresh
// grant can never succeed again; anything else may be a network blip.
func credentialError(op string, err error) *OutcomeError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" ||
			(re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)) {
			return &OutcomeError{Op: op, Kind: models.FailureAuthRejected, Err: err}
		}
	}
	if errors.Is(err, shared.ErrNotAuthenticated) || errors.Is(err, shared.ErrNoRefreshToken) {
		return &OutcomeError{Op: op, Kind: models.FailureAuthRejected, Err: err}
	}
	return &OutcomeError{Op: op, Kind: models.FailureTransient, Err: err}
}

// parseRangeHeader converts "bytes=0-N" into N+1. An absent header means nothing is committed.
func parseRangeHeader(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}

	bounds, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes=")
	if !ok {
		return 0, fmt.Errorf("unexpected Range header %q", v)
	}
	first, last, ok := strings.Cut(bounds, "-")
	if !ok || first != "0" {
		return 0, fmt.Errorf("unexpected Range header %q", v)
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("unexpected Range header %q", v)
	}
	return n + 1, nil
}

func decodeVideoID(r io.Reader) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("upload response has no video id")
	}
	return body.ID, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
