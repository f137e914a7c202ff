package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// UploadPath is where [UploadServer] accepts session initiation.
const UploadPath = "/upload/youtube/v3/videos"

// Upload operations as seen by [UploadServer].
const (
	OpInitiate = "initiate"
	OpChunk    = "chunk"
	OpQuery    = "query"
)

// Fault replaces the next response to an operation.
type Fault struct {
	Status     int
	Reason     string
	RetryAfter string
	// Commit applies the chunk before failing, so the outcome is ambiguous to the client.
	Commit bool
	// Range overrides the Range header of a 308 reply.
	Range string
	// OmitLocation drops the session handle from an initiation reply.
	OmitLocation bool
}

// Request is one request the server received.
type Request struct {
	Op      string
	Session string
	Start   int64
	Length  int
	Total   int64
}

type fakeSession struct {
	total int64
	data  []byte
}

// UploadServer is an in-memory implementation of the resumable upload protocol.
type UploadServer struct {
	*httptest.Server

	mu       sync.Mutex
	sessions map[string]*fakeSession
	faults   map[string][]Fault
	requests []Request
	seq      int
}

// NewUploadServer starts an UploadServer. It is closed when the test ends.
func NewUploadServer(t testing.TB) *UploadServer {
	s := &UploadServer{sessions: make(map[string]*fakeSession), faults: make(map[string][]Fault)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+UploadPath, s.initiate)
	mux.HandleFunc("PUT /upload/sessions/{id}", s.put)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// UploadURL is the initiation endpoint.
func (s *UploadServer) UploadURL() string {
	return s.URL + UploadPath
}

// Inject queues f as the next response to op.
func (s *UploadServer) Inject(op string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], f)
}

// Expire forgets every session so handles return 404.
func (s *UploadServer) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// Requests returns the requests received so far.
func (s *UploadServer) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many requests of op were received.
func (s *UploadServer) Count(op string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Received returns the bytes committed to the session with the given handle.
func (s *UploadServer) Received(handle string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID(handle)]; ok {
		return append([]byte(nil), sess.data...)
	}
	return nil
}

// VideoID is the remote ID assigned when the session with the given handle completes.
func VideoID(handle string) string {
	return "video-" + sessionID(handle)
}

func sessionID(handle string) string {
	return handle[strings.LastIndex(handle, "/")+1:]
}

func (s *UploadServer) nextFault(op string) (Fault, bool) {
	q := s.faults[op]
	if len(q) == 0 {
		return Fault{}, false
	}
	s.faults[op] = q[1:]
	return q[0], true
}

func (s *UploadServer) initiate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := strconv.ParseInt(r.Header.Get("X-Upload-Content-Length"), 10, 64)
	if err != nil || r.URL.Query().Get("uploadType") != "resumable" {
		writeAPIError(w, http.StatusBadRequest, "invalidArgument", "")
		return
	}
	var meta struct {
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil || meta.Snippet.Title == "" {
		writeAPIError(w, http.StatusBadRequest, "invalidTitle", "")
		return
	}

	s.requests = append(s.requests, Request{Op: OpInitiate, Total: total})
	f, faulted := s.nextFault(OpInitiate)
	if faulted && f.Status != 0 && f.Status != http.StatusOK {
		writeAPIError(w, f.Status, f.Reason, f.RetryAfter)
		return
	}

	s.seq++
	id := fmt.Sprintf("s%d", s.seq)
	s.sessions[id] = &fakeSession{total: total}
	if !faulted || !f.OmitLocation {
		w.Header().Set("Location", s.URL+"/upload/sessions/"+id)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *UploadServer) put(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := r.PathValue("id")
	body, _ := io.ReadAll(r.Body)
	start, total, query, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "badContentRange", "")
		return
	}

	op := OpChunk
	if query {
		op = OpQuery
	}
	s.requests = append(s.requests, Request{Op: op, Session: id, Start: start, Length: len(body), Total: total})

	sess, ok := s.sessions[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "notFound", "")
		return
	}

	f, faulted := s.nextFault(op)
	if faulted && f.Status != 0 && f.Status != http.StatusPermanentRedirect {
		if f.Commit && !query {
			sess.accept(start, body)
		}
		writeAPIError(w, f.Status, f.Reason, f.RetryAfter)
		return
	}

	if !query {
		sess.accept(start, body)
	}

	if int64(len(sess.data)) == sess.total {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "video-" + id, "kind": "youtube#video"})
		return
	}

	switch {
	case faulted && f.Range != "":
		w.Header().Set("Range", f.Range)
	case len(sess.data) > 0:
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", len(sess.data)-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

// accept appends body when it starts at the committed offset. Misaligned sends are ignored like the real endpoint does.
func (fs *fakeSession) accept(start int64, body []byte) {
	if start != int64(len(fs.data)) {
		return
	}
	remaining := fs.total - int64(len(fs.data))
	if int64(len(body)) > remaining {
		body = body[:remaining]
	}
	fs.data = append(fs.data, body...)
}

// parseContentRange reads "bytes a-b/total" or "bytes */total".
func parseContentRange(v string) (start, total int64, query bool, err error) {
	value, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, false, fmt.Errorf("bad Content-Range %q", v)
	}
	rng, totalStr, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, false, fmt.Errorf("bad Content-Range %q", v)
	}
	if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
		return 0, 0, false, err
	}
	if rng == "*" {
		return 0, total, true, nil
	}
	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, false, fmt.Errorf("bad Content-Range %q", v)
	}
	start, err = strconv.ParseInt(first, 10, 64)
	return start, total, false, err
}

func writeAPIError(w http.ResponseWriter, status int, reason, retryAfter string) {
	if retryAfter != "" {
		w.Header().Set("Retry-After", retryAfter)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": http.StatusText(status),
			"errors":  []map[string]string{{"reason": reason, "domain": "youtube.video"}},
		},
	}
	json.NewEncoder(w).Encode(body)
}
