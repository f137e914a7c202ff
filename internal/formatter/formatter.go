// package formatter renders run summaries and ledger entries (plain text, Markdown, JSON, CSV)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/tasks"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
)

// ParseFormat maps a flag value onto a [Format].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatMarkdown, FormatJSON, FormatCSV:
		return f, nil
	case "", "txt":
		return FormatText, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, s)
	}
}

// unitRecord is the flattened form of a [tasks.UnitResult].
type unitRecord struct {
	File         string  `json:"file"`
	Identity     string  `json:"identity"`
	Outcome      string  `json:"outcome"`
	Kind         string  `json:"failure_kind,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Committed    int64   `json:"committed"`
	Size         int64   `json:"size"`
	RemoteID     string  `json:"remote_id,omitempty"`
	Resumed      bool    `json:"resumed,omitempty"`
	Collection   string  `json:"collection,omitempty"`
	CollectionID string  `json:"collection_id,omitempty"`
	Attach       string  `json:"attach_state,omitempty"`
	Error        string  `json:"error,omitempty"`
	Seconds      float64 `json:"seconds"`
}

func newUnitRecord(r tasks.UnitResult) unitRecord {
	rec := unitRecord{
		File:         r.Unit.Name,
		Identity:     r.Unit.Identity,
		Outcome:      string(r.Outcome),
		Reason:       r.Reason,
		Committed:    r.Committed,
		Size:         r.Unit.Size,
		RemoteID:     r.RemoteID,
		Resumed:      r.Resumed,
		Collection:   r.Unit.Collection,
		CollectionID: r.CollectionID,
		Attach:       string(r.AttachState),
		Seconds:      r.Duration.Seconds(),
	}
	if r.Kind != models.FailureNone {
		rec.Kind = r.Kind.String()
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	} else if r.AttachErr != nil {
		rec.Error = r.AttachErr.Error()
	}
	return rec
}

type summaryRecord struct {
	RunID     string       `json:"run_id"`
	Started   time.Time    `json:"started"`
	Seconds   float64      `json:"seconds"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Paused    int          `json:"paused"`
	Skipped   int          `json:"skipped"`
	Deferred  int          `json:"deferred"`
	Halted    bool         `json:"halted"`
	Units     []unitRecord `json:"units"`
}

// SummaryToJSON encodes a run summary as indented JSON.
func SummaryToJSON(s *tasks.RunSummary) ([]byte, error) {
	rec := summaryRecord{
		RunID:     s.RunID,
		Started:   s.Started.UTC(),
		Seconds:   s.Duration.Seconds(),
		Completed: s.Completed,
		Failed:    s.Failed,
		Paused:    s.Paused,
		Skipped:   s.Skipped,
		Deferred:  s.Deferred,
		Halted:    s.Halted,
		Units:     make([]unitRecord, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		rec.Units = append(rec.Units, newUnitRecord(r))
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return append(data, '\n'), nil
}

// SummaryToCSV converts a run summary to CSV with one row per unit.
func SummaryToCSV(s *tasks.RunSummary) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"File", "Outcome", "Kind", "Committed", "Size", "RemoteID", "Collection", "Attach", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range s.Results {
		rec := newUnitRecord(r)
		record := []string{
			rec.File,
			rec.Outcome,
			rec.Kind,
			strconv.FormatInt(rec.Committed, 10),
			strconv.FormatInt(rec.Size, 10),
			rec.RemoteID,
			rec.Collection,
			rec.Attach,
			rec.Error,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

var outcomeMarks = map[tasks.Outcome]string{
	tasks.OutcomeCompleted: "✓",
	tasks.OutcomeFailed:    "✗",
	tasks.OutcomePaused:    "‖",
	tasks.OutcomeSkipped:   "-",
	tasks.OutcomeDeferred:  "…",
}

// SummaryToText converts a run summary to plain text.
func SummaryToText(s *tasks.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	for i, r := range s.Results {
		fmt.Fprintf(&buf, "%d. %s %s", i+1, outcomeMarks[r.Outcome], r.Unit.Name)
		switch r.Outcome {
		case tasks.OutcomeCompleted:
			fmt.Fprintf(&buf, " → %s", r.RemoteID)
		case tasks.OutcomePaused, tasks.OutcomeDeferred:
			fmt.Fprintf(&buf, " (%s at %s / %s)", r.Kind, shared.HumanBytes(r.Committed), shared.HumanBytes(r.Unit.Size))
		case tasks.OutcomeFailed:
			fmt.Fprintf(&buf, " (%s)", r.Kind)
		case tasks.OutcomeSkipped:
			fmt.Fprintf(&buf, " (%s)", r.Reason)
		}
		if r.AttachState != models.AttachNone {
			fmt.Fprintf(&buf, " [playlist %s: %s]", r.Unit.Collection, r.AttachState)
		}
		buf.WriteString("\n")
		if r.Outcome == tasks.OutcomeFailed && r.Err != nil {
			fmt.Fprintf(&buf, "   %v\n", r.Err)
		}
	}

	if len(s.Results) > 0 {
		buf.WriteString("\n")
	}
	fmt.Fprintf(&buf, "Completed: %d  Failed: %d  Paused: %d  Skipped: %d  Deferred: %d  (%s)\n",
		s.Completed, s.Failed, s.Paused, s.Skipped, s.Deferred, s.Duration.Round(time.Millisecond))
	if s.Halted {
		buf.WriteString("Run halted: credentials were rejected. Run `ytup auth login` and resume.\n")
	}

	return buf.Bytes(), nil
}

// SummaryToMarkdown converts a run summary to a Markdown report.
func SummaryToMarkdown(s *tasks.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Upload run %s\n\n", s.RunID)
	fmt.Fprintf(&buf, "**Started**: %s\n", s.Started.UTC().Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Duration**: %s\n\n", s.Duration.Round(time.Second))
	if s.Halted {
		buf.WriteString("> The run was halted because the credentials were rejected.\n\n")
	}

	buf.WriteString("| Completed | Failed | Paused | Skipped | Deferred |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&buf, "| %d | %d | %d | %d | %d |\n\n", s.Completed, s.Failed, s.Paused, s.Skipped, s.Deferred)

	buf.WriteString("## Videos\n\n| File | Outcome | Video | Uploaded | Note |\n|---|---|---|---|---|\n")
	for _, r := range s.Results {
		rec := newUnitRecord(r)
		note := rec.Kind
		if rec.Reason != "" {
			note = rec.Reason
		}
		fmt.Fprintf(&buf, "| %s | %s | %s | %s / %s | %s |\n",
			escapeCell(rec.File), rec.Outcome, rec.RemoteID,
			shared.HumanBytes(rec.Committed), shared.HumanBytes(rec.Size), escapeCell(note))
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// RenderSummary renders s in the requested format.
func RenderSummary(s *tasks.RunSummary, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return SummaryToJSON(s)
	case FormatCSV:
		return SummaryToCSV(s)
	case FormatMarkdown:
		return SummaryToMarkdown(s)
	default:
		return SummaryToText(s)
	}
}

// WriteSummary renders s to path. The format follows the extension (.json, .csv, .md), defaulting to text.
func WriteSummary(s *tasks.RunSummary, path string) error {
	f := FormatText
	switch {
	case strings.HasSuffix(path, ".json"):
		f = FormatJSON
	case strings.HasSuffix(path, ".csv"):
		f = FormatCSV
	case strings.HasSuffix(path, ".md"):
		f = FormatMarkdown
	}

	data, err := RenderSummary(s, f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// entryRecord is the flattened form of a [models.LedgerEntry].
type entryRecord struct {
	ID           string     `json:"id"`
	Identity     string     `json:"identity"`
	Path         string     `json:"path"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	Committed    int64      `json:"committed"`
	Size         int64      `json:"size"`
	Resumable    bool       `json:"resumable"`
	RemoteID     string     `json:"remote_id,omitempty"`
	Kind         string     `json:"failure_kind,omitempty"`
	Message      string     `json:"failure_message,omitempty"`
	Attempts     int        `json:"attempts"`
	Collection   string     `json:"collection,omitempty"`
	CollectionID string     `json:"collection_id,omitempty"`
	Attach       string     `json:"attach_state,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func newEntryRecord(e *models.LedgerEntry) entryRecord {
	rec := entryRecord{
		ID:           e.ID,
		Identity:     e.Identity,
		Path:         e.Path,
		Title:        e.Metadata.Title,
		Status:       string(e.Status),
		Committed:    e.Committed,
		Size:         e.Size,
		Resumable:    e.Resumable(),
		RemoteID:     e.RemoteID,
		Message:      e.FailureMessage,
		Attempts:     e.Attempts,
		Collection:   e.Collection,
		CollectionID: e.CollectionID,
		Attach:       string(e.AttachState),
		CreatedAt:    e.CreatedAt.UTC(),
		UpdatedAt:    e.UpdatedAt.UTC(),
		CompletedAt:  e.CompletedAt,
	}
	if e.FailureKind != models.FailureNone {
		rec.Kind = e.FailureKind.String()
	}
	return rec
}

// EntriesToJSON encodes ledger entries as an indented JSON array.
func EntriesToJSON(entries []*models.LedgerEntry) ([]byte, error) {
	records := make([]entryRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, newEntryRecord(e))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger entries: %w", err)
	}
	return append(data, '\n'), nil
}

// EntriesToCSV converts ledger entries to CSV.
func EntriesToCSV(entries []*models.LedgerEntry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Identity", "Path", "Status", "Committed", "Size", "RemoteID", "Kind", "Attempts", "Collection", "Attach", "UpdatedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, e := range entries {
		rec := newEntryRecord(e)
		record := []string{
			rec.Identity,
			rec.Path,
			rec.Status,
			strconv.FormatInt(rec.Committed, 10),
			strconv.FormatInt(rec.Size, 10),
			rec.RemoteID,
			rec.Kind,
			strconv.Itoa(rec.Attempts),
			rec.Collection,
			rec.Attach,
			rec.UpdatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// EntriesToTable renders ledger entries as a bordered terminal table.
func EntriesToTable(entries []*models.LedgerEntry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte("No ledger entries.\n"), nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		progress := "-"
		if e.Size > 0 {
			progress = fmt.Sprintf("%.0f%%", 100*float64(e.Committed)/float64(e.Size))
		}
		rows = append(rows, []string{
			models.ShortIdentity(e.Identity),
			e.Unit().Name,
			string(e.Status),
			progress,
			shared.HumanBytes(e.Size),
			e.RemoteID,
			e.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "FILE", "STATUS", "DONE", "SIZE", "VIDEO", "UPDATED").
		Rows(rows...)
	return []byte(t.String() + "\n"), nil
}

// RenderEntries renders ledger entries in the requested format. Markdown falls back to the text table.
func RenderEntries(entries []*models.LedgerEntry, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return EntriesToJSON(entries)
	case FormatCSV:
		return EntriesToCSV(entries)
	default:
		return EntriesToTable(entries)
	}
}

// EntryDetail renders one ledger entry as labelled lines.
func EntryDetail(e *models.LedgerEntry) []byte {
	var buf bytes.Buffer
	rec := newEntryRecord(e)

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&buf, "%-12s %s\n", label+":", value)
		}
	}

	line("Identity", rec.Identity)
	line("Path", rec.Path)
	line("Title", rec.Title)
	line("Status", rec.Status)
	line("Uploaded", fmt.Sprintf("%s / %s", shared.HumanBytes(rec.Committed), shared.HumanBytes(rec.Size)))
	line("Resumable", strconv.FormatBool(rec.Resumable))
	line("Video", rec.RemoteID)
	line("Failure", rec.Kind)
	line("Message", rec.Message)
	line("Attempts", strconv.Itoa(rec.Attempts))
	line("Playlist", rec.Collection)
	line("Playlist ID", rec.CollectionID)
	line("Attach", rec.Attach)
	line("Created", rec.CreatedAt.Format(time.RFC3339))
	line("Updated", rec.UpdatedAt.Format(time.RFC3339))
	if rec.CompletedAt != nil {
		line("Completed", rec.CompletedAt.UTC().Format(time.RFC3339))
	}

	return buf.Bytes()
}
