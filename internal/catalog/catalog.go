// package catalog turns a directory of video files into upload units
//
// Metadata comes from an optional TOML or JSON file with per-file entries,
// defaults shared by every video and a fallback for files without an entry.
package catalog

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

// SupportedFormats lists the file extensions picked up by a scan.
var SupportedFormats = []string{
	".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm",
	".mkv", ".ts", ".mpeg", ".mpg", ".m4v", ".3gp",
}

const maxTitleLength = 100

// Supported reports whether name has a supported video extension.
func Supported(name string) bool {
	return slices.Contains(SupportedFormats, strings.ToLower(filepath.Ext(name)))
}

// DefaultMetadata fills the fields a video entry leaves empty.
type DefaultMetadata struct {
	CategoryID    string   `json:"category_id" toml:"category_id"`
	PrivacyStatus string   `json:"privacy_status" toml:"privacy_status"`
	Tags          []string `json:"tags" toml:"tags"`
	Language      string   `json:"language" toml:"language"`
	Playlist      string   `json:"playlist" toml:"playlist"`
}

// Fallback builds metadata for files without an entry.
type Fallback struct {
	TitleTemplate       string `json:"title_template" toml:"title_template"`
	DescriptionTemplate string `json:"description_template" toml:"description_template"`
	UseFilenameAsTitle  bool   `json:"use_filename_as_title" toml:"use_filename_as_title"`
}

// VideoEntry is the metadata of one file, matched by its base name.
type VideoEntry struct {
	Filename string `json:"filename" toml:"filename"`
	models.VideoMetadata
}

// MetadataFile is the parsed metadata file.
type MetadataFile struct {
	DefaultMetadata DefaultMetadata `json:"default_metadata" toml:"default_metadata"`
	Videos          []VideoEntry    `json:"videos" toml:"videos"`
	Fallback        Fallback        `json:"fallback" toml:"fallback"`
}

// DefaultMetadataFile returns the metadata used when no file is configured.
func DefaultMetadataFile() *MetadataFile {
	return &MetadataFile{
		DefaultMetadata: DefaultMetadata{CategoryID: "22", PrivacyStatus: "private", Language: "en"},
		Fallback: Fallback{
			TitleTemplate:       "{filename}",
			DescriptionTemplate: "Uploaded on {date}",
			UseFilenameAsTitle:  true,
		},
	}
}

// LoadMetadata reads a metadata file. Files ending in .json are parsed as JSON, anything else as TOML.
// A missing file yields the defaults.
func LoadMetadata(path string) (*MetadataFile, error) {
	return loadMetadata(path, DefaultMetadataFile())
}

// loadMetadata parses path over m, so keys the file omits keep their value in m.
func loadMetadata(path string, m *MetadataFile) (*MetadataFile, error) {
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, m)
	} else {
		err = toml.Unmarshal(data, m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrInvalidConfig, path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrInvalidConfig, path, err)
	}
	return m, nil
}

// Validate checks privacy values and every video entry.
func (m *MetadataFile) Validate() error {
	m.DefaultMetadata.PrivacyStatus = strings.ToLower(m.DefaultMetadata.PrivacyStatus)
	if !shared.ValidPrivacy(m.DefaultMetadata.PrivacyStatus) {
		return fmt.Errorf("default privacy status %q must be one of %v", m.DefaultMetadata.PrivacyStatus, shared.PrivacyStatuses)
	}

	seen := make(map[string]struct{}, len(m.Videos))
	for i := range m.Videos {
		v := &m.Videos[i]
		if v.Filename == "" {
			return fmt.Errorf("video entry %d has no filename", i+1)
		}
		if _, dup := seen[v.Filename]; dup {
			return fmt.Errorf("duplicate entry for %s", v.Filename)
		}
		seen[v.Filename] = struct{}{}

		v.PrivacyStatus = strings.ToLower(v.PrivacyStatus)
		if v.PrivacyStatus != "" && !shared.ValidPrivacy(v.PrivacyStatus) {
			return fmt.Errorf("%s: privacy status %q must be one of %v", v.Filename, v.PrivacyStatus, shared.PrivacyStatuses)
		}
		if err := v.VideoMetadata.Validate(); err != nil {
			return fmt.Errorf("%s: %w", v.Filename, err)
		}
	}
	return nil
}

// For returns the metadata of filename: its entry completed from the defaults, or the fallback.
func (m *MetadataFile) For(filename string, now time.Time) models.VideoMetadata {
	idx := slices.IndexFunc(m.Videos, func(v VideoEntry) bool { return v.Filename == filename })

	var meta models.VideoMetadata
	if idx >= 0 {
		meta = m.Videos[idx].VideoMetadata
	} else {
		meta = m.fallback(filename, now)
	}

	d := m.DefaultMetadata
	meta.CategoryID = cmp.Or(meta.CategoryID, d.CategoryID)
	meta.PrivacyStatus = cmp.Or(meta.PrivacyStatus, d.PrivacyStatus)
	meta.Language = cmp.Or(meta.Language, d.Language)
	meta.Playlist = cmp.Or(meta.Playlist, d.Playlist)
	if meta.Tags == nil {
		meta.Tags = slices.Clone(d.Tags)
	}
	return meta
}

func (m *MetadataFile) fallback(filename string, now time.Time) models.VideoMetadata {
	fb := m.Fallback
	expand := strings.NewReplacer("{filename}", filename, "{date}", now.Format(time.DateOnly)).Replace

	var title string
	if fb.UseFilenameAsTitle {
		stem := strings.TrimSuffix(filename, filepath.Ext(filename))
		title = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	} else {
		title = expand(fb.TitleTemplate)
	}
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength])
	}

	return models.VideoMetadata{Title: title, Description: expand(fb.DescriptionTemplate)}
}

// Options configures a [DirectorySource].
type Options struct {
	Directory    string
	MetadataPath string
	// DefaultPrivacy applies when the metadata file sets no default privacy.
	DefaultPrivacy string
	Logger         *log.Logger
	// Clock defaults to [time.Now]; it dates fallback descriptions.
	Clock func() time.Time
}

// DirectorySource lists the supported videos of one directory as upload units.
type DirectorySource struct {
	dir    string
	meta   *MetadataFile
	logger *log.Logger
	clock  func() time.Time
}

// NewDirectorySource loads the metadata file and prepares a scan of opts.Directory.
func NewDirectorySource(opts Options) (*DirectorySource, error) {
	if opts.Directory == "" {
		return nil, fmt.Errorf("%w: videos directory", shared.ErrMissingArgument)
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	base := DefaultMetadataFile()
	base.DefaultMetadata.PrivacyStatus = cmp.Or(opts.DefaultPrivacy, base.DefaultMetadata.PrivacyStatus)

	meta, err := loadMetadata(opts.MetadataPath, base)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(opts.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrInvalidArgument, opts.Directory, err)
	}

	opts.Logger.Debug("loaded video metadata", "path", opts.MetadataPath, "entries", len(meta.Videos))
	return &DirectorySource{dir: dir, meta: meta, logger: opts.Logger, clock: opts.Clock}, nil
}

// Metadata returns the parsed metadata file.
func (d *DirectorySource) Metadata() *MetadataFile {
	return d.meta
}

// Units scans the directory, sorted by lowercase file name.
// Subdirectories and unsupported files are ignored.
func (d *DirectorySource) Units(ctx context.Context) ([]models.UploadUnit, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: videos directory %s", shared.ErrSourceNotFound, d.dir)
		}
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrSourceUnreadable, d.dir, err)
	}

	slices.SortStableFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	now := d.clock()
	units := make([]models.UploadUnit, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() || !Supported(e.Name()) {
			continue
		}

		unit, err := d.unit(e, now)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}

	d.logger.Info("scanned videos directory", "dir", d.dir, "videos", len(units))
	return units, nil
}

func (d *DirectorySource) unit(e fs.DirEntry, now time.Time) (models.UploadUnit, error) {
	path := filepath.Join(d.dir, e.Name())
	info, err := e.Info()
	if err != nil {
		return models.UploadUnit{}, fmt.Errorf("%w: %s: %v", shared.ErrSourceUnreadable, path, err)
	}

	meta := d.meta.For(e.Name(), now)
	if err := meta.Validate(); err != nil {
		return models.UploadUnit{}, fmt.Errorf("%w: %s: %v", shared.ErrInvalidInput, e.Name(), err)
	}

	return models.UploadUnit{
		Identity:   shared.FingerprintFile(path, info.Size(), info.ModTime()),
		Path:       path,
		Name:       e.Name(),
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		Metadata:   meta,
		Collection: meta.Playlist,
	}, nil
}
