// Package resolver turns playback references into byte streams the decoder can probe.
package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"
	"golang.org/x/sync/errgroup"

	"github.com/drgolem/streamplayer/pkg/types"
)

var (
	// ErrNotFound means a local path does not exist.
	ErrNotFound = errors.New("media not found")

	// ErrExternalToolFailed means yt-dlp or ffmpeg is missing or failed before producing data.
	ErrExternalToolFailed = errors.New("external tool failed")
)

// ResolveError reports why a reference could not be turned into a stream.
type ResolveError struct {
	Ref  string
	Kind error // ErrNotFound or ErrExternalToolFailed
	Err  error
}

func (e *ResolveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %q: %v", e.Ref, e.Kind)
	}
	return fmt.Sprintf("resolve %q: %v: %v", e.Ref, e.Kind, e.Err)
}

func (e *ResolveError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind classifies a reference.
type Kind int

const (
	KindLocalPath Kind = iota
	KindHTTPURL
	KindStreamingService
)

func (k Kind) String() string {
	switch k {
	case KindHTTPURL:
		return "http"
	case KindStreamingService:
		return "service"
	}
	return "local"
}

var servicePrefixes = []string{"ytdlp://", "ytdl://"}

// Classify returns the kind of ref and the target handed to the resolver
// (service prefixes stripped).
func Classify(ref string) (Kind, string) {
	for _, p := range servicePrefixes {
		if strings.HasPrefix(ref, p) {
			return KindStreamingService, strings.TrimPrefix(ref, p)
		}
	}
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return KindHTTPURL, ref
		}
	}
	return KindLocalPath, ref
}

// transcodeFormat is the container ffmpeg writes for remote sources.
const transcodeFormat = "mp3"

// Config names the external tools. Bare names are looked up on PATH.
type Config struct {
	YtdlpPath  string
	FfmpegPath string
}

// Resolver turns references into readable sources.
type Resolver struct {
	cfg Config
	log *slog.Logger
}

// New creates a resolver. Empty tool paths fall back to yt-dlp and ffmpeg on PATH.
func New(cfg Config, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.FfmpegPath == "" {
		cfg.FfmpegPath = "ffmpeg"
	}
	return &Resolver{cfg: cfg, log: log}
}

// Resolve opens ref. The caller owns the returned Source and must Close it,
// which also terminates any subprocess.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Source, error) {
	kind, target := Classify(ref)
	if kind == KindLocalPath {
		return r.openLocal(ref)
	}
	return r.openRemote(ctx, ref, kind, target)
}

func (r *Resolver) openLocal(ref string) (*Source, error) {
	fi, err := os.Stat(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ResolveError{Ref: ref, Kind: ErrNotFound}
		}
		return nil, &ResolveError{Ref: ref, Kind: ErrNotFound, Err: err}
	}
	if fi.IsDir() {
		return nil, &ResolveError{Ref: ref, Kind: ErrNotFound, Err: errors.New("is a directory")}
	}

	f, err := os.Open(ref)
	if err != nil {
		return nil, &ResolveError{Ref: ref, Kind: ErrNotFound, Err: err}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(ref)), ".")
	r.log.Debug("Resolved local file", "file", ref, "extension", ext, "size", fi.Size())

	return &Source{
		ref:    ref,
		kind:   KindLocalPath,
		title:  filepath.Base(ref),
		hint:   types.FormatHint{Extension: ext},
		path:   ref,
		reader: f,
		file:   f,
	}, nil
}

func (r *Resolver) openRemote(ctx context.Context, ref string, kind Kind, target string) (*Source, error) {
	ytdlpPath, err := exec.LookPath(r.cfg.YtdlpPath)
	if err != nil {
		return nil, &ResolveError{Ref: ref, Kind: ErrExternalToolFailed, Err: err}
	}
	ffmpegPath, err := exec.LookPath(r.cfg.FfmpegPath)
	if err != nil {
		return nil, &ResolveError{Ref: ref, Kind: ErrExternalToolFailed, Err: err}
	}

	var (
		meta Metadata
		urls []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := FetchMetadata(gctx, ytdlpPath, target)
		if err != nil {
			// title and duration are cosmetic
			r.log.Warn("Metadata lookup failed", "ref", ref, "error", err)
			return nil
		}
		meta = m
		return nil
	})
	g.Go(func() error {
		u, err := StreamURLs(gctx, ytdlpPath, target)
		if err != nil {
			return err
		}
		urls = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, &ResolveError{Ref: ref, Kind: ErrExternalToolFailed, Err: err}
	}

	src, err := r.startTranscoder(ctx, ffmpegPath, urls)
	if err != nil {
		return nil, &ResolveError{Ref: ref, Kind: ErrExternalToolFailed, Err: err}
	}
	src.ref = ref
	src.kind = kind
	src.title = meta.Title
	src.duration = meta.Duration
	if src.title == "" {
		src.title = target
	}

	r.log.Debug("Resolved remote source",
		"ref", ref,
		"kind", kind,
		"title", src.title,
		"duration", src.duration,
		"urls", len(urls))
	return src, nil
}

// Metadata is what yt-dlp reports about a reference.
type Metadata struct {
	Title    string
	Duration time.Duration
}

// FetchMetadata runs yt-dlp --dump-single-json --flat-playlist.
func FetchMetadata(ctx context.Context, executable, target string) (Metadata, error) {
	res, err := ytdlp.New().
		SetExecutable(executable).
		DumpSingleJSON().
		FlatPlaylist().
		Run(ctx, target)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp metadata: %w", err)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return Metadata{}, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return Metadata{}, errors.New("yt-dlp returned no info")
	}

	var m Metadata
	if infos[0].Title != nil {
		m.Title = *infos[0].Title
	}
	if infos[0].Duration != nil {
		m.Duration = time.Duration(*infos[0].Duration * float64(time.Second))
	}
	return m, nil
}

// StreamURLs runs yt-dlp -f bestaudio -g and returns the direct media URLs.
func StreamURLs(ctx context.Context, executable, target string) ([]string, error) {
	res, err := ytdlp.New().
		SetExecutable(executable).
		Format("bestaudio").
		GetURL().
		Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp url: %w", err)
	}

	urls := strings.Fields(res.Stdout)
	if len(urls) == 0 {
		return nil, errors.New("yt-dlp returned no stream url")
	}
	return urls, nil
}

// startTranscoder spawns ffmpeg reading urls and writing mp3 to stdout.
// It waits for the first byte so a tool that dies early is reported here.
func (r *Resolver) startTranscoder(ctx context.Context, executable string, urls []string) (*Source, error) {
	pctx, cancel := context.WithCancel(ctx)

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	for _, u := range urls {
		args = append(args, "-i", u)
	}
	args = append(args, "-vn", "-f", transcodeFormat, "pipe:1")

	cmd := exec.CommandContext(pctx, executable, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	br := bufio.NewReaderSize(stdout, 64*1024)
	if _, err := br.Peek(1); err != nil {
		cancel()
		werr := cmd.Wait()
		if errors.Is(err, io.EOF) && werr != nil {
			err = werr
		}
		return nil, fmt.Errorf("ffmpeg produced no data: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return &Source{
		hint:   types.FormatHint{Extension: transcodeFormat, MIME: "audio/mpeg"},
		reader: br,
		cmd:    cmd,
		cancel: cancel,
		stderr: stderr,
	}, nil
}

// Source is a resolved byte stream with its format hint.
type Source struct {
	ref      string
	kind     Kind
	title    string
	duration time.Duration
	hint     types.FormatHint
	path     string
	reader   io.Reader

	file   *os.File
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer

	closeOnce sync.Once
	closeErr  error
}

// Reader returns the byte stream of the source.
func (s *Source) Reader() io.Reader { return s.reader }

// Hint returns the container hint for probing.
func (s *Source) Hint() types.FormatHint { return s.hint }

// Path is the local file name, empty for streamed sources.
func (s *Source) Path() string { return s.path }

// Ref returns the reference as given to Resolve.
func (s *Source) Ref() string   { return s.ref }
func (s *Source) Kind() Kind    { return s.kind }
func (s *Source) Title() string { return s.title }

// Duration is the length reported by yt-dlp, 0 when unknown.
func (s *Source) Duration() time.Duration { return s.duration }

// Close releases the file, or kills and reaps the transcoder.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.file != nil {
			s.closeErr = s.file.Close()
		}
		if s.cmd != nil {
			s.cancel()
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			// exit status after kill is expected
			_ = s.cmd.Wait()
		}
	})
	return s.closeErr
}
