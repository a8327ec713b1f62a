// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg builds the argument lists for the receiver and recorder ffmpeg
// processes and captures their output.
package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
)

const (
	// DefaultArgsAudio is used when a publish request carries no receiver fragment.
	DefaultArgsAudio = "-v quiet -y -listen 1 -rw_timeout 10000000 -vn -acodec copy -flags -global_header " +
		"-hls_time 1 -hls_list_size 10 -start_number 1 -hls_flags delete_segments -strftime 1 playlist.m3u8"
	DefaultArgsVideo = "-v quiet -y -listen 1 -rw_timeout 10000000 -vcodec copy -acodec copy -flags -global_header " +
		"-hls_time 5 -hls_list_size 10 -start_number 1 -hls_flags delete_segments -strftime 1 playlist.m3u8"

	DefaultRecordArgsAudio = "-vn -acodec copy"
	DefaultRecordArgsVideo = "-vcodec copy -acodec copy"

	// ListenIP is the address the receiver binds its single-connection listener to.
	ListenIP = "0.0.0.0"

	segmentPattern = "%Y%m%d-%s.ts"
)

// ErrInvalidArgs marks a request fragment that cannot be used. It is an
// invalid request, not a server fault.
var ErrInvalidArgs = fmt.Errorf("%w: invalid ffmpeg arguments", model.ErrInvalidRequest)

// receiverReserved options are always set by the builder and dropped from fragments.
var receiverReserved = map[string]bool{
	"-listen":        true,
	"-i":             true,
	"-v":             true,
	"-y":             true,
	"-rw_timeout":    true,
	"-vcodec":        true,
	"-acodec":        true,
	"-hls_time":      true,
	"-hls_list_size": true,
	"-vn":            true,

	"-hls_segment_filename": true,
}

// Option is one parsed command line option with its optional value.
type Option struct {
	Key   string
	Value string
}

// Tokens renders the option back into argv entries.
func (o Option) Tokens() []string {
	if o.Value == "" {
		return []string{o.Key}
	}
	return []string{o.Key, o.Value}
}

// ParseOptions splits a fragment into options. A token starting with '-' opens an
// option; the following token is its value unless it also starts with '-'.
// Tokens that belong to no option are returned as positional arguments.
func ParseOptions(fragment string) (opts []Option, positional []string) {
	fields := strings.Fields(fragment)
	for i := 0; i < len(fields); i++ {
		tok := fields[i]
		if !isOption(tok) {
			positional = append(positional, tok)
			continue
		}
		opt := Option{Key: tok}
		if i+1 < len(fields) && !isOption(fields[i+1]) {
			opt.Value = fields[i+1]
			i++
		}
		opts = append(opts, opt)
	}
	return opts, positional
}

func isOption(tok string) bool {
	return len(tok) > 1 && tok[0] == '-'
}

// ParseReceiverArgs splits a receiver fragment into options and the trailing
// playlist file name. The playlist is mandatory.
func ParseReceiverArgs(fragment string) ([]Option, string, error) {
	fragment = strings.TrimSpace(fragment)
	idx := strings.LastIndexAny(fragment, " \t")
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: expected options followed by a playlist file, got %q", ErrInvalidArgs, fragment)
	}
	playlist := fragment[idx+1:]
	if isOption(playlist) {
		return nil, "", fmt.Errorf("%w: fragment must end with a playlist file, got %q", ErrInvalidArgs, playlist)
	}
	// ffmpeg runs in the session's HLS directory and must not write outside it
	if strings.ContainsAny(playlist, "/\\") || playlist == "." || playlist == ".." {
		return nil, "", fmt.Errorf("%w: playlist %q is not a plain file name", ErrInvalidArgs, playlist)
	}
	opts, positional := ParseOptions(fragment[:idx])
	if len(positional) > 0 {
		return nil, "", fmt.Errorf("%w: unexpected arguments %v", ErrInvalidArgs, positional)
	}
	return opts, playlist, nil
}

// DefaultReceiverArgs returns the fragment used when a request carries none.
func DefaultReceiverArgs(media model.MediaType) (string, error) {
	switch media {
	case model.MediaAudio:
		return DefaultArgsAudio, nil
	case model.MediaVideo:
		return DefaultArgsVideo, nil
	default:
		return "", fmt.Errorf("%w: media type %q", model.ErrUnsupportedConfiguration, media)
	}
}

// DefaultRecordArgs returns the recorder codec options for media.
func DefaultRecordArgs(media model.MediaType) string {
	if media == model.MediaVideo {
		return DefaultRecordArgsVideo
	}
	return DefaultRecordArgsAudio
}

// ReceiverSpec holds everything needed to build the receiver command.
type ReceiverSpec struct {
	Bin         string
	Media       model.MediaType
	AppName     string
	SessKey     string
	Port        int
	Args        string // optional request fragment
	Verbose     string
	Overwrite   bool
	VCodec      string
	ACodec      string
	HLSInitTime string
	HLSTime     string
	HLSListSize int
}

// ReceiverCommand is the resolved receiver invocation.
type ReceiverCommand struct {
	Bin      string
	Args     []string
	Playlist string
	InputURL string
}

// BuildReceiver builds the listening ffmpeg invocation that turns one RTMP publish
// into an HLS playlist.
func BuildReceiver(spec ReceiverSpec) (ReceiverCommand, error) {
	if spec.Bin == "" {
		return ReceiverCommand{}, fmt.Errorf("%w: ffmpeg binary not configured", model.ErrUnsupportedConfiguration)
	}
	fragment := spec.Args
	if strings.TrimSpace(fragment) == "" {
		def, err := DefaultReceiverArgs(spec.Media)
		if err != nil {
			return ReceiverCommand{}, err
		}
		fragment = def
	}
	given, playlist, err := ParseReceiverArgs(fragment)
	if err != nil {
		return ReceiverCommand{}, err
	}

	input := fmt.Sprintf("rtmp://%s:%d/%s", ListenIP, spec.Port, model.StreamPath(spec.AppName, spec.SessKey))

	args := []string{"-v", orDefault(spec.Verbose, "quiet")}
	if spec.Overwrite {
		args = append(args, "-y")
	}
	// listen must precede the input
	args = append(args, "-listen", "1", "-i", input)

	for _, opt := range given {
		if receiverReserved[opt.Key] {
			continue
		}
		args = append(args, opt.Tokens()...)
	}

	switch spec.Media {
	case model.MediaVideo:
		args = append(args, "-vcodec", orDefault(spec.VCodec, "copy"), "-acodec", orDefault(spec.ACodec, "copy"))
	case model.MediaAudio:
		args = append(args, "-vn", "-acodec", orDefault(spec.ACodec, "copy"))
	default:
		return ReceiverCommand{}, fmt.Errorf("%w: media type %q", model.ErrUnsupportedConfiguration, spec.Media)
	}

	if spec.HLSInitTime != "" {
		args = append(args, "-hls_init_time", spec.HLSInitTime)
	}
	args = append(args,
		"-hls_time", orDefault(spec.HLSTime, "1"),
		"-hls_list_size", fmt.Sprintf("%d", spec.HLSListSize),
		"-hls_segment_filename", segmentPattern,
		playlist,
	)

	return ReceiverCommand{Bin: spec.Bin, Args: args, Playlist: playlist, InputURL: input}, nil
}

// RecorderSpec holds everything needed to build the recorder command.
type RecorderSpec struct {
	Bin       string
	Media     model.MediaType
	Playlist  string // absolute path of the receiver playlist
	Args      string // codec options; defaults by media type
	Verbose   string
	SplitSize string // ffmpeg -fs limit, empty disables
	OutFile   string
}

// BuildRecorder builds the ffmpeg invocation that records the receiver playlist.
func BuildRecorder(spec RecorderSpec) ([]string, error) {
	if spec.Playlist == "" || spec.OutFile == "" {
		return nil, fmt.Errorf("%w: recorder needs a playlist and an output file", ErrInvalidArgs)
	}
	fragment := spec.Args
	if strings.TrimSpace(fragment) == "" {
		fragment = DefaultRecordArgs(spec.Media)
	}
	opts, positional := ParseOptions(fragment)
	if len(positional) > 0 {
		return nil, fmt.Errorf("%w: unexpected recorder arguments %v", ErrInvalidArgs, positional)
	}

	args := []string{"-v", orDefault(spec.Verbose, "quiet"), "-y", "-i", spec.Playlist}
	for _, opt := range opts {
		switch opt.Key {
		case "-v", "-y", "-i", "-fs":
			continue
		}
		args = append(args, opt.Tokens()...)
	}
	if spec.SplitSize != "" {
		args = append(args, "-fs", spec.SplitSize)
	}
	args = append(args, spec.OutFile)
	return args, nil
}

// RecordFileName names a new recording: <prefix>_<epoch>_NEW.<ext>.
func RecordFileName(prefix string, epoch int64, media model.MediaType) string {
	ext := "m4a"
	if media == model.MediaVideo {
		ext = "mp4"
	}
	return fmt.Sprintf("%s_%d_NEW.%s", prefix, epoch, ext)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
