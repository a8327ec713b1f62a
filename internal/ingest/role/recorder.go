// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package role

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/rtmp2hls/internal/config"
	"github.com/ManuGH/rtmp2hls/internal/infra/ffmpeg"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

// Recorder reads the receiver playlist into a local recording file.
// It stops by itself once the playlist stops growing, so it is never signalled.
type Recorder struct {
	owner    Owner
	bin      string
	playlist string
	cfg      config.RecordConfig
	outDir   string
	logPath  string
	now      func() time.Time
}

var _ Spawner = (*Recorder)(nil)

// NewRecorder requires the receiver playlist in cc.Props.
func NewRecorder(cc CreateContext) (*Recorder, error) {
	playlist := cc.Props[PropPlaylist]
	if playlist == "" {
		return nil, fmt.Errorf("%w: recorder needs the receiver playlist", model.ErrUnsupportedConfiguration)
	}
	return &Recorder{
		owner:    cc.Owner,
		bin:      cc.Config.FFmpeg.Bin,
		playlist: playlist,
		cfg:      cc.Config.Record,
		outDir:   filepath.Join(cc.Config.Record.Root, cc.Owner.AppName),
		logPath:  filepath.Join(cc.Config.FFmpeg.LogDir, cc.Owner.AppName+"_record.log"),
		now:      time.Now,
	}, nil
}

func (r *Recorder) Role() model.Role        { return model.RoleRecorder }
func (r *Recorder) NoNeedTermination() bool { return true }
func (r *Recorder) AutoRespawn() bool       { return true }

func (r *Recorder) args() ([]string, error) {
	fragment := r.cfg.ArgsAudio
	if r.owner.Media.Type == model.MediaVideo {
		fragment = r.cfg.ArgsVideo
	}
	return ffmpeg.BuildRecorder(ffmpeg.RecorderSpec{
		Bin:       r.bin,
		Media:     r.owner.Media.Type,
		Playlist:  r.playlist,
		Args:      fragment,
		Verbose:   r.cfg.Verbose,
		SplitSize: r.cfg.SplitSize,
		OutFile:   ffmpeg.RecordFileName(r.owner.AppName, r.now().Unix(), r.owner.Media.Type),
	})
}

func (r *Recorder) Spawn(ctx context.Context) (*procgroup.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args, err := r.args()
	if err != nil {
		return nil, fmt.Errorf("%w: recorder: %v", model.ErrSpawn, err)
	}
	log.FromContext(ctx).Info().
		Str(log.FieldRole, string(model.RoleRecorder)).
		Strs(log.FieldArgs, args).
		Str(log.FieldLogPath, r.logPath).
		Msg("spawning recorder")

	p, err := startLogged(r.bin, args, r.outDir, r.logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: recorder: %v", model.ErrSpawn, err)
	}
	return p, nil
}

func (r *Recorder) AfterSpawn(context.Context) error { return nil }
