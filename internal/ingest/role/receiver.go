// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package role

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/rtmp2hls/internal/infra/ffmpeg"
	"github.com/ManuGH/rtmp2hls/internal/ingest/model"
	"github.com/ManuGH/rtmp2hls/internal/log"
	"github.com/ManuGH/rtmp2hls/internal/procgroup"
)

// Receiver listens for the publish connection and writes the HLS playlist.
type Receiver struct {
	owner      Owner
	cmd        ffmpeg.ReceiverCommand
	outDir     string
	logPath    string
	preroleDir string
}

var _ Spawner = (*Receiver)(nil)

// NewReceiver resolves the receiver command for cc.
func NewReceiver(cc CreateContext) (*Receiver, error) {
	cfg := cc.Config
	hlsTime := cfg.FFmpeg.HLSTimeAudio
	if cc.Owner.Media.Type == model.MediaVideo {
		hlsTime = cfg.FFmpeg.HLSTimeVideo
	}

	cmd, err := ffmpeg.BuildReceiver(ffmpeg.ReceiverSpec{
		Bin:         cfg.FFmpeg.Bin,
		Media:       cc.Owner.Media.Type,
		AppName:     cc.Owner.AppName,
		SessKey:     cc.Owner.SessKey,
		Port:        cc.Owner.Port,
		Args:        cc.Owner.Receiver.Args,
		Verbose:     cfg.FFmpeg.Verbose,
		Overwrite:   cfg.FFmpeg.Overwrite,
		VCodec:      cfg.FFmpeg.VCodec,
		ACodec:      cfg.FFmpeg.ACodec,
		HLSInitTime: cfg.FFmpeg.HLSInitTime,
		HLSTime:     hlsTime,
		HLSListSize: cfg.FFmpeg.HLSListSize,
	})
	if err != nil {
		return nil, err
	}

	return &Receiver{
		owner:      cc.Owner,
		cmd:        cmd,
		outDir:     filepath.Join(cfg.HLS.Root, cc.Owner.AppName),
		logPath:    filepath.Join(cfg.FFmpeg.LogDir, cc.Owner.AppName+"_receiver.log"),
		preroleDir: cfg.HLS.PreroleDir,
	}, nil
}

func (r *Receiver) Role() model.Role        { return model.RoleReceiver }
func (r *Receiver) NoNeedTermination() bool { return false }
func (r *Receiver) AutoRespawn() bool       { return true }

// Args returns the resolved argument list.
func (r *Receiver) Args() []string { return r.cmd.Args }

// PlaylistPath is where the receiver writes its playlist.
func (r *Receiver) PlaylistPath() string {
	return filepath.Join(r.outDir, r.cmd.Playlist)
}

func (r *Receiver) Spawn(ctx context.Context) (*procgroup.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log.FromContext(ctx).Info().
		Str(log.FieldRole, string(model.RoleReceiver)).
		Str(log.FieldURL, r.cmd.InputURL).
		Strs(log.FieldArgs, r.cmd.Args).
		Str(log.FieldLogPath, r.logPath).
		Msg("spawning receiver")

	p, err := startLogged(r.cmd.Bin, r.cmd.Args, r.outDir, r.logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: receiver: %v", model.ErrSpawn, err)
	}
	return p, nil
}

// AfterSpawn seeds the output directory with the prerole assets.
// Copy failures are logged and do not fail the spawn.
func (r *Receiver) AfterSpawn(ctx context.Context) error {
	if r.preroleDir == "" {
		return nil
	}
	n, err := CopyPrerole(r.preroleDir, r.outDir)
	logger := log.FromContext(ctx)
	if err != nil {
		logger.Warn().Err(err).
			Str(log.FieldPath, r.preroleDir).
			Int("copied", n).
			Msg("prerole copy incomplete")
		return nil
	}
	logger.Debug().Str(log.FieldPath, r.outDir).Int("copied", n).Msg("prerole assets copied")
	return nil
}
