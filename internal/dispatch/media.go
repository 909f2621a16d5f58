package dispatch

import (
	"context"

	"convertd/internal/media/ffprobe"
	"convertd/internal/services"
)

// convertMedia runs ffmpeg. Resolution applies to video targets only and audio
// targets drop the video stream.
func (d *Dispatcher) convertMedia(ctx context.Context, inPath, outPath, target string, opts Options) error {
	audioOnly := IsAudio(target)
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", inPath}
	switch {
	case audioOnly:
		args = append(args, "-vn")
	case opts.Resolution != "":
		width, height, err := ParseResolution(opts.Resolution)
		if err != nil || width == 0 || height == 0 {
			return services.Wrap(services.ErrValidation, stageName, "ffmpeg", "video resolution must be WxH", err)
		}
		args = append(args, "-s", opts.Resolution)
	}
	args = append(args, outPath)

	binary := d.converters.FFmpegBinary
	if binary == "" {
		binary = "ffmpeg"
	}
	if err := d.run(ctx, binary, args...); err != nil {
		return toolError(ctx, "ffmpeg", err)
	}

	if !d.converters.ValidateMediaOutput {
		return nil
	}
	kind := ffprobe.KindVideo
	if audioOnly {
		kind = ffprobe.KindAudio
	}
	if _, err := ffprobe.Verify(ctx, d.converters.FFprobeBinary, outPath, kind); err != nil {
		return toolError(ctx, "ffprobe", err)
	}
	return nil
}
