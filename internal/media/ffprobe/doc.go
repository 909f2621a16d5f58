// Package ffprobe inspects transcoded media with ffprobe and checks that the
// output carries the streams its target format promises.
//
// Inspect runs ffprobe and decodes its JSON report. Verify is the check the
// media converter applies after ffmpeg exits: a video target must contain a
// video stream and an audio target an audio stream.
package ffprobe
