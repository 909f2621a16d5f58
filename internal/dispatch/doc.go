// Package dispatch routes a (source, target) format pair to exactly one
// conversion strategy and runs it inside a job-scoped workspace.
//
// The compatibility matrix in matrix.go is fixed. Pairs outside it fail with
// *UnsupportedConversionError, which wraps services.ErrUnsupported so callers
// can treat it as terminal. Every file the dispatcher creates lives under a
// per-call directory that is removed before Dispatch returns.
//
// Strategies:
//   - raster: decode, optional resize, re-encode (imaging, x/image/webp)
//   - raster-embed: a single PDF page sized to the image (fpdf)
//   - document: LibreOffice headless, or Gotenberg over HTTP for PDF targets
//   - media: ffmpeg, with optional ffprobe verification of the output
package dispatch
