package dispatch

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"convertd/internal/services"
)

// Strategy names one transformation family.
type Strategy string

const (
	StrategyRaster      Strategy = "raster"
	StrategyRasterEmbed Strategy = "raster-embed"
	StrategyDocument    Strategy = "document"
	StrategyMedia       Strategy = "media"
)

// Output categories used when building object keys.
const (
	CategoryImages    = "images"
	CategoryDocuments = "documents"
	CategoryVideo     = "video"
	CategoryAudio     = "audio"
)

type rule struct {
	sources  []string
	targets  []string
	strategy Strategy
	identity bool
}

var (
	rasterFormats = []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff"}
	videoFormats  = []string{"mp4", "mov", "avi", "mkv", "webm"}
	audioFormats  = []string{"mp3", "wav", "flac", "aac", "ogg", "m4a"}
)

var rules = []rule{
	{
		sources:  []string{"jpg", "jpeg", "png", "gif", "webp", "bmp", "tiff"},
		targets:  rasterFormats,
		strategy: StrategyRaster,
		identity: true,
	},
	{
		sources:  []string{"jpg", "jpeg", "png", "gif", "webp"},
		targets:  []string{"pdf"},
		strategy: StrategyRasterEmbed,
	},
	{
		sources:  []string{"docx", "doc", "odt", "rtf"},
		targets:  []string{"pdf", "docx", "odt", "txt", "html"},
		strategy: StrategyDocument,
	},
	{
		sources:  []string{"xlsx", "xls", "ods"},
		targets:  []string{"pdf", "xlsx", "ods", "csv"},
		strategy: StrategyDocument,
	},
	{
		sources:  []string{"pptx", "ppt", "odp"},
		targets:  []string{"pdf", "pptx", "odp"},
		strategy: StrategyDocument,
	},
	{
		sources:  videoFormats,
		targets:  append(slices.Clone(videoFormats), "mp3", "wav", "flac", "aac", "ogg"),
		strategy: StrategyMedia,
	},
	{
		sources:  audioFormats,
		targets:  audioFormats,
		strategy: StrategyMedia,
	},
}

// UnsupportedConversionError reports a pair outside the compatibility matrix.
type UnsupportedConversionError struct {
	Source string
	Target string
}

func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("unsupported conversion: %s -> %s", e.Source, e.Target)
}

// Unwrap lets errors.Is(err, services.ErrUnsupported) classify the failure.
func (e *UnsupportedConversionError) Unwrap() error { return services.ErrUnsupported }

// NormalizeFormat lowercases a format and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// Resolve returns the single strategy for a pair.
func Resolve(source, target string) (Strategy, error) {
	source = NormalizeFormat(source)
	target = NormalizeFormat(target)
	for _, r := range rules {
		if !slices.Contains(r.sources, source) || !slices.Contains(r.targets, target) {
			continue
		}
		if source == target && !r.identity {
			continue
		}
		return r.strategy, nil
	}
	return "", &UnsupportedConversionError{Source: source, Target: target}
}

// Supported reports whether the pair is in the matrix.
func Supported(source, target string) bool {
	_, err := Resolve(source, target)
	return err == nil
}

// Pair is one supported (source, target) combination.
type Pair struct {
	Source   string
	Target   string
	Strategy Strategy
}

// Pairs enumerates the whole matrix in source, target order.
func Pairs() []Pair {
	seen := make(map[[2]string]bool)
	var pairs []Pair
	for _, r := range rules {
		for _, source := range r.sources {
			for _, target := range r.targets {
				key := [2]string{source, target}
				if seen[key] || (source == target && !r.identity) {
					continue
				}
				seen[key] = true
				pairs = append(pairs, Pair{Source: source, Target: target, Strategy: r.strategy})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Source != pairs[j].Source {
			return pairs[i].Source < pairs[j].Source
		}
		return pairs[i].Target < pairs[j].Target
	})
	return pairs
}

// TargetsFor lists the formats a source can be converted to.
func TargetsFor(source string) []string {
	source = NormalizeFormat(source)
	var targets []string
	for _, pair := range Pairs() {
		if pair.Source == source {
			targets = append(targets, pair.Target)
		}
	}
	return targets
}

// Category groups a target format for output key layout.
func Category(target string) string {
	target = NormalizeFormat(target)
	switch {
	case slices.Contains(rasterFormats, target), target == "webp":
		return CategoryImages
	case slices.Contains(videoFormats, target):
		return CategoryVideo
	case slices.Contains(audioFormats, target):
		return CategoryAudio
	default:
		return CategoryDocuments
	}
}

// IsAudio reports whether the format is audio only.
func IsAudio(format string) bool {
	return slices.Contains(audioFormats, NormalizeFormat(format))
}
