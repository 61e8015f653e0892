// Package mediatool wraps the external ffmpeg/ffprobe binaries behind
// the four semantic operations the pipeline needs: probe, trim,
// concat-reencode and filter-graph execution. Every command-line detail
// of the external tool lives in this package; everything above it
// speaks in operations.
package mediatool

import (
	"fmt"
	"strconv"
	"strings"
)

// inputSpec is one -i entry with its preceding input arguments.
type inputSpec struct {
	args []string
	path string
}

// CommandBuilder assembles an ffmpeg argument list with a fluent API.
type CommandBuilder struct {
	globalArgs    []string
	inputs        []inputSpec
	filterComplex string
	maps          []string
	outputArgs    []string
	output        string
	logLevel      string
	overwrite     bool
}

// NewCommandBuilder creates a builder with the error log level.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{logLevel: "error"}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input adds a plain input.
func (b *CommandBuilder) Input(path string) *CommandBuilder {
	b.inputs = append(b.inputs, inputSpec{path: path})
	return b
}

// SeekInput adds an input with a precise seek applied before the
// demuxer opens it.
func (b *CommandBuilder) SeekInput(start float64, path string) *CommandBuilder {
	b.inputs = append(b.inputs, inputSpec{
		args: []string{"-ss", formatSeconds(start)},
		path: path,
	})
	return b
}

// ConcatInput adds a concat-demuxer list file input.
func (b *CommandBuilder) ConcatInput(listPath string) *CommandBuilder {
	b.inputs = append(b.inputs, inputSpec{
		args: []string{"-f", "concat", "-safe", "0"},
		path: listPath,
	})
	return b
}

// InputArgs appends arguments before the most recent input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	if n := len(b.inputs); n > 0 {
		b.inputs[n-1].args = append(b.inputs[n-1].args, args...)
	}
	return b
}

// Duration limits the output to d seconds of media.
func (b *CommandBuilder) Duration(d float64) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-t", formatSeconds(d))
	return b
}

// FilterComplex sets the complex filter graph.
func (b *CommandBuilder) FilterComplex(graph string) *CommandBuilder {
	b.filterComplex = graph
	return b
}

// Map adds stream mappings for the output.
func (b *CommandBuilder) Map(streams ...string) *CommandBuilder {
	for _, s := range streams {
		b.maps = append(b.maps, "-map", s)
	}
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// NoVideo drops the video streams.
func (b *CommandBuilder) NoVideo() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vn")
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// CRF sets the constant rate factor.
func (b *CommandBuilder) CRF(crf int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-crf", strconv.Itoa(crf))
	return b
}

// PixelFormat sets the output pixel format.
func (b *CommandBuilder) PixelFormat(format string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-pix_fmt", format)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// AudioSampleRate sets the audio sample rate.
func (b *CommandBuilder) AudioSampleRate(rate int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ar", strconv.Itoa(rate))
	return b
}

// AudioChannels sets the number of audio channels.
func (b *CommandBuilder) AudioChannels(channels int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-ac", strconv.Itoa(channels))
	return b
}

// AudioFilter sets the simple audio filter chain.
func (b *CommandBuilder) AudioFilter(filter string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-af", filter)
	return b
}

// VideoFilter sets the simple video filter chain.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-vf", filter)
	return b
}

// OutputArgs appends arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// FastStart moves the moov atom to the front of the output MP4.
func (b *CommandBuilder) FastStart() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-movflags", "+faststart")
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final argument list.
func (b *CommandBuilder) Build() []string {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}

	for _, in := range b.inputs {
		args = append(args, in.args...)
		args = append(args, "-i", in.path)
	}

	if b.filterComplex != "" {
		args = append(args, "-filter_complex", b.filterComplex)
	}
	args = append(args, b.maps...)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return args
}

// String renders the argument list for logging.
func (b *CommandBuilder) String() string {
	return strings.Join(b.Build(), " ")
}

// formatSeconds renders a second count the way ffmpeg expects it.
func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
