package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"socialgarden/internal/domain"
	"socialgarden/internal/ports"
)

// plan is the muxer and encoders chosen for a MIME type.
type plan struct {
	format     string
	videoCodec string
	audioCodec string
	extra      []string
}

func (p plan) encoders() []string {
	var out []string
	if p.videoCodec != "" {
		out = append(out, p.videoCodec)
	}
	if p.audioCodec != "" {
		out = append(out, p.audioCodec)
	}
	return out
}

var videoEncoders = map[string]string{
	"vp9":  "libvpx-vp9",
	"vp8":  "libvpx",
	"h264": "libx264",
	"avc1": "libx264",
}

var audioEncoders = map[string]string{
	"opus": "libopus",
	"aac":  "aac",
	"mp4a": "aac",
}

// planFor maps a recorder MIME type such as "video/webm;codecs=vp9,opus"
// onto ffmpeg. An empty type picks webm.
func planFor(mimeType string, hasVideo bool, hasAudio bool) (plan, error) {
	base, codecs := splitMIME(mimeType)

	var p plan
	switch base {
	case "video/mp4":
		p = plan{
			format:     "mp4",
			videoCodec: "libx264",
			audioCodec: "aac",
			extra:      []string{"-movflags", "frag_keyframe+empty_moov"},
		}
	case "video/webm", "audio/webm", "":
		p = plan{format: "webm", videoCodec: "libvpx-vp9", audioCodec: "libopus"}
	case "audio/ogg":
		p = plan{format: "ogg", audioCodec: "libopus"}
	default:
		return plan{}, fmt.Errorf("%w: container %q", domain.ErrUnsupportedCapability, mimeType)
	}
	if strings.HasPrefix(base, "audio/") {
		// Audio containers drop any video track.
		hasVideo = false
	}

	for _, codec := range codecs {
		if encoder, ok := videoEncoders[codec]; ok {
			if p.format == "webm" && encoder == "libx264" {
				return plan{}, fmt.Errorf("%w: webm cannot carry %s", domain.ErrUnsupportedCapability, codec)
			}
			p.videoCodec = encoder
			continue
		}
		if encoder, ok := audioEncoders[codec]; ok {
			p.audioCodec = encoder
			continue
		}
		return plan{}, fmt.Errorf("%w: codec %q", domain.ErrUnsupportedCapability, codec)
	}

	if !hasVideo {
		p.videoCodec = ""
	}
	if !hasAudio {
		p.audioCodec = ""
	}
	return p, nil
}

func splitMIME(mimeType string) (string, []string) {
	parts := strings.Split(mimeType, ";")
	base := strings.ToLower(strings.TrimSpace(parts[0]))
	var codecs []string
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "codecs") {
			continue
		}
		value = strings.Trim(value, `"`)
		for _, codec := range strings.Split(value, ",") {
			codec = strings.ToLower(strings.TrimSpace(codec))
			if codec == "" {
				continue
			}
			// avc1.42E01E and friends carry a profile suffix.
			if name, _, found := strings.Cut(codec, "."); found {
				codec = name
			}
			codecs = append(codecs, codec)
		}
	}
	return base, codecs
}

func recorderArgs(stream *ports.Stream, p plan) ([]string, error) {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "warning"}
	var maps []string
	index := 0
	for _, track := range stream.Tracks {
		input, ok := track.(*Track)
		if !ok {
			return nil, fmt.Errorf("%w: track %s was not opened by ffmpeg", domain.ErrCaptureFailed, track.ID())
		}
		if (track.Kind() == ports.TrackVideo && p.videoCodec == "") || (track.Kind() == ports.TrackAudio && p.audioCodec == "") {
			continue
		}
		args = append(args, input.Input()...)
		maps = append(maps, "-map", strconv.Itoa(index))
		index++
	}
	if index == 0 {
		return nil, fmt.Errorf("%w: no track matches the container", domain.ErrCaptureFailed)
	}
	args = append(args, maps...)

	if p.videoCodec != "" {
		args = append(args, "-c:v", p.videoCodec)
		switch p.videoCodec {
		case "libx264":
			args = append(args, "-preset", "veryfast", "-pix_fmt", "yuv420p")
		case "libvpx", "libvpx-vp9":
			args = append(args, "-deadline", "realtime")
		}
	}
	if p.audioCodec != "" {
		args = append(args, "-c:a", p.audioCodec)
	}
	args = append(args, p.extra...)
	args = append(args, "-f", p.format, "pipe:1")
	return args, nil
}
