package dingtalk

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lobsterai/im-gateway/internal/channel"
)

// mediaMarker is an inline markdown image or link whose target is a local
// file, to be uploaded and replaced before text delivery.
type mediaMarker struct {
	Type     channel.AttachmentType
	Path     string
	Name     string
	Original string
}

var mediaMarkerPattern = regexp.MustCompile(`(!?)\[([^\]]*)\]\(([^()\s]+)\)`)

// parseMediaMarkers finds markdown markers pointing at local filesystem
// paths. Remote URLs are left alone.
func parseMediaMarkers(text string) []mediaMarker {
	matches := mediaMarkerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	var markers []mediaMarker
	for _, m := range matches {
		target := m[3]
		if !isLocalPath(target) {
			continue
		}
		name := strings.TrimSpace(m[2])
		if name == "" {
			name = filepath.Base(target)
		}
		markerType := detectMediaType(target)
		if m[1] == "!" {
			markerType = channel.AttachmentImage
		}
		markers = append(markers, mediaMarker{
			Type:     markerType,
			Path:     target,
			Name:     name,
			Original: m[0],
		})
	}
	return markers
}

func isLocalPath(target string) bool {
	if strings.Contains(target, "://") {
		return false
	}
	return strings.HasPrefix(target, "/") ||
		strings.HasPrefix(target, "~/") ||
		strings.HasPrefix(target, "./") ||
		strings.HasPrefix(target, "../")
}

// detectMediaType classifies a path by extension.
func detectMediaType(path string) channel.AttachmentType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp":
		return channel.AttachmentImage
	case "mp3", "wav", "amr", "ogg", "m4a", "aac":
		return channel.AttachmentAudio
	case "mp4", "mov", "avi", "mkv", "webm":
		return channel.AttachmentVideo
	default:
		return channel.AttachmentFile
	}
}
