package resolver

import (
	"fmt"
	"mime"
	"net/http"
)

// StreamMetadata describes a stream from its response headers
type StreamMetadata struct {
	ContentType string
	Bitrate     int
	Format      string
	Description string
	Genre       string
	Name        string
}

// ExtractMetadata reads content type and Icecast/SHOUTcast headers
func ExtractMetadata(headers http.Header) StreamMetadata {
	metadata := StreamMetadata{
		ContentType: headers.Get("Content-Type"),
		Description: headers.Get("icy-description"),
		Genre:       headers.Get("icy-genre"),
		Name:        headers.Get("icy-name"),
	}

	if bitrateStr := headers.Get("icy-br"); bitrateStr != "" {
		var bitrate int
		if _, err := fmt.Sscanf(bitrateStr, "%d", &bitrate); err == nil {
			metadata.Bitrate = bitrate
		}
	}

	mediaType, _, _ := mime.ParseMediaType(metadata.ContentType)
	switch mediaType {
	case "audio/mpeg":
		metadata.Format = "mp3"
	case "audio/aac", "audio/aacp":
		metadata.Format = "aac"
	case "audio/ogg", "application/ogg":
		metadata.Format = "ogg"
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl":
		metadata.Format = "hls"
	case "audio/wav", "audio/x-wav":
		metadata.Format = "wav"
	default:
		metadata.Format = "unknown"
	}

	return metadata
}
