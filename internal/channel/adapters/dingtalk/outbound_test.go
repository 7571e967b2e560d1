package dingtalk

import (
	"strings"
	"testing"

	"github.com/lobsterai/im-gateway/internal/channel"
)

func TestClassifyMarkdown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"plain sentence", "hello world", false},
		{"multi line", "hello\nworld", true},
		{"heading", "# title", true},
		{"list item", "- item", true},
		{"quote", "> quoted", true},
		{"inline code", "use `go test` here", true},
		{"link", "see [docs](https://example.com)", true},
		{"bold", "this is **bold**", true},
		{"plain with punctuation", "done. all good!", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyMarkdown(tc.text); got != tc.want {
				t.Fatalf("classifyMarkdown(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestMarkdownTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want string
	}{
		{"heading stripped", "# Release notes\nbody", "Release notes"},
		{"list marker stripped", "- first\n- second", "first"},
		{"plain first line", "short answer\nmore", "short answer"},
		{"empty falls back", "   \nbody", markdownTitleDefault},
		{"marker only falls back", "###", markdownTitleDefault},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := markdownTitle(tc.text); got != tc.want {
				t.Fatalf("markdownTitle(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}

	long := strings.Repeat("标题", 30)
	if got := markdownTitle(long); len([]rune(got)) != markdownTitleMaxRunes {
		t.Fatalf("long title not capped: %d runes", len([]rune(got)))
	}
}

func TestParseMediaMarkers(t *testing.T) {
	t.Parallel()

	text := "report ready: [summary](/tmp/report.pdf) and ![chart](./chart.png), " +
		"see also [site](https://example.com/page) and ![remote](https://cdn.example.com/x.png)"
	markers := parseMediaMarkers(text)
	if len(markers) != 2 {
		t.Fatalf("got %d markers, want 2: %+v", len(markers), markers)
	}

	if markers[0].Type != channel.AttachmentFile || markers[0].Path != "/tmp/report.pdf" {
		t.Fatalf("first marker = %+v", markers[0])
	}
	if markers[0].Name != "summary" {
		t.Fatalf("first marker name = %q", markers[0].Name)
	}
	if markers[1].Type != channel.AttachmentImage || markers[1].Path != "./chart.png" {
		t.Fatalf("second marker = %+v", markers[1])
	}
}

func TestParseMediaMarkersNameDefaultsToBase(t *testing.T) {
	t.Parallel()

	markers := parseMediaMarkers("[](/data/notes.txt)")
	if len(markers) != 1 {
		t.Fatalf("got %d markers, want 1", len(markers))
	}
	if markers[0].Name != "notes.txt" {
		t.Fatalf("name = %q, want notes.txt", markers[0].Name)
	}
}

func TestDetectMediaType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want channel.AttachmentType
	}{
		{"/a/photo.JPG", channel.AttachmentImage},
		{"/a/song.mp3", channel.AttachmentAudio},
		{"/a/clip.mp4", channel.AttachmentVideo},
		{"/a/doc.pdf", channel.AttachmentFile},
		{"/a/noext", channel.AttachmentFile},
	}
	for _, tc := range cases {
		if got := detectMediaType(tc.path); got != tc.want {
			t.Fatalf("detectMediaType(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestBuildMediaMessage(t *testing.T) {
	t.Parallel()

	img := buildMediaMessage(channel.AttachmentImage, "media-1", "x.png")
	if img.MsgKey != "sampleImageMsg" || img.Param["photoURL"] != "media-1" {
		t.Fatalf("image message = %+v", img)
	}
	audio := buildMediaMessage(channel.AttachmentAudio, "media-2", "v.amr")
	if audio.MsgKey != "sampleAudio" || audio.Param["mediaId"] != "media-2" {
		t.Fatalf("audio message = %+v", audio)
	}
	video := buildMediaMessage(channel.AttachmentVideo, "media-3", "c.mp4")
	if video.MsgKey != "sampleVideo" || video.Param["videoType"] != "mp4" {
		t.Fatalf("video message = %+v", video)
	}
	file := buildMediaMessage(channel.AttachmentFile, "media-4", "doc.pdf")
	if file.MsgKey != "sampleFile" || file.Param["fileName"] != "doc.pdf" {
		t.Fatalf("file message = %+v", file)
	}
}
