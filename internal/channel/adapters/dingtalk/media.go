package dingtalk

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/lobsterai/im-gateway/internal/channel"
)

// mediaClient uploads local files to the platform media store and resolves
// inbound download codes into local files.
type mediaClient struct {
	rest *restClient
}

// Upload pushes a local file through the legacy media endpoint and returns
// the platform media id. The endpoint takes the oapi token, not the v1.0
// one.
func (m *mediaClient) Upload(ctx context.Context, oapiToken, localPath string, kind channel.AttachmentType) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("media file unavailable: %w", err)
	}
	var out struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	resp, err := m.rest.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", oapiToken).
		SetQueryParam("type", mediaUploadType(kind)).
		SetFile("media", localPath).
		SetResult(&out).
		Post(oapiBaseURL + "/media/upload")
	if err != nil {
		return "", fmt.Errorf("media upload failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("media upload failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.ErrCode != 0 {
		return "", fmt.Errorf("media upload failed: %s (errcode: %d)", out.ErrMsg, out.ErrCode)
	}
	if out.MediaID == "" {
		return "", fmt.Errorf("media upload returned no media_id")
	}
	return out.MediaID, nil
}

// Download resolves a robot message download code and saves the file under
// dir. Returns the local path.
func (m *mediaClient) Download(ctx context.Context, token, robotCode, downloadCode, fileName, dir string) (string, error) {
	var out struct {
		DownloadURL string `json:"downloadUrl"`
	}
	body := map[string]string{
		"downloadCode": downloadCode,
		"robotCode":    robotCode,
	}
	if err := m.rest.call(ctx, http.MethodPost, "/v1.0/robot/messageFiles/download", token, body, &out); err != nil {
		return "", err
	}
	if out.DownloadURL == "" {
		return "", fmt.Errorf("download code resolved to no url")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir failed: %w", err)
	}
	localPath := filepath.Join(dir, filepath.Base(fileName))
	resp, err := m.rest.http.R().
		SetContext(ctx).
		SetOutput(localPath).
		Get(out.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("media download failed: status %d", resp.StatusCode())
	}
	return localPath, nil
}

func mediaUploadType(kind channel.AttachmentType) string {
	switch kind {
	case channel.AttachmentImage:
		return "image"
	case channel.AttachmentAudio:
		return "voice"
	case channel.AttachmentVideo:
		return "video"
	default:
		return "file"
	}
}

// defaultMediaDir is where inbound media lands when no directory is
// configured.
func defaultMediaDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "im-gateway", "media")
	}
	return filepath.Join(os.TempDir(), "im-gateway-media")
}
