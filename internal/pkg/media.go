package pkg

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"community_core/internal/model"
)

// DetectMedia 按内容嗅探类型，只接受图片和视频
func DetectMedia(data []byte) (model.MediaKind, string, error) {
	if len(data) == 0 {
		return model.MediaNone, "", nil
	}
	mt := mimetype.Detect(data)
	ct := mt.String()
	switch {
	case strings.HasPrefix(ct, "image/"):
		return model.MediaImage, ct, nil
	case strings.HasPrefix(ct, "video/"):
		return model.MediaVideo, ct, nil
	}
	return model.MediaNone, ct, Invalid("unsupported media type " + ct)
}

// MediaExtension 存储路径使用的扩展名，带点
func MediaExtension(data []byte) string {
	return mimetype.Detect(data).Extension()
}
