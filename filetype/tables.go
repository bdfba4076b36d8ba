package filetype

const (
	octetStream = "application/octet-stream"

	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeDOC  = "application/msword"
	mimeXLS  = "application/vnd.ms-excel"
	mimePPT  = "application/vnd.ms-powerpoint"
)

var mimeToExt = map[string]string{
	"application/pdf":  "pdf",
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"image/svg+xml":    "svg",
	"text/plain":       "txt",
	"text/csv":         "csv",
	"text/html":        "html",
	"application/zip":  "zip",
	mimeDOCX:           "docx",
	mimeDOC:            "doc",
	mimeXLSX:           "xlsx",
	mimeXLS:            "xls",
	mimePPTX:           "pptx",
	mimePPT:            "ppt",
	"application/json": "json",
	"application/xml":  "xml",
	"text/xml":         "xml",
	"audio/mpeg":       "mp3",
	"audio/ogg":        "ogg",
	"video/mp4":        "mp4",
	"video/webm":       "webm",
	octetStream:        DefaultExtension,
}

var categoryFallback = map[string]string{
	"image": "jpg",
	"audio": "mp3",
	"video": "mp4",
	"text":  "txt",
}

var extToMIME = map[string]string{
	"pdf":  "application/pdf",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"html": "text/html",
	"htm":  "text/html",
	"zip":  "application/zip",
	"docx": mimeDOCX,
	"doc":  mimeDOC,
	"xlsx": mimeXLSX,
	"xls":  mimeXLS,
	"pptx": mimePPTX,
	"ppt":  mimePPT,
	"json": "application/json",
	"xml":  "application/xml",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"bin":  octetStream,
}
