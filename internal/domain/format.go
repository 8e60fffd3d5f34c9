package domain

// InputFormat is the detected content format of an ingested resource.
type InputFormat string

const (
	InputFormatPDF          InputFormat = "pdf"
	InputFormatGenericText  InputFormat = "generic_text"
	InputFormatLatex        InputFormat = "latex"
	InputFormatMarkdown     InputFormat = "markdown"
	InputFormatHTML         InputFormat = "html"
	InputFormatYouTubeVideo InputFormat = "youtube_video"
)

// IngestStrategy selects how the ingestor obtains a resource's bytes.
type IngestStrategy string

const (
	IngestStrategyObjectStorage IngestStrategy = "s3_file_download"
	IngestStrategyURLDownload   IngestStrategy = "url_download"
	IngestStrategyRawURL        IngestStrategy = "raw_url"
)

// ResourceType is the user-facing category stored in metadata and used as
// an exact-match vector filter.
type ResourceType string

const (
	ResourceTypePDF     ResourceType = "pdf"
	ResourceTypeWebPage ResourceType = "web_page"
	ResourceTypeVideo   ResourceType = "video"
	ResourceTypeText    ResourceType = "text"
)

func isValidInputFormat(f InputFormat) bool {
	switch f {
	case InputFormatPDF, InputFormatGenericText, InputFormatLatex,
		InputFormatMarkdown, InputFormatHTML, InputFormatYouTubeVideo:
		return true
	}
	return false
}

func isValidIngestStrategy(s IngestStrategy) bool {
	switch s {
	case IngestStrategyObjectStorage, IngestStrategyURLDownload, IngestStrategyRawURL:
		return true
	}
	return false
}

// ValidateInputFormat returns ErrInvalidInputFormat for unknown formats.
func ValidateInputFormat(f InputFormat) error {
	if !isValidInputFormat(f) {
		return ErrInvalidInputFormat
	}
	return nil
}

// ResourceTypeFor maps an input format to its resource type.
func ResourceTypeFor(f InputFormat) ResourceType {
	switch f {
	case InputFormatPDF:
		return ResourceTypePDF
	case InputFormatHTML:
		return ResourceTypeWebPage
	case InputFormatYouTubeVideo:
		return ResourceTypeVideo
	default:
		return ResourceTypeText
	}
}
