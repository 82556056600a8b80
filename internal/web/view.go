package web

import (
	"image-compressor/internal/orchestrator"
	"image-compressor/internal/prober"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"
)

// ImageView describes one image panel of the page.
type ImageView struct {
	Name       string             `json:"name,omitempty"`
	MediaType  string             `json:"media_type"`
	Size       int64              `json:"size"`
	SizeLabel  string             `json:"size_label"`
	Dimensions *prober.Dimensions `json:"dimensions,omitempty"`
	PreviewURL string             `json:"preview_url,omitempty"`
}

// SessionView is everything the page renders for one session.
type SessionView struct {
	ID               string           `json:"id"`
	Phase            string           `json:"phase"`
	Compressing      bool             `json:"compressing"`
	Parameters       state.Parameters `json:"parameters"`
	Source           *ImageView       `json:"source,omitempty"`
	Result           *ImageView       `json:"result,omitempty"`
	SourceSizeLabel  string           `json:"source_size_label"`
	ResultSizeLabel  string           `json:"result_size_label"`
	CompressionRatio string           `json:"compression_ratio,omitempty"`
	DownloadName     string           `json:"download_name"`
	Error            string           `json:"error,omitempty"`
}

// NewSessionView renders the current state of orch.
func NewSessionView(id string, orch *orchestrator.Orchestrator) SessionView {
	s := orch.Snapshot()
	view := SessionView{
		ID:               id,
		Phase:            s.Phase.String(),
		Compressing:      s.Compressing,
		Parameters:       s.Params,
		SourceSizeLabel:  statistics.FormatKB(0, false),
		ResultSizeLabel:  statistics.FormatKB(0, false),
		CompressionRatio: s.CompressionRatio(),
		DownloadName:     orch.DownloadFileNameFor(s),
		Error:            s.Error,
	}

	if src := s.Source; src != nil {
		view.Source = &ImageView{
			Name:       src.Name,
			MediaType:  src.MediaType,
			Size:       src.Size,
			SizeLabel:  statistics.FormatKB(src.Size, true),
			Dimensions: src.Dimensions,
			PreviewURL: previewURL(src.PreviewID),
		}
		view.SourceSizeLabel = view.Source.SizeLabel
	}
	if res := s.Result; res != nil {
		view.Result = &ImageView{
			MediaType:  res.MediaType,
			Size:       res.Size,
			SizeLabel:  statistics.FormatKB(res.Size, true),
			Dimensions: res.Dimensions,
			PreviewURL: previewURL(res.PreviewID),
		}
		view.ResultSizeLabel = view.Result.SizeLabel
	}
	return view
}

func previewURL(id string) string {
	if id == "" {
		return ""
	}
	return "/api/previews/" + id
}
