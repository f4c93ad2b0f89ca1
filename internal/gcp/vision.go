package gcp

import (
	"context"
	"encoding/base64"
	"fmt"

	vision "google.golang.org/api/vision/v1"
)

// VisionOCR recognizes text in prescription photos through the Cloud
// Vision API.
type VisionOCR struct {
	service *vision.Service
}

// NewVisionOCR creates a Vision API client using ambient credentials.
func NewVisionOCR(ctx context.Context) (*VisionOCR, error) {
	service, err := vision.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision service: %w", err)
	}
	return &VisionOCR{service: service}, nil
}

// RecognizeText runs dense-document text detection on one image and
// returns the full recognized text. An empty string means the image
// contained no recognizable text.
func (v *VisionOCR) RecognizeText(ctx context.Context, image []byte) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*vision.Feature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		}},
	}

	resp, err := v.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("vision annotate call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("vision returned no responses")
	}

	r := resp.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("vision annotation error: %s", r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return "", nil
	}
	return r.FullTextAnnotation.Text, nil
}
