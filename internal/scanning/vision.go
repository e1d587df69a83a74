package scanning

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// Vision implements the Scanner interface using Google Cloud Vision text detection
type Vision struct {
	client *vision.ImageAnnotatorClient
}

// NewVision creates a Vision scanner. An empty credentialsFile falls back to
// application default credentials.
func NewVision(ctx context.Context, credentialsFile string) (*Vision, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating vision client: %w", err)
	}

	return &Vision{client: client}, nil
}

// ExtractText runs TEXT_DETECTION and returns one fragment per detected word
func (v *Vision) ExtractText(ctx context.Context, imageData []byte, contentType string) ([]Fragment, error) {
	if _, err := prepareImage(imageData, contentType); err != nil {
		return nil, err
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: imageData},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling vision API: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("no response from vision API: %w", ErrUnexpectedFormat)
	}

	imageResp := resp.Responses[0]
	if imageResp.Error != nil {
		return nil, fmt.Errorf("vision API error: %s", imageResp.Error.Message)
	}

	return visionFragments(imageResp.TextAnnotations), nil
}

// visionFragments drops the first annotation, which holds the whole text
// block, and keeps the per-word annotations.
func visionFragments(annotations []*visionpb.EntityAnnotation) []Fragment {
	if len(annotations) <= 1 {
		return []Fragment{}
	}

	fragments := make([]Fragment, 0, len(annotations)-1)
	for _, a := range annotations[1:] {
		fragments = append(fragments, Fragment{
			Text:        a.GetDescription(),
			BoundingBox: polyBox(a.GetBoundingPoly()),
		})
	}
	return fragments
}

func polyBox(poly *visionpb.BoundingPoly) *BoundingBox {
	vertices := poly.GetVertices()
	if len(vertices) == 0 {
		return nil
	}

	box := &BoundingBox{
		X1: int(vertices[0].GetX()),
		Y1: int(vertices[0].GetY()),
		X2: int(vertices[0].GetX()),
		Y2: int(vertices[0].GetY()),
	}
	for _, vtx := range vertices[1:] {
		x, y := int(vtx.GetX()), int(vtx.GetY())
		box.X1 = min(box.X1, x)
		box.Y1 = min(box.Y1, y)
		box.X2 = max(box.X2, x)
		box.Y2 = max(box.Y2, y)
	}
	return box
}

// Close closes the underlying Vision client
func (v *Vision) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
