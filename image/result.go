package image

import "github.com/BaSui01/lunagen/types"

// Result is the aggregate of every provider call of one request.
//
// len(Images) is whatever the providers returned; it is not checked against the
// requested count.
type Result struct {
	Images    []*GeneratedImage
	Warnings  []Warning
	Responses []ResponseMetadata
}

// Image returns the first image, or nil when no image was generated.
func (r *Result) Image() *GeneratedImage {
	if r == nil || len(r.Images) == 0 {
		return nil
	}
	return r.Images[0]
}

// RequireImage is Image for callers that treat an empty result as an error.
func (r *Result) RequireImage() (*GeneratedImage, error) {
	if img := r.Image(); img != nil {
		return img, nil
	}
	return nil, types.NewError(types.ErrNoImageGenerated, "no image generated")
}
