package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// DerivedVersion is the version stamped into every published variant
const DerivedVersion = 1

// Reader opens input images stored in the content service
type Reader interface {
	// Open returns the content body together with its type in one round trip.
	// The caller closes the returned object.
	Open(ctx context.Context, contentID string) (*Object, error)
}

// Writer publishes generated images as derived content of the subject image
type Writer interface {
	Publish(ctx context.Context, out Output) (string, error)
}

// Object is a stored image opened for reading
type Object struct {
	io.ReadCloser
	ContentType string
	Size        int64
}

// Output is one generated image of a run
type Output struct {
	ParentID string
	RunID    string
	Index    int // position in the run's surviving outputs
	FileName string
	Body     io.Reader
}

// Variant names the derived slot of the output, e.g. become_image_v1_0
func (o Output) Variant() string {
	return fmt.Sprintf("%s_v%d_%d", pipeline.DerivedTypeBecomeImage, DerivedVersion, o.Index)
}

// Tags labels the derived content so a run's outputs can be found again
func (o Output) Tags() []string {
	tags := []string{pipeline.DerivedTypeBecomeImage, o.Variant()}
	if o.RunID != "" {
		tags = append(tags, "run:"+o.RunID)
	}
	return tags
}

func (o Output) fileName() string {
	if o.FileName != "" {
		return o.FileName
	}
	return o.Variant() + ".png"
}
