package prober

import (
	"bytes"
	"fmt"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// readOrientation returns the EXIF orientation of the image, or
// OrientationNormal if the tag is missing or unreadable.
func (p *ImageProber) readOrientation(data []byte) Orientation {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		p.logger.Debugf("No EXIF data: %v", err)
		return OrientationNormal
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}

	value, err := tag.Int(0)
	if err != nil || value < 1 || value > 8 {
		p.logger.Debugf("Ignoring invalid EXIF orientation: %v", tag)
		return OrientationNormal
	}
	return Orientation(value)
}

// Metadata returns every metadata field exiftool can read from the file.
// It requires the exiftool binary to be installed.
func Metadata(path string) (map[string]interface{}, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	defer et.Close()

	files := et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return nil, fmt.Errorf("extract metadata: %w", files[0].Err)
	}
	return files[0].Fields, nil
}
