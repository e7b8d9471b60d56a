package texture

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of goroutines ExpandRGB fans out to.
const DefaultWorkers = 4

// rowStripes splits [0, height) into exactly min(workers, height)
// contiguous, disjoint ranges. Range sizes differ by at most one row.
func rowStripes(height, workers int) [][2]int {
	if height <= 0 {
		return nil
	}
	n := min(max(workers, 1), height)
	base, extra := height/n, height%n

	stripes := make([][2]int, 0, n)
	for i, first := 0, 0; i < n; i++ {
		rows := base
		if i < extra {
			rows++
		}
		stripes = append(stripes, [2]int{first, first + rows})
		first += rows
	}
	return stripes
}

// ExpandRGB widens tightly packed RGB pixels to RGBA with an opaque alpha.
// Each worker converts its own stripe of rows; the call returns once all of
// them have finished.
func ExpandRGB(src []byte, width, height, workers int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrZeroExtent, "expand %dx%d", width, height)
	}
	if len(src) != width*height*3 {
		return nil, errors.Wrapf(ErrDataSize, "expand %dx%d: got %d bytes, want %d", width, height, len(src), width*height*3)
	}

	dst := make([]byte, width*height*4)

	var group errgroup.Group
	for _, stripe := range rowStripes(height, workers) {
		first, last := stripe[0], stripe[1]
		group.Go(func() error {
			s := src[first*width*3 : last*width*3]
			d := dst[first*width*4 : last*width*4]

			for i, j := 0, 0; i < len(s); i, j = i+3, j+4 {
				d[j] = s[i]
				d[j+1] = s[i+1]
				d[j+2] = s[i+2]
				d[j+3] = 0xFF
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}
