package texture

import "github.com/cockroachdb/errors"

var (
	ErrEmptyFileName       = errors.New("file name is empty")
	ErrZeroExtent          = errors.New("texture extent has a zero dimension")
	ErrThreeChannels       = errors.New("three channel formats are not supported")
	ErrUnsupportedChannels = errors.New("unsupported channel count")
	ErrIncompatibleFormat  = errors.New("requested format is incompatible with the decoded format")
	ErrDataSize            = errors.New("pixel data size does not match the resolution")
	ErrNoLinearBlit        = errors.New("format does not support linear blitting")
)
