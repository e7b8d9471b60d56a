package texture

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// compatibility lists, for a requested format, the other formats a decode may
// produce and still be uploaded as the request. Every row is mirrored.
var compatibility = map[core1_0.Format][]core1_0.Format{
	core1_0.FormatR8SRGB:                     {core1_0.FormatR8UnsignedNormalized},
	core1_0.FormatR8UnsignedNormalized:       {core1_0.FormatR8SRGB},
	core1_0.FormatR8G8SRGB:                   {core1_0.FormatR8G8UnsignedNormalized},
	core1_0.FormatR8G8UnsignedNormalized:     {core1_0.FormatR8G8SRGB},
	core1_0.FormatR8G8B8A8SRGB:               {core1_0.FormatR8G8B8A8UnsignedNormalized},
	core1_0.FormatR8G8B8A8UnsignedNormalized: {core1_0.FormatR8G8B8A8SRGB},
	core1_0.FormatB8G8R8A8SRGB:               {core1_0.FormatB8G8R8A8UnsignedNormalized},
	core1_0.FormatB8G8R8A8UnsignedNormalized: {core1_0.FormatB8G8R8A8SRGB},
}

// PickFormat maps a decoded channel count to the sRGB device format used for it.
func PickFormat(channels int) (core1_0.Format, error) {
	switch channels {
	case 1:
		return core1_0.FormatR8SRGB, nil
	case 2:
		return core1_0.FormatR8G8SRGB, nil
	case 3:
		Logger().Error("texture: three channel formats are not supported")
		return core1_0.FormatUndefined, ErrThreeChannels
	case 4:
		return core1_0.FormatR8G8B8A8SRGB, nil
	}

	Logger().Error("texture: unexpected channel count, supported channel count: 1, 2 or 4", "channels", channels)
	return core1_0.FormatUndefined, errors.Wrapf(ErrUnsupportedChannels, "%d channels", channels)
}

// IsCompatible reports whether pixels decoded as decoded may be uploaded into
// an image of the requested format.
func IsCompatible(requested, decoded core1_0.Format) bool {
	if requested == decoded {
		return true
	}
	for _, f := range compatibility[requested] {
		if f == decoded {
			return true
		}
	}
	return false
}

// CompatibleFormats returns the formats listed as compatible with f, f excluded.
func CompatibleFormats(f core1_0.Format) []core1_0.Format {
	return append([]core1_0.Format(nil), compatibility[f]...)
}

// BytesPerPixel reports the texel size of the uncompressed 8-bit formats the
// upload path accepts.
func BytesPerPixel(f core1_0.Format) (int, error) {
	switch f {
	case core1_0.FormatR8SRGB, core1_0.FormatR8UnsignedNormalized:
		return 1, nil
	case core1_0.FormatR8G8SRGB, core1_0.FormatR8G8UnsignedNormalized:
		return 2, nil
	case core1_0.FormatR8G8B8A8SRGB, core1_0.FormatR8G8B8A8UnsignedNormalized,
		core1_0.FormatB8G8R8A8SRGB, core1_0.FormatB8G8R8A8UnsignedNormalized:
		return 4, nil
	}
	return 0, errors.Newf("format %v is not an uploadable 8-bit format", f)
}
