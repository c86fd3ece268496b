package environment

// PrecomputerBuilderOption configures a Precomputer during construction.
type PrecomputerBuilderOption func(*precomputer)

// WithIrradianceSize sets the irradiance cubemap face size in texels.
// Defaults to 32.
//
// Parameters:
//   - size: the face size (values < 1 are ignored)
//
// Returns:
//   - PrecomputerBuilderOption: option function to apply
func WithIrradianceSize(size uint32) PrecomputerBuilderOption {
	return func(p *precomputer) {
		if size >= 1 {
			p.irradianceSize = size
		}
	}
}

// WithPrefilterSize sets the base face size of the prefiltered specular
// cubemap; the mip chain runs down to 1x1. Defaults to 128.
//
// Parameters:
//   - size: the base face size (values < 1 are ignored)
//
// Returns:
//   - PrecomputerBuilderOption: option function to apply
func WithPrefilterSize(size uint32) PrecomputerBuilderOption {
	return func(p *precomputer) {
		if size >= 1 {
			p.prefilterSize = size
		}
	}
}
