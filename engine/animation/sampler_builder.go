package animation

// SamplerBuilderOption configures a Sampler during construction.
type SamplerBuilderOption func(*sampler)

// WithLoop sets whether the clock wraps at the clip end. Looping is the
// default; with looping off the clock clamps at the final keyframe.
//
// Parameters:
//   - loop: whether playback loops
//
// Returns:
//   - SamplerBuilderOption: option function to apply
func WithLoop(loop bool) SamplerBuilderOption {
	return func(s *sampler) {
		s.loop = loop
	}
}

// WithSpeed sets the playback speed multiplier applied in Advance.
//
// Parameters:
//   - speed: the multiplier (values <= 0 are ignored)
//
// Returns:
//   - SamplerBuilderOption: option function to apply
func WithSpeed(speed float32) SamplerBuilderOption {
	return func(s *sampler) {
		if speed > 0 {
			s.speed = speed
		}
	}
}
