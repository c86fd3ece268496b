package loader

// LoaderBuilderOption is a functional option applied to a loader during construction via NewLoader.
type LoaderBuilderOption func(*loader)

// WithSkipTextures skips image decoding entirely; every texture reference in
// the imported scene resolves to the engine's flat defaults. Useful for
// headless tooling and tests.
//
// Parameters:
//   - skip: true to skip texture decoding
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithSkipTextures(skip bool) LoaderBuilderOption {
	return func(l *loader) {
		l.skipTextures = skip
	}
}

// WithSkipAnimations drops animation clips during import.
//
// Parameters:
//   - skip: true to drop animations
//
// Returns:
//   - LoaderBuilderOption: a function that applies the option to a loader
func WithSkipAnimations(skip bool) LoaderBuilderOption {
	return func(l *loader) {
		l.skipAnimations = skip
	}
}
