package scene

// SceneBuilderOption configures a Scene during construction.
type SceneBuilderOption func(*scene)

// WithFrustumCulling toggles AABB frustum culling during draw-list assembly.
// Enabled by default.
//
// Parameters:
//   - enabled: whether DrawBatches culls primitives outside the frustum
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithFrustumCulling(enabled bool) SceneBuilderOption {
	return func(s *scene) {
		s.culling = enabled
	}
}
