package resource

// defaultUploadWorkers is the staging-fill parallelism used when no option
// overrides it.
const defaultUploadWorkers = 4

// ManagerBuilderOption configures a Manager during construction.
type ManagerBuilderOption func(*manager)

// WithUploadWorkers sets how many pool workers fill staging memory in
// parallel during FlushBatch.
//
// Parameters:
//   - n: worker count (values < 1 are ignored)
//
// Returns:
//   - ManagerBuilderOption: the option
func WithUploadWorkers(n int) ManagerBuilderOption {
	return func(m *manager) {
		if n >= 1 {
			m.uploadWorkers = n
		}
	}
}
