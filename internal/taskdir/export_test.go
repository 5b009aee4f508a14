package taskdir

// SetRename swaps the rename used by Move and returns a restore func.
func SetRename(fn func(src, dst string) error) func() {
	prev := rename
	rename = fn
	return func() { rename = prev }
}
