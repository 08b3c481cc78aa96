//go:build !llama

package llm

// Built reports whether this binary was compiled with llama support.
const Built = false

// Open fails fast: no runtime is available without the 'llama' build tag.
func Open(o Options) (Runtime, error) {
	if o.ModelPath == "" {
		return nil, ErrNoModel
	}
	return nil, ErrNotBuilt
}
