package apply

// SetDecoder replaces the patch decoder so tests can observe codec calls.
func (a *Applicator) SetDecoder(fn func(base, patch []byte) ([]byte, error)) {
	a.decode = fn
}
