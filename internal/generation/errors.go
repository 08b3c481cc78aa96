package generation

// busyError rejects a start request while another generation is active.
type busyError struct{ current string }

func (e busyError) Error() string { return "generation already in progress: " + e.current }

// ErrBusy constructs a busy error naming the active generation.
func ErrBusy(current string) error { return busyError{current: current} }

// IsBusy reports whether err rejected a start because one was in flight (409).
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
