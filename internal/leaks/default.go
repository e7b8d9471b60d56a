package leaks

import "log/slog"

var process = NewRegistry()

// Default returns the process-wide tracker: the shared Registry in leakcheck
// builds, Nop otherwise.
func Default() Tracker {
	if Enabled {
		return process
	}
	return Nop{}
}

// Process returns the shared Registry regardless of build configuration.
func Process() *Registry {
	return process
}

// CheckLeaks sweeps the process registry. It is a no-op without leakcheck.
func CheckLeaks() error {
	if !Enabled {
		return nil
	}
	return process.CheckLeaks()
}

func SetLogger(l *slog.Logger) {
	process.SetLogger(l)
}

func SetStrict(strict bool) {
	process.SetStrict(strict)
}
