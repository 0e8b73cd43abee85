package peerio

type logging interface {
	Println(v ...any)
	Printf(format string, v ...any)
	Print(v ...any)
}

type discard struct{}

// Println matches the standard logger's signature and drops its arguments.
func (t discard) Println(v ...any) {
}

func (t discard) Printf(format string, v ...any) {
}

func (t discard) Print(v ...any) {
}

// LogDiscard the default logger, drops everything.
func LogDiscard() discard {
	return discard{}
}
