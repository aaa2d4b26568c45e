package leach

import "log/slog"

// RadioController is the narrow collaborator through which the round
// scheduler puts the radio to sleep outside a node's TDMA slot and
// wakes it for transmission/reception. Energy accounting and the
// actual PHY/MAC layer live entirely on the other side of this
// interface.
type RadioController interface {
	Sleep()
	Wake()
}

// NoopRadio is the default RadioController: it logs the transition
// but does not simulate any power state. Used whenever a caller does
// not wire in an energy model.
type NoopRadio struct {
	logger *slog.Logger
}

// NewNoopRadio creates a RadioController that only logs.
func NewNoopRadio(logger *slog.Logger) *NoopRadio {
	return &NoopRadio{logger: logger}
}

func (r *NoopRadio) Sleep() {
	if r.logger != nil {
		r.logger.Debug("radio sleep")
	}
}

func (r *NoopRadio) Wake() {
	if r.logger != nil {
		r.logger.Debug("radio wake")
	}
}
