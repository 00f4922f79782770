package inference

import (
	"github.com/khaledhikmat/vs-liveness/service/runtime"
)

// Runtime installs a set of capability handles into a registry.
type Runtime interface {
	Install(reg *runtime.Registry) *runtime.Registry
}

type session struct {
	kind string
}

func (s *session) Close() error {
	return nil
}
