package experiment

import "github.com/edgerun/galileo-go/pkg/gtypes"

// Store is the narrow persistence interface the daemon writes status
// transitions through. Like tracelog.TraceDB, the concrete schema and
// storage engine are out of scope for the core; only this interface is.
type Store interface {
	Save(exp gtypes.Experiment) error
	Find(id string) (gtypes.Experiment, bool, error)
}
