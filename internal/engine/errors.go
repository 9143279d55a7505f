package engine

import "fmt"

// ErrorKind classifies an engine-level error per spec.md §7.
type ErrorKind int

const (
	KindModelLoad ErrorKind = iota
	KindModelTrain
	KindInvalidInput
	KindNotReady
	KindEmptyScan
)

func (k ErrorKind) String() string {
	switch k {
	case KindModelLoad:
		return "ModelLoad"
	case KindModelTrain:
		return "ModelTrain"
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotReady:
		return "NotReady"
	case KindEmptyScan:
		return "EmptyScan"
	default:
		return "Unknown"
	}
}

// ModelLoadError reports a malformed model bundle: bad JSON, a missing
// field, invalid base64, or a raster decode failure.
type ModelLoadError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("engine: model load (%s): %s", e.Kind, e.Message)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// ModelTrainError reports that LDPL/GP training did not converge
// within the configured iteration budget.
type ModelTrainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ModelTrainError) Error() string {
	return fmt.Sprintf("engine: model train (%s): %s", e.Kind, e.Message)
}

func (e *ModelTrainError) Unwrap() error { return e.Err }

// InvalidInputError reports a sensor input the engine could not apply:
// a beacon scan the filter could not be reset from, a scan the filter
// update rejected for a reason other than being empty, or a pose
// ResetStatusAround could not seed from. Scans older than the last
// processed one are dropped by the filter without an error, and
// readings are not checked for NaN.
type InvalidInputError struct {
	Kind    ErrorKind
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("engine: invalid input (%s): %s", e.Kind, e.Message)
}

// NotReadyError reports a Put* or ResetStatusAround call made before
// SetModel has completed successfully; Status and Particles do not
// return it.
type NotReadyError struct {
	Kind ErrorKind
}

func (e *NotReadyError) Error() string {
	return "engine: not ready, setModel has not completed"
}

// EmptyScanError reports that a beacon scan had no usable readings
// left after strongest-K filtering; the update is skipped and the
// filter state is preserved.
type EmptyScanError struct {
	Kind ErrorKind
}

func (e *EmptyScanError) Error() string {
	return "engine: scan has no usable beacons after filtering"
}
