package core

import "errors"

// Error taxonomy for worker and task operations. Components wrap these
// sentinels with fmt.Errorf("%w: ...") so callers can classify with
// errors.Is.
var (
	// ErrWorkerNotFound is returned when the referenced worker id is not
	// registered.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrDuplicateWorker is returned when registering an id that already
	// exists. Re-registration is rejected; callers must unregister first.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrTaskNotFound is returned when the referenced task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskProcessingFailed wraps worker-side execution failures.
	ErrTaskProcessingFailed = errors.New("task processing failed")

	// ErrTimeout marks an operation that exceeded its time budget.
	ErrTimeout = errors.New("timeout")

	// ErrConfig marks an invalid or inconsistent configuration.
	ErrConfig = errors.New("configuration error")

	// ErrNetwork wraps transport failures of remote-backed workers.
	ErrNetwork = errors.New("network error")

	// ErrSerialization wraps payload encode/decode failures.
	ErrSerialization = errors.New("serialization error")

	// ErrInitializationFailed is returned when a worker's initialize hook
	// fails at registration. The attempt is fatal; the worker stays
	// unregistered.
	ErrInitializationFailed = errors.New("initialization failed")

	// ErrUnsupportedCapability is returned when no registered worker
	// advertises the capability a task requires.
	ErrUnsupportedCapability = errors.New("unsupported capability")

	// ErrResourceUnavailable is returned when no eligible worker could be
	// found within the allowed wait.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrInternal marks unexpected internal failures.
	ErrInternal = errors.New("internal error")
)
