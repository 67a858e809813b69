package protocol

import "errors"

// Pipeline error taxonomy. All are non-fatal to the process; only the
// aborting subset (see Aborting) stops the run that raised it.
var (
	ErrTransportUnavailable    = errors.New("protocol: transport unavailable")
	ErrWearablesEnumTimeout    = errors.New("protocol: wearables enumeration timed out")
	ErrWearableFetchTimeout    = errors.New("protocol: wearable asset fetch timed out")
	ErrWearableDecodeFailure   = errors.New("protocol: wearable asset decode failed")
	ErrCacheNegotiationTimeout = errors.New("protocol: cache negotiation timed out")
	ErrTextureFetchTimeout     = errors.New("protocol: texture fetch timed out")
	ErrUploadTimeout           = errors.New("protocol: baked upload timed out")
	ErrUploadFailure           = errors.New("protocol: baked upload failed")
	ErrDuplicateRun            = errors.New("protocol: appearance pipeline already running")
	ErrNotImplemented          = errors.New("protocol: not implemented")
)

// abortingSet names the errors that abort the run that produced them.
// Only first-run wearables enumeration (and a dead transport) aborts;
// everything else degrades the run to partial.
var abortingSet = map[error]bool{
	ErrTransportUnavailable: true,
	ErrWearablesEnumTimeout: true,
}

// Aborting reports whether err (or an error it wraps) should abort the
// current run rather than merely mark it partial.
func Aborting(err error) bool {
	for sentinel, aborts := range abortingSet {
		if aborts && errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
