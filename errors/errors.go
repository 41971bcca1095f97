package errors

import "fmt"

var (
	ErrNotAuthenticated     = fmt.Errorf("no authenticated session")
	ErrBlankContent         = fmt.Errorf("content is blank")
	ErrUnknownMessage       = fmt.Errorf("message not found in store")
	ErrNotEditable          = fmt.Errorf("message is not editable")
	ErrEditWindowClosed     = fmt.Errorf("edit window has closed")
	ErrEditInFlight         = fmt.Errorf("another edit is in flight for this message")
	ErrAlreadyRecording     = fmt.Errorf("a recording is already active")
	ErrNotRecording         = fmt.Errorf("no active recording")
	ErrCaptureUnavailable   = fmt.Errorf("capture device unavailable")
	ErrNoDraft              = fmt.Errorf("no voice draft to act on")
	ErrAnonymizationFailed  = fmt.Errorf("voice anonymization failed")
	ErrTransportUnavailable = fmt.Errorf("realtime transport unavailable")
	ErrStaleEpoch           = fmt.Errorf("response belongs to a previous room session")
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrUploadStateFinal     = fmt.Errorf("upload state is final")
)
