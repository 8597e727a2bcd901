package dsmsg

// Message categories. Categories at or above FirstPayloadCategory belong to
// the application payload protocol and are never interpreted by the server
// core.
const (
	CategoryGeneric      uint32 = 0
	CategoryServerStatus uint32 = 1

	FirstPayloadCategory uint32 = 2
)

// Administrative request types (CategoryServerStatus).
const (
	TypeIsAlive       uint32 = 1
	TypeGetNumClients uint32 = 2
	TypeShutdown      uint32 = 3
)

// ErrorCode is carried in Header.Err of a reply.
type ErrorCode uint32

const (
	ErrNone           ErrorCode = 0
	ErrServiceDenied  ErrorCode = 1
	ErrBadMessage     ErrorCode = 2
	ErrServerError    ErrorCode = 3
	ErrUnknownCommand ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "NONE"
	case ErrServiceDenied:
		return "SERVICE_DENIED"
	case ErrBadMessage:
		return "BAD_MESSAGE"
	case ErrServerError:
		return "SERVER_ERROR"
	case ErrUnknownCommand:
		return "UNKNOWN_COMMAND"
	default:
		return "UNKNOWN"
	}
}

// Part types.
const (
	PartInt       uint32 = 1
	PartString    uint32 = 2
	PartErrString uint32 = 3
	PartOpaque    uint32 = 4
)

const (
	// DefaultMaxMessageSize bounds a reassembled message body.
	DefaultMaxMessageSize = 1 << 20

	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF
)
