package redis

import (
	"github.com/joomcode/errorx"
)

var (
	// Errors is a root namespace of all redisguard errors.
	Errors = errorx.NewNamespace("redisguard")

	// ErrOpts - options are wrong
	ErrOpts = Errors.NewSubNamespace("opts")
	// ErrContextIsNil - context is not passed to constructor
	ErrContextIsNil = ErrOpts.NewType("context_is_nil")
	// ErrNoAddressProvided - no address is given to constructor
	ErrNoAddressProvided = ErrOpts.NewType("no_address")

	// ErrTraitNotSent signals request were not written to wire.
	// Request could be safely retried.
	ErrTraitNotSent = errorx.RegisterTrait("request_not_sent")
	// ErrTraitConnectivity marks all networking and io errors.
	ErrTraitConnectivity = errorx.RegisterTrait("network")
	// ErrTraitClusterMove signals that error happens due to cluster rebalancing.
	ErrTraitClusterMove = errorx.RegisterTrait("cluster_move")

	// ErrConnection - connection was not established at the moment request were done,
	// request is definitely not sent anywhere.
	ErrConnection = Errors.NewSubNamespace("connection", ErrTraitNotSent, ErrTraitConnectivity)
	// ErrDial - could not connect.
	ErrDial = ErrConnection.NewType("could_not_connect")
	// ErrAuth - password didn't match
	ErrAuth = ErrConnection.NewType("count_not_auth")
	// ErrConnSetup - other connection initialization error (including io errors)
	ErrConnSetup = ErrConnection.NewType("initialization_error")

	// ErrIO - io error: read/write error, or timeout, or connection closed while reading/writting
	// It is not known if request were processed or not.
	ErrIO = Errors.NewType("io error", ErrTraitConnectivity)

	// ErrRequest - request malformed. Can not serialize request, no reason to retry.
	ErrRequest = Errors.NewSubNamespace("request")
	// ErrArgumentType - argument is not serializable
	ErrArgumentType = ErrRequest.NewType("argument_type")
	// ErrDangerousCommand - command is not allowed on pooled connection
	ErrDangerousCommand = ErrRequest.NewType("dangerous_command")
	// ErrNoSlotKey - no key to determine cluster slot
	ErrNoSlotKey = ErrRequest.NewType("no_slot_key")

	// ErrResponse - response malformed. Redis returns unexpected response.
	ErrResponse = Errors.NewSubNamespace("response")
	// ErrResponseFormat - response is not valid Redis response
	ErrResponseFormat = ErrResponse.NewType("format")
	// ErrResponseUnexpected - response is valid redis response, but its structure/type unexpected
	ErrResponseUnexpected = ErrResponse.NewType("unexpected")
	// ErrHeaderlineTooLarge - header line too large
	ErrHeaderlineTooLarge = ErrResponse.NewType("headerline_too_large")
	// ErrHeaderlineEmpty - header line is empty
	ErrHeaderlineEmpty = ErrResponse.NewType("headerline_empty")
	// ErrIntegerParsing - integer malformed
	ErrIntegerParsing = ErrResponse.NewType("integer_parsing")
	// ErrNoFinalRN - no final "\r\n"
	ErrNoFinalRN = ErrResponse.NewType("no_final_rn")
	// ErrUnknownHeaderType - unknown header type
	ErrUnknownHeaderType = ErrResponse.NewType("unknown_headerline_type")
	// ErrPing - ping receives wrong response
	ErrPing = ErrResponse.NewType("ping")

	// ErrResult - just regular redis response.
	ErrResult = Errors.NewType("result")
	// ErrMoved - MOVED response
	ErrMoved = ErrResult.NewSubtype("moved", ErrTraitClusterMove)
	// ErrAsk - ASK response
	ErrAsk = ErrResult.NewSubtype("ask", ErrTraitClusterMove)
	// ErrLoading - redis didn't finish start
	ErrLoading = ErrResult.NewSubtype("loading", ErrTraitNotSent)
)

var (
	// EKLine - set by response parser for unrecognized header lines.
	EKLine = errorx.RegisterProperty("line")
	// EKMovedTo - set by response parser for MOVED and ASK responses.
	EKMovedTo = errorx.RegisterProperty("movedto")
	// EKSlot - set by response parser for MOVED and ASK responses.
	EKSlot = errorx.RegisterProperty("slot")
	// EKVal - set by request writer and checker to argument value which could not be serialized.
	EKVal = errorx.RegisterProperty("val")
	// EKArgPos - set by request writer and checker to argument position which could not be serialized.
	EKArgPos = errorx.RegisterProperty("argpos")
	// EKRequest - request that triggered error.
	EKRequest = errorx.RegisterProperty("request")
	// EKResponse - unexpected response
	EKResponse = errorx.RegisterProperty("response")
	// EKAddress - address of redis that has a problems
	EKAddress = errorx.RegisterProperty("address")
	// EKDb - db number to select.
	EKDb = errorx.RegisterProperty("db")
)

// AsErrorx casts interface to *errorx.Error.
// It panics if value is error but not *errorx.Error.
func AsErrorx(v interface{}) *errorx.Error {
	e, _ := v.(*errorx.Error)
	if e == nil {
		if _, ok := v.(error); ok {
			panic("result should be either *errorx.Error, or not error at all")
		}
	}
	return e
}

// AsError casts interface to error (if it is error)
func AsError(v interface{}) error {
	e, _ := v.(error)
	return e
}

// HardError reports whether err is not a regular redis error reply.
// Hard errors mean the connection's protocol state is unknown and it must not be reused.
func HardError(err error) bool {
	if err == nil {
		return false
	}
	return !errorx.IsOfType(err, ErrResult)
}

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	if _, ok := err.Property(p); ok {
		return err
	}
	return err.WithProperty(p, v)
}

// WithAddress attaches address to error if it has no address yet.
func WithAddress(err *errorx.Error, addr string) *errorx.Error {
	return withNewProperty(err, EKAddress, addr)
}
