// Package errors provides typed errors with exit codes for berth.
//
// # Error Types
//
// BerthError wraps an error with an exit code and a Kind:
//
//	type BerthError struct {
//	    Code    int    // Exit code
//	    Kind    Kind   // Category, e.g. KindPortInUse
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Exit Codes
//
//	ExitSuccess      = 0 // Success
//	ExitGeneralError = 1 // Any runtime failure
//	ExitInvalidArgs  = 2 // Malformed arguments or port specs
//
// Commands that run a child process (exec) propagate the child's status
// through ChildExit.
//
// # Kinds
//
// Allocation and registry failures:
//
//	errors.PortInUse("127.0.0.1:8080/tcp", cause)
//	errors.RangeExhausted(52000, 53000)
//	errors.NotFound("port 8080")
//	errors.SessionOwned(52000, sessionID)
//
// Session stages:
//
//	errors.ServerStartTimeout(err)
//	errors.ForwardFailed(err)
//	errors.ClientLaunchFailed(err)
//	errors.BridgeStartFailed(err) // logged, never returned from a command
//
// Use IsKind to test a chain for a category:
//
//	if errors.IsKind(err, errors.KindPortInUse) { ... }
//
// # Extracting Exit Codes
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
