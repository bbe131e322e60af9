package errors

// Stable error codes for the gateway client. The ranges follow the JSON-RPC
// reserved space so codes can travel inside a JSON-RPC error object unchanged.
const (
	// Validation errors (-32750 to -32799)
	CodeValidationError  int = -32750
	CodeMissingParameter int = -32751
	CodeInvalidParameter int = -32752

	// Authorization errors (-32100 to -32199)
	CodeAuthorizationDenied int = -32100
	CodePolicyUnavailable   int = -32101

	// Transport errors (-32500 to -32599)
	CodeTransportError    int = -32500
	CodeConnectionFailed  int = -32501
	CodeConnectionLost    int = -32502
	CodeProcessExited     int = -32503
	CodeMalformedResponse int = -32504

	// Resilience errors (-32300 to -32399)
	CodeCircuitOpen      int = -32300
	CodeRetryExhausted   int = -32301
	CodeOperationTimeout int = -32302

	// Client lifecycle errors (-32000 to -32099)
	CodeClientClosed          int = -32000
	CodeTransportNotAvailable int = -32001
)
