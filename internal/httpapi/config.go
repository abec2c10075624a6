package httpapi

// maxBodyBytes controls the maximum allowed request body size for JSON and
// text endpoints. WAV uploads get a larger, separate limit.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// maxWAVBytes limits audio uploads to speech endpoints.
var maxWAVBytes int64 = 32 << 20

// SetMaxWAVBytes allows configuring the maximum WAV upload size.
func SetMaxWAVBytes(n int64) {
	if n <= 0 {
		maxWAVBytes = 32 << 20
		return
	}
	maxWAVBytes = n
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
