package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: profile not found
	Error string `json:"error" example:"profile not found"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ProfilesResponse is returned by GET /api/profiles.
type ProfilesResponse struct {
	// Name of the profile the engine was started with.
	// example: en
	DefaultProfile string `json:"default_profile" example:"en"`
	// All profile names found in the system and user profile directories.
	Profiles []string `json:"profiles"`
}

// IntentResponse is the recognition result returned by the text-to-intent
// and speech-to-intent endpoints. It mirrors the payload published on the
// intent event stream.
type IntentResponse struct {
	// Recognized intent name.
	// example: ChangeLightState
	Intent string `json:"intent" example:"ChangeLightState"`
	// Raw input text the intent was recognized from.
	// example: turn on the living room lamp
	Text string `json:"text" example:"turn on the living room lamp"`
	// Recognition confidence in [0,1].
	// example: 0.92
	Confidence float64 `json:"confidence" example:"0.92"`
	// Transcription confidence when the input came from audio; 1 for text input.
	// example: 1
	SpeechConfidence float64 `json:"speech_confidence" example:"1"`
	// Entity name to value, flattened from the recognized entity list.
	Slots map[string]string `json:"slots,omitempty"`
	// Wall-clock seconds spent on recognition.
	// example: 0.05
	TimeSec float64 `json:"time_sec" example:"0.05"`
}

// TranscriptionResponse is returned by POST /api/speech-to-text.
type TranscriptionResponse struct {
	// Transcribed text.
	// example: what time is it
	Text string `json:"text" example:"what time is it"`
	// Transcription confidence in [0,1].
	// example: 0.87
	Confidence float64 `json:"confidence" example:"0.87"`
}

// TrainResponse is returned by POST /api/train on success.
type TrainResponse struct {
	// Human-readable completion message.
	// example: training completed in 2.31 second(s)
	Result string `json:"result" example:"training completed in 2.31 second(s)"`
	// Training duration in seconds.
	// example: 2.31
	Seconds float64 `json:"seconds" example:"2.31"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	// Engine lifecycle state: stopped, starting, or running.
	// example: running
	State string `json:"state" example:"running"`
	// Active profile name, empty when the engine is stopped.
	// example: en
	Profile string `json:"profile,omitempty" example:"en"`
	// Uptime of the gateway in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Number of engine restarts since the gateway started.
	// example: 1
	Restarts uint64 `json:"restarts" example:"1"`
	// Connected event stream subscribers per channel.
	Subscribers map[string]int `json:"subscribers"`
}

// SlotsResponse maps slot names to their values for GET /api/slots.
type SlotsResponse map[string][]string
