package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assistd/internal/bus"
	"assistd/internal/engine"
	"assistd/internal/lifecycle"
	"assistd/internal/profile"
	"assistd/pkg/types"
)

// Deps wires the HTTP layer to the rest of the gateway.
type Deps struct {
	Controller *lifecycle.Controller
	Profile    *profile.Store
	Bus        *bus.Bus
}

// server holds per-process handler state beyond Deps.
type server struct {
	Deps

	// lastSentence backs the repeat=true behavior of text-to-speech.
	lastMu       sync.Mutex
	lastSentence string
}

// NewMux builds the router with all API endpoints and middlewares.
func NewMux(deps Deps) http.Handler {
	s := &server{Deps: deps}

	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", s.handleProfiles)
		r.Get("/profile", s.handleProfileGet)
		r.Post("/profile", s.handleProfilePost)

		r.Get("/sentences", s.handleSentencesGet)
		r.Post("/sentences", s.handleSentencesPost)
		r.Get("/custom-words", s.handleCustomWordsGet)
		r.Post("/custom-words", s.handleCustomWordsPost)
		r.Get("/slots", s.handleSlotsGet)
		r.Post("/slots", s.handleSlotsPost)
		r.Get("/slots/{name}", s.handleSlotGet)
		r.Post("/slots/{name}", s.handleSlotPost)

		r.Post("/train", s.handleTrain)
		r.Post("/restart", s.handleRestart)

		r.Post("/text-to-intent", s.handleTextToIntent)
		r.Post("/speech-to-text", s.handleSpeechToText)
		r.Post("/speech-to-intent", s.handleSpeechToIntent)
		r.Post("/text-to-speech", s.handleTextToSpeech)

		r.Get("/microphones", s.handleMicrophones)
		r.Get("/speakers", s.handleSpeakers)

		r.Get("/status", s.handleStatus)
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("pong"))
		})

		r.Get("/events/intent", s.handleEvents(bus.IntentEvents))
		r.Get("/events/log", s.handleEvents(bus.LogEvents))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.Controller.Running() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s))
}

// readBody consumes a size-limited request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return io.ReadAll(r.Body)
}

func boolQuery(r *http.Request, name string) bool {
	return strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) == "true"
}

// engineHandle fetches the live engine, writing a 503 when none is running.
func (s *server) engineHandle(w http.ResponseWriter) (engine.Engine, bool) {
	eng, err := s.Controller.Handle()
	if err != nil {
		writeEngineError(w, err)
		return nil, false
	}
	return eng, true
}

// handleProfiles godoc
// @Summary List available profiles
// @Produce json
// @Success 200 {object} types.ProfilesResponse
// @Router /api/profiles [get]
func (s *server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ProfilesResponse{
		DefaultProfile: s.Profile.Name(),
		Profiles:       s.Profile.List(),
	})
}

// handleProfileGet returns profile JSON: ?layers=defaults|profile|all.
func (s *server) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("layers") {
	case "defaults":
		writeJSON(w, s.Profile.Defaults())
	case "profile":
		writeJSON(w, s.Profile.UserLayer())
	default:
		writeJSON(w, s.Profile.Merged())
	}
}

func (s *server) handleProfilePost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	doc := map[string]any{}
	if err := json.Unmarshal(body, &doc); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.Profile.WriteUserLayer(doc); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, "wrote profile")
}

func (s *server) handleSentencesGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.Profile.Sentences()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *server) handleSentencesPost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	path, err := s.Profile.WriteSentences(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, fmt.Sprintf("wrote %d byte(s) to %s", len(body), path))
}

func (s *server) handleCustomWordsGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.Profile.CustomWords()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *server) handleCustomWordsPost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	path, lines, err := s.Profile.WriteCustomWords(body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, fmt.Sprintf("wrote %d line(s) to %s", lines, path))
}

// handleSlotsGet godoc
// @Summary All slot lists and their values
// @Produce json
// @Success 200 {object} types.SlotsResponse
// @Router /api/slots [get]
func (s *server) handleSlotsGet(w http.ResponseWriter, r *http.Request) {
	slots, err := s.Profile.Slots()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, types.SlotsResponse(slots))
}

func (s *server) handleSlotsPost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	// Values may be a single string or a list of strings per slot.
	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	slots := map[string][]string{}
	for name, value := range raw {
		switch v := value.(type) {
		case string:
			slots[name] = []string{v}
		case []any:
			for _, item := range v {
				str, ok := item.(string)
				if !ok {
					writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("slot %q: values must be strings", name))
					return
				}
				slots[name] = append(slots[name], str)
			}
		default:
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("slot %q: values must be a string or list of strings", name))
			return
		}
	}
	if err := s.Profile.WriteSlots(slots, boolQuery(r, "overwrite_all")); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, "OK")
}

func (s *server) handleSlotGet(w http.ResponseWriter, r *http.Request) {
	values, err := s.Profile.Slot(chi.URLParam(r, "name"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, strings.Join(values, "\n"))
}

func (s *server) handleSlotPost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	name := chi.URLParam(r, "name")
	values := strings.Split(string(body), "\n")
	if err := s.Profile.WriteSlot(name, values, boolQuery(r, "overwrite_all")); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeText(w, fmt.Sprintf("wrote %d byte(s) to slot %s", len(body), name))
}

// handleTrain godoc
// @Summary Retrain the active profile
// @Produce json
// @Success 200 {object} types.TrainResponse
// @Failure 500 {object} types.ErrorResponse
// @Router /api/train [post]
func (s *server) handleTrain(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	dur, err := s.Controller.Train(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	secs := dur.Seconds()
	writeJSON(w, types.TrainResponse{
		Result:  fmt.Sprintf("training completed in %0.2f second(s)", secs),
		Seconds: secs,
	})
}

func (s *server) handleRestart(w http.ResponseWriter, r *http.Request) {
	// Once a restart begins the old engine is stopped; a client
	// disconnect must not cancel the replacement start and leave the
	// gateway engineless. Only process shutdown cancels.
	if err := s.Controller.Restart(serverBaseCtx); err != nil {
		writeEngineError(w, err)
		return
	}
	writeText(w, "restarted")
}

func intentResponse(intent engine.Intent, speechConfidence float64, elapsed time.Duration) types.IntentResponse {
	slots := intent.Slots
	if slots == nil && len(intent.Entities) > 0 {
		slots = map[string]string{}
		for _, ent := range intent.Entities {
			slots[ent.Entity] = ent.Value
		}
	}
	return types.IntentResponse{
		Intent:           intent.Name,
		Text:             intent.Text,
		Confidence:       intent.Confidence,
		SpeechConfidence: speechConfidence,
		Slots:            slots,
		TimeSec:          elapsed.Seconds(),
	}
}

// publishIntent mirrors the response onto the intent event stream so
// HTTP-triggered recognitions reach websocket subscribers too.
func (s *server) publishIntent(resp types.IntentResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.Bus.Publish(bus.IntentEvents, string(payload))
}

// handleTextToIntent godoc
// @Summary Recognize an intent from text
// @Accept plain
// @Produce json
// @Success 200 {object} types.IntentResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /api/text-to-intent [post]
func (s *server) handleTextToIntent(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	intent, err := eng.RecognizeIntent(ctx, text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := intentResponse(intent, 1, time.Since(start))
	s.publishIntent(resp)
	writeJSON(w, resp)
}

// handleSpeechToText godoc
// @Summary Transcribe a WAV upload
// @Accept octet-stream
// @Produce json
// @Success 200 {object} types.TranscriptionResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /api/speech-to-text [post]
func (s *server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	wav, err := readBody(w, r, maxWAVBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(wav) == 0 {
		writeJSONError(w, http.StatusBadRequest, "WAV data is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	tr, err := eng.TranscribeWAV(ctx, wav)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, types.TranscriptionResponse{Text: tr.Text, Confidence: tr.Confidence})
}

// handleSpeechToIntent chains transcription and recognition; the speech
// confidence of the transcription carries into the intent payload.
func (s *server) handleSpeechToIntent(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	wav, err := readBody(w, r, maxWAVBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(wav) == 0 {
		writeJSONError(w, http.StatusBadRequest, "WAV data is required")
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	start := time.Now()
	tr, err := eng.TranscribeWAV(ctx, wav)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	intent, err := eng.RecognizeIntent(ctx, tr.Text)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := intentResponse(intent, tr.Confidence, time.Since(start))
	s.publishIntent(resp)
	writeJSON(w, resp)
}

// handleTextToSpeech speaks the request body; with repeat=true the last
// spoken sentence is repeated and the body is ignored.
func (s *server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sentence := strings.TrimSpace(string(body))
	if boolQuery(r, "repeat") {
		s.lastMu.Lock()
		sentence = s.lastSentence
		s.lastMu.Unlock()
	}
	if sentence == "" {
		writeJSONError(w, http.StatusBadRequest, "sentence is required")
		return
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := eng.SpeakSentence(ctx, sentence); err != nil {
		writeEngineError(w, err)
		return
	}

	s.lastMu.Lock()
	s.lastSentence = sentence
	s.lastMu.Unlock()
	writeText(w, sentence)
}

func (s *server) handleMicrophones(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	mics, err := eng.Microphones(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, mics)
}

func (s *server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineHandle(w)
	if !ok {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	speakers, err := eng.Speakers(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, speakers)
}

// handleStatus godoc
// @Summary Gateway and engine status
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /api/status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Controller.Status())
}
