package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"assistd/internal/common/fsutil"
)

// Default file and directory names inside a profile directory.
const (
	ProfileFile     = "profile.json"
	DefaultsFile    = "defaults.json"
	SentencesFile   = "sentences.ini"
	CustomWordsFile = "custom_words.txt"
	SlotsDir        = "slots"
)

// Store resolves profile files across a writable user directory layered
// over a read-only system directory. Reads prefer the user layer; writes
// always land in the user layer, creating directories on demand.
type Store struct {
	name      string
	systemDir string
	userDir   string

	mu       sync.RWMutex
	defaults map[string]any
	user     map[string]any
}

// Open loads the named profile from the given directories. Missing
// defaults.json or profile.json files are treated as empty documents so a
// brand-new user profile works out of the box.
func Open(name, systemDir, userDir string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("profile name must not be empty")
	}
	systemDir, err := fsutil.ExpandHome(systemDir)
	if err != nil {
		return nil, err
	}
	userDir, err = fsutil.ExpandHome(userDir)
	if err != nil {
		return nil, err
	}
	s := &Store{name: name, systemDir: systemDir, userDir: userDir}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the profile name.
func (s *Store) Name() string { return s.name }

// SystemDir returns the read-only base directory for this profile.
func (s *Store) SystemDir() string { return filepath.Join(s.systemDir, s.name) }

// UserDir returns the writable directory for this profile.
func (s *Store) UserDir() string { return filepath.Join(s.userDir, s.name) }

func (s *Store) reload() error {
	defaults, err := loadJSON(filepath.Join(s.SystemDir(), DefaultsFile))
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	user, err := loadJSON(filepath.Join(s.UserDir(), ProfileFile))
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	s.mu.Lock()
	s.defaults = defaults
	s.user = user
	s.mu.Unlock()
	return nil
}

func loadJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// List returns the sorted union of profile names found in either layer,
// always including the active profile.
func (s *Store) List() []string {
	names := map[string]struct{}{s.name: {}}
	for _, dir := range []string{s.userDir, s.systemDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				names[entry.Name()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ReadPath resolves a profile-relative path for reading: the user layer
// wins when the file exists there, otherwise the system layer. When the
// file exists in neither, the user path is returned so callers report a
// sensible location.
func (s *Store) ReadPath(parts ...string) string {
	userPath := filepath.Join(append([]string{s.UserDir()}, parts...)...)
	if fsutil.PathExists(userPath) {
		return userPath
	}
	systemPath := filepath.Join(append([]string{s.SystemDir()}, parts...)...)
	if fsutil.PathExists(systemPath) {
		return systemPath
	}
	return userPath
}

// WritePath resolves a profile-relative path in the user layer, creating
// parent directories on demand.
func (s *Store) WritePath(parts ...string) (string, error) {
	path := filepath.Join(append([]string{s.UserDir()}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	return path, nil
}

// Defaults returns a copy of the system defaults document.
func (s *Store) Defaults() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.defaults)
}

// UserLayer returns a copy of the user overrides document.
func (s *Store) UserLayer() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.user)
}

// Merged returns the effective profile document: defaults with user
// overrides applied recursively.
func (s *Store) Merged() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := deepCopy(s.defaults)
	recursiveUpdate(merged, s.user)
	return merged
}

// WriteUserLayer replaces the user overrides with doc, first stripping
// every value that matches the system defaults so only true overrides are
// persisted. The result is written to profile.json in the user layer.
func (s *Store) WriteUserLayer(doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc = deepCopy(doc)
	recursiveRemove(s.defaults, doc)
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.UserDir(), ProfileFile)
	if err := fsutil.WriteFile(path, append(data, '\n')); err != nil {
		return err
	}
	s.user = doc
	return nil
}

// Get looks up a dotted path (e.g. "speech_to_text.slots_dir") in the
// merged document, returning fallback when any segment is missing.
func (s *Store) Get(path string, fallback any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var node any = mergedLocked(s.defaults, s.user)
	for _, key := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return fallback
		}
		node, ok = obj[key]
		if !ok {
			return fallback
		}
	}
	return node
}

// GetString is Get with a string result.
func (s *Store) GetString(path, fallback string) string {
	if v, ok := s.Get(path, fallback).(string); ok {
		return v
	}
	return fallback
}

// Set stores value at a dotted path in the user layer, creating
// intermediate objects as needed, and persists the layer to disk.
func (s *Store) Set(path string, value any) error {
	s.mu.Lock()
	node := s.user
	keys := strings.Split(path, ".")
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
	data, err := json.MarshalIndent(s.user, "", "    ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fsutil.WriteFile(filepath.Join(s.UserDir(), ProfileFile), append(data, '\n'))
}

// SetString parses value as JSON when possible (numbers, booleans, objects)
// and falls back to the raw string, mirroring --set on the command line.
func (s *Store) SetString(path, value string) error {
	return s.Set(path, ParseValue(value))
}

// ParseValue interprets a command-line value: valid JSON scalars and
// documents are decoded, anything else stays a string.
func ParseValue(value string) any {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		return parsed
	}
	return value
}

// Sentences returns the contents of the profile's sentences file, or an
// empty slice when none exists yet.
func (s *Store) Sentences() ([]byte, error) {
	path := s.ReadPath(s.GetString("speech_to_text.sentences_ini", SentencesFile))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte{}, nil
	}
	return data, err
}

// WriteSentences replaces the profile's sentences file in the user layer.
func (s *Store) WriteSentences(data []byte) (string, error) {
	path, err := s.WritePath(s.GetString("speech_to_text.sentences_ini", SentencesFile))
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}

// CustomWords returns the profile's custom pronunciation dictionary, or an
// empty slice when none exists yet.
func (s *Store) CustomWords() ([]byte, error) {
	path := s.ReadPath(s.GetString("speech_to_text.custom_words", CustomWordsFile))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte{}, nil
	}
	return data, err
}

// WriteCustomWords replaces the custom words file, dropping blank lines.
func (s *Store) WriteCustomWords(data []byte) (string, int, error) {
	path, err := s.WritePath(s.GetString("speech_to_text.custom_words", CustomWordsFile))
	if err != nil {
		return "", 0, err
	}
	var b strings.Builder
	lines := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		lines++
	}
	return path, lines, os.WriteFile(path, []byte(b.String()), 0o644)
}

// Slots reads every slot file from both layers into a name -> values map.
// User files shadow system files of the same name.
func (s *Store) Slots() (map[string][]string, error) {
	slotsDir := s.GetString("speech_to_text.slots_dir", SlotsDir)
	out := map[string][]string{}
	for _, base := range []string{s.SystemDir(), s.UserDir()} {
		dir := filepath.Join(base, slotsDir)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			values, err := readSlotFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			out[entry.Name()] = values
		}
	}
	return out, nil
}

// Slot returns the values of a single named slot, or an empty slice when
// the slot does not exist.
func (s *Store) Slot(name string) ([]string, error) {
	if err := validSlotName(name); err != nil {
		return nil, err
	}
	slotsDir := s.GetString("speech_to_text.slots_dir", SlotsDir)
	path := s.ReadPath(slotsDir, name)
	if !fsutil.PathExists(path) {
		return []string{}, nil
	}
	return readSlotFile(path)
}

// WriteSlot stores values for a named slot in the user layer. When
// overwrite is false the new values are appended to the existing ones.
func (s *Store) WriteSlot(name string, values []string, overwrite bool) error {
	if err := validSlotName(name); err != nil {
		return err
	}
	slotsDir := s.GetString("speech_to_text.slots_dir", SlotsDir)
	path, err := s.WritePath(slotsDir, name)
	if err != nil {
		return err
	}
	if !overwrite {
		existing, err := s.Slot(name)
		if err != nil {
			return err
		}
		values = append(existing, values...)
	}
	var b strings.Builder
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// WriteSlots stores multiple slots at once.
func (s *Store) WriteSlots(slots map[string][]string, overwrite bool) error {
	for name, values := range slots {
		if err := s.WriteSlot(name, values, overwrite); err != nil {
			return err
		}
	}
	return nil
}

func validSlotName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid slot name %q", name)
	}
	return nil
}

func readSlotFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	values := []string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			values = append(values, line)
		}
	}
	return values, nil
}

func mergedLocked(defaults, user map[string]any) map[string]any {
	merged := deepCopy(defaults)
	recursiveUpdate(merged, user)
	return merged
}

// recursiveUpdate applies overrides onto base in place. Nested objects
// merge; every other value replaces.
func recursiveUpdate(base, overrides map[string]any) {
	for key, value := range overrides {
		if sub, ok := value.(map[string]any); ok {
			if existing, ok := base[key].(map[string]any); ok {
				recursiveUpdate(existing, sub)
				continue
			}
		}
		base[key] = deepCopyValue(value)
	}
}

// recursiveRemove strips entries from doc whose values equal the
// corresponding defaults, so only genuine overrides are persisted.
func recursiveRemove(defaults, doc map[string]any) {
	for key, value := range doc {
		def, ok := defaults[key]
		if !ok {
			continue
		}
		if sub, ok := value.(map[string]any); ok {
			if defSub, ok := def.(map[string]any); ok {
				recursiveRemove(defSub, sub)
				if len(sub) == 0 {
					delete(doc, key)
				}
				continue
			}
		}
		if equalJSON(def, value) {
			delete(doc, key)
		}
	}
}

func equalJSON(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}

func deepCopy(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopy(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
