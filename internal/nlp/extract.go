package nlp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"servis/internal/domain"
)

// Slot extractors. Each runs on normalized text; the first left-to-right
// match for a slot wins, and missing slots stay absent. Out-of-range
// numerics are kept as strings with a marker appended to ParamErrors.

var (
	artistRe      = regexp.MustCompile(`\bby ([a-z0-9' ]+)$`)
	numberRe      = regexp.MustCompile(`\b(\d+)\b`)
	percentRe     = regexp.MustCompile(`(\d+)%`)
	deltaRe       = regexp.MustCompile(`\b(?:up|down) (?:by )?(\d+)\b`)
	pinRe         = regexp.MustCompile(`\b(?:pin|gpio) ?(\d+)\b`)
	gpioValueRe   = regexp.MustCompile(`\b(?:to|value) (\d+)\b`)
	temperatureRe = regexp.MustCompile(`\b(\d+) ?(?:degrees?|°)`)
	destinationRe = regexp.MustCompile(`\bto ([a-z0-9' ]+)$`)
	recipientRe   = regexp.MustCompile(`\bto ([a-z' ]+?)(?: (?:on|via|using) \w+)?$`)
)

var musicGenres = []string{
	"jazz", "rock", "classical", "pop", "electronic", "ambient",
	"folk", "metal", "blues", "country", "hip hop", "reggae",
}

var musicPlatforms = []string{"spotify", "youtube", "soundcloud", "apple music"}

var musicMoods = map[string][]string{
	"relaxing":  {"relaxing", "calm", "peaceful", "chill"},
	"energetic": {"energetic", "upbeat", "fast", "dance"},
	"sad":       {"sad", "melancholy"},
	"happy":     {"happy", "cheerful", "uplifting"},
}

var audioDevices = map[string][]string{
	"headphones": {"headphones", "headset", "earbuds"},
	"speakers":   {"speakers", "speaker"},
	"bluetooth":  {"bluetooth"},
	"rtsp":       {"rtsp", "network"},
	"hdmi":       {"hdmi", "tv", "television"},
	"usb":        {"usb"},
}

var volumeActions = map[string][]string{
	"up":     {"up", "higher", "louder", "increase", "raise"},
	"down":   {"down", "lower", "quieter", "decrease"},
	"mute":   {"mute", "silent"},
	"unmute": {"unmute"},
	"max":    {"max", "maximum", "full"},
	"min":    {"min", "minimum"},
}

var systemActions = []string{"open", "close", "launch", "run", "execute", "kill", "start", "stop", "restart", "reboot", "shutdown"}

var homeDevices = map[string][]string{
	"lights":      {"lights", "light", "lamp", "bulb"},
	"temperature": {"temperature", "thermostat", "heating", "cooling"},
	"security":    {"lock", "unlock", "alarm", "camera", "door"},
	"blinds":      {"blinds", "curtains", "shades"},
}

var homeActions = map[string][]string{
	"on":       {"on"},
	"off":      {"off"},
	"dim":      {"dim", "dimmer"},
	"brighten": {"brighten", "brighter"},
	"lock":     {"lock"},
	"unlock":   {"unlock"},
}

var homeRooms = []string{"living room", "bedroom", "kitchen", "bathroom", "office", "garage"}

var commActions = []string{"send", "call", "reply", "notify", "tell", "forward"}

var commPlatforms = []string{"whatsapp", "telegram", "email", "sms", "text"}

var travelModes = map[string][]string{
	"driving": {"drive", "driving", "car"},
	"walking": {"walk", "walking", "foot"},
	"transit": {"transit", "bus", "train"},
	"cycling": {"bike", "cycling", "bicycle"},
}

var gpioActions = map[string][]string{
	"on":     {"on", "high", "enable", "activate"},
	"off":    {"off", "low", "disable", "deactivate"},
	"toggle": {"toggle"},
	"read":   {"read", "get", "check"},
	"write":  {"write", "set"},
}

func defaultExtractors() map[domain.IntentName]extractor {
	return map[domain.IntentName]extractor{
		domain.IntentPlayMusic:     extractMusic,
		domain.IntentControlVolume: extractVolume,
		domain.IntentSwitchAudio:   extractAudioDevice,
		domain.IntentSystemControl: extractSystem,
		domain.IntentSmartHome:     extractSmartHome,
		domain.IntentCommunication: extractCommunication,
		domain.IntentNavigation:    extractNavigation,
		domain.IntentGPIOControl:   extractGPIO,
	}
}

func extractMusic(text string, tokens []string, intent *domain.Intent) {
	if m := artistRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["artist"] = strings.TrimSpace(m[1])
	}
	if genre := firstVocabHit(text, musicGenres); genre != "" {
		intent.Parameters["genre"] = genre
	}
	if platform := firstVocabHit(text, musicPlatforms); platform != "" {
		intent.Parameters["platform"] = platform
	}
	if mood := vocabGroupHit(text, musicMoods); mood != "" {
		intent.Parameters["mood"] = mood
	}
	if len(intent.Parameters) == 0 {
		// Tail after "play" doubles as a free-form track query.
		if tail := tailAfter(tokens, "play"); tail != "" {
			intent.Parameters["track"] = tail
		}
	}
}

func extractVolume(text string, tokens []string, intent *domain.Intent) {
	if action := vocabGroupHit(text, volumeActions); action != "" {
		intent.Parameters["action"] = action
	}
	if m := deltaRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["delta"] = m[1]
	}
	level := ""
	if m := percentRe.FindStringSubmatch(text); m != nil {
		level = m[1]
	} else if m := numberRe.FindStringSubmatch(text); m != nil {
		level = m[1]
	}
	if level != "" && level != intent.Parameters["delta"] {
		intent.Parameters["level"] = level
		checkRange(intent, "level", level, 0, 100)
	}
}

func extractAudioDevice(text string, tokens []string, intent *domain.Intent) {
	if device := vocabGroupHit(text, audioDevices); device != "" {
		intent.Parameters["device"] = device
	}
}

func extractSystem(text string, tokens []string, intent *domain.Intent) {
	for i, tok := range tokens {
		if containsWord(systemActions, tok) {
			intent.Parameters["action"] = tok
			if i+1 < len(tokens) {
				intent.Parameters["target"] = strings.Join(tokens[i+1:], " ")
			}
			return
		}
	}
}

func extractSmartHome(text string, tokens []string, intent *domain.Intent) {
	if device := vocabGroupHit(text, homeDevices); device != "" {
		intent.Parameters["device_type"] = device
	}
	if action := vocabGroupHit(text, homeActions); action != "" {
		intent.Parameters["action"] = action
	}
	if room := firstVocabHit(text, homeRooms); room != "" {
		intent.Parameters["location"] = room
	}
	if m := temperatureRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["temperature"] = m[1]
	}
}

func extractCommunication(text string, tokens []string, intent *domain.Intent) {
	for _, tok := range tokens {
		if containsWord(commActions, tok) {
			intent.Parameters["action"] = tok
			break
		}
	}
	if platform := firstVocabHit(text, commPlatforms); platform != "" {
		intent.Parameters["platform"] = platform
	}
	if m := recipientRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["recipient"] = strings.TrimSpace(m[1])
	}
}

func extractNavigation(text string, tokens []string, intent *domain.Intent) {
	if m := destinationRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["destination"] = strings.TrimSpace(m[1])
	}
	if mode := vocabGroupHit(text, travelModes); mode != "" {
		intent.Parameters["mode"] = mode
	}
}

func extractGPIO(text string, tokens []string, intent *domain.Intent) {
	if m := pinRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["pin"] = m[1]
		checkRange(intent, "pin", m[1], 0, 40)
	}
	if action := vocabGroupHit(text, gpioActions); action != "" {
		intent.Parameters["action"] = action
	}
	if m := gpioValueRe.FindStringSubmatch(text); m != nil {
		intent.Parameters["value"] = m[1]
	}
}

// checkRange keeps the raw string value but records a parameter error when
// it falls outside [min, max].
func checkRange(intent *domain.Intent, slot, value string, min, max int) {
	n, err := strconv.Atoi(value)
	if err != nil || n < min || n > max {
		intent.ParamErrors = append(intent.ParamErrors,
			fmt.Sprintf("%s out of range [%d,%d]: %s", slot, min, max, value))
	}
}

func firstVocabHit(text string, vocab []string) string {
	best := ""
	bestIdx := -1
	for _, word := range vocab {
		if idx := indexWord(text, word); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best = word
			bestIdx = idx
		}
	}
	return best
}

// vocabGroupHit returns the canonical name of the first group whose
// synonym appears earliest in the text.
func vocabGroupHit(text string, groups map[string][]string) string {
	best := ""
	bestIdx := -1
	for name, synonyms := range groups {
		for _, word := range synonyms {
			if idx := indexWord(text, word); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
				best = name
				bestIdx = idx
			}
		}
	}
	return best
}

// indexWord locates word in text on token boundaries, -1 when absent.
func indexWord(text, word string) int {
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], word)
		if idx < 0 {
			return -1
		}
		start := offset + idx
		end := start + len(word)
		beforeOK := start == 0 || text[start-1] == ' '
		afterOK := end == len(text) || text[end] == ' '
		if beforeOK && afterOK {
			return start
		}
		offset = start + 1
	}
	return -1
}

func tailAfter(tokens []string, anchor string) string {
	for i, tok := range tokens {
		if tok == anchor && i+1 < len(tokens) {
			return strings.Join(tokens[i+1:], " ")
		}
	}
	return ""
}

func containsWord(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}
