package nlp

import "servis/internal/domain"

// defaultPatterns is the built-in intent table. Each intent carries a
// primary matcher (weight 3) naming the domain, a secondary matcher
// (weight 2) for the accompanying verb, and a lighter context keyword, so a
// bare primary hit lands exactly on the 0.5 dispatch threshold.
func defaultPatterns() []IntentPattern {
	return []IntentPattern{
		{
			Name: domain.IntentPlayMusic,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(play|resume|pause|skip|shuffle)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(music|song|track|album|artist|playlist|radio)\b`, Weight: 2},
				{Kind: MatchPhrase, Value: "put on", Weight: 1},
			},
			BoostAfter: []domain.IntentName{domain.IntentControlVolume, domain.IntentSwitchAudio},
			Boost:      0.3,
		},
		{
			Name: domain.IntentControlVolume,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(volume|mute|unmute|louder|quieter)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(set|turn|raise|lower|increase|decrease)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "sound", Weight: 1},
			},
			BoostAfter: []domain.IntentName{domain.IntentPlayMusic},
			Boost:      0.2,
		},
		{
			Name: domain.IntentSwitchAudio,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(headphones|headset|earbuds|speakers?|bluetooth|hdmi|rtsp)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(switch|change|route|output)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "audio", Weight: 1},
			},
			BoostAfter: []domain.IntentName{domain.IntentPlayMusic, domain.IntentControlVolume},
			Boost:      0.2,
		},
		{
			Name: domain.IntentSystemControl,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(open|close|launch|run|execute|kill|restart|reboot|shutdown)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(app|application|program|process|browser|terminal|window)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "computer", Weight: 1},
			},
		},
		{
			Name: domain.IntentSmartHome,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(lights?|lamp|bulb|thermostat|temperature|heating|blinds|curtains|lock|unlock)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(turn|dim|brighten|set|adjust)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "home", Weight: 1},
			},
		},
		{
			Name: domain.IntentCommunication,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(message|text|email|call|sms|whatsapp|telegram)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(send|reply|notify|tell|forward)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "contact", Weight: 1},
			},
		},
		{
			Name: domain.IntentNavigation,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(navigate|directions|route|map|traffic|gps)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(drive|walk|transit|cycle)\b`, Weight: 2},
				{Kind: MatchPhrase, Value: "take me", Weight: 1},
			},
		},
		{
			Name: domain.IntentGPIOControl,
			Matchers: []Matcher{
				{Kind: MatchRegex, Value: `\b(gpio|pins?|relay|pwm|led)\b`, Weight: 3},
				{Kind: MatchRegex, Value: `\b(set|read|write|toggle|high|low)\b`, Weight: 2},
				{Kind: MatchKeyword, Value: "sensor", Weight: 1},
			},
		},
	}
}
