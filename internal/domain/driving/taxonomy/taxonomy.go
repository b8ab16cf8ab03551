// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package taxonomy is the fixed catalogue of conditions the analysis worker
// can report, with localized labels and spoken feedback sentences.
package taxonomy

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Severity tags recorded with each event.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Condition is one entry of the taxonomy.
type Condition struct {
	Code     int
	Name     string
	Severity string
}

// Conditions known to the analysis worker. Codes are part of the wire
// contract and must never be renumbered.
var conditions = []Condition{
	{1, "SIGNAL_VIOLATION", SeverityWarning},
	{2, "TURN_SIGNAL_MISSING_TURN", SeverityWarning},
	{3, "SAFE_TURN_SUCCESS", SeverityInfo},
	{4, "LANE_CHANGE_MISSING_ACTION", SeverityWarning},
	{5, "LANE_CHANGE_MISSING_SIGNAL", SeverityWarning},
	{6, "LANE_CHANGE_CORRECT_SIGNAL", SeverityInfo},
	{7, "EMERGENCY_LIGHT_SUCCESS", SeverityWarning},
	{8, "SPECIAL_CONDITION_GUIDE", SeverityInfo},
	{9, "THREATENING_DRIVING", SeverityWarning},
	{10, "RECKLESS_DRIVING", SeverityWarning},
	{11, "TAILGATING_WARNING", SeverityWarning},
}

type text struct {
	label, feedback string
}

var translations = map[language.Tag]map[string]text{
	language.Korean: {
		"SIGNAL_VIOLATION":           {"신호 위반 감지", "신호 위반입니다."},
		"TURN_SIGNAL_MISSING_TURN":   {"회전 시 방향지시등 미점등", "좌회전 시 방향지시등을 켜주세요."},
		"SAFE_TURN_SUCCESS":          {"올바른 회전 탐지", "좋아요! 안전하게 회전하셨습니다."},
		"LANE_CHANGE_MISSING_ACTION": {"방향지시등 후 차선변경 미수행", "방향지시등이 켜져 있습니다. 차선 변경을 완료하거나 방향지시등을 끄세요."},
		"LANE_CHANGE_MISSING_SIGNAL": {"차선 변경 시 방향지시등 미점등", "차선 변경 시 방향지시등을 켜야합니다."},
		"LANE_CHANGE_CORRECT_SIGNAL": {"올바른 방향지시등 점등", "좋아요! 안전하게 차선 변경하셨습니다."},
		"EMERGENCY_LIGHT_SUCCESS":    {"악천후 시 비상등 사용", "악천후 시에는 비상등보다 전조등을 조절해주세요."},
		"SPECIAL_CONDITION_GUIDE":    {"특수 상황 안내", "보행자가 없습니다. 천천히 우회전하실 수 있습니다."},
		"THREATENING_DRIVING":        {"보행자 위협 운전", "보행자에게 경적을 울리는 것은 위협 운전입니다."},
		"RECKLESS_DRIVING":           {"난폭 운전 경고", "차분하게 운전해 주세요. 난폭 운전은 사고로 이어질 수 있습니다."},
		"TAILGATING_WARNING":         {"보복운전(꼬리물기) 경고", "앞차와의 거리가 너무 가깝습니다. 안전거리를 확보하세요."},
	},
	language.English: {
		"SIGNAL_VIOLATION":           {"Traffic signal violation", "You ran a traffic signal."},
		"TURN_SIGNAL_MISSING_TURN":   {"No turn signal while turning", "Please use your turn signal when turning."},
		"SAFE_TURN_SUCCESS":          {"Safe turn", "Nice! That was a safe turn."},
		"LANE_CHANGE_MISSING_ACTION": {"Signal on without lane change", "Your turn signal is on. Finish the lane change or turn the signal off."},
		"LANE_CHANGE_MISSING_SIGNAL": {"No signal on lane change", "Use your turn signal when changing lanes."},
		"LANE_CHANGE_CORRECT_SIGNAL": {"Correct lane change signal", "Nice! That was a safe lane change."},
		"EMERGENCY_LIGHT_SUCCESS":    {"Hazard lights in bad weather", "In bad weather, adjust your headlights rather than using hazard lights."},
		"SPECIAL_CONDITION_GUIDE":    {"Special situation guidance", "No pedestrians ahead. You may turn right slowly."},
		"THREATENING_DRIVING":        {"Threatening a pedestrian", "Honking at pedestrians counts as threatening driving."},
		"RECKLESS_DRIVING":           {"Reckless driving warning", "Please drive calmly. Reckless driving can lead to accidents."},
		"TAILGATING_WARNING":         {"Tailgating warning", "You are too close to the car ahead. Keep a safe distance."},
	},
}

// Supported lists the languages with a full translation, default first.
var Supported = []language.Tag{language.Korean, language.English}

// Taxonomy resolves condition codes to localized feedback.
type Taxonomy struct {
	byCode  map[int]Condition
	printer *message.Printer
	lang    language.Tag
}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(Supported)
)

func labelKey(name string) string    { return name + ".label" }
func feedbackKey(name string) string { return name + ".feedback" }

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for tag, entries := range translations {
		for name, t := range entries {
			// Keys are static; SetString only fails on malformed messages.
			_ = b.SetString(tag, labelKey(name), t.label)
			_ = b.SetString(tag, feedbackKey(name), t.feedback)
		}
	}
	return b
}

// New returns a taxonomy localized to the closest supported match for lang
// (a BCP 47 tag or Accept-Language value). Unknown input falls back to Korean.
func New(lang string) *Taxonomy {
	tag := Match(lang)
	byCode := make(map[int]Condition, len(conditions))
	for _, c := range conditions {
		byCode[c.Code] = c
	}
	return &Taxonomy{
		byCode:  byCode,
		printer: message.NewPrinter(tag, message.Catalog(cat)),
		lang:    tag,
	}
}

// Match picks the supported language closest to lang.
func Match(lang string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tags...)
	return Supported[idx]
}

// Language reports the language feedback is rendered in.
func (t *Taxonomy) Language() language.Tag {
	return t.lang
}

// Lookup returns the condition registered under code.
func (t *Taxonomy) Lookup(code int) (Condition, bool) {
	c, ok := t.byCode[code]
	return c, ok
}

// Label returns the short human-readable name of a condition.
func (t *Taxonomy) Label(c Condition) string {
	return t.printer.Sprintf(labelKey(c.Name))
}

// Feedback returns the sentence spoken to the driver for a condition.
func (t *Taxonomy) Feedback(c Condition) string {
	return t.printer.Sprintf(feedbackKey(c.Name))
}

// All returns every condition ordered by code.
func All() []Condition {
	out := make([]Condition, len(conditions))
	copy(out, conditions)
	return out
}
