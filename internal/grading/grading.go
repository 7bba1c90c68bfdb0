// Package grading implements the essay grading pipeline: rubric
// resolution, prompt assembly, streaming LLM scoring, structured score
// parsing, and committing graded rounds into the VFS essay store.
package grading

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrEmptyInput     = errors.New("grading: essay content cannot be empty")
	ErrInputTooLong   = errors.New("grading: essay content exceeds the maximum length")
	ErrSessionMissing = errors.New("grading: session does not exist")
	ErrModelDisabled  = errors.New("grading: model configuration is disabled")
	ErrModelEmbedding = errors.New("grading: embedding models cannot grade essays")
	ErrIncomplete     = errors.New("grading: stream ended without a completion marker")
)

// MaxInputChars bounds the essay body itself (client-enforced too, but
// re-checked server-side).
const MaxInputChars = 50000

// MaxPreviousResultChars bounds the previous-round context folded into the
// user prompt, wide enough that a full prior grading result is rarely cut.
const MaxPreviousResultChars = 8000

// MaxCustomPromptChars and MaxTopicChars bound user-supplied prompt
// fragments before they reach the model.
const (
	MaxCustomPromptChars = 2000
	MaxTopicChars        = 1000
)

// ScoreDimension is one scored axis of a rubric.
type ScoreDimension struct {
	Name        string
	MaxScore    float64
	Description string
}

// DimensionScore is one dimension's score as parsed out of a graded result.
type DimensionScore struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
	Comment  string  `json:"comment,omitempty"`
}

// ParsedScore is the structured score block extracted from a graded
// result's `<score>...</score>` markup.
type ParsedScore struct {
	Total      float64          `json:"total"`
	MaxTotal   float64          `json:"max_total"`
	Grade      string           `json:"grade"`
	Dimensions []DimensionScore `json:"dimensions"`
}

// GradingMode is a rubric: a system prompt fragment plus the dimensions it
// scores against.
type GradingMode struct {
	ID             string
	Name           string
	SystemPrompt   string
	ScoreDimensions []ScoreDimension
	TotalMaxScore  float64
}

// canonicalModeID normalises a client-supplied mode id for lookup: trimmed
// and lower-cased, so "General", " general ", and "general" all resolve to
// the same builtin rubric.
func canonicalModeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// MarkerInstructions tells the model how to delimit its output so the
// parser can find the scoring block deterministically.
const MarkerInstructions = `请在批改正文之后，输出一个结构化评分块，使用如下格式（属性顺序不限）：
<score total="总分" max="满分"><dim name="维度名" score="该维度得分" max="该维度满分">可选的简短点评</dim>...</score>
评分块必须是输出的最后一部分，且每个维度必须对应上面列出的评分维度名称。`

// ScoreFormatInstructions documents the expected numeric ranges; the
// dimension list itself is appended per-mode by buildPrompts.
const ScoreFormatInstructions = `评分要求：total 和 max 必须是正数；每个维度的 score 不得超过其 max。`

func getBuiltinGradingModes() []GradingMode {
	return []GradingMode{
		{
			ID:            "general",
			Name:          "通用作文批改",
			SystemPrompt:  "你是一位经验丰富的语文老师，请根据作文的立意、结构、语言和细节描写四个维度进行客观、建设性的批改。",
			TotalMaxScore: 100,
			ScoreDimensions: []ScoreDimension{
				{Name: "立意", MaxScore: 25, Description: "中心思想是否明确、有深度"},
				{Name: "结构", MaxScore: 25, Description: "段落安排、过渡是否合理"},
				{Name: "语言", MaxScore: 25, Description: "用词、句式是否准确流畅"},
				{Name: "细节", MaxScore: 25, Description: "描写是否具体生动"},
			},
		},
		{
			ID:            "narrative",
			Name:          "记叙文批改",
			SystemPrompt:  "你是一位经验丰富的语文老师，请针对记叙文的叙事完整性、人物刻画、情感表达和语言文采进行批改。",
			TotalMaxScore: 100,
			ScoreDimensions: []ScoreDimension{
				{Name: "叙事", MaxScore: 30, Description: "事件是否完整、逻辑是否清晰"},
				{Name: "人物", MaxScore: 25, Description: "人物形象是否鲜活"},
				{Name: "情感", MaxScore: 20, Description: "情感是否真挚、有感染力"},
				{Name: "语言", MaxScore: 25, Description: "用词、句式是否准确流畅"},
			},
		},
		{
			ID:            "argumentative",
			Name:          "议论文批改",
			SystemPrompt:  "你是一位经验丰富的语文老师，请针对议论文的论点、论据、论证逻辑和语言表达进行批改。",
			TotalMaxScore: 100,
			ScoreDimensions: []ScoreDimension{
				{Name: "论点", MaxScore: 25, Description: "论点是否明确、有思辨性"},
				{Name: "论据", MaxScore: 25, Description: "论据是否充分、恰当"},
				{Name: "论证", MaxScore: 30, Description: "论证逻辑是否严密"},
				{Name: "语言", MaxScore: 20, Description: "用词、句式是否准确流畅"},
			},
		},
	}
}

func getDefaultGradingMode() GradingMode {
	return getBuiltinGradingModes()[0]
}

// ResolveMode picks the rubric a grading request names: a custom mode first
// (by canonical id), falling back to a builtin, falling back to the
// default on a total miss.
func ResolveMode(modeID string, customModes []GradingMode) GradingMode {
	if modeID == "" {
		return getDefaultGradingMode()
	}
	canonical := canonicalModeID(modeID)
	for _, m := range customModes {
		if canonicalModeID(m.ID) == canonical {
			return m
		}
	}
	for _, m := range getBuiltinGradingModes() {
		if canonicalModeID(m.ID) == canonical {
			return m
		}
	}
	return getDefaultGradingMode()
}

// gradeBand maps a percentage score to spec.md's four bands: kept verbatim
// from the original implementation's thresholds and labels.
func gradeBand(percentage float64) string {
	switch {
	case percentage >= 90:
		return "优秀"
	case percentage >= 75:
		return "良好"
	case percentage >= 60:
		return "及格"
	default:
		return "不及格"
	}
}

// RoundTitle renders a session's title for round roundNumber: round 1 uses
// the session title unchanged, later rounds append "(第N轮)" (spec.md
// §4.6's "round 1 creates the session title; subsequent rounds append
// marker when rendering the essay's own title").
func RoundTitle(sessionTitle string, roundNumber int) string {
	if roundNumber <= 1 {
		return sessionTitle
	}
	return sessionTitle + " (第" + strconv.Itoa(roundNumber) + "轮)"
}
