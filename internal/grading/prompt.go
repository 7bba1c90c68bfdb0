package grading

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is one grading call's input, spec.md §4.6's field set.
type Request struct {
	SessionID            string
	RoundNumber          int
	InputText            string
	Topic                string
	EssayType            string
	GradeLevel           string
	CustomPrompt         string
	PreviousInput        string
	PreviousResult       string
	ModeID               string
	ModelConfigID        string
	ImageBase64List      []string
	TopicImageBase64List []string
}

var essayTypeHints = map[string]string{
	"narrative":     "这是一篇记叙文。",
	"argumentative": "这是一篇议论文。",
	"expository":    "这是一篇说明文。",
}

var gradeLevelHints = map[string]string{
	"middle_school": "请按照初中生的标准进行评判。",
	"high_school":   "请按照高中生的标准进行评判。",
	"college":       "请按照大学生的标准进行评判。",
}

// buildPrompts assembles the system and user prompts per spec.md §4.6 steps
// 2-3, grounded on
// original_source/essay_grading/pipeline.rs::build_grading_prompts.
func buildPrompts(req *Request, mode GradingMode) (systemPrompt, userPrompt string, err error) {
	if strings.TrimSpace(req.InputText) == "" {
		return "", "", ErrEmptyInput
	}
	if len([]rune(req.InputText)) > MaxInputChars {
		return "", "", ErrInputTooLong
	}

	var sys strings.Builder
	sys.WriteString(mode.SystemPrompt)
	sys.WriteString("\n\n")
	sys.WriteString(MarkerInstructions)
	sys.WriteString("\n")
	sys.WriteString(ScoreFormatInstructions)
	sys.WriteString("\n\n该模式的评分维度（总分 ")
	sys.WriteString(strconv.FormatFloat(mode.TotalMaxScore, 'g', -1, 64))
	sys.WriteString(" 分）：\n")
	for _, dim := range mode.ScoreDimensions {
		fmt.Fprintf(&sys, "- %s（%s分）", dim.Name, strconv.FormatFloat(dim.MaxScore, 'g', -1, 64))
		if dim.Description != "" {
			fmt.Fprintf(&sys, "：%s", dim.Description)
		}
		sys.WriteString("\n")
	}
	sys.WriteString("\n学生提问解答：\n")
	sys.WriteString("如果学生在作文尾部附加了提问、疑惑或请求，你需要在批改解析中对这些问题逐一进行解答，帮助学生理解和改进。注意区分正文内容与尾部提问，提问部分不纳入评分。\n")

	if trimmed := strings.TrimSpace(req.CustomPrompt); trimmed != "" {
		sys.WriteString("\n用户额外要求：\n")
		sys.WriteString(sanitizeUserInput(trimmed, MaxCustomPromptChars))
	}

	var user strings.Builder
	if trimmed := strings.TrimSpace(req.Topic); trimmed != "" {
		user.WriteString("【作文题目】\n")
		user.WriteString(sanitizeUserInput(trimmed, MaxTopicChars))
		user.WriteString("\n\n---\n\n")
	}

	hasPreviousContext := req.PreviousInput != "" || req.PreviousResult != ""
	if hasPreviousContext {
		if trimmed := strings.TrimSpace(req.PreviousInput); trimmed != "" {
			user.WriteString("【上一轮学生原文】\n")
			user.WriteString(sanitizeUserInput(trimmed, MaxPreviousResultChars))
			user.WriteString("\n\n")
		}
		if trimmed := strings.TrimSpace(req.PreviousResult); trimmed != "" {
			user.WriteString("【上一轮批改反馈】\n")
			user.WriteString(sanitizeUserInput(trimmed, MaxPreviousResultChars))
			user.WriteString("\n\n")
		}
		user.WriteString("---\n\n")
		user.WriteString("以下为学生修改后的新版本，请对比上一轮原文，关注学生的改进与仍存在的问题，给出针对性批改。\n\n")
	}

	if hint := essayTypeHints[req.EssayType]; hint != "" {
		user.WriteString(hint)
		user.WriteString("\n")
	}
	if hint := gradeLevelHints[req.GradeLevel]; hint != "" {
		user.WriteString(hint)
		user.WriteString("\n")
	}

	// the essay body itself is never sanitised: it is the content under
	// evaluation, not an instruction to the model.
	user.WriteString(req.InputText)

	return sys.String(), user.String(), nil
}
