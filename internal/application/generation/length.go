package generation

import "math"

// LengthPolicy 章节长度校验策略。
// 合格区间为 [目标*UndershootRatio, 目标+Variance]。
type LengthPolicy struct {
	Variance        int
	UndershootRatio float64
}

// NewLengthPolicy 创建长度策略。
func NewLengthPolicy(variance int, undershootRatio float64) LengthPolicy {
	if variance < 0 {
		variance = 0
	}
	if undershootRatio <= 0 || undershootRatio > 1 {
		undershootRatio = 0.75
	}
	return LengthPolicy{Variance: variance, UndershootRatio: undershootRatio}
}

// MinWords 合格下限(含)。
func (p LengthPolicy) MinWords(target int) int {
	return int(math.Ceil(p.UndershootRatio * float64(target)))
}

// MaxWords 合格上限(含)。
func (p LengthPolicy) MaxWords(target int) int {
	return target + p.Variance
}

// Valid 判断词数是否落在合格区间内。
func (p LengthPolicy) Valid(wordCount, target int) bool {
	if target <= 0 {
		return wordCount > 0
	}
	return wordCount >= p.MinWords(target) && wordCount <= p.MaxWords(target)
}

// TooShort 判断是否低于下限,需要触发扩写。
func (p LengthPolicy) TooShort(wordCount, target int) bool {
	if target <= 0 {
		return false
	}
	return wordCount < p.MinWords(target)
}
