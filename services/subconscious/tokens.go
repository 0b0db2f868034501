// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subconscious

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	codeCharsPerToken  = 3.2
	proseCharsPerToken = 4.0
	codeBracketDensity = 0.05
)

// EstimateTokens approximates the token count of text.
//
// Code-like text (a fence, or more than 5% bracket characters) is counted at
// 3.2 characters per token, prose at 4.0, plus one token per two newlines.
// The estimate only bounds injection size; it is not a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	perToken := proseCharsPerToken
	if looksLikeCode(text, chars) {
		perToken = codeCharsPerToken
	}
	newlines := strings.Count(text, "\n")
	return int(math.Ceil(float64(chars)/perToken)) + newlines/2
}

func looksLikeCode(text string, chars int) bool {
	if strings.Contains(text, "```") {
		return true
	}
	brackets := 0
	for _, r := range text {
		switch r {
		case '{', '}', '[', ']', '(', ')', '<', '>', ';':
			brackets++
		}
	}
	return float64(brackets)/float64(chars) > codeBracketDensity
}

// limitWords truncates text to at most maxWords whitespace-separated words.
func limitWords(text string, maxWords int) string {
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:maxWords], " ")
}
