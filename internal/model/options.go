package model

import "strings"

// Mythologies 表单可选的神话体系
var Mythologies = []string{
	"Greek", "Norse", "Egyptian", "Celtic", "Japanese",
	"Chinese", "Hindu", "Mesopotamian", "Mayan", "Aztec",
	"African", "Native American", "Polynesian", "Slavic", "Persian",
}

// Themes 表单可选的主题
var Themes = []string{
	"Creation", "Heroism", "Love", "Tragedy", "Redemption",
	"Transformation", "Adventure", "Wisdom", "Revenge", "Sacrifice",
	"Underworld", "Trickery", "Justice", "Hubris", "Fate",
}

// Lengths 篇幅选项
var Lengths = []Length{LengthShort, LengthMedium, LengthLong}

// KnownMythology 是否在预置列表中（不区分大小写）
func KnownMythology(name string) bool {
	return contains(Mythologies, name)
}

// KnownTheme 是否在预置列表中（不区分大小写）
func KnownTheme(name string) bool {
	return contains(Themes, name)
}

func contains(list []string, name string) bool {
	name = strings.TrimSpace(name)
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
