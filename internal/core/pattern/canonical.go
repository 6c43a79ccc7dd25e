package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind 樣式種類
type Kind string

const (
	KindUnit Kind = "unit"
	KindFood Kind = "food"
)

// Canonicalize 正規化樣式文字：NFKC、轉小寫、去除前後空白、內部空白壓縮為單一空格
func Canonicalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ToLower(text)
	return strings.Join(strings.Fields(text), " ")
}

// PatternID 由種類與正規化文字導出穩定識別碼，
// 同一輸入永遠產生相同的 id
func PatternID(kind Kind, canonical string) string {
	hash := sha256.Sum256([]byte(string(kind) + "\x1f" + canonical))
	return hex.EncodeToString(hash[:16])
}

// usable 樣式文字必須含有至少一個字母，
// 純數字或純標點的片段不構成樣式
func usable(canonical string) bool {
	if canonical == "" {
		return false
	}
	for _, r := range canonical {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// tokenize 以空白與標點切分文字
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'' && r != '-')
	})
}

// isNumeric 判斷 token 是否為數量（含分數與小數）
func isNumeric(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if !unicode.IsDigit(r) && r != '.' && r != '/' && r != ',' {
			return false
		}
	}
	return true
}
