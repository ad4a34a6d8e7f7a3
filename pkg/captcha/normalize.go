package captcha

import (
	"strings"
	"unicode"
)

// Palavras que o STT costuma ouvir no lugar de dígitos falados.
// Os valores nunca são chaves da própria tabela, o que mantém Normalize idempotente.
var homophones = map[string]string{
	"zero": "0", "oh": "0",
	"one": "1", "won": "1", "wan": "1",
	"two": "2", "to": "2", "too": "2", "tu": "2",
	"three": "3", "tree": "3", "free": "3",
	"four": "4", "for": "4", "fore": "4", "pour": "4",
	"five": "5", "fife": "5", "hive": "5",
	"six": "6", "sex": "6", "sicks": "6", "sax": "6",
	"seven": "7", "heaven": "7",
	"eight": "8", "ate": "8", "ait": "8",
	"nine": "9", "niner": "9", "nein": "9", "wine": "9",
}

// Normalize faz case-fold, troca pontuação por espaço e mapeia homófonos para
// dígitos. Palavras fora da tabela passam inalteradas.
func Normalize(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, raw)

	words := strings.Fields(cleaned)
	for i, w := range words {
		if d, ok := homophones[w]; ok {
			words[i] = d
		}
	}
	return strings.Join(words, " ")
}
