// Package phone нормализует телефонные номера к канонической
// десятизначной форме, в которой они хранятся и передаются в CRM.
package phone

import "strings"

// digits оставляет в строке только цифры.
func digits(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate проверяет телефонный номер: после удаления нецифровых символов
// должно остаться 10 цифр, либо 11 с ведущей 7 или 8.
func Validate(raw string) bool {
	d := digits(raw)
	switch len(d) {
	case 10:
		return true
	case 11:
		return d[0] == '7' || d[0] == '8'
	}
	return false
}

// Normalize возвращает последние 10 цифр номера: ведущая код страны или
// межгород отбрасываются. Повторная нормализация ничего не меняет.
func Normalize(raw string) string {
	d := digits(raw)
	if len(d) > 10 {
		return d[len(d)-10:]
	}
	return d
}
