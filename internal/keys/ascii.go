package keys

// Stroke is one keystroke on a US layout: a key and whether Shift is held.
type Stroke struct {
	Code  Code
	Shift bool
}

var asciiStrokes = func() map[rune]Stroke {
	m := map[rune]Stroke{
		' ':  {Space, false},
		'\n': {Enter, false},
		'\t': {Tab, false},
	}
	letters := "qwertyuiopasdfghjklzxcvbnm"
	codes := []Code{16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 30, 31, 32, 33, 34, 35, 36, 37, 38, 44, 45, 46, 47, 48, 49, 50}
	for i, r := range letters {
		m[r] = Stroke{codes[i], false}
		m[r-'a'+'A'] = Stroke{codes[i], true}
	}
	// Digit row, unshifted then shifted.
	for i, r := range "1234567890" {
		m[r] = Stroke{Code(2 + i), false}
	}
	for i, r := range "!@#$%^&*()" {
		m[r] = Stroke{Code(2 + i), true}
	}
	punct := []struct {
		plain, shifted rune
		code           Code
	}{
		{'-', '_', 12},
		{'=', '+', 13},
		{'[', '{', 26},
		{']', '}', 27},
		{';', ':', 39},
		{'\'', '"', 40},
		{'`', '~', 41},
		{'\\', '|', 43},
		{',', '<', 51},
		{'.', '>', 52},
		{'/', '?', 53},
	}
	for _, p := range punct {
		m[p.plain] = Stroke{p.code, false}
		m[p.shifted] = Stroke{p.code, true}
	}
	return m
}()

// ASCII returns the US layout stroke that types r. Runes outside the table
// report false and must be entered another way (see Unicode input).
func ASCII(r rune) (Stroke, bool) {
	s, ok := asciiStrokes[r]
	return s, ok
}

var letterRunes = func() map[Code]rune {
	m := make(map[Code]rune, 26)
	for r := 'a'; r <= 'z'; r++ {
		m[asciiStrokes[r].Code] = r
	}
	return m
}()

// Letter returns the letter key c types on a US layout, upper case when
// upper is set.
func Letter(c Code, upper bool) (rune, bool) {
	r, ok := letterRunes[c]
	if ok && upper {
		r -= 'a' - 'A'
	}
	return r, ok
}
