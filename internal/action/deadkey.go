package action

import "fmt"

// DeadKey is an accent that combines with the next letter typed.
type DeadKey int

const (
	Acute DeadKey = iota + 1
	Grave
	Tilde
	Umlaut
	Circumflex
)

var deadKeyNames = map[DeadKey]string{
	Acute:      "acute",
	Grave:      "grave",
	Tilde:      "tilde",
	Umlaut:     "umlaut",
	Circumflex: "circumflex",
}

func (d DeadKey) String() string {
	if n, ok := deadKeyNames[d]; ok {
		return n
	}
	return fmt.Sprintf("DeadKey(%d)", int(d))
}

// DeadKeyFor reports the dead key a Unicode output of r arms, if any.
func DeadKeyFor(r rune) (DeadKey, bool) {
	switch r {
	case '´':
		return Acute, true
	case '`':
		return Grave, true
	case '~', '˜':
		return Tilde, true
	case '¨':
		return Umlaut, true
	case '^', 'ˆ':
		return Circumflex, true
	}
	return 0, false
}

// Rune is the spacing accent itself, typed when the dead key is followed by
// Space.
func (d DeadKey) Rune() rune {
	switch d {
	case Acute:
		return '´'
	case Grave:
		return '`'
	case Tilde:
		return '~'
	case Umlaut:
		return '¨'
	case Circumflex:
		return '^'
	}
	return 0
}

var composed = map[DeadKey]map[rune]rune{
	Acute: {
		'a': 'á', 'e': 'é', 'i': 'í', 'o': 'ó', 'u': 'ú', 'y': 'ý',
		'A': 'Á', 'E': 'É', 'I': 'Í', 'O': 'Ó', 'U': 'Ú', 'Y': 'Ý',
	},
	Grave: {
		'a': 'à', 'e': 'è', 'i': 'ì', 'o': 'ò', 'u': 'ù',
		'A': 'À', 'E': 'È', 'I': 'Ì', 'O': 'Ò', 'U': 'Ù',
	},
	Tilde: {
		'a': 'ã', 'n': 'ñ', 'o': 'õ',
		'A': 'Ã', 'N': 'Ñ', 'O': 'Õ',
	},
	Umlaut: {
		'a': 'ä', 'e': 'ë', 'i': 'ï', 'o': 'ö', 'u': 'ü', 'y': 'ÿ',
		'A': 'Ä', 'E': 'Ë', 'I': 'Ï', 'O': 'Ö', 'U': 'Ü',
	},
	Circumflex: {
		'a': 'â', 'e': 'ê', 'i': 'î', 'o': 'ô', 'u': 'û',
		'A': 'Â', 'E': 'Ê', 'I': 'Î', 'O': 'Ô', 'U': 'Û',
	},
}

// Compose returns the precomposed letter for base under d.
func (d DeadKey) Compose(base rune) (rune, bool) {
	r, ok := composed[d][base]
	return r, ok
}

// UnicodeOutput is an output that types r.
func UnicodeOutput(r rune) Output {
	return Output{Steps: []Step{{Kind: Unicode, Rune: r}}}
}

// DeadKey reports whether o is a single Unicode step of an accent that arms
// a dead key.
func (o Output) DeadKey() (DeadKey, bool) {
	if o.Hint != NoHint || len(o.Steps) != 1 || o.Steps[0].Kind != Unicode {
		return 0, false
	}
	return DeadKeyFor(o.Steps[0].Rune)
}
