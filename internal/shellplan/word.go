package shellplan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/olinky/olinkyd/internal/rootshell"
)

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type wordPart struct {
	text  string
	isVar bool
}

// Word is one shell word built from literal text and shell variable
// references. Literal text is always escaped when rendered; variables render
// as "${NAME}".
type Word struct {
	parts []wordPart
}

// Lit returns a word holding literal text.
func Lit(s string) Word {
	return Word{parts: []wordPart{{text: s}}}
}

// Var returns a word referencing a shell variable. It panics when name is not
// a valid shell identifier.
func Var(name string) Word {
	if !varName.MatchString(name) {
		panic(fmt.Sprintf("shellplan: invalid variable name %q", name))
	}
	return Word{parts: []wordPart{{text: name, isVar: true}}}
}

func (w Word) with(p wordPart) Word {
	parts := make([]wordPart, 0, len(w.parts)+1)
	parts = append(parts, w.parts...)
	return Word{parts: append(parts, p)}
}

// Join appends path elements, each preceded by a slash.
func (w Word) Join(elems ...string) Word {
	for _, e := range elems {
		w = w.with(wordPart{text: "/" + e})
	}
	return w
}

// JoinVar appends a slash followed by the value of a shell variable.
func (w Word) JoinVar(name string) Word {
	return w.with(wordPart{text: "/"}).with(Var(name).parts[0])
}

// IsZero reports whether the word has no parts.
func (w Word) IsZero() bool {
	return len(w.parts) == 0
}

// String renders the word as shell source.
func (w Word) String() string {
	var b strings.Builder
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			b.WriteString(rootshell.EscapeForShell(lit.String()))
			lit.Reset()
		}
	}

	for _, p := range w.parts {
		if p.isVar {
			flush()
			b.WriteString(`"${` + p.text + `}"`)
			continue
		}
		lit.WriteString(p.text)
	}
	flush()

	if b.Len() == 0 {
		return "''"
	}
	return b.String()
}
