package shellplan

import (
	"fmt"
	"strings"

	"github.com/olinky/olinkyd/internal/rootshell"
)

// DefaultSettle is how long to wait after unbinding a gadget so the kernel
// can finish detaching it from the controller.
const DefaultSettle = "0.2"

// fail prints msg to stderr, tags stdout with the code so callers can tell
// an explicit exit from a command that happened to fail with the same
// status, then exits.
func fail(code int, msg string, detail ...Word) string {
	args := []string{"printf", rootshell.Quote("%s" + strings.Repeat(" %s", len(detail)) + `\n`), rootshell.EscapeForShell(msg)}
	for _, d := range detail {
		args = append(args, d.String())
	}
	return strings.Join(args, " ") + " >&2\n" +
		fmt.Sprintf("printf '%%s=%%s\\n' %s %d\n", FailureKey, code) +
		"exit " + fmt.Sprint(code)
}

func settle(s string) string {
	if s == "" {
		return DefaultSettle
	}
	return rootshell.EscapeForShell(s)
}

// Comment is a shell comment, useful when reading generated scripts.
type Comment struct {
	Text string
}

func (s Comment) Render() string {
	return "# " + oneLine(s.Text)
}

// Echo prints a line to stdout.
type Echo struct {
	Text Word
}

func (s Echo) Render() string {
	return "printf '%s\\n' " + s.Text.String()
}

// Mkdir creates a directory and any missing parents.
type Mkdir struct {
	Path Word
}

func (s Mkdir) Render() string {
	return "mkdir -p " + s.Path.String()
}

// Write replaces the content of a file with Value and a trailing newline.
type Write struct {
	Path  Word
	Value Word
}

func (s Write) Render() string {
	return "printf '%s\\n' " + s.Value.String() + " > " + s.Path.String()
}

// Blank writes an empty line to a file. Writing it to a gadget UDC file
// unbinds the gadget.
type Blank struct {
	Path       Word
	BestEffort bool
}

func (s Blank) Render() string {
	line := "printf '\\n' > " + s.Path.String()
	if s.BestEffort {
		line += " 2>/dev/null || true"
	}
	return line
}

// Symlink creates a symbolic link at Link pointing to Target.
type Symlink struct {
	Target Word
	Link   Word
}

func (s Symlink) Render() string {
	return "ln -s " + s.Target.String() + " " + s.Link.String()
}

// Sleep pauses for a number of seconds, fractions allowed.
type Sleep struct {
	Seconds string
}

func (s Sleep) Render() string {
	return "sleep " + settle(s.Seconds)
}

// Exec runs a command. Every word is escaped.
type Exec struct {
	Argv       []Word
	BestEffort bool
	Quiet      bool
}

// Command builds an Exec from literal arguments.
func Command(argv ...string) Exec {
	words := make([]Word, len(argv))
	for i, a := range argv {
		words[i] = Lit(a)
	}
	return Exec{Argv: words}
}

// Tolerant returns a copy of the step that ignores failures.
func (s Exec) Tolerant() Exec {
	s.BestEffort = true
	return s
}

func (s Exec) Render() string {
	args := make([]string, len(s.Argv))
	for i, w := range s.Argv {
		args[i] = w.String()
	}

	line := strings.Join(args, " ")
	if s.Quiet {
		line += " 2>/dev/null"
	}
	if s.BestEffort {
		line += " || true"
	}
	return line
}

// RequireReadable exits with MissingCode when Path does not exist and with
// UnreadableCode when it cannot be read.
type RequireReadable struct {
	Path           Word
	MissingCode    int
	UnreadableCode int
}

func (s RequireReadable) Render() string {
	p := s.Path.String()
	return strings.Join([]string{
		"if [ ! -e " + p + " ]; then",
		indent(fail(s.MissingCode, "file not found:", s.Path)),
		"fi",
		"if [ ! -r " + p + " ] || [ -d " + p + " ]; then",
		indent(fail(s.UnreadableCode, "file not readable:", s.Path)),
		"fi",
	}, "\n")
}

// EnsureConfigFS mounts configfs on MountPoint when GadgetRoot is missing and
// exits with Code when the gadget root is still unavailable.
type EnsureConfigFS struct {
	MountPoint Word
	GadgetRoot Word
	Code       int
}

func (s EnsureConfigFS) Render() string {
	root := s.GadgetRoot.String()
	mnt := s.MountPoint.String()
	return strings.Join([]string{
		"if [ ! -d " + root + " ] && [ -d " + mnt + " ]; then",
		"  mount -t configfs none " + mnt + " 2>/dev/null || true",
		"fi",
		"if [ ! -d " + root + " ]; then",
		indent(fail(s.Code, "configfs unavailable:", s.GadgetRoot)),
		"fi",
	}, "\n")
}

// ReleaseBoundGadgets unbinds every gadget under Root except Keep that is
// currently attached to a controller.
type ReleaseBoundGadgets struct {
	Root   Word
	Keep   string
	Settle string
}

func (s ReleaseBoundGadgets) Render() string {
	lines := []string{
		"for _g in " + s.Root.String() + "/*; do",
		`  if [ ! -d "$_g" ]; then continue; fi`,
	}
	if s.Keep != "" {
		lines = append(lines, `  if [ "${_g##*/}" = `+rootshell.EscapeForShell(s.Keep)+` ]; then continue; fi`)
	}
	lines = append(lines,
		`  _u=$(cat "$_g/UDC" 2>/dev/null || true)`,
		`  if [ -n "$_u" ]; then`,
		`    printf '\n' > "$_g/UDC" 2>/dev/null || true`,
		"    sleep "+settle(s.Settle),
		"  fi",
		"done",
	)
	return strings.Join(lines, "\n")
}

// FirstDir creates the first directory of Candidates under Parent that can
// be created, stores its name in Var and exits with Code when none can.
type FirstDir struct {
	Parent     Word
	Candidates []string
	Var        string
	Code       int
}

func (s FirstDir) Render() string {
	cands := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		cands[i] = rootshell.EscapeForShell(c)
	}
	v := Var(s.Var).String()

	return strings.Join([]string{
		s.Var + "=''",
		"for _c in " + strings.Join(cands, " ") + "; do",
		`  if mkdir -p ` + s.Parent.String() + `/"$_c" 2>/dev/null; then`,
		`    ` + s.Var + `=$_c`,
		"    break",
		"  fi",
		"done",
		"if [ -z "+v+" ]; then",
		indent(fail(s.Code, "unable to create any of:", Lit(strings.Join(s.Candidates, " ")))),
		"fi",
	}, "\n")
}

// ResolveUDC stores the controller to bind in Var: Override when set, else
// the first of Preferred present under Class, else the first entry of Class
// in glob order. It exits with Code when there is none.
type ResolveUDC struct {
	Override  string
	Preferred []string
	Class     Word
	Var       string
	Code      int
}

func (s ResolveUDC) Render() string {
	v := Var(s.Var).String()
	lines := []string{s.Var + "=" + rootshell.EscapeForShell(s.Override)}
	if len(s.Preferred) > 0 {
		prefs := make([]string, len(s.Preferred))
		for i, p := range s.Preferred {
			prefs[i] = rootshell.EscapeForShell(p)
		}
		lines = append(lines,
			"if [ -z "+v+" ]; then",
			"  for _p in "+strings.Join(prefs, " ")+"; do",
			"    if [ -e "+s.Class.String()+`/"$_p" ]; then `+s.Var+`=$_p; break; fi`,
			"  done",
			"fi",
		)
	}
	return strings.Join(append(lines,
		"if [ -z "+v+" ]; then",
		"  for _u in "+s.Class.String()+"/*; do",
		`    if [ -e "$_u" ]; then `+s.Var+`=${_u##*/}; break; fi`,
		"  done",
		"fi",
		"if [ -z "+v+" ]; then",
		indent(fail(s.Code, "no USB device controller in", s.Class)),
		"fi",
	), "\n")
}

// RemoveGadget tears down a gadget directory if present: unbind and settle,
// drop function links from every configuration, remove the subtrees then the
// directory itself. Every removal tolerates failure.
type RemoveGadget struct {
	Dir    Word
	Settle string
}

func (s RemoveGadget) Render() string {
	d := s.Dir.String()
	return strings.Join([]string{
		"if [ -d " + d + " ]; then",
		"  _u=$(cat " + d + "/UDC 2>/dev/null || true)",
		`  if [ -n "$_u" ]; then`,
		"    printf '\\n' > " + d + "/UDC 2>/dev/null || true",
		"    sleep " + settle(s.Settle),
		"  fi",
		"  for _l in " + d + "/configs/*/*; do",
		`    if [ -L "$_l" ]; then rm -f "$_l" 2>/dev/null || true; fi`,
		"  done",
		"  for _d in " + d + "/configs/*/strings/* " + d + "/configs/* " + d + "/functions/* " + d + "/strings/*; do",
		`    if [ -d "$_d" ]; then rmdir "$_d" 2>/dev/null || rm -rf "$_d" 2>/dev/null || true; fi`,
		"  done",
		"  rmdir " + d + " 2>/dev/null || rm -rf " + d + " 2>/dev/null || true",
		"fi",
	}, "\n")
}

// ReportExists prints key=1 when Path exists, key=0 otherwise.
type ReportExists struct {
	Key  string
	Path Word
}

func (s ReportExists) Render() string {
	k := rootshell.EscapeForShell(s.Key)
	return "if [ -e " + s.Path.String() + " ]; then printf '%s=1\\n' " + k + "; else printf '%s=0\\n' " + k + "; fi"
}

// ReportFile prints key=<first line of Path>, empty when unreadable.
type ReportFile struct {
	Key  string
	Path Word
}

func (s ReportFile) Render() string {
	return "printf '%s=%s\\n' " + rootshell.EscapeForShell(s.Key) + ` "$(head -n 1 ` + s.Path.String() + ` 2>/dev/null)"`
}

// ReportFirstFile prints key=<first line> of the first existing file among
// Dir/*/Suffix, empty when there is none.
type ReportFirstFile struct {
	Key    string
	Dir    Word
	Suffix string
}

func (s ReportFirstFile) Render() string {
	return strings.Join([]string{
		"_f=''",
		"for _p in " + s.Dir.String() + "/*/" + rootshell.EscapeForShell(s.Suffix) + "; do",
		`  if [ -e "$_p" ]; then _f=$_p; break; fi`,
		"done",
		"if [ -n \"$_f\" ]; then",
		"  printf '%s=%s\\n' " + rootshell.EscapeForShell(s.Key) + ` "$(head -n 1 "$_f" 2>/dev/null)"`,
		"else",
		"  printf '%s=\\n' " + rootshell.EscapeForShell(s.Key),
		"fi",
	}, "\n")
}

// SetProp sets an Android system property when setprop exists.
type SetProp struct {
	Key   string
	Value string
}

func (s SetProp) Render() string {
	return "if command -v setprop >/dev/null 2>&1; then setprop " +
		rootshell.EscapeForShell(s.Key) + " " + rootshell.EscapeForShell(s.Value) + " 2>/dev/null || true; fi"
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
