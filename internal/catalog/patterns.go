package catalog

import "strings"

// Category is the sub-reason attached to a suspicious-content rejection.
type Category string

const (
	CategoryXSS           Category = "xss"
	CategoryScript        Category = "script"
	CategoryCommand       Category = "command"
	CategorySQL           Category = "sql"
	CategoryFormula       Category = "spreadsheet-formula"
	CategoryActiveContent Category = "active-content"
	CategoryArchive       Category = "archive"
	CategoryEncoding      Category = "encoding"
)

// PatternSet is a named, immutable set of lowercase fragments matched with
// contains semantics.
type PatternSet struct {
	name     string
	category Category
	patterns []string
	// compact sets are also tested against the text with all whitespace
	// removed ("java script:" and "< script" still match).
	compact bool
}

// Name returns the set name.
func (s *PatternSet) Name() string { return s.name }

// Category returns the rejection sub-reason for hits in this set.
func (s *PatternSet) Category() Category { return s.category }

// Len returns the number of fragments.
func (s *PatternSet) Len() int { return len(s.patterns) }

// Patterns returns a copy of the fragments.
func (s *PatternSet) Patterns() []string {
	return append([]string(nil), s.patterns...)
}

// Match is a single catalog hit.
type Match struct {
	Set      string
	Category Category
	Pattern  string
}

// Find returns the first fragment contained in text. text must already be
// normalized; compact is text with whitespace removed and may be empty when
// the caller has no compact form.
func (s *PatternSet) Find(text, compact string) (Match, bool) {
	for _, p := range s.patterns {
		if contains(text, p) || (s.compact && compact != "" && strings.Contains(compact, p)) {
			return Match{Set: s.name, Category: s.category, Pattern: p}, true
		}
	}
	return Match{}, false
}

// contains reports whether p occurs in text. A fragment ending in a space
// names a whole word, so it also matches at the end of the text.
func contains(text, p string) bool {
	if strings.Contains(text, p) {
		return true
	}
	word, ok := strings.CutSuffix(p, " ")
	return ok && word != "" && strings.HasSuffix(text, word)
}

func newSet(name string, category Category, compact bool, patterns ...string) *PatternSet {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = strings.ToLower(p)
	}
	return &PatternSet{name: name, category: category, patterns: out, compact: compact}
}

var (
	// Markup and scheme injection.
	Script = newSet("script-injection", CategoryScript, true,
		"<script", "</script", "<iframe", "<frame", "<object", "<embed", "<applet",
		"<svg", "<math", "<img", "<link", "<meta", "<style", "<base", "<form",
		"<body", "<xml", "<isindex", "<marquee",
		"javascript:", "vbscript:",
		"data:text/html", "data:application/javascript", "data:image/svg+xml",
	)

	// Event handler attributes and script call patterns.
	XSS = newSet("xss", CategoryXSS, false,
		"onerror=", "onload=", "onclick=", "ondblclick=", "onmouseover=",
		"onmouseenter=", "onmouseout=", "onfocus=", "onblur=", "onchange=",
		"onsubmit=", "onkeydown=", "onkeyup=", "onkeypress=", "oninput=",
		"onanimationstart=", "ontoggle=", "onpointerdown=", "onbeforeunload=",
		"alert(", "eval(", "document.cookie", "document.write(",
		"document.location", "window.location", "innerhtml", "outerhtml",
		"fromcharcode(", "settimeout(", "setinterval(",
		"srcdoc=", "formaction=", "atob(",
	)

	// OS command indicators.
	Command = newSet("command-injection", CategoryCommand, false,
		"cmd.exe", "cmd /c", "cmd /k", "command.com", "powershell", "pwsh ",
		"/bin/sh", "/bin/bash", "/bin/zsh", "/usr/bin/env", "wscript.shell",
		"shell.application", "wscript ", "cscript ", "mshta", "rundll32",
		"regsvr32", "certutil", "bitsadmin", "schtasks",
		"$(curl", "$(wget", "$(whoami", "$(sh", "$(bash", "`whoami`",
		"; rm ", "rm -rf", "&& rm", "| sh", "| bash", "|sh", "|bash",
		"wget http", "curl http", "nc -e", "ncat -e", "chmod +x",
		"/etc/passwd", "/etc/shadow", "%comspec%",
	)

	// SQL keywords and operators indicative of injection.
	SQL = newSet("sql-injection", CategorySQL, false,
		"' or '1'='1", "' or 1=1", "\" or 1=1", " or 1=1", "' or ''='",
		"' or 'x'='x", "union select", "union all select", "; drop ",
		"drop table", "drop database", "truncate table", "xp_cmdshell",
		"exec xp_", "exec(", "execute(", "sp_executesql", "waitfor delay",
		"benchmark(", "pg_sleep(", "dbms_pipe.receive_message",
		"information_schema", "sysobjects", "@@version", "load_file(",
		"into outfile", "';",
	)

	// Spreadsheet formula, DDE, remote reference and auto-exec macro names.
	Formula = newSet("spreadsheet-formula", CategoryFormula, false,
		"cmd|", "msexcel|", "ddeauto", "dde(", "=dde", "=system(", "=exec(",
		"=call(", "=register(", "register.id(", "=shell(", "=run(",
		"=hyperlink(", "=webservice(", "=filterxml(", "=rtd(",
		"=importxml(", "=importdata(", "=importhtml(", "=importrange(",
		"=importfeed(", "=image(", "='http", "=http", "[http", "='file:",
		"file://", "='\\\\", "=\\\\",
		"auto_open", "auto_close", "autoopen", "autoclose", "auto_exec",
		"autoexec", "auto_activate", "auto_deactivate", "workbook_open",
		"workbook_activate", "workbook_beforeclose", "document_open",
		"document_close",
	)

	// Active content markers in raw PDF bytes.
	PDFActive = newSet("pdf-active-content", CategoryActiveContent, false,
		"/javascript", "/launch", "/embeddedfile", "/richmedia",
	)
)

// General is the fixed order in which free-text content is checked.
var General = []*PatternSet{Script, XSS, Command, SQL}

// Cell is the order for spreadsheet cells: spreadsheet-specific fragments
// first so formula payloads report as such.
var Cell = []*PatternSet{Formula, Script, XSS, Command, SQL}

// FindFirst walks sets in order and returns the first hit.
func FindFirst(sets []*PatternSet, text, compact string) (Match, bool) {
	for _, s := range sets {
		if m, ok := s.Find(text, compact); ok {
			return m, true
		}
	}
	return Match{}, false
}
