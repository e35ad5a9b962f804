// Package sanitize neutralizes markup in diagram source before it reaches a
// rendering sandbox.
//
// # Overview
//
// Diagram notations such as Mermaid allow HTML inside node labels, and a
// rendering sandbox (a headless browser in particular) will happily execute
// whatever script that HTML smuggles in. [Sanitize] removes every construct
// that could execute while leaving the diagram's structural tokens alone:
//
//   - script-bearing blocks (script, style, iframe, object, embed, ...) are
//     removed together with their content
//   - inline tags are filtered through a bluemonday policy that keeps only
//     text formatting elements and drops all attributes
//   - entity-encoded angle brackets are decoded first so encoded markup is
//     filtered like literal markup
//   - javascript:, vbscript: and data:text/html URLs are neutralized
//   - click directives and init/front-matter configuration that loosens the
//     renderer's security level are dropped
//
// Sanitize never fails. Constructs it cannot interpret safely are removed,
// not passed through. The result is typed as [Source] so that renderers can
// only be handed sanitized input.
package sanitize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Source is diagram source that has been through [Sanitize].
type Source string

// String returns the sanitized text.
func (s Source) String() string { return string(s) }

// maxPasses bounds the fixpoint loop. Each pass can only shrink the input or
// keep it unchanged, so real inputs converge in one or two passes.
const maxPasses = 8

// blockElements are removed with their content.
// Void elements (embed, link, meta, ...) have no content and are dropped by
// the tag policy instead.
var blockElements = []string{
	"script", "style", "iframe", "frameset", "object", "applet",
	"noscript", "template", "svg", "math", "textarea", "title",
}

var (
	blockPatterns    = compileBlockPatterns(false)
	unclosedPatterns = compileBlockPatterns(true)

	commentRe = regexp.MustCompile(`(?s)<!--.*?-->|<![^>\n]*>|<\?[^>\n]*>`)
	tagRe     = regexp.MustCompile(`</?[A-Za-z][^<>\n]*>`)
	entityRe  = regexp.MustCompile(`(?i)&(?:lt|gt);|&#0*(?:60|62);|&#x0*(?:3c|3e);|#(?:lt|gt);|#0*(?:60|62);`)
	schemeRe  = regexp.MustCompile(`(?i)` + spaced("javascript") + `:|` + spaced("vbscript") + `:|` + spaced("livescript") + `:|data\s*:\s*(?:text/html|application/xhtml|image/svg\+xml)[^\s"')]*`)
	clickRe   = regexp.MustCompile(`(?im)(^|;)[ \t]*click[ \t][^;\n]*`)
	initRe    = regexp.MustCompile(`(?s)%%\{.*?\}%%`)
	unsafeCfg = regexp.MustCompile(`(?i)securitylevel|\bsecure\b|dompurify|htmllabels|startonload`)
	annRe     = regexp.MustCompile(`<<([A-Za-z][A-Za-z0-9 _-]*)>>`)
	holderRe  = regexp.MustCompile("\x00([0-9]+)\x00")
)

// policy allows text formatting elements without attributes.
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "u", "s", "sub", "sup", "br", "small", "span")
	return p
}()

// Sanitize removes executable markup from diagram source. It is pure and
// safe for concurrent use.
func Sanitize(src string) Source {
	s := strings.ReplaceAll(src, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = stripFrontMatter(s)
	s, annotations := protectAnnotations(s)

	for range maxPasses {
		next := pass(s)
		if next == s {
			break
		}
		s = next
	}

	s = restoreAnnotations(s, annotations)
	if Suspicious(s) {
		// Still not converged: drop every tag opener and scheme outright.
		s = strings.ReplaceAll(s, "<", "")
		s = schemeRe.ReplaceAllString(s, "")
	}
	return Source(s)
}

// protectAnnotations swaps class-diagram annotations such as <<interface>>
// for placeholders so the tag filter leaves them alone.
func protectAnnotations(s string) (string, []string) {
	var saved []string
	out := annRe.ReplaceAllStringFunc(s, func(m string) string {
		saved = append(saved, m)
		return "\x00" + strconv.Itoa(len(saved)-1) + "\x00"
	})
	return out, saved
}

func restoreAnnotations(s string, saved []string) string {
	if len(saved) == 0 {
		return s
	}
	return holderRe.ReplaceAllStringFunc(s, func(m string) string {
		i, err := strconv.Atoi(strings.Trim(m, "\x00"))
		if err != nil || i >= len(saved) {
			return ""
		}
		return saved[i]
	})
}

func pass(s string) string {
	s = entityRe.ReplaceAllStringFunc(s, decodeBracket)
	s = commentRe.ReplaceAllString(s, "")
	for _, re := range blockPatterns {
		s = re.ReplaceAllString(s, "")
	}
	for _, re := range unclosedPatterns {
		s = re.ReplaceAllString(s, "")
	}
	s = tagRe.ReplaceAllStringFunc(s, policy.Sanitize)
	s = schemeRe.ReplaceAllString(s, "")
	s = clickRe.ReplaceAllString(s, "$1")
	s = initRe.ReplaceAllStringFunc(s, func(d string) string {
		if unsafeConfig(d) {
			return ""
		}
		return d
	})
	return s
}

var suspiciousRe = regexp.MustCompile(`(?i)<\s*/?\s*(?:script|iframe|frame|frameset|object|embed|applet|svg|math|link|meta|base|style|template)\b` +
	`|<[a-z][^>]*\son[a-z]+\s*=` +
	`|` + spaced("javascript") + `:|` + spaced("vbscript") + `:` +
	`|data\s*:\s*text/html`)

// Suspicious reports whether s still contains a construct that a rendering
// sandbox could execute.
func Suspicious(s string) bool {
	return suspiciousRe.MatchString(s)
}

func decodeBracket(e string) string {
	l := strings.ToLower(e)
	if strings.Contains(l, "lt") || strings.Contains(l, "60") || strings.Contains(l, "3c") {
		return "<"
	}
	return ">"
}

// stripFrontMatter drops a leading YAML front-matter block when it tries to
// change security-relevant renderer configuration.
func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	end := strings.Index(s[4:], "\n---")
	if end < 0 {
		return s
	}
	block := s[:4+end]
	if !unsafeConfig(block) {
		return s
	}
	rest := s[4+end+4:]
	return strings.TrimPrefix(rest, "\n")
}

var escapeRe = regexp.MustCompile(`\\(?:u\{([0-9A-Fa-f]{1,6})\}|u([0-9A-Fa-f]{4})|x([0-9A-Fa-f]{2})|U([0-9A-Fa-f]{8}))`)

// unsafeConfig reports whether a configuration block names a
// security-relevant key. JSON, JavaScript and YAML string escapes are
// decoded first so "secur\u0069tyLevel" matches like the plain spelling.
func unsafeConfig(block string) bool {
	decoded := escapeRe.ReplaceAllStringFunc(block, func(m string) string {
		sub := escapeRe.FindStringSubmatch(m)
		for _, hex := range sub[1:] {
			if hex == "" {
				continue
			}
			n, err := strconv.ParseUint(hex, 16, 32)
			if err != nil {
				return ""
			}
			return string(rune(n))
		}
		return ""
	})
	// Any other escape resolves to the escaped character itself.
	decoded = strings.ReplaceAll(decoded, "\\", "")
	return unsafeCfg.MatchString(decoded)
}

func compileBlockPatterns(unclosed bool) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(blockElements))
	for _, el := range blockElements {
		var expr string
		if unclosed {
			expr = `(?is)<\s*` + el + `\b.*`
		} else {
			expr = `(?is)<\s*` + el + `\b[^>]*>.*?<\s*/\s*` + el + `\s*>`
		}
		out = append(out, regexp.MustCompile(expr))
	}
	return out
}

// spaced builds a pattern matching word with optional whitespace between
// letters, which browsers tolerate inside URL schemes.
func spaced(word string) string {
	var b strings.Builder
	for i, r := range word {
		if i > 0 {
			b.WriteString(`\s*`)
		}
		b.WriteRune(r)
	}
	return b.String()
}
