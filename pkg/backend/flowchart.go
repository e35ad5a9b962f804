package backend

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsupportedDiagram is returned by [ParseFlowchart] for diagram types
// other than graph/flowchart.
var ErrUnsupportedDiagram = errors.New("unsupported diagram type")

// NodeShape is the outline a flowchart node is drawn with.
type NodeShape string

const (
	ShapeRect          NodeShape = "rect"
	ShapeRound         NodeShape = "round"
	ShapeStadium       NodeShape = "stadium"
	ShapeSubroutine    NodeShape = "subroutine"
	ShapeCylinder      NodeShape = "cylinder"
	ShapeCircle        NodeShape = "circle"
	ShapeDiamond       NodeShape = "diamond"
	ShapeHexagon       NodeShape = "hexagon"
	ShapeParallelogram NodeShape = "parallelogram"
	ShapeAsymmetric    NodeShape = "asymmetric"
)

// EdgeStyle is the stroke of a flowchart link.
type EdgeStyle string

const (
	EdgeSolid  EdgeStyle = "solid"
	EdgeDotted EdgeStyle = "dotted"
	EdgeThick  EdgeStyle = "thick"
)

// FlowNode is one node of a flowchart.
type FlowNode struct {
	ID      string
	Label   string
	Shape   NodeShape
	Cluster int // index into Flowchart.Clusters, -1 for top level
}

// FlowEdge is one link between two nodes. Head and Tail are Graphviz arrow
// names; empty means no arrow at that end.
type FlowEdge struct {
	From, To string
	Label    string
	Style    EdgeStyle
	Head     string
	Tail     string
}

// Cluster is a subgraph block.
type Cluster struct {
	ID     string
	Title  string
	Parent int
}

// Flowchart is the parsed form of a Mermaid graph/flowchart diagram.
type Flowchart struct {
	Direction string // Graphviz rankdir: TB, BT, LR or RL
	Nodes     []*FlowNode
	Edges     []FlowEdge
	Clusters  []*Cluster

	index map[string]*FlowNode
}

var (
	headerRe   = regexp.MustCompile(`^(?:graph|flowchart(?:-elk)?)(?:\s+(TB|TD|BT|LR|RL))?$`)
	directive  = regexp.MustCompile(`(?s)%%\{.*?\}%%`)
	clusterRe  = regexp.MustCompile(`^([^\s\[]+)\s*\[(.*)\]$`)
	linkRe     = regexp.MustCompile(`^(<)?(-{2,}|={2,}|-\.+-)(>|x|o)?`)
	textOpenRe = regexp.MustCompile(`^(<)?(--|==|-\.)[ \t]`)
	pipeRe     = regexp.MustCompile(`^[ \t]*\|([^|]*)\|`)
	brRe       = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagStripRe = regexp.MustCompile(`<[^>]*>`)

	textClosers = map[string]*regexp.Regexp{
		"--": regexp.MustCompile(`-{2,}[>xo]|-{3,}`),
		"==": regexp.MustCompile(`={2,}[>xo]|={3,}`),
		"-.": regexp.MustCompile(`\.-+[>xo]?`),
	}

	labelEntities = strings.NewReplacer("#quot;", `"`, "#amp;", "&", "#lt;", "<", "#gt;", ">", "#35;", "#")
)

// shapeDelims are tried in order, so longer openers come first.
var shapeDelims = []struct {
	open, close string
	shape       NodeShape
}{
	{"(((", ")))", ShapeCircle},
	{"([", "])", ShapeStadium},
	{"[[", "]]", ShapeSubroutine},
	{"[(", ")]", ShapeCylinder},
	{"((", "))", ShapeCircle},
	{"{{", "}}", ShapeHexagon},
	{"[/", "/]", ShapeParallelogram},
	{`[\`, `\]`, ShapeParallelogram},
	{"[", "]", ShapeRect},
	{"(", ")", ShapeRound},
	{"{", "}", ShapeDiamond},
	{">", "]", ShapeAsymmetric},
}

// ignoredKeywords start statements that only affect styling or interaction.
var ignoredKeywords = []string{"direction", "classDef", "class", "style", "linkStyle", "click", "accTitle", "accDescr"}

// ParseFlowchart parses the Mermaid flowchart subset the in-process backend
// understands. Any other diagram type yields ErrUnsupportedDiagram.
func ParseFlowchart(src string) (*Flowchart, error) {
	stmts := statements(src)
	if len(stmts) == 0 {
		return nil, fmt.Errorf("%w: empty diagram", ErrUnsupportedDiagram)
	}
	m := headerRe.FindStringSubmatch(stmts[0])
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDiagram, firstWord(stmts[0]))
	}

	fc := &Flowchart{Direction: rankdir(m[1]), index: make(map[string]*FlowNode)}
	p := &flowParser{fc: fc}
	for _, s := range stmts[1:] {
		if err := p.statement(s); err != nil {
			return nil, fmt.Errorf("statement %q: %w", s, err)
		}
	}
	if len(p.stack) > 0 {
		return nil, fmt.Errorf("subgraph %q is not closed", fc.Clusters[p.stack[len(p.stack)-1]].ID)
	}
	return fc, nil
}

// ToDOT translates Mermaid flowchart source to Graphviz DOT.
func ToDOT(src string) (string, error) {
	fc, err := ParseFlowchart(src)
	if err != nil {
		return "", err
	}
	return fc.DOT(), nil
}

func rankdir(dir string) string {
	switch dir {
	case "BT", "LR", "RL":
		return dir
	}
	return "TB"
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, unicode.IsSpace); i > 0 {
		return s[:i]
	}
	return s
}

// statements splits source into trimmed statements, dropping comments,
// directives and front matter.
func statements(src string) []string {
	src = directive.ReplaceAllString(src, "")
	src = skipFrontMatter(src)

	var out []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		for _, part := range splitStatements(line) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func skipFrontMatter(s string) string {
	t := strings.TrimLeft(s, " \t\n")
	if !strings.HasPrefix(t, "---\n") {
		return s
	}
	end := strings.Index(t[4:], "\n---")
	if end < 0 {
		return s
	}
	return t[4+end+4:]
}

// splitStatements splits a line on semicolons outside quotes, brackets and
// pipe-delimited link labels.
func splitStatements(line string) []string {
	var (
		parts        []string
		depth, start int
		inQuote      bool
		inPipe       bool
	)
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '|':
			inPipe = !inPipe
		case c == '[' || c == '(' || c == '{':
			depth++
		case c == ']' || c == ')' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0 && !inPipe:
			parts = append(parts, line[start:i])
			start = i + 1
		}
	}
	return append(parts, line[start:])
}

type flowParser struct {
	fc    *Flowchart
	stack []int
}

func (p *flowParser) statement(s string) error {
	switch {
	case s == "end":
		if len(p.stack) == 0 {
			return errors.New("end without subgraph")
		}
		p.stack = p.stack[:len(p.stack)-1]
		return nil
	case hasKeyword(s, "subgraph"):
		p.openCluster(strings.TrimSpace(s[len("subgraph"):]))
		return nil
	}
	for _, kw := range ignoredKeywords {
		if hasKeyword(s, kw) || strings.HasPrefix(s, kw+":") {
			return nil
		}
	}
	return p.chain(s)
}

func hasKeyword(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	return len(s) == len(kw) || s[len(kw)] == ' ' || s[len(kw)] == '\t'
}

func (p *flowParser) current() int {
	if len(p.stack) == 0 {
		return -1
	}
	return p.stack[len(p.stack)-1]
}

func (p *flowParser) openCluster(rest string) {
	c := &Cluster{Parent: p.current()}
	switch m := clusterRe.FindStringSubmatch(rest); {
	case m != nil:
		c.ID, c.Title = m[1], cleanLabel(m[2])
	case strings.HasPrefix(rest, `"`):
		c.Title = cleanLabel(rest)
	default:
		c.ID, c.Title = rest, rest
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("subgraph_%d", len(p.fc.Clusters))
	}
	p.fc.Clusters = append(p.fc.Clusters, c)
	p.stack = append(p.stack, len(p.fc.Clusters)-1)
}

// chain parses "A --> B & C -- text --> D".
func (p *flowParser) chain(s string) error {
	sc := &scanner{s: s}
	prev, err := p.group(sc)
	if err != nil {
		return err
	}
	for {
		sc.skipSpace()
		if sc.done() {
			return nil
		}
		e, err := sc.link()
		if err != nil {
			return err
		}
		sc.skipSpace()
		next, err := p.group(sc)
		if err != nil {
			return err
		}
		for _, from := range prev {
			for _, to := range next {
				edge := e
				edge.From, edge.To = from, to
				p.fc.Edges = append(p.fc.Edges, edge)
			}
		}
		prev = next
	}
}

// group parses "A & B & C" and returns the node IDs.
func (p *flowParser) group(sc *scanner) ([]string, error) {
	var ids []string
	for {
		sc.skipSpace()
		id, label, shape, err := sc.node()
		if err != nil {
			return nil, err
		}
		p.declare(id, label, shape)
		ids = append(ids, id)

		sc.skipSpace()
		if !sc.consume("&") {
			return ids, nil
		}
	}
}

// declare registers a node on first sight; a later shaped mention updates
// its label and shape but not its cluster.
func (p *flowParser) declare(id, label string, shape NodeShape) {
	n, ok := p.fc.index[id]
	if !ok {
		n = &FlowNode{ID: id, Label: id, Shape: ShapeRect, Cluster: p.current()}
		p.fc.index[id] = n
		p.fc.Nodes = append(p.fc.Nodes, n)
	}
	if shape != "" {
		n.Label, n.Shape = label, shape
	}
}

type scanner struct {
	s   string
	pos int
}

func (sc *scanner) done() bool   { return sc.pos >= len(sc.s) }
func (sc *scanner) rest() string { return sc.s[sc.pos:] }

func (sc *scanner) skipSpace() {
	for sc.pos < len(sc.s) && (sc.s[sc.pos] == ' ' || sc.s[sc.pos] == '\t') {
		sc.pos++
	}
}

func (sc *scanner) consume(tok string) bool {
	if strings.HasPrefix(sc.rest(), tok) {
		sc.pos += len(tok)
		return true
	}
	return false
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ident reads a node ID. Dashes and dots are allowed between identifier
// characters so that "node-1" is one ID but "A-->B" is not.
func (sc *scanner) ident() string {
	start := sc.pos
	for sc.pos < len(sc.s) {
		r, size := utf8.DecodeRuneInString(sc.s[sc.pos:])
		if isIdentRune(r) {
			sc.pos += size
			continue
		}
		if (r == '-' || r == '.') && sc.pos+1 < len(sc.s) {
			next, _ := utf8.DecodeRuneInString(sc.s[sc.pos+1:])
			if isIdentRune(next) {
				sc.pos += size
				continue
			}
		}
		break
	}
	return sc.s[start:sc.pos]
}

func (sc *scanner) node() (id, label string, shape NodeShape, err error) {
	id = sc.ident()
	if id == "" {
		return "", "", "", fmt.Errorf("expected node at %q", sc.rest())
	}
	label = id

	for _, d := range shapeDelims {
		if !strings.HasPrefix(sc.rest(), d.open) {
			continue
		}
		body := sc.rest()[len(d.open):]
		text, n, ok := delimited(body, d.close)
		if !ok {
			continue
		}
		sc.pos += len(d.open) + n
		label, shape = cleanLabel(text), d.shape
		break
	}

	if sc.consume(":::") {
		sc.ident()
	}
	return id, label, shape, nil
}

// delimited returns the text before close and the number of bytes consumed
// including close. A leading quoted string may contain the close token.
func delimited(body, close string) (string, int, bool) {
	if strings.HasPrefix(body, `"`) {
		if end := strings.Index(body[1:], `"`); end >= 0 {
			after := body[1+end+1:]
			trimmed := strings.TrimLeft(after, " ")
			if strings.HasPrefix(trimmed, close) {
				consumed := len(body) - len(trimmed) + len(close)
				return body[:1+end+1], consumed, true
			}
		}
	}
	i := strings.Index(body, close)
	if i < 0 {
		return "", 0, false
	}
	return body[:i], i + len(close), true
}

func (sc *scanner) link() (FlowEdge, error) {
	rest := sc.rest()

	if m := textOpenRe.FindStringSubmatch(rest); m != nil {
		body := rest[len(m[0]):]
		if loc := textClosers[m[2]].FindStringIndex(body); loc != nil {
			tok := body[loc[0]:loc[1]]
			e := FlowEdge{
				Label: cleanLabel(body[:loc[0]]),
				Style: edgeStyle(m[2]),
				Head:  arrowHead(tok[len(tok)-1:]),
			}
			if m[1] != "" {
				e.Tail = "normal"
			}
			sc.pos += len(m[0]) + loc[1]
			sc.pipeLabel(&e)
			return e, nil
		}
	}

	m := linkRe.FindStringSubmatch(rest)
	if m == nil {
		return FlowEdge{}, fmt.Errorf("expected link at %q", rest)
	}
	e := FlowEdge{Style: edgeStyle(m[2]), Head: arrowHead(m[3])}
	if m[1] != "" {
		e.Tail = "normal"
	}
	sc.pos += len(m[0])
	sc.pipeLabel(&e)
	return e, nil
}

func (sc *scanner) pipeLabel(e *FlowEdge) {
	if m := pipeRe.FindStringSubmatch(sc.rest()); m != nil {
		e.Label = cleanLabel(m[1])
		sc.pos += len(m[0])
	}
}

func edgeStyle(tok string) EdgeStyle {
	switch {
	case strings.HasPrefix(tok, "="):
		return EdgeThick
	case strings.Contains(tok, "."):
		return EdgeDotted
	}
	return EdgeSolid
}

func arrowHead(c string) string {
	switch c {
	case ">":
		return "normal"
	case "o":
		return "odot"
	case "x":
		return "tee"
	}
	return ""
}

// cleanLabel unquotes a label, turns <br> into line breaks and drops any
// remaining markup, which Graphviz would print verbatim.
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	s = brRe.ReplaceAllString(s, "\n")
	s = tagStripRe.ReplaceAllString(s, "")
	return labelEntities.Replace(s)
}

// DOT renders the flowchart as a Graphviz digraph styled after Mermaid's
// default theme.
func (fc *Flowchart) DOT() string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	fmt.Fprintf(&buf, "  rankdir=%s;\n", fc.Direction)
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"filled\", fillcolor=\"#ECECFF\", color=\"#9370DB\", fontname=\"Helvetica\", fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  edge [color=\"#333333\", fontname=\"Helvetica\", fontsize=12, arrowsize=0.8];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for i, c := range fc.Clusters {
		if c.Parent == -1 {
			fc.writeCluster(&buf, i, "  ")
		}
	}
	for _, n := range fc.Nodes {
		if n.Cluster == -1 {
			writeNode(&buf, n, "  ")
		}
	}

	buf.WriteString("\n")
	for _, e := range fc.Edges {
		fmt.Fprintf(&buf, "  %q -> %q", e.From, e.To)
		if attrs := edgeAttrs(e); len(attrs) > 0 {
			fmt.Fprintf(&buf, " [%s]", strings.Join(attrs, ", "))
		}
		buf.WriteString(";\n")
	}

	buf.WriteString("}\n")
	return buf.String()
}

func (fc *Flowchart) writeCluster(buf *bytes.Buffer, idx int, indent string) {
	c := fc.Clusters[idx]
	fmt.Fprintf(buf, "%ssubgraph \"cluster_%d\" {\n", indent, idx)
	fmt.Fprintf(buf, "%s  label=%q;\n", indent, c.Title)
	fmt.Fprintf(buf, "%s  style=\"rounded,filled\";\n", indent)
	fmt.Fprintf(buf, "%s  fillcolor=\"#FFFFDE\";\n", indent)
	fmt.Fprintf(buf, "%s  color=\"#AAAA33\";\n", indent)
	for i, child := range fc.Clusters {
		if child.Parent == idx {
			fc.writeCluster(buf, i, indent+"  ")
		}
	}
	for _, n := range fc.Nodes {
		if n.Cluster == idx {
			writeNode(buf, n, indent+"  ")
		}
	}
	fmt.Fprintf(buf, "%s}\n", indent)
}

func writeNode(buf *bytes.Buffer, n *FlowNode, indent string) {
	attrs := append([]string{fmt.Sprintf("label=%q", n.Label)}, shapeAttrs(n.Shape)...)
	fmt.Fprintf(buf, "%s%q [%s];\n", indent, n.ID, strings.Join(attrs, ", "))
}

func shapeAttrs(s NodeShape) []string {
	switch s {
	case ShapeRound, ShapeStadium:
		return []string{`style="rounded,filled"`}
	case ShapeSubroutine:
		return []string{"peripheries=2"}
	case ShapeCylinder, ShapeCircle, ShapeDiamond, ShapeHexagon, ShapeParallelogram:
		return []string{"shape=" + string(s)}
	case ShapeAsymmetric:
		return []string{"shape=cds"}
	}
	return nil
}

func edgeAttrs(e FlowEdge) []string {
	var attrs []string
	if e.Label != "" {
		attrs = append(attrs, fmt.Sprintf("label=%q", e.Label))
	}
	switch e.Style {
	case EdgeDotted:
		attrs = append(attrs, "style=dashed")
	case EdgeThick:
		attrs = append(attrs, "penwidth=2")
	}
	if e.Head == "" {
		attrs = append(attrs, "arrowhead=none")
	} else if e.Head != "normal" {
		attrs = append(attrs, "arrowhead="+e.Head)
	}
	if e.Tail != "" {
		attrs = append(attrs, "dir=both", "arrowtail="+e.Tail)
	}
	return attrs
}
