// Package render turns heterogeneous agent output JSON into a structured
// document: fixed-order question sections, extracted MCQ options, blank
// answer affordances for low grade levels, and a trailing answer key. Live
// results and public shared views render through the same path.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

// Context carries per-render settings from the owning page.
type Context struct {
	// GradeLevel enables blank answer affordances when between 1 and 4.
	// Zero means not supplied.
	GradeLevel int
}

// Option is one multiple-choice option. Letter is always lowercase a..d.
type Option struct {
	Letter string
	Text   string
}

// Question is one rendered question entry. When Err is non-empty the entry
// failed to render and the other fields are empty; the rest of the document
// is unaffected.
type Question struct {
	Label      string
	Text       string
	Options    []Option
	BlankLines int
	Err        string
}

// Section is one question section of the document.
type Section struct {
	Key       string
	Letter    string
	Title     string
	Questions []Question
}

// Heading returns the section's display heading, e.g.
// "SECTION A: MULTIPLE CHOICE QUESTIONS".
func (s Section) Heading() string {
	return fmt.Sprintf("SECTION %s: %s", s.Letter, s.Title)
}

// Answer is one entry of the answer key.
type Answer struct {
	Key   string
	Value string
}

// Document is the rendered form of one agent output.
type Document struct {
	Sections []Section
	Answers  []Answer
	// Plain holds free-form output that carries none of the known
	// sections. Empty when Sections or Answers are populated.
	Plain string
}

// Empty reports whether the document has nothing to show.
func (d Document) Empty() bool {
	return len(d.Sections) == 0 && len(d.Answers) == 0 && d.Plain == ""
}

type sectionSpec struct {
	key        string
	letter     string
	title      string
	blankLines int
}

// Canonical section order A through H. blankLines is the affordance
// emitted for optionless questions at grade level 4 and below.
var sectionSpecs = []sectionSpec{
	{"MCQs", "A", "MULTIPLE CHOICE QUESTIONS", 1},
	{"True_False_Questions", "B", "TRUE/FALSE QUESTIONS", 1},
	{"Fill_in_the_Blanks", "C", "FILL IN THE BLANKS", 1},
	{"Very_Short_Answers", "D", "VERY SHORT ANSWERS", 1},
	{"Short_Answers", "E", "SHORT ANSWERS", 3},
	{"Long_Answers", "F", "LONG ANSWERS", 6},
	{"Very_Long_Answers", "G", "VERY LONG ANSWERS", 10},
	{"Case_Studies", "H", "CASE STUDIES", 6},
}

const questionErrPlaceholder = "This question could not be displayed."

// Render converts raw agent output into a Document. It never fails: bad
// questions become inline placeholders and unrecognized output falls back
// to a plain-text rendering.
func Render(raw []byte, rctx Context) Document {
	value, dt, _, err := jsonparser.Get(raw)
	if err != nil || dt == jsonparser.NotExist || dt == jsonparser.Null {
		return Document{}
	}

	// Latest revision wins: an array output renders only its first element.
	if dt == jsonparser.Array {
		value, dt = firstElement(value)
		if dt == jsonparser.NotExist {
			return Document{}
		}
	}

	if dt == jsonparser.String {
		s, perr := jsonparser.ParseString(value)
		if perr != nil {
			s = string(value)
		}
		return Document{Plain: s}
	}
	if dt != jsonparser.Object {
		return Document{Plain: string(value)}
	}

	doc := Document{}
	for _, spec := range sectionSpecs {
		items, idt, _, _ := jsonparser.Get(value, spec.key)
		if idt != jsonparser.Array {
			continue
		}
		section := Section{Key: spec.key, Letter: spec.letter, Title: spec.title}
		jsonparser.ArrayEach(items, func(item []byte, itemType jsonparser.ValueType, _ int, _ error) {
			section.Questions = append(section.Questions, renderQuestion(item, itemType, spec, rctx))
		})
		if len(section.Questions) > 0 {
			doc.Sections = append(doc.Sections, section)
		}
	}

	doc.Answers = renderAnswers(value)

	if len(doc.Sections) == 0 && len(doc.Answers) == 0 {
		doc.Plain = string(value)
	}
	return doc
}

// firstElement returns an array's first element and its type.
func firstElement(arr []byte) ([]byte, jsonparser.ValueType) {
	var first []byte
	firstType := jsonparser.NotExist
	jsonparser.ArrayEach(arr, func(value []byte, dt jsonparser.ValueType, _ int, _ error) {
		if firstType == jsonparser.NotExist {
			first, firstType = value, dt
		}
	})
	return first, firstType
}

func renderQuestion(item []byte, itemType jsonparser.ValueType, spec sectionSpec, rctx Context) Question {
	// Question entries are sometimes wrapped in a single-element array.
	if itemType == jsonparser.Array {
		item, itemType = firstElement(item)
	}

	var q Question
	switch itemType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(item)
		if err != nil {
			return Question{Err: questionErrPlaceholder}
		}
		q.Text = s
	case jsonparser.Object:
		label, text, ok := firstKeyValue(item)
		if !ok {
			return Question{Err: questionErrPlaceholder}
		}
		q.Label = label
		q.Text = text
		q.Options = explicitOptions(item)
	default:
		return Question{Err: questionErrPlaceholder}
	}

	if len(q.Options) == 0 {
		q.Text, q.Options = splitEmbeddedOptions(q.Text)
	}
	if len(q.Options) == 0 && rctx.GradeLevel >= 1 && rctx.GradeLevel <= 4 {
		q.BlankLines = spec.blankLines
	}
	return q
}

// firstKeyValue returns an object's first declared key and its value as a
// string. Key order follows the document, not any sorted order; producers
// rely on the first key being the question label.
func firstKeyValue(obj []byte) (key, value string, ok bool) {
	err := jsonparser.ObjectEach(obj, func(k []byte, v []byte, dt jsonparser.ValueType, _ int) error {
		key = string(k)
		value = stringify(v, dt)
		ok = true
		return errStopIteration
	})
	if err != nil && err != errStopIteration {
		return "", "", false
	}
	return key, value, ok
}

var errStopIteration = fmt.Errorf("render: stop iteration")

// explicitOptions reads a question's own options object, if any.
func explicitOptions(obj []byte) []Option {
	for _, key := range []string{"options", "Options"} {
		raw, dt, _, _ := jsonparser.Get(obj, key)
		if dt != jsonparser.Object {
			continue
		}
		var opts []Option
		jsonparser.ObjectEach(raw, func(k []byte, v []byte, vdt jsonparser.ValueType, _ int) error {
			opts = append(opts, Option{
				Letter: strings.ToLower(string(k)),
				Text:   stringify(v, vdt),
			})
			return nil
		})
		if len(opts) > 0 {
			return opts
		}
	}
	return nil
}

func stringify(v []byte, dt jsonparser.ValueType) string {
	if dt == jsonparser.String {
		if s, err := jsonparser.ParseString(v); err == nil {
			return s
		}
	}
	return string(v)
}

var (
	// optionsSplitRe locates the literal Options/Option introducer.
	optionsSplitRe = regexp.MustCompile(`(?i)\boptions?\s*:`)
	// optionLineRe matches a line that is one whole option.
	optionLineRe = regexp.MustCompile(`^([A-Da-d])[).]\s*(.*)$`)
	// optionMarkerRe locates option markers inside a run of text.
	optionMarkerRe = regexp.MustCompile(`(?:^|\s)([A-Da-d])[).]\s*`)
)

// splitEmbeddedOptions extracts an "Options:" block embedded in question
// text. The returned text is everything before the introducer.
func splitEmbeddedOptions(text string) (string, []Option) {
	loc := optionsSplitRe.FindStringIndex(text)
	if loc == nil {
		return text, nil
	}
	question := strings.TrimSpace(text[:loc[0]])
	block := text[loc[1]:]

	if opts := optionsByLine(block); len(opts) > 0 {
		return question, opts
	}
	if opts := optionsByMarkerScan(block); len(opts) > 0 {
		return question, opts
	}
	return text, nil
}

// optionsByLine treats each line holding exactly one option marker as one
// option. A line carrying several markers disqualifies itself so the
// marker scan can split it instead.
func optionsByLine(block string) []Option {
	var opts []Option
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		m := optionLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if len(optionMarkerRe.FindAllString(" "+line, -1)) != 1 {
			return nil
		}
		opts = append(opts, Option{
			Letter: strings.ToLower(m[1]),
			Text:   strings.TrimSpace(m[2]),
		})
	}
	return opts
}

// optionsByMarkerScan splits a whole block on option markers, so inline
// runs like "A) 3 B) 4 C) 5" come apart.
func optionsByMarkerScan(block string) []Option {
	matches := optionMarkerRe.FindAllStringSubmatchIndex(block, -1)
	if len(matches) == 0 {
		return nil
	}
	var opts []Option
	for i, m := range matches {
		end := len(block)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		opts = append(opts, Option{
			Letter: strings.ToLower(block[m[2]:m[3]]),
			Text:   strings.TrimSpace(block[m[1]:end]),
		})
	}
	return opts
}

// renderAnswers flattens a top-level Answers object into an ordered key
// value list. Entry failures become inline placeholders.
func renderAnswers(obj []byte) []Answer {
	raw, dt, _, _ := jsonparser.Get(obj, "Answers")
	if dt != jsonparser.Object {
		return nil
	}
	var answers []Answer
	jsonparser.ObjectEach(raw, func(k []byte, v []byte, vdt jsonparser.ValueType, _ int) error {
		a := Answer{Key: string(k)}
		switch vdt {
		case jsonparser.String, jsonparser.Number, jsonparser.Boolean:
			a.Value = stringify(v, vdt)
		default:
			a.Value = questionErrPlaceholder
		}
		answers = append(answers, a)
		return nil
	})
	return answers
}

// Text renders the document as display text, one block per section.
func (d Document) Text() string {
	if d.Plain != "" {
		return d.Plain
	}
	var b strings.Builder
	for si, s := range d.Sections {
		if si > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.Heading())
		b.WriteString("\n")
		for i, q := range s.Questions {
			if q.Err != "" {
				b.WriteString(q.Err)
				b.WriteString("\n")
				continue
			}
			label := q.Label
			if label == "" {
				label = strconv.Itoa(i + 1)
			}
			fmt.Fprintf(&b, "%s. %s\n", label, q.Text)
			for _, opt := range q.Options {
				fmt.Fprintf(&b, "   %s) %s\n", opt.Letter, opt.Text)
			}
			for n := 0; n < q.BlankLines; n++ {
				b.WriteString("   ________________________\n")
			}
		}
	}
	if len(d.Answers) > 0 {
		if len(d.Sections) > 0 {
			b.WriteString("\n")
		}
		b.WriteString("ANSWERS\n")
		for _, a := range d.Answers {
			fmt.Fprintf(&b, "%s: %s\n", a.Key, a.Value)
		}
	}
	return b.String()
}
