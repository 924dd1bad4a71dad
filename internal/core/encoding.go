package core

// encoding.go detects and repairs the text encoding of SIGTAP data files.
//
// The dataset is published in a Western-European 8-bit code page, but
// files occasionally arrive re-saved as UTF-8 or double-encoded. Detection
// scores a fixed candidate list against the first lines of a file:
//
//  1. windows-1252 (historically preferred, gets a small bonus)
//  2. ISO-8859-1   (never fails to decode, used as the fallback)
//  3. UTF-8
//
// A candidate that produces U+FFFD is disqualified. Accented Portuguese
// letters add to the score; mojibake digraphs such as "Ã‡" (an UTF-8 "Ç"
// read through an 8-bit code page) subtract more. Ties keep the earlier
// candidate, so the result is deterministic for a given byte sequence.

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Canonical encoding names.
const (
	EncodingWindows1252 = "windows-1252"
	EncodingLatin1      = "iso-8859-1"
	EncodingUTF8        = "utf-8"
)

// Scoring weights for candidate encodings.
const (
	accentBonus       = 10
	corruptionPenalty = 30
	preferredBonus    = 5
)

// DefaultSampleLines is how many leading lines are decoded per candidate.
const DefaultSampleLines = 20

// Encoding is a named text codec from the supported set.
type Encoding struct {
	Name  string
	codec encoding.Encoding
}

// Decode converts bytes in this encoding to a Go string.
func (e Encoding) Decode(b []byte) (string, error) {
	out, err := e.codec.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrDecode, e.Name, err)
	}
	return string(out), nil
}

// Encode converts a Go string to bytes in this encoding. It fails if a
// rune has no representation in the code page.
func (e Encoding) Encode(s string) ([]byte, error) {
	out, err := e.codec.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s: %v", ErrDecode, e.Name, err)
	}
	return out, nil
}

func (e Encoding) String() string { return e.Name }

// encodingTable is the static table of supported encodings, keyed by
// canonical name and aliases. It is built once and never mutated.
var encodingTable = sync.OnceValue(func() map[string]Encoding {
	cp1252 := Encoding{Name: EncodingWindows1252, codec: charmap.Windows1252}
	latin1 := Encoding{Name: EncodingLatin1, codec: charmap.ISO8859_1}
	utf8Enc := Encoding{Name: EncodingUTF8, codec: unicode.UTF8}

	return map[string]Encoding{
		EncodingWindows1252: cp1252,
		"cp1252":            cp1252,
		"win1252":           cp1252,
		EncodingLatin1:      latin1,
		"latin1":            latin1,
		"latin-1":           latin1,
		"iso8859-1":         latin1,
		EncodingUTF8:        utf8Enc,
		"utf8":              utf8Enc,
	}
})

// LookupEncoding returns a supported encoding by name or alias.
func LookupEncoding(name string) (Encoding, error) {
	enc, ok := encodingTable()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Encoding{}, fmt.Errorf("unsupported encoding %q (supported: %s)",
			name, strings.Join(SupportedEncodings(), ", "))
	}
	return enc, nil
}

// SupportedEncodings returns the canonical names of the supported encodings.
func SupportedEncodings() []string {
	return []string{EncodingWindows1252, EncodingLatin1, EncodingUTF8}
}

// mustEncoding returns a canonical encoding from the static table.
func mustEncoding(name string) Encoding {
	enc, err := LookupEncoding(name)
	if err != nil {
		panic(err)
	}
	return enc
}

// CandidateEncodings returns the detection candidates in preference order.
func CandidateEncodings() []Encoding {
	return []Encoding{
		mustEncoding(EncodingWindows1252),
		mustEncoding(EncodingLatin1),
		mustEncoding(EncodingUTF8),
	}
}

// EncodingDetector picks the best candidate encoding for a data file.
type EncodingDetector struct {
	SampleLines int
	Fallback    Encoding
	Logger      *slog.Logger
}

// NewEncodingDetector creates a detector. fallback names the encoding used
// when no candidate is usable; empty means ISO-8859-1.
func NewEncodingDetector(sampleLines int, fallback string) (*EncodingDetector, error) {
	if sampleLines <= 0 {
		sampleLines = DefaultSampleLines
	}
	if fallback == "" {
		fallback = EncodingLatin1
	}
	fb, err := LookupEncoding(fallback)
	if err != nil {
		return nil, err
	}
	return &EncodingDetector{SampleLines: sampleLines, Fallback: fb}, nil
}

func (d *EncodingDetector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Detect reads the leading lines of a file and returns its encoding.
func (d *EncodingDetector) Detect(path string) (Encoding, error) {
	sample, err := d.ReadSample(path)
	if err != nil {
		return Encoding{}, err
	}

	enc := d.DetectBytes(sample)
	d.logger().Debug("encoding detected", "file", path, "encoding", enc.Name)
	return enc, nil
}

// ReadSample returns the first SampleLines lines of a file.
func (d *EncodingDetector) ReadSample(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	var sample bytes.Buffer
	reader := bufio.NewReader(f)
	for i := 0; i < d.sampleLines(); i++ {
		line, err := reader.ReadBytes('\n')
		sample.Write(line)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
	}
	return sample.Bytes(), nil
}

func (d *EncodingDetector) sampleLines() int {
	if d.SampleLines <= 0 {
		return DefaultSampleLines
	}
	return d.SampleLines
}

// EncodingScore is one candidate's detection result.
type EncodingScore struct {
	Encoding Encoding
	Score    int
	Usable   bool
}

// Scores scores every candidate, in preference order, against the first
// SampleLines lines of data.
func (d *EncodingDetector) Scores(data []byte) []EncodingScore {
	sample := headLines(bytes.TrimPrefix(data, utf8BOM), d.sampleLines())

	candidates := CandidateEncodings()
	scores := make([]EncodingScore, len(candidates))
	for i, candidate := range candidates {
		score, usable := ScoreEncoding(sample, candidate)
		scores[i] = EncodingScore{Encoding: candidate, Score: score, Usable: usable}
	}
	return scores
}

// DetectBytes returns the highest scoring usable candidate for data. Ties
// go to the earlier candidate, so the same bytes always yield the same
// encoding.
func (d *EncodingDetector) DetectBytes(data []byte) Encoding {
	var (
		best  EncodingScore
		found bool
	)
	for _, s := range d.Scores(data) {
		if !s.Usable {
			continue
		}
		if !found || s.Score > best.Score {
			best, found = s, true
		}
	}

	if !found {
		if d.Fallback.codec != nil {
			return d.Fallback
		}
		return mustEncoding(EncodingLatin1)
	}
	return best.Encoding
}

// ScoreEncoding decodes sample with enc and scores the result. usable is
// false when decoding fails or yields replacement characters.
func ScoreEncoding(sample []byte, enc Encoding) (score int, usable bool) {
	text, err := enc.Decode(sample)
	if err != nil || strings.ContainsRune(text, utf8.RuneError) {
		return 0, false
	}

	if containsAccented(text) {
		score += accentBonus
	}
	corrupted := HasCorruption(text)
	if corrupted {
		score -= corruptionPenalty
	}
	if enc.Name == EncodingWindows1252 && !corrupted {
		score += preferredBonus
	}
	return score, true
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// headLines returns the bytes of the first n lines of data.
func headLines(data []byte, n int) []byte {
	end := 0
	for i := 0; i < n && end < len(data); i++ {
		idx := bytes.IndexByte(data[end:], '\n')
		if idx < 0 {
			return data
		}
		end += idx + 1
	}
	return data[:end]
}

const accentedLetters = "áéíóúàâêôãõçüÁÉÍÓÚÀÂÊÔÃÕÇÜ"

func containsAccented(s string) bool {
	return strings.ContainsAny(s, accentedLetters)
}

// cp1252Punctuation holds the runes windows-1252 assigns to 0x80-0x9F.
// After a misread UTF-8 lead byte they mark double-encoded text.
const cp1252Punctuation = "€‚ƒ„…†‡ˆ‰Š‹ŒŽ‘’“”•–—˜™š›œžŸ"

// HasCorruption reports whether s contains a double-encoding digraph: a
// capital A with tilde or circumflex followed by a C1 control, a
// windows-1252 punctuation rune or a Latin-1 symbol (U+0080-U+00BF).
func HasCorruption(s string) bool {
	prev := rune(0)
	for _, r := range s {
		if prev == 'Ã' || prev == 'Â' {
			if (r >= 0x80 && r <= 0xBF) || strings.ContainsRune(cp1252Punctuation, r) {
				return true
			}
		}
		prev = r
	}
	return false
}

// DecodeLines decodes a whole data file and splits it into lines. A UTF-8
// byte order mark is dropped and a trailing empty line is ignored.
func DecodeLines(data []byte, enc Encoding) ([]string, error) {
	text, err := enc.Decode(bytes.TrimPrefix(data, utf8BOM))
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines, nil
}

// LineRepairer re-interprets individual decoded lines that still carry
// double-encoding digraphs. It is a best-effort correction: a line is only
// replaced when the repaired text is valid UTF-8 and free of digraphs.
type LineRepairer struct {
	Enabled bool
	Logger  *slog.Logger

	repaired int
}

// NewLineRepairer creates a repairer. A disabled repairer returns lines
// unchanged.
func NewLineRepairer(enabled bool, logger *slog.Logger) *LineRepairer {
	return &LineRepairer{Enabled: enabled, Logger: logger}
}

// Repair returns the corrected line, or the input if no correction applies.
func (r *LineRepairer) Repair(line string) string {
	if r == nil || !r.Enabled || !HasCorruption(line) {
		return line
	}

	for _, alt := range []string{EncodingWindows1252, EncodingLatin1} {
		raw, err := mustEncoding(alt).Encode(line)
		if err != nil || !utf8.Valid(raw) {
			continue
		}
		fixed := string(raw)
		if HasCorruption(fixed) {
			continue
		}
		r.repaired++
		if r.Logger != nil {
			r.Logger.Debug("line re-decoded", "via", alt, "before", line, "after", fixed)
		}
		return fixed
	}
	return line
}

// Repaired returns how many lines were corrected so far.
func (r *LineRepairer) Repaired() int {
	if r == nil {
		return 0
	}
	return r.repaired
}
