package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT-family special tokens and the slice of the vocabulary hashed terms map into.
const (
	tokenCLS  = 101
	tokenSEP  = 102
	vocabBase = 1000
	vocabSpan = 29000
)

// Encoding is one text prepared as model input, padded to a fixed length.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Truncated is set when terms were dropped to fit the length.
	Truncated     bool
}

// Tokenizer encodes text into fixed-length model input.
type Tokenizer interface {
	Encode(text string, length int) Encoding
}

// hashTokenizer maps each term to a stable vocabulary bucket. It needs no
// vocabulary file, so only models trained on the same scheme make sense of it.
type hashTokenizer struct{}

func (hashTokenizer) Encode(text string, length int) Encoding {
	if length < 2 {
		length = 256
	}
	enc := Encoding{
		InputIDs:      make([]int64, length),
		AttentionMask: make([]int64, length),
		TokenTypeIDs:  make([]int64, length),
	}

	terms := Terms(text)
	if room := length - 2; len(terms) > room {
		terms = terms[:room]
		enc.Truncated = true
	}

	n := 0
	emit := func(id int64) {
		enc.InputIDs[n] = id
		enc.AttentionMask[n] = 1
		n++
	}
	emit(tokenCLS)
	for _, term := range terms {
		emit(termID(term))
	}
	emit(tokenSEP)
	return enc
}

func termID(term string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return vocabBase + int64(h.Sum32()%vocabSpan)
}

// Terms lowercases text and splits it into runs of letters and digits.
// "$40,000" yields "40" and "000"; "R&D" yields "r" and "d".
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
