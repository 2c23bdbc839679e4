package app

import "strings"

type ChunkUnit string

const (
	UnitChars  ChunkUnit = "chars"
	UnitTokens ChunkUnit = "tokens"
)

// ClassFilterAll disables label filtering.
const ClassFilterAll = "all"

// ProcessOptions tunes how extracted text becomes training records. Splitting
// is purely positional: identical text and options always yield identical
// windows.
type ProcessOptions struct {
	ChunkSize    int       `json:"chunk_size"`
	Overlap      int       `json:"overlap"`
	Unit         ChunkUnit `json:"unit"`
	OutputFormat string    `json:"output_format"`
	ClassFilter  string    `json:"class_filter"`
}

func (o *ProcessOptions) normalize() {
	if o.ChunkSize == 0 {
		o.ChunkSize = 512
		if o.Overlap == 0 {
			o.Overlap = 64
		}
	}
	if o.Unit == "" {
		o.Unit = UnitChars
	}
	if o.OutputFormat == "" {
		o.OutputFormat = "jsonl"
	}
	if o.ClassFilter == "" {
		o.ClassFilter = ClassFilterAll
	}
}

func (o ProcessOptions) validate() error {
	if o.ChunkSize <= 0 {
		return ErrInvalidInput
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return ErrInvalidInput
	}
	switch o.Unit {
	case UnitChars, UnitTokens:
	default:
		return ErrInvalidInput
	}
	switch o.OutputFormat {
	case "jsonl", "json":
	default:
		return ErrInvalidInput
	}
	return nil
}

// Record is one chunked, possibly labeled text segment.
type Record struct {
	Text           string `json:"text"`
	SourceDocument string `json:"source_document"`
	ChunkIndex     int    `json:"chunk_index"`
	Label          string `json:"label,omitempty"`
}

// Processor turns extracted text into training records.
type Processor struct {
	classifier Classifier
}

func NewProcessor(classifier Classifier) *Processor {
	return &Processor{classifier: classifier}
}

// Process splits text into overlapping windows and returns a lazy sequence.
// Consumers may stop pulling at any point without further cost.
func (p *Processor) Process(text, sourceDocument string, opts ProcessOptions) (*RecordSeq, error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var units []string
	switch opts.Unit {
	case UnitTokens:
		units = strings.Fields(text)
	default:
		runes := []rune(text)
		units = make([]string, len(runes))
		for i, r := range runes {
			units[i] = string(r)
		}
	}

	return &RecordSeq{
		processor:      p,
		units:          units,
		sourceDocument: sourceDocument,
		opts:           opts,
	}, nil
}

// RecordSeq yields records one at a time. It is restartable via Reset and
// finite: Next returns false once the text is exhausted.
type RecordSeq struct {
	processor      *Processor
	units          []string
	sourceDocument string
	opts           ProcessOptions

	pos        int
	chunkIndex int
	done       bool
}

// Next returns the next record that passes the class filter. Windows that the
// filter drops still consume a chunk index, so indices stay stable regardless
// of the filter value.
func (s *RecordSeq) Next() (Record, bool) {
	sep := ""
	if s.opts.Unit == UnitTokens {
		sep = " "
	}
	step := s.opts.ChunkSize - s.opts.Overlap

	for !s.done && s.pos < len(s.units) {
		end := s.pos + s.opts.ChunkSize
		if end > len(s.units) {
			end = len(s.units)
		}
		text := strings.Join(s.units[s.pos:end], sep)
		index := s.chunkIndex

		s.chunkIndex++
		if end == len(s.units) {
			s.done = true
		} else {
			s.pos += step
		}

		label := ""
		if s.processor.classifier != nil {
			label = s.processor.classifier.Label(text)
		}
		if s.opts.ClassFilter != ClassFilterAll && label != s.opts.ClassFilter {
			continue
		}

		return Record{
			Text:           text,
			SourceDocument: s.sourceDocument,
			ChunkIndex:     index,
			Label:          label,
		}, true
	}
	return Record{}, false
}

// Reset rewinds the sequence to the first window.
func (s *RecordSeq) Reset() {
	s.pos = 0
	s.chunkIndex = 0
	s.done = false
}

// Collect drains the sequence. limit <= 0 means no cap.
func (s *RecordSeq) Collect(limit int) []Record {
	var out []Record
	for {
		if limit > 0 && len(out) >= limit {
			return out
		}
		rec, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}
