package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"ms-attendance/internal/models"
)

// Column names of the ticket export.
const (
	ColumnUUID    = "Teilnehmer Ticket UUID"
	ColumnName    = "Name"
	ColumnEmail   = "E-Mail"
	ColumnEvent   = "Veranstaltung"
	ColumnStatus  = "Status"
	ColumnComment = "Buchungskommentar"

	metadataPrefix = "Exportiert am"
)

// requiredColumns in the order row fields are checked.
var requiredColumns = []string{ColumnUUID, ColumnName, ColumnEmail, ColumnEvent, ColumnStatus}

// Row is one validated data row of the export.
type Row struct {
	Line      int
	UUID      string
	Name      string
	Email     string
	EventName string
	Comment   string
	Status    Status
}

// Parser turns an export file into validated rows.
type Parser struct {
	validate *validator.Validate
}

func NewParser() *Parser {
	return &Parser{validate: validator.New()}
}

// Parse reads the whole file. It fails on the first invalid row; no row is
// returned unless every row is valid.
func (p *Parser) Parse(r io.Reader) ([]Row, error) {
	text, offset, err := prepare(r)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = ','
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &models.FormatError{Msg: "file contains no header"}
	}
	if err != nil {
		return nil, recordError(err, offset)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, recordError(err, offset)
		}
		line, _ := reader.FieldPos(0)
		row, err := p.parseRecord(record, index, offset+line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// prepare validates the encoding and drops leading blank lines and the
// export metadata line. offset is the number of physical lines removed.
func prepare(r io.Reader) (string, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("read csv: %w", err)
	}
	if !utf8.Valid(data) {
		return "", 0, &models.EncodingError{}
	}
	data, err = unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return "", 0, &models.EncodingError{Err: err}
	}

	text := string(data)
	offset := 0
	text, offset = skipBlankLines(text, offset)
	if text == "" {
		return "", 0, &models.FormatError{Msg: "file is empty"}
	}

	first, rest := cutLine(text)
	if strings.HasPrefix(normalizeMetadataLine(first), metadataPrefix) {
		text = rest
		offset++
		text, offset = skipBlankLines(text, offset)
		if text == "" {
			return "", 0, &models.FormatError{Msg: "file contains no header after the export line"}
		}
	}
	return text, offset, nil
}

func cutLine(text string) (string, string) {
	line, rest, found := strings.Cut(text, "\n")
	if !found {
		return text, ""
	}
	return strings.TrimSuffix(line, "\r"), rest
}

func skipBlankLines(text string, offset int) (string, int) {
	for text != "" {
		line, rest := cutLine(text)
		if strings.TrimSpace(line) != "" {
			break
		}
		text = rest
		offset++
	}
	return text, offset
}

// normalizeMetadataLine trims whitespace and one pair of surrounding quotes.
func normalizeMetadataLine(line string) string {
	s := strings.TrimSpace(line)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	blank := true
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name != "" {
			blank = false
		}
		index[name] = i
	}
	if blank {
		return nil, &models.FormatError{Msg: "file contains no header"}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &models.FormatError{Missing: missing}
	}
	return index, nil
}

func recordError(err error, offset int) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &models.RowError{Line: offset + parseErr.Line, Field: "record", Msg: parseErr.Err.Error()}
	}
	return fmt.Errorf("read csv: %w", err)
}

func (p *Parser) parseRecord(record []string, index map[string]int, line int) (Row, error) {
	field := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	for _, col := range requiredColumns {
		if field(col) == "" {
			return Row{}, &models.RowError{Line: line, Field: col, Msg: "empty required field"}
		}
	}

	rawUUID := field(ColumnUUID)
	id, err := uuid.Parse(rawUUID)
	if err != nil {
		return Row{}, &models.RowError{Line: line, Field: ColumnUUID, Value: rawUUID, Msg: "invalid ticket uuid"}
	}

	email := field(ColumnEmail)
	if err := p.validate.Var(email, "email"); err != nil {
		return Row{}, &models.RowError{Line: line, Field: ColumnEmail, Value: email, Msg: "invalid email"}
	}

	rawStatus := field(ColumnStatus)
	status, ok := ParseStatus(rawStatus)
	if !ok {
		return Row{}, &models.RowError{Line: line, Field: ColumnStatus, Value: rawStatus, Msg: "unknown status"}
	}

	return Row{
		Line:      line,
		UUID:      id.String(),
		Name:      field(ColumnName),
		Email:     email,
		EventName: field(ColumnEvent),
		Comment:   field(ColumnComment),
		Status:    status,
	}, nil
}
