package importer

import "strings"

type Status string

const (
	StatusRegistered Status = "registered"
	StatusCanceled   Status = "canceled"
)

// statusTable maps the export's status column. Keys are upper case.
var statusTable = map[string]Status{
	"FREIGEGEBEN": StatusRegistered,
	"ABGESAGT":    StatusCanceled,
}

// ParseStatus maps raw status text case-insensitively. Unknown text is
// reported with ok == false.
func ParseStatus(raw string) (Status, bool) {
	s, ok := statusTable[strings.ToUpper(strings.TrimSpace(raw))]
	return s, ok
}
