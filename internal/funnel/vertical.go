package funnel

import (
	"fmt"
	"strings"
)

type Vertical string

const (
	VerticalIsprava     Vertical = "isprava"
	VerticalLohonoStays Vertical = "lohono_stays"
	VerticalTheChapter  Vertical = "the_chapter"
	VerticalSolene      Vertical = "solene"
)

// Verticals lists every business line in display order.
var Verticals = []Vertical{VerticalIsprava, VerticalLohonoStays, VerticalTheChapter, VerticalSolene}

func ParseVertical(s string) (Vertical, error) {
	v := Vertical(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := verticalSchemas[v]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown vertical %q", s)
}

// schema names the tables and columns a vertical's funnel lives in. All
// values are fixed identifiers, never caller input.
type schema struct {
	opportunities  string
	enquirySource  string // value of enquiries.vertical for this business line
	locationColumn string
	prospectColumn string
	accountColumn  string
	saleColumn     string
}

var verticalSchemas = map[Vertical]schema{
	VerticalIsprava: {
		opportunities:  "development_opportunities",
		enquirySource:  "isprava",
		locationColumn: "location",
		prospectColumn: "prospect_at",
		accountColumn:  "account_at",
		saleColumn:     "maal_laao_at",
	},
	VerticalLohonoStays: {
		opportunities:  "rental_opportunities",
		enquirySource:  "lohono_stays",
		locationColumn: "destination",
		prospectColumn: "qualified_at",
		accountColumn:  "quoted_at",
		saleColumn:     "booked_at",
	},
	VerticalTheChapter: {
		opportunities:  "chapter_opportunities",
		enquirySource:  "the_chapter",
		locationColumn: "location",
		prospectColumn: "prospect_at",
		accountColumn:  "account_at",
		saleColumn:     "maal_laao_at",
	},
	VerticalSolene: {
		opportunities:  "solene_opportunities",
		enquirySource:  "solene",
		locationColumn: "location",
		prospectColumn: "prospect_at",
		accountColumn:  "account_at",
		saleColumn:     "maal_laao_at",
	},
}

const enquiriesTable = "enquiries"
