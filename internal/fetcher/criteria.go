package fetcher

import "strings"

const occupationURIPrefix = "http://data.europa.eu/esco/isco/"

// Criteria is the search filter sent with every page request.
type Criteria struct {
	Keywords    []string
	Period      string
	Occupations []string
	Schedules   []string
	Sectors     []string
	Offerings   []string
	Locations   []string
	Languages   []Language
}

type Language struct {
	ISOCode string
	Level   string
}

// Cursor identifies a page of the listing. Pages are 1-based.
type Cursor struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (c Cursor) Next() Cursor {
	return Cursor{Page: c.Page + 1, PageSize: c.PageSize}
}

type keyword struct {
	Keyword            string `json:"keyword"`
	SpecificSearchCode string `json:"specificSearchCode"`
}

type language struct {
	ISOCode string `json:"isoCode"`
	Level   string `json:"level"`
}

type searchRequest struct {
	ResultsPerPage        int        `json:"resultsPerPage"`
	Page                  int        `json:"page"`
	SortSearch            string     `json:"sortSearch"`
	Keywords              []keyword  `json:"keywords"`
	PublicationPeriod     string     `json:"publicationPeriod,omitempty"`
	OccupationURIs        []string   `json:"occupationUris"`
	PositionScheduleCodes []string   `json:"positionScheduleCodes"`
	SectorCodes           []string   `json:"sectorCodes"`
	PositionOfferingCodes []string   `json:"positionOfferingCodes"`
	LocationCodes         []string   `json:"locationCodes"`
	RequiredLanguages     []language `json:"requiredLanguages"`
}

func (c Criteria) request(cur Cursor) searchRequest {
	req := searchRequest{
		ResultsPerPage:        cur.PageSize,
		Page:                  cur.Page,
		SortSearch:            "BEST_MATCH",
		Keywords:              []keyword{},
		PublicationPeriod:     c.Period,
		OccupationURIs:        []string{},
		PositionScheduleCodes: orEmpty(c.Schedules),
		SectorCodes:           orEmpty(c.Sectors),
		PositionOfferingCodes: orEmpty(c.Offerings),
		LocationCodes:         orEmpty(c.Locations),
		RequiredLanguages:     []language{},
	}
	for _, k := range c.Keywords {
		req.Keywords = append(req.Keywords, keyword{Keyword: k, SpecificSearchCode: "EVERYWHERE"})
	}
	for _, o := range c.Occupations {
		if !strings.HasPrefix(o, "http") {
			o = occupationURIPrefix + o
		}
		req.OccupationURIs = append(req.OccupationURIs, o)
	}
	for _, l := range c.Languages {
		req.RequiredLanguages = append(req.RequiredLanguages, language{ISOCode: l.ISOCode, Level: l.Level})
	}
	return req
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
